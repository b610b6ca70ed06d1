package config

import (
	"fmt"

	"github.com/mitchellh/hashstructure"
)

// ComputeVersion hashes a Snapshot's routing content (not its Version or
// BuiltAt fields, which would make the hash depend on itself) into a
// stable version string. A config reloader calls this once per build
// and assigns the result to Snapshot.Version, so two reloads that
// produce identical routing content collapse to the same version
// (spec.md section 3 "Snapshot... Version").
func ComputeVersion(binds []*Bind) (string, error) {
	h, err := hashstructure.Hash(binds, nil)
	if err != nil {
		return "", fmt.Errorf("config: hash snapshot: %w", err)
	}
	return fmt.Sprintf("%x", h), nil
}
