// Package hbone implements the HBONE tunnel pool (spec.md section 4.4):
// a keyed pool of HTTP/2 connections, each multiplexing many CONNECT
// streams to an mTLS-authenticated destination.
package hbone

import (
	"sort"
	"strings"
)

// Key identifies one pool entry: a destination socket address plus the
// set of peer identities acceptable on that connection. Two keys with
// overlapping-but-unequal identity sets are distinct pool entries
// (spec.md section 4.4 "Pool key").
type Key struct {
	Address    string
	Identities string // canonical: sorted, comma-joined
}

// NewKey canonicalizes identities (order-independent, deduplicated) so
// two callers naming the same set in different orders hash to the same
// pool entry.
func NewKey(address string, identities []string) Key {
	uniq := map[string]struct{}{}
	for _, id := range identities {
		uniq[id] = struct{}{}
	}
	sorted := make([]string, 0, len(uniq))
	for id := range uniq {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)
	return Key{Address: address, Identities: strings.Join(sorted, ",")}
}

func (k Key) String() string {
	return k.Address + "|" + k.Identities
}
