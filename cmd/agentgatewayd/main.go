// Command agentgatewayd is a minimal entrypoint wiring the core
// packages together for local/manual testing (spec.md section 1: "a
// minimal cmd/agentgatewayd that wires everything together... does not
// implement a config schema compiler or xDS client"). Config loading,
// the admin/metrics/readiness servers, and certificate provisioning
// remain external collaborators this binary does not implement.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/kgateway-dev/agentgatewayd/internal/appctx"
	"github.com/kgateway-dev/agentgatewayd/internal/config"
	"github.com/kgateway-dev/agentgatewayd/internal/gateway"
	"github.com/kgateway-dev/agentgatewayd/internal/listener"
	"github.com/kgateway-dev/agentgatewayd/internal/logging"
	"github.com/kgateway-dev/agentgatewayd/internal/policy"
)

var logger = logging.New("agentgatewayd")

// version is set at build time via -ldflags (matching the teacher's
// cobra version-command convention); left at "dev" for an unlabeled
// build.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "agentgatewayd",
		Short: "application-layer gateway data plane",
	}
	root.AddCommand(newRunCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	}
}

func newRunCmd() *cobra.Command {
	var emptyDiscovery bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "run the gateway against an empty, discovery-less snapshot",
		Long: "run starts the listener group with no configured binds by default; it " +
			"exists to exercise the wiring end to end (appctx, gateway, listener) " +
			"since config loading is an external collaborator this binary does not implement.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateway(cmd.Context(), emptyDiscovery)
		},
	}
	cmd.Flags().BoolVar(&emptyDiscovery, "empty-discovery", true, "use a discovery snapshot with no endpoints")
	return cmd
}

// staticDiscovery always reports no endpoints; a real deployment wires
// a discovery client here (spec.md section 1 "does not perform service
// discovery itself").
type staticDiscovery struct{}

func (staticDiscovery) EndpointsFor(string, int) []config.Endpoint { return nil }

func runGateway(ctx context.Context, _ bool) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := policy.NewPrometheusMetrics(prometheus.DefaultRegisterer)
	app := appctx.New(appctx.Options{Discovery: staticDiscovery{}, Metrics: metrics})
	defer app.Close()

	gw := gateway.New(app)
	gw.Reload(&config.Snapshot{})

	group := listener.NewGroup()
	logger.Info("agentgatewayd started", "version", version)

	err := group.Run(ctx)
	if err != nil {
		logger.Error("listener group exited with error", "error", err)
		return err
	}
	logger.Info("agentgatewayd shut down")
	return nil
}
