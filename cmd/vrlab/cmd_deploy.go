package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vrlab-network/vrlab/pkg/deploy"
	"github.com/vrlab-network/vrlab/pkg/ifmap"
)

func newDeployCmd() *cobra.Command {
	var ef engineFlags

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy and verify a topology",
		Long: `Deploy creates the topology's nodes, establishes every connection, and
verifies observed state before reporting anything as up.

Re-running a deploy against an already-deployed lab is safe: existing nodes
are adopted and bindings already in place are left alone.

  vrlab deploy -f topology.yaml
  vrlab deploy -f topology.yaml --cross-check --ssh-key ~/.ssh/id_ed25519`,
		RunE: func(cmd *cobra.Command, args []string) error {
			topo, err := loadTopology()
			if err != nil {
				return err
			}
			client, err := newClient()
			if err != nil {
				return err
			}

			engine := deploy.New(client, ifmap.DefaultResolver(), ef.options())
			if ef.crossCheck {
				host, err := ef.hostChecker()
				if err != nil {
					return err
				}
				engine = engine.WithHostChecker(host)
			}

			// SIGINT stops new work; connections already in flight finish and
			// the report covers everything.
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			report, err := engine.Deploy(ctx, topo)
			if err != nil {
				return err
			}
			if err := renderReport(report, ef.jsonOutput); err != nil {
				return err
			}
			if report.Failed {
				return fmt.Errorf("deploy failed: %d of %d connections not established",
					len(report.FailedConnections()), len(report.Connections))
			}
			return nil
		},
	}

	ef.register(cmd)
	return cmd
}
