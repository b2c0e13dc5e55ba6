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

func newVerifyCmd() *cobra.Command {
	var ef engineFlags

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Re-check an existing lab without changing it",
		Long: `Verify compares a deployed lab against the topology file: nodes are looked
up (never created), no networks are created, and no binds are issued.
Connections matching intent report already-satisfied.

  vrlab verify -f topology.yaml
  vrlab verify -f topology.yaml --cross-check`,
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

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			report, err := engine.Verify(ctx, topo)
			if err != nil {
				return err
			}
			if err := renderReport(report, ef.jsonOutput); err != nil {
				return err
			}
			if report.Failed {
				return fmt.Errorf("verify failed: %d of %d connections do not match intent",
					len(report.FailedConnections()), len(report.Connections))
			}
			return nil
		},
	}

	ef.register(cmd)
	return cmd
}
