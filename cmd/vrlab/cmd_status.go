package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/vrlab-network/vrlab/pkg/cli"
	"github.com/vrlab-network/vrlab/pkg/controlplane"
	"github.com/vrlab-network/vrlab/pkg/ifmap"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show per-node interface bindings",
		Long: `Status lists the observed interface bindings for every node named in the
topology file, straight from the control plane. No comparison against
intent is made; use verify for that.

  vrlab status -f topology.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			topo, err := loadTopology()
			if err != nil {
				return err
			}
			client, err := newClient()
			if err != nil {
				return err
			}
			resolver := ifmap.DefaultResolver()
			ctx := cmd.Context()

			type row struct {
				Node      string                   `json:"node"`
				Interface string                   `json:"interface"`
				Index     int                      `json:"index"`
				Network   *controlplane.NetworkID  `json:"network,omitempty"`
			}
			var rows []row

			for _, n := range topo.Nodes {
				info, err := client.FindNode(ctx, topo.Lab, n.Name)
				if err != nil {
					fmt.Fprintf(os.Stderr, "%s %s: %v\n", cli.Yellow("!"), n.Name, err)
					continue
				}
				snap, err := client.GetInterfaces(ctx, topo.Lab, info.ID)
				if err != nil {
					fmt.Fprintf(os.Stderr, "%s %s: %v\n", cli.Yellow("!"), n.Name, err)
					continue
				}

				indices := make([]int, 0, len(snap))
				for i := range snap {
					indices = append(indices, i)
				}
				sort.Ints(indices)

				for _, i := range indices {
					st := snap[i]
					name := st.Name
					if name == "" {
						name, _ = resolver.InterfaceName(n.Platform, i)
					}
					r := row{Node: n.Name, Interface: name, Index: i}
					if st.Bound {
						net := st.Network
						r.Network = &net
					}
					rows = append(rows, r)
				}
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}

			tbl := cli.NewTable("NODE", "INTERFACE", "INDEX", "NETWORK")
			for _, r := range rows {
				net := cli.Dim("-")
				if r.Network != nil {
					net = fmt.Sprint(*r.Network)
				}
				tbl.Row(r.Node, r.Interface, fmt.Sprint(r.Index), net)
			}
			tbl.Flush()
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "JSON output")
	return cmd
}
