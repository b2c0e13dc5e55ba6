package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vrlab-network/vrlab/pkg/cli"
	"github.com/vrlab-network/vrlab/pkg/ifmap"
)

func newPlatformsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "platforms",
		Short: "List built-in platform interface tables",
		Long: `Platforms prints every built-in platform and its interface-name to
control-plane-index table. A topology may only reference platforms listed
here; anything else fails with a mapping error rather than a guessed index.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver := ifmap.DefaultResolver()

			for _, platform := range resolver.Platforms() {
				names, _ := resolver.Profile(platform)
				count, _ := resolver.InterfaceCount(platform)
				fmt.Printf("%s (%d indices, %d interfaces)\n",
					cli.Bold(platform), count, len(names))

				tbl := cli.NewTable("INTERFACE", "INDEX").WithPrefix("  ")
				for _, name := range names {
					index, err := resolver.Resolve(platform, name)
					if err != nil {
						continue
					}
					tbl.Row(name, fmt.Sprint(index))
				}
				tbl.Flush()
				fmt.Println()
			}
			return nil
		},
	}
}
