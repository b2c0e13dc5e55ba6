// vrlab — topology deployment and verification for virtual router labs
//
// vrlab reads a declarative topology YAML and drives the virtualization
// host's REST control plane to realize it: nodes are created, point-to-point
// links and management attachments are established, and every binding is
// verified against observed state before it is reported as up.
//
// Usage:
//
//	vrlab deploy -f topology.yaml     Deploy and verify a topology
//	vrlab verify -f topology.yaml     Re-check an existing lab (read-only)
//	vrlab status -f topology.yaml     Show per-node interface bindings
//	vrlab platforms                   List built-in interface tables
//	vrlab settings set <key> <value>  Persist defaults under ~/.vrlab
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vrlab-network/vrlab/pkg/settings"
	"github.com/vrlab-network/vrlab/pkg/util"
	"github.com/vrlab-network/vrlab/pkg/version"
)

var (
	topoFile    string
	hostURL     string
	apiKey      string
	labOverride string
	verbose     bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:               "vrlab",
	Short:             "Topology deployment and verification for virtual router labs",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	Long: `vrlab deploys declarative router topologies onto a virtualization host.

A deploy is only reported as up after verification: the engine re-queries
observed interface state and compares it against intent, connection by
connection.

  vrlab deploy -f topology.yaml`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			return util.SetLogLevel("debug")
		}
		return util.SetLogLevel("warn")
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&topoFile, "file", "f", "", "topology YAML file")
	rootCmd.PersistentFlags().StringVarP(&hostURL, "host", "H", "", "control-plane base URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "control-plane API key")
	rootCmd.PersistentFlags().StringVarP(&labOverride, "lab", "l", "", "lab name (overrides the topology file)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(
		newDeployCmd(),
		newVerifyCmd(),
		newStatusCmd(),
		newPlatformsCmd(),
		newSettingsCmd(),
		newVersionCmd(),
	)
}

// resolveHostURL resolves the control plane from: -H flag > VRLAB_HOST env > settings > error.
func resolveHostURL() (string, error) {
	if hostURL != "" {
		return hostURL, nil
	}
	if v := os.Getenv("VRLAB_HOST"); v != "" {
		return v, nil
	}
	if s, err := settings.Load(); err == nil && s.HostURL != "" {
		return s.HostURL, nil
	}
	return "", fmt.Errorf("control-plane URL required: use -H <url>, set VRLAB_HOST, or run 'vrlab settings set host <url>'")
}

// resolveAPIKey resolves the API key from: flag > VRLAB_API_KEY env > settings.
func resolveAPIKey() string {
	if apiKey != "" {
		return apiKey
	}
	if v := os.Getenv("VRLAB_API_KEY"); v != "" {
		return v
	}
	if s, err := settings.Load(); err == nil {
		return s.APIKey
	}
	return ""
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			if version.Version == "dev" {
				fmt.Println("vrlab dev build (use 'make build' for version info)")
			} else {
				fmt.Printf("vrlab %s (%s)\n", version.Version, version.GitCommit)
			}
		},
	}
}
