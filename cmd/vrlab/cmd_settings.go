package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/vrlab-network/vrlab/pkg/settings"
)

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Manage persistent defaults",
		Long: `Settings persists per-user defaults under ~/.vrlab/settings.json.

Keys: host, api-key, lab, ssh-user, ssh-key, node-workers, link-workers

  vrlab settings set host https://vhost1.lab:443
  vrlab settings set ssh-key ~/.ssh/id_ed25519
  vrlab settings show`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print current settings",
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := settings.Load()
				if err != nil {
					return err
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(s)
			},
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Set one setting and save",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := settings.Load()
				if err != nil {
					return err
				}
				key, value := args[0], args[1]
				switch key {
				case "host":
					s.HostURL = value
				case "api-key":
					s.APIKey = value
				case "lab":
					s.DefaultLab = value
				case "ssh-user":
					s.SSHUser = value
				case "ssh-key":
					s.SSHKeyFile = value
				case "node-workers", "link-workers":
					n, err := strconv.Atoi(value)
					if err != nil {
						return fmt.Errorf("%s: %q is not a number", key, value)
					}
					if key == "node-workers" {
						s.NodeWorkers = n
					} else {
						s.LinkWorkers = n
					}
				default:
					return fmt.Errorf("unknown setting %q", key)
				}
				return s.Save()
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Reset all settings",
			RunE: func(cmd *cobra.Command, args []string) error {
				s := &settings.Settings{}
				s.Clear()
				return s.Save()
			},
		},
	)
	return cmd
}
