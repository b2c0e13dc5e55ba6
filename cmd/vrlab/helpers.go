package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/vrlab-network/vrlab/pkg/cli"
	"github.com/vrlab-network/vrlab/pkg/controlplane"
	"github.com/vrlab-network/vrlab/pkg/deploy"
	"github.com/vrlab-network/vrlab/pkg/hostcheck"
	"github.com/vrlab-network/vrlab/pkg/settings"
	"github.com/vrlab-network/vrlab/pkg/topology"
)

const timeRounding = 10 * time.Millisecond

// loadTopology reads -f and applies the lab-name override chain:
// --lab flag > topology file > settings default.
func loadTopology() (*topology.Topology, error) {
	if topoFile == "" {
		return nil, fmt.Errorf("topology file required: use -f <file>")
	}
	topo, err := topology.Load(topoFile)
	if err != nil {
		return nil, err
	}
	if labOverride != "" {
		topo.Lab = labOverride
	}
	if topo.Lab == "" {
		if s, err := settings.Load(); err == nil && s.DefaultLab != "" {
			topo.Lab = s.DefaultLab
		}
	}
	return topo, nil
}

// newClient builds the REST client from flags, env, and settings.
func newClient() (*controlplane.Client, error) {
	base, err := resolveHostURL()
	if err != nil {
		return nil, err
	}
	var opts []controlplane.Option
	if key := resolveAPIKey(); key != "" {
		opts = append(opts, controlplane.WithAPIKey(key))
	}
	return controlplane.New(base, opts...), nil
}

// engineFlags are the tuning flags shared by deploy and verify.
type engineFlags struct {
	nodeWorkers int
	linkWorkers int
	crossCheck  bool
	sshHost     string
	sshUser     string
	sshKey      string
	jsonOutput  bool
}

func (ef *engineFlags) options() deploy.Options {
	opts := deploy.Options{
		NodeWorkers: ef.nodeWorkers,
		LinkWorkers: ef.linkWorkers,
		CrossCheck:  ef.crossCheck,
	}
	if s, err := settings.Load(); err == nil {
		if opts.NodeWorkers == 0 {
			opts.NodeWorkers = s.NodeWorkers
		}
		if opts.LinkWorkers == 0 {
			opts.LinkWorkers = s.LinkWorkers
		}
	}
	return opts
}

// hostChecker builds the SSH cross-check channel. The SSH host defaults to
// the control-plane hostname; with no key file configured, the password is
// prompted once on the terminal.
func (ef *engineFlags) hostChecker() (deploy.HostChecker, error) {
	s, err := settings.Load()
	if err != nil {
		s = &settings.Settings{}
	}

	addr := ef.sshHost
	if addr == "" {
		base, err := resolveHostURL()
		if err != nil {
			return nil, err
		}
		u, err := url.Parse(base)
		if err != nil || u.Hostname() == "" {
			return nil, fmt.Errorf("cannot derive SSH host from %q: use --ssh-host", base)
		}
		addr = u.Hostname()
	}

	user := ef.sshUser
	if user == "" {
		user = s.GetSSHUser()
	}

	key := ef.sshKey
	if key == "" {
		key = s.SSHKeyFile
	}
	if key != "" {
		return hostcheck.NewWithKeyFile(addr, user, key)
	}

	fmt.Fprintf(os.Stderr, "%s@%s password: ", user, addr)
	pass, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("read password: %w", err)
	}
	return hostcheck.NewWithPassword(addr, user, string(pass)), nil
}

func (ef *engineFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&ef.nodeWorkers, "node-workers", 0, "concurrent node creations (default 5)")
	cmd.Flags().IntVar(&ef.linkWorkers, "link-workers", 0, "concurrent link establishments (default 5)")
	cmd.Flags().BoolVar(&ef.crossCheck, "cross-check", false, "cross-check every connection over SSH")
	cmd.Flags().StringVar(&ef.sshHost, "ssh-host", "", "SSH host for cross-checks (default: control-plane host)")
	cmd.Flags().StringVar(&ef.sshUser, "ssh-user", "", "SSH user for cross-checks")
	cmd.Flags().StringVar(&ef.sshKey, "ssh-key", "", "SSH private key file for cross-checks")
	cmd.Flags().BoolVar(&ef.jsonOutput, "json", false, "JSON output")
}

func statusLabel(s deploy.Status) string {
	switch s {
	case deploy.StatusEstablished:
		return cli.Green(string(s))
	case deploy.StatusAlreadySatisfied:
		return cli.Green(string(s))
	case deploy.StatusTransientFailure, deploy.StatusVerificationMismatch:
		return cli.Yellow(string(s))
	default:
		return cli.Red(string(s))
	}
}

// renderReport prints the run outcome: node summary, connection results,
// and the per-interface status table.
func renderReport(report *deploy.Report, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	mark := cli.Green("✓")
	if report.Failed {
		mark = cli.Red("✗")
	}
	fmt.Printf("%s %s (%d nodes, %d connections, %s)\n",
		mark, cli.Bold(report.Lab), len(report.Nodes), len(report.Connections),
		report.Finished.Sub(report.Started).Round(timeRounding))
	for status, n := range report.Summary() {
		fmt.Printf("  %s %d\n", statusLabel(status), n)
	}
	fmt.Println()

	nodes := cli.NewTable("NODE", "PLATFORM", "ID", "CREATED", "ERROR")
	for _, n := range report.Nodes {
		created := ""
		if n.Created {
			created = "yes"
		}
		nodes.Row(n.Name, n.Platform, fmt.Sprint(n.ID), created, n.Error)
	}
	nodes.Flush()
	fmt.Println()

	conns := cli.NewTable("CONNECTION", "NETWORK", "STATUS", "ATTEMPTS", "DETAIL")
	for _, c := range report.Connections {
		conns.Row(c.Connection, c.Network, statusLabel(c.Status), fmt.Sprint(c.Attempts), c.Detail)
	}
	conns.Flush()
	fmt.Println()

	ifaces := cli.NewTable("NODE", "INTERFACE", "INDEX", "NETWORK", "STATUS", "CROSS-CHECK")
	for _, row := range report.Interfaces {
		observed := "-"
		if row.Observed != nil {
			observed = fmt.Sprint(*row.Observed)
		}
		ifaces.Row(row.Node, row.Interface, fmt.Sprint(row.Index), observed,
			statusLabel(row.Status), row.CrossCheck)
	}
	ifaces.Flush()

	for _, c := range report.Connections {
		for _, a := range c.Annotations {
			fmt.Printf("\n%s %s: %s\n", cli.Yellow("!"), c.Connection, a)
		}
	}
	return nil
}
