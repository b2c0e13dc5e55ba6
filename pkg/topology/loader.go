package topology

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/vrlab-network/vrlab/pkg/util"
)

// topologyFile is the YAML wire shape of a topology file.
type topologyFile struct {
	Lab   string `yaml:"lab"`
	Nodes []struct {
		Name     string   `yaml:"name"`
		Platform string   `yaml:"platform"`
		Position Position `yaml:"position"`
	} `yaml:"nodes"`
	Connections []struct {
		A    string `yaml:"a"`
		Z    string `yaml:"z"`
		Name string `yaml:"name"`
	} `yaml:"connections"`
	Management *struct {
		Network string   `yaml:"network"`
		Attach  []string `yaml:"attach"`
	} `yaml:"management"`
}

// Load reads a topology YAML file, applies defaults, and validates shape.
func Load(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("topology: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a validated Topology from YAML bytes.
func Parse(data []byte) (*Topology, error) {
	var f topologyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("topology: parse: %w", err)
	}

	t := &Topology{Lab: f.Lab}

	for _, n := range f.Nodes {
		t.Nodes = append(t.Nodes, &Node{
			Name:     n.Name,
			Platform: n.Platform,
			Position: n.Position,
		})
	}

	for i, c := range f.Connections {
		a, err := ParseEndpoint(c.A)
		if err != nil {
			return nil, fmt.Errorf("topology: connection %d A: %w", i, err)
		}
		z, err := ParseEndpoint(c.Z)
		if err != nil {
			return nil, fmt.Errorf("topology: connection %d Z: %w", i, err)
		}
		name := c.Name
		if name == "" {
			name = defaultLinkName(a, z)
		}
		t.Connections = append(t.Connections, &Connection{A: a, Z: z, Name: name})
	}

	if f.Management != nil {
		seg := &ManagementSegment{Network: f.Management.Network}
		for i, s := range f.Management.Attach {
			ep, err := ParseEndpoint(s)
			if err != nil {
				return nil, fmt.Errorf("topology: management attach %d: %w", i, err)
			}
			seg.Attachments = append(seg.Attachments, ep)
		}
		t.Management = seg
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// defaultLinkName derives a network name from the two endpoints.
func defaultLinkName(a, z Endpoint) string {
	return fmt.Sprintf("%s-%s", a.Node, z.Node)
}

// Validate checks basic topology shape: the engine downstream assumes these
// hold. Index resolution is deliberately not checked here — that is the
// resolver's job and its failures are per-connection, not per-file.
func (t *Topology) Validate() error {
	v := &util.ValidationBuilder{}

	if t.Lab == "" {
		v.AddError("lab name is required")
	}
	if len(t.Nodes) == 0 {
		v.AddError("at least one node is required")
	}

	nodes := make(map[string]bool, len(t.Nodes))
	for _, n := range t.Nodes {
		if n.Name == "" {
			v.AddError("node with empty name")
			continue
		}
		if nodes[n.Name] {
			v.AddErrorf("duplicate node name %q", n.Name)
		}
		nodes[n.Name] = true
		if n.Platform == "" {
			v.AddErrorf("node %q has no platform", n.Name)
		}
	}

	linkNames := make(map[string]bool, len(t.Connections))
	usedIfaces := make(map[string]string) // "node:iface" → link name
	claim := func(ep Endpoint, link string) {
		if !nodes[ep.Node] {
			v.AddErrorf("%s: unknown node %q", link, ep.Node)
			return
		}
		key := ep.String()
		if prev, ok := usedIfaces[key]; ok {
			v.AddErrorf("%s: interface %s already used by %s", link, key, prev)
			return
		}
		usedIfaces[key] = link
	}

	for _, c := range t.Connections {
		if linkNames[c.Name] {
			v.AddErrorf("duplicate link name %q", c.Name)
		}
		linkNames[c.Name] = true
		if c.A.Node == c.Z.Node && c.A.Interface == c.Z.Interface {
			v.AddErrorf("%s: both endpoints are %s", c.Name, c.A)
		}
		claim(c.A, c.Name)
		claim(c.Z, c.Name)
	}

	if t.Management != nil {
		if t.Management.Network == "" {
			v.AddError("management segment has no network name")
		}
		if linkNames[t.Management.Network] {
			v.AddErrorf("management network %q collides with a link name", t.Management.Network)
		}
		for _, ep := range t.Management.Attachments {
			claim(ep, "management "+t.Management.Network)
		}
	}

	return v.Build()
}
