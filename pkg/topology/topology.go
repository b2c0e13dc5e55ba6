// Package topology holds the declarative lab model: the nodes, point-to-point
// connections, and management attachments a deployment run must realize.
// A Topology is constructed once from input and read-only thereafter.
package topology

import (
	"fmt"
	"strings"
)

// Topology is the full declarative lab request.
type Topology struct {
	// Lab is the lab path/name on the virtualization host.
	Lab string

	Nodes       []*Node
	Connections []*Connection

	// Management, when non-nil, describes the shared management segment and
	// the node interfaces attached to it.
	Management *ManagementSegment
}

// Node declares one router to create.
type Node struct {
	// Name is user-chosen and unique within the lab.
	Name string

	// Platform is the router template, e.g. "c3725". It selects the
	// interface-index table used for every connection touching this node.
	Platform string

	// Position is display-only; the engine ignores it for correctness.
	Position Position
}

// Position is a canvas coordinate for dashboards.
type Position struct {
	X int `yaml:"x" json:"x"`
	Y int `yaml:"y" json:"y"`
}

// Endpoint names one side of a connection as node + logical interface.
type Endpoint struct {
	Node      string
	Interface string
}

func (e Endpoint) String() string {
	return e.Node + ":" + e.Interface
}

// Connection is a declarative point-to-point link between two endpoints.
// Never mutated after construction.
type Connection struct {
	A Endpoint
	Z Endpoint

	// Name identifies the backing network object; unique within the lab.
	Name string
}

// ManagementSegment is the shared segment plus its attachments.
type ManagementSegment struct {
	// Network is the shared network's name, e.g. "mgmt".
	Network string

	Attachments []Endpoint
}

// NodeNames returns node names in declaration order.
func (t *Topology) NodeNames() []string {
	names := make([]string, len(t.Nodes))
	for i, n := range t.Nodes {
		names[i] = n.Name
	}
	return names
}

// NodeByName returns the named node, or nil.
func (t *Topology) NodeByName(name string) *Node {
	for _, n := range t.Nodes {
		if n.Name == name {
			return n
		}
	}
	return nil
}

// ParseEndpoint splits a "node:interface" string.
func ParseEndpoint(s string) (Endpoint, error) {
	idx := strings.IndexByte(s, ':')
	if idx <= 0 || idx == len(s)-1 {
		return Endpoint{}, fmt.Errorf("topology: invalid endpoint %q (expected node:interface)", s)
	}
	return Endpoint{Node: s[:idx], Interface: s[idx+1:]}, nil
}
