// Package ifmap maps logical router interface names to the numeric interface
// indices the control plane expects.
//
// The mapping is platform-dependent and non-linear: onboard interfaces occupy
// indices 0..N-1 in declaration order, and each expansion-module slot consumes
// a fixed-size index block regardless of how many ports the module exposes.
// A slot-1 module's first port therefore lands at 1*BlockSize, slot 2 at
// 2*BlockSize, and so on. Guessing an index for an unknown name is never
// acceptable — a wrong low index is silently accepted by some control planes
// and produces a link bound to the wrong port.
package ifmap

import (
	"fmt"
	"sort"
)

// PlatformTable declares the interface layout of one router platform.
// Tables are immutable configuration data; construct them explicitly and
// hand them to NewResolver rather than mutating shared state.
type PlatformTable struct {
	// Platform is the router template name, e.g. "c3725".
	Platform string

	// Onboard lists the chassis' built-in interfaces in index order.
	// Onboard[p] maps to index p.
	Onboard []string

	// BlockSize is the number of indices consumed per expansion slot.
	BlockSize int

	// Slots maps a 1-based slot number to the ordered port names of the
	// module in that slot. Slots[s][p] maps to index s*BlockSize + p.
	Slots map[int][]string
}

// MappingError reports a logical interface name with no index mapping for a
// platform. It is fatal for the connection that referenced the name.
type MappingError struct {
	Platform string
	Name     string
	Reason   string
}

func (e *MappingError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("ifmap: %s on platform %s: %s", e.Name, e.Platform, e.Reason)
	}
	return fmt.Sprintf("ifmap: interface %q has no index mapping on platform %s", e.Name, e.Platform)
}

// Resolver resolves (platform, logical name) pairs to interface indices.
// It is immutable after construction and safe for concurrent use.
type Resolver struct {
	tables  map[string]*PlatformTable
	indices map[string]map[string]int // platform → name → index
	names   map[string]map[int]string // platform → index → name
}

// NewResolver builds a Resolver from explicit platform tables.
// It rejects duplicate platforms, duplicate interface names within a
// platform, slot 0 (onboard interfaces are not a slot), and modules wider
// than the platform's block size.
func NewResolver(tables ...*PlatformTable) (*Resolver, error) {
	r := &Resolver{
		tables:  make(map[string]*PlatformTable, len(tables)),
		indices: make(map[string]map[string]int, len(tables)),
		names:   make(map[string]map[int]string, len(tables)),
	}

	for _, t := range tables {
		if t.Platform == "" {
			return nil, fmt.Errorf("ifmap: platform table with empty platform name")
		}
		if _, ok := r.tables[t.Platform]; ok {
			return nil, fmt.Errorf("ifmap: duplicate table for platform %s", t.Platform)
		}
		if len(t.Slots) > 0 && t.BlockSize <= 0 {
			return nil, fmt.Errorf("ifmap: platform %s has slots but no block size", t.Platform)
		}
		if t.BlockSize > 0 && len(t.Onboard) > t.BlockSize {
			return nil, fmt.Errorf("ifmap: platform %s: %d onboard interfaces overflow block size %d",
				t.Platform, len(t.Onboard), t.BlockSize)
		}

		byName := make(map[string]int)
		byIndex := make(map[int]string)
		add := func(name string, index int) error {
			if name == "" {
				return fmt.Errorf("ifmap: platform %s: empty interface name at index %d", t.Platform, index)
			}
			if _, ok := byName[name]; ok {
				return fmt.Errorf("ifmap: platform %s: duplicate interface name %q", t.Platform, name)
			}
			byName[name] = index
			byIndex[index] = name
			return nil
		}

		for p, name := range t.Onboard {
			if err := add(name, p); err != nil {
				return nil, err
			}
		}
		for slot, ports := range t.Slots {
			if slot < 1 {
				return nil, fmt.Errorf("ifmap: platform %s: invalid slot %d (slots are 1-based)", t.Platform, slot)
			}
			if len(ports) > t.BlockSize {
				return nil, fmt.Errorf("ifmap: platform %s slot %d: %d ports overflow block size %d",
					t.Platform, slot, len(ports), t.BlockSize)
			}
			for p, name := range ports {
				if err := add(name, slot*t.BlockSize+p); err != nil {
					return nil, err
				}
			}
		}

		r.tables[t.Platform] = t
		r.indices[t.Platform] = byName
		r.names[t.Platform] = byIndex
	}

	return r, nil
}

// Resolve returns the control-plane interface index for a logical interface
// name. Unknown platforms and unknown names return a *MappingError — never a
// default or guessed index.
func (r *Resolver) Resolve(platform, name string) (int, error) {
	byName, ok := r.indices[platform]
	if !ok {
		return 0, &MappingError{Platform: platform, Name: name, Reason: "unknown platform"}
	}
	index, ok := byName[name]
	if !ok {
		return 0, &MappingError{Platform: platform, Name: name}
	}
	return index, nil
}

// InterfaceName returns the logical name for an index on a platform.
// Inverse of Resolve; used when rendering observed state for humans.
func (r *Resolver) InterfaceName(platform string, index int) (string, bool) {
	byIndex, ok := r.names[platform]
	if !ok {
		return "", false
	}
	name, ok := byIndex[index]
	return name, ok
}

// Profile returns the platform's interface names in index order, or false
// for an unknown platform.
func (r *Resolver) Profile(platform string) ([]string, bool) {
	byIndex, ok := r.names[platform]
	if !ok {
		return nil, false
	}
	indices := make([]int, 0, len(byIndex))
	for i := range byIndex {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	names := make([]string, len(indices))
	for i, idx := range indices {
		names[i] = byIndex[idx]
	}
	return names, ok
}

// InterfaceCount returns the number of interface indices the control plane
// must allocate for a node of this platform: one past the highest mapped
// index, so expansion-slot blocks are covered.
func (r *Resolver) InterfaceCount(platform string) (int, bool) {
	byIndex, ok := r.names[platform]
	if !ok {
		return 0, false
	}
	max := -1
	for i := range byIndex {
		if i > max {
			max = i
		}
	}
	return max + 1, true
}

// HasPlatform reports whether a table is registered for platform.
func (r *Resolver) HasPlatform(platform string) bool {
	_, ok := r.tables[platform]
	return ok
}

// Platforms returns the registered platform names, sorted.
func (r *Resolver) Platforms() []string {
	names := make([]string, 0, len(r.tables))
	for name := range r.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
