// Package testutil provides in-memory fakes and fixtures for engine tests.
package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/vrlab-network/vrlab/pkg/controlplane"
)

// FakeControlPlane is an in-memory control plane with call counters and
// scripted error injection. Safe for concurrent use.
type FakeControlPlane struct {
	mu sync.Mutex

	nextNodeID    int
	nextNetworkID int

	nodes           map[string]*controlplane.NodeInfo
	networks        map[string]*controlplane.NetworkInfo
	bindings        map[controlplane.NodeID]map[int]controlplane.NetworkID
	interfaceCounts map[controlplane.NodeID]int

	// Call counters.
	CreateNodeCalls    int
	CreateNetworkCalls map[string]int
	BindCalls          int
	GetInterfacesCalls int

	// BindErrs scripts errors per "nodeID/index", consumed in order before
	// the bind succeeds.
	BindErrs map[string][]error

	// FindNetworkErrs scripts errors per network name, consumed in order
	// before the lookup proceeds normally.
	FindNetworkErrs map[string][]error

	// ObserveHook, when set, rewrites the snapshot GetInterfaces returns.
	// Used to simulate a control plane that accepted a bind but reports
	// something else.
	ObserveHook func(node controlplane.NodeID, snap controlplane.InterfaceSnapshot)
}

// NewFakeControlPlane returns an empty fake.
func NewFakeControlPlane() *FakeControlPlane {
	return &FakeControlPlane{
		nodes:              make(map[string]*controlplane.NodeInfo),
		networks:           make(map[string]*controlplane.NetworkInfo),
		bindings:           make(map[controlplane.NodeID]map[int]controlplane.NetworkID),
		interfaceCounts:    make(map[controlplane.NodeID]int),
		CreateNetworkCalls: make(map[string]int),
		BindErrs:           make(map[string][]error),
		FindNetworkErrs:    make(map[string][]error),
	}
}

// Transient returns a retryable error for scripting.
func Transient(msg string) error {
	return &controlplane.TransientError{Op: "fake", Err: fmt.Errorf("%s", msg)}
}

// PreloadNode inserts an existing node and returns its id.
func (f *FakeControlPlane) PreloadNode(name, platform string, interfaces int) controlplane.NodeID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addNode(name, platform, interfaces)
}

// PreloadNetwork inserts an existing network and returns its id.
func (f *FakeControlPlane) PreloadNetwork(name string, kind controlplane.NetworkKind) controlplane.NetworkID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addNetwork(name, kind)
}

// PreloadBinding inserts an existing interface binding.
func (f *FakeControlPlane) PreloadBinding(node controlplane.NodeID, index int, network controlplane.NetworkID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bindings[node] == nil {
		f.bindings[node] = make(map[int]controlplane.NetworkID)
	}
	f.bindings[node][index] = network
}

// Binding returns the current binding for an interface.
func (f *FakeControlPlane) Binding(node controlplane.NodeID, index int) (controlplane.NetworkID, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.bindings[node][index]
	return id, ok
}

// NodeIDByName returns the id of a named node.
func (f *FakeControlPlane) NodeIDByName(name string) (controlplane.NodeID, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.nodes[name]
	if !ok {
		return 0, false
	}
	return info.ID, true
}

// NetworkIDByName returns the id of a named network.
func (f *FakeControlPlane) NetworkIDByName(name string) (controlplane.NetworkID, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.networks[name]
	if !ok {
		return 0, false
	}
	return info.ID, true
}

func (f *FakeControlPlane) addNode(name, platform string, interfaces int) controlplane.NodeID {
	f.nextNodeID++
	id := controlplane.NodeID(f.nextNodeID)
	f.nodes[name] = &controlplane.NodeInfo{ID: id, Name: name, Platform: platform}
	f.interfaceCounts[id] = interfaces
	f.bindings[id] = make(map[int]controlplane.NetworkID)
	return id
}

func (f *FakeControlPlane) addNetwork(name string, kind controlplane.NetworkKind) controlplane.NetworkID {
	f.nextNetworkID++
	id := controlplane.NetworkID(f.nextNetworkID)
	f.networks[name] = &controlplane.NetworkInfo{ID: id, Name: name, Kind: kind}
	return id
}

// CreateNode implements deploy.ControlPlane.
func (f *FakeControlPlane) CreateNode(ctx context.Context, lab, name string, params controlplane.NodeParams) (controlplane.NodeID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CreateNodeCalls++
	if _, ok := f.nodes[name]; ok {
		return 0, fmt.Errorf("node %q: %w", name, controlplane.ErrAlreadyExists)
	}
	return f.addNode(name, params.Platform, params.Interfaces), nil
}

// FindNode implements deploy.ControlPlane.
func (f *FakeControlPlane) FindNode(ctx context.Context, lab, name string) (*controlplane.NodeInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.nodes[name]
	if !ok {
		return nil, fmt.Errorf("node %q: %w", name, controlplane.ErrNotFound)
	}
	cp := *info
	return &cp, nil
}

// CreateNetwork implements deploy.ControlPlane.
func (f *FakeControlPlane) CreateNetwork(ctx context.Context, lab, name string, kind controlplane.NetworkKind) (controlplane.NetworkID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CreateNetworkCalls[name]++
	if _, ok := f.networks[name]; ok {
		return 0, fmt.Errorf("network %q: %w", name, controlplane.ErrAlreadyExists)
	}
	return f.addNetwork(name, kind), nil
}

// FindNetwork implements deploy.ControlPlane.
func (f *FakeControlPlane) FindNetwork(ctx context.Context, lab, name string) (*controlplane.NetworkInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if queue := f.FindNetworkErrs[name]; len(queue) > 0 {
		err := queue[0]
		f.FindNetworkErrs[name] = queue[1:]
		return nil, err
	}
	info, ok := f.networks[name]
	if !ok {
		return nil, fmt.Errorf("network %q: %w", name, controlplane.ErrNotFound)
	}
	cp := *info
	return &cp, nil
}

// BindInterface implements deploy.ControlPlane.
func (f *FakeControlPlane) BindInterface(ctx context.Context, lab string, node controlplane.NodeID, index int, network controlplane.NetworkID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.BindCalls++

	key := fmt.Sprintf("%d/%d", node, index)
	if queue := f.BindErrs[key]; len(queue) > 0 {
		err := queue[0]
		f.BindErrs[key] = queue[1:]
		return err
	}

	count, ok := f.interfaceCounts[node]
	if !ok {
		return Transient(fmt.Sprintf("unknown node %d", node))
	}
	if index < 0 || index >= count {
		return &controlplane.InvalidIndexError{Node: node, Index: index, Code: 60032, Message: "cannot link node"}
	}
	if existing, bound := f.bindings[node][index]; bound {
		return &controlplane.BoundError{Node: node, Index: index, Network: existing}
	}

	f.bindings[node][index] = network
	return nil
}

// GetInterfaces implements deploy.ControlPlane.
func (f *FakeControlPlane) GetInterfaces(ctx context.Context, lab string, node controlplane.NodeID) (controlplane.InterfaceSnapshot, error) {
	f.mu.Lock()
	f.GetInterfacesCalls++
	count, ok := f.interfaceCounts[node]
	if !ok {
		f.mu.Unlock()
		return nil, Transient(fmt.Sprintf("unknown node %d", node))
	}
	snap := make(controlplane.InterfaceSnapshot, count)
	for i := 0; i < count; i++ {
		st := controlplane.InterfaceState{}
		if id, bound := f.bindings[node][i]; bound {
			st.Network = id
			st.Bound = true
		}
		snap[i] = st
	}
	hook := f.ObserveHook
	f.mu.Unlock()

	if hook != nil {
		hook(node, snap)
	}
	return snap, nil
}

// FakeHostChecker serves scripted host-level snapshots.
type FakeHostChecker struct {
	mu    sync.Mutex
	Snaps map[controlplane.NodeID]controlplane.InterfaceSnapshot
	Err   error
	Calls int
}

// NodeInterfaces implements deploy.HostChecker.
func (f *FakeHostChecker) NodeInterfaces(ctx context.Context, lab string, node controlplane.NodeID) (controlplane.InterfaceSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	if f.Err != nil {
		return nil, f.Err
	}
	snap, ok := f.Snaps[node]
	if !ok {
		return controlplane.InterfaceSnapshot{}, nil
	}
	return snap, nil
}
