package deploy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/vrlab-network/vrlab/pkg/controlplane"
	"github.com/vrlab-network/vrlab/pkg/util"
)

// preSnapshot records interface state before any bind is issued. It feeds
// two decisions: skipping binds that are already in place (idempotent
// re-runs) and distinguishing AlreadySatisfied from freshly Established.
// A failed snapshot is non-fatal — the node is treated as unbound and the
// control plane arbitrates on bind.
func (r *run) preSnapshot(ctx context.Context) {
	for _, name := range r.involvedNodes(false) {
		h := r.nodes[name]
		if h == nil || h.failStatus != "" {
			continue
		}
		snap, err := r.fetchInterfaces(ctx, h)
		if err != nil {
			util.WithNode(name).Warnf("pre-deploy interface snapshot failed: %v", err)
			continue
		}
		r.mu.Lock()
		r.pre[name] = snap
		r.mu.Unlock()
	}
}

// preState returns the pre-run observed state for one interface index.
func (r *run) preState(node string, index int) (controlplane.InterfaceState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, ok := r.pre[node]
	if !ok {
		return controlplane.InterfaceState{}, false
	}
	st, ok := snap[index]
	return st, ok
}

// verify waits out the settle delay once, queries each involved node exactly
// once, and compares observed bindings against intent. Lookups use the same
// integer index representation the resolver produced — mixing
// representations here is how false negatives happen.
func (r *run) verify(ctx context.Context) {
	pending := r.pendingWorks()
	if len(pending) == 0 {
		return
	}

	if r.cancelPending(ctx, "run cancelled before verification", pending) {
		return
	}

	if !r.readOnly {
		select {
		case <-time.After(r.e.opts.SettleDelay):
		case <-ctx.Done():
			r.cancelPending(ctx, "run cancelled during settle delay", pending)
			return
		}
	}

	// One snapshot per node for the whole batch.
	for _, name := range r.involvedNodes(true) {
		h := r.nodes[name]
		if h == nil || h.failStatus != "" {
			continue
		}
		snap, err := r.fetchInterfaces(ctx, h)
		if err != nil {
			util.WithNode(name).Errorf("verification snapshot failed: %v", err)
			continue
		}
		r.mu.Lock()
		r.post[name] = snap
		r.mu.Unlock()
	}

	for _, w := range pending {
		r.verifyOne(w)
	}
}

func (r *run) verifyOne(w *linkWork) {
	if w.status != "" {
		return
	}

	// Verify mode never established a network id; resolve it from the
	// lookup table populated by lookupNetworks.
	if w.networkID == 0 && !r.readOnly {
		w.fail(StatusTransientFailure, "no network id recorded for "+w.network)
		return
	}

	matched := true
	var firstMismatch string

	for _, ep := range w.endpoints {
		r.mu.Lock()
		snap, haveSnap := r.post[ep.ep.Node]
		r.mu.Unlock()
		if !haveSnap {
			w.fail(StatusTransientFailure, fmt.Sprintf("%s: interface state could not be queried", ep.ep))
			return
		}

		st, ok := snap[ep.index]
		if ok {
			ep.observed = st
			ep.observedSet = true
		}

		switch {
		case !ok || !st.Bound:
			matched = false
			if firstMismatch == "" {
				firstMismatch = fmt.Sprintf("%s (index %d): expected network %d, observed unbound",
					ep.ep, ep.index, w.networkID)
			}
		case st.Network != w.networkID:
			matched = false
			if firstMismatch == "" {
				firstMismatch = fmt.Sprintf("%s (index %d): expected network %d, observed %d",
					ep.ep, ep.index, w.networkID, st.Network)
			}
		}
	}

	if !matched {
		w.fail(StatusVerificationMismatch, firstMismatch)
		return
	}

	if r.readOnly || (w.preSatisfied && !w.bindsIssued) {
		w.status = StatusAlreadySatisfied
		return
	}
	w.status = StatusEstablished
}

// lookupNetworks resolves network names to ids without creating anything
// (verify mode). A confirmed miss is a mismatch; a lookup that keeps failing
// is a transient failure, not a statement about the topology.
func (r *run) lookupNetworks(ctx context.Context) {
	for _, w := range r.works {
		if w.status != "" {
			continue
		}
		var info *controlplane.NetworkInfo
		_, err := withRetry(ctx, r.e.opts.Retry, func(ctx context.Context) error {
			var err error
			info, err = r.e.cp.FindNetwork(ctx, r.topo.Lab, w.network)
			return err
		})
		switch {
		case errors.Is(err, controlplane.ErrNotFound):
			w.fail(StatusVerificationMismatch,
				fmt.Sprintf("network %s does not exist", w.network))
		case err != nil:
			w.fail(StatusTransientFailure,
				fmt.Sprintf("lookup network %s: %v", w.network, err))
		default:
			w.networkID = info.ID
		}
	}
}

// crossCheck corroborates verification through the host-level channel.
// It runs for mismatched connections, or for every connection when forced
// by options, and only annotates — a disagreement between sources never
// rewrites a status on its own.
func (r *run) crossCheck(ctx context.Context) {
	if r.e.host == nil || ctx.Err() != nil {
		return
	}

	var targets []*linkWork
	for _, w := range r.works {
		if w.status == StatusVerificationMismatch || (r.e.opts.CrossCheck && w.status != "") {
			targets = append(targets, w)
		}
	}
	if len(targets) == 0 {
		return
	}

	for _, w := range targets {
		for _, ep := range w.endpoints {
			if !ep.resolved {
				continue
			}

			// Connections that never reached verification have no API-side
			// snapshot; comparing against one would fabricate a disagreement.
			r.mu.Lock()
			api, haveAPI := r.post[ep.ep.Node]
			r.mu.Unlock()
			if !haveAPI {
				w.annotations = append(w.annotations,
					fmt.Sprintf("cross-check skipped for %s: no interface state from the control plane", ep.ep.Node))
				continue
			}

			host, err := r.hostState(ctx, ep.ep.Node)
			if err != nil {
				w.annotations = append(w.annotations,
					fmt.Sprintf("cross-check unavailable for %s: %v", ep.ep.Node, err))
				continue
			}

			apiSt, apiOK := api[ep.index]
			hostSt, hostOK := host[ep.index]
			if describeBinding(apiSt, apiOK) != describeBinding(hostSt, hostOK) {
				w.annotations = append(w.annotations, fmt.Sprintf(
					"source disagreement at %s (index %d): api=%s host=%s",
					ep.ep, ep.index,
					describeBinding(apiSt, apiOK), describeBinding(hostSt, hostOK)))
			}
		}
	}
}

// hostState fetches (once per node) the host CLI's view of a node.
func (r *run) hostState(ctx context.Context, node string) (controlplane.InterfaceSnapshot, error) {
	r.mu.Lock()
	snap, ok := r.hosts[node]
	r.mu.Unlock()
	if ok {
		return snap, nil
	}

	h := r.nodes[node]
	if h == nil || h.id == 0 {
		return nil, fmt.Errorf("node %s has no control-plane id", node)
	}

	snap, err := r.e.host.NodeInterfaces(ctx, r.topo.Lab, h.id)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.hosts[node] = snap
	r.mu.Unlock()
	return snap, nil
}

func describeBinding(st controlplane.InterfaceState, ok bool) string {
	if !ok || !st.Bound {
		return "unbound"
	}
	return fmt.Sprintf("net %d", st.Network)
}

// fetchInterfaces queries one node's interface state with retry.
func (r *run) fetchInterfaces(ctx context.Context, h *nodeHandle) (controlplane.InterfaceSnapshot, error) {
	var snap controlplane.InterfaceSnapshot
	_, err := withRetry(ctx, r.e.opts.Retry, func(ctx context.Context) error {
		var err error
		snap, err = r.e.cp.GetInterfaces(ctx, r.topo.Lab, h.id)
		return err
	})
	return snap, err
}

// pendingWorks returns connections with no final status yet.
func (r *run) pendingWorks() []*linkWork {
	var out []*linkWork
	for _, w := range r.works {
		if w.status == "" {
			out = append(out, w)
		}
	}
	return out
}

// cancelPending marks every pending connection failed when the run was
// cancelled, so a partial run still reports an accurate status table.
func (r *run) cancelPending(ctx context.Context, detail string, pending []*linkWork) bool {
	if ctx.Err() == nil {
		return false
	}
	for _, w := range pending {
		w.fail(StatusTransientFailure, detail)
	}
	return true
}

// involvedNodes returns the sorted node names referenced by connections,
// optionally restricted to connections still in flight.
func (r *run) involvedNodes(pendingOnly bool) []string {
	seen := make(map[string]bool)
	for _, w := range r.works {
		if pendingOnly && w.status != "" {
			continue
		}
		for _, ep := range w.endpoints {
			seen[ep.ep.Node] = true
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
