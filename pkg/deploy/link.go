package deploy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vrlab-network/vrlab/pkg/controlplane"
	"github.com/vrlab-network/vrlab/pkg/util"
)

// networkGuard serializes create-or-reuse per network name so concurrent
// connections referencing the same network produce exactly one create call.
// Binds to the network proceed concurrently once it exists.
type networkGuard struct {
	mu      sync.Mutex
	entries map[string]*networkEntry
}

type networkEntry struct {
	once sync.Once
	id   controlplane.NetworkID
	err  error
}

func newNetworkGuard() *networkGuard {
	return &networkGuard{entries: make(map[string]*networkEntry)}
}

// ensure runs create at most once per name and returns its result to every
// caller.
func (g *networkGuard) ensure(name string, create func() (controlplane.NetworkID, error)) (controlplane.NetworkID, error) {
	g.mu.Lock()
	entry, ok := g.entries[name]
	if !ok {
		entry = &networkEntry{}
		g.entries[name] = entry
	}
	g.mu.Unlock()

	entry.once.Do(func() {
		entry.id, entry.err = create()
	})
	return entry.id, entry.err
}

// establish issues bind requests for every connection still in flight.
// Connections are independent except for shared network creation, so they
// run under a bounded worker pool. No connection is marked Established
// here — that is the verifier's call.
func (r *run) establish(ctx context.Context) {
	sem := make(chan struct{}, r.e.opts.LinkWorkers)
	var wg sync.WaitGroup

	for _, w := range r.works {
		if w.status != "" {
			continue
		}
		wg.Add(1)
		go func(w *linkWork) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			r.establishOne(ctx, w)
		}(w)
	}
	wg.Wait()
}

func (r *run) establishOne(ctx context.Context, w *linkWork) {
	if ctx.Err() != nil {
		w.fail(StatusTransientFailure, "run cancelled before establish")
		return
	}

	netID, err := r.ensureNetwork(ctx, w)
	if err != nil {
		w.fail(StatusTransientFailure, fmt.Sprintf("ensure network %s: %v", w.network, err))
		return
	}
	w.networkID = netID

	satisfied := 0
	for _, ep := range w.endpoints {
		if !r.bindEndpoint(ctx, w, ep, netID) {
			return
		}
		if ep.attempts == 0 {
			satisfied++
		}
	}
	w.preSatisfied = satisfied == len(w.endpoints)
}

// ensureNetwork creates the backing network or reuses an existing one of the
// same name, under the per-name guard.
func (r *run) ensureNetwork(ctx context.Context, w *linkWork) (controlplane.NetworkID, error) {
	return r.guard.ensure(w.network, func() (controlplane.NetworkID, error) {
		var id controlplane.NetworkID
		_, err := withRetry(ctx, r.e.opts.Retry, func(ctx context.Context) error {
			var err error
			id, err = r.e.cp.CreateNetwork(ctx, r.topo.Lab, w.network, w.kind)
			return err
		})
		if err == nil {
			util.WithField("network", w.network).WithField("id", id).Debug("network created")
			return id, nil
		}

		if !errors.Is(err, controlplane.ErrAlreadyExists) {
			return 0, err
		}

		// Reuse by name (idempotence contract).
		var info *controlplane.NetworkInfo
		_, err = withRetry(ctx, r.e.opts.Retry, func(ctx context.Context) error {
			var err error
			info, err = r.e.cp.FindNetwork(ctx, r.topo.Lab, w.network)
			return err
		})
		if err != nil {
			return 0, err
		}
		if info.Kind != "" && info.Kind != w.kind {
			util.WithField("network", w.network).Warnf(
				"reusing network with kind %s (topology declares %s)", info.Kind, w.kind)
		}
		util.WithField("network", w.network).WithField("id", info.ID).Debug("network reused")
		return info.ID, nil
	})
}

// bindEndpoint ensures one endpoint is bound to netID, skipping the bind
// when the pre-run snapshot already shows the right binding. Returns false
// when the connection acquired a fatal status.
func (r *run) bindEndpoint(ctx context.Context, w *linkWork, ep *endpointWork, netID controlplane.NetworkID) bool {
	h := r.nodes[ep.ep.Node]
	log := util.WithConnection(w.name).WithField("endpoint", ep.ep.String())

	if pre, ok := r.preState(ep.ep.Node, ep.index); ok && pre.Bound {
		if pre.Network == netID {
			log.Debug("already bound to expected network, skipping bind")
			return true
		}
		w.fail(StatusLinkConflict, fmt.Sprintf(
			"%s (index %d) already bound to network %d, want %d (%s)",
			ep.ep, ep.index, pre.Network, netID, w.network))
		return false
	}

	if ctx.Err() != nil {
		w.fail(StatusTransientFailure, "run cancelled before bind")
		return false
	}

	attempts, err := withRetry(ctx, r.e.opts.Retry, func(ctx context.Context) error {
		return r.e.cp.BindInterface(ctx, r.topo.Lab, h.id, ep.index, netID)
	})
	ep.attempts = attempts
	w.bindsIssued = true

	if err == nil {
		log.WithField("attempts", attempts).Debug("bind accepted")
		return true
	}

	var be *controlplane.BoundError
	if errors.As(err, &be) {
		if be.Network == netID {
			// Raced with a previous run or a concurrent attachment to the
			// same network: idempotent success.
			return true
		}
		w.fail(StatusLinkConflict, fmt.Sprintf(
			"%s (index %d) already bound to network %d, want %d (%s)",
			ep.ep, ep.index, be.Network, netID, w.network))
		return false
	}

	var ie *controlplane.InvalidIndexError
	if errors.As(err, &ie) {
		// The resolver produced an index the node does not have: the
		// platform table itself is wrong. Surface everything needed to fix
		// the table.
		log.Errorf("interface table bug: platform=%s interface=%s resolved index=%d rejected: %v",
			ep.platform, ep.ep.Interface, ep.index, err)
		w.fail(StatusMappingError, fmt.Sprintf(
			"platform %s interface %s: control plane rejected index %d: %v",
			ep.platform, ep.ep.Interface, ep.index, err))
		return false
	}

	w.fail(StatusTransientFailure, fmt.Sprintf(
		"%s: bind failed after %d attempts: %v", ep.ep, attempts, err))
	return false
}
