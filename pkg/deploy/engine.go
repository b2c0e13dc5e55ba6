// Package deploy is the topology deployment and verification engine.
//
// It provisions nodes, establishes links through the control plane, and then
// confirms — by re-querying observed state, never by assuming a request
// worked — that every requested binding exists. Establishment is a request;
// only observation makes it a fact. Every failure is scoped to the single
// connection or node it concerns, so one bad connection never aborts the
// rest of the batch.
package deploy

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vrlab-network/vrlab/pkg/controlplane"
	"github.com/vrlab-network/vrlab/pkg/ifmap"
	"github.com/vrlab-network/vrlab/pkg/topology"
	"github.com/vrlab-network/vrlab/pkg/util"
)

// ControlPlane is the engine's view of the REST client.
type ControlPlane interface {
	CreateNode(ctx context.Context, lab, name string, params controlplane.NodeParams) (controlplane.NodeID, error)
	FindNode(ctx context.Context, lab, name string) (*controlplane.NodeInfo, error)
	CreateNetwork(ctx context.Context, lab, name string, kind controlplane.NetworkKind) (controlplane.NetworkID, error)
	FindNetwork(ctx context.Context, lab, name string) (*controlplane.NetworkInfo, error)
	BindInterface(ctx context.Context, lab string, node controlplane.NodeID, index int, network controlplane.NetworkID) error
	GetInterfaces(ctx context.Context, lab string, node controlplane.NodeID) (controlplane.InterfaceSnapshot, error)
}

// HostChecker is the optional host-level corroboration channel.
type HostChecker interface {
	NodeInterfaces(ctx context.Context, lab string, node controlplane.NodeID) (controlplane.InterfaceSnapshot, error)
}

// Options tunes a deployment run.
type Options struct {
	// NodeWorkers bounds concurrent node creations. Default 5.
	NodeWorkers int
	// LinkWorkers bounds concurrent connection establishment. Default 5.
	LinkWorkers int
	// Retry is the backoff policy for transient control-plane failures.
	Retry RetryPolicy
	// SettleDelay is the single pause between the last bind request and
	// verification, to tolerate control-plane eventual consistency.
	// Default 1500ms.
	SettleDelay time.Duration
	// CrossCheck forces a host-level cross-check of every involved node.
	// Without it, cross-checking runs only for verification mismatches.
	CrossCheck bool
}

func (o Options) withDefaults() Options {
	if o.NodeWorkers <= 0 {
		o.NodeWorkers = 5
	}
	if o.LinkWorkers <= 0 {
		o.LinkWorkers = 5
	}
	if o.Retry.Attempts == 0 {
		o.Retry = DefaultRetryPolicy
	}
	if o.SettleDelay == 0 {
		o.SettleDelay = 1500 * time.Millisecond
	}
	return o
}

// Engine deploys and verifies topologies against one control plane.
type Engine struct {
	cp       ControlPlane
	resolver *ifmap.Resolver
	host     HostChecker
	opts     Options
}

// New creates an Engine. The resolver must carry a table for every platform
// the topologies will reference; missing tables surface as mapping errors
// per connection, never as guessed indices.
func New(cp ControlPlane, resolver *ifmap.Resolver, opts Options) *Engine {
	return &Engine{
		cp:       cp,
		resolver: resolver,
		opts:     opts.withDefaults(),
	}
}

// WithHostChecker attaches the host-level cross-check channel.
func (e *Engine) WithHostChecker(h HostChecker) *Engine {
	e.host = h
	return e
}

// Deploy runs the full pipeline: provision nodes, establish links, settle,
// verify, cross-check, report. Cancelling ctx stops new work from being
// issued; in-flight requests complete and the report still covers every
// connection with an accurate (never optimistic) status.
func (e *Engine) Deploy(ctx context.Context, topo *topology.Topology) (*Report, error) {
	if err := topo.Validate(); err != nil {
		return nil, err
	}

	r := e.newRun(topo)
	util.WithFields(map[string]interface{}{
		"lab": topo.Lab, "run": r.runID, "nodes": len(topo.Nodes), "connections": len(r.works),
	}).Info("deploy started")

	r.provisionNodes(ctx)
	r.resolveEndpoints()
	r.preSnapshot(ctx)
	r.establish(ctx)
	r.verify(ctx)
	r.crossCheck(ctx)

	report := r.buildReport()
	util.WithFields(map[string]interface{}{
		"lab": topo.Lab, "run": r.runID, "failed": report.Failed,
	}).Info("deploy finished")
	return report, nil
}

// Verify re-checks an existing lab without mutating anything: nodes are
// looked up (never created), no networks are created, and no binds are
// issued. Matching connections report AlreadySatisfied.
func (e *Engine) Verify(ctx context.Context, topo *topology.Topology) (*Report, error) {
	if err := topo.Validate(); err != nil {
		return nil, err
	}

	r := e.newRun(topo)
	r.readOnly = true

	r.adoptNodes(ctx)
	r.resolveEndpoints()
	r.lookupNetworks(ctx)
	r.verify(ctx)
	r.crossCheck(ctx)

	return r.buildReport(), nil
}

// newRun builds the per-run working state from a topology.
func (e *Engine) newRun(topo *topology.Topology) *run {
	r := &run{
		e:       e,
		topo:    topo,
		runID:   uuid.NewString(),
		started: time.Now(),
		nodes: make(map[string]*nodeHandle, len(topo.Nodes)),
		guard: newNetworkGuard(),
		post:  make(map[string]controlplane.InterfaceSnapshot),
		pre:   make(map[string]controlplane.InterfaceSnapshot),
		hosts: make(map[string]controlplane.InterfaceSnapshot),
	}

	for _, n := range topo.Nodes {
		r.nodes[n.Name] = &nodeHandle{name: n.Name, platform: n.Platform, position: n.Position}
	}

	// Normalize P2P connections and management attachments into one work
	// list: each unit owns a result, names its backing network, and lists
	// its endpoints (two for P2P, one per management attachment).
	for _, c := range topo.Connections {
		r.works = append(r.works, &linkWork{
			name:    c.Name,
			network: c.Name,
			kind:    controlplane.KindP2P,
			endpoints: []*endpointWork{
				{ep: c.A},
				{ep: c.Z},
			},
		})
	}
	if m := topo.Management; m != nil {
		for _, ep := range m.Attachments {
			r.works = append(r.works, &linkWork{
				name:      m.Network + "/" + ep.String(),
				network:   m.Network,
				kind:      controlplane.KindMgmt,
				endpoints: []*endpointWork{{ep: ep}},
			})
		}
	}

	return r
}

// run is the mutable state of one deployment or verification run. Shared
// structures (network guard, snapshot maps) are mutex-protected; each
// linkWork is only ever touched by one worker goroutine at a time.
type run struct {
	e        *Engine
	topo     *topology.Topology
	runID    string
	readOnly bool

	nodes map[string]*nodeHandle
	works []*linkWork
	guard *networkGuard

	started  time.Time
	finished time.Time

	mu    sync.Mutex
	pre   map[string]controlplane.InterfaceSnapshot // node name → pre-bind state
	post  map[string]controlplane.InterfaceSnapshot // node name → verification state
	hosts map[string]controlplane.InterfaceSnapshot // node name → host CLI state
}

// nodeHandle tracks one node through provisioning.
type nodeHandle struct {
	name     string
	platform string
	position topology.Position

	id      controlplane.NodeID
	created bool

	// failStatus, when set, is inherited by every connection touching the
	// node. failDetail says why.
	failStatus Status
	failDetail string
}

// linkWork tracks one connection (or management attachment) through the
// pipeline.
type linkWork struct {
	name    string
	network string
	kind    controlplane.NetworkKind

	endpoints []*endpointWork
	networkID controlplane.NetworkID

	// status is empty while the connection is still in flight; once set it
	// is final — later stages never overwrite a fatal status and the
	// reporter never upgrades one.
	status Status
	detail string

	bindsIssued  bool
	preSatisfied bool

	annotations []string
}

// endpointWork tracks one side of a linkWork.
type endpointWork struct {
	ep       topology.Endpoint
	platform string
	index    int
	resolved bool

	attempts int

	observed    controlplane.InterfaceState
	observedSet bool
}

// fail sets the connection's final status once. First failure wins.
func (w *linkWork) fail(s Status, detail string) {
	if w.status != "" {
		return
	}
	w.status = s
	w.detail = detail
}

// attempts returns the highest bind attempt count across endpoints.
func (w *linkWork) attemptCount() int {
	max := 0
	for _, ep := range w.endpoints {
		if ep.attempts > max {
			max = ep.attempts
		}
	}
	return max
}
