package deploy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vrlab-network/vrlab/pkg/controlplane"
	"github.com/vrlab-network/vrlab/pkg/ifmap"
	"github.com/vrlab-network/vrlab/pkg/util"
)

// provisionNodes creates every topology node, adopting nodes that already
// exist. Node creations are independent, so they run under a bounded worker
// pool. A node failure is scoped to the connections touching that node.
func (r *run) provisionNodes(ctx context.Context) {
	sem := make(chan struct{}, r.e.opts.NodeWorkers)
	var wg sync.WaitGroup

	for _, h := range r.nodes {
		wg.Add(1)
		go func(h *nodeHandle) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			r.provisionNode(ctx, h)
		}(h)
	}
	wg.Wait()
}

func (r *run) provisionNode(ctx context.Context, h *nodeHandle) {
	log := util.WithNode(h.name)

	count, ok := r.e.resolver.InterfaceCount(h.platform)
	if !ok {
		h.failStatus = StatusMappingError
		h.failDetail = fmt.Sprintf("no interface table for platform %s", h.platform)
		log.Error(h.failDetail)
		return
	}

	if ctx.Err() != nil {
		h.failStatus = StatusTransientFailure
		h.failDetail = "run cancelled before node creation"
		return
	}

	params := controlplane.NodeParams{
		Platform:   h.platform,
		Interfaces: count,
		X:          h.position.X,
		Y:          h.position.Y,
	}

	_, err := withRetry(ctx, r.e.opts.Retry, func(ctx context.Context) error {
		id, err := r.e.cp.CreateNode(ctx, r.topo.Lab, h.name, params)
		if err != nil {
			return err
		}
		h.id = id
		h.created = true
		return nil
	})
	if err == nil {
		log.WithField("id", h.id).Debug("node created")
		return
	}

	if errors.Is(err, controlplane.ErrAlreadyExists) {
		r.adoptNode(ctx, h)
		return
	}

	h.failStatus = StatusTransientFailure
	h.failDetail = fmt.Sprintf("create node: %v", err)
	log.Error(h.failDetail)
}

// adoptNodes looks up every node without creating anything (verify mode).
func (r *run) adoptNodes(ctx context.Context) {
	for _, h := range r.nodes {
		r.adoptNode(ctx, h)
	}
}

// adoptNode binds the handle to an existing control-plane node. A platform
// mismatch is fatal for the node: deploying onto a node of the wrong type is
// never silently accepted.
func (r *run) adoptNode(ctx context.Context, h *nodeHandle) {
	var info *controlplane.NodeInfo
	_, err := withRetry(ctx, r.e.opts.Retry, func(ctx context.Context) error {
		var err error
		info, err = r.e.cp.FindNode(ctx, r.topo.Lab, h.name)
		return err
	})
	if err != nil {
		h.failStatus = StatusTransientFailure
		h.failDetail = fmt.Sprintf("lookup node: %v", err)
		util.WithNode(h.name).Error(h.failDetail)
		return
	}

	if info.Platform != h.platform {
		h.failStatus = StatusLinkConflict
		h.failDetail = fmt.Sprintf("node exists with platform %s, topology declares %s",
			info.Platform, h.platform)
		util.WithNode(h.name).Error(h.failDetail)
		return
	}

	h.id = info.ID
	util.WithNode(h.name).WithField("id", h.id).Debug("adopted existing node")
}

// resolveEndpoints maps every endpoint's logical interface name to its
// control-plane index, and propagates node provisioning failures onto the
// connections that touch them. A resolution failure is recorded loudly with
// the platform, interface, and reason — it is a table gap, not a fluke.
func (r *run) resolveEndpoints() {
	for _, w := range r.works {
		for _, ep := range w.endpoints {
			h, ok := r.nodes[ep.ep.Node]
			if !ok {
				w.fail(StatusMappingError, fmt.Sprintf("%s: unknown node", ep.ep))
				continue
			}
			ep.platform = h.platform

			if h.failStatus != "" {
				w.fail(h.failStatus, fmt.Sprintf("node %s: %s", h.name, h.failDetail))
				continue
			}

			index, err := r.e.resolver.Resolve(h.platform, ep.ep.Interface)
			if err != nil {
				var me *ifmap.MappingError
				if errors.As(err, &me) {
					util.WithConnection(w.name).Errorf(
						"interface map gap: platform=%s interface=%s: %v",
						me.Platform, me.Name, err)
				}
				w.fail(StatusMappingError, err.Error())
				continue
			}
			ep.index = index
			ep.resolved = true
		}
	}
}
