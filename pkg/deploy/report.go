package deploy

import (
	"sort"
	"strings"
	"time"
)

// buildReport aggregates per-connection outcomes and cross-check annotations
// into the final report. Pure aggregation: statuses arrive final from the
// establish/verify stages and are copied, never recomputed and never
// upgraded here.
func (r *run) buildReport() *Report {
	r.finished = time.Now()

	report := &Report{
		RunID:    r.runID,
		Lab:      r.topo.Lab,
		Started:  r.started,
		Finished: r.finished,
	}

	for _, name := range r.topo.NodeNames() {
		h := r.nodes[name]
		nr := NodeResult{
			Name:     h.name,
			Platform: h.platform,
			ID:       h.id,
			Created:  h.created,
		}
		if h.failStatus != "" {
			nr.Error = h.failDetail
		}
		report.Nodes = append(report.Nodes, nr)
	}

	for _, w := range r.works {
		cr := &ConnectionResult{
			Connection:  w.name,
			Network:     w.network,
			Status:      w.status,
			Detail:      w.detail,
			Attempts:    w.attemptCount(),
			Annotations: w.annotations,
		}
		for _, ep := range w.endpoints {
			er := EndpointResult{
				Node:      ep.ep.Node,
				Interface: ep.ep.Interface,
				Index:     ep.index,
				Expected:  w.networkID,
				Attempts:  ep.attempts,
			}
			if ep.observedSet && ep.observed.Bound {
				net := ep.observed.Network
				er.Observed = &net
			}
			cr.Endpoints = append(cr.Endpoints, er)

			report.Interfaces = append(report.Interfaces, InterfaceStatus{
				Node:       ep.ep.Node,
				Interface:  ep.ep.Interface,
				Index:      ep.index,
				Connection: w.name,
				Expected:   w.networkID,
				Observed:   er.Observed,
				Status:     w.status,
				CrossCheck: crossCheckNote(w.annotations, ep),
			})
		}
		report.Connections = append(report.Connections, cr)

		if w.status.Failed() {
			report.Failed = true
		}
	}

	sort.Slice(report.Interfaces, func(i, j int) bool {
		a, b := report.Interfaces[i], report.Interfaces[j]
		if a.Node != b.Node {
			return a.Node < b.Node
		}
		return a.Index < b.Index
	})

	return report
}

// crossCheckNote picks the annotation concerning this endpoint, if any.
func crossCheckNote(annotations []string, ep *endpointWork) string {
	for _, a := range annotations {
		if strings.Contains(a, ep.ep.String()) || strings.Contains(a, "for "+ep.ep.Node+":") {
			return a
		}
	}
	return ""
}

// Summary counts connections by status.
func (r *Report) Summary() map[Status]int {
	out := make(map[Status]int)
	for _, c := range r.Connections {
		out[c.Status]++
	}
	return out
}
