package deploy

import (
	"time"

	"github.com/vrlab-network/vrlab/pkg/controlplane"
)

// Status is the final per-connection outcome of a deployment run.
type Status string

const (
	// StatusEstablished: both endpoints independently observed bound to the
	// expected network after this run's binds.
	StatusEstablished Status = "established"

	// StatusAlreadySatisfied: both endpoints were already bound to the
	// expected network before any bind was issued this run.
	StatusAlreadySatisfied Status = "already-satisfied"

	// StatusMappingError: an endpoint's interface name has no index mapping,
	// or the control plane rejected a resolved index. Not retried.
	StatusMappingError Status = "mapping-error"

	// StatusLinkConflict: pre-existing binding to a different network.
	// Requires a human decision; never auto-resolved.
	StatusLinkConflict Status = "link-conflict"

	// StatusVerificationMismatch: a bind was accepted but observation did
	// not confirm it.
	StatusVerificationMismatch Status = "verification-mismatch"

	// StatusTransientFailure: retries exhausted, or the run was cancelled
	// before this connection completed.
	StatusTransientFailure Status = "transient-failure"
)

// Failed reports whether the status counts toward the run's failure exit.
func (s Status) Failed() bool {
	switch s {
	case StatusEstablished, StatusAlreadySatisfied:
		return false
	}
	return true
}

// EndpointResult is one side of a connection after verification.
type EndpointResult struct {
	Node      string                  `json:"node"`
	Interface string                  `json:"interface"`
	Index     int                     `json:"index"`
	Expected  controlplane.NetworkID  `json:"expected_network"`
	Observed  *controlplane.NetworkID `json:"observed_network,omitempty"`
	Attempts  int                     `json:"attempts,omitempty"`
}

// ConnectionResult is the externally visible artifact for one connection.
type ConnectionResult struct {
	Connection string           `json:"connection"`
	Network    string           `json:"network"`
	Status     Status           `json:"status"`
	Detail     string           `json:"detail,omitempty"`
	Attempts   int              `json:"attempts"`
	Endpoints  []EndpointResult `json:"endpoints"`

	// Annotations carry cross-check findings (source disagreements,
	// cross-check failures). Annotations never change Status.
	Annotations []string `json:"annotations,omitempty"`
}

// InterfaceStatus is one row of the per-node per-interface status table.
type InterfaceStatus struct {
	Node       string                  `json:"node"`
	Interface  string                  `json:"interface"`
	Index      int                     `json:"index"`
	Connection string                  `json:"connection"`
	Expected   controlplane.NetworkID  `json:"expected_network"`
	Observed   *controlplane.NetworkID `json:"observed_network,omitempty"`
	Status     Status                  `json:"status"`
	CrossCheck string                  `json:"cross_check,omitempty"`
}

// NodeResult records the provisioning outcome for one node.
type NodeResult struct {
	Name     string              `json:"name"`
	Platform string              `json:"platform"`
	ID       controlplane.NodeID `json:"id,omitempty"`
	Created  bool                `json:"created"`
	Error    string              `json:"error,omitempty"`
}

// Report is the final artifact of a deployment or verification run.
type Report struct {
	RunID    string    `json:"run_id"`
	Lab      string    `json:"lab"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`

	Nodes       []NodeResult        `json:"nodes"`
	Connections []*ConnectionResult `json:"connections"`
	Interfaces  []InterfaceStatus   `json:"interfaces"`

	// Failed is true when any connection ended in a failed status.
	Failed bool `json:"failed"`
}

// FailedConnections returns the connections whose status counts as failure,
// in input order.
func (r *Report) FailedConnections() []*ConnectionResult {
	var out []*ConnectionResult
	for _, c := range r.Connections {
		if c.Status.Failed() {
			out = append(out, c)
		}
	}
	return out
}
