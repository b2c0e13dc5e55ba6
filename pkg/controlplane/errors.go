package controlplane

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors callers classify with errors.Is.
var (
	// ErrAlreadyExists: create-node/create-network name collision. Callers
	// treat this as success plus a lookup.
	ErrAlreadyExists = errors.New("controlplane: already exists")

	// ErrNotFound: lookup miss.
	ErrNotFound = errors.New("controlplane: not found")
)

// InvalidIndexError reports a bind rejected because the interface index does
// not exist on the node. This means the caller's interface-map table is wrong
// for the platform — a configuration bug, not a runtime fluke — so it carries
// everything needed to find the bad table entry.
type InvalidIndexError struct {
	Node    NodeID
	Index   int
	Code    int
	Message string
}

func (e *InvalidIndexError) Error() string {
	return fmt.Sprintf("controlplane: node %d has no interface index %d (api code %d: %s)",
		e.Node, e.Index, e.Code, e.Message)
}

// BoundError reports a bind rejected because the interface is already bound.
// Network is the network it is currently bound to; the caller decides whether
// that is idempotent success (same network) or a conflict (different one).
type BoundError struct {
	Node    NodeID
	Index   int
	Network NetworkID
}

func (e *BoundError) Error() string {
	return fmt.Sprintf("controlplane: node %d interface %d already bound to network %d",
		e.Node, e.Index, e.Network)
}

// TransientError wraps failures worth retrying: 5xx responses, network
// errors, and timeouts. The client itself never retries — policy lives in
// the caller.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("controlplane: %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// classifyTransport wraps transport-level failures. Timeouts and connection
// errors count as transient; explicit cancellation is passed through so
// callers stop retrying immediately.
func classifyTransport(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &TransientError{Op: op, Err: err}
}
