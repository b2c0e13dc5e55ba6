// Package controlplane is a thin typed client for the virtualization host's
// REST API: create node, create network, bind interface, query interfaces.
//
// Every response is decoded into a per-endpoint struct and every API error is
// mapped into the package's error taxonomy so callers never inspect HTTP
// status codes. The client carries a per-call timeout but never retries —
// different callers want different retry policies.
package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// API error codes the taxonomy depends on.
const (
	// codeCannotLink is the host's "cannot link node" rejection, returned
	// when the bind targets an interface index the node does not have.
	codeCannotLink = 60032

	// codeInterfaceBusy is returned when the interface is already bound.
	codeInterfaceBusy = 60035
)

const defaultTimeout = 15 * time.Second

// Client talks to one control plane. Safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
	timeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-call timeout applied when the caller's context
// has no earlier deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithAPIKey sets the bearer token sent on every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpc = h }
}

// New creates a client for the control plane at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		httpc:   &http.Client{},
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateNode creates a node and returns its assigned id.
// A name collision returns ErrAlreadyExists; the caller adopts the existing
// node via FindNode.
func (c *Client) CreateNode(ctx context.Context, lab, name string, params NodeParams) (NodeID, error) {
	req := createNodeRequest{
		Name:       name,
		Template:   params.Platform,
		Interfaces: params.Interfaces,
		Left:       params.X,
		Top:        params.Y,
	}
	var resp idResponse
	err := c.do(ctx, http.MethodPost, c.labPath(lab, "nodes"), req, &resp)
	if err != nil {
		return 0, err
	}
	return NodeID(resp.Data.ID), nil
}

// FindNode looks up a node by name. Returns ErrNotFound on a miss.
func (c *Client) FindNode(ctx context.Context, lab, name string) (*NodeInfo, error) {
	var resp nodeListResponse
	if err := c.do(ctx, http.MethodGet, c.labPath(lab, "nodes"), nil, &resp); err != nil {
		return nil, err
	}
	for i := range resp.Data {
		if resp.Data[i].Name == name {
			return &resp.Data[i], nil
		}
	}
	return nil, fmt.Errorf("node %q in lab %s: %w", name, lab, ErrNotFound)
}

// CreateNetwork creates a network and returns its assigned id.
// Same ErrAlreadyExists contract as CreateNode.
func (c *Client) CreateNetwork(ctx context.Context, lab, name string, kind NetworkKind) (NetworkID, error) {
	req := createNetworkRequest{Name: name, Kind: string(kind)}
	var resp idResponse
	if err := c.do(ctx, http.MethodPost, c.labPath(lab, "networks"), req, &resp); err != nil {
		return 0, err
	}
	return NetworkID(resp.Data.ID), nil
}

// FindNetwork looks up a network by name. Returns ErrNotFound on a miss.
func (c *Client) FindNetwork(ctx context.Context, lab, name string) (*NetworkInfo, error) {
	var resp networkListResponse
	if err := c.do(ctx, http.MethodGet, c.labPath(lab, "networks"), nil, &resp); err != nil {
		return nil, err
	}
	for i := range resp.Data {
		if resp.Data[i].Name == name {
			return &resp.Data[i], nil
		}
	}
	return nil, fmt.Errorf("network %q in lab %s: %w", name, lab, ErrNotFound)
}

// BindInterface binds one node interface index to a network.
// Failure modes: *InvalidIndexError (index not on node), *BoundError
// (already bound; carries the current network), *TransientError (retryable).
func (c *Client) BindInterface(ctx context.Context, lab string, node NodeID, index int, network NetworkID) error {
	path := c.labPath(lab, fmt.Sprintf("nodes/%d/interfaces/%d", node, index))
	err := c.do(ctx, http.MethodPut, path, bindRequest{NetworkID: network}, nil)
	if err == nil {
		return nil
	}

	// Decorate taxonomy errors with the node/index the caller was binding.
	switch e := err.(type) {
	case *InvalidIndexError:
		e.Node = node
		e.Index = index
	case *BoundError:
		e.Node = node
		e.Index = index
	}
	return err
}

// GetInterfaces returns the node's observed interface bindings keyed by
// integer index. Interfaces without a network_id key come back unbound.
func (c *Client) GetInterfaces(ctx context.Context, lab string, node NodeID) (InterfaceSnapshot, error) {
	path := c.labPath(lab, fmt.Sprintf("nodes/%d/interfaces", node))
	var resp interfacesResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	snap := make(InterfaceSnapshot, len(resp.Data.Ethernet))
	for _, w := range resp.Data.Ethernet {
		st := InterfaceState{Name: w.Name}
		if w.NetworkID != nil {
			st.Network = *w.NetworkID
			st.Bound = true
		}
		snap[w.Index] = st
	}
	return snap, nil
}

func (c *Client) labPath(lab, suffix string) string {
	return fmt.Sprintf("/api/labs/%s/%s", url.PathEscape(lab), suffix)
}

// do issues one request and decodes the response into out (when non-nil).
// API-level failures are mapped into the package error taxonomy.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("controlplane: marshal %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("controlplane: build %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	op := method + " " + path
	resp, err := c.httpc.Do(req)
	if err != nil {
		return classifyTransport(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return classifyTransport(op, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("controlplane: decode %s: %w", op, err)
		}
		return nil
	}

	return c.mapAPIError(op, resp.StatusCode, data)
}

// mapAPIError converts a non-2xx response into the error taxonomy.
func (c *Client) mapAPIError(op string, status int, body []byte) error {
	if status >= 500 {
		return &TransientError{Op: op, Err: fmt.Errorf("server error %d: %s", status, firstLine(body))}
	}

	var ae apiError
	// A malformed error body on a 4xx is not retryable; fall through with
	// code 0 and surface the raw body.
	_ = json.Unmarshal(body, &ae)

	switch {
	case ae.Code == codeCannotLink:
		return &InvalidIndexError{Code: ae.Code, Message: ae.Message}
	case ae.Code == codeInterfaceBusy:
		// The current binding is reported in the message's trailing
		// "network_id=N" when present; the body also carries it as data.
		return &BoundError{Network: parseBoundNetwork(body)}
	case status == http.StatusConflict:
		return fmt.Errorf("%s: %s: %w", op, ae.Message, ErrAlreadyExists)
	case status == http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case status == http.StatusTooManyRequests:
		return &TransientError{Op: op, Err: fmt.Errorf("rate limited: %s", ae.Message)}
	default:
		return fmt.Errorf("controlplane: %s: api error %d (code %d): %s", op, status, ae.Code, ae.Message)
	}
}

// parseBoundNetwork extracts the current network id from an interface-busy
// error body: {"status":"fail","code":60035,"data":{"network_id":3}}.
func parseBoundNetwork(body []byte) NetworkID {
	var e struct {
		Data struct {
			NetworkID NetworkID `json:"network_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &e); err != nil {
		return 0
	}
	return e.Data.NetworkID
}

// firstLine truncates a response body for error messages.
func firstLine(body []byte) string {
	s := string(body)
	for i, r := range s {
		if r == '\n' || i > 200 {
			return s[:i]
		}
	}
	return s
}
