package controlplane

// NodeID is a control-plane node identifier, assigned at creation.
type NodeID int

// NetworkID is a control-plane network identifier, assigned at creation.
type NetworkID int

// NetworkKind distinguishes point-to-point links from shared segments.
type NetworkKind string

const (
	KindP2P  NetworkKind = "p2p"
	KindMgmt NetworkKind = "mgmt"
)

// NodeParams carries the create-node request fields beyond the name.
type NodeParams struct {
	// Platform is the router template on the host.
	Platform string
	// Interfaces is the number of interface indices to allocate. Must cover
	// the highest index the platform's interface map can produce.
	Interfaces int
	// X, Y are canvas coordinates; display-only.
	X int
	Y int
}

// NodeInfo is the observed state of an existing node.
type NodeInfo struct {
	ID       NodeID `json:"id"`
	Name     string `json:"name"`
	Platform string `json:"template"`
}

// NetworkInfo is the observed state of an existing network.
type NetworkInfo struct {
	ID   NetworkID   `json:"id"`
	Name string      `json:"name"`
	Kind NetworkKind `json:"kind"`
}

// InterfaceState is one interface's observed binding.
type InterfaceState struct {
	Name    string
	Network NetworkID
	// Bound distinguishes "network_id absent" (unbound) from a present
	// value. An absent key is never folded into network 0.
	Bound bool
}

// InterfaceSnapshot maps control-plane interface index to observed state for
// one node. The key is the same integer index the ifmap resolver produces.
type InterfaceSnapshot map[int]InterfaceState

// wire types

type createNodeRequest struct {
	Name       string `json:"name"`
	Template   string `json:"template"`
	Interfaces int    `json:"ethernet"`
	Left       int    `json:"left"`
	Top        int    `json:"top"`
}

type createNetworkRequest struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

type bindRequest struct {
	NetworkID NetworkID `json:"network_id"`
}

type idResponse struct {
	Data struct {
		ID int `json:"id"`
	} `json:"data"`
}

type nodeListResponse struct {
	Data []NodeInfo `json:"data"`
}

type networkListResponse struct {
	Data []NetworkInfo `json:"data"`
}

// wireInterface carries one interface in a query response. NetworkID is a
// pointer so an absent key decodes as nil rather than zero.
type wireInterface struct {
	Index     int        `json:"index"`
	Name      string     `json:"name"`
	NetworkID *NetworkID `json:"network_id,omitempty"`
}

type interfacesResponse struct {
	Data struct {
		Ethernet []wireInterface `json:"ethernet"`
	} `json:"data"`
}

// apiError is the control plane's structured error envelope.
type apiError struct {
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}
