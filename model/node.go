package model

import "fmt"

// NodeKind tags the variant carried by a Node.
type NodeKind int

const (
	NodeServer NodeKind = iota
	NodeSwitch
)

func (k NodeKind) String() string {
	switch k {
	case NodeServer:
		return "server"
	case NodeSwitch:
		return "switch"
	default:
		return "unknown"
	}
}

// Resources is a vector over the three independent server dimensions.
type Resources struct {
	CPU     int64
	Memory  int64
	Storage int64
}

// Sum returns CPU + Memory + Storage.
func (r Resources) Sum() int64 { return r.CPU + r.Memory + r.Storage }

// Add returns r + o.
func (r Resources) Add(o Resources) Resources {
	return Resources{CPU: r.CPU + o.CPU, Memory: r.Memory + o.Memory, Storage: r.Storage + o.Storage}
}

// Sub returns r - o.
func (r Resources) Sub(o Resources) Resources {
	return Resources{CPU: r.CPU - o.CPU, Memory: r.Memory - o.Memory, Storage: r.Storage - o.Storage}
}

// Neg returns -r.
func (r Resources) Neg() Resources { return Resources{}.Sub(r) }

// Fits reports whether demand d fits into r in every dimension.
func (r Resources) Fits(d Resources) bool {
	return d.CPU <= r.CPU && d.Memory <= r.Memory && d.Storage <= r.Storage
}

// NonNegative reports whether no dimension is below zero.
func (r Resources) NonNegative() bool {
	return r.CPU >= 0 && r.Memory >= 0 && r.Storage >= 0
}

func (r Resources) String() string {
	return fmt.Sprintf("cpu=%d mem=%d storage=%d", r.CPU, r.Memory, r.Storage)
}

// ServerResources is the payload of a server node. For a virtual server
// Capacity is the demand and Residual is unused.
type ServerResources struct {
	Capacity Resources
	Residual Resources
}

// Node is a server or a switch. Only servers carry resources; Server is
// nil for switches.
type Node struct {
	ID        string
	NetworkID string
	Kind      NodeKind
	Server    *ServerResources
}

// NewServer builds a server node with residual equal to capacity.
func NewServer(id, networkID string, capacity Resources) *Node {
	return &Node{
		ID:        id,
		NetworkID: networkID,
		Kind:      NodeServer,
		Server:    &ServerResources{Capacity: capacity, Residual: capacity},
	}
}

// NewSwitch builds a switch node.
func NewSwitch(id, networkID string) *Node {
	return &Node{ID: id, NetworkID: networkID, Kind: NodeSwitch}
}

// IsServer reports whether the node is a server with a resource payload.
func (n *Node) IsServer() bool { return n != nil && n.Kind == NodeServer && n.Server != nil }

// Demand returns the resource demand of a virtual server, or zero for
// switches.
func (n *Node) Demand() Resources {
	if !n.IsServer() {
		return Resources{}
	}
	return n.Server.Capacity
}

// Clone returns a deep copy.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := *n
	if n.Server != nil {
		srv := *n.Server
		out.Server = &srv
	}
	return &out
}
