package model

// NetworkKind distinguishes physical substrate networks from virtual
// network requests.
type NetworkKind int

const (
	NetworkSubstrate NetworkKind = iota
	NetworkVirtual
)

func (k NetworkKind) String() string {
	switch k {
	case NetworkSubstrate:
		return "substrate"
	case NetworkVirtual:
		return "virtual"
	default:
		return "unknown"
	}
}

// Network groups nodes and links. Membership is tracked by ID only;
// the store owns the entities themselves.
type Network struct {
	ID   string
	Kind NetworkKind

	// NodeIDs and LinkIDs are kept in creation order.
	NodeIDs []string
	LinkIDs []string

	// Host is the substrate network a virtual network is embedded into,
	// or empty when the virtual network is not embedded.
	Host string
}

// IsVirtual reports whether the network is a virtual network request.
func (n *Network) IsVirtual() bool { return n != nil && n.Kind == NetworkVirtual }

// Clone returns a deep copy safe to hand out to readers.
func (n *Network) Clone() *Network {
	if n == nil {
		return nil
	}
	out := *n
	out.NodeIDs = append([]string(nil), n.NodeIDs...)
	out.LinkIDs = append([]string(nil), n.LinkIDs...)
	return &out
}
