package model

// Link is a directed edge between two nodes of the same network. For a
// virtual link Bandwidth is the demand.
type Link struct {
	ID        string
	NetworkID string
	Source    string
	Target    string
	Bandwidth int64
	Residual  int64
}

// NewLink builds a link with residual equal to bandwidth.
func NewLink(id, networkID, source, target string, bandwidth int64) *Link {
	return &Link{
		ID:        id,
		NetworkID: networkID,
		Source:    source,
		Target:    target,
		Bandwidth: bandwidth,
		Residual:  bandwidth,
	}
}

// Clone returns a copy.
func (l *Link) Clone() *Link {
	if l == nil {
		return nil
	}
	out := *l
	return &out
}

// Path is a precomputed sequence of substrate links between two servers.
// Its residual is tracked alongside the residuals of its links and must
// never exceed any of them.
type Path struct {
	ID        string
	NetworkID string
	Source    string
	Target    string

	// NodeIDs has len(LinkIDs)+1 entries, Source first and Target last.
	NodeIDs []string
	LinkIDs []string

	Bandwidth int64
	Residual  int64
}

// Hops is the number of links the path traverses.
func (p *Path) Hops() int { return len(p.LinkIDs) }

// Clone returns a deep copy.
func (p *Path) Clone() *Path {
	if p == nil {
		return nil
	}
	out := *p
	out.NodeIDs = append([]string(nil), p.NodeIDs...)
	out.LinkIDs = append([]string(nil), p.LinkIDs...)
	return &out
}
