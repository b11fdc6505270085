package kb

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/vne-simulator/model"
)

var (
	// ErrDuplicateID indicates an entity with the same ID already exists.
	ErrDuplicateID = errors.New("duplicate id")
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrCapacityViolation indicates a residual update would leave the
	// range [0, capacity].
	ErrCapacityViolation = errors.New("capacity violation")
	// ErrInvalidElement indicates an entity failed structural validation.
	ErrInvalidElement = errors.New("invalid element")
	// ErrAlreadyBound indicates a guest already has a host.
	ErrAlreadyBound = errors.New("guest already bound to a host")
	// ErrInUse indicates an entity is still referenced by embeddings.
	ErrInUse = errors.New("element is in use")
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	// EventTopologyChanged is emitted when nodes or links of a substrate
	// network are removed.
	EventTopologyChanged EventType = iota
)

// Event is emitted to subscribers when something interesting happens.
type Event struct {
	Type       EventType
	NetworkID  string
	ElementIDs []string
}

// ElementKind identifies the entity type behind an ID.
type ElementKind int

const (
	ElementUnknown ElementKind = iota
	ElementNetwork
	ElementNode
	ElementLink
	ElementPath
)

func (k ElementKind) String() string {
	switch k {
	case ElementNetwork:
		return "network"
	case ElementNode:
		return "node"
	case ElementLink:
		return "link"
	case ElementPath:
		return "path"
	default:
		return "unknown"
	}
}

// Removal describes everything a forced deletion took out of the store.
type Removal struct {
	NetworkID string
	NodeIDs   []string
	LinkIDs   []string
	PathIDs   []string
	// Orphans are guests whose host was removed. Their host pointer is
	// left in place and now dangles.
	Orphans []string
}

// KnowledgeBase is the in-memory owner of every network, node, link and
// path, plus the guest/host index over their IDs. All IDs share a single
// namespace.
type KnowledgeBase struct {
	mu sync.RWMutex

	networks     map[string]*model.Network
	networkOrder []string
	nodes        map[string]*model.Node
	links        map[string]*model.Link
	paths        map[string]*model.Path
	pathOrder    map[string][]string

	hostOf   map[string]string
	guestsOf map[string]map[string]struct{}

	subs   map[int]func(Event)
	nextID int
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		networks:  make(map[string]*model.Network),
		nodes:     make(map[string]*model.Node),
		links:     make(map[string]*model.Link),
		paths:     make(map[string]*model.Path),
		pathOrder: make(map[string][]string),
		hostOf:    make(map[string]string),
		guestsOf:  make(map[string]map[string]struct{}),
		subs:      make(map[int]func(Event)),
	}
}

//
// ---------- Networks ----------
//

// AddNetwork creates an empty network.
func (kb *KnowledgeBase) AddNetwork(id string, kind model.NetworkKind) error {
	if id == "" {
		return fmt.Errorf("%w: empty network ID", ErrInvalidElement)
	}

	kb.mu.Lock()
	defer kb.mu.Unlock()

	if kb.existsLocked(id) {
		return fmt.Errorf("%w: %q", ErrDuplicateID, id)
	}
	kb.networks[id] = &model.Network{ID: id, Kind: kind}
	kb.networkOrder = append(kb.networkOrder, id)
	return nil
}

// GetNetwork returns a copy of the network with the given ID.
func (kb *KnowledgeBase) GetNetwork(id string) (*model.Network, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	n, ok := kb.networks[id]
	if !ok {
		return nil, fmt.Errorf("%w: network %q", ErrNotFound, id)
	}
	return n.Clone(), nil
}

// ListNetworks returns all networks of the given kind in creation order.
func (kb *KnowledgeBase) ListNetworks(kind model.NetworkKind) []*model.Network {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	var out []*model.Network
	for _, id := range kb.networkOrder {
		if n := kb.networks[id]; n.Kind == kind {
			out = append(out, n.Clone())
		}
	}
	return out
}

// SetNetworkHost updates the network-level host pointer of a virtual
// network. An empty host clears it.
func (kb *KnowledgeBase) SetNetworkHost(id, host string) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	n, ok := kb.networks[id]
	if !ok {
		return fmt.Errorf("%w: network %q", ErrNotFound, id)
	}
	if !n.IsVirtual() {
		return fmt.Errorf("%w: network %q is not virtual", ErrInvalidElement, id)
	}
	n.Host = host
	return nil
}

// DeleteNetwork removes a network together with its nodes and links. It
// refuses while any element of the network hosts or is hosted by
// something.
func (kb *KnowledgeBase) DeleteNetwork(id string) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	n, ok := kb.networks[id]
	if !ok {
		return fmt.Errorf("%w: network %q", ErrNotFound, id)
	}
	ids := append([]string{id}, n.NodeIDs...)
	ids = append(ids, n.LinkIDs...)
	ids = append(ids, kb.pathOrder[id]...)
	for _, eid := range ids {
		if _, bound := kb.hostOf[eid]; bound {
			return fmt.Errorf("%w: %q is embedded", ErrInUse, eid)
		}
		if len(kb.guestsOf[eid]) > 0 {
			return fmt.Errorf("%w: %q hosts guests", ErrInUse, eid)
		}
	}

	for _, pid := range kb.pathOrder[id] {
		delete(kb.paths, pid)
	}
	delete(kb.pathOrder, id)
	for _, lid := range n.LinkIDs {
		delete(kb.links, lid)
	}
	for _, nid := range n.NodeIDs {
		delete(kb.nodes, nid)
	}
	delete(kb.networks, id)
	kb.networkOrder = removeString(kb.networkOrder, id)
	return nil
}

//
// ---------- Nodes ----------
//

// AddNode inserts a node into its owning network.
func (kb *KnowledgeBase) AddNode(node *model.Node) error {
	if node == nil || node.ID == "" {
		return fmt.Errorf("%w: empty node", ErrInvalidElement)
	}
	if node.Kind == model.NodeServer {
		if node.Server == nil {
			return fmt.Errorf("%w: server %q has no resources", ErrInvalidElement, node.ID)
		}
		if !node.Server.Capacity.NonNegative() || !node.Server.Residual.NonNegative() ||
			!node.Server.Capacity.Fits(node.Server.Residual) {
			return fmt.Errorf("%w: server %q residual must lie within [0, capacity]", ErrInvalidElement, node.ID)
		}
	}
	if node.Kind == model.NodeSwitch && node.Server != nil {
		return fmt.Errorf("%w: switch %q cannot carry resources", ErrInvalidElement, node.ID)
	}

	kb.mu.Lock()
	defer kb.mu.Unlock()

	if kb.existsLocked(node.ID) {
		return fmt.Errorf("%w: %q", ErrDuplicateID, node.ID)
	}
	net, ok := kb.networks[node.NetworkID]
	if !ok {
		return fmt.Errorf("%w: network %q for node %q", ErrNotFound, node.NetworkID, node.ID)
	}
	kb.nodes[node.ID] = node.Clone()
	net.NodeIDs = append(net.NodeIDs, node.ID)
	return nil
}

// GetNode returns a copy of the node with the given ID.
func (kb *KnowledgeBase) GetNode(id string) (*model.Node, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	n, ok := kb.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: node %q", ErrNotFound, id)
	}
	return n.Clone(), nil
}

// ListNodes returns all nodes of a network in creation order.
func (kb *KnowledgeBase) ListNodes(networkID string) []*model.Node {
	return kb.listNodes(networkID, func(*model.Node) bool { return true })
}

// ListServers returns the servers of a network in creation order.
func (kb *KnowledgeBase) ListServers(networkID string) []*model.Node {
	return kb.listNodes(networkID, func(n *model.Node) bool { return n.Kind == model.NodeServer })
}

// ListSwitches returns the switches of a network in creation order.
func (kb *KnowledgeBase) ListSwitches(networkID string) []*model.Node {
	return kb.listNodes(networkID, func(n *model.Node) bool { return n.Kind == model.NodeSwitch })
}

func (kb *KnowledgeBase) listNodes(networkID string, keep func(*model.Node) bool) []*model.Node {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	net, ok := kb.networks[networkID]
	if !ok {
		return nil
	}
	out := make([]*model.Node, 0, len(net.NodeIDs))
	for _, id := range net.NodeIDs {
		if n := kb.nodes[id]; keep(n) {
			out = append(out, n.Clone())
		}
	}
	return out
}

// AdjustServerResidual adds delta to a server's residual. The update is
// rejected if any dimension would drop below zero or exceed capacity.
func (kb *KnowledgeBase) AdjustServerResidual(id string, delta model.Resources) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	n, ok := kb.nodes[id]
	if !ok {
		return fmt.Errorf("%w: node %q", ErrNotFound, id)
	}
	if !n.IsServer() {
		return fmt.Errorf("%w: node %q is not a server", ErrInvalidElement, id)
	}
	next := n.Server.Residual.Add(delta)
	if !next.NonNegative() || !n.Server.Capacity.Fits(next) {
		return fmt.Errorf("%w: server %q residual %s + delta %s outside [0, %s]",
			ErrCapacityViolation, id, n.Server.Residual, delta, n.Server.Capacity)
	}
	n.Server.Residual = next
	return nil
}

// DeleteNode force-removes a node, all links touching it and every path
// through those links.
func (kb *KnowledgeBase) DeleteNode(id string) (*Removal, error) {
	kb.mu.Lock()
	n, ok := kb.nodes[id]
	if !ok {
		kb.mu.Unlock()
		return nil, fmt.Errorf("%w: node %q", ErrNotFound, id)
	}
	net := kb.networks[n.NetworkID]
	rem := &Removal{NetworkID: n.NetworkID}

	for _, lid := range append([]string(nil), net.LinkIDs...) {
		l := kb.links[lid]
		if l.Source == id || l.Target == id {
			kb.deleteLinkLocked(net, lid, rem)
		}
	}
	// Paths may pass through the node without using one of its links
	// only if they start or end there, which the link sweep covers.
	kb.orphanGuestsLocked(id, rem)
	delete(kb.nodes, id)
	net.NodeIDs = removeString(net.NodeIDs, id)
	rem.NodeIDs = append(rem.NodeIDs, id)

	event, notify := kb.topologyEventLocked(net, rem)
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	if notify {
		for _, sub := range subs {
			sub(event)
		}
	}
	return rem, nil
}

//
// ---------- Links ----------
//

// AddLink inserts a link. Both endpoints must exist in the link's network.
func (kb *KnowledgeBase) AddLink(link *model.Link) error {
	if link == nil || link.ID == "" {
		return fmt.Errorf("%w: empty link", ErrInvalidElement)
	}
	if link.Bandwidth < 0 || link.Residual < 0 || link.Residual > link.Bandwidth {
		return fmt.Errorf("%w: link %q residual must lie within [0, bandwidth]", ErrInvalidElement, link.ID)
	}

	kb.mu.Lock()
	defer kb.mu.Unlock()

	if kb.existsLocked(link.ID) {
		return fmt.Errorf("%w: %q", ErrDuplicateID, link.ID)
	}
	net, ok := kb.networks[link.NetworkID]
	if !ok {
		return fmt.Errorf("%w: network %q for link %q", ErrNotFound, link.NetworkID, link.ID)
	}
	for _, end := range []string{link.Source, link.Target} {
		n, ok := kb.nodes[end]
		if !ok {
			return fmt.Errorf("%w: endpoint %q of link %q", ErrNotFound, end, link.ID)
		}
		if n.NetworkID != link.NetworkID {
			return fmt.Errorf("%w: endpoint %q of link %q is in network %q", ErrInvalidElement, end, link.ID, n.NetworkID)
		}
	}
	kb.links[link.ID] = link.Clone()
	net.LinkIDs = append(net.LinkIDs, link.ID)
	return nil
}

// GetLink returns a copy of the link with the given ID.
func (kb *KnowledgeBase) GetLink(id string) (*model.Link, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	l, ok := kb.links[id]
	if !ok {
		return nil, fmt.Errorf("%w: link %q", ErrNotFound, id)
	}
	return l.Clone(), nil
}

// ListLinks returns the links of a network in creation order.
func (kb *KnowledgeBase) ListLinks(networkID string) []*model.Link {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	net, ok := kb.networks[networkID]
	if !ok {
		return nil
	}
	out := make([]*model.Link, 0, len(net.LinkIDs))
	for _, id := range net.LinkIDs {
		out = append(out, kb.links[id].Clone())
	}
	return out
}

// AdjustLinkResidual adds delta to a link's residual bandwidth.
func (kb *KnowledgeBase) AdjustLinkResidual(id string, delta int64) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	l, ok := kb.links[id]
	if !ok {
		return fmt.Errorf("%w: link %q", ErrNotFound, id)
	}
	next := l.Residual + delta
	if next < 0 || next > l.Bandwidth {
		return fmt.Errorf("%w: link %q residual %d + delta %d outside [0, %d]",
			ErrCapacityViolation, id, l.Residual, delta, l.Bandwidth)
	}
	l.Residual = next
	return nil
}

// DeleteLink force-removes a link and every path through it.
func (kb *KnowledgeBase) DeleteLink(id string) (*Removal, error) {
	kb.mu.Lock()
	l, ok := kb.links[id]
	if !ok {
		kb.mu.Unlock()
		return nil, fmt.Errorf("%w: link %q", ErrNotFound, id)
	}
	net := kb.networks[l.NetworkID]
	rem := &Removal{NetworkID: l.NetworkID}
	kb.deleteLinkLocked(net, id, rem)

	event, notify := kb.topologyEventLocked(net, rem)
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	if notify {
		for _, sub := range subs {
			sub(event)
		}
	}
	return rem, nil
}

func (kb *KnowledgeBase) deleteLinkLocked(net *model.Network, id string, rem *Removal) {
	for _, pid := range append([]string(nil), kb.pathOrder[net.ID]...) {
		p := kb.paths[pid]
		for _, lid := range p.LinkIDs {
			if lid == id {
				kb.deletePathLocked(pid, rem)
				break
			}
		}
	}
	kb.orphanGuestsLocked(id, rem)
	delete(kb.links, id)
	net.LinkIDs = removeString(net.LinkIDs, id)
	rem.LinkIDs = append(rem.LinkIDs, id)
}

//
// ---------- Paths ----------
//

// AddPath inserts a path of a substrate network. Its links must exist and
// form a chain from Source to Target.
func (kb *KnowledgeBase) AddPath(path *model.Path) error {
	if path == nil || path.ID == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidElement)
	}
	if len(path.LinkIDs) == 0 || len(path.NodeIDs) != len(path.LinkIDs)+1 {
		return fmt.Errorf("%w: path %q has %d links and %d nodes", ErrInvalidElement, path.ID, len(path.LinkIDs), len(path.NodeIDs))
	}
	if path.Residual < 0 || path.Residual > path.Bandwidth {
		return fmt.Errorf("%w: path %q residual must lie within [0, bandwidth]", ErrInvalidElement, path.ID)
	}

	kb.mu.Lock()
	defer kb.mu.Unlock()

	if kb.existsLocked(path.ID) {
		return fmt.Errorf("%w: %q", ErrDuplicateID, path.ID)
	}
	net, ok := kb.networks[path.NetworkID]
	if !ok {
		return fmt.Errorf("%w: network %q for path %q", ErrNotFound, path.NetworkID, path.ID)
	}
	if net.Kind != model.NetworkSubstrate {
		return fmt.Errorf("%w: path %q in virtual network %q", ErrInvalidElement, path.ID, net.ID)
	}
	for i, lid := range path.LinkIDs {
		l, ok := kb.links[lid]
		if !ok {
			return fmt.Errorf("%w: link %q of path %q", ErrNotFound, lid, path.ID)
		}
		if l.NetworkID != path.NetworkID || l.Source != path.NodeIDs[i] || l.Target != path.NodeIDs[i+1] {
			return fmt.Errorf("%w: link %q does not continue path %q", ErrInvalidElement, lid, path.ID)
		}
	}
	kb.paths[path.ID] = path.Clone()
	kb.pathOrder[path.NetworkID] = append(kb.pathOrder[path.NetworkID], path.ID)
	return nil
}

// GetPath returns a copy of the path with the given ID.
func (kb *KnowledgeBase) GetPath(id string) (*model.Path, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	p, ok := kb.paths[id]
	if !ok {
		return nil, fmt.Errorf("%w: path %q", ErrNotFound, id)
	}
	return p.Clone(), nil
}

// ListPaths returns the paths of a substrate network in creation order.
func (kb *KnowledgeBase) ListPaths(networkID string) []*model.Path {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	ids := kb.pathOrder[networkID]
	out := make([]*model.Path, 0, len(ids))
	for _, id := range ids {
		out = append(out, kb.paths[id].Clone())
	}
	return out
}

// AdjustPathResidual adds delta to a path's residual bandwidth.
func (kb *KnowledgeBase) AdjustPathResidual(id string, delta int64) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	p, ok := kb.paths[id]
	if !ok {
		return fmt.Errorf("%w: path %q", ErrNotFound, id)
	}
	next := p.Residual + delta
	if next < 0 || next > p.Bandwidth {
		return fmt.Errorf("%w: path %q residual %d + delta %d outside [0, %d]",
			ErrCapacityViolation, id, p.Residual, delta, p.Bandwidth)
	}
	p.Residual = next
	return nil
}

// SetPathResidual overwrites a path's residual bandwidth.
func (kb *KnowledgeBase) SetPathResidual(id string, residual int64) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	p, ok := kb.paths[id]
	if !ok {
		return fmt.Errorf("%w: path %q", ErrNotFound, id)
	}
	if residual < 0 || residual > p.Bandwidth {
		return fmt.Errorf("%w: path %q residual %d outside [0, %d]", ErrCapacityViolation, id, residual, p.Bandwidth)
	}
	p.Residual = residual
	return nil
}

// DeletePath removes a path that hosts no guests.
func (kb *KnowledgeBase) DeletePath(id string) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	if _, ok := kb.paths[id]; !ok {
		return fmt.Errorf("%w: path %q", ErrNotFound, id)
	}
	if len(kb.guestsOf[id]) > 0 {
		return fmt.Errorf("%w: path %q hosts guests", ErrInUse, id)
	}
	kb.deletePathLocked(id, &Removal{})
	return nil
}

func (kb *KnowledgeBase) deletePathLocked(id string, rem *Removal) {
	p := kb.paths[id]
	kb.orphanGuestsLocked(id, rem)
	delete(kb.paths, id)
	kb.pathOrder[p.NetworkID] = removeString(kb.pathOrder[p.NetworkID], id)
	rem.PathIDs = append(rem.PathIDs, id)
}

//
// ---------- Guest/host index ----------
//

// BindGuest records that host now hosts guest.
func (kb *KnowledgeBase) BindGuest(guest, host string) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	if !kb.existsLocked(guest) {
		return fmt.Errorf("%w: guest %q", ErrNotFound, guest)
	}
	if !kb.existsLocked(host) {
		return fmt.Errorf("%w: host %q", ErrNotFound, host)
	}
	if current, ok := kb.hostOf[guest]; ok {
		return fmt.Errorf("%w: %q is hosted by %q", ErrAlreadyBound, guest, current)
	}
	kb.hostOf[guest] = host
	guests, ok := kb.guestsOf[host]
	if !ok {
		guests = make(map[string]struct{})
		kb.guestsOf[host] = guests
	}
	guests[guest] = struct{}{}
	return nil
}

// UnbindGuest clears the host of guest. It tolerates a host that no
// longer exists.
func (kb *KnowledgeBase) UnbindGuest(guest string) {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	host, ok := kb.hostOf[guest]
	if !ok {
		return
	}
	delete(kb.hostOf, guest)
	if guests, ok := kb.guestsOf[host]; ok {
		delete(guests, guest)
		if len(guests) == 0 {
			delete(kb.guestsOf, host)
		}
	}
}

// HostOf returns the host recorded for guest, which may no longer exist.
func (kb *KnowledgeBase) HostOf(guest string) (string, bool) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	host, ok := kb.hostOf[guest]
	return host, ok
}

// GuestsOf returns the sorted IDs of every guest of host.
func (kb *KnowledgeBase) GuestsOf(host string) []string {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return sortedKeys(kb.guestsOf[host])
}

// orphanGuestsLocked drops the reverse index of a host that is about to
// disappear. The guests' forward pointers are left dangling on purpose.
func (kb *KnowledgeBase) orphanGuestsLocked(host string, rem *Removal) {
	guests, ok := kb.guestsOf[host]
	if !ok {
		return
	}
	rem.Orphans = append(rem.Orphans, sortedKeys(guests)...)
	delete(kb.guestsOf, host)
}

//
// ---------- Lookup helpers ----------
//

// Kind reports which entity type an ID refers to.
func (kb *KnowledgeBase) Kind(id string) ElementKind {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.kindLocked(id)
}

// Exists reports whether any entity has the given ID.
func (kb *KnowledgeBase) Exists(id string) bool {
	return kb.Kind(id) != ElementUnknown
}

// NetworkOf returns the owning network ID of a node, link or path, or the
// ID itself for a network.
func (kb *KnowledgeBase) NetworkOf(id string) (string, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	switch kb.kindLocked(id) {
	case ElementNetwork:
		return id, nil
	case ElementNode:
		return kb.nodes[id].NetworkID, nil
	case ElementLink:
		return kb.links[id].NetworkID, nil
	case ElementPath:
		return kb.paths[id].NetworkID, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrNotFound, id)
	}
}

func (kb *KnowledgeBase) kindLocked(id string) ElementKind {
	if _, ok := kb.networks[id]; ok {
		return ElementNetwork
	}
	if _, ok := kb.nodes[id]; ok {
		return ElementNode
	}
	if _, ok := kb.links[id]; ok {
		return ElementLink
	}
	if _, ok := kb.paths[id]; ok {
		return ElementPath
	}
	return ElementUnknown
}

func (kb *KnowledgeBase) existsLocked(id string) bool {
	return kb.kindLocked(id) != ElementUnknown
}

// Counts summarises the number of stored entities.
type Counts struct {
	Networks int
	Nodes    int
	Links    int
	Paths    int
}

// Counts returns the current entity counts.
func (kb *KnowledgeBase) Counts() Counts {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return Counts{
		Networks: len(kb.networks),
		Nodes:    len(kb.nodes),
		Links:    len(kb.links),
		Paths:    len(kb.paths),
	}
}

//
// ---------- Subscriptions ----------
//

// Subscribe registers a callback for KB events. It returns an unsubscribe function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	id := kb.nextID
	kb.nextID++
	kb.subs[id] = fn

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		delete(kb.subs, id)
	}
}

func (kb *KnowledgeBase) subscribersLocked() []func(Event) {
	ids := make([]int, 0, len(kb.subs))
	for id := range kb.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		out = append(out, kb.subs[id])
	}
	return out
}

func (kb *KnowledgeBase) topologyEventLocked(net *model.Network, rem *Removal) (Event, bool) {
	if net.Kind != model.NetworkSubstrate {
		return Event{}, false
	}
	ids := append([]string(nil), rem.NodeIDs...)
	ids = append(ids, rem.LinkIDs...)
	return Event{Type: EventTopologyChanged, NetworkID: net.ID, ElementIDs: ids}, true
}

func removeString(in []string, s string) []string {
	for i, v := range in {
		if v == s {
			return append(in[:i:i], in[i+1:]...)
		}
	}
	return in
}

func sortedKeys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Element is a tagged view of any stored entity. Exactly one of the
// pointer fields is set, matching Kind.
type Element struct {
	Kind    ElementKind
	Network *model.Network
	Node    *model.Node
	Link    *model.Link
	Path    *model.Path
}

// ID returns the ID of the wrapped entity.
func (e *Element) ID() string {
	switch e.Kind {
	case ElementNetwork:
		return e.Network.ID
	case ElementNode:
		return e.Node.ID
	case ElementLink:
		return e.Link.ID
	case ElementPath:
		return e.Path.ID
	}
	return ""
}

// Element looks up an entity of any kind by ID.
func (kb *KnowledgeBase) Element(id string) (*Element, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	switch kb.kindLocked(id) {
	case ElementNetwork:
		return &Element{Kind: ElementNetwork, Network: kb.networks[id].Clone()}, nil
	case ElementNode:
		return &Element{Kind: ElementNode, Node: kb.nodes[id].Clone()}, nil
	case ElementLink:
		return &Element{Kind: ElementLink, Link: kb.links[id].Clone()}, nil
	case ElementPath:
		return &Element{Kind: ElementPath, Path: kb.paths[id].Clone()}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
}

// Snapshot is a consistent read-only copy of the whole store.
type Snapshot struct {
	Networks []*model.Network
	Nodes    []*model.Node
	Links    []*model.Link
	Paths    []*model.Path
	HostOf   map[string]string
}

// Snapshot copies every entity in creation order together with the
// guest index, under a single read lock.
func (kb *KnowledgeBase) Snapshot() *Snapshot {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	s := &Snapshot{HostOf: make(map[string]string, len(kb.hostOf))}
	for _, nid := range kb.networkOrder {
		net := kb.networks[nid]
		s.Networks = append(s.Networks, net.Clone())
		for _, id := range net.NodeIDs {
			s.Nodes = append(s.Nodes, kb.nodes[id].Clone())
		}
		for _, id := range net.LinkIDs {
			s.Links = append(s.Links, kb.links[id].Clone())
		}
		for _, id := range kb.pathOrder[nid] {
			s.Paths = append(s.Paths, kb.paths[id].Clone())
		}
	}
	for g, h := range kb.hostOf {
		s.HostOf[g] = h
	}
	return s
}
