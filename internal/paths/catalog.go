// Package paths enumerates and caches simple substrate paths between
// servers. Generated paths live in the knowledge base; the catalog tracks
// which networks have been generated, with which bounds, and whether the
// topology changed since.
package paths

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/signalsfoundry/vne-simulator/internal/logging"
	"github.com/signalsfoundry/vne-simulator/kb"
	"github.com/signalsfoundry/vne-simulator/model"
)

const (
	DefaultMinHops = 1
	DefaultMaxHops = 4
)

// MetricsRecorder captures catalog metrics without binding to a backend.
type MetricsRecorder interface {
	ObservePathGeneration(d time.Duration)
	SetPathCacheHitRatio(ratio float64)
}

// GenerateResult summarises one generation pass.
type GenerateResult struct {
	Created int
	Kept    int
	Removed int
}

type entry struct {
	minHops   int
	maxHops   int
	stale     bool
	generated time.Time
}

// Catalog owns path generation for substrate networks.
type Catalog struct {
	store   *kb.KnowledgeBase
	log     logging.Logger
	metrics MetricsRecorder

	defaultMin int
	defaultMax int

	mu       sync.Mutex
	entries  map[string]*entry
	hits     int64
	misses   int64
	invalids int64

	// gen serialises generation passes.
	gen sync.Mutex

	unsubscribe func()
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithLogger sets the catalog logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Catalog) { c.log = logging.OrNoop(l) }
}

// WithMetricsRecorder wires a metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(c *Catalog) { c.metrics = m }
}

// WithDefaultBounds sets the bounds used by GenerateDefault.
func WithDefaultBounds(minHops, maxHops int) Option {
	return func(c *Catalog) {
		c.defaultMin = minHops
		c.defaultMax = maxHops
	}
}

// NewCatalog builds a catalog over store and subscribes it to topology
// changes.
func NewCatalog(store *kb.KnowledgeBase, opts ...Option) *Catalog {
	c := &Catalog{
		store:      store,
		log:        logging.Noop(),
		defaultMin: DefaultMinHops,
		defaultMax: DefaultMaxHops,
		entries:    make(map[string]*entry),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.unsubscribe = store.Subscribe(c.onEvent)
	return c
}

// Close detaches the catalog from the knowledge base.
func (c *Catalog) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
}

// GenerateDefault generates paths with the configured default bounds.
func (c *Catalog) GenerateDefault(ctx context.Context, networkID string) (*GenerateResult, error) {
	return c.Generate(ctx, networkID, c.defaultMin, c.defaultMax)
}

// Generate enumerates every simple path between distinct servers of the
// substrate network whose hop count lies in [minHops, maxHops]. Paths
// already present with the same link sequence are kept; paths outside the
// new set are removed unless they host guests.
func (c *Catalog) Generate(ctx context.Context, networkID string, minHops, maxHops int) (*GenerateResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if minHops < 1 || minHops > maxHops {
		return nil, fmt.Errorf("%w: path bounds [%d, %d]", model.ErrInvalidRequest, minHops, maxHops)
	}
	net, err := c.store.GetNetwork(networkID)
	if err != nil {
		return nil, err
	}
	if net.Kind != model.NetworkSubstrate {
		return nil, fmt.Errorf("%w: paths can only be generated for substrate networks, %q is %s",
			model.ErrInvalidRequest, networkID, net.Kind)
	}

	c.gen.Lock()
	defer c.gen.Unlock()

	start := time.Now()
	found, err := c.enumerate(ctx, networkID, minHops, maxHops)
	if err != nil {
		return nil, err
	}

	res := &GenerateResult{}
	wanted := make(map[string]struct{}, len(found))
	for _, p := range found {
		wanted[p.ID] = struct{}{}
		if c.store.Exists(p.ID) {
			existing, err := c.store.GetPath(p.ID)
			if err != nil || !slices.Equal(existing.LinkIDs, p.LinkIDs) {
				return nil, fmt.Errorf("%w: path %q already names another element", kb.ErrDuplicateID, p.ID)
			}
			res.Kept++
			continue
		}
		if err := c.store.AddPath(p); err != nil {
			return nil, fmt.Errorf("add path %q: %w", p.ID, err)
		}
		res.Created++
	}
	for _, p := range c.store.ListPaths(networkID) {
		if _, ok := wanted[p.ID]; ok {
			continue
		}
		if len(c.store.GuestsOf(p.ID)) > 0 {
			res.Kept++
			continue
		}
		if err := c.store.DeletePath(p.ID); err != nil && !errors.Is(err, kb.ErrNotFound) {
			return nil, fmt.Errorf("remove path %q: %w", p.ID, err)
		}
		res.Removed++
	}

	c.mu.Lock()
	c.entries[networkID] = &entry{minHops: minHops, maxHops: maxHops, generated: time.Now()}
	c.mu.Unlock()

	elapsed := time.Since(start)
	if c.metrics != nil {
		c.metrics.ObservePathGeneration(elapsed)
	}
	c.log.Debug(ctx, "paths generated",
		logging.String("network_id", networkID),
		logging.Int("min_hops", minHops),
		logging.Int("max_hops", maxHops),
		logging.Int("created", res.Created),
		logging.Int("kept", res.Kept),
		logging.Int("removed", res.Removed),
		logging.Any("elapsed", elapsed),
	)
	return res, nil
}

// enumerate runs a depth-first search from every server, following links
// in their Source -> Target direction and never revisiting a node.
func (c *Catalog) enumerate(ctx context.Context, networkID string, minHops, maxHops int) ([]*model.Path, error) {
	links := c.store.ListLinks(networkID)
	out := make(map[string][]*model.Link)
	for _, l := range links {
		out[l.Source] = append(out[l.Source], l)
	}
	servers := c.store.ListServers(networkID)
	isServer := make(map[string]bool, len(servers))
	for _, s := range servers {
		isServer[s.ID] = true
	}

	var found []*model.Path
	for _, src := range servers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		visited := map[string]bool{src.ID: true}
		nodes := []string{src.ID}
		var stack []*model.Link

		var walk func(at string)
		walk = func(at string) {
			depth := len(stack)
			if depth >= minHops && at != src.ID && isServer[at] {
				found = append(found, newPath(networkID, nodes, stack))
			}
			if depth == maxHops {
				return
			}
			for _, l := range out[at] {
				if visited[l.Target] {
					continue
				}
				visited[l.Target] = true
				nodes = append(nodes, l.Target)
				stack = append(stack, l)
				walk(l.Target)
				stack = stack[:len(stack)-1]
				nodes = nodes[:len(nodes)-1]
				visited[l.Target] = false
			}
		}
		walk(src.ID)
	}
	return found, nil
}

func newPath(networkID string, nodes []string, links []*model.Link) *model.Path {
	ids := make([]string, len(links))
	bw := links[0].Residual
	for i, l := range links {
		ids[i] = l.ID
		if l.Residual < bw {
			bw = l.Residual
		}
	}
	return &model.Path{
		ID:        PathID(networkID, ids),
		NetworkID: networkID,
		Source:    nodes[0],
		Target:    nodes[len(nodes)-1],
		NodeIDs:   append([]string(nil), nodes...),
		LinkIDs:   ids,
		Bandwidth: bw,
		Residual:  bw,
	}
}

// PathID derives the deterministic ID of a path from its link sequence.
// Every link ID is length-prefixed, so distinct sequences never share an
// ID whatever characters the link IDs contain.
func PathID(networkID string, linkIDs []string) string {
	var b strings.Builder
	b.WriteString(networkID)
	b.WriteString("_path_")
	for i, id := range linkIDs {
		if i > 0 {
			b.WriteByte('/')
		}
		b.WriteString(strconv.Itoa(len(id)))
		b.WriteByte(':')
		b.WriteString(id)
	}
	return b.String()
}

// PathsBetween returns the paths from src to dst ordered by hop count and
// then ID. A stale network is regenerated first.
func (c *Catalog) PathsBetween(ctx context.Context, networkID, src, dst string) ([]*model.Path, error) {
	all, err := c.Paths(ctx, networkID)
	if err != nil {
		return nil, err
	}
	var out []*model.Path
	for _, p := range all {
		if p.Source == src && p.Target == dst {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: between %q and %q in %q", model.ErrNoPathsGenerated, src, dst, networkID)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Hops() != out[j].Hops() {
			return out[i].Hops() < out[j].Hops()
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Paths returns the paths of the network in creation order, regenerating
// a stale network first. Paths kept only because they still host guests
// fall outside the current bounds and are left out.
func (c *Catalog) Paths(ctx context.Context, networkID string) ([]*model.Path, error) {
	if err := c.refresh(ctx, networkID); err != nil {
		return nil, err
	}
	all := c.store.ListPaths(networkID)
	minHops, maxHops, ok := c.Bounds(networkID)
	if !ok {
		return all, nil
	}
	out := all[:0]
	for _, p := range all {
		if p.Hops() >= minHops && p.Hops() <= maxHops {
			out = append(out, p)
		}
	}
	return out, nil
}

// RequirePaths fails with ErrNoPathsGenerated when the network has no
// paths.
func (c *Catalog) RequirePaths(ctx context.Context, networkID string) error {
	all, err := c.Paths(ctx, networkID)
	if err != nil {
		return err
	}
	if len(all) == 0 {
		return fmt.Errorf("%w: substrate %q", model.ErrNoPathsGenerated, networkID)
	}
	return nil
}

// Bounds returns the bounds last used for the network.
func (c *Catalog) Bounds(networkID string) (minHops, maxHops int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[networkID]
	if !ok {
		return 0, 0, false
	}
	return e.minHops, e.maxHops, true
}

// Stale reports whether the network's paths were invalidated by a
// topology change and not yet regenerated.
func (c *Catalog) Stale(networkID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[networkID]
	return ok && e.stale
}

// Stats returns cache hit, miss and invalidation counters.
func (c *Catalog) Stats() (hits, misses, invalids int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, c.invalids
}

func (c *Catalog) refresh(ctx context.Context, networkID string) error {
	c.mu.Lock()
	e, ok := c.entries[networkID]
	var stale bool
	var minHops, maxHops int
	if ok && !e.stale {
		c.hits++
	} else {
		c.misses++
	}
	if ok {
		stale = e.stale
		minHops, maxHops = e.minHops, e.maxHops
	}
	ratio := c.hitRatioLocked()
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.SetPathCacheHitRatio(ratio)
	}
	if !stale {
		return nil
	}
	c.log.Info(ctx, "regenerating stale paths",
		logging.String("network_id", networkID),
		logging.Int("min_hops", minHops),
		logging.Int("max_hops", maxHops),
	)
	_, err := c.Generate(ctx, networkID, minHops, maxHops)
	return err
}

func (c *Catalog) hitRatioLocked() float64 {
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total)
}

func (c *Catalog) onEvent(e kb.Event) {
	if e.Type != kb.EventTopologyChanged {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if en, ok := c.entries[e.NetworkID]; ok && !en.stale {
		en.stale = true
		c.invalids++
	}
}
