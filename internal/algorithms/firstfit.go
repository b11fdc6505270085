package algorithms

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/vne-simulator/internal/embedding"
	"github.com/signalsfoundry/vne-simulator/internal/observability"
	"github.com/signalsfoundry/vne-simulator/internal/paths"
	"github.com/signalsfoundry/vne-simulator/model"
)

// FirstFit spreads a virtual network over substrate servers: each virtual
// server goes to the first server that still fits, each virtual switch
// follows its first neighbouring server, and each virtual link is either
// local or routed over the shortest catalog path with enough bandwidth.
type FirstFit struct {
	base
	catalog *paths.Catalog
}

// NewFirstFit builds the path-aware first-fit strategy.
func NewFirstFit(engine *embedding.Engine, catalog *paths.Catalog, opts ...Option) *FirstFit {
	return &FirstFit{base: newBase(engine, opts), catalog: catalog}
}

func (f *FirstFit) Name() string { return NameFirstFit }

// Prepare validates the request set and requires generated paths.
func (f *FirstFit) Prepare(snetID string, vnetIDs []string) error {
	if err := f.prepare(snetID, vnetIDs); err != nil {
		return err
	}
	return f.catalog.RequirePaths(context.Background(), snetID)
}

// Execute places each prepared network in order.
func (f *FirstFit) Execute(ctx context.Context) (*Result, error) {
	if err := f.requirePrepared(); err != nil {
		return nil, err
	}
	res := &Result{}
	for _, id := range f.vnetIDs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		o, err := f.place(ctx, id)
		if err != nil {
			return res, err
		}
		res.Outcomes = append(res.Outcomes, o)
	}
	return res, nil
}

func (f *FirstFit) place(ctx context.Context, vnetID string) (o Outcome, err error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "firstfit.place", vnetID,
		attribute.String("vne.substrate_id", f.snetID))
	defer func() {
		observability.EndSpan(span, err)
		if err == nil {
			f.record(ctx, NameFirstFit, o, start)
		}
	}()

	o = Outcome{NetworkID: vnetID}
	m, err := f.plan(ctx, vnetID)
	if err == nil {
		err = f.engine.ApplyMapping(ctx, *m)
	}
	if err != nil {
		if isRejection(err) {
			o.Status = Rejected
			o.Reason = err
			return o, nil
		}
		return o, err
	}
	o.Status = Accepted
	return o, nil
}

// plan builds a mapping against tentative residuals without touching the
// store. Shortfalls come back as capacity or missing-path errors.
func (f *FirstFit) plan(ctx context.Context, vnetID string) (*embedding.Mapping, error) {
	vnet, err := f.store.GetNetwork(vnetID)
	if err != nil {
		return nil, err
	}
	servers := f.store.ListServers(f.snetID)
	if len(servers) == 0 {
		return nil, fmt.Errorf("%w: substrate %q has no servers", model.ErrInsufficientCapacity, f.snetID)
	}
	residual := make(map[string]model.Resources, len(servers))
	for _, s := range servers {
		residual[s.ID] = s.Server.Residual
	}

	m := &embedding.Mapping{
		VirtualNetworkID:   vnetID,
		SubstrateNetworkID: f.snetID,
		Nodes:              make(map[string]string, len(vnet.NodeIDs)),
		Links:              make(map[string]string, len(vnet.LinkIDs)),
	}

	for _, vs := range f.store.ListServers(vnetID) {
		demand := vs.Demand()
		placed := false
		for _, s := range servers {
			if residual[s.ID].Fits(demand) {
				m.Nodes[vs.ID] = s.ID
				residual[s.ID] = residual[s.ID].Sub(demand)
				placed = true
				break
			}
		}
		if !placed {
			return nil, fmt.Errorf("%w: no server fits %q (%s)", model.ErrInsufficientCapacity, vs.ID, demand)
		}
	}

	vlinks := f.store.ListLinks(vnetID)
	for _, sw := range f.store.ListSwitches(vnetID) {
		m.Nodes[sw.ID] = neighbourHost(sw.ID, vlinks, m.Nodes, servers[0].ID)
	}
	// Switches next to other switches only: settle them after the first
	// pass so chains resolve in creation order.
	for _, sw := range f.store.ListSwitches(vnetID) {
		m.Nodes[sw.ID] = neighbourHost(sw.ID, vlinks, m.Nodes, m.Nodes[sw.ID])
	}

	linkUsed := make(map[string]int64)
	pathUsed := make(map[string]int64)
	for _, vl := range vlinks {
		src, dst := m.Nodes[vl.Source], m.Nodes[vl.Target]
		if src == dst {
			m.Links[vl.ID] = src
			continue
		}
		candidates, err := f.catalog.PathsBetween(ctx, f.snetID, src, dst)
		if err != nil {
			return nil, err
		}
		chosen := ""
		for _, p := range candidates {
			if f.pathFits(p, vl.Bandwidth, linkUsed, pathUsed) {
				chosen = p.ID
				pathUsed[p.ID] += vl.Bandwidth
				for _, lid := range p.LinkIDs {
					linkUsed[lid] += vl.Bandwidth
				}
				break
			}
		}
		if chosen == "" {
			return nil, fmt.Errorf("%w: no path from %q to %q carries %d for %q",
				model.ErrInsufficientCapacity, src, dst, vl.Bandwidth, vl.ID)
		}
		m.Links[vl.ID] = chosen
	}
	return m, nil
}

func (f *FirstFit) pathFits(p *model.Path, bw int64, linkUsed, pathUsed map[string]int64) bool {
	if p.Residual-pathUsed[p.ID] < bw {
		return false
	}
	for _, lid := range p.LinkIDs {
		l, err := f.store.GetLink(lid)
		if err != nil || l.Residual-linkUsed[lid] < bw {
			return false
		}
	}
	return true
}

// neighbourHost returns the host of the first already-placed neighbour of
// a virtual switch, or fallback.
func neighbourHost(swID string, vlinks []*model.Link, placed map[string]string, fallback string) string {
	for _, l := range vlinks {
		var other string
		switch swID {
		case l.Source:
			other = l.Target
		case l.Target:
			other = l.Source
		default:
			continue
		}
		if host, ok := placed[other]; ok && other != swID {
			return host
		}
	}
	return fallback
}
