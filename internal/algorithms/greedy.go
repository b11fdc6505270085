package algorithms

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/vne-simulator/internal/embedding"
	"github.com/signalsfoundry/vne-simulator/internal/observability"
	"github.com/signalsfoundry/vne-simulator/model"
)

// Greedy places a whole virtual network on the single substrate server
// with the largest aggregate residual (cpu + memory + storage). Virtual
// links become zero-hop links on that server.
type Greedy struct {
	base
}

// NewGreedy builds the greedy single-server heuristic.
func NewGreedy(engine *embedding.Engine, opts ...Option) *Greedy {
	return &Greedy{base: newBase(engine, opts)}
}

func (g *Greedy) Name() string { return NameGreedy }

// Prepare validates and stores the request set.
func (g *Greedy) Prepare(snetID string, vnetIDs []string) error {
	return g.prepare(snetID, vnetIDs)
}

// Execute places each prepared network in order. Server scores are
// recomputed before every network.
func (g *Greedy) Execute(ctx context.Context) (*Result, error) {
	if err := g.requirePrepared(); err != nil {
		return nil, err
	}
	res := &Result{}
	for _, id := range g.vnetIDs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		o, err := g.place(ctx, id)
		if err != nil {
			return res, err
		}
		res.Outcomes = append(res.Outcomes, o)
	}
	return res, nil
}

func (g *Greedy) place(ctx context.Context, vnetID string) (o Outcome, err error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "greedy.place", vnetID,
		attribute.String("vne.substrate_id", g.snetID))
	defer func() {
		observability.EndSpan(span, err)
		if err == nil {
			g.record(ctx, NameGreedy, o, start)
		}
	}()

	o = Outcome{NetworkID: vnetID}
	best := g.selectServer()
	if best == nil {
		o.Status = Rejected
		o.Reason = fmt.Errorf("%w: substrate %q has no servers", model.ErrInsufficientCapacity, g.snetID)
		return o, nil
	}

	vnet, err := g.store.GetNetwork(vnetID)
	if err != nil {
		return o, err
	}
	var demand model.Resources
	for _, n := range g.store.ListServers(vnetID) {
		demand = demand.Add(n.Demand())
	}
	if !best.Server.Residual.Fits(demand) {
		o.Status = Rejected
		o.Reason = model.NewServerCapacityError(best.ID, demand, best.Server.Residual)
		return o, nil
	}

	m := embedding.Mapping{
		VirtualNetworkID:   vnetID,
		SubstrateNetworkID: g.snetID,
		Nodes:              make(map[string]string, len(vnet.NodeIDs)),
		Links:              make(map[string]string, len(vnet.LinkIDs)),
	}
	for _, id := range vnet.NodeIDs {
		m.Nodes[id] = best.ID
	}
	for _, id := range vnet.LinkIDs {
		m.Links[id] = best.ID
	}
	span.SetAttributes(attribute.String("vne.host_server", best.ID))

	if err := g.engine.ApplyMapping(ctx, m); err != nil {
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

// selectServer returns the server with the largest aggregate residual,
// the earliest created one on ties.
func (g *Greedy) selectServer() *model.Node {
	var best *model.Node
	for _, s := range g.store.ListServers(g.snetID) {
		if best == nil || s.Server.Residual.Sum() > best.Server.Residual.Sum() {
			best = s
		}
	}
	return best
}
