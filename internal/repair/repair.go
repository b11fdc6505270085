// Package repair returns virtual networks left floating by forced
// substrate removals to a fully unembedded state.
package repair

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/vne-simulator/internal/embedding"
	"github.com/signalsfoundry/vne-simulator/internal/logging"
	"github.com/signalsfoundry/vne-simulator/kb"
	"github.com/signalsfoundry/vne-simulator/model"
)

// Report lists which networks were torn down and which were left alone.
type Report struct {
	Repaired []string
	Skipped  []string
}

// Coordinator repairs floating virtual networks through the engine.
type Coordinator struct {
	engine *embedding.Engine
	store  *kb.KnowledgeBase
	log    logging.Logger
}

// NewCoordinator builds a coordinator. A nil logger is replaced by Noop.
func NewCoordinator(engine *embedding.Engine, log logging.Logger) *Coordinator {
	return &Coordinator{
		engine: engine,
		store:  engine.Store(),
		log:    logging.OrNoop(log),
	}
}

// Repair inspects each virtual network. A network with no network-level
// host but with hosted elements is re-bound to the substrate and then
// unembedded. A network whose host is set but whose elements reference
// missing hosts is unembedded as well. Consistent networks are skipped,
// so calling Repair again is harmless.
func (c *Coordinator) Repair(ctx context.Context, snetID string, vnetIDs []string) (*Report, error) {
	snet, err := c.store.GetNetwork(snetID)
	if err != nil {
		return nil, err
	}
	if snet.IsVirtual() {
		return nil, fmt.Errorf("%w: %q is not a substrate network", model.ErrInvalidRequest, snetID)
	}

	report := &Report{}
	for _, id := range vnetIDs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		vnet, err := c.store.GetNetwork(id)
		if err != nil {
			return report, err
		}
		if !vnet.IsVirtual() {
			return report, fmt.Errorf("%w: %q is not a virtual network", model.ErrInvalidRequest, id)
		}

		hosted, dangling := c.inspect(vnet)
		switch {
		case vnet.Host == "" && hosted > 0:
			if c.engine.IsFloating(id) {
				if err := c.engine.RestoreNetworkHost(ctx, id, snetID); err != nil {
					return report, err
				}
			}
		case vnet.Host != "" && dangling > 0:
		default:
			report.Skipped = append(report.Skipped, id)
			continue
		}

		if err := c.engine.UnembedNetwork(ctx, id); err != nil {
			return report, fmt.Errorf("tear down %q: %w", id, err)
		}
		report.Repaired = append(report.Repaired, id)
		c.logger(ctx).Info(ctx, "repaired floating virtual network",
			logging.String("network_id", id),
			logging.String("substrate_id", snetID),
			logging.Int("hosted_elements", hosted),
			logging.Int("dangling_hosts", dangling),
		)
	}
	return report, nil
}

// logger prefers the run logger carried by ctx.
func (c *Coordinator) logger(ctx context.Context) logging.Logger {
	if l := logging.LoggerFromContext(ctx); l != nil {
		return l
	}
	return c.log
}

// inspect counts elements with a host and, of those, hosts that no
// longer exist.
func (c *Coordinator) inspect(vnet *model.Network) (hosted, dangling int) {
	ids := append(append([]string(nil), vnet.NodeIDs...), vnet.LinkIDs...)
	for _, id := range ids {
		host, ok := c.store.HostOf(id)
		if !ok {
			continue
		}
		hosted++
		if !c.store.Exists(host) {
			dangling++
		}
	}
	return hosted, dangling
}
