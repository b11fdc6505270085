package embedding

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/vne-simulator/internal/logging"
	"github.com/signalsfoundry/vne-simulator/kb"
	"github.com/signalsfoundry/vne-simulator/model"
)

// EmbedNetwork records that the virtual network is hosted by the substrate
// network. Only the network-level pointer changes.
func (e *Engine) EmbedNetwork(ctx context.Context, vnetID, snetID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.embedNetworkLocked(vnetID, snetID)
	e.observe(ctx, OpEmbedNetwork, err, logging.String("guest", vnetID), logging.String("host", snetID))
	return err
}

func (e *Engine) embedNetworkLocked(vnetID, snetID string) error {
	if err := e.requireNoFloatingLocked(); err != nil {
		return err
	}
	vnet, err := e.store.GetNetwork(vnetID)
	if err != nil {
		return err
	}
	snet, err := e.store.GetNetwork(snetID)
	if err != nil {
		return err
	}
	if !vnet.IsVirtual() || snet.IsVirtual() {
		return fmt.Errorf("%w: cannot embed %s network %q into %s network %q",
			ErrInvalidRequest, vnet.Kind, vnetID, snet.Kind, snetID)
	}
	if vnet.Host != "" {
		return fmt.Errorf("%w: virtual network %q is hosted by %q", ErrAlreadyEmbedded, vnetID, vnet.Host)
	}
	return e.store.SetNetworkHost(vnetID, snetID)
}

// EmbedNode places a virtual node on a substrate node. A virtual server
// needs a substrate server with enough residual in every dimension; a
// virtual switch may sit on a switch or a server and consumes nothing.
func (e *Engine) EmbedNode(ctx context.Context, vnodeID, hostID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.embedNodeLocked(vnodeID, hostID)
	e.observe(ctx, OpEmbedNode, err, logging.String("guest", vnodeID), logging.String("host", hostID))
	return err
}

func (e *Engine) embedNodeLocked(vnodeID, hostID string) error {
	if err := e.requireNoFloatingLocked(); err != nil {
		return err
	}
	vnode, err := e.store.GetNode(vnodeID)
	if err != nil {
		return err
	}
	host, err := e.store.GetNode(hostID)
	if err != nil {
		return err
	}
	vnet, err := e.virtualNetworkOf(vnodeID)
	if err != nil {
		return err
	}
	snet, err := e.substrateNetworkOf(hostID)
	if err != nil {
		return err
	}
	if err := checkHostNetwork(vnet, snet); err != nil {
		return err
	}
	if current, ok := e.store.HostOf(vnodeID); ok {
		return fmt.Errorf("%w: %q is hosted by %q", ErrAlreadyEmbedded, vnodeID, current)
	}

	switch vnode.Kind {
	case model.NodeSwitch:
		return e.store.BindGuest(vnodeID, hostID)
	case model.NodeServer:
		if !host.IsServer() {
			return fmt.Errorf("%w: virtual server %q cannot be hosted by %s %q",
				ErrInvalidRequest, vnodeID, host.Kind, hostID)
		}
		demand := vnode.Demand()
		if !host.Server.Residual.Fits(demand) {
			return model.NewServerCapacityError(hostID, demand, host.Server.Residual)
		}
		if err := e.store.AdjustServerResidual(hostID, demand.Neg()); err != nil {
			return err
		}
		if err := e.store.BindGuest(vnodeID, hostID); err != nil {
			_ = e.store.AdjustServerResidual(hostID, demand)
			return err
		}
		return nil
	default:
		return fmt.Errorf("%w: node %q has unknown kind", ErrInvalidRequest, vnodeID)
	}
}

// EmbedLink places a virtual link on a substrate link, a substrate path
// or a substrate server. A server host models a zero-hop link between two
// guests of that server and consumes no bandwidth.
func (e *Engine) EmbedLink(ctx context.Context, vlinkID, hostID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.embedLinkLocked(vlinkID, hostID)
	e.observe(ctx, OpEmbedLink, err, logging.String("guest", vlinkID), logging.String("host", hostID))
	return err
}

func (e *Engine) embedLinkLocked(vlinkID, hostID string) error {
	if err := e.requireNoFloatingLocked(); err != nil {
		return err
	}
	vlink, err := e.store.GetLink(vlinkID)
	if err != nil {
		return err
	}
	vnet, err := e.virtualNetworkOf(vlinkID)
	if err != nil {
		return err
	}
	host, err := e.store.Element(hostID)
	if err != nil {
		return err
	}
	snet, err := e.substrateNetworkOf(hostID)
	if err != nil {
		return err
	}
	if err := checkHostNetwork(vnet, snet); err != nil {
		return err
	}
	if current, ok := e.store.HostOf(vlinkID); ok {
		return fmt.Errorf("%w: %q is hosted by %q", ErrAlreadyEmbedded, vlinkID, current)
	}

	switch host.Kind {
	case kb.ElementNode:
		if !host.Node.IsServer() {
			return fmt.Errorf("%w: virtual link %q cannot be hosted by switch %q", ErrInvalidRequest, vlinkID, hostID)
		}
		return e.store.BindGuest(vlinkID, hostID)
	case kb.ElementLink:
		return e.embedOnLinkLocked(vlink, host.Link)
	case kb.ElementPath:
		return e.embedOnPathLocked(vlink, host.Path)
	default:
		return fmt.Errorf("%w: %s %q cannot host a virtual link", ErrInvalidRequest, host.Kind, hostID)
	}
}

func (e *Engine) embedOnLinkLocked(vlink, host *model.Link) error {
	if host.Residual < vlink.Bandwidth {
		return model.NewBandwidthCapacityError(host.ID, vlink.Bandwidth, host.Residual)
	}
	if err := e.store.AdjustLinkResidual(host.ID, -vlink.Bandwidth); err != nil {
		return err
	}
	if err := e.store.BindGuest(vlink.ID, host.ID); err != nil {
		_ = e.store.AdjustLinkResidual(host.ID, vlink.Bandwidth)
		return err
	}
	e.clampPathsLocked(host.NetworkID, []string{host.ID})
	return nil
}

// embedOnPathLocked reserves bandwidth on every link of the path and on
// the path itself. Any failure restores what was already reserved.
func (e *Engine) embedOnPathLocked(vlink *model.Link, path *model.Path) error {
	bw := vlink.Bandwidth
	if path.Residual < bw {
		return model.NewBandwidthCapacityError(path.ID, bw, path.Residual)
	}
	for _, lid := range path.LinkIDs {
		l, err := e.store.GetLink(lid)
		if err != nil {
			return err
		}
		if l.Residual < bw {
			return model.NewBandwidthCapacityError(lid, bw, l.Residual)
		}
	}

	var reserved []string
	rollback := func() {
		for _, lid := range reserved {
			_ = e.store.AdjustLinkResidual(lid, bw)
		}
	}
	for _, lid := range path.LinkIDs {
		if err := e.store.AdjustLinkResidual(lid, -bw); err != nil {
			rollback()
			return err
		}
		reserved = append(reserved, lid)
	}
	if err := e.store.AdjustPathResidual(path.ID, -bw); err != nil {
		rollback()
		return err
	}
	if err := e.store.BindGuest(vlink.ID, path.ID); err != nil {
		_ = e.store.AdjustPathResidual(path.ID, bw)
		rollback()
		return err
	}
	e.clampPathsLocked(path.NetworkID, path.LinkIDs)
	return nil
}

// clampPathsLocked recomputes the residual of every path crossing one of
// the touched links: the path's own headroom, capped by its tightest link.
func (e *Engine) clampPathsLocked(snetID string, touched []string) {
	set := make(map[string]struct{}, len(touched))
	for _, id := range touched {
		set[id] = struct{}{}
	}
	for _, p := range e.store.ListPaths(snetID) {
		crosses := false
		for _, lid := range p.LinkIDs {
			if _, ok := set[lid]; ok {
				crosses = true
				break
			}
		}
		if !crosses {
			continue
		}
		target := e.pathHeadroomLocked(p)
		for _, lid := range p.LinkIDs {
			if l, err := e.store.GetLink(lid); err == nil && l.Residual < target {
				target = l.Residual
			}
		}
		if target < 0 {
			target = 0
		}
		if target != p.Residual {
			_ = e.store.SetPathResidual(p.ID, target)
		}
	}
}

// pathHeadroomLocked is the path bandwidth minus the demand of the
// virtual links it hosts.
func (e *Engine) pathHeadroomLocked(p *model.Path) int64 {
	headroom := p.Bandwidth
	for _, g := range e.store.GuestsOf(p.ID) {
		if l, err := e.store.GetLink(g); err == nil {
			headroom -= l.Bandwidth
		}
	}
	return headroom
}
