package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/signalsfoundry/vne-simulator/internal/logging"
	"github.com/signalsfoundry/vne-simulator/kb"
	"github.com/signalsfoundry/vne-simulator/model"
)

// UnembedNetwork removes every node and link embedding of the virtual
// network, returns the reserved capacity to hosts that still exist and
// clears the network-level host. Calling it on an unembedded network is
// a no-op.
func (e *Engine) UnembedNetwork(ctx context.Context, vnetID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.unembedNetworkLocked(vnetID)
	e.observe(ctx, OpUnembedNetwork, err, logging.String("guest", vnetID))
	return err
}

func (e *Engine) unembedNetworkLocked(vnetID string) error {
	vnet, err := e.store.GetNetwork(vnetID)
	if err != nil {
		return err
	}
	if !vnet.IsVirtual() {
		return fmt.Errorf("%w: %q is not a virtual network", ErrInvalidRequest, vnetID)
	}

	var errs []error
	touched := make(map[string][]string)
	for _, lid := range vnet.LinkIDs {
		if err := e.releaseLinkLocked(lid, touched); err != nil {
			errs = append(errs, err)
		}
	}
	for _, nid := range vnet.NodeIDs {
		if err := e.releaseNodeLocked(nid); err != nil {
			errs = append(errs, err)
		}
	}
	for snetID, links := range touched {
		e.clampPathsLocked(snetID, links)
	}
	if err := e.store.SetNetworkHost(vnetID, ""); err != nil {
		errs = append(errs, err)
	}
	if _, ok := e.floating[vnetID]; ok {
		delete(e.floating, vnetID)
		e.setFloatingMetric()
	}
	return errors.Join(errs...)
}

func (e *Engine) releaseLinkLocked(vlinkID string, touched map[string][]string) error {
	hostID, ok := e.store.HostOf(vlinkID)
	if !ok {
		return nil
	}
	vlink, err := e.store.GetLink(vlinkID)
	if err != nil {
		return err
	}
	e.store.UnbindGuest(vlinkID)

	host, err := e.store.Element(hostID)
	if errors.Is(err, kb.ErrNotFound) {
		// Dangling: the capacity went away with the host.
		return nil
	}
	if err != nil {
		return err
	}
	bw := vlink.Bandwidth
	switch host.Kind {
	case kb.ElementLink:
		touched[host.Link.NetworkID] = append(touched[host.Link.NetworkID], host.Link.ID)
		return e.store.AdjustLinkResidual(host.Link.ID, bw)
	case kb.ElementPath:
		var errs []error
		for _, lid := range host.Path.LinkIDs {
			if err := e.store.AdjustLinkResidual(lid, bw); err != nil {
				errs = append(errs, err)
			}
		}
		touched[host.Path.NetworkID] = append(touched[host.Path.NetworkID], host.Path.LinkIDs...)
		return errors.Join(errs...)
	default:
		return nil
	}
}

func (e *Engine) releaseNodeLocked(vnodeID string) error {
	hostID, ok := e.store.HostOf(vnodeID)
	if !ok {
		return nil
	}
	vnode, err := e.store.GetNode(vnodeID)
	if err != nil {
		return err
	}
	e.store.UnbindGuest(vnodeID)

	if !vnode.IsServer() {
		return nil
	}
	host, err := e.store.GetNode(hostID)
	if errors.Is(err, kb.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !host.IsServer() {
		return nil
	}
	return e.store.AdjustServerResidual(hostID, vnode.Demand())
}

// RemoveSubstrateElement force-removes a substrate node or link. Links
// touching a removed node and paths crossing a removed link go with it.
// Guests of removed elements keep their now dangling host, and every
// virtual network owning such a guest loses its network-level host and
// becomes floating until repaired.
func (e *Engine) RemoveSubstrateElement(ctx context.Context, elementID string) (*kb.Removal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rem, err := e.removeLocked(ctx, elementID)
	e.observe(ctx, OpRemove, err, logging.String("element", elementID))
	return rem, err
}

func (e *Engine) removeLocked(ctx context.Context, elementID string) (*kb.Removal, error) {
	el, err := e.store.Element(elementID)
	if err != nil {
		return nil, err
	}
	if _, err := e.substrateNetworkOf(elementID); err != nil {
		return nil, err
	}

	var snetID string
	removedLinks := make(map[string]struct{})
	switch el.Kind {
	case kb.ElementNode:
		snetID = el.Node.NetworkID
		for _, l := range e.store.ListLinks(snetID) {
			if l.Source == elementID || l.Target == elementID {
				removedLinks[l.ID] = struct{}{}
			}
		}
	case kb.ElementLink:
		snetID = el.Link.NetworkID
		removedLinks[elementID] = struct{}{}
	default:
		return nil, fmt.Errorf("%w: only substrate nodes and links can be removed, %q is a %s",
			ErrInvalidRequest, elementID, el.Kind)
	}

	// Path guests lose their path, so the bandwidth they hold on the
	// surviving links of that path is released now. Any failure before the
	// deletion takes the releases back.
	type release struct {
		link string
		bw   int64
	}
	var released []release
	rollback := func() {
		for i := len(released) - 1; i >= 0; i-- {
			_ = e.store.AdjustLinkResidual(released[i].link, -released[i].bw)
		}
	}
	for _, p := range e.store.ListPaths(snetID) {
		if !crossesAny(p, removedLinks) {
			continue
		}
		for _, g := range e.store.GuestsOf(p.ID) {
			vlink, err := e.store.GetLink(g)
			if err != nil {
				continue
			}
			for _, lid := range p.LinkIDs {
				if _, gone := removedLinks[lid]; gone {
					continue
				}
				if err := e.store.AdjustLinkResidual(lid, vlink.Bandwidth); err != nil {
					rollback()
					return nil, fmt.Errorf("release %q on %q: %w", g, lid, err)
				}
				released = append(released, release{link: lid, bw: vlink.Bandwidth})
			}
		}
	}

	var rem *kb.Removal
	if el.Kind == kb.ElementNode {
		rem, err = e.store.DeleteNode(elementID)
	} else {
		rem, err = e.store.DeleteLink(elementID)
	}
	if err != nil {
		rollback()
		return nil, err
	}
	survivors := make([]string, 0, len(released))
	for _, r := range released {
		survivors = append(survivors, r.link)
	}
	e.clampPathsLocked(snetID, survivors)

	affected := make(map[string]struct{})
	for _, g := range rem.Orphans {
		netID, err := e.store.NetworkOf(g)
		if err != nil {
			continue
		}
		affected[netID] = struct{}{}
	}
	for vnetID := range affected {
		if err := e.store.SetNetworkHost(vnetID, ""); err != nil {
			return rem, err
		}
		e.floating[vnetID] = struct{}{}
	}
	e.setFloatingMetric()

	if len(affected) > 0 {
		e.log.Warn(ctx, "substrate removal left virtual networks floating",
			logging.String("element", elementID),
			logging.Strings("floating", e.floatingLocked()),
		)
	}
	return rem, nil
}

func crossesAny(p *model.Path, links map[string]struct{}) bool {
	for _, lid := range p.LinkIDs {
		if _, ok := links[lid]; ok {
			return true
		}
	}
	return false
}

// RestoreNetworkHost re-binds the network-level host of a floating virtual
// network. It is the first step of repair; the network stays floating
// until it is unembedded.
func (e *Engine) RestoreNetworkHost(ctx context.Context, vnetID, snetID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.floating[vnetID]; !ok {
		return fmt.Errorf("%w: virtual network %q is not floating", ErrInvalidRequest, vnetID)
	}
	snet, err := e.store.GetNetwork(snetID)
	if err != nil {
		return err
	}
	if snet.IsVirtual() {
		return fmt.Errorf("%w: %q is not a substrate network", ErrInvalidRequest, snetID)
	}
	if err := e.store.SetNetworkHost(vnetID, snetID); err != nil {
		return err
	}
	e.log.Debug(ctx, "restored network host", logging.String("guest", vnetID), logging.String("host", snetID))
	return nil
}
