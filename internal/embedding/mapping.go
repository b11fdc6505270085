package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/signalsfoundry/vne-simulator/internal/logging"
)

// Mapping is a complete candidate placement of one virtual network.
type Mapping struct {
	VirtualNetworkID   string
	SubstrateNetworkID string

	// Nodes maps every virtual node ID to a substrate node ID.
	Nodes map[string]string
	// Links maps every virtual link ID to a substrate link, path or
	// server ID.
	Links map[string]string
}

// ApplyMapping embeds the network, its nodes and its links in creation
// order. If any step fails the partial embedding is torn down and the
// failure returned, so the store is left unchanged.
func (e *Engine) ApplyMapping(ctx context.Context, m Mapping) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.applyMappingLocked(ctx, m)
	e.observe(ctx, OpApplyMapping, err,
		logging.String("guest", m.VirtualNetworkID),
		logging.String("host", m.SubstrateNetworkID),
	)
	return err
}

func (e *Engine) applyMappingLocked(ctx context.Context, m Mapping) error {
	if err := e.requireNoFloatingLocked(); err != nil {
		return err
	}
	vnet, err := e.store.GetNetwork(m.VirtualNetworkID)
	if err != nil {
		return err
	}
	if !vnet.IsVirtual() {
		return fmt.Errorf("%w: %q is not a virtual network", ErrInvalidRequest, vnet.ID)
	}
	if vnet.Host != "" {
		return fmt.Errorf("%w: virtual network %q is hosted by %q", ErrAlreadyEmbedded, vnet.ID, vnet.Host)
	}
	for _, id := range vnet.NodeIDs {
		if _, ok := m.Nodes[id]; !ok {
			return fmt.Errorf("%w: mapping has no host for node %q", ErrInvalidRequest, id)
		}
	}
	for _, id := range vnet.LinkIDs {
		if _, ok := m.Links[id]; !ok {
			return fmt.Errorf("%w: mapping has no host for link %q", ErrInvalidRequest, id)
		}
	}
	if len(m.Nodes) != len(vnet.NodeIDs) || len(m.Links) != len(vnet.LinkIDs) {
		return fmt.Errorf("%w: mapping for %q references elements outside the network", ErrInvalidRequest, vnet.ID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	fail := func(cause error) error {
		if rbErr := e.unembedNetworkLocked(vnet.ID); rbErr != nil {
			e.log.Error(ctx, "rollback after failed mapping left residue",
				logging.String("guest", vnet.ID), logging.Err(rbErr))
			return errors.Join(cause, rbErr)
		}
		return cause
	}

	if err := e.embedNetworkLocked(vnet.ID, m.SubstrateNetworkID); err != nil {
		return err
	}
	for _, id := range vnet.NodeIDs {
		if err := e.embedNodeLocked(id, m.Nodes[id]); err != nil {
			return fail(err)
		}
	}
	for _, id := range vnet.LinkIDs {
		if err := e.embedLinkLocked(id, m.Links[id]); err != nil {
			return fail(err)
		}
	}
	return nil
}
