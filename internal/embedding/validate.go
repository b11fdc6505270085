package embedding

import (
	"errors"
	"fmt"

	"github.com/signalsfoundry/vne-simulator/model"
)

// ErrInconsistent tags every violation reported by Validate.
var ErrInconsistent = errors.New("inconsistent embedding state")

// Validate checks the whole store for capacity and relation consistency
// and returns every violation found, joined. A floating network is itself
// a violation; its dangling hosts are not reported separately.
func (e *Engine) Validate() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := e.store.Snapshot()
	networks := make(map[string]*model.Network, len(snap.Networks))
	for _, n := range snap.Networks {
		networks[n.ID] = n
	}
	nodes := make(map[string]*model.Node, len(snap.Nodes))
	for _, n := range snap.Nodes {
		nodes[n.ID] = n
	}
	links := make(map[string]*model.Link, len(snap.Links))
	for _, l := range snap.Links {
		links[l.ID] = l
	}
	paths := make(map[string]*model.Path, len(snap.Paths))
	for _, p := range snap.Paths {
		paths[p.ID] = p
	}

	var errs []error
	violation := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInconsistent}, args...)...))
	}

	serverUse := make(map[string]model.Resources)
	linkUse := make(map[string]int64)
	pathUse := make(map[string]int64)

	for guest, host := range snap.HostOf {
		var guestNet string
		switch {
		case nodes[guest] != nil:
			guestNet = nodes[guest].NetworkID
		case links[guest] != nil:
			guestNet = links[guest].NetworkID
		default:
			violation("guest %q does not exist", guest)
			continue
		}
		vnet := networks[guestNet]
		if vnet == nil || !vnet.IsVirtual() {
			violation("guest %q is not part of a virtual network", guest)
			continue
		}
		_, floating := e.floating[guestNet]

		var hostNet string
		switch {
		case nodes[host] != nil:
			hostNet = nodes[host].NetworkID
		case links[host] != nil:
			hostNet = links[host].NetworkID
		case paths[host] != nil:
			hostNet = paths[host].NetworkID
		default:
			if !floating {
				violation("guest %q references missing host %q", guest, host)
			}
			continue
		}
		if hn := networks[hostNet]; hn == nil || hn.IsVirtual() {
			violation("guest %q is hosted by %q outside any substrate", guest, host)
			continue
		}
		if vnet.Host != "" && vnet.Host != hostNet {
			violation("guest %q of %q hosted in %q, network is hosted by %q", guest, guestNet, hostNet, vnet.Host)
		}
		if vnet.Host == "" && !floating {
			violation("guest %q is embedded but network %q has no host", guest, guestNet)
		}

		if vnode := nodes[guest]; vnode != nil {
			hnode := nodes[host]
			if hnode == nil {
				violation("node %q is hosted by non-node %q", guest, host)
				continue
			}
			if vnode.IsServer() {
				if !hnode.IsServer() {
					violation("server %q is hosted by switch %q", guest, host)
					continue
				}
				serverUse[host] = serverUse[host].Add(vnode.Demand())
			}
			continue
		}

		vlink := links[guest]
		switch {
		case links[host] != nil:
			linkUse[host] += vlink.Bandwidth
		case paths[host] != nil:
			pathUse[host] += vlink.Bandwidth
			for _, lid := range paths[host].LinkIDs {
				linkUse[lid] += vlink.Bandwidth
			}
		case nodes[host] != nil && !nodes[host].IsServer():
			violation("link %q is hosted by switch %q", guest, host)
		}
	}

	for _, n := range snap.Nodes {
		if !n.IsServer() || networks[n.NetworkID].IsVirtual() {
			continue
		}
		if !n.Server.Residual.NonNegative() || !n.Server.Capacity.Fits(n.Server.Residual) {
			violation("server %q residual %s outside [0, %s]", n.ID, n.Server.Residual, n.Server.Capacity)
		}
		if want := n.Server.Capacity.Sub(serverUse[n.ID]); want != n.Server.Residual {
			violation("server %q residual %s, capacity minus guests is %s", n.ID, n.Server.Residual, want)
		}
	}
	for _, l := range snap.Links {
		if networks[l.NetworkID].IsVirtual() {
			continue
		}
		if l.Residual < 0 || l.Residual > l.Bandwidth {
			violation("link %q residual %d outside [0, %d]", l.ID, l.Residual, l.Bandwidth)
		}
		if want := l.Bandwidth - linkUse[l.ID]; want != l.Residual {
			violation("link %q residual %d, bandwidth minus guests is %d", l.ID, l.Residual, want)
		}
	}
	for _, p := range snap.Paths {
		if p.Residual < 0 || p.Residual > p.Bandwidth-pathUse[p.ID] {
			violation("path %q residual %d outside [0, %d]", p.ID, p.Residual, p.Bandwidth-pathUse[p.ID])
		}
		for _, lid := range p.LinkIDs {
			l := links[lid]
			if l == nil {
				violation("path %q references missing link %q", p.ID, lid)
				continue
			}
			if p.Residual > l.Residual {
				violation("path %q residual %d exceeds link %q residual %d", p.ID, p.Residual, lid, l.Residual)
			}
		}
	}

	for _, n := range snap.Networks {
		if !n.IsVirtual() {
			continue
		}
		if _, ok := e.floating[n.ID]; ok {
			violation("virtual network %q is floating and awaits repair", n.ID)
			continue
		}
		if n.Host == "" {
			continue
		}
		if hn := networks[n.Host]; hn == nil || hn.IsVirtual() {
			violation("virtual network %q is hosted by missing substrate %q", n.ID, n.Host)
		}
		for _, id := range n.NodeIDs {
			if _, ok := snap.HostOf[id]; !ok {
				violation("virtual network %q is embedded but node %q has no host", n.ID, id)
			}
		}
		for _, id := range n.LinkIDs {
			if _, ok := snap.HostOf[id]; !ok {
				violation("virtual network %q is embedded but link %q has no host", n.ID, id)
			}
		}
	}
	return errors.Join(errs...)
}
