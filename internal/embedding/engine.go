// Package embedding maps virtual network elements onto substrate hosts
// while keeping residual capacities and the guest/host index consistent.
//
// Every exported operation is atomic with respect to the others: it holds
// the engine's exclusive lock for its whole duration and either completes
// or leaves the store as it found it.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/vne-simulator/internal/logging"
	"github.com/signalsfoundry/vne-simulator/kb"
	"github.com/signalsfoundry/vne-simulator/model"
)

// Re-export shared sentinels so callers can depend on embedding.* only.
var (
	ErrInvalidRequest       = model.ErrInvalidRequest
	ErrInsufficientCapacity = model.ErrInsufficientCapacity
	ErrNoPathsGenerated     = model.ErrNoPathsGenerated
	ErrNotFound             = kb.ErrNotFound

	// ErrAlreadyEmbedded indicates the guest already has a host.
	ErrAlreadyEmbedded = errors.New("already embedded")
	// ErrRepairRequired indicates floating virtual networks must be
	// repaired before new embeddings are accepted.
	ErrRepairRequired = errors.New("repair required")
)

// Operation names used for logging and metrics labels.
const (
	OpEmbedNetwork   = "embed_network"
	OpEmbedNode      = "embed_node"
	OpEmbedLink      = "embed_link"
	OpApplyMapping   = "apply_mapping"
	OpUnembedNetwork = "unembed_network"
	OpRemove         = "remove_substrate_element"
)

// Outcome labels for MetricsRecorder.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// MetricsRecorder receives engine metrics.
type MetricsRecorder interface {
	IncEmbeddingOperation(op, outcome string)
	SetFloatingNetworks(count int)
}

// Engine applies and reverts embeddings against a knowledge base.
type Engine struct {
	mu sync.Mutex

	store   *kb.KnowledgeBase
	log     logging.Logger
	metrics MetricsRecorder

	// floating holds virtual networks that lost their network-level host
	// to a substrate removal and still await repair.
	floating map[string]struct{}
}

// Option customises Engine construction.
type Option func(*Engine)

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(e *Engine) { e.log = logging.OrNoop(l) }
}

// WithMetricsRecorder attaches an optional metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine builds an engine over store.
func NewEngine(store *kb.KnowledgeBase, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		log:      logging.Noop(),
		floating: make(map[string]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Store exposes the underlying knowledge base for read access.
func (e *Engine) Store() *kb.KnowledgeBase { return e.store }

// Floating returns the sorted IDs of virtual networks awaiting repair.
func (e *Engine) Floating() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.floatingLocked()
}

// IsFloating reports whether a virtual network awaits repair.
func (e *Engine) IsFloating(vnetID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.floating[vnetID]
	return ok
}

func (e *Engine) floatingLocked() []string {
	out := make([]string, 0, len(e.floating))
	for id := range e.floating {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) requireNoFloatingLocked() error {
	if len(e.floating) == 0 {
		return nil
	}
	return fmt.Errorf("%w: floating virtual networks %v", ErrRepairRequired, e.floatingLocked())
}

func (e *Engine) observe(ctx context.Context, op string, err error, fields ...logging.Field) {
	outcome := OutcomeAccepted
	switch {
	case err == nil:
	case errors.Is(err, ErrInsufficientCapacity), errors.Is(err, ErrNoPathsGenerated):
		outcome = OutcomeRejected
	default:
		outcome = OutcomeError
	}
	if e.metrics != nil {
		e.metrics.IncEmbeddingOperation(op, outcome)
	}
	fields = append(fields, logging.String("op", op), logging.String("outcome", outcome))
	if err != nil {
		e.log.Debug(ctx, "embedding operation failed", append(fields, logging.Err(err))...)
		return
	}
	e.log.Debug(ctx, "embedding operation applied", fields...)
}

func (e *Engine) setFloatingMetric() {
	if e.metrics != nil {
		e.metrics.SetFloatingNetworks(len(e.floating))
	}
}

// virtualNetworkOf returns the virtual network owning a guest element.
func (e *Engine) virtualNetworkOf(id string) (*model.Network, error) {
	netID, err := e.store.NetworkOf(id)
	if err != nil {
		return nil, err
	}
	net, err := e.store.GetNetwork(netID)
	if err != nil {
		return nil, err
	}
	if !net.IsVirtual() {
		return nil, fmt.Errorf("%w: %q belongs to substrate network %q", ErrInvalidRequest, id, netID)
	}
	return net, nil
}

// substrateNetworkOf returns the substrate network owning a host element.
func (e *Engine) substrateNetworkOf(id string) (*model.Network, error) {
	netID, err := e.store.NetworkOf(id)
	if err != nil {
		return nil, err
	}
	net, err := e.store.GetNetwork(netID)
	if err != nil {
		return nil, err
	}
	if net.IsVirtual() {
		return nil, fmt.Errorf("%w: host %q belongs to virtual network %q", ErrInvalidRequest, id, netID)
	}
	return net, nil
}

// checkHostNetwork rejects element embeddings before the network-level
// embedding, and hosts outside the substrate the network is embedded into.
func checkHostNetwork(vnet, snet *model.Network) error {
	if vnet.Host == "" {
		return fmt.Errorf("%w: virtual network %q must be embedded before its elements",
			ErrInvalidRequest, vnet.ID)
	}
	if vnet.Host != snet.ID {
		return fmt.Errorf("%w: virtual network %q is embedded into %q, not %q",
			ErrInvalidRequest, vnet.ID, vnet.Host, snet.ID)
	}
	return nil
}
