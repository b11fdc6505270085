// Package algorithms holds placement strategies that turn virtual network
// requests into embeddings on a substrate network.
package algorithms

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/signalsfoundry/vne-simulator/internal/embedding"
	"github.com/signalsfoundry/vne-simulator/internal/logging"
	"github.com/signalsfoundry/vne-simulator/internal/paths"
	"github.com/signalsfoundry/vne-simulator/kb"
	"github.com/signalsfoundry/vne-simulator/model"
)

// Algorithm names accepted by New.
const (
	NameGreedy   = "greedy"
	NameFirstFit = "first-fit"
)

// Status is the verdict for one virtual network.
type Status int

const (
	// Accepted means the network is fully embedded.
	Accepted Status = iota
	// Rejected means capacity or paths were lacking; nothing was changed.
	Rejected
)

func (s Status) String() string {
	switch s {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Outcome is the result of placing one virtual network. Reason is set for
// rejections.
type Outcome struct {
	NetworkID string
	Status    Status
	Reason    error
}

// Result collects the outcomes of one Execute call in request order.
type Result struct {
	Outcomes []Outcome
}

// Accepted returns the IDs of embedded networks.
func (r *Result) Accepted() []string { return r.filter(Accepted) }

// Rejected returns the IDs of rejected networks.
func (r *Result) Rejected() []string { return r.filter(Rejected) }

// AllAccepted reports whether every request was embedded.
func (r *Result) AllAccepted() bool { return len(r.Rejected()) == 0 }

func (r *Result) filter(s Status) []string {
	var out []string
	for _, o := range r.Outcomes {
		if o.Status == s {
			out = append(out, o.NetworkID)
		}
	}
	return out
}

// Algorithm places a prepared set of virtual networks. Capacity and path
// shortfalls are reported as Rejected outcomes; a returned error means
// the request itself was invalid or the store failed.
type Algorithm interface {
	Name() string
	Prepare(snetID string, vnetIDs []string) error
	Execute(ctx context.Context) (*Result, error)
}

// MetricsRecorder receives placement metrics.
type MetricsRecorder interface {
	ObservePlacement(algorithm, outcome string, d time.Duration)
}

// Option configures an algorithm.
type Option func(*base)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(b *base) { b.log = logging.OrNoop(l) }
}

// WithMetricsRecorder wires a metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(b *base) { b.metrics = m }
}

// New is a factory that creates an Algorithm by name. catalog may be nil
// for algorithms that do not route over paths.
func New(name string, engine *embedding.Engine, catalog *paths.Catalog, opts ...Option) (Algorithm, error) {
	switch name {
	case NameGreedy, "":
		return NewGreedy(engine, opts...), nil
	case NameFirstFit:
		if catalog == nil {
			return nil, fmt.Errorf("%w: %s needs a path catalog", model.ErrInvalidRequest, name)
		}
		return NewFirstFit(engine, catalog, opts...), nil
	default:
		return nil, fmt.Errorf("%w: unsupported algorithm %q", model.ErrInvalidRequest, name)
	}
}

// base carries what every algorithm shares: dependencies and the
// prepared request.
type base struct {
	engine  *embedding.Engine
	store   *kb.KnowledgeBase
	log     logging.Logger
	metrics MetricsRecorder

	snetID  string
	vnetIDs []string
}

func newBase(engine *embedding.Engine, opts []Option) base {
	b := base{engine: engine, store: engine.Store(), log: logging.Noop()}
	for _, opt := range opts {
		if opt != nil {
			opt(&b)
		}
	}
	return b
}

// prepare validates the request set and stores it for Execute.
func (b *base) prepare(snetID string, vnetIDs []string) error {
	if len(vnetIDs) == 0 {
		return fmt.Errorf("%w: empty virtual network set", model.ErrInvalidRequest)
	}
	snet, err := b.store.GetNetwork(snetID)
	if err != nil {
		return err
	}
	if snet.IsVirtual() {
		return fmt.Errorf("%w: %q is not a substrate network", model.ErrInvalidRequest, snetID)
	}
	seen := make(map[string]struct{}, len(vnetIDs))
	for _, id := range vnetIDs {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: virtual network %q requested twice", model.ErrInvalidRequest, id)
		}
		seen[id] = struct{}{}
		vnet, err := b.store.GetNetwork(id)
		if err != nil {
			return err
		}
		if !vnet.IsVirtual() {
			return fmt.Errorf("%w: %q is not a virtual network", model.ErrInvalidRequest, id)
		}
		if vnet.Host != "" {
			return fmt.Errorf("%w: virtual network %q is hosted by %q", embedding.ErrAlreadyEmbedded, id, vnet.Host)
		}
	}
	b.snetID = snetID
	b.vnetIDs = append([]string(nil), vnetIDs...)
	return nil
}

// logger prefers the run logger carried by ctx over the configured one.
func (b *base) logger(ctx context.Context) logging.Logger {
	if l := logging.LoggerFromContext(ctx); l != nil {
		return l
	}
	return b.log
}

func (b *base) requirePrepared() error {
	if b.snetID == "" || len(b.vnetIDs) == 0 {
		return fmt.Errorf("%w: Execute called before Prepare", model.ErrInvalidRequest)
	}
	return nil
}

// isRejection reports whether err is a recoverable placement shortfall.
func isRejection(err error) bool {
	return errors.Is(err, model.ErrInsufficientCapacity) || errors.Is(err, model.ErrNoPathsGenerated)
}

func (b *base) record(ctx context.Context, algorithm string, o Outcome, start time.Time) {
	elapsed := time.Since(start)
	if b.metrics != nil {
		b.metrics.ObservePlacement(algorithm, o.Status.String(), elapsed)
	}
	fields := []logging.Field{
		logging.String("algorithm", algorithm),
		logging.String("network_id", o.NetworkID),
		logging.String("status", o.Status.String()),
		logging.Any("elapsed", elapsed),
	}
	if o.Reason != nil {
		fields = append(fields, logging.Err(o.Reason))
	}
	b.logger(ctx).Info(ctx, "placement finished", fields...)
}
