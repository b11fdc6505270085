// Package batch embeds a set of virtual network requests one by one,
// keeping the accepted subset when some requests do not fit.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/vne-simulator/internal/algorithms"
	"github.com/signalsfoundry/vne-simulator/internal/embedding"
	"github.com/signalsfoundry/vne-simulator/internal/logging"
	"github.com/signalsfoundry/vne-simulator/internal/observability"
	"github.com/signalsfoundry/vne-simulator/internal/paths"
	"github.com/signalsfoundry/vne-simulator/model"
)

// ErrPartialEmbedding indicates some requests of a batch were rejected.
// The accepted ones stay embedded.
var ErrPartialEmbedding = errors.New("partial embedding")

// Config selects the ordering policy, cost model and placement algorithm.
type Config struct {
	Policy    Policy
	Costs     Costs
	Algorithm string
}

// DefaultConfig runs greedy placement sequentially with unit costs.
func DefaultConfig() Config {
	return Config{Policy: PolicySequential, Costs: DefaultCosts(), Algorithm: algorithms.NameGreedy}
}

// Result summarises a batch run.
type Result struct {
	// Order is the sequence in which requests were attempted.
	Order    []string
	Accepted []string
	Rejected []string
	Outcomes []algorithms.Outcome
	Costs    map[string]float64

	// AvoidedCost sums the costs of accepted requests, LostCost those of
	// rejected ones.
	AvoidedCost float64
	LostCost    float64
}

// MetricsRecorder receives batch metrics.
type MetricsRecorder interface {
	ObserveBatch(policy string, accepted, rejected int, d time.Duration)
}

// Runner drives a placement algorithm over a request set.
type Runner struct {
	engine  *embedding.Engine
	catalog *paths.Catalog
	cfg     Config
	log     logging.Logger
	metrics MetricsRecorder
	algOpts []algorithms.Option
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the base logger; each run derives a run-scoped logger
// from it.
func WithLogger(l logging.Logger) Option {
	return func(r *Runner) { r.log = logging.OrNoop(l) }
}

// WithMetricsRecorder wires batch metrics.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithAlgorithmOptions passes options to every algorithm the runner builds.
func WithAlgorithmOptions(opts ...algorithms.Option) Option {
	return func(r *Runner) { r.algOpts = append(r.algOpts, opts...) }
}

// NewRunner validates cfg and builds a runner. catalog may be nil when the
// configured algorithm does not need paths.
func NewRunner(engine *embedding.Engine, catalog *paths.Catalog, cfg Config, opts ...Option) (*Runner, error) {
	if _, err := algorithms.New(cfg.Algorithm, engine, catalog); err != nil {
		return nil, err
	}
	if cfg.Costs.Model == CostDynamic && cfg.Costs.Factor <= 0 {
		return nil, fmt.Errorf("%w: dynamic cost factor must be positive", model.ErrInvalidRequest)
	}
	r := &Runner{engine: engine, catalog: catalog, cfg: cfg, log: logging.Noop()}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Run attempts every request against the substrate in policy order. It
// returns ErrPartialEmbedding, together with the full result, when at
// least one request was rejected.
func (r *Runner) Run(ctx context.Context, snetID string, requests []string) (res *Result, err error) {
	if len(requests) == 0 {
		return nil, fmt.Errorf("%w: empty request set", model.ErrInvalidRequest)
	}
	seen := make(map[string]struct{}, len(requests))
	for _, id := range requests {
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: request %q submitted twice", model.ErrInvalidRequest, id)
		}
		seen[id] = struct{}{}
	}
	for _, id := range requests {
		vnet, err := r.engine.Store().GetNetwork(id)
		if err != nil {
			return nil, err
		}
		if !vnet.IsVirtual() {
			return nil, fmt.Errorf("%w: %q is not a virtual network", model.ErrInvalidRequest, id)
		}
	}

	start := time.Now()
	ctx, log := logging.WithRunLogger(ctx, r.log)
	ctx, span := observability.StartSpan(ctx, "batch.run", snetID,
		attribute.String("vne.batch.policy", r.cfg.Policy.String()),
		attribute.String("vne.batch.cost_model", r.cfg.Costs.Model.String()),
		attribute.Int("vne.batch.requests", len(requests)),
	)
	defer func() {
		if errors.Is(err, ErrPartialEmbedding) {
			observability.EndSpan(span, nil)
			return
		}
		observability.EndSpan(span, err)
	}()

	store := r.engine.Store()
	res = &Result{Costs: make(map[string]float64, len(requests))}
	for _, id := range requests {
		res.Costs[id] = r.cfg.Costs.Cost(store, id)
	}
	res.Order = order(r.cfg.Policy, requests, res.Costs)

	log.Info(ctx, "batch started",
		logging.String("substrate_id", snetID),
		logging.String("policy", r.cfg.Policy.String()),
		logging.String("cost_model", r.cfg.Costs.Model.String()),
		logging.String("algorithm", r.cfg.Algorithm),
		logging.Strings("order", res.Order),
	)

	for _, id := range res.Order {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		alg, err := algorithms.New(r.cfg.Algorithm, r.engine, r.catalog, r.algOpts...)
		if err != nil {
			return res, err
		}
		if err := alg.Prepare(snetID, []string{id}); err != nil {
			if errors.Is(err, model.ErrNoPathsGenerated) {
				res.reject(algorithms.Outcome{NetworkID: id, Status: algorithms.Rejected, Reason: err})
				continue
			}
			return res, err
		}
		out, err := alg.Execute(ctx)
		if err != nil {
			return res, err
		}
		for _, o := range out.Outcomes {
			if o.Status == algorithms.Accepted {
				res.accept(o)
			} else {
				res.reject(o)
			}
		}
	}

	if r.metrics != nil {
		r.metrics.ObserveBatch(r.cfg.Policy.String(), len(res.Accepted), len(res.Rejected), time.Since(start))
	}
	log.Info(ctx, "batch finished",
		logging.Int("accepted", len(res.Accepted)),
		logging.Int("rejected", len(res.Rejected)),
		logging.Float64("avoided_cost", res.AvoidedCost),
		logging.Float64("lost_cost", res.LostCost),
	)
	if len(res.Rejected) > 0 {
		return res, fmt.Errorf("%w: %d of %d requests rejected: %v",
			ErrPartialEmbedding, len(res.Rejected), len(requests), res.Rejected)
	}
	return res, nil
}

func (res *Result) accept(o algorithms.Outcome) {
	res.Outcomes = append(res.Outcomes, o)
	res.Accepted = append(res.Accepted, o.NetworkID)
	res.AvoidedCost += res.Costs[o.NetworkID]
}

func (res *Result) reject(o algorithms.Outcome) {
	res.Outcomes = append(res.Outcomes, o)
	res.Rejected = append(res.Rejected, o.NetworkID)
	res.LostCost += res.Costs[o.NetworkID]
}
