package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/signalsfoundry/vne-simulator/internal/algorithms"
	"github.com/signalsfoundry/vne-simulator/internal/batch"
	"github.com/signalsfoundry/vne-simulator/internal/config"
	"github.com/signalsfoundry/vne-simulator/internal/embedding"
	"github.com/signalsfoundry/vne-simulator/internal/logging"
	"github.com/signalsfoundry/vne-simulator/internal/observability"
	"github.com/signalsfoundry/vne-simulator/internal/paths"
	"github.com/signalsfoundry/vne-simulator/internal/repair"
	"github.com/signalsfoundry/vne-simulator/internal/report"
	"github.com/signalsfoundry/vne-simulator/internal/scenario"
	"github.com/signalsfoundry/vne-simulator/kb"
)

type runOptions struct {
	vars        []string
	policy      string
	costModel   string
	algorithm   string
	minHops     int
	maxHops     int
	output      string
	metricsAddr string
	remove      []string
	hold        bool
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run SCENARIO",
		Short: "Embed every request of a scenario and print a report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load(cmd)
			if err != nil {
				return err
			}
			if err := opts.apply(cmd, cfg); err != nil {
				return err
			}
			return runScenario(cmd, cfg, args[0], opts)
		},
	}
	f := cmd.Flags()
	f.StringArrayVar(&opts.vars, "var", nil, "HCL scenario variable as name=value (repeatable)")
	f.StringVar(&opts.policy, "policy", "", "batch policy (sequential, rejection-cost)")
	f.StringVar(&opts.costModel, "cost-model", "", "rejection cost model (static, configured, dynamic)")
	f.StringVar(&opts.algorithm, "algorithm", "", "placement algorithm (greedy, first-fit)")
	f.IntVar(&opts.minHops, "min-hops", 0, "minimum path length")
	f.IntVar(&opts.maxHops, "max-hops", 0, "maximum path length")
	f.StringVarP(&opts.output, "output", "o", "text", "report format (text, yaml)")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "HTTP address for Prometheus /metrics")
	f.StringArrayVar(&opts.remove, "remove", nil, "substrate node or link to remove after the batch, followed by repair (repeatable)")
	f.BoolVar(&opts.hold, "hold", false, "keep serving /metrics until interrupted")
	return cmd
}

// apply copies changed flags over cfg and revalidates it.
func (o *runOptions) apply(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	if f.Changed("policy") {
		cfg.Batch.Policy = o.policy
	}
	if f.Changed("cost-model") {
		cfg.Batch.CostModel = o.costModel
	}
	if f.Changed("algorithm") {
		cfg.Batch.Algorithm = o.algorithm
	}
	if f.Changed("min-hops") {
		cfg.Paths.MinLength = o.minHops
	}
	if f.Changed("max-hops") {
		cfg.Paths.MaxLength = o.maxHops
	}
	if f.Changed("metrics-addr") {
		cfg.Metrics.Addr = o.metricsAddr
	}
	if o.output != "text" && o.output != "yaml" {
		return fmt.Errorf("unknown output format %q", o.output)
	}
	return cfg.Validate()
}

func runScenario(cmd *cobra.Command, cfg *config.Config, path string, opts *runOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	log := newLogger(cfg, cmd.ErrOrStderr())
	ctx, log = logging.WithRunLogger(ctx, log)

	shutdown, err := observability.InitTracing(ctx, cfg.TracerConfig(), log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdown, log)

	reg := prometheus.NewRegistry()
	engineMetrics, err := observability.NewEngineCollector(reg)
	if err != nil {
		return err
	}
	placementMetrics, err := observability.NewPlacementCollector(reg)
	if err != nil {
		return err
	}

	vars, err := parseVars(opts.vars)
	if err != nil {
		return err
	}
	store := kb.NewKnowledgeBase()
	sc, err := scenario.LoadFile(store, path, vars)
	if err != nil {
		return err
	}
	log.Info(ctx, "scenario loaded",
		logging.String("path", path),
		logging.String("substrate_id", sc.SubstrateID),
		logging.Int("requests", len(sc.RequestIDs)),
	)

	minHops, maxHops := cfg.Paths.MinLength, cfg.Paths.MaxLength
	if sc.Paths != nil && !cmd.Flags().Changed("min-hops") && !cmd.Flags().Changed("max-hops") {
		minHops, maxHops = sc.Paths.MinLength, sc.Paths.MaxLength
	}
	catalog := paths.NewCatalog(store,
		paths.WithLogger(log),
		paths.WithMetricsRecorder(placementMetrics),
		paths.WithDefaultBounds(minHops, maxHops),
	)
	defer catalog.Close()
	gen, err := catalog.GenerateDefault(ctx, sc.SubstrateID)
	if err != nil {
		return err
	}
	log.Info(ctx, "paths generated", logging.Int("created", gen.Created), logging.Int("kept", gen.Kept))

	engine := embedding.NewEngine(store,
		embedding.WithLogger(log),
		embedding.WithMetricsRecorder(engineMetrics),
	)
	rc, err := cfg.RunnerConfig()
	if err != nil {
		return err
	}
	runner, err := batch.NewRunner(engine, catalog, rc,
		batch.WithLogger(log),
		batch.WithMetricsRecorder(placementMetrics),
		batch.WithAlgorithmOptions(algorithms.WithMetricsRecorder(placementMetrics)),
	)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(sc.RequestIDs) > 0 {
		res, err := runner.Run(ctx, sc.SubstrateID, sc.RequestIDs)
		if err != nil && !errors.Is(err, batch.ErrPartialEmbedding) {
			return err
		}
		fmt.Fprintf(out, "batch: %d accepted, %d rejected (avoided cost %.2f, lost cost %.2f)\n",
			len(res.Accepted), len(res.Rejected), res.AvoidedCost, res.LostCost)
		for _, o := range res.Outcomes {
			if o.Reason != nil {
				fmt.Fprintf(out, "  %s rejected: %v\n", o.NetworkID, o.Reason)
			}
		}
	}

	if len(opts.remove) > 0 {
		for _, id := range opts.remove {
			if _, err := engine.RemoveSubstrateElement(ctx, id); err != nil {
				return fmt.Errorf("remove %q: %w", id, err)
			}
		}
		rep, err := repair.NewCoordinator(engine, log).Repair(ctx, sc.SubstrateID, sc.RequestIDs)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "repair: %d torn down %v\n", len(rep.Repaired), rep.Repaired)
	}

	if err := engine.Validate(); err != nil {
		return err
	}

	snap := store.Snapshot()
	engineMetrics.SetStoreCounts(store.Counts())
	engineMetrics.ObserveUtilization(snap)

	r, err := report.Build(snap, sc.SubstrateID)
	if err != nil {
		return err
	}
	if opts.output == "yaml" {
		err = r.WriteYAML(out)
	} else {
		err = r.WriteText(out)
	}
	if err != nil {
		return err
	}

	if srv := serveMetrics(cfg.Metrics.Addr, engineMetrics, log); srv != nil {
		if opts.hold {
			<-ctx.Done()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	return nil
}
