// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/segtree/pkg/logging"
	"github.com/AleutianAI/segtree/pkg/segtree"
	"github.com/AleutianAI/segtree/pkg/telemetry"
)

const tracerName = "segtree.cli"

// app carries flag values and the resources set up before each command.
type app struct {
	configPath     string
	logLevel       string
	logJSON        bool
	traceExporter  string
	metricExporter string
	otlpEndpoint   string

	runID    string
	logger   *logging.Logger
	shutdown func(context.Context) error
}

// execute runs the CLI with args and releases logging and telemetry
// resources afterwards, whether or not the command succeeded.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	a := &app{}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if cerr := a.close(); err == nil {
		err = cerr
	}
	return err
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "segtree",
		Short: "Build segment trees and run range aggregate queries",
		Long: `segtree builds a segment tree over a numeric array and answers
SUM, MIN and MAX range queries with point updates in O(log N).`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "path to a YAML config file")
	flags.StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.BoolVar(&a.logJSON, "log-json", false, "write logs as JSON")
	flags.StringVar(&a.traceExporter, "trace-exporter", "", "trace exporter (none, stdout, otlp)")
	flags.StringVar(&a.metricExporter, "metric-exporter", "", "metric exporter (none, stdout, prometheus)")
	flags.StringVar(&a.otlpEndpoint, "otlp-endpoint", "", "OTLP gRPC endpoint for traces")

	root.AddCommand(a.demoCmd(), a.queryCmd(), a.runCmd())
	return root
}

// setup loads the config, applies flag overrides and starts logging and
// telemetry for the command about to run.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := LoadConfig(a.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if flags.Changed("log-json") {
		cfg.Log.JSON = a.logJSON
	}
	if flags.Changed("trace-exporter") {
		cfg.Telemetry.TraceExporter = a.traceExporter
	}
	if flags.Changed("metric-exporter") {
		cfg.Telemetry.MetricExporter = a.metricExporter
	}
	if flags.Changed("otlp-endpoint") {
		cfg.Telemetry.OTLPEndpoint = a.otlpEndpoint
	}
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}

	a.runID = uuid.NewString()[:8]
	a.logger = logging.New(logging.Config{
		Level:   level,
		Output:  cmd.ErrOrStderr(),
		LogDir:  cfg.Log.Dir,
		Service: "segtree",
		JSON:    cfg.Log.JSON,
	}).With("run_id", a.runID)

	shutdown, err := telemetry.Init(cmd.Context(), cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	a.shutdown = shutdown

	a.logger.Debug("segtree starting",
		"command", cmd.Name(),
		"trace_exporter", cfg.Telemetry.TraceExporter,
		"metric_exporter", cfg.Telemetry.MetricExporter,
	)
	return nil
}

func (a *app) close() error {
	var errs []error
	if a.shutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
		}
		a.shutdown = nil
	}
	if a.logger != nil {
		if err := a.logger.Close(); err != nil {
			errs = append(errs, err)
		}
		a.logger = nil
	}
	return errors.Join(errs...)
}

// slog returns the logger handed to trees, correlated with the active span.
func (a *app) slog(ctx context.Context) *slog.Logger {
	if a.logger == nil {
		return telemetry.LoggerWithTrace(ctx, nil)
	}
	return telemetry.LoggerWithTrace(ctx, a.logger.Slog())
}

// =============================================================================
// demo
// =============================================================================

func (a *app) demoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Build a MIN tree over [1 3 5 7 9 11], query, update and query again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runDemo(cmd.Context(), cmd.OutOrStdout(), demoPlan)
		},
	}
}

// demoPlan is the walkthrough printed by the demo command.
var demoPlan = Plan{
	Aggregate: "min",
	Data:      []float64{1, 3, 5, 7, 9, 11},
	Operations: []Operation{
		{Op: OpQuery, Left: intPtr(1), Right: intPtr(4)},
		{Op: OpUpdate, Index: intPtr(2), Value: floatPtr(10)},
		{Op: OpQuery, Left: intPtr(1), Right: intPtr(3)},
	},
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func (a *app) runDemo(ctx context.Context, out io.Writer, plan Plan) error {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "cli.demo")
	defer span.End()

	fn, err := segtree.ParseAggregateFunc(plan.Aggregate)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	tree, err := segtree.New(ctx, plan.Data, fn, segtree.WithLogger(a.slog(ctx)))
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("build tree: %w", err)
	}

	fmt.Fprintf(out, "data: %v\n", plan.Data)
	fmt.Fprintf(out, "nodes: %v\n", tree.Nodes()[1:])

	for _, op := range plan.Operations {
		line, err := applyOperation(ctx, tree, op)
		if err != nil {
			telemetry.RecordError(span, err)
			return err
		}
		fmt.Fprintln(out, line)
	}

	telemetry.SetSpanOK(span)
	return nil
}

// =============================================================================
// query
// =============================================================================

func (a *app) queryCmd() *cobra.Command {
	var (
		agg  string
		data []float64
	)

	cmd := &cobra.Command{
		Use:   "query LEFT RIGHT",
		Short: "Aggregate --data over the inclusive index range [LEFT, RIGHT]",
		Example: `  segtree query --agg sum --data 1,2,3,4 0 3
  segtree query --agg max --data 4,-2,8 1 2`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			left, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid LEFT %q: %w", args[0], err)
			}
			right, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid RIGHT %q: %w", args[1], err)
			}
			fn, err := segtree.ParseAggregateFunc(agg)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			tree, err := segtree.New(ctx, data, fn, segtree.WithLogger(a.slog(ctx)))
			if err != nil {
				return err
			}
			result, err := tree.Query(ctx, left, right)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatValue(result))
			return nil
		},
	}

	cmd.Flags().StringVar(&agg, "agg", "sum", "aggregation (sum, min, max)")
	cmd.Flags().Float64SliceVar(&data, "data", nil, "comma-separated element values")
	return cmd
}

// =============================================================================
// run
// =============================================================================

func (a *app) runCmd() *cobra.Command {
	var printMetrics bool

	cmd := &cobra.Command{
		Use:   "run PLAN.yaml",
		Short: "Execute the operations of a YAML plan against one tree",
		Long: `Execute the operations of a YAML plan against one tree.
Use "-" as PLAN.yaml to read the plan from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				plan *Plan
				err  error
			)
			if args[0] == "-" {
				plan, err = readPlan(cmd.InOrStdin())
			} else {
				plan, err = LoadPlan(args[0])
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if err := a.runPlan(cmd.Context(), plan, out); err != nil {
				return err
			}

			if printMetrics {
				if err := telemetry.WriteMetrics(out, "segtree_"); err != nil {
					if errors.Is(err, telemetry.ErrPrometheusDisabled) {
						return fmt.Errorf("--print-metrics requires --metric-exporter prometheus: %w", err)
					}
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&printMetrics, "print-metrics", false, "print segtree_* metrics in Prometheus text format after the run")
	return cmd
}

// readPlan reads a plan from r, refusing to wait on an interactive terminal.
func readPlan(r io.Reader) (*Plan, error) {
	if f, ok := r.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		return nil, errors.New("no plan on stdin: pipe a YAML plan or pass a file path")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan from stdin: %w", err)
	}
	return ParsePlan(data)
}

// runPlan builds the plan's tree and prints one line per operation.
// Execution stops at the first failing operation.
func (a *app) runPlan(ctx context.Context, plan *Plan, out io.Writer) error {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "cli.run",
		trace.WithAttributes(
			attribute.String("plan.aggregate", plan.Aggregate),
			attribute.Int("plan.operations", len(plan.Operations)),
		),
	)
	defer span.End()

	logger := a.slog(ctx)

	fn, err := segtree.ParseAggregateFunc(plan.Aggregate)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	tree, err := segtree.New(ctx, plan.Data, fn, segtree.WithLogger(logger))
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("build tree: %w", err)
	}

	for i, op := range plan.Operations {
		line, err := applyOperation(ctx, tree, op)
		if err != nil {
			err = fmt.Errorf("operation %d (%s): %w", i, op.Op, err)
			telemetry.RecordError(span, err)
			return err
		}
		fmt.Fprintln(out, line)
	}

	stats := tree.Stats()
	logger.Info("plan executed",
		slog.String("aggregate", stats.Aggregate),
		slog.Int("size", stats.Size),
		slog.Int64("queries", stats.QueryCount),
		slog.Int64("updates", stats.UpdateCount),
		slog.String("cache_key", tree.CacheKey()),
	)
	telemetry.SetSpanOK(span)
	return nil
}

func applyOperation(ctx context.Context, tree *segtree.SegmentTree[float64], op Operation) (string, error) {
	switch op.Op {
	case OpQuery:
		v, err := tree.Query(ctx, *op.Left, *op.Right)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("query(%d, %d) = %s", *op.Left, *op.Right, formatValue(v)), nil

	case OpUpdate:
		if err := tree.Update(ctx, *op.Index, *op.Value); err != nil {
			return "", err
		}
		return fmt.Sprintf("update(%d, %s)", *op.Index, formatValue(*op.Value)), nil

	case OpGet:
		v, err := tree.GetValue(*op.Index)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("get(%d) = %s", *op.Index, formatValue(v)), nil

	default:
		return "", fmt.Errorf("unknown operation %q", op.Op)
	}
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
