// cmd/attend/bench.go
package main

import (
	"context"
	"math/rand/v2"
	"net"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Parhamfakhar1/lumix-attention/internal/core"
	"github.com/Parhamfakhar1/lumix-attention/internal/inputs"
	"github.com/Parhamfakhar1/lumix-attention/internal/model"
	"github.com/Parhamfakhar1/lumix-attention/internal/monitoring"
)

type benchOptions struct {
	batch       int
	seqQ        int
	seqKV       int
	iterations  int
	seed        uint64
	causal      bool
	progress    bool
	metricsAddr string
}

func newBenchCmd(root *rootOptions) *cobra.Command {
	opts := &benchOptions{}
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run repeated forward passes and export Prometheus metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			config, err := loadConfig(root.configFile)
			if err != nil {
				return err
			}
			if config.Precision == model.Float64 {
				return runBench[float64](cmd.Context(), config, opts)
			}
			return runBench[float32](cmd.Context(), config, opts)
		},
	}
	cmd.Flags().IntVar(&opts.batch, "batch", 8, "Batch size")
	cmd.Flags().IntVar(&opts.seqQ, "seq-q", 64, "Query sequence length")
	cmd.Flags().IntVar(&opts.seqKV, "seq-kv", 64, "Key/value sequence length")
	cmd.Flags().IntVarP(&opts.iterations, "iterations", "n", 100, "Forward passes to run, 0 runs until interrupted")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 1, "Seed of random inputs")
	cmd.Flags().BoolVar(&opts.causal, "causal", false, "Apply a causal mask (also set by causal: true in the config)")
	cmd.Flags().BoolVar(&opts.progress, "progress", true, "Show a progress bar")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while benchmarking, e.g. :9090")
	return cmd
}

func runBench[T core.Float](ctx context.Context, config model.Config, opts *benchOptions) error {
	if opts.iterations < 0 {
		return errors.Errorf("iterations must be non-negative, got %d", opts.iterations)
	}
	config.Causal = config.Causal || opts.causal

	reg := prometheus.NewRegistry()
	metrics, err := monitoring.NewMetrics(reg)
	if err != nil {
		return errors.Wrap(err, "failed to register metrics")
	}
	attn, err := model.New[T](config, metrics)
	if err != nil {
		return err
	}

	in, err := inputs.Random[T](rand.NewPCG(opts.seed, opts.seed+1), opts.batch, opts.seqQ, opts.seqKV, config.DModel)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	if opts.metricsAddr != "" {
		ln, err := net.Listen("tcp", opts.metricsAddr)
		if err != nil {
			return errors.Wrapf(err, "failed to listen on %s", opts.metricsAddr)
		}
		g.Go(func() error {
			return monitoring.Serve(ctx, ln, reg)
		})
	}

	g.Go(func() error {
		defer cancel()
		return benchLoop(ctx, attn, in, opts)
	})
	return g.Wait()
}

func benchLoop[T core.Float](ctx context.Context, attn *model.Attention[T], in inputs.QKV[T], opts *benchOptions) error {
	total := opts.iterations
	if total == 0 {
		total = -1
	}
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("Forward passes"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("passes"),
		progressbar.OptionSetVisibility(opts.progress),
		progressbar.OptionClearOnFinish(),
	)

	start := time.Now()
	done := 0
	for opts.iterations == 0 || done < opts.iterations {
		if ctx.Err() != nil {
			log.Info().Msg("Benchmark interrupted")
			break
		}
		if _, err := attn.Attend(in.Query, in.Key, in.Value, nil); err != nil {
			return errors.Wrapf(err, "forward pass %d", done)
		}
		done++
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	elapsed := time.Since(start)
	tokens := done * opts.batch * opts.seqQ
	perSecond := 0.0
	if elapsed > 0 {
		perSecond = float64(tokens) / elapsed.Seconds()
	}
	log.Info().
		Int("passes", done).
		Dur("elapsed", elapsed).
		Str("tokens", humanize.Comma(int64(tokens))).
		Str("tokens_per_sec", humanize.CommafWithDigits(perSecond, 1)).
		Msg("Benchmark complete")
	return nil
}
