// cmd/attend/run.go
package main

import (
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Parhamfakhar1/lumix-attention/internal/core"
	"github.com/Parhamfakhar1/lumix-attention/internal/inputs"
	"github.com/Parhamfakhar1/lumix-attention/internal/model"
)

type runOptions struct {
	batch  int
	seqQ   int
	seqKV  int
	seed   uint64
	causal bool
	input  string
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one forward pass and print a report of the output",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			config, err := loadConfig(root.configFile)
			if err != nil {
				return err
			}
			config.Causal = config.Causal || opts.causal
			if config.Precision == model.Float64 {
				return runPass[float64](cmd, config, opts)
			}
			return runPass[float32](cmd, config, opts)
		},
	}
	cmd.Flags().IntVar(&opts.batch, "batch", 2, "Batch size of random inputs")
	cmd.Flags().IntVar(&opts.seqQ, "seq-q", 10, "Query sequence length of random inputs")
	cmd.Flags().IntVar(&opts.seqKV, "seq-kv", 10, "Key/value sequence length of random inputs")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 1, "Seed of random inputs")
	cmd.Flags().BoolVar(&opts.causal, "causal", false, "Apply a causal mask (also set by causal: true in the config)")
	cmd.Flags().StringVar(&opts.input, "input", "", "JSON file (optionally zstd-compressed) with query/key/value tensors instead of random inputs")
	return cmd
}

func runPass[T core.Float](cmd *cobra.Command, config model.Config, opts *runOptions) error {
	in, err := loadInputs[T](config, opts)
	if err != nil {
		return err
	}
	attn, err := model.New[T](config, nil)
	if err != nil {
		return err
	}

	start := time.Now()
	out, err := attn.Attend(in.Query, in.Key, in.Value, nil)
	if err != nil {
		return errors.Wrap(err, "forward pass failed")
	}
	elapsed := time.Since(start)

	r := report{
		RunID:     uuid.NewString(),
		Precision: config.Precision,
		Params:    attn.NumParams(),
		Query:     in.Query.Shape,
		Key:       in.Key.Shape,
		Output:    out.Shape,
		Causal:    config.Causal,
		Duration:  elapsed,
		Values:    toFloat64(out.Data),
	}
	log.Info().Str("run_id", r.RunID).Dur("duration", elapsed).Msg("Forward pass complete")
	return writeReport(cmd.OutOrStdout(), r)
}

func loadInputs[T core.Float](config model.Config, opts *runOptions) (inputs.QKV[T], error) {
	if opts.input == "" {
		src := rand.NewPCG(opts.seed, opts.seed+1)
		return inputs.Random[T](src, opts.batch, opts.seqQ, opts.seqKV, config.DModel)
	}
	return inputs.LoadFile[T](opts.input)
}
