// cmd/attend/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Parhamfakhar1/lumix-attention/internal/model"
)

type rootOptions struct {
	configFile string
	verbose    bool
}

func main() {
	ctx, stop := setupSignalHandler()
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("attend failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "attend",
		Short:         "Run scaled dot-product multi-head attention",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			setupLogger(opts.verbose)
		},
	}
	root.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "YAML configuration file (defaults are used when empty)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose logging")

	root.AddCommand(newRunCmd(opts), newBenchCmd(opts))
	return root
}

func setupLogger(verbose bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}
	log.Logger = log.Output(output)
}

// setupSignalHandler returns a context cancelled on SIGINT or SIGTERM.
func setupSignalHandler() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// loadConfig reads path over DefaultConfig, so a file only needs the fields it changes.
func loadConfig(path string) (model.Config, error) {
	config := model.DefaultConfig()
	if path == "" {
		return config, validateConfig(config)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return config, errors.Wrap(err, "failed to read config file")
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return config, errors.Wrap(err, "failed to parse config")
	}
	if err := validateConfig(config); err != nil {
		return config, err
	}

	log.Debug().Str("path", path).Msg("Configuration loaded")
	return config, nil
}

func validateConfig(config model.Config) error {
	return errors.Wrap(config.Validate(), "invalid configuration")
}
