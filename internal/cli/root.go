// Package cli implements parkctl, the operator command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/iliyamo/parking-reservation/internal/config"
	"github.com/iliyamo/parking-reservation/internal/logger"
)

// RootOptions holds global flags and the config source for all commands.
type RootOptions struct {
	Format  string // "text" | "json"
	EnvFile string

	// LoadConfig defaults to config.Load; tests replace it.
	LoadConfig func() (*config.Config, error)
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the parkctl root command.
func NewRootCommand() *cobra.Command {
	return newRoot(&RootOptions{LoadConfig: config.Load})
}

func newRoot(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "parkctl",
		Short:         "Operate the parking reservation service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if opts.EnvFile != "" {
				if err := godotenv.Load(opts.EnvFile); err != nil {
					return fmt.Errorf("load %s: %w", opts.EnvFile, err)
				}
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", "", "read environment variables from this file first")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewSeedAdminCommand(opts))
	cmd.AddCommand(NewReportCommand(opts))
	return cmd
}

// env loads config and a logger writing to the command's stderr.
func (o *RootOptions) env(cmd *cobra.Command) (*config.Config, *logger.Logger, error) {
	load := o.LoadConfig
	if load == nil {
		load = config.Load
	}
	cfg, err := load()
	if err != nil {
		return nil, nil, err
	}
	logg := logger.New(logger.Options{
		ServiceName: "parkctl",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      "console",
		Output:      cmd.ErrOrStderr(),
	})
	return cfg, logg, nil
}

// emit writes v as JSON or the text line, depending on --format.
func (o *RootOptions) emit(w io.Writer, text string, v any) error {
	if o.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintln(w, text)
	return err
}
