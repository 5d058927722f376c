// Package cli implements the talkdb operator command.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mahdi-taghi/business-assistant-ari/internal/app"
	"github.com/mahdi-taghi/business-assistant-ari/internal/config"
	"github.com/mahdi-taghi/business-assistant-ari/internal/logging"
	"github.com/mahdi-taghi/business-assistant-ari/internal/pipeline"
)

// Asker runs one question through the pipeline.
type Asker interface {
	Ask(ctx context.Context, q pipeline.Question) *pipeline.Result
}

// RootOptions holds global flags and the seams tests replace.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	LoadConfig func() *config.Config
	NewAsker   func(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (Asker, func(), error)
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	if opts.LoadConfig == nil {
		opts.LoadConfig = config.Load
	}
	if opts.NewAsker == nil {
		opts.NewAsker = newPipelineAsker
	}

	cmd := &cobra.Command{
		Use:   "talkdb",
		Short: "Operate the talk-to-database service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log pipeline progress to stderr")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewAskCommand(opts))
	cmd.AddCommand(NewUserCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// logger returns a stderr logger that stays quiet unless --verbose is set.
func (o *RootOptions) logger(cmd *cobra.Command) zerolog.Logger {
	if !o.Verbose {
		return zerolog.Nop()
	}
	return logging.NewWithWriter(cmd.ErrOrStderr(), "talkdb", true)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newPipelineAsker(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (Asker, func(), error) {
	p, err := app.NewPipeline(ctx, cfg, nil, logger)
	if err != nil {
		return nil, nil, err
	}
	return p, p.Close, nil
}
