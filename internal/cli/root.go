// Package cli implements the mtgsql command line.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/mtgsql/mtgsql/internal/config"
	"github.com/mtgsql/mtgsql/internal/session"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigFile string
	DataDir    string
	Artifacts  string
	Format     string // "json" | "text"
	Metrics    bool
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "mtgsql",
		Short: "SQL over the MTGJSON dataset",
		Long: `mtgsql exposes the MTGJSON dataset as DuckDB views. Views are built on
first use: list-valued columns become arrays, card legalities become one
row per format and price trees become flat price records.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "path to configuration file (YAML or JSON)")
	cmd.PersistentFlags().StringVar(&opts.DataDir, "data-dir", "", "base directory for local state")
	cmd.PersistentFlags().StringVar(&opts.Artifacts, "artifacts", "", "directory holding the dataset (or its local mirror)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVar(&opts.Metrics, "metrics", false, "print session metrics to stderr on exit")

	cmd.AddCommand(NewSQLCommand(opts))
	cmd.AddCommand(NewViewsCommand(opts))
	cmd.AddCommand(NewBuildCommand(opts))
	cmd.AddCommand(NewShapeCommand(opts))
	cmd.AddCommand(NewLegalitiesCommand(opts))
	cmd.AddCommand(NewPricesCommand(opts))
	cmd.AddCommand(NewSearchCommand(opts))
	cmd.AddCommand(NewRefreshCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))

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

// loadConfig layers the config file, the environment and flags, in that
// order.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if opts.ConfigFile != "" {
		var err error
		if cfg, err = config.LoadFromFile(opts.ConfigFile); err != nil {
			return nil, err
		}
	}
	config.LoadFromEnv(cfg)

	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}
	if opts.Artifacts != "" {
		cfg.Artifacts.Dir = opts.Artifacts
	}
	return cfg, nil
}

// withSession opens a session for the duration of fn.
func withSession(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, s *session.Session) error) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := session.Open(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	runErr := fn(ctx, s)
	if opts.Metrics {
		if err := dumpMetrics(cmd.ErrOrStderr(), s); err != nil && runErr == nil {
			runErr = err
		}
	}
	return runErr
}

func dumpMetrics(w io.Writer, s *session.Session) error {
	families, err := s.Metrics().Registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
