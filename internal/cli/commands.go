package cli

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/mtgsql/mtgsql/internal/session"
)

// NewSQLCommand creates the sql command.
func NewSQLCommand(rootOpts *RootOptions) *cobra.Command {
	var ensure []string

	cmd := &cobra.Command{
		Use:   "sql <query> [params...]",
		Short: "Run a SQL query",
		Long: `Run a parameterized SQL query. Views named in the query are built
first; list other views to build with --ensure.

Example:
  mtgsql sql "SELECT name FROM cards WHERE list_contains(colors, ?)" U`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session.Session) error {
				views := append(mentionedViews(s, args[0]), ensure...)
				if len(views) > 0 {
					if err := s.EnsureViews(ctx, views...); err != nil {
						return err
					}
				}
				params := make([]any, 0, len(args)-1)
				for _, p := range args[1:] {
					params = append(params, p)
				}
				rs, err := s.Execute(ctx, args[0], params...)
				if err != nil {
					return err
				}
				return printRows(cmd.OutOrStdout(), rootOpts.Format, rs)
			})
		},
	}

	cmd.Flags().StringSliceVar(&ensure, "ensure", nil, "additional views to build before running")
	return cmd
}

// mentionedViews returns the known views that appear as words in text.
func mentionedViews(s *session.Session, text string) []string {
	var out []string
	for _, v := range s.Views() {
		re := regexp.MustCompile(`\b` + regexp.QuoteMeta(v.Name) + `\b`)
		if re.MatchString(text) {
			out = append(out, v.Name)
		}
	}
	return out
}

// NewViewsCommand creates the views command.
func NewViewsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "views",
		Short: "List views and their build state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session.Session) error {
				return printViews(cmd, rootOpts, s.Views())
			})
		},
	}
}

// NewBuildCommand creates the build command.
func NewBuildCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "build [views...]",
		Short: "Build views ahead of use",
		Long:  "Build the named views concurrently, or every view when none is named.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session.Session) error {
				views := args
				if len(views) == 0 {
					for _, v := range s.Views() {
						views = append(views, v.Name)
					}
				}
				if err := s.EnsureViews(ctx, views...); err != nil {
					return err
				}
				built := make([]session.ViewInfo, 0, len(views))
				for _, v := range s.Views() {
					for _, name := range views {
						if v.Name == name {
							built = append(built, v)
						}
					}
				}
				return printViews(cmd, rootOpts, built)
			})
		},
	}
}

func printViews(cmd *cobra.Command, rootOpts *RootOptions, views []session.ViewInfo) error {
	if rootOpts.Format == "json" {
		out := make([]map[string]interface{}, 0, len(views))
		for _, v := range views {
			m := map[string]interface{}{
				"name":   v.Name,
				"file":   v.File,
				"kind":   v.Kind,
				"state":  v.State.String(),
				"builds": v.Builds,
			}
			if v.Last != nil {
				m["last"] = v.Last
			}
			out = append(out, m)
		}
		return printJSON(cmd.OutOrStdout(), out)
	}

	rows := make([][]string, 0, len(views))
	for _, v := range views {
		rowCount, took := "-", "-"
		if v.Last != nil {
			rowCount = strconv.FormatInt(v.Last.Rows, 10)
			took = v.Last.Duration.Round(time.Millisecond).String()
		}
		rows = append(rows, []string{v.Name, v.Kind, v.State.String(), rowCount, took, v.File})
	}
	return printTable(cmd.OutOrStdout(), []string{"VIEW", "KIND", "STATE", "ROWS", "BUILD", "FILE"}, rows)
}

// NewShapeCommand creates the shape command.
func NewShapeCommand(rootOpts *RootOptions) *cobra.Command {
	var views []string

	cmd := &cobra.Command{
		Use:   "shape <column>...",
		Short: "Show whether columns are arrays or scalars",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session.Session) error {
				if err := s.EnsureViews(ctx, views...); err != nil {
					return err
				}
				out := make(map[string]string, len(args))
				rows := make([][]string, 0, len(args))
				for _, col := range args {
					shape := "UNKNOWN"
					if sh, ok := s.ColumnShape(col); ok {
						shape = sh.String()
					}
					out[col] = shape
					rows = append(rows, []string{col, shape})
				}
				if rootOpts.Format == "json" {
					return printJSON(cmd.OutOrStdout(), out)
				}
				return printTable(cmd.OutOrStdout(), []string{"COLUMN", "SHAPE"}, rows)
			})
		},
	}

	cmd.Flags().StringSliceVar(&views, "view", []string{"cards"}, "views whose columns are classified")
	return cmd
}

// NewLegalitiesCommand creates the legalities command.
func NewLegalitiesCommand(rootOpts *RootOptions) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "legalities <uuid>",
		Short: "Show a card's legality per format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session.Session) error {
				b, err := s.Query(ctx, session.LegalityView)
				if err != nil {
					return err
				}
				b = b.Select("format", "status").WhereEq("uuid", args[0]).OrderBy("format")
				if status != "" {
					b = b.WhereEq("status", status)
				}
				rs, err := s.Run(ctx, b)
				if err != nil {
					return err
				}
				return printRows(cmd.OutOrStdout(), rootOpts.Format, rs)
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "only formats with this status (legal, banned, ...)")
	return cmd
}

// NewPricesCommand creates the prices command.
func NewPricesCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		history  bool
		provider string
		finish   string
		source   string
	)

	cmd := &cobra.Command{
		Use:   "prices <uuid>",
		Short: "Show a card's prices",
		Long:  "Show today's prices for a card, or the full history with --history.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session.Session) error {
				view := "all_prices_today"
				if history {
					view = "all_prices"
				}
				b, err := s.Query(ctx, view)
				if err != nil {
					return err
				}
				b = b.Select("source", "provider", "price_type", "finish", "currency", "date", "price").
					WhereEq("uuid", args[0]).
					OrderBy("source", "provider", "price_type", "finish").
					OrderByDesc("date")
				if provider != "" {
					b = b.WhereEq("provider", provider)
				}
				if finish != "" {
					b = b.WhereEq("finish", finish)
				}
				if source != "" {
					b = b.WhereEq("source", source)
				}
				rs, err := s.Run(ctx, b)
				if err != nil {
					return err
				}
				return printRows(cmd.OutOrStdout(), rootOpts.Format, rs)
			})
		},
	}

	cmd.Flags().BoolVar(&history, "history", false, "read the full price history")
	cmd.Flags().StringVar(&provider, "provider", "", "filter by provider (tcgplayer, cardmarket, ...)")
	cmd.Flags().StringVar(&finish, "finish", "", "filter by finish (normal, foil, etched)")
	cmd.Flags().StringVar(&source, "source", "", "filter by source (paper, mtgo)")
	return cmd
}

// NewSearchCommand creates the search command.
func NewSearchCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		threshold float64
		limit     int
		exact     bool
	)

	cmd := &cobra.Command{
		Use:   "search <name>",
		Short: "Find cards by name",
		Long: `Find cards whose name is similar to the given one (Jaro-Winkler), or
equal to it with --exact.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session.Session) error {
				b, err := s.Query(ctx, "cards")
				if err != nil {
					return err
				}
				b = b.Select("uuid", "name")
				if exact {
					b = b.WhereEq("name", args[0])
				} else {
					t := threshold
					if !cmd.Flags().Changed("threshold") {
						t = s.FuzzyThreshold()
					}
					b = b.WhereFuzzy("name", args[0], t)
				}
				rs, err := s.Run(ctx, b.OrderBy("name", "uuid").Limit(limit))
				if err != nil {
					return err
				}
				return printRows(cmd.OutOrStdout(), rootOpts.Format, rs)
			})
		},
	}

	cmd.Flags().Float64Var(&threshold, "threshold", 0, "similarity cut-off between 0 and 1 (default from config)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of cards")
	cmd.Flags().BoolVar(&exact, "exact", false, "match the name exactly")
	return cmd
}

// NewRefreshCommand creates the refresh command.
func NewRefreshCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Move to the newest published dataset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session.Session) error {
				before, err := s.Version(ctx)
				if err != nil {
					return err
				}
				refreshed, err := s.Refresh(ctx)
				if err != nil {
					return err
				}
				after, err := s.Version(ctx)
				if err != nil {
					return err
				}
				if rootOpts.Format == "json" {
					return printJSON(cmd.OutOrStdout(), map[string]interface{}{
						"refreshed": refreshed,
						"previous":  before,
						"version":   after,
					})
				}
				if refreshed {
					fmt.Fprintf(cmd.OutOrStdout(), "refreshed %s -> %s\n", before, after)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "up to date (%s)\n", after)
				}
				return nil
			})
		},
	}
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <view>",
		Short: "Show recorded builds of a view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session.Session) error {
				recs, err := s.History(ctx, args[0], limit)
				if err != nil {
					return err
				}
				if rootOpts.Format == "json" {
					return printJSON(cmd.OutOrStdout(), recs)
				}
				rows := make([][]string, 0, len(recs))
				for _, r := range recs {
					rows = append(rows, []string{
						r.BuiltAt.Format(time.RFC3339),
						r.Result,
						strconv.FormatInt(r.Rows, 10),
						r.Duration.Round(time.Millisecond).String(),
						r.SessionID,
						r.Error,
					})
				}
				return printTable(cmd.OutOrStdout(), []string{"BUILT", "RESULT", "ROWS", "TOOK", "SESSION", "ERROR"}, rows)
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of builds")
	return cmd
}
