// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/paperfetch/internal/httputil"
	"github.com/pdiddy/paperfetch/internal/identify"
	"github.com/pdiddy/paperfetch/internal/logging"
	"github.com/pdiddy/paperfetch/internal/queue"
	"github.com/pdiddy/paperfetch/internal/resolve"
	"github.com/pdiddy/paperfetch/pkg/types"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <input>",
	Short: "Resolve one input and print the outcome without downloading",
	Long: `Resolve runs the resolver chain for a single input and prints where it
would be downloaded from. Multiple arguments are joined with spaces, so a
free-text reference can be passed unquoted.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := identify.Classify(strings.Join(args, " "))
		if id.Kind == types.KindUnknown {
			return fmt.Errorf("unrecognized input %q", id.Raw)
		}

		registry := resolve.NewDefaultRegistry(httputil.NewAPIClient(cfg.HTTP), cfg, logging.Named(logger, "resolve"))
		out, err := registry.Resolve(cmd.Context(), id, resolve.Context{MaxRedirects: cfg.Resolve.MaxRedirects})
		if err != nil {
			return err
		}

		report := resolveReport{Input: id.Value, Kind: id.Kind, Outcome: out.Kind.String()}
		if out.Kind == resolve.OutcomeTarget {
			report.URL = out.Target.URL
			if !out.Target.Metadata.IsZero() {
				meta := out.Target.Metadata
				report.Metadata = &meta
			}
		} else {
			report.Failure = out.Failure()
		}
		if err := writeYAML(cmd.OutOrStdout(), report); err != nil {
			return err
		}
		if report.Failure != nil {
			return fmt.Errorf("resolution failed: %s", report.Failure.Cause)
		}
		return nil
	},
}

type resolveReport struct {
	Input    string               `yaml:"input"`
	Kind     types.IdentifierKind `yaml:"kind"`
	Outcome  string               `yaml:"outcome"`
	URL      string               `yaml:"url,omitempty"`
	Metadata *types.Metadata      `yaml:"metadata,omitempty"`
	Failure  *types.Failure       `yaml:"failure,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue counts and items",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openQueue(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		asYAML, _ := cmd.Flags().GetBool("yaml")

		q := queue.ListQuery{Status: types.ItemStatus(status), Limit: limit}
		if err := validStatus(q.Status); err != nil {
			return err
		}
		items, err := store.List(ctx, q)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if asYAML {
			return writeYAML(w, items)
		}

		counts, err := store.Counts(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "pending: %d  in_progress: %d  completed: %d  failed: %d\n\n",
			counts[types.StatusPending], counts[types.StatusInProgress],
			counts[types.StatusCompleted], counts[types.StatusFailed])
		return writeItems(w, items)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show terminal attempt records, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openQueue(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		status, _ := cmd.Flags().GetString("status")
		item, _ := cmd.Flags().GetString("item")
		limit, _ := cmd.Flags().GetInt("limit")
		asYAML, _ := cmd.Flags().GetBool("yaml")

		q := queue.HistoryQuery{ItemID: item, Status: types.ItemStatus(status), Limit: limit}
		if err := validStatus(q.Status); err != nil {
			return err
		}
		recs, err := store.History(ctx, q)
		if err != nil {
			return err
		}
		if asYAML {
			return writeYAML(cmd.OutOrStdout(), recs)
		}
		return writeHistory(cmd.OutOrStdout(), recs)
	},
}

func init() {
	statusCmd.Flags().String("status", "", "only items in this status")
	statusCmd.Flags().Int("limit", 50, "maximum items to list (0 for all)")
	statusCmd.Flags().Bool("yaml", false, "print items as YAML")

	historyCmd.Flags().String("status", "", "only records with this status (completed or failed)")
	historyCmd.Flags().String("item", "", "only records for this item id")
	historyCmd.Flags().Int("limit", 50, "maximum records (0 for all)")
	historyCmd.Flags().Bool("yaml", false, "print records as YAML")

	rootCmd.AddCommand(resolveCmd, statusCmd, historyCmd)
}

func validStatus(s types.ItemStatus) error {
	switch s {
	case "", types.StatusPending, types.StatusInProgress, types.StatusCompleted, types.StatusFailed:
		return nil
	default:
		return fmt.Errorf("unknown status %q (want pending, in_progress, completed or failed)", s)
	}
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding YAML: %w", err)
	}
	return enc.Close()
}

func writeItems(w io.Writer, items []types.QueueItem) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tTRIES\tPROGRESS\tINPUT\tDETAIL")
	for _, it := range items {
		detail := it.SavedPath
		if it.LastError != nil {
			detail = it.LastError.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			it.ID, it.Status, it.AttemptCount, progress(it.BytesDownloaded, it.ContentLength),
			abbreviate(it.Input, 50), abbreviate(detail, 80))
	}
	return tw.Flush()
}

func writeHistory(w io.Writer, recs []types.AttemptRecord) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RECORDED\tITEM\tSTATUS\tTRIES\tBYTES\tINPUT\tDETAIL")
	for _, r := range recs {
		detail := r.SavedPath
		if r.Failure != nil {
			detail = r.Failure.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			r.RecordedAt.Local().Format("2006-01-02 15:04:05"), r.ItemID, r.Status, r.AttemptCount,
			r.BytesDownloaded, abbreviate(r.Input, 50), abbreviate(detail, 80))
	}
	return tw.Flush()
}

func progress(done int64, total *int64) string {
	if total == nil || *total <= 0 {
		if done == 0 {
			return "-"
		}
		return fmt.Sprintf("%d B", done)
	}
	return fmt.Sprintf("%d%%", done*100/(*total))
}
