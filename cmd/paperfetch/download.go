// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pdiddy/paperfetch/internal/engine"
	"github.com/pdiddy/paperfetch/internal/httputil"
	"github.com/pdiddy/paperfetch/internal/identify"
	"github.com/pdiddy/paperfetch/internal/interrupt"
	"github.com/pdiddy/paperfetch/internal/logging"
	"github.com/pdiddy/paperfetch/internal/queue"
	"github.com/pdiddy/paperfetch/internal/resolve"
	"github.com/pdiddy/paperfetch/pkg/types"
)

var downloadCmd = &cobra.Command{
	Use:   "download [inputs...]",
	Short: "Enqueue inputs and download everything pending",
	Long: `Download classifies each input (URL, DOI, arXiv ID, reference or BibTeX
entry), adds it to the queue, and runs the download engine until the queue
is drained.

The first interrupt (Ctrl-C or SIGTERM) stops claiming new items and lets
running transfers finish within the grace period. A second interrupt
aborts them; their progress is kept and resumes on the next run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openQueue(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := enqueueInputs(cmd, args, store); err != nil {
			return err
		}
		return runEngine(ctx, store, cmd.OutOrStdout())
	},
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue [inputs...]",
	Short: "Add inputs to the queue without downloading",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openQueue(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()
		return enqueueInputs(cmd, args, store)
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process the existing queue",
	Long: `Run recovers items left in progress by an earlier crash or interrupt and
downloads everything pending.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openQueue(ctx)
		if err != nil {
			return err
		}
		defer store.Close()
		return runEngine(ctx, store, cmd.OutOrStdout())
	},
}

func init() {
	for _, c := range []*cobra.Command{downloadCmd, enqueueCmd} {
		c.Flags().StringP("input", "i", "", `file of inputs, one per line ("-" for stdin)`)
	}
	rootCmd.AddCommand(downloadCmd, enqueueCmd, runCmd)
}

func openQueue(ctx context.Context) (*queue.Store, error) {
	return queue.Open(ctx, cfg.Queue, logging.Named(logger, "queue"))
}

// readInputs gathers identifiers from args and the --input file.
// Unrecognized inputs are reported and dropped.
func readInputs(cmd *cobra.Command, args []string) ([]types.Identifier, error) {
	var ids []types.Identifier
	for _, a := range args {
		ids = append(ids, identify.Classify(a))
	}

	if path, _ := cmd.Flags().GetString("input"); path != "" {
		var r io.Reader = cmd.InOrStdin()
		if path != "-" {
			f, err := os.Open(path)
			if err != nil {
				return nil, fmt.Errorf("opening input file: %w", err)
			}
			defer f.Close()
			r = f
		}
		parsed, err := identify.Parse(r)
		if err != nil {
			return nil, err
		}
		ids = append(ids, parsed...)
	}

	w := cmd.OutOrStdout()
	kept := ids[:0]
	for _, id := range ids {
		if id.Kind == types.KindUnknown {
			fmt.Fprintf(w, "skipped: %s (unrecognized input)\n", abbreviate(id.Raw, 60))
			continue
		}
		kept = append(kept, id)
	}
	return kept, nil
}

func enqueueInputs(cmd *cobra.Command, args []string, store *queue.Store) error {
	ids, err := readInputs(cmd, args)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		if len(args) == 0 {
			return nil
		}
		return fmt.Errorf("no recognizable inputs")
	}

	items, err := store.EnqueueMany(cmd.Context(), ids)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	for _, it := range items {
		fmt.Fprintf(w, "queued:  %s %s (%s)\n", it.ID, abbreviate(it.Input, 60), it.SourceKind)
	}
	return nil
}

// runEngine recovers orphaned items and drains the queue. Interrupt
// signals are bound for the duration of the run.
func runEngine(ctx context.Context, store *queue.Store, w io.Writer) error {
	n, err := store.ResetInProgress(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		fmt.Fprintf(w, "recovered: %d interrupted item(s)\n", n)
	}

	registry := resolve.NewDefaultRegistry(httputil.NewAPIClient(cfg.HTTP), cfg, logging.Named(logger, "resolve"))
	eng, err := engine.New(store, registry, cfg,
		engine.WithHTTPClient(httputil.NewTransferClient(cfg.HTTP)),
		engine.WithLogger(logging.Named(logger, "engine")),
		engine.WithOutput(w),
	)
	if err != nil {
		return err
	}

	ctrl := interrupt.New(cfg.Engine.GracePeriod, logging.Named(logger, "interrupt"))
	unbind := ctrl.NotifySignals(ctx, os.Interrupt, syscall.SIGTERM)
	defer unbind()

	summary, err := eng.Run(ctx, ctrl)
	if err != nil {
		return err
	}
	if summary.Interrupted > 0 {
		fmt.Fprintf(w, "%d item(s) interrupted; run again to resume\n", summary.Interrupted)
	}
	if summary.HasFailures() {
		return fmt.Errorf("%d item(s) failed", summary.Failed)
	}
	return nil
}

// abbreviate shortens s to its first line, at most n runes.
func abbreviate(s string, n int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i] + " ..."
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
