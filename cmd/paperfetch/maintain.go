// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pdiddy/paperfetch/internal/queue"
	"github.com/pdiddy/paperfetch/pkg/types"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Return items left in progress by a crash to pending",
	Long: `Recover resets every in_progress item to pending, keeping its recorded
progress and partial file so the next run resumes it. run and download do
this automatically at startup.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openQueue(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := store.ResetInProgress(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "recovered: %d item(s)\n", n)
		return nil
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry [item-ids...]",
	Short: "Return failed items to pending",
	Long: `Retry moves failed items back to pending with their resolution, progress
and attempt count cleared, for example after logging in to a site that
demanded authentication.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		allFailed, _ := cmd.Flags().GetBool("all-failed")
		if len(args) == 0 && !allFailed {
			return fmt.Errorf("provide item ids or --all-failed")
		}

		store, err := openQueue(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		ids := args
		if allFailed {
			items, err := store.List(ctx, queue.ListQuery{Status: types.StatusFailed})
			if err != nil {
				return err
			}
			for _, it := range items {
				ids = append(ids, it.ID)
			}
		}

		w := cmd.OutOrStdout()
		for _, id := range ids {
			if err := store.Requeue(ctx, id); err != nil {
				return fmt.Errorf("requeueing %s: %w", id, err)
			}
			fmt.Fprintf(w, "requeued: %s\n", id)
		}
		return nil
	},
}

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Remove old completed and failed items from the live queue",
	Long: `Compact deletes terminal items last updated before the cutoff. Their
attempt history is kept, so history still reports them.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		age, _ := cmd.Flags().GetDuration("older-than")
		if age < 0 {
			return fmt.Errorf("--older-than must not be negative")
		}

		store, err := openQueue(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := store.Compact(ctx, time.Now().Add(-age))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "compacted: %d item(s)\n", n)
		return nil
	},
}

func init() {
	retryCmd.Flags().Bool("all-failed", false, "requeue every failed item")
	compactCmd.Flags().Duration("older-than", 30*24*time.Hour, "minimum age of removed items")

	rootCmd.AddCommand(recoverCmd, retryCmd, compactCmd)
}
