package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/foxzi/wacampaign/internal/config"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Settle dispatch intents whose gateway outcome is unknown",
	Long: `Marks campaigns whose dispatch intent stayed open past the grace period
as failed and purges finished intents older than the retention. Campaigns are
never resent. Only available in intent dispatch mode.

The outbox is held open by a running server; use POST /api/v1/reconcile
there instead.`,
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	application, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer application.Shutdown(ctx)

	r := application.Reconciler()
	if r == nil {
		return fmt.Errorf("reconcile requires dispatch mode %q", config.DispatchIntent)
	}

	res, err := r.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("reconcile failed: %w", err)
	}

	fmt.Printf("Abandoned intents: %d\n", res.Abandoned)
	fmt.Printf("Settled intents:   %d\n", res.Settled)
	fmt.Printf("In-flight intents: %d\n", res.InFlight)
	fmt.Printf("Purged intents:    %d\n", res.Purged)
	return nil
}
