package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"calmirror/internal/engine"
	"calmirror/internal/store"
)

var (
	syncForce bool
	syncIDs   []string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one reconciliation pass and exit",
	Args:  cobra.NoArgs,
	RunE:  runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&syncForce, "force", false, "run even when the last full pass is recent")
	syncCmd.Flags().StringSliceVar(&syncIDs, "ids", nil, "reconcile only these task ids")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}

	st, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	state, err := seedSettings(ctx, st, cfg)
	if err != nil {
		return err
	}
	target, err := buildTarget(ctx, cfg, state)
	if err != nil {
		return err
	}
	state, err = provision(ctx, st, target, state)
	if err != nil {
		return err
	}

	eng := engine.New(st, buildSource(cfg), target, logger)

	var rep engine.Report
	if len(syncIDs) > 0 {
		rep, err = eng.RunScoped(ctx, syncIDs)
	} else {
		rep, err = eng.RunFull(ctx, engine.RunOpts{Force: syncForce})
	}
	if err != nil {
		return err
	}

	if rep.Skipped {
		fmt.Println("skipped: last full pass is recent (use --force to override)")
		return nil
	}

	fmt.Printf("created %d, updated %d, deleted %d, failed %d in %s\n",
		rep.Created, rep.Updated, rep.Deleted, rep.Failed, rep.Duration.Round(time.Millisecond))
	for _, msg := range rep.Errors {
		fmt.Println("  " + msg)
	}
	if rep.Failed > 0 {
		return fmt.Errorf("%d items failed", rep.Failed)
	}
	return nil
}
