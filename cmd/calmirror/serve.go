package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"calmirror/internal/dispatch"
	"calmirror/internal/engine"
	"calmirror/internal/scheduler"
	"calmirror/internal/server"
	"calmirror/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook receiver and the periodic reconciler",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
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
	logger.Info("calendar provisioned",
		"calendar", state.CalendarName, "id", state.CalendarID)

	eng := engine.New(st, buildSource(cfg), target, logger)
	sched := scheduler.New(eng,
		time.Duration(cfg.Sync.CheckIntervalMinutes)*time.Minute,
		time.Duration(cfg.Sync.RunTimeoutMinutes)*time.Minute,
		logger,
	)
	disp := dispatch.New(st, eng, dispatch.Config{
		Seed:         cfg.Webhook.SecretSeed,
		KickFullSync: sched.TriggerNow,
		Logger:       logger,
	})
	srv := server.New(st, eng, disp, server.Config{
		AdminToken: cfg.Server.AdminToken,
		Logger:     logger,
	})

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sched.Start()
	defer sched.Stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
