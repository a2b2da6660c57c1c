package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ent0n29/clawboard/internal/agents"
	"github.com/ent0n29/clawboard/internal/app"
	"github.com/ent0n29/clawboard/internal/config"
	"github.com/ent0n29/clawboard/internal/store"
	"github.com/ent0n29/clawboard/internal/telemetry"
)

var (
	dbPath  string
	rootCmd = &cobra.Command{
		Use:   "clawboard",
		Short: "Local-first task board that drives OpenClaw agents",
		Long: `clawboard keeps boards, tasks and agent runs in a local SQLite database,
runs plan/execute/report cycles against an OpenClaw gateway and streams
every change to connected browsers over SSE.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (overrides DB_PATH)")
	rootCmd.AddCommand(serveCmd(), sweepCmd(), agentsCmd(), stuckCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("config error: %w", err)
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	return cfg, nil
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and realtime stream",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.BindAddr = addr
			}
			logger := telemetry.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)

			built, err := app.Build(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			if len(built.Swept) > 0 {
				logger.Warn("runs left over from a previous process were failed", "count", len(built.Swept))
			}

			httpServer := &http.Server{
				Addr:    cfg.BindAddr,
				Handler: built.API.Router(),
			}
			serveErr := make(chan error, 1)
			go func() {
				logger.Info("server listening", "addr", cfg.BindAddr, "db", cfg.DBPath, "docs_store", built.DocsMode)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			select {
			case <-sigCh:
				logger.Info("shutdown signal received")
			case err := <-serveErr:
				if err != nil {
					_ = built.Cleanup()
					return fmt.Errorf("listen error: %w", err)
				}
			}

			// Close SSE streams first so Shutdown is not held open by them.
			built.Hub.Close()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("graceful shutdown failed", "error", err)
				_ = httpServer.Close()
			}
			if err := built.Cleanup(); err != nil {
				logger.Error("cleanup failed", "error", err)
			}
			logger.Info("shutdown complete")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides APP_BIND_ADDR)")
	return cmd
}

// sweepCmd fails runs left running by a crashed process without starting the
// server. Only runs older than the stuck window are touched unless --all is
// given, so a live server's in-flight runs survive.
func sweepCmd() *cobra.Command {
	var (
		minutes int
		all     bool
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Mark runs orphaned by a previous process as failed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if minutes <= 0 {
				minutes = cfg.RunStuckMinutes
			}
			db, err := store.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()

			var cutoff time.Time
			if !all {
				cutoff = db.Now().Add(-time.Duration(minutes) * time.Minute)
			}
			output, _ := json.Marshal(map[string]string{"error": "abandoned: process restarted"})
			ids, err := db.FailRunningRuns(cmd.Context(), cutoff, output)
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%d run(s) swept\n", len(ids))
			return nil
		},
	}
	cmd.Flags().IntVar(&minutes, "older-than", 0, "only sweep runs started more than this many minutes ago (default RUN_STUCK_MINUTES)")
	cmd.Flags().BoolVar(&all, "all", false, "sweep every running run; use only while no server is running")
	return cmd
}

func stuckCmd() *cobra.Command {
	var minutes int
	cmd := &cobra.Command{
		Use:   "stuck",
		Short: "List runs still running past the stuck threshold",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if minutes <= 0 {
				minutes = cfg.RunStuckMinutes
			}
			db, err := store.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()
			runs, err := db.ListRuns(cmd.Context(), store.RunFilter{StuckMinutes: minutes, StuckOnly: true})
			if err != nil {
				return err
			}
			for _, r := range runs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", r.ID, r.TaskID, r.Mode, r.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&minutes, "minutes", 0, "age in minutes after which a running run counts as stuck")
	return cmd
}

func agentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Inspect and seed agents",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print the agents table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := store.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()
			list, err := db.ListAgents(cmd.Context())
			if err != nil {
				return err
			}
			for _, a := range list {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\tenabled=%t\n", a.ID, a.ExternalID, a.DisplayName, a.Enabled)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "seed <file>",
		Short: "Upsert agents from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			list, err := agents.LoadFile(args[0])
			if err != nil {
				return err
			}
			db, err := store.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()
			n, err := agents.Seed(cmd.Context(), db, list)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d agent(s) seeded\n", n)
			return nil
		},
	})
	return cmd
}
