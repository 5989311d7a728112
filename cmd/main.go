/**
 * @description
 * This is the main entry point for the payment compliance service.
 * `serve` runs the HTTP API together with the cron scheduler that drives the
 * daily payment lifecycle, reminder dispatch and event redrive. The same jobs
 * are available as one-shot commands for an external orchestrator.
 */
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/solarpay/compliance-service/internal/api"
	"github.com/solarpay/compliance-service/internal/app"
	"github.com/solarpay/compliance-service/internal/config"
	"github.com/solarpay/compliance-service/internal/store"
)

func main() {
	// Load .env file for local development.
	_ = godotenv.Load()

	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "compliance-service",
		Short:         "Payment delinquency lifecycle for solar installment plans",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newServeCommand(),
		newJobCommand("run-cycle", "Run the daily payment lifecycle cycle once", func(ctx context.Context, rt *runtime) (interface{}, error) {
			return rt.engine.RunDailyCycle(ctx)
		}),
		newJobCommand("dispatch-reminders", "Send standing reminders and retry failed ones", func(ctx context.Context, rt *runtime) (interface{}, error) {
			return rt.reminderJob.DispatchReminders(ctx)
		}),
		newJobCommand("retry-reminders", "Retry failed reminder deliveries", func(ctx context.Context, rt *runtime) (interface{}, error) {
			return rt.dispatcher.ProcessFailedReminders(ctx)
		}),
		newJobCommand("redrive-events", "Republish dead-lettered payment events", func(ctx context.Context, rt *runtime) (interface{}, error) {
			return rt.redriver.Redrive(ctx)
		}),
		newMigrateCommand(),
	)
	return root
}

func newServeCommand() *cobra.Command {
	var withScheduler bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the job scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			cfg, err := config.LoadConfig()
			if err != nil {
				logger.Error("failed to load configuration", "error", err)
				return err
			}

			if cfg.RunMigrations {
				if err := store.RunMigrations(cfg.DatabaseURL); err != nil {
					logger.Error("failed to run migrations", "error", err)
					return err
				}
				logger.Info("database migrations applied")
			}

			rt, err := newRuntime(cmd.Context(), cfg, logger)
			if err != nil {
				logger.Error("failed to initialize service", "error", err)
				return err
			}
			defer rt.Close()

			handler := api.NewHandler(api.Services{
				Lifecycle:   rt.engine,
				ReminderJob: rt.reminderJob,
				Reminders:   rt.dispatcher,
				Redriver:    rt.redriver,
				Policies:    rt.policies,
				Payments:    rt.payments,
			}, logger)
			router := api.NewRouter(handler, api.RouterConfig{
				InternalAPIKey: cfg.InternalAPIKey,
				AdminJWTSecret: cfg.AdminJWTSecret,
				Gatherer:       rt.registry,
			})

			var scheduler *app.Scheduler
			if withScheduler {
				scheduler = app.NewScheduler(rt.jobs, logger, *cfg)
				scheduler.Start()
				logger.Info("scheduler started")
			}

			server := &http.Server{
				Addr:    ":" + cfg.ServerPort,
				Handler: router,
			}
			serverErr := make(chan error, 1)
			go func() {
				logger.Info("http server listening", "port", cfg.ServerPort)
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					serverErr <- err
				}
			}()

			// Wait for termination signal to gracefully shut down
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			select {
			case <-sigCh:
				logger.Info("shutdown signal received")
			case err := <-serverErr:
				logger.Error("http server stopped unexpectedly", "error", err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				logger.Error("http server shutdown failed", "error", err)
			}

			if scheduler != nil {
				stopCtx := scheduler.Stop()
				<-stopCtx.Done() // Wait for running jobs to finish
				logger.Info("scheduler stopped gracefully")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&withScheduler, "scheduler", true, "run the cron scheduler alongside the HTTP API")
	return cmd
}

// newJobCommand builds a one-shot command that runs a job and prints its result as JSON.
func newJobCommand(use, short string, run func(ctx context.Context, rt *runtime) (interface{}, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			cfg, err := config.LoadConfig()
			if err != nil {
				logger.Error("failed to load configuration", "error", err)
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := newRuntime(ctx, cfg, logger)
			if err != nil {
				logger.Error("failed to initialize service", "error", err)
				return err
			}
			defer rt.Close()

			result, runErr := run(ctx, rt)
			if result != nil {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(result); err != nil {
					return err
				}
			}
			if runErr != nil {
				logger.Error("job failed", "command", use, "error", runErr)
				return runErr
			}
			return nil
		},
	}
}

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			if err := store.RunMigrations(cfg.DatabaseURL); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			if err := store.RollbackMigration(cfg.DatabaseURL, steps); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migration(s)\n", steps)
			return nil
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the applied migration version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			version, dirty, err := store.MigrationStatus(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t\n", version, dirty)
			return nil
		},
	})
	return cmd
}
