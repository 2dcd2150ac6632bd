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
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/nucleus/fluxion/internal/workflow"
)

func workerCmd() *cobra.Command {
	var schedule bool

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the Temporal worker and the health and metrics endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cmd, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()
			cfg := a.cfg

			c, err := client.Dial(client.Options{
				HostPort:  cfg.TemporalAddress,
				Namespace: cfg.TemporalNamespace,
			})
			if err != nil {
				return fmt.Errorf("failed to create Temporal client: %w", err)
			}
			defer c.Close()

			w := worker.New(c, cfg.TemporalTaskQueue, worker.Options{})
			workflow.Register(w, workflow.NewActivities(a.sources, a.orch, a.reconcile, a.queue))

			if schedule {
				if err := startSchedules(ctx, c, cfg.TemporalTaskQueue, cfg.SyncCron, cfg.ReconcileCron); err != nil {
					return err
				}
			}

			server := &http.Server{
				Addr:              ":" + cfg.MetricsPort,
				Handler:           a.routes(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					a.logger.Warn("error shutting down server", zap.Error(err))
				}
			}()
			go func() {
				a.logger.Info("health and metrics listening", zap.String("addr", server.Addr))
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					a.logger.Error("server error", zap.Error(err))
					stop()
				}
			}()

			a.logger.Info("temporal worker started", zap.String("taskQueue", cfg.TemporalTaskQueue))
			interrupt := make(chan any)
			go func() {
				<-ctx.Done()
				close(interrupt)
			}()
			return w.Run(interrupt)
		},
	}

	cmd.Flags().BoolVar(&schedule, "schedule", true, "start the cron sync and reconcile workflows")
	return cmd
}

// startSchedules starts the cron workflows under fixed ids. A workflow that
// is already running under the same id is left in place.
func startSchedules(ctx context.Context, c client.Client, taskQueue, syncCron, reconcileCron string) error {
	schedules := []struct {
		id    string
		cron  string
		name  string
		input any
	}{
		{"fluxion-sync", syncCron, workflow.SyncWorkflowName, workflow.SyncInput{}},
		{"fluxion-reconcile", reconcileCron, workflow.ReconcileWorkflowName, workflow.ReconcileInput{Recover: true}},
	}
	for _, s := range schedules {
		if s.cron == "" {
			continue
		}
		opts := client.StartWorkflowOptions{
			ID:           s.id,
			TaskQueue:    taskQueue,
			CronSchedule: s.cron,
		}
		if _, err := c.ExecuteWorkflow(ctx, opts, s.name, s.input); err != nil {
			return fmt.Errorf("failed to start %s: %w", s.id, err)
		}
	}
	return nil
}

// =============================================================================
// HTTP
// =============================================================================

func (a *app) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", a.healthHandler)
	mux.Handle("/metrics", a.metrics.Handler())
	return mux
}

type healthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Database string `json:"database,omitempty"`
}

func (a *app) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Version: Version}
	code := http.StatusOK
	if a.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.db.Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Database = err.Error()
			code = http.StatusServiceUnavailable
		} else {
			resp.Database = "ok"
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
