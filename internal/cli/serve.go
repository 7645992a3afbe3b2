package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rcliao/contextai/internal/prompt"
	"github.com/rcliao/contextai/internal/reprocess"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose metrics and drain the reprocess queue",
		Long: "Serve Prometheus metrics on serve.metrics_addr and replay queued messages on " +
			"serve.reprocess_schedule until SIGINT or SIGTERM.",
		Run: runServe,
	}

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := mustOpenApp(ctx)
	defer a.Close()
	log := a.logger.Named("serve")
	sc := a.cfg.Serve

	// Replays must not enqueue: Drain owns retries and attempt counting.
	replayer := a.orchestrator(reprocess.NewLogQueue(log), prompt.NewTokenCounter())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	server := &http.Server{
		Addr:              sc.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		log.Info("metrics listening", zap.String("addr", sc.MetricsAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server stopped", zap.Error(err))
			stop()
		}
	}()

	scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	_, err := scheduler.AddFunc(sc.ReprocessSchedule, func() {
		n, err := reprocess.Drain(ctx, a.queue, sc.ReprocessBatch, replayer.Replay, log)
		if err != nil {
			log.Warn("reprocess drain failed", zap.Int("handled", n), zap.Error(err))
			return
		}
		if n > 0 {
			log.Info("reprocess drained", zap.Int("handled", n))
		}
	})
	if err != nil {
		exitErr("reprocess schedule", err)
	}
	scheduler.Start()
	log.Info("serving", zap.String("reprocess_schedule", sc.ReprocessSchedule))

	<-ctx.Done()
	log.Info("shutting down")

	<-scheduler.Stop().Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("metrics shutdown", zap.Error(err))
	}
	replayer.Wait()
}
