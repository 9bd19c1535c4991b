// convertd/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"convertd/api"
	"convertd/config"
	"convertd/logging"
	"convertd/notify"
	"convertd/task"

	"github.com/hashicorp/go-hclog"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		hclog.Default().Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg)

	// 2. Locate the encoder. A missing binary is not fatal; starting tasks
	// fails until it is installed.
	bin, err := exec.LookPath(cfg.FFBin)
	if err != nil {
		logger.Warn("encoder binary not found, conversions are disabled", "ff_bin", cfg.FFBin, "error", err)
		bin = ""
	}

	// 3. Create a context that is canceled on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 4. Progress sink. The webhook outlives ctx so the cancellations issued at shutdown are
	// still delivered.
	var sink task.Sink
	webhookCtx, stopWebhook := context.WithCancel(context.Background())
	defer stopWebhook()
	webhookDone := make(chan struct{})
	if cfg.WebhookURL != "" {
		webhook := notify.NewWebhook(cfg, logger)
		go func() {
			defer close(webhookDone)
			webhook.Run(webhookCtx)
		}()
		sink = webhook
	} else {
		close(webhookDone)
	}

	// 5. Task manager, router and server
	taskManager := task.NewManager(cfg, bin, logger, sink)
	taskManager.Watch(ctx)

	router := api.SetupRouter(taskManager, cfg, logger)
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen failed", "error", err)
			os.Exit(1)
		}
	}()

	// 6. Wait for interrupt signal for graceful shutdown
	<-ctx.Done()

	// Restore default behavior on the interrupt signal and notify user of shutdown.
	stop()
	logger.Info("shutting down gracefully, press Ctrl+C again to force")

	// Kill every encoder before the listener goes away so nothing is orphaned.
	taskManager.CancelAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	supervisorsDone := make(chan struct{})
	go func() {
		taskManager.Wait()
		close(supervisorsDone)
	}()
	select {
	case <-supervisorsDone:
	case <-shutdownCtx.Done():
		logger.Warn("supervisors still running at exit")
	}
	stopWebhook()
	<-webhookDone

	logger.Info("server exiting")
}
