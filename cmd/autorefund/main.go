// Command autorefund runs one auto-refund sweep and exits. It suits an
// external scheduler such as cron; the exit status is 1 if any refund failed.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"wasch-booking-backend/config"
	"wasch-booking-backend/internal/app"
	"wasch-booking-backend/internal/refund"
	"wasch-booking-backend/pkg/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		logging.Default().Error("failed to load configuration", "path", configPath, "error", err)
		return 1
	}
	logger := logging.New(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		return 1
	}
	defer a.Close()

	report, err := a.Sweeper.RunOnce(ctx)
	if errors.Is(err, refund.ErrLocked) {
		logger.Info("another sweep is running, nothing to do")
		return 0
	}
	if err != nil {
		logger.Error("auto-refund sweep failed", "error", err)
		return 1
	}

	for _, f := range report.Failures {
		logger.Error("auto-refund item failed", "appointment", f.AppointmentID, "transaction", f.TransactionID, "error", f.Err)
	}
	logger.Info("auto-refund sweep done",
		"attempted", report.Attempted, "succeeded", report.Succeeded,
		"skipped", report.Skipped, "failed", report.Failed)
	if report.Failed > 0 {
		return 1
	}
	return 0
}
