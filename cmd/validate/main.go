package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"go.uber.org/zap"

	"ocr-accuracy-validator/internal/config"
	"ocr-accuracy-validator/internal/jobs"
	"ocr-accuracy-validator/internal/ocr"
	"ocr-accuracy-validator/internal/storage"
	"ocr-accuracy-validator/internal/store"
	"ocr-accuracy-validator/internal/telemetry"
	"ocr-accuracy-validator/internal/validation"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: validate <document-id>")
		os.Exit(2)
	}
	documentID := os.Args[1]

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := telemetry.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, logger, documentID); err != nil {
		logger.Error("validation failed", zap.String("document_id", documentID), zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger, documentID string) error {
	st, err := store.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	files, err := storage.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	client := ocr.NewClient(cfg.OCRTimeout, cfg.OCRMaxResponseBytes)
	pipeline := validation.NewPipeline(files, client, st, st, logger.Named("pipeline"))
	runner := jobs.NewRunner(st, pipeline, logger.Named("jobs"))

	job, runErr := runner.Execute(ctx, documentID)
	if job.ID == "" {
		return runErr
	}

	snap, err := runner.Status(ctx, job.ID)
	if err != nil {
		return err
	}
	res, err := runner.Result(ctx, job.ID)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]any{"job": snap, "result": res.Result}); err != nil {
		return err
	}
	return runErr
}
