package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vanshika/paystream/internal/config"
	"github.com/vanshika/paystream/internal/generator"
	"github.com/vanshika/paystream/internal/logging"
	"github.com/vanshika/paystream/internal/processor"
)

func replayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay [dataset]",
		Short: "Process a dataset written by datagen without the event channel",
		Args:  cobra.ExactArgs(1),
		RunE:  runReplay,
	}
	cmd.Flags().IntP("workers", "w", 4, "number of concurrent workers")
	return cmd
}

func runReplay(cmd *cobra.Command, args []string) error {
	workers, _ := cmd.Flags().GetInt("workers")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := logging.New(cfg.Logging).With("component", "replay")

	dataset, err := generator.ReadDataset(args[0])
	if err != nil {
		return err
	}
	if len(dataset.Requests) == 0 {
		return fmt.Errorf("dataset %s has no requests", args[0])
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	start := time.Now()
	bulk := processor.NewBulkProcessor(a.processor, workers)
	result, err := bulk.ProcessAll(ctx, dataset.Requests)

	var taskErr *processor.TaskError
	switch {
	case errors.As(err, &taskErr):
		logger.Warn("replay finished with errors", "count", len(taskErr.Errors))
		for _, e := range taskErr.Errors {
			logger.Debug("replay error", "error", e)
		}
	case err != nil:
		return fmt.Errorf("replay aborted: %w", err)
	}

	logger.Info("replay complete",
		"total", result.Total,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return json.NewEncoder(cmd.OutOrStdout()).Encode(result)
}
