package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"margin/api/internal/config"
	"margin/api/internal/replay"
)

func main() {
	scriptPath := flag.String("script", "-", "gesture script to replay, - for stdin")
	tickTimeout := flag.Duration("tick-timeout", time.Second, "how long a poll tick may take")
	flag.Parse()

	cfg := config.Load()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))

	if err := run(*scriptPath, *tickTimeout, cfg, logger, os.Stdout); err != nil {
		logger.Error("replay failed", "error", err)
		os.Exit(1)
	}
}

func run(path string, tickTimeout time.Duration, cfg config.Config, logger *slog.Logger, out io.Writer) error {
	var in io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open script: %w", err)
		}
		defer f.Close()
		in = f
	}

	script, err := replay.Decode(in)
	if err != nil {
		return err
	}
	if script.TopOffset == 0 {
		script.TopOffset = cfg.PopoverTopOffset
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := replay.NewRunner(
		replay.WithLogger(logger),
		replay.WithBreakpoints(cfg.Breakpoints),
		replay.WithTickTimeout(tickTimeout),
	)
	result, err := runner.Run(ctx, script)
	if err != nil {
		return err
	}
	logger.Info("replay finished", "steps", len(script.Steps), "events", len(result.Events))

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}
