package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/islishude/imgfetch/internal/cli"
	"github.com/islishude/imgfetch/internal/config"
	"github.com/islishude/imgfetch/internal/engine"
)

func main() {
	opts, err := cli.Parse(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "imgfetch: %v\n", err)
		os.Exit(engine.ExitFatal)
	}
	if opts.Help {
		_, _ = fmt.Fprint(os.Stdout, cli.HelpText(filepath.Base(os.Args[0])))
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "imgfetch: %v\n", err)
		os.Exit(engine.ExitFatal)
	}
	if opts.MountRoot != "" {
		cfg.MountRoot = opts.MountRoot
	}
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "imgfetch: %v\n", err)
		os.Exit(engine.ExitFatal)
	}
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	basectx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	runner, err := engine.New(basectx, cfg, logger, os.Stdin, os.Stdout, os.Stderr)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "imgfetch: %v\n", err)
		os.Exit(engine.ExitFatal)
	}

	result := runner.Run(basectx, opts)
	if result.Err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "imgfetch: %v\n", result.Err)
	}
	cancel()
	os.Exit(result.ExitCode)
}
