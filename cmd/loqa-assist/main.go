package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/loqalabs/loqa-assist/internal/config"
	"github.com/loqalabs/loqa-assist/internal/runtime"
	"github.com/loqalabs/loqa-assist/internal/tui"
)

var version = "0.1.0-dev"

func main() {
	var (
		configPath  string
		showVersion bool
		headless    bool
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file; built-in defaults when empty")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.BoolVar(&headless, "headless", false, "Run without the terminal UI")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	headless = headless || cfg.UI.Headless

	logOut, closeLog, err := logOutput(cfg.Telemetry.LogFile, headless)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: parseLevel(cfg.Telemetry.LogLevel)}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if headless {
		rt := runtime.New(cfg, logger, os.Stdout)
		if err := rt.Start(ctx); err != nil {
			logger.Error("runtime exited with error", slog.String("error", err.Error()))
			time.Sleep(1 * time.Second)
			os.Exit(1)
		}
		logger.Info("shutdown complete")
		return
	}

	if err := runTUI(ctx, cfg, logger, logOut); err != nil {
		logger.Error("terminal ui exited with error", slog.String("error", err.Error()))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runTUI(ctx context.Context, cfg config.Config, logger *slog.Logger, traceOut io.Writer) error {
	rt := runtime.New(cfg, logger, traceOut)
	if err := rt.Open(ctx); err != nil {
		return err
	}
	defer rt.Close()

	events, unsubscribe := rt.Assistant().Hub().Subscribe(256)
	defer unsubscribe()

	model := tui.New(ctx, rt.Assistant(), events, cfg.UI.MaxInteractions).WithSampleQuestions(cfg.UI.SampleQuestions)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("run terminal ui: %w", err)
	}
	return nil
}

// logOutput picks the log destination. The terminal UI owns stdout, so
// without a log file logs are discarded there.
func logOutput(path string, headless bool) (io.Writer, func(), error) {
	if path == "" {
		if headless {
			return os.Stdout, func() {}, nil
		}
		return io.Discard, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
