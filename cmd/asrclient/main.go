package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skypro1111/asr-session-client/internal/config"
	"github.com/skypro1111/asr-session-client/internal/metrics"
	"github.com/skypro1111/asr-session-client/internal/transcription"
)

const (
	serviceName    = "asr-session-client"
	serviceVersion = "1.0.0"
)

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage: asrclient [flags] <command> [args]\n\nCommands:\n")
	for _, cmd := range commands {
		fmt.Fprintf(out, "  %-46s %s\n", cmd.usage, cmd.help)
	}
	fmt.Fprintf(out, "\nDict actions (YAML or JSON files):\n")
	for _, action := range dictActions {
		fmt.Fprintf(out, "  dict %s\n", action.usage)
	}
	fmt.Fprintf(out, "\nFlags:\n")
	flag.PrintDefaults()
}

func main() {
	configPath := flag.String("config", "", "Path to configuration file (defaults only when empty)")
	envFile := flag.String("env", ".env", "Path to an env file with ASR_* overrides")
	sessionID := flag.String("session", "", "Session id, overrides configuration")
	language := flag.String("language", "", "Transcript language, overrides configuration")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	if err := config.LoadEnvFiles(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load env file: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *sessionID != "" {
		cfg.Client.SessionID = *sessionID
	}
	if *language != "" {
		cfg.Client.Language = *language
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Debug("Client starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
		slog.String("base_url", cfg.Client.BaseURL),
		slog.String("session_id", cfg.Client.SessionID),
		slog.String("language", cfg.Client.Language),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, logger, metrics.NewMetrics(prometheus.DefaultRegisterer), os.Stdout)
	if err != nil {
		logger.Error("Failed to create client", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer a.client.Close()

	if err := a.run(ctx, flag.Args()); err != nil {
		logger.Error("Command failed",
			slog.String("command", flag.Arg(0)),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
}

// app carries what every command needs
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	client  *transcription.Client
	session transcription.Session
	out     io.Writer
}

func newApp(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, out io.Writer) (*app, error) {
	client, err := transcription.NewClient(transcription.Config{
		BaseURL:       cfg.Client.BaseURL,
		Headers:       cfg.Client.Headers,
		Timeout:       cfg.Client.GetTimeoutDuration(),
		MaxRetries:    cfg.Client.MaxRetries,
		RetryDelay:    cfg.Client.GetRetryDelay(),
		MaxConcurrent: cfg.Client.MaxConcurrent,
	}, logger, m)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		client:  client,
		session: transcription.NewSession(cfg.Client.SessionID, cfg.Client.Language),
		out:     out,
	}, nil
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	// stdout carries command output, so logs default to stderr
	var output *os.File
	switch cfg.Output {
	case "stdout":
		output = os.Stdout
	case "stderr", "":
		output = os.Stderr
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stderr\n", cfg.Output, err)
			output = os.Stderr
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
