package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		code := exitFatal

		var coder interface{ ExitCode() int }
		if errors.As(err, &coder) {
			code = coder.ExitCode()
		}

		_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(code)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("ppsksync", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "ppsksync.yaml", "path to the YAML configuration")
	envFile := flags.String("env-file", ".env", "dotenv file with secrets, skipped when missing")
	logLevel := flags.String("log-level", "", "log level (default $LOGLEVEL or info)")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}

		return err
	}

	if err := loadEnvFile(*envFile, flags.Changed("env-file")); err != nil {
		return err
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		return err
	}

	levelText := *logLevel
	if levelText == "" {
		levelText = os.Getenv("LOGLEVEL")
	}

	level, err := parseLevel(levelText)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}

	log, closeLog, err := NewLogger(level, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	defer closeLog()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var notifier Notifier
	if cfg.SMTP.Server != "" {
		notifier = NewMailer(log, cfg.SMTP)
	}

	report := NewRunReport(log, notifier, cfg.SMTP.Subject)
	client := NewXIQClient(log, cfg.XIQ, nil)
	dir := NewDirectorySource(log, cfg.Directory)

	engine := NewEngine(log, cfg, client, dir, client, client, report)

	summary, err := engine.Run(ctx)
	if err != nil {
		return &exitError{code: exitFatal, err: err}
	}

	report.Flush(context.WithoutCancel(ctx))

	log.Info("sync complete",
		zap.Bool("directory_capture_success", summary.DirectoryCaptureSuccess),
		zap.Bool("deletion_skipped", summary.DeletionSkipped),
	)

	if report.HasErrors() {
		return &exitError{code: exitWithErrors, err: errors.New("run completed with recorded errors")}
	}

	return nil
}

// loadEnvFile loads secrets from a dotenv file. Variables already set in the
// environment win. A missing default file is not an error.
func loadEnvFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && !explicit {
		return nil
	}

	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}

	return nil
}
