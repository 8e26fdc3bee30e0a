package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"hooky/internal/dispatch"
	"hooky/internal/history"
	"hooky/internal/logic"
	"hooky/internal/security"
	"hooky/internal/server"
	"hooky/internal/settings"
	"hooky/pkg/fileutil"

	"github.com/spf13/cobra"
)

const (
	settingsFileName = "hooky.yaml"
	shutdownTimeout  = 30 * time.Second
)

var (
	configFile string
	logFile    string
	host       string
	port       int
	testMode   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook server",
	Long: `Start the HTTP server to receive GitHub App webhooks.

Settings are read from hooky.yaml (./, ./config/ or /etc/hooky/) and the
environment; environment variables win. Only webhook_secret is required when
a GitHub App private key is present.`,
	RunE: runServe,
}

func init() {
	// Flags for serve command
	serveCmd.Flags().StringVarP(&configFile, "config", "c", getEnvOrDefault("HOOKY_CONFIG_FILE", ""), "Path to hooky.yaml settings file")
	serveCmd.Flags().StringVar(&logFile, "log", getEnvOrDefault("HOOKY_LOG_FILE", ""), "Path to log file (stdout only when empty)")
	serveCmd.Flags().StringVar(&host, "host", getEnvOrDefault("HOOKY_HOST", "127.0.0.1"), "Host to bind to")
	serveCmd.Flags().IntVarP(&port, "port", "p", getEnvOrDefaultInt("HOOKY_PORT", 8000), "Port to listen on")
	serveCmd.Flags().BoolVar(&testMode, "test-mode", os.Getenv("HOOKY_TEST_MODE") == "1", "Enable test mode (no rate limiting, no delivery log)")
}

func runServe(cmd *cobra.Command, args []string) error {
	// The settings file is optional; everything can come from the environment
	if configFile == "" {
		configFile = fileutil.FindConfigOptional(settingsFileName)
	}

	// Set up logging
	logger, logFileHandle, err := setupLogging(logFile)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	if logFileHandle != nil {
		defer logFileHandle.Close()
	}

	logger.Info("Starting hooky", "version", version)

	if configFile != "" {
		logger.Info("Loading settings", "config", configFile)
	} else {
		logger.Info("No settings file found, using environment only", "searched", fileutil.DefaultConfigPaths(settingsFileName))
	}

	cfg, err := settings.Load(configFile)
	if err != nil {
		logger.Error("Failed to load settings", "error", err)
		return fmt.Errorf("failed to load settings: %w", err)
	}

	if configFile != "" {
		// the settings file holds the webhook secrets
		if err := security.ValidateSecurePermissions(configFile); err != nil {
			logger.Warn("Insecure settings file", "warning", err.Error())
		}
	}
	for _, warning := range cfg.Warnings() {
		logger.Warn("Insecure setting", "warning", warning)
	}
	if cfg.MarketplaceSecret == nil {
		logger.Warn("marketplace_webhook_secret is not set, marketplace deliveries will be rejected")
	}

	proc, err := logic.NewFromSettings(cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize event processor", "error", err)
		return fmt.Errorf("failed to initialize event processor: %w", err)
	}
	defer proc.Close()

	dispatcher := dispatch.New(cfg.Workers, proc, logger)

	// Initialize delivery log; the server closes it on shutdown
	var hist *history.History
	if !testMode && cfg.HistoryDB != "" {
		logger.Info("Initializing delivery log", "db", cfg.HistoryDB)
		hist, err = history.NewHistory(cfg.HistoryDB)
		if err != nil {
			logger.Error("Failed to initialize delivery log", "error", err)
			return fmt.Errorf("failed to initialize delivery log: %w", err)
		}
	}

	srv := server.NewServer(cfg, dispatcher, hist, logger, testMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(host, port)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down, waiting for in-flight events")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown failed", "error", err)
		return fmt.Errorf("shutdown failed: %w", err)
	}

	logger.Info("Server stopped")
	return nil
}

// setupLogging configures slog JSON logging to stdout and, when logPath is
// set, an append-only log file. The caller must close the returned file.
func setupLogging(logPath string) (*slog.Logger, *os.File, error) {
	var out io.Writer = os.Stdout
	var file *os.File

	if logPath != "" {
		// Create log directory if needed; existing directories are left alone
		if logDir := filepath.Dir(logPath); !dirExists(logDir) {
			if err := security.CreateSecureDir(logDir, security.PermDirectory); err != nil {
				return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
			}
		}

		var err error
		file, err = security.OpenSecureAppend(logPath, security.PermLogFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}

		// Log to both file and console
		out = io.MultiWriter(os.Stdout, file)
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})

	return slog.New(handler), file, nil
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// Helper functions for environment variables
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}
