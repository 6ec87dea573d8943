package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"convoy/internal/history"
	"convoy/internal/server"
)

var (
	serveConfigFile string
	serveLogFile    string
	serveDBPath     string
	serveHost       string
	servePort       int
	serveTestMode   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the trigger server",
	Long: `Start the HTTP server that receives signed trigger requests and starts
pipeline runs. One run executes at a time; concurrent triggers are rejected.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigFile, "config", "c", getEnvOrDefault("CONVOY_CONFIG_FILE", ""), "Path to convoy.yaml configuration file")
	serveCmd.Flags().StringVar(&serveLogFile, "log", getEnvOrDefault("CONVOY_LOG_FILE", "./convoy.log"), "Path to log file")
	serveCmd.Flags().StringVar(&serveDBPath, "db", getEnvOrDefault("CONVOY_DB_PATH", "./convoy.db"), "Path to SQLite history database")
	serveCmd.Flags().StringVar(&serveHost, "host", getEnvOrDefault("CONVOY_HOST", "127.0.0.1"), "Host to bind to")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", getEnvOrDefaultInt("CONVOY_PORT", 5000), "Port to listen on")
	serveCmd.Flags().BoolVar(&serveTestMode, "test-mode", false, "Enable test mode (skip signature checks and rate limits)")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, logFileHandle, err := setupLogging(serveLogFile)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logFileHandle.Close()

	logger.Info("Starting convoy")

	settings, err := loadSettings(serveConfigFile)
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if settings.TriggerSecret == "" && !serveTestMode {
		return fmt.Errorf("trigger_secret must be configured to run the trigger server")
	}

	logger.Info("Initializing history database", "db", serveDBPath)
	store, err := history.NewStore(serveDBPath)
	if err != nil {
		logger.Error("Failed to initialize history database", "error", err)
		return fmt.Errorf("failed to initialize history database: %w", err)
	}
	defer store.Close()

	controller := buildController(settings, logger)
	srv := server.NewServer(controller, store, logger, settings.TriggerSecret, serveTestMode)

	logger.Info("Starting HTTP server", "host", serveHost, "port", servePort)
	if err := srv.Start(serveHost, servePort); err != nil {
		logger.Error("Server failed", "error", err)
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}
