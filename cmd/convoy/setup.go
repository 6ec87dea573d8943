package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"convoy/internal/artifact"
	"convoy/internal/config"
	"convoy/internal/deploy"
	"convoy/internal/pipeline"
	"convoy/internal/qa"
	"convoy/internal/remote"
)

const configFileName = "convoy.yaml"

// loadSettings resolves the config path (flag value or default search
// locations) and loads the validated settings.
func loadSettings(configFile string) (*config.Settings, error) {
	if configFile == "" {
		searchPaths := config.DefaultPaths(configFileName)
		configFile = config.SearchPaths(searchPaths)
		if configFile == "" {
			fmt.Fprintf(os.Stderr, "Error: No configuration file found in default locations:\n")
			for _, path := range searchPaths {
				fmt.Fprintf(os.Stderr, "  - %s\n", path)
			}
			fmt.Fprintf(os.Stderr, "Use --config flag to specify a custom location\n")
			return nil, fmt.Errorf("configuration file not found")
		}
	}

	return config.Load(configFile)
}

// buildController wires the pipeline collaborators from settings.
func buildController(settings *config.Settings, logger *slog.Logger) *pipeline.Controller {
	reg := settings.Registry

	controller := &pipeline.Controller{
		Settings: settings,
		Source:   pipeline.NewGitSource(settings.Repo, settings.WorkDir, logger),
		Publish: artifact.NewPublisher(
			reg.Host, reg.Namespace, reg.Image, reg.Username, reg.Password, logger),
		Deployer: deploy.NewOrchestrator(remote.NewSSH(), reg, logger),
		Logger:   logger,
	}

	if settings.QA.Owner != "" {
		controller.Gate = qa.NewGitHubGate(settings.QA, logger)
	}

	return controller
}

// setupLogging configures slog for JSON logging to both stdout and a file.
// Returns the logger and the file handle (caller must close the file).
func setupLogging(logPath string) (*slog.Logger, *os.File, error) {
	logDir := filepath.Dir(logPath)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	multiWriter := io.MultiWriter(os.Stdout, file)

	handler := slog.NewJSONHandler(multiWriter, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})

	return slog.New(handler), file, nil
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
