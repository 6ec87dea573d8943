package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"convoy/internal/history"
	"convoy/internal/pipeline"
	"convoy/internal/server"
)

var (
	runConfigFile string
	runLogFile    string
	runDBPath     string
	runBranch     string
	runQATests    bool
	runProd       bool
	runBuildID    string
	runNoHistory  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one pipeline run",
	Long: `Execute one full pipeline run: checkout, build and publish the image,
deploy to dev, run the QA gate (unless disabled), and deploy to prod when
requested and all prior gates passed.

The command exits non-zero if any required stage fails.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runConfigFile, "config", "c", getEnvOrDefault("CONVOY_CONFIG_FILE", ""), "Path to convoy.yaml configuration file")
	runCmd.Flags().StringVar(&runLogFile, "log", getEnvOrDefault("CONVOY_LOG_FILE", "./convoy.log"), "Path to log file")
	runCmd.Flags().StringVar(&runDBPath, "db", getEnvOrDefault("CONVOY_DB_PATH", "./convoy.db"), "Path to SQLite history database")
	runCmd.Flags().StringVar(&runBranch, "branch", "main", "Branch to build and deploy")
	runCmd.Flags().BoolVar(&runQATests, "qa", true, "Run the QA gate between dev and prod")
	runCmd.Flags().BoolVar(&runProd, "prod", false, "Deploy to prod after all gates pass")
	runCmd.Flags().StringVar(&runBuildID, "build-id", "", "Build identifier for the image tag (default: timestamp)")
	runCmd.Flags().BoolVar(&runNoHistory, "no-history", false, "Skip recording the run in the history database")
}

func runRun(cmd *cobra.Command, args []string) error {
	logger, logFileHandle, err := setupLogging(runLogFile)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logFileHandle.Close()

	settings, err := loadSettings(runConfigFile)
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	controller := buildController(settings, logger)

	// Cancellation stops before the next step, never mid-step.
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	run := controller.Execute(ctx, pipeline.Options{
		Branch:       runBranch,
		RunQATests:   runQATests,
		DeployToProd: runProd,
		BuildID:      runBuildID,
	})

	if !runNoHistory {
		store, err := history.NewStore(runDBPath)
		if err != nil {
			logger.Error("Failed to open history database", "error", err)
		} else {
			defer store.Close()
			if _, err := store.RecordRun(cmd.Context(), server.RunToRecord(run)); err != nil {
				logger.Error("Failed to record run history", "error", err)
			}
		}
	}

	if run.Outcome != pipeline.OutcomeSuccess {
		return fmt.Errorf("pipeline run %s failed at stage %s: %w", run.ID, run.FailedStage, run.Err)
	}

	fmt.Printf("Pipeline run %s succeeded\n", run.ID)
	fmt.Printf("  Artifact:  %s\n", run.Artifact)
	fmt.Printf("  Dev:       %s\n", run.DevResult.Outcome)
	if run.QAOutcome != "" {
		fmt.Printf("  QA:        %s\n", run.QAOutcome)
	}
	if run.ProdResult != nil {
		fmt.Printf("  Prod:      %s\n", run.ProdResult.Outcome)
	}

	return nil
}
