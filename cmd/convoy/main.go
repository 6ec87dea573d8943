package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev" // Will be set during build

var rootCmd = &cobra.Command{
	Use:   "convoy",
	Short: "Declarative deployment pipeline",
	Long: `Convoy builds a container image from source and converges remote
environments to it with an ordered, idempotent deployment sequence.

A pipeline run is: checkout, build and publish, deploy to dev, an optional
QA gate, and an optional deploy to prod.`,
	Version: version,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}
