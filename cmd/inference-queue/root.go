package main

import "github.com/spf13/cobra"

var rootCmd = &cobra.Command{
	Use:   "inference-queue",
	Short: "Compliance gated inference job queue",
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(runCmd)
}
