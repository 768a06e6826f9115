package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "relay",
		Short: "Snout Services message relay",
		Long:  "Inbound SMS routing for the Snout Services pet-care console.",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.toml")
	root.AddCommand(newServeCmd(), newMigrateCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
