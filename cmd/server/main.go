package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var configPath string
	root := &cobra.Command{
		Use:          "carekeeper",
		Short:        "Clinic authorization and compliance lifecycle engine",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CAREKEEPER_CONFIG"), "path to a YAML config file")

	root.AddCommand(serveCmd(&configPath))
	root.AddCommand(migrateCmd(&configPath))
	root.AddCommand(retentionCmd(&configPath))
	root.AddCommand(auditCmd(&configPath))

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
