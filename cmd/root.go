// Package cmd assembles the ordersentry command tree.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ordersentry/ordersentry/cmd/notify"
	"github.com/ordersentry/ordersentry/cmd/serve"
	"github.com/ordersentry/ordersentry/internal/conf"
)

// RootCommand creates and returns the root command.
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "ordersentry",
		Short:   "Critical order-alert escalation engine",
		Version: conf.Version,
	}

	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", settings.Debug, "Enable debug output")

	rootCmd.AddCommand(
		serve.Command(settings),
		notify.Command(settings),
	)

	return rootCmd
}
