package main

import (
	"fmt"
	"os"

	"github.com/ordersentry/ordersentry/cmd"
	"github.com/ordersentry/ordersentry/internal/conf"
	"github.com/ordersentry/ordersentry/internal/logging"
)

func main() {
	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		os.Exit(1)
	}

	logging.Init()

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "command error: %v\n", err)
		os.Exit(1)
	}
}
