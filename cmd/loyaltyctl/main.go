// Package main содержит консольную утилиту оператора сервиса лояльности.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "loyaltyctl",
		Short:         "Operator tool for the loyalty ledger",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(pendingCmd())
	rootCmd.AddCommand(confirmCmd())
	rootCmd.AddCommand(rollbackCmd())
	rootCmd.AddCommand(expireCmd())
	rootCmd.AddCommand(pruneCmd())
	rootCmd.AddCommand(linkCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
