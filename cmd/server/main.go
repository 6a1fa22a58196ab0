package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath       string
	logLevelOverride string
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "approval-routing",
		Short:         "Approval Routing Service",
		Long:          `Routes business subjects through multi-step approval workflows selected by declarative rules.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a config file (default $APPROVALS_CONFIG)")
	cmd.PersistentFlags().StringVar(&logLevelOverride, "log-level", "", "Override log level (debug|info|warn|error)")

	cmd.AddCommand(
		newServeCmd(),
		newRulesCmd(),
	)
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
