package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pesio-ai/be-approval-routing/internal/config"
	"github.com/pesio-ai/be-approval-routing/internal/service"
)

func newRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect approval rule files",
	}
	cmd.AddCommand(newRulesValidateCmd())
	return cmd
}

func newRulesValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a rules file without starting the service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := config.LoadRulesFile(args[0])
			if err != nil {
				return err
			}
			seen := make(map[string]struct{}, len(rules))
			for _, r := range rules {
				if err := service.ValidateRule(r); err != nil {
					return err
				}
				if _, dup := seen[r.ID]; dup {
					return fmt.Errorf("%w: duplicate rule id %s", service.ErrInvalidRule, r.ID)
				}
				seen[r.ID] = struct{}{}
				fmt.Fprintf(cmd.OutOrStdout(), "%-24s %d step(s), %d condition(s)\n", r.ID, len(r.Steps), len(r.Conditions))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d rule(s) OK\n", len(rules))
			return nil
		},
	}
}
