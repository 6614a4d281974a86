package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func rulesCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage the signature rule table",
	}
	cmd.AddCommand(rulesListCmd(opts))
	cmd.AddCommand(rulesWriteCmd(opts, "set", "Create or replace a rule"))
	cmd.AddCommand(rulesWriteCmd(opts, "update", "Update an existing rule"))
	cmd.AddCommand(rulesDeleteCmd(opts))
	return cmd
}

func rulesListCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List rules ordered by signature id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := opts.client().ListRules(cmd.Context())
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.output, rules)
		},
	}
}

func rulesWriteCmd(opts *globalOptions, verb, short string) *cobra.Command {
	var action int
	cmd := &cobra.Command{
		Use:   verb + " <signature-id> <description>",
		Short: short,
		Long: short + `.

Actions:
  1  solo-detectar            detect only
  2  detectar-registro        detect and log
  3  confinamiento-namespace  confine to the workload's namespace
  4  aislamiento-completo     isolate completely`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("signature id must be an integer: %q", args[0])
			}
			c := opts.client()
			if verb == "update" {
				err = c.UpdateRule(cmd.Context(), id, args[1], action)
			} else {
				err = c.SetRule(cmd.Context(), id, args[1], action)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rule %d %s\n", id, map[string]string{"set": "saved", "update": "updated"}[verb])
			return nil
		},
	}
	cmd.Flags().IntVarP(&action, "action", "a", 1, "Enforcement action 1-4")
	return cmd
}

func rulesDeleteCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <signature-id>",
		Short: "Delete a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("signature id must be an integer: %q", args[0])
			}
			removed, err := opts.client().DeleteRule(cmd.Context(), id)
			if err != nil {
				return err
			}
			if removed {
				fmt.Fprintf(cmd.OutOrStdout(), "rule %d deleted\n", id)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "rule %d was not configured\n", id)
			}
			return nil
		},
	}
}
