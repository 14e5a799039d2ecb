package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pgainullin/pa-workflow/internal/capability"
	"github.com/pgainullin/pa-workflow/internal/plan"
)

var validateCmd = &cobra.Command{
	Use:   "validate <plan>",
	Short: "Validate a plan file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := plan.LoadFile(args[0])
		if err != nil {
			return err
		}
		reg := capability.NewDefaultRegistry(capability.Deps{})
		issues := plan.Validate(p, reg.Known)
		if len(issues) > 0 {
			if jsonOutput {
				printJSON(os.Stdout, map[string]any{"valid": false, "issues": issues})
			} else {
				fmt.Fprintln(os.Stderr, "Validation failed:")
				for _, is := range issues {
					fmt.Fprintf(os.Stderr, "  %s\n", is)
				}
			}
			os.Exit(1)
		}
		if jsonOutput {
			return printJSON(os.Stdout, map[string]any{"valid": true, "steps": p.Len()})
		}
		fmt.Printf("Plan is valid (%d steps).\n", p.Len())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
