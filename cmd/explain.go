package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pgainullin/pa-workflow/internal/plan"
	"github.com/pgainullin/pa-workflow/internal/template"
)

type explainedStep struct {
	Step        int            `json:"step"`
	Capability  string         `json:"capability"`
	Description string         `json:"description,omitempty"`
	Foreach     any            `json:"foreach,omitempty"`
	DependsOn   []int          `json:"depends_on,omitempty"`
	References  []string       `json:"references,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
}

var explainCmd = &cobra.Command{
	Use:   "explain <plan>",
	Short: "Show plan steps and their data flow without executing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := plan.LoadFile(args[0])
		if err != nil {
			return err
		}

		steps := make([]explainedStep, 0, p.Len())
		for i, s := range p.Steps {
			var refs []string
			for _, r := range template.References(s.Params, false) {
				refs = append(refs, r.String())
			}
			steps = append(steps, explainedStep{
				Step:        i + 1,
				Capability:  s.Capability,
				Description: s.Description,
				Foreach:     s.Foreach,
				DependsOn:   plan.Dependencies(s),
				References:  refs,
				Params:      s.Params,
			})
		}

		if jsonOutput {
			return printJSON(os.Stdout, steps)
		}

		fmt.Printf("Plan: %d steps\n\n", len(steps))
		for _, s := range steps {
			fmt.Printf("Step: step_%d (%s)\n", s.Step, s.Capability)
			if s.Description != "" {
				fmt.Printf("  Description: %s\n", s.Description)
			}
			if s.Foreach != nil {
				fmt.Printf("  For each: %s\n", template.Stringify(s.Foreach))
			}
			keys := make([]string, 0, len(s.Params))
			for k := range s.Params {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Printf("  %s = %s\n", k, truncateLine(template.Stringify(s.Params[k]), 80))
			}
			if len(s.DependsOn) > 0 {
				deps := make([]string, len(s.DependsOn))
				for i, d := range s.DependsOn {
					deps[i] = plan.Key(d)
				}
				fmt.Printf("  Needs: %s\n", strings.Join(deps, ", "))
			}
			fmt.Println()
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(explainCmd)
}
