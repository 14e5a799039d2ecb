package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/pgainullin/pa-workflow/internal/artifact"
	"github.com/pgainullin/pa-workflow/internal/attachment"
	"github.com/pgainullin/pa-workflow/internal/capability"
	"github.com/pgainullin/pa-workflow/internal/email"
	"github.com/pgainullin/pa-workflow/internal/engine"
	"github.com/pgainullin/pa-workflow/internal/plan"
)

var (
	runEmail       string
	runAttachments string
	runSave        bool
)

var runCmd = &cobra.Command{
	Use:   "run <plan>",
	Short: "Execute a plan file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := plan.LoadFile(args[0])
		if err != nil {
			return err
		}
		env, err := setup()
		if err != nil {
			return err
		}

		deps := env.deps()
		var inputs map[string]any
		var resolvers attachment.Chain
		if runEmail != "" {
			msg, err := email.Load(runEmail)
			if err != nil {
				return err
			}
			inputs = msg.Inputs()
			resolvers = append(resolvers, msg.Resolver())
		}
		if runAttachments != "" {
			resolvers = append(resolvers, &attachment.DirResolver{Dir: runAttachments})
		}
		if deps.Attachments != nil {
			resolvers = append(resolvers, deps.Attachments)
		}
		deps.Attachments = resolvers
		reg := capability.NewDefaultRegistry(deps)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		ctx, cancel := context.WithTimeout(ctx, env.cfg.RunTimeout())
		defer cancel()

		result := engine.New(reg, engine.WithLogger(env.logger), engine.WithInputs(inputs)).Execute(ctx, p)

		if runSave {
			store, err := artifact.New(env.cfg.ArtifactsDir, result.RunID)
			if err != nil {
				return err
			}
			for _, s := range result.Steps {
				if err := store.WriteStep(s.Step, s); err != nil {
					return err
				}
			}
			if err := store.WritePlan(p); err != nil {
				return err
			}
			if err := store.WriteResult(result); err != nil {
				return err
			}
		}

		if jsonOutput {
			return printJSON(os.Stdout, result)
		}

		for _, s := range result.Steps {
			mark := "ok"
			if !s.Success {
				mark = "FAILED"
			}
			fmt.Printf("step_%d %-10s %-6s %s\n", s.Step, s.Capability, mark, s.Duration.Round(time.Millisecond))
			if !s.Success {
				fmt.Printf("  Error: %s\n", s.Error)
			}
		}
		fmt.Printf("Status: %s\n", result.Status)
		fmt.Printf("Run ID: %s\n", result.RunID)
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runEmail, "email", "", "Email file (YAML or JSON) providing inputs and attachments")
	runCmd.Flags().StringVar(&runAttachments, "attachments", "", "Directory to resolve attachment references from")
	runCmd.Flags().BoolVar(&runSave, "save", false, "Write run artifacts under the artifacts directory")
	rootCmd.AddCommand(runCmd)
}
