package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/pgainullin/pa-workflow/internal/email"
	"github.com/pgainullin/pa-workflow/internal/workflow"
)

var (
	processCallback string
	processSave     bool
)

var processCmd = &cobra.Command{
	Use:   "process <email>",
	Short: "Triage an email, execute the plan and deliver the reply",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		msg, err := email.Load(args[0])
		if err != nil {
			return err
		}
		env, err := setup()
		if err != nil {
			return err
		}
		if env.llm == nil {
			return fmt.Errorf("process requires an LLM API key (set PAW_LLM_API_KEY)")
		}

		w := &workflow.Workflow{
			LLM:     env.llm,
			Deps:    env.deps(),
			Timeout: env.cfg.RunTimeout(),
			Logger:  env.logger,
		}
		if processSave {
			w.Artifacts = env.cfg.ArtifactsDir
		}
		url := processCallback
		if url == "" {
			url = env.cfg.Callback.URL
		}
		if url != "" {
			w.Deliverer = workflow.NewHTTPCallback(url, env.cfg.Callback.Token, env.cfg.Callback.Timeout, env.cfg.RetryConfig(), env.logger)
		} else {
			w.Deliverer = &workflow.WriterDeliverer{W: os.Stdout}
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		resp, err := w.Handle(ctx, msg)
		if err != nil {
			return err
		}
		if url != "" && !jsonOutput {
			fmt.Printf("Reply for %s delivered (run %s, status %s).\n", resp.EmailID, resp.RunID, resp.Status)
		} else if url != "" {
			return printJSON(os.Stdout, resp)
		}
		return nil
	},
}

func init() {
	processCmd.Flags().StringVar(&processCallback, "callback", "", "Callback URL to POST the reply to (overrides config)")
	processCmd.Flags().BoolVar(&processSave, "save", false, "Write run artifacts under the artifacts directory")
	rootCmd.AddCommand(processCmd)
}
