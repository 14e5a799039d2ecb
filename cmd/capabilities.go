package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pgainullin/pa-workflow/internal/capability"
)

var capabilitiesCmd = &cobra.Command{
	Use:   "capabilities",
	Short: "List the capabilities plans can use",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := capability.NewDefaultRegistry(capability.Deps{})
		if jsonOutput {
			var out []map[string]string
			for _, name := range reg.Names() {
				c, _ := reg.Get(name)
				out = append(out, map[string]string{"name": name, "description": c.Description()})
			}
			return printJSON(os.Stdout, out)
		}
		fmt.Print(reg.DescribeAll())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(capabilitiesCmd)
}
