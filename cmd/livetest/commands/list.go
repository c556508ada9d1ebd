package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nginxlive/livetest"
	"github.com/nginxlive/livetest/control"
	"github.com/nginxlive/livetest/torture"
	"github.com/nginxlive/livetest/torture/scenarios"
)

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the available scenarios",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := livetest.DefaultConfig()
			suite := torture.NewSuite(cfg, control.New(cfg.ControlURL()))
			scenarios.Register(suite)

			plan, err := suite.Discover(torture.Selection{})
			if err != nil {
				return err
			}
			for _, p := range plan {
				if p.Skip {
					fmt.Fprintf(cmd.OutOrStdout(), "%s (long)\n", p.Scenario.Name())
					continue
				}
				fmt.Fprintln(cmd.OutOrStdout(), p.Scenario.Name())
			}
			return nil
		},
	}
}
