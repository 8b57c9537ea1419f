package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"whisperflow/internal/api"
	"whisperflow/internal/preflight"
)

type depsReport struct {
	Ready        bool                   `json:"ready"`
	Checks       []api.CheckStatus      `json:"checks"`
	Dependencies []api.DependencyStatus `json:"dependencies"`
}

func newDepsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "deps",
		Short: "Check external tools, directories, model sources, and credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := ctx.tokenStore()
			if err != nil {
				return err
			}
			token, _, _ := store.Token()

			results := preflight.RunAll(cmd.Context(), cfg, token != "")
			failed := preflight.Failed(results)

			if asJSON {
				report := depsReport{
					Ready:        len(failed) == 0,
					Checks:       api.FromChecks(results),
					Dependencies: api.FromDependencies(preflight.CheckSystemDeps(cfg)),
				}
				if err := writeJSON(cmd, report); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				rows := make([][]string, 0, len(results))
				for _, r := range results {
					status := paint(colorize, ansiGreen, "ok")
					if !r.Passed {
						status = paint(colorize, ansiRed, "fail")
					}
					rows = append(rows, []string{r.Name, status, r.Detail})
				}
				fmt.Fprintln(out, renderTable([]string{"Check", "Status", "Detail"}, rows, nil))
			}

			if len(failed) > 0 {
				return fmt.Errorf("%d of %d checks failed", len(failed), len(results))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}
