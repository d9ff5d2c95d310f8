package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	v1 "github.com/klubi/reagent/pkg/apis/v1"
)

func newGetCmd() *cobra.Command {
	var phase string

	cmd := &cobra.Command{
		Use:   "get runs [name]",
		Short: "List or get runs",
		Long:  "Display one or many runs from the server.",
		Example: `  reagent get runs
  reagent get runs --phase Running
  reagent get run disk-usage -o yaml`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkResourceType(args[0]); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			ctx := cmd.Context()

			if len(args) > 1 {
				run, err := apiClient.GetRun(ctx, args[1])
				if err != nil {
					return err
				}
				return printOutput(out, run, runHeaders(), func() [][]string {
					return [][]string{runToRow(run)}
				})
			}

			runs, err := apiClient.ListRuns(ctx, v1.RunPhase(phase))
			if err != nil {
				return err
			}
			if len(runs) == 0 && (outputFormat == "" || outputFormat == "table") {
				fmt.Fprintln(out, "No runs found.")
				return nil
			}
			return printOutput(out, runs, runHeaders(), func() [][]string {
				rows := make([][]string, 0, len(runs))
				for i := range runs {
					rows = append(rows, runToRow(&runs[i]))
				}
				return rows
			})
		},
	}

	cmd.Flags().StringVar(&phase, "phase", "", "Only list runs in this phase")

	return cmd
}

// checkResourceType accepts the aliases of the run resource.
func checkResourceType(t string) error {
	switch strings.ToLower(t) {
	case "run", "runs":
		return nil
	default:
		return fmt.Errorf("unknown resource type %q. Valid types: runs", t)
	}
}

func runHeaders() []string {
	return []string{"NAME", "PHASE", "STEPS", "MODEL", "QUERY", "AGE"}
}

func runToRow(r *v1.Run) []string {
	model := r.Spec.Model
	if model == "" {
		model = "<default>"
	}
	return []string{
		r.Metadata.Name,
		string(r.Status.Phase),
		strconv.Itoa(r.Status.Steps),
		model,
		oneLine(r.Spec.Query, 50),
		formatAge(r.Metadata.CreatedAt),
	}
}
