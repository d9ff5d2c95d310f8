package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete runs <name>...",
		Short: "Delete runs",
		Long:  "Delete runs by name. A run that is still executing is cancelled.",
		Example: `  reagent delete run disk-usage
  reagent delete runs run-1a2b3c4d run-5e6f7a8b`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkResourceType(args[0]); err != nil {
				return err
			}
			for _, name := range args[1:] {
				if err := apiClient.DeleteRun(cmd.Context(), name); err != nil {
					return fmt.Errorf("deleting run %s: %w", name, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "run/%s deleted\n", name)
			}
			return nil
		},
	}

	return cmd
}
