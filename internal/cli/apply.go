package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/klubi/reagent/pkg/manifest"
)

func newApplyCmd() *cobra.Command {
	var filename string

	cmd := &cobra.Command{
		Use:   "apply -f <file>",
		Short: "Submit runs from a manifest file",
		Long: `Create every Run in a YAML manifest file. Documents are separated by "---".

Use "-f -" to read the manifest from standard input.`,
		Example: `  reagent apply -f runs.yaml
  cat runs.yaml | reagent apply -f -`,
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := manifest.ParseFile(filename)
			if err != nil {
				return fmt.Errorf("parsing manifest %s: %w", filename, err)
			}

			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs found in manifest.")
				return nil
			}

			for _, run := range runs {
				created, err := apiClient.CreateRun(cmd.Context(), run)
				if err != nil {
					return fmt.Errorf("creating run %s: %w", run.Metadata.Name, err)
				}
				fmt.Fprintf(out, "run/%s created\n", created.Metadata.Name)
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&filename, "filename", "f", "", "Path to manifest file (required)")
	cmd.MarkFlagRequired("filename")

	return cmd
}
