package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/klubi/reagent/internal/config"
)

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a starting configuration file",
		Long: `Write a commented configuration template.

Without a path the file goes to ` + config.DefaultPath() + `, where every command
finds it without --config.`,
		Example: `  reagent init
  reagent init ./reagent.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultPath()
			if len(args) > 0 {
				path = args[0]
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("file %s already exists. Use --force to overwrite", path)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return fmt.Errorf("creating directory for %s: %w", path, err)
			}
			if err := os.WriteFile(path, []byte(config.Template), 0644); err != nil {
				return fmt.Errorf("writing config file: %w", err)
			}

			out := cmd.OutOrStdout()
			color.New(color.FgCyan, color.Bold).Fprintln(out, "reagent configured!")
			fmt.Fprintln(out)
			fmt.Fprintf(out, "  Config: %s\n", path)
			fmt.Fprintln(out)

			color.New(color.Bold).Fprintln(out, "Next steps:")
			fmt.Fprintln(out, "  1. Point the backend at your model server:")
			fmt.Fprintf(out, "     vi %s\n", path)
			fmt.Fprintln(out)
			fmt.Fprintln(out, "  2. Ask a question:")
			fmt.Fprintln(out, "     reagent \"How much free disk space is on /?\"")
			fmt.Fprintln(out)
			fmt.Fprintln(out, "  3. Or start the run server and submit to it:")
			fmt.Fprintln(out, "     reagent serve")
			fmt.Fprintln(out, "     reagent submit \"How much free disk space is on /?\"")

			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	return cmd
}
