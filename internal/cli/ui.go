package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/klubi/reagent/internal/tui"
)

func newUICmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "ui",
		Aliases: []string{"top", "dashboard"},
		Short:   "Launch the interactive terminal UI",
		Long:    "Launch a terminal dashboard that follows the runs on a reagent server.",
		Example: `  reagent ui
  reagent ui --server http://127.0.0.1:7118`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := tui.NewApp(serverAddr)
			if err := app.Run(); err != nil {
				return fmt.Errorf("UI error: %w", err)
			}
			return nil
		},
	}

	return cmd
}
