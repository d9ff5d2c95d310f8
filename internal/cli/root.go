package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/klubi/reagent/internal/config"
	"github.com/klubi/reagent/pkg/client"
)

// errUsage is returned when no query was given; main maps every error to
// exit status 1.
var errUsage = errors.New("a query is required")

var (
	serverAddr string
	configPath string
	apiClient  *client.Client
)

// NewRootCmd creates the top-level reagent CLI command with all subcommands.
// A bare "reagent <query>" is the same as "reagent ask <query>".
func NewRootCmd() *cobra.Command {
	ask := newAskOptions()

	cmd := &cobra.Command{
		Use:   "reagent [query]",
		Short: "Answer questions with a reasoning and acting loop",
		Long: `Reagent answers a question by letting a language model think, run shell
commands, and observe their output until it can give a final answer.

Every proposed command passes a safety review before it runs, and the final
answer is checked by a verification pass.`,
		Example: `  reagent "How much free disk space is on /?"
  reagent ask --plan --max-steps 5 "Which process uses the most memory?"
  reagent serve`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			apiClient = client.New(serverAddr)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				cmd.Usage()
				return errUsage
			}
			return ask.run(cmd, args)
		},
	}

	cmd.PersistentFlags().StringVar(&serverAddr, "server", "http://127.0.0.1:7118", "reagent server address")
	cmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table|json|yaml")
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: "+config.DefaultPath()+")")
	ask.bind(cmd)

	cmd.AddCommand(
		newAskCmd(),
		newServeCmd(),
		newSubmitCmd(),
		newApplyCmd(),
		newGetCmd(),
		newDescribeCmd(),
		newDeleteCmd(),
		newUICmd(),
		newInitCmd(),
	)

	return cmd
}
