package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/klubi/reagent/internal/agent"
	"github.com/klubi/reagent/internal/config"
	"github.com/klubi/reagent/internal/console"
	"github.com/klubi/reagent/internal/controller"
	"github.com/klubi/reagent/internal/llm"
	"github.com/klubi/reagent/internal/store"
	v1 "github.com/klubi/reagent/pkg/apis/v1"
)

// askOptions holds the flags shared by "reagent ask" and the bare root form.
type askOptions struct {
	model    string
	maxSteps int
	plan     bool
	noVerify bool
	noSafety bool
	mode     string
	grammar  string
	backend  string
	record   bool
	quiet    bool
	verbose  bool
}

func newAskOptions() *askOptions {
	return &askOptions{}
}

func (o *askOptions) bind(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&o.model, "model", "", "Model name (default from config)")
	f.IntVar(&o.maxSteps, "max-steps", agent.DefaultMaxSteps, "Maximum loop iterations")
	f.BoolVar(&o.plan, "plan", false, "Ask the model for a plan before acting")
	f.BoolVar(&o.noVerify, "no-verify", false, "Skip the verification pass")
	f.BoolVar(&o.noSafety, "no-safety", false, "Run commands without the safety review")
	f.StringVar(&o.mode, "mode", "", "Tool calling mode: text|native")
	f.StringVar(&o.grammar, "grammar", "", "Text reply grammar: plain|pipe")
	f.StringVar(&o.backend, "backend", "", "Model backend: ollama|claude-cli")
	f.BoolVar(&o.record, "record", false, "Save the finished run to the local run database")
	f.BoolVarP(&o.quiet, "quiet", "q", false, "Print only the answer")
	f.BoolVarP(&o.verbose, "verbose", "v", false, "Also print raw model output and context usage")
}

func newAskCmd() *cobra.Command {
	o := newAskOptions()

	cmd := &cobra.Command{
		Use:   "ask <query>",
		Short: "Answer a question in this process",
		Long: `Run the reasoning and acting loop locally and print every step.

Exits 0 when the loop produced an answer or ran out of steps, and 1 when the
model backend failed.`,
		Example: `  reagent ask "What kernel version is this machine running?"
  reagent ask --backend claude-cli --no-verify "List the largest files in /var/log"
  reagent ask --mode native --record "How many CPUs does this host have?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: o.run,
	}
	o.bind(cmd)

	return cmd
}

// apply overlays the changed flags onto cfg.
func (o *askOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("backend") {
		cfg.Backend.Provider = o.backend
	}
	if f.Changed("model") {
		cfg.Backend.Model = o.model
	}
	if f.Changed("max-steps") {
		cfg.Agent.MaxSteps = o.maxSteps
	}
	if f.Changed("mode") {
		cfg.Agent.Mode = o.mode
	}
	if f.Changed("grammar") {
		cfg.Agent.Grammar = o.grammar
	}
	if o.plan {
		cfg.Agent.Planning = true
	}
	if o.noVerify {
		cfg.Agent.Verify = false
	}
	if o.noSafety {
		cfg.Agent.Safety = false
	}
}

func (o *askOptions) run(cmd *cobra.Command, args []string) error {
	query := strings.TrimSpace(strings.Join(args, " "))
	if query == "" {
		cmd.Usage()
		return errUsage
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	o.apply(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.Log, zap.WarnLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	backend, err := llm.New(cfg, logger)
	if err != nil {
		return err
	}
	a, err := agent.FromConfig(cfg, backend, logger)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	renderer := console.New(out)
	renderer.Verbose = o.verbose

	var reporters agent.Reporters
	if !o.quiet {
		reporters = append(reporters, renderer)
	}

	var record *v1.Run
	if o.record {
		record = recordFor(query, cfg)
		reporters = append(reporters, controller.NewRecorder(nil, record, logger))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, runErr := a.Run(ctx, query, reporters)

	if record != nil {
		controller.ApplyResult(record, res)
		if err := saveRecord(cfg, record); err != nil {
			logger.Error("could not record run", zap.Error(err))
		} else if !o.quiet {
			fmt.Fprintf(cmd.ErrOrStderr(), "run recorded as %s in %s\n", record.Metadata.Name, cfg.DBPath())
		}
	}

	if o.quiet {
		fmt.Fprintln(out, res.Answer)
	} else {
		renderer.Answer(res)
	}

	if runErr != nil {
		return fmt.Errorf("model backend failed: %w", runErr)
	}
	return nil
}

func recordFor(query string, cfg *config.Config) *v1.Run {
	verify := cfg.Agent.Verify
	now := time.Now().UTC()
	return &v1.Run{
		Spec: v1.RunSpec{
			Query:    query,
			Model:    cfg.Backend.Model,
			MaxSteps: cfg.Agent.MaxSteps,
			Mode:     cfg.Agent.Mode,
			Grammar:  cfg.Agent.Grammar,
			Planning: cfg.Agent.Planning,
			Verify:   &verify,
		},
		Status: v1.RunStatus{
			Phase:     v1.RunRunning,
			StartedAt: now,
		},
	}
}

// saveRecord writes a finished run into the bolt database at cfg.DBPath(),
// where "reagent serve" with the bolt store lists it alongside served runs.
func saveRecord(cfg *config.Config, run *v1.Run) error {
	s, err := store.NewBoltStore(cfg.DBPath())
	if err != nil {
		return err
	}
	defer s.Close()
	return store.NewRuns(s).Create(run)
}
