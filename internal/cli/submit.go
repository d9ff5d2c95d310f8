package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	v1 "github.com/klubi/reagent/pkg/apis/v1"
)

func newSubmitCmd() *cobra.Command {
	var (
		name     string
		model    string
		maxSteps int
		plan     bool
		noVerify bool
		mode     string
		grammar  string
		detach   bool
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "submit <query>",
		Short: "Submit a run to the server and follow it",
		Long: `Create a Run on a reagent server and print its events until it finishes.

With --detach the run name is printed and the command returns immediately.`,
		Example: `  reagent submit "How much memory is free?"
  reagent submit --name mem --max-steps 4 "How much memory is free?"
  reagent submit --detach "Summarize /etc/os-release"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			run := &v1.Run{
				Metadata: v1.ObjectMeta{Name: name},
				Spec: v1.RunSpec{
					Query:    strings.Join(args, " "),
					Model:    model,
					MaxSteps: maxSteps,
					Mode:     mode,
					Grammar:  grammar,
					Planning: plan,
				},
			}
			if noVerify {
				off := false
				run.Spec.Verify = &off
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			created, err := apiClient.CreateRun(ctx, run)
			if err != nil {
				return fmt.Errorf("creating run: %w", err)
			}
			out := cmd.OutOrStdout()
			if detach {
				fmt.Fprintf(out, "run/%s created\n", created.Metadata.Name)
				return nil
			}
			fmt.Fprintf(out, "Run %s created. Waiting for completion...\n", created.Metadata.Name)

			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			printed := 0
			final, err := apiClient.WaitRun(ctx, created.Metadata.Name, time.Second, func(r *v1.Run) {
				for _, e := range r.Status.Events[min(printed, len(r.Status.Events)):] {
					printEvent(out, e)
				}
				printed = len(r.Status.Events)
			})
			if err != nil {
				return fmt.Errorf("waiting for run %s: %w", created.Metadata.Name, err)
			}
			return printResult(out, final)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Run name (generated when empty)")
	cmd.Flags().StringVar(&model, "model", "", "Model name (default from server config)")
	cmd.Flags().IntVar(&maxSteps, "max-steps", 0, "Maximum loop iterations (default from server config)")
	cmd.Flags().BoolVar(&plan, "plan", false, "Ask the model for a plan before acting")
	cmd.Flags().BoolVar(&noVerify, "no-verify", false, "Skip the verification pass")
	cmd.Flags().StringVar(&mode, "mode", "", "Tool calling mode: text|native")
	cmd.Flags().StringVar(&grammar, "grammar", "", "Text reply grammar: plain|pipe")
	cmd.Flags().BoolVarP(&detach, "detach", "d", false, "Do not wait for the run to finish")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up waiting after this long (0 waits forever)")

	return cmd
}

var (
	stepColor    = color.New(color.FgCyan, color.Bold)
	successColor = color.New(color.FgGreen, color.Bold)
	failureColor = color.New(color.FgRed, color.Bold)
	warnColor    = color.New(color.FgYellow, color.Bold)
)

// printEvent writes one recorded loop event as a single line.
func printEvent(w io.Writer, e v1.EventRecord) {
	switch e.Kind {
	case "step":
		stepColor.Fprintf(w, "── %s\n", e.Text)
	case "action":
		fmt.Fprintf(w, "  %-13s %s: %s\n", e.Kind, e.Tool, e.Argument)
	case "safety", "observation", "verification":
		c := successColor
		if e.Outcome == "failure" || e.Outcome == "unsafe" || e.Outcome == "superseded" {
			c = failureColor
		}
		fmt.Fprintf(w, "  %-13s ", e.Kind)
		c.Fprintf(w, "(%s) ", e.Outcome)
		fmt.Fprintln(w, oneLine(e.Text, 100))
	case "error", "malformed":
		failureColor.Fprintf(w, "  %-13s %s\n", e.Kind, oneLine(e.Text, 100))
	default:
		fmt.Fprintf(w, "  %-13s %s\n", e.Kind, oneLine(e.Text, 100))
	}
}

// printResult prints a finished run's answer and returns an error for
// failed runs.
func printResult(w io.Writer, r *v1.Run) error {
	fmt.Fprintln(w)
	switch r.Status.Phase {
	case v1.RunSucceeded:
		successColor.Fprintln(w, "Run Succeeded")
	case v1.RunExhausted:
		warnColor.Fprintln(w, "Run Exhausted")
	default:
		failureColor.Fprintf(w, "Run %s\n", r.Status.Phase)
	}
	fmt.Fprintln(w, strings.Repeat("-", 60))
	if r.Status.Answer != "" {
		fmt.Fprintln(w, r.Status.Answer)
	}
	if r.Status.Phase == v1.RunFailed {
		if r.Status.Error != "" {
			fmt.Fprintln(w, r.Status.Error)
		}
		return fmt.Errorf("run %s failed", r.Metadata.Name)
	}
	return nil
}

// oneLine collapses whitespace and cuts s to n runes.
func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
