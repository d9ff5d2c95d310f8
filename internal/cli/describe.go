package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	v1 "github.com/klubi/reagent/pkg/apis/v1"
)

func newDescribeCmd() *cobra.Command {
	var transcript bool

	cmd := &cobra.Command{
		Use:   "describe run <name>",
		Short: "Show detailed info about a run",
		Long:  "Print a detailed description of a run: its spec, status, recorded events and answer.",
		Example: `  reagent describe run disk-usage
  reagent describe run disk-usage --transcript`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkResourceType(args[0]); err != nil {
				return err
			}
			run, err := apiClient.GetRun(cmd.Context(), args[1])
			if err != nil {
				return err
			}
			describeRun(cmd.OutOrStdout(), run, transcript)
			return nil
		},
	}

	cmd.Flags().BoolVar(&transcript, "transcript", false, "Also print the conversation transcript")

	return cmd
}

func describeRun(w io.Writer, r *v1.Run, transcript bool) {
	bold := color.New(color.Bold)
	st := r.Status

	bold.Fprintln(w, "Run:")
	printField(w, "  Name", r.Metadata.Name)
	printField(w, "  UID", r.Metadata.UID)
	printField(w, "  Labels", formatLabels(r.Metadata.Labels))
	printField(w, "  Created", formatTime(r.Metadata.CreatedAt))
	fmt.Fprintln(w)

	bold.Fprintln(w, "Spec:")
	printField(w, "  Query", r.Spec.Query)
	printField(w, "  Model", r.Spec.Model)
	if r.Spec.MaxSteps > 0 {
		printField(w, "  Max Steps", fmt.Sprintf("%d", r.Spec.MaxSteps))
	} else {
		printField(w, "  Max Steps", "")
	}
	printField(w, "  Mode", r.Spec.Mode)
	printField(w, "  Grammar", r.Spec.Grammar)
	printField(w, "  Planning", fmt.Sprintf("%t", r.Spec.Planning))
	if r.Spec.Verify != nil {
		printField(w, "  Verify", fmt.Sprintf("%t", *r.Spec.Verify))
	} else {
		printField(w, "  Verify", "")
	}
	fmt.Fprintln(w)

	bold.Fprintln(w, "Status:")
	printField(w, "  Phase", string(st.Phase))
	printField(w, "  Outcome", st.Outcome)
	printField(w, "  Steps", fmt.Sprintf("%d", st.Steps))
	printField(w, "  Started", formatTime(st.StartedAt))
	printField(w, "  Finished", formatTime(st.FinishedAt))
	if st.Message != "" {
		printField(w, "  Message", st.Message)
	}
	if st.Error != "" {
		printField(w, "  Error", st.Error)
	}

	if st.Plan != "" {
		fmt.Fprintln(w)
		bold.Fprintln(w, "Plan:")
		fmt.Fprintln(w, indent(st.Plan, "  "))
	}

	if len(st.Events) > 0 {
		fmt.Fprintln(w)
		bold.Fprintln(w, "Events:")
		for _, e := range st.Events {
			printEvent(w, e)
		}
	}

	if transcript && len(st.Transcript) > 0 {
		fmt.Fprintln(w)
		bold.Fprintln(w, "Transcript:")
		for _, t := range st.Transcript {
			label := t.Role
			if t.CallID != "" {
				label += " (" + t.CallID + ")"
			}
			fmt.Fprintf(w, "  [%s]\n", label)
			if t.Content != "" {
				fmt.Fprintln(w, indent(t.Content, "    "))
			}
			for _, c := range t.Calls {
				fmt.Fprintf(w, "    -> %s %s\n", c.Name, c.Arguments)
			}
		}
	}

	if st.Answer != "" {
		fmt.Fprintln(w)
		bold.Fprintln(w, "Answer:")
		fmt.Fprintln(w, indent(st.Answer, "  "))
		if st.Superseded {
			fmt.Fprintf(w, "  (revised by verification; original answer: %s)\n", st.Candidate)
		}
	}
}

// --- Helpers ---

func printField(w io.Writer, label, value string) {
	if value == "" {
		value = "<none>"
	}
	fmt.Fprintf(w, "%-24s%s\n", label+":", value)
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return "<none>"
	}
	parts := make([]string, 0, len(labels))
	for k, v := range labels {
		parts = append(parts, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
