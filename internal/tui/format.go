package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	v1 "github.com/klubi/reagent/pkg/apis/v1"
)

// view selects which runs the table shows.
type view struct {
	key    string
	name   string
	phases []v1.RunPhase // nil means all
}

var views = []view{
	{"1", "All", nil},
	{"2", "Active", []v1.RunPhase{v1.RunPending, v1.RunRunning}},
	{"3", "Done", []v1.RunPhase{v1.RunSucceeded, v1.RunExhausted}},
	{"4", "Failed", []v1.RunPhase{v1.RunFailed}},
}

func (v view) includes(phase v1.RunPhase) bool {
	if v.phases == nil {
		return true
	}
	for _, p := range v.phases {
		if p == phase {
			return true
		}
	}
	return false
}

// matchesFilter returns true if any of the values contain the filter string.
func matchesFilter(filter string, values ...string) bool {
	if filter == "" {
		return true
	}
	for _, v := range values {
		if strings.Contains(strings.ToLower(v), filter) {
			return true
		}
	}
	return false
}

// truncate shortens s to n runes on a single line.
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// describeRun renders a run for the describe panel using tview color tags.
func describeRun(run *v1.Run) string {
	var b strings.Builder
	st := run.Status

	fmt.Fprintf(&b, "[::b]Name:[-::-]      %s\n", run.Metadata.Name)
	fmt.Fprintf(&b, "[::b]UID:[-::-]       %s\n", run.Metadata.UID)
	fmt.Fprintf(&b, "[::b]Phase:[-::-]     [%s]%s[-]\n", phaseColorName(st.Phase), st.Phase)
	if run.Spec.Model != "" {
		fmt.Fprintf(&b, "[::b]Model:[-::-]     %s\n", run.Spec.Model)
	}
	fmt.Fprintf(&b, "[::b]Steps:[-::-]     %d\n", st.Steps)
	fmt.Fprintf(&b, "[::b]Created:[-::-]   %s\n", run.Metadata.CreatedAt.Format(time.RFC3339))
	if !st.StartedAt.IsZero() {
		fmt.Fprintf(&b, "[::b]Started:[-::-]   %s\n", st.StartedAt.Format(time.RFC3339))
	}
	if !st.FinishedAt.IsZero() {
		fmt.Fprintf(&b, "[::b]Finished:[-::-]  %s\n", st.FinishedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "\n[::b]Query:[-::-]\n  %s\n", tview.Escape(run.Spec.Query))
	if st.Plan != "" {
		fmt.Fprintf(&b, "\n[::b]Plan:[-::-]\n%s\n", tview.Escape(st.Plan))
	}

	if len(st.Events) > 0 {
		b.WriteString("\n[::b]Events:[-::-]\n")
		for _, e := range st.Events {
			b.WriteString("  " + describeEvent(e) + "\n")
		}
	}

	if st.Answer != "" {
		fmt.Fprintf(&b, "\n[green::b]Answer:[-::-]\n%s\n", tview.Escape(st.Answer))
		if st.Superseded {
			fmt.Fprintf(&b, "[gray](revised by verification; original: %s)[-]\n", tview.Escape(st.Candidate))
		}
	}
	if st.Error != "" {
		fmt.Fprintf(&b, "\n[red::b]Error:[-::-]\n[red]%s[-]\n", tview.Escape(st.Error))
	}
	return b.String()
}

func describeEvent(e v1.EventRecord) string {
	var detail string
	switch e.Kind {
	case "step":
		return fmt.Sprintf("[darkcyan]── %s[-]", e.Text)
	case "action":
		detail = fmt.Sprintf("%s: %s", e.Tool, e.Argument)
	case "safety", "observation", "verification":
		detail = fmt.Sprintf("(%s) %s", e.Outcome, truncate(e.Text, 120))
	default:
		detail = truncate(e.Text, 120)
	}
	return fmt.Sprintf("[%s]%-12s[-] %s", eventColorName(e), e.Kind, tview.Escape(detail))
}

func eventColorName(e v1.EventRecord) string {
	switch {
	case e.Outcome == "failure" || e.Outcome == "unsafe" || e.Kind == "error" || e.Kind == "malformed":
		return "red"
	case e.Kind == "final-answer" || e.Outcome == "success" || e.Outcome == "safe":
		return "green"
	case e.Kind == "thought":
		return "yellow"
	case e.Kind == "action":
		return "blue"
	default:
		return "white"
	}
}

// formatAge returns a human-readable duration string since the given time.
func formatAge(t time.Time) string {
	if t.IsZero() {
		return "-"
	}

	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

// phaseColor returns the tcell color appropriate for a phase.
func phaseColor(phase v1.RunPhase) tcell.Color {
	switch phase {
	case v1.RunSucceeded:
		return tcell.ColorGreen
	case v1.RunRunning:
		return tcell.ColorYellow
	case v1.RunExhausted:
		return tcell.ColorOrange
	case v1.RunFailed:
		return tcell.ColorRed
	default:
		return tcell.ColorWhite
	}
}

// phaseColorName returns the tview color tag name for a phase.
func phaseColorName(phase v1.RunPhase) string {
	switch phase {
	case v1.RunSucceeded:
		return "green"
	case v1.RunRunning:
		return "yellow"
	case v1.RunExhausted:
		return "orange"
	case v1.RunFailed:
		return "red"
	default:
		return "white"
	}
}
