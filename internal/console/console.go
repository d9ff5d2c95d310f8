// Package console renders loop events to a terminal as titled panels.
package console

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/klubi/reagent/internal/agent"
)

const ruleWidth = 60

var (
	ruleColor    = color.New(color.FgCyan, color.Bold)
	dimColor     = color.New(color.Faint)
	thoughtColor = color.New(color.FgYellow, color.Bold)
	actionColor  = color.New(color.FgBlue, color.Bold)
	okColor      = color.New(color.FgGreen, color.Bold)
	failColor    = color.New(color.FgRed, color.Bold)
	planColor    = color.New(color.FgMagenta, color.Bold)
	answerColor  = color.New(color.FgGreen, color.Bold, color.Underline)
)

// Renderer is an agent.Reporter that prints every step as it happens.
type Renderer struct {
	mu  sync.Mutex
	out io.Writer
	// Verbose also prints raw model output and context telemetry.
	Verbose bool
}

// New creates a Renderer writing to out.
func New(out io.Writer) *Renderer {
	return &Renderer{out: out}
}

// Report implements agent.Reporter.
func (r *Renderer) Report(e agent.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch e.Kind {
	case agent.EventStep:
		r.rule(fmt.Sprintf("Step %d/%d", e.Step, e.MaxSteps))
	case agent.EventContext:
		if r.Verbose {
			r.context(e)
		}
	case agent.EventPlan:
		r.panel(planColor, "Plan", e.Text)
	case agent.EventModelOutput:
		if r.Verbose || e.Unstructured {
			r.panel(dimColor, "Model output", e.Text)
		}
	case agent.EventMalformed:
		r.panel(failColor, "Malformed response", "Response contained both an action and a final answer; retrying.")
	case agent.EventThought:
		r.panel(thoughtColor, "Thought", e.Text)
	case agent.EventAction:
		r.panel(actionColor, "Action", fmt.Sprintf("%s: %s", e.Tool, e.Argument))
	case agent.EventSafety:
		if e.Verdict != nil && e.Verdict.Safe {
			r.panel(okColor, "Safety check", "allowed: "+e.Verdict.Rationale)
		} else {
			r.panel(failColor, "Safety check", "blocked: "+e.Text)
		}
	case agent.EventObservation:
		c := okColor
		if e.Observation != nil && e.Observation.Failed() {
			c = failColor
		}
		r.panel(c, "Observation", e.Text)
	case agent.EventFinalAnswer:
		r.panel(okColor, "Final Answer", e.Text)
	case agent.EventVerification:
		title := "Verification"
		if e.Verification != nil && e.Verification.Superseded {
			title = "Verification (answer revised)"
		}
		r.panel(planColor, title, e.Text)
	case agent.EventExhausted:
		r.panel(failColor, "Stopped", e.Text)
	case agent.EventError:
		r.panel(failColor, "Error", e.Text)
	}
}

// Answer prints the run's answer as the closing panel.
func (r *Renderer) Answer(res *agent.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rule("Answer")
	answerColor.Fprintln(r.out, res.Answer)
	dimColor.Fprintf(r.out, "%s after %d step(s)\n", res.Outcome, res.Steps)
}

func (r *Renderer) rule(title string) {
	pad := ruleWidth - len(title) - 4
	if pad < 2 {
		pad = 2
	}
	ruleColor.Fprintf(r.out, "\n── %s %s\n", title, strings.Repeat("─", pad))
}

func (r *Renderer) panel(c *color.Color, title, body string) {
	c.Fprintf(r.out, "┃ %s\n", title)
	body = strings.TrimRight(body, "\n")
	if body == "" {
		body = "(empty)"
	}
	for _, line := range strings.Split(body, "\n") {
		fmt.Fprintf(r.out, "┃   %s\n", line)
	}
}

func (r *Renderer) context(e agent.Event) {
	if e.ContextLimit <= 0 {
		dimColor.Fprintf(r.out, "context: ~%d tokens\n", e.ContextUsed)
		return
	}
	dimColor.Fprintf(r.out, "context: ~%d/%d tokens (%.1f%%)\n", e.ContextUsed, e.ContextLimit, e.ContextPercent)
}
