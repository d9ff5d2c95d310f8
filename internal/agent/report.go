package agent

import (
	"github.com/klubi/reagent/internal/safety"
	"github.com/klubi/reagent/internal/tools"
	"github.com/klubi/reagent/internal/verify"
)

// EventKind identifies what an Event describes.
type EventKind string

const (
	EventStep         EventKind = "step"
	EventContext      EventKind = "context"
	EventPlan         EventKind = "plan"
	EventModelOutput  EventKind = "model-output"
	EventMalformed    EventKind = "malformed"
	EventThought      EventKind = "thought"
	EventAction       EventKind = "action"
	EventSafety       EventKind = "safety"
	EventObservation  EventKind = "observation"
	EventFinalAnswer  EventKind = "final-answer"
	EventVerification EventKind = "verification"
	EventExhausted    EventKind = "exhausted"
	EventError        EventKind = "error"
)

// Event is one presentational notification from the loop. Only the fields
// relevant to Kind are set.
type Event struct {
	Kind     EventKind
	Step     int
	MaxSteps int
	Text     string
	// Unstructured marks model output with no recognized section. It is the
	// only record of that step.
	Unstructured bool

	Tool     string
	Argument string

	Observation  *tools.Observation
	Verdict      *safety.Verdict
	Verification *verify.Result

	ContextUsed    int
	ContextLimit   int
	ContextPercent float64
}

// Reporter receives loop events as they happen. Reporters never influence
// the loop.
type Reporter interface {
	Report(Event)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Event)

func (f ReporterFunc) Report(e Event) { f(e) }

// Reporters fans events out to several reporters; nil entries are skipped.
type Reporters []Reporter

func (rs Reporters) Report(e Event) {
	for _, r := range rs {
		if r != nil {
			r.Report(e)
		}
	}
}

type nopReporter struct{}

func (nopReporter) Report(Event) {}
