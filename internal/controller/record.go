package controller

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/klubi/reagent/internal/agent"
	"github.com/klubi/reagent/internal/conversation"
	"github.com/klubi/reagent/internal/store"
	v1 "github.com/klubi/reagent/pkg/apis/v1"
)

// Recorder is an agent.Reporter that appends loop events to a run's status.
// With a non-nil Runs it persists the run after every event so API readers
// can follow progress.
type Recorder struct {
	mu     sync.Mutex
	runs   *store.Runs
	run    *v1.Run
	logger *zap.Logger
}

// NewRecorder records into run. runs may be nil.
func NewRecorder(runs *store.Runs, run *v1.Run, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{runs: runs, run: run, logger: logger}
}

// Report implements agent.Reporter.
func (r *Recorder) Report(e agent.Event) {
	rec, ok := EventRecordFrom(e)
	if !ok {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.run.Status.Events = append(r.run.Status.Events, rec)
	if e.Step > r.run.Status.Steps {
		r.run.Status.Steps = e.Step
	}
	if e.Kind == agent.EventPlan {
		r.run.Status.Plan = e.Text
	}
	if r.runs == nil {
		return
	}
	if err := r.runs.Update(r.run); err != nil {
		r.logger.Warn("could not persist run progress",
			zap.String("run", r.run.Metadata.Name),
			zap.Error(err),
		)
	}
}

// EventRecordFrom converts a loop event into its stored form. Context
// telemetry is not recorded.
func EventRecordFrom(e agent.Event) (v1.EventRecord, bool) {
	if e.Kind == agent.EventContext {
		return v1.EventRecord{}, false
	}
	rec := v1.EventRecord{
		Time:     time.Now().UTC(),
		Kind:     string(e.Kind),
		Step:     e.Step,
		Tool:     e.Tool,
		Argument: e.Argument,
		Text:     e.Text,
	}
	switch {
	case e.Observation != nil:
		rec.Outcome = string(e.Observation.Outcome)
	case e.Verdict != nil:
		rec.Outcome = "unsafe"
		if e.Verdict.Safe {
			rec.Outcome = "safe"
		}
	case e.Verification != nil:
		rec.Outcome = "kept"
		if e.Verification.Superseded {
			rec.Outcome = "superseded"
		}
	case e.Kind == agent.EventStep:
		rec.Text = fmt.Sprintf("step %d of %d", e.Step, e.MaxSteps)
	}
	return rec, true
}

// ApplyResult copies a finished agent run into run's status.
func ApplyResult(run *v1.Run, res *agent.Result) {
	st := &run.Status
	st.Outcome = string(res.Outcome)
	st.Answer = res.Answer
	st.Candidate = res.Candidate
	st.Plan = res.Plan
	st.Steps = res.Steps
	st.Error = res.Error
	st.Transcript = TranscriptRecords(res.Transcript)
	st.Superseded = res.Verification != nil && res.Verification.Superseded
	st.FinishedAt = time.Now().UTC()

	switch res.Outcome {
	case agent.OutcomeAnswered:
		st.Phase = v1.RunSucceeded
		st.Message = ""
	case agent.OutcomeExhausted:
		st.Phase = v1.RunExhausted
		st.Message = agent.ExhaustedMessage
	default:
		st.Phase = v1.RunFailed
		st.Message = "backend fault"
	}
}

// TranscriptRecords converts conversation turns into their stored form.
func TranscriptRecords(turns []conversation.Turn) []v1.TurnRecord {
	out := make([]v1.TurnRecord, 0, len(turns))
	for _, t := range turns {
		rec := v1.TurnRecord{Role: string(t.Role), Content: t.Content, CallID: t.CallID}
		for _, c := range t.Calls {
			rec.Calls = append(rec.Calls, v1.ToolCallRecord{ID: c.ID, Name: c.Name, Arguments: c.Arguments})
		}
		out = append(out, rec)
	}
	return out
}
