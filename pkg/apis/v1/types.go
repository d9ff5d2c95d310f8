// Package v1 defines the reagent resource types served by the API and kept in the store.
package v1

import "time"

const (
	APIVersion = "reagent.dev/v1"
)

// Resource kinds
const (
	KindRun = "Run"
)

// TypeMeta describes the API version and kind of a resource.
type TypeMeta struct {
	APIVersion string `json:"apiVersion" yaml:"apiVersion"`
	Kind       string `json:"kind" yaml:"kind"`
}

// ObjectMeta holds metadata common to all resources.
type ObjectMeta struct {
	Name      string            `json:"name" yaml:"name"`
	Labels    map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
	UID       string            `json:"uid,omitempty" yaml:"uid,omitempty"`
	CreatedAt time.Time         `json:"createdAt,omitempty" yaml:"createdAt,omitempty"`
	UpdatedAt time.Time         `json:"updatedAt,omitempty" yaml:"updatedAt,omitempty"`
}

// -------------------------------------------------------
// Run
// -------------------------------------------------------

// RunPhase represents the lifecycle phase of a Run.
type RunPhase string

const (
	RunPending   RunPhase = "Pending"
	RunRunning   RunPhase = "Running"
	RunSucceeded RunPhase = "Succeeded"
	RunExhausted RunPhase = "Exhausted"
	RunFailed    RunPhase = "Failed"
)

// Terminal reports whether a run in this phase will never change again.
func (p RunPhase) Terminal() bool {
	switch p {
	case RunSucceeded, RunExhausted, RunFailed:
		return true
	}
	return false
}

// Run is one query answered by the agent loop, either queued through the
// API or recorded after an interactive ask.
type Run struct {
	TypeMeta `json:",inline" yaml:",inline"`
	Metadata ObjectMeta `json:"metadata" yaml:"metadata"`
	Spec     RunSpec    `json:"spec" yaml:"spec"`
	Status   RunStatus  `json:"status,omitempty" yaml:"status,omitempty"`
}

// RunSpec carries the query and per-run overrides of the agent defaults.
// Zero values fall back to the server's configuration.
type RunSpec struct {
	Query    string `json:"query" yaml:"query"`
	Model    string `json:"model,omitempty" yaml:"model,omitempty"`
	MaxSteps int    `json:"maxSteps,omitempty" yaml:"maxSteps,omitempty"`
	Mode     string `json:"mode,omitempty" yaml:"mode,omitempty"`
	Grammar  string `json:"grammar,omitempty" yaml:"grammar,omitempty"`
	Planning bool   `json:"planning,omitempty" yaml:"planning,omitempty"`
	// Verify overrides agent.verify when set.
	Verify *bool `json:"verify,omitempty" yaml:"verify,omitempty"`
}

type RunStatus struct {
	Phase      RunPhase      `json:"phase" yaml:"phase"`
	Outcome    string        `json:"outcome,omitempty" yaml:"outcome,omitempty"`
	Answer     string        `json:"answer,omitempty" yaml:"answer,omitempty"`
	Candidate  string        `json:"candidate,omitempty" yaml:"candidate,omitempty"`
	Superseded bool          `json:"superseded,omitempty" yaml:"superseded,omitempty"`
	Plan       string        `json:"plan,omitempty" yaml:"plan,omitempty"`
	Steps      int           `json:"steps" yaml:"steps"`
	Transcript []TurnRecord  `json:"transcript,omitempty" yaml:"transcript,omitempty"`
	Events     []EventRecord `json:"events,omitempty" yaml:"events,omitempty"`
	Error      string        `json:"error,omitempty" yaml:"error,omitempty"`
	Message    string        `json:"message,omitempty" yaml:"message,omitempty"`
	StartedAt  time.Time     `json:"startedAt,omitempty" yaml:"startedAt,omitempty"`
	FinishedAt time.Time     `json:"finishedAt,omitempty" yaml:"finishedAt,omitempty"`
}

// TurnRecord is one conversation turn as kept in a run's transcript.
type TurnRecord struct {
	Role    string           `json:"role" yaml:"role"`
	Content string           `json:"content" yaml:"content"`
	Calls   []ToolCallRecord `json:"calls,omitempty" yaml:"calls,omitempty"`
	CallID  string           `json:"callId,omitempty" yaml:"callId,omitempty"`
}

type ToolCallRecord struct {
	ID        string         `json:"id,omitempty" yaml:"id,omitempty"`
	Name      string         `json:"name" yaml:"name"`
	Arguments map[string]any `json:"arguments,omitempty" yaml:"arguments,omitempty"`
}

// EventRecord is one loop event in the order it was reported.
type EventRecord struct {
	Time     time.Time `json:"time" yaml:"time"`
	Kind     string    `json:"kind" yaml:"kind"`
	Step     int       `json:"step,omitempty" yaml:"step,omitempty"`
	Tool     string    `json:"tool,omitempty" yaml:"tool,omitempty"`
	Argument string    `json:"argument,omitempty" yaml:"argument,omitempty"`
	Outcome  string    `json:"outcome,omitempty" yaml:"outcome,omitempty"`
	Text     string    `json:"text,omitempty" yaml:"text,omitempty"`
}

// -------------------------------------------------------
// Watch types
// -------------------------------------------------------

// EventType represents the type of a watch event.
type EventType string

const (
	EventAdded    EventType = "ADDED"
	EventModified EventType = "MODIFIED"
	EventDeleted  EventType = "DELETED"
)

// WatchEvent is emitted when a resource changes in the store.
type WatchEvent struct {
	Type   EventType
	Kind   string
	Key    string
	Object interface{}
}
