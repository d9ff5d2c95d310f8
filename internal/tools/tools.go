// Package tools defines the action registry the agent dispatches to and the
// built-in shell command tool.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Outcome classifies an Observation.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Observation is the normalized result of running, or refusing to run, an action.
type Observation struct {
	Outcome Outcome `json:"outcome" yaml:"outcome"`
	Text    string  `json:"text" yaml:"text"`
}

// Success builds a successful observation.
func Success(text string) Observation {
	return Observation{Outcome: OutcomeSuccess, Text: text}
}

// Failure builds a failed observation.
func Failure(reason string) Observation {
	return Observation{Outcome: OutcomeFailure, Text: reason}
}

// Failed reports whether the observation is a failure.
func (o Observation) Failed() bool {
	return o.Outcome == OutcomeFailure
}

// UnknownTool is reported for action names that are not registered.
func UnknownTool(name string) Observation {
	return Failure("Unknown tool: " + name)
}

// Tool is one named capability the model may invoke with a single string argument.
type Tool interface {
	Name() string
	Description() string
	// Gated reports whether the safety gate must approve each invocation.
	Gated() bool
	// Parameters is the JSON schema advertised to native tool-calling backends.
	Parameters() map[string]any
	// Argument extracts the single string argument from structured call arguments.
	Argument(args map[string]any) (string, error)
	// Execute never returns an error; every fault becomes a failure Observation.
	Execute(ctx context.Context, argument string) Observation
}

// Spec describes a tool to a backend.
type Spec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

type registered struct {
	tool   Tool
	schema *jsonschema.Schema
}

// Registry maps tool names to tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]registered
}

// NewRegistry returns a registry holding the given tools.
func NewRegistry(ts ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]registered)}
	for _, t := range ts {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds t, compiling its parameter schema. Registering a name twice
// replaces the earlier tool.
func (r *Registry) Register(t Tool) error {
	name := strings.TrimSpace(t.Name())
	if name == "" {
		return fmt.Errorf("tool name is required")
	}
	schema, err := compileSchema(t.Parameters())
	if err != nil {
		return fmt.Errorf("tool %s schema: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = registered{tool: t, schema: schema}
	return nil
}

// Lookup resolves a tool by name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	return reg.tool, ok
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Specs returns backend-facing descriptions of every tool, sorted by name.
func (r *Registry) Specs() []Spec {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]Spec, 0, len(names))
	for _, n := range names {
		t := r.tools[n].tool
		specs = append(specs, Spec{Name: n, Description: t.Description(), Parameters: t.Parameters()})
	}
	return specs
}

// Decode validates structured call arguments against the tool's schema and
// extracts its string argument.
func (r *Registry) Decode(name string, args map[string]any) (string, error) {
	r.mu.RLock()
	reg, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := reg.schema.Validate(args); err != nil {
		return "", fmt.Errorf("arguments for %s failed schema validation: %w", name, err)
	}
	return reg.tool.Argument(args)
}

func compileSchema(params map[string]any) (*jsonschema.Schema, error) {
	if params == nil {
		params = map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		}
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", strings.NewReader(string(b))); err != nil {
		return nil, err
	}
	return c.Compile("schema.json")
}
