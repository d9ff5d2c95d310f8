// Package conversation holds the ordered, append-only log of turns exchanged
// with the model during a single query.
package conversation

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role identifies who produced a Turn.
type Role string

const (
	RoleSystem      Role = "system"
	RoleUser        Role = "user"
	RoleAssistant   Role = "assistant"
	RoleObservation Role = "observation"
)

// CharsPerUnit is the average number of characters assumed per context unit
// (token) when estimating utilization.
const CharsPerUnit = 4

// ToolCall is a structured action request attached to an assistant turn by a
// backend with native tool calling.
type ToolCall struct {
	ID        string         `json:"id,omitempty" yaml:"id,omitempty"`
	Name      string         `json:"name" yaml:"name"`
	Arguments map[string]any `json:"arguments,omitempty" yaml:"arguments,omitempty"`
}

// Turn is one message unit in the conversation.
type Turn struct {
	Role    Role   `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
	// Calls is only set on assistant turns produced by native tool-calling backends.
	Calls []ToolCall `json:"calls,omitempty" yaml:"calls,omitempty"`
	// CallID links an observation back to the call it answers.
	CallID string `json:"callId,omitempty" yaml:"callId,omitempty"`
}

// Conversation is owned by exactly one loop for the lifetime of one query.
// It is not safe for concurrent use.
type Conversation struct {
	turns []Turn
}

// New returns a conversation seeded with the given turns.
func New(seed ...Turn) *Conversation {
	c := &Conversation{}
	for _, t := range seed {
		c.Append(t)
	}
	return c
}

// Append adds a turn to the end of the log.
func (c *Conversation) Append(t Turn) {
	if len(t.Calls) > 0 {
		t.Calls = append([]ToolCall(nil), t.Calls...)
	}
	c.turns = append(c.turns, t)
}

// Len returns the number of turns.
func (c *Conversation) Len() int {
	return len(c.turns)
}

// Snapshot returns a copy of the turns in order. Mutating the result does not
// affect the conversation.
func (c *Conversation) Snapshot() []Turn {
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// EstimateUtilization approximates how much of a context window of
// contextLimit units the conversation occupies. It is advisory only; a
// non-positive limit yields a zero percentage.
func (c *Conversation) EstimateUtilization(contextLimit int) (int, float64) {
	chars := 0
	for _, t := range c.turns {
		chars += len(t.Content)
	}
	used := chars / CharsPerUnit
	if contextLimit <= 0 {
		return used, 0
	}
	return used, float64(used) / float64(contextLimit) * 100
}

// Render produces a linear "role: content" rendering of turns, one per line.
// Native tool calls follow the content as name(arguments).
func Render(turns []Turn) string {
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %s", t.Role, t.Content)
		for j, c := range t.Calls {
			if j > 0 || t.Content != "" {
				b.WriteByte('\n')
			}
			b.WriteString(renderCall(c))
		}
	}
	return b.String()
}

func renderCall(c ToolCall) string {
	args, err := json.Marshal(c.Arguments)
	if err != nil || c.Arguments == nil {
		args = []byte("{}")
	}
	return fmt.Sprintf("%s(%s)", c.Name, args)
}
