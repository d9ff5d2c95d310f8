// Package llm adapts model backends to a single streaming interface.
package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"go.uber.org/zap"

	"github.com/klubi/reagent/internal/config"
)

// ErrNoBackend is returned for an unknown provider name.
var ErrNoBackend = errors.New("no such backend")

// ErrToolsUnsupported is returned by backends without native tool calling
// when a request declares tools.
var ErrToolsUnsupported = errors.New("backend does not support native tool calling")

// Message roles understood by backends.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of the prompt context.
type Message struct {
	Role      string
	Content   string
	ToolCalls []ToolCall
	// ToolName names the tool a "tool" message answers.
	ToolName string
}

// ToolCall is a structured action request returned by a backend.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Tool declares a callable tool to a backend.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Request is one model invocation.
type Request struct {
	Model    string
	Messages []Message
	Tools    []Tool
}

// Chunk is one fragment of a streamed response.
type Chunk struct {
	Text      string
	ToolCalls []ToolCall
}

// Response is a fully drained model reply.
type Response struct {
	Content   string
	ToolCalls []ToolCall
}

// Client is implemented by every backend. Stream returns a lazy sequence of
// fragments that ends when the backend signals completion; an error element
// ends the sequence.
type Client interface {
	Stream(ctx context.Context, req Request) iter.Seq2[Chunk, error]
}

// Pinger is implemented by backends that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ContextSizer is implemented by backends that can report a model's context window.
type ContextSizer interface {
	ContextLength(ctx context.Context, model string) (int, error)
}

// Collect drains seq into one Response. Markers can straddle fragment
// boundaries, so callers must only parse the collected text. If the stream
// fails, no partial response is returned.
func Collect(seq iter.Seq2[Chunk, error]) (*Response, error) {
	var b strings.Builder
	var calls []ToolCall
	for chunk, err := range seq {
		if err != nil {
			return nil, err
		}
		b.WriteString(chunk.Text)
		calls = append(calls, chunk.ToolCalls...)
	}
	return &Response{Content: b.String(), ToolCalls: calls}, nil
}

// Complete sends req and waits for the whole reply.
func Complete(ctx context.Context, c Client, req Request) (*Response, error) {
	return Collect(c.Stream(ctx, req))
}

// New builds the client selected by cfg.Backend.Provider.
func New(cfg *config.Config, logger *zap.Logger) (Client, error) {
	switch cfg.Backend.Provider {
	case config.ProviderOllama:
		return NewOllamaClient(cfg.Backend.URL, cfg.BackendTimeout(), logger), nil
	case config.ProviderClaudeCLI:
		return NewCLIClient(cfg.Backend.CLI, logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrNoBackend, cfg.Backend.Provider)
	}
}
