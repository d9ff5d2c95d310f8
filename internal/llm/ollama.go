package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// OllamaClient talks to the Ollama chat API.
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewOllamaClient creates a new Ollama client.
func NewOllamaClient(baseURL string, timeout time.Duration, logger *zap.Logger) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute // Large models with tools need time
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OllamaClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaToolCall struct {
	ID       string `json:"id,omitempty"`
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"` // Ollama returns object, not string
	} `json:"function"`
}

type ollamaTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Tools    []ollamaTool    `json:"tools,omitempty"`
}

type ollamaChatResponse struct {
	Model     string        `json:"model"`
	Message   ollamaMessage `json:"message"`
	Done      bool          `json:"done"`
	Error     string        `json:"error,omitempty"`
	EvalCount int           `json:"eval_count,omitempty"`
}

func toOllamaRequest(req Request) ollamaChatRequest {
	out := ollamaChatRequest{
		Model:    req.Model,
		Messages: make([]ollamaMessage, 0, len(req.Messages)),
		Stream:   true,
	}
	for _, m := range req.Messages {
		om := ollamaMessage{Role: m.Role, Content: m.Content, ToolName: m.ToolName}
		for _, tc := range m.ToolCalls {
			var oc ollamaToolCall
			oc.ID = tc.ID
			oc.Function.Name = tc.Name
			oc.Function.Arguments = tc.Arguments
			om.ToolCalls = append(om.ToolCalls, oc)
		}
		out.Messages = append(out.Messages, om)
	}
	for _, t := range req.Tools {
		var ot ollamaTool
		ot.Type = "function"
		ot.Function.Name = t.Name
		ot.Function.Description = t.Description
		ot.Function.Parameters = t.Parameters
		out.Tools = append(out.Tools, ot)
	}
	return out
}

func fromOllamaCalls(calls []ollamaToolCall) []ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]ToolCall, 0, len(calls))
	for _, c := range calls {
		id := c.ID
		if id == "" {
			id = "call_" + ulid.Make().String()
		}
		out = append(out, ToolCall{ID: id, Name: c.Function.Name, Arguments: c.Function.Arguments})
	}
	return out
}

// Stream sends a streaming chat request and yields content fragments as the
// newline-delimited JSON chunks arrive.
func (c *OllamaClient) Stream(ctx context.Context, req Request) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		body, err := json.Marshal(toOllamaRequest(req))
		if err != nil {
			yield(Chunk{}, fmt.Errorf("marshal request: %w", err))
			return
		}

		c.logger.Debug("ollama chat request",
			zap.String("model", req.Model),
			zap.Int("messages", len(req.Messages)),
			zap.Int("tools", len(req.Tools)),
		)

		resp, err := c.do(ctx, http.MethodPost, "/api/chat", body)
		if err != nil {
			yield(Chunk{}, err)
			return
		}
		defer resp.Body.Close()

		decoder := json.NewDecoder(resp.Body)
		for {
			var msg ollamaChatResponse
			if err := decoder.Decode(&msg); err != nil {
				if errors.Is(err, io.EOF) {
					yield(Chunk{}, fmt.Errorf("stream ended before completion"))
					return
				}
				yield(Chunk{}, fmt.Errorf("decode stream chunk: %w", err))
				return
			}
			if msg.Error != "" {
				yield(Chunk{}, fmt.Errorf("ollama error: %s", msg.Error))
				return
			}

			chunk := Chunk{Text: msg.Message.Content, ToolCalls: fromOllamaCalls(msg.Message.ToolCalls)}
			if chunk.Text != "" || len(chunk.ToolCalls) > 0 {
				if !yield(chunk, nil) {
					return
				}
			}

			if msg.Done {
				c.logger.Debug("ollama chat done",
					zap.String("model", msg.Model),
					zap.Int("evalCount", msg.EvalCount),
				)
				return
			}
		}
	}
}

// Ping checks if Ollama is reachable.
func (c *OllamaClient) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/api/tags", nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// ContextLength reads the model's context window from /api/show.
func (c *OllamaClient) ContextLength(ctx context.Context, model string) (int, error) {
	body, err := json.Marshal(map[string]string{"model": model})
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, "/api/show", body)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var result struct {
		ModelInfo map[string]any `json:"model_info"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}
	for k, v := range result.ModelInfo {
		if !strings.HasSuffix(k, ".context_length") {
			continue
		}
		if n, ok := v.(float64); ok && n > 0 {
			return int(n), nil
		}
	}
	return 0, fmt.Errorf("context length not reported for model %s", model)
}

// do executes a request and fails on any non-200 status.
func (c *OllamaClient) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return resp, nil
}
