package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// CLIClient wraps a local Claude CLI in print mode. It uses the user's local
// subscription instead of a raw API key. Replies arrive as a single fragment.
type CLIClient struct {
	cliBin string // path to the claude binary
	logger *zap.Logger
}

// NewCLIClient creates a CLIClient. If cliBin is empty, it defaults to
// "claude" (resolved via PATH).
func NewCLIClient(cliBin string, logger *zap.Logger) *CLIClient {
	if cliBin == "" {
		cliBin = "claude"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CLIClient{cliBin: cliBin, logger: logger}
}

// cliResponse maps the JSON output of `claude -p --output-format json`.
type cliResponse struct {
	Type       string  `json:"type"`
	Subtype    string  `json:"subtype"`
	IsError    bool    `json:"is_error"`
	Result     string  `json:"result"`
	DurationMs int     `json:"duration_ms"`
	TotalCost  float64 `json:"total_cost_usd"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Stream runs one CLI invocation and yields its result as one fragment.
func (c *CLIClient) Stream(ctx context.Context, req Request) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		if len(req.Tools) > 0 {
			yield(Chunk{}, ErrToolsUnsupported)
			return
		}
		out, err := c.run(ctx, req)
		if err != nil {
			yield(Chunk{}, err)
			return
		}
		yield(Chunk{Text: out}, nil)
	}
}

func (c *CLIClient) run(ctx context.Context, req Request) (string, error) {
	system, prompt := flatten(req.Messages)
	args := []string{
		"-p", prompt,
		"--output-format", "json",
	}
	if model := resolveModel(req.Model); model != "" {
		args = append(args, "--model", model)
	}
	if system != "" {
		args = append(args, "--system-prompt", system)
	}

	c.logger.Debug("executing claude CLI",
		zap.String("bin", c.cliBin),
		zap.String("model", req.Model),
		zap.Int("promptLen", len(prompt)),
	)

	cmd := exec.CommandContext(ctx, c.cliBin, args...)
	// Unset CLAUDECODE env var to allow nested invocation.
	cmd.Env = filterEnv(os.Environ(), "CLAUDECODE")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		errMsg := stderr.String()
		if errMsg == "" {
			errMsg = err.Error()
		}
		c.logger.Error("claude CLI failed",
			zap.Error(err),
			zap.String("stderr", errMsg),
		)
		return "", fmt.Errorf("claude CLI error: %s", strings.TrimSpace(errMsg))
	}

	var resp cliResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return "", fmt.Errorf("parsing claude CLI output: %w", err)
	}
	if resp.IsError && resp.Subtype != "error_max_turns" {
		return "", fmt.Errorf("claude CLI returned error: %s", resp.Result)
	}

	c.logger.Debug("claude CLI call completed",
		zap.Int("tokensIn", resp.Usage.InputTokens),
		zap.Int("tokensOut", resp.Usage.OutputTokens),
		zap.Float64("costUSD", resp.TotalCost),
		zap.Int("durationMs", resp.DurationMs),
	)
	return resp.Result, nil
}

// flatten joins system messages into a system prompt and renders the rest of
// the conversation as a transcript the CLI can continue.
func flatten(msgs []Message) (string, string) {
	var system []string
	var rest []Message
	for _, m := range msgs {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}

	// A lone user message is passed through verbatim.
	if len(rest) == 1 && rest[0].Role == RoleUser {
		return strings.Join(system, "\n\n"), rest[0].Content
	}

	var b strings.Builder
	for _, m := range rest {
		fmt.Fprintf(&b, "%s: %s\n\n", m.Role, m.Content)
	}
	b.WriteString("assistant:")
	return strings.Join(system, "\n\n"), b.String()
}

// resolveModel maps human-friendly model shortnames to Claude CLI --model
// flag values.
func resolveModel(model string) string {
	switch model {
	case "claude-sonnet":
		return "sonnet"
	case "claude-haiku":
		return "haiku"
	case "claude-opus":
		return "opus"
	default:
		return model
	}
}

// filterEnv returns a copy of env with the given key removed.
func filterEnv(env []string, key string) []string {
	prefix := key + "="
	result := make([]string, 0, len(env))
	for _, e := range env {
		if !strings.HasPrefix(e, prefix) {
			result = append(result, e)
		}
	}
	return result
}
