// Package verify second-guesses a final answer with a fresh model query over
// the completed transcript.
package verify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/klubi/reagent/internal/conversation"
	"github.com/klubi/reagent/internal/llm"
	"github.com/klubi/reagent/internal/parser"
)

// Result is the verifier's decision.
type Result struct {
	// Answer is the superseding answer when Superseded, else the candidate unchanged.
	Answer     string `json:"answer" yaml:"answer"`
	Superseded bool   `json:"superseded" yaml:"superseded"`
	// Critique is the raw verification reply.
	Critique string `json:"critique" yaml:"critique"`
}

// Verifier runs once per answered query. It never calls tools.
type Verifier struct {
	client  llm.Client
	model   string
	grammar parser.Grammar
	logger  *zap.Logger
}

// New creates a Verifier. The grammar supplies the superseding-answer marker.
func New(client llm.Client, model string, grammar parser.Grammar, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{client: client, model: model, grammar: grammar, logger: logger}
}

// Prompt renders the verification question.
func (v *Verifier) Prompt(query, candidate string, transcript []conversation.Turn) string {
	return fmt.Sprintf(`Original ask was: %s
Final answer is: %s
Steps are:
%s

Is this a good answer given the request? If you have better answer please respond with %s element.`,
		query, candidate, conversation.Render(transcript), v.grammar.Marker(parser.SectionBetterAnswer))
}

// Verify asks the backend to judge candidate. Without a non-empty superseding
// answer in the reply, the candidate is returned unchanged.
func (v *Verifier) Verify(ctx context.Context, query, candidate string, transcript []conversation.Turn) (*Result, error) {
	resp, err := llm.Complete(ctx, v.client, llm.Request{
		Model:    v.model,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: v.Prompt(query, candidate, transcript)}},
	})
	if err != nil {
		return nil, fmt.Errorf("verification query: %w", err)
	}

	res := &Result{Answer: candidate, Critique: resp.Content}
	if better, ok := v.grammar.Extract(resp.Content, parser.SectionBetterAnswer); ok && better != "" {
		res.Answer = better
		res.Superseded = true
	}

	v.logger.Debug("verification complete",
		zap.Bool("superseded", res.Superseded),
		zap.Int("critiqueLen", len(resp.Content)),
	)
	return res, nil
}
