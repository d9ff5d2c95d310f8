// Package safety vets proposed actions with an isolated model query before
// they run.
package safety

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/klubi/reagent/internal/llm"
)

const (
	// SafeToken is the only answer that lets an action run.
	SafeToken = "NOT POSSIBLE"
	// UnsafeToken is the affirmative answer the prompt offers.
	UnsafeToken = "POSSIBLE"
)

// Verdict is the outcome of one evaluation. It is never cached: the same
// argument may be judged differently on a later call.
type Verdict struct {
	Safe      bool   `json:"safe" yaml:"safe"`
	Rationale string `json:"rationale" yaml:"rationale"`
}

// Gate asks the model whether an action could do irreversible damage.
type Gate struct {
	client llm.Client
	model  string
	logger *zap.Logger
}

// NewGate creates a Gate that queries model through client.
func NewGate(client llm.Client, model string, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{client: client, model: model, logger: logger}
}

// Prompt renders the question put to the model for argument.
func Prompt(argument string) string {
	return fmt.Sprintf("You have suggested to execute the following command as part of resolving user query: %s. "+
		"Is it possible that the command alters user system in an irreversible manner resulting in data loss or system instability. "+
		"Please answer %s or %s.", argument, UnsafeToken, SafeToken)
}

// Evaluate runs one isolated query that shares no history with the caller's
// conversation. A transport error is returned as-is; any reply other than the
// exact safe token is unsafe.
func (g *Gate) Evaluate(ctx context.Context, argument string) (Verdict, error) {
	resp, err := llm.Complete(ctx, g.client, llm.Request{
		Model:    g.model,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: Prompt(argument)}},
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("safety query: %w", err)
	}

	v := Decide(resp.Content)
	g.logger.Debug("safety verdict",
		zap.String("argument", argument),
		zap.Bool("safe", v.Safe),
		zap.String("response", v.Rationale),
	)
	return v, nil
}

// Decide applies the fail-closed rule to a raw gate reply.
func Decide(response string) Verdict {
	rationale := strings.TrimSpace(response)
	return Verdict{
		Safe:      strings.ToUpper(rationale) == SafeToken,
		Rationale: rationale,
	}
}
