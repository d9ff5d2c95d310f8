// Package agent drives the reason-act-observe loop: it queries the model,
// interprets each turn, vets and runs actions, and verifies the final answer.
package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/klubi/reagent/internal/config"
	"github.com/klubi/reagent/internal/conversation"
	"github.com/klubi/reagent/internal/llm"
	"github.com/klubi/reagent/internal/parser"
	"github.com/klubi/reagent/internal/safety"
	"github.com/klubi/reagent/internal/tools"
	"github.com/klubi/reagent/internal/verify"
)

// ExhaustedMessage is the answer reported when the step budget runs out.
const ExhaustedMessage = "Max steps reached without final answer."

// DefaultMaxSteps is the step budget used when Options.MaxSteps is unset.
const DefaultMaxSteps = 10

// Outcome is how a run terminated.
type Outcome string

const (
	OutcomeAnswered  Outcome = "answered"
	OutcomeExhausted Outcome = "exhausted"
	OutcomeFailed    Outcome = "failed"
)

// Options tune one Agent.
type Options struct {
	Model    string
	MaxSteps int
	// Native selects structured tool calling instead of the text grammar.
	Native  bool
	Grammar parser.Grammar
	// Planning enables the one-shot planning phase before acting.
	Planning bool
	Verify   bool
	// Safety enables the gate for tools that request it. With Safety off
	// every tool is treated as ungated.
	Safety bool
	// ContextWindow is the model's context size for utilization telemetry.
	// Zero asks the backend when it can tell.
	ContextWindow int
}

// Result describes a finished run.
type Result struct {
	Outcome Outcome
	// Answer is the verified answer, the exhaustion message, or, on failure,
	// the candidate answer if one was reached.
	Answer string
	// Candidate is the answer the loop produced before verification.
	Candidate    string
	Plan         string
	Steps        int
	Transcript   []conversation.Turn
	Verification *verify.Result
	Error        string
}

// Agent owns the collaborators of the loop. It keeps no per-query state and
// may run several queries concurrently.
type Agent struct {
	client   llm.Client
	registry *tools.Registry
	gate     *safety.Gate
	verifier *verify.Verifier
	opts     Options
	logger   *zap.Logger
}

// New creates an Agent.
func New(client llm.Client, registry *tools.Registry, opts Options, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	if len(opts.Grammar.Rules) == 0 {
		opts.Grammar = parser.Plain
	}
	a := &Agent{
		client:   client,
		registry: registry,
		opts:     opts,
		logger:   logger,
	}
	if opts.Safety {
		a.gate = safety.NewGate(client, opts.Model, logger.Named("safety"))
	}
	if opts.Verify {
		a.verifier = verify.New(client, opts.Model, opts.Grammar, logger.Named("verify"))
	}
	return a
}

// FromConfig builds an Agent with the built-in shell tool from cfg.
func FromConfig(cfg *config.Config, client llm.Client, logger *zap.Logger) (*Agent, error) {
	grammar, ok := parser.Lookup(cfg.Agent.Grammar)
	if !ok {
		return nil, fmt.Errorf("%w: unknown grammar %q", config.ErrInvalid, cfg.Agent.Grammar)
	}
	shell := tools.NewShellTool(cfg.Agent.Shell, cfg.CommandTimeout(), logger.Named("shell")).
		WithDir(cfg.Agent.WorkDir)
	registry, err := tools.NewRegistry(shell)
	if err != nil {
		return nil, err
	}
	return New(client, registry, OptionsFromConfig(cfg, grammar), logger), nil
}

// OptionsFromConfig maps the agent and backend sections of cfg to Options.
func OptionsFromConfig(cfg *config.Config, grammar parser.Grammar) Options {
	return Options{
		Model:         cfg.Backend.Model,
		MaxSteps:      cfg.Agent.MaxSteps,
		Native:        cfg.Agent.Mode == config.ModeNative,
		Grammar:       grammar,
		Planning:      cfg.Agent.Planning,
		Verify:        cfg.Agent.Verify,
		Safety:        cfg.Agent.Safety,
		ContextWindow: cfg.Backend.ContextWindow,
	}
}

// Options returns the agent's effective options.
func (a *Agent) Options() Options {
	return a.opts
}

// run is the state of one query. It is owned by a single goroutine.
type run struct {
	*Agent
	query  string
	conv   *conversation.Conversation
	rep    Reporter
	window int
	res    *Result
}

// Run answers query. Failures inside an iteration become observations; only a
// backend fault ends the run early, in which case the returned error is
// non-nil and the Result has OutcomeFailed.
func (a *Agent) Run(ctx context.Context, query string, rep Reporter) (*Result, error) {
	if rep == nil {
		rep = nopReporter{}
	}
	r := &run{
		Agent: a,
		query: query,
		rep:   rep,
		res:   &Result{},
	}
	r.window = a.contextWindow(ctx)

	a.logger.Debug("run started",
		zap.String("model", a.opts.Model),
		zap.Int("maxSteps", a.opts.MaxSteps),
		zap.Bool("native", a.opts.Native),
		zap.Bool("planning", a.opts.Planning),
	)

	opening := query
	if a.opts.Planning {
		plan, err := r.plan(ctx)
		if err != nil {
			r.conv = conversation.New()
			return r.fail(err)
		}
		opening = seededQuery(query, plan)
	}
	r.conv = r.seed(opening)

	answered, err := r.act(ctx)
	if err != nil {
		return r.fail(err)
	}
	if !answered {
		r.res.Outcome = OutcomeExhausted
		r.res.Answer = ExhaustedMessage
		r.res.Transcript = r.conv.Snapshot()
		r.reportContext()
		rep.Report(Event{Kind: EventExhausted, Step: r.res.Steps, MaxSteps: a.opts.MaxSteps, Text: ExhaustedMessage})
		a.logger.Info("step budget exhausted", zap.Int("steps", r.res.Steps))
		return r.res, nil
	}

	r.res.Answer = r.res.Candidate
	r.res.Transcript = r.conv.Snapshot()
	if a.verifier != nil {
		vr, err := a.verifier.Verify(ctx, query, r.res.Candidate, r.res.Transcript)
		if err != nil {
			return r.fail(err)
		}
		r.res.Verification = vr
		r.res.Answer = vr.Answer
		rep.Report(Event{Kind: EventVerification, Text: vr.Critique, Verification: vr})
	}

	r.res.Outcome = OutcomeAnswered
	r.reportContext()
	a.logger.Info("run answered",
		zap.Int("steps", r.res.Steps),
		zap.Bool("superseded", r.res.Verification != nil && r.res.Verification.Superseded),
	)
	return r.res, nil
}

func (a *Agent) contextWindow(ctx context.Context) int {
	if a.opts.ContextWindow > 0 {
		return a.opts.ContextWindow
	}
	sizer, ok := a.client.(llm.ContextSizer)
	if !ok {
		return 0
	}
	n, err := sizer.ContextLength(ctx, a.opts.Model)
	if err != nil {
		a.logger.Warn("could not get context window size", zap.Error(err))
		return 0
	}
	return n
}

func (r *run) seed(opening string) *conversation.Conversation {
	if r.opts.Native {
		c := conversation.New(conversation.Turn{Role: conversation.RoleSystem, Content: nativeActingPrompt})
		for _, t := range nativeExamples() {
			c.Append(t)
		}
		c.Append(conversation.Turn{Role: conversation.RoleUser, Content: opening})
		return c
	}
	return conversation.New(
		conversation.Turn{Role: conversation.RoleSystem, Content: textSystemPrompt(r.opts.Grammar, r.registry.Specs())},
		conversation.Turn{Role: conversation.RoleUser, Content: opening},
	)
}

// plan asks for a numbered plan without tool access. It does not consume the
// step budget.
func (r *run) plan(ctx context.Context) (string, error) {
	resp, err := llm.Complete(ctx, r.client, llm.Request{
		Model: r.opts.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: planningPrompt},
			{Role: llm.RoleUser, Content: r.query},
		},
	})
	if err != nil {
		return "", fmt.Errorf("planning: %w", err)
	}
	plan := strings.TrimSpace(resp.Content)
	r.res.Plan = plan
	r.rep.Report(Event{Kind: EventPlan, Text: plan})
	return plan, nil
}

// act runs the acting phase until an answer or budget exhaustion.
func (r *run) act(ctx context.Context) (bool, error) {
	for step := 1; step <= r.opts.MaxSteps; step++ {
		r.res.Steps = step
		r.rep.Report(Event{Kind: EventStep, Step: step, MaxSteps: r.opts.MaxSteps})
		r.reportContext()

		var (
			done bool
			err  error
		)
		if r.opts.Native {
			done, err = r.nativeStep(ctx, step)
		} else {
			done, err = r.textStep(ctx, step)
		}
		if err != nil {
			return false, err
		}
		if done {
			return true, nil
		}
	}
	return false, nil
}

func (r *run) textStep(ctx context.Context, step int) (bool, error) {
	resp, err := llm.Complete(ctx, r.client, llm.Request{
		Model:    r.opts.Model,
		Messages: textMessages(r.conv.Snapshot()),
	})
	if err != nil {
		return false, fmt.Errorf("model call at step %d: %w", step, err)
	}
	raw := resp.Content

	parsed := r.opts.Grammar.Parse(raw)
	if parsed.Kind == parser.KindMalformed {
		// Discarded without touching the history; the next iteration retries.
		r.logger.Warn("malformed model output, retrying", zap.Int("step", step))
		r.rep.Report(Event{Kind: EventMalformed, Step: step, Text: raw})
		return false, nil
	}

	r.rep.Report(Event{Kind: EventModelOutput, Step: step, Text: raw, Unstructured: parsed.Kind == parser.KindText})
	if parsed.Thought != "" {
		r.rep.Report(Event{Kind: EventThought, Step: step, Text: parsed.Thought})
	}
	r.logger.Debug("parsed model output", zap.Int("step", step), zap.Stringer("kind", parsed.Kind))

	switch parsed.Kind {
	case parser.KindFinalAnswer:
		r.res.Candidate = parsed.Answer
		r.rep.Report(Event{Kind: EventFinalAnswer, Step: step, Text: parsed.Answer})
		return true, nil

	case parser.KindAction:
		obs, err := r.dispatch(ctx, step, parsed.Action.Tool, parsed.Action.Argument)
		if err != nil {
			return false, err
		}
		// An action turn is only ever appended together with its observation.
		r.conv.Append(conversation.Turn{Role: conversation.RoleAssistant, Content: raw})
		r.conv.Append(conversation.Turn{Role: conversation.RoleObservation, Content: obs.Text})

	default:
		r.conv.Append(conversation.Turn{Role: conversation.RoleAssistant, Content: raw})
	}
	return false, nil
}

func (r *run) nativeStep(ctx context.Context, step int) (bool, error) {
	specs := r.registry.Specs()
	declared := make([]llm.Tool, 0, len(specs))
	for _, s := range specs {
		declared = append(declared, llm.Tool{Name: s.Name, Description: s.Description, Parameters: s.Parameters})
	}

	resp, err := llm.Complete(ctx, r.client, llm.Request{
		Model:    r.opts.Model,
		Messages: nativeMessages(r.conv.Snapshot()),
		Tools:    declared,
	})
	if err != nil {
		return false, fmt.Errorf("model call at step %d: %w", step, err)
	}

	if len(resp.ToolCalls) == 0 {
		text := strings.TrimSpace(resp.Content)
		if text == "" {
			r.conv.Append(conversation.Turn{Role: conversation.RoleAssistant, Content: resp.Content})
			return false, nil
		}
		r.res.Candidate = text
		r.rep.Report(Event{Kind: EventFinalAnswer, Step: step, Text: text})
		return true, nil
	}

	if text := strings.TrimSpace(resp.Content); text != "" {
		r.rep.Report(Event{Kind: EventThought, Step: step, Text: text})
	}

	calls := make([]conversation.ToolCall, 0, len(resp.ToolCalls))
	for _, c := range resp.ToolCalls {
		calls = append(calls, conversation.ToolCall{ID: c.ID, Name: c.Name, Arguments: c.Arguments})
	}
	observed := make([]conversation.Turn, 0, len(calls))
	for _, c := range calls {
		var obs tools.Observation
		if _, known := r.registry.Lookup(c.Name); !known {
			obs, err = r.dispatch(ctx, step, c.Name, "")
		} else if arg, decodeErr := r.registry.Decode(c.Name, c.Arguments); decodeErr != nil {
			obs = tools.Failure("Error: " + decodeErr.Error())
			r.rep.Report(Event{Kind: EventObservation, Step: step, Tool: c.Name, Observation: &obs, Text: obs.Text})
		} else {
			obs, err = r.dispatch(ctx, step, c.Name, arg)
		}
		if err != nil {
			return false, err
		}
		observed = append(observed, conversation.Turn{Role: conversation.RoleObservation, Content: obs.Text, CallID: c.ID})
	}

	r.conv.Append(conversation.Turn{Role: conversation.RoleAssistant, Content: resp.Content, Calls: calls})
	for _, t := range observed {
		r.conv.Append(t)
	}
	return false, nil
}

// dispatch resolves and runs one action. Unknown tools and blocked actions
// never reach the executor. The only error is a safety-gate backend fault.
func (r *run) dispatch(ctx context.Context, step int, name, argument string) (tools.Observation, error) {
	r.rep.Report(Event{Kind: EventAction, Step: step, Tool: name, Argument: argument})

	obs, err := r.execute(ctx, step, name, argument)
	if err != nil {
		return obs, err
	}

	r.rep.Report(Event{Kind: EventObservation, Step: step, Tool: name, Observation: &obs, Text: obs.Text})
	return obs, nil
}

func (r *run) execute(ctx context.Context, step int, name, argument string) (tools.Observation, error) {
	tool, ok := r.registry.Lookup(name)
	if !ok {
		r.logger.Warn("unknown tool requested", zap.String("tool", name))
		return tools.UnknownTool(name), nil
	}

	if tool.Gated() && r.gate != nil {
		v, err := r.gate.Evaluate(ctx, argument)
		if err != nil {
			return tools.Observation{}, err
		}
		r.rep.Report(Event{Kind: EventSafety, Step: step, Tool: name, Argument: argument, Verdict: &v, Text: v.Rationale})
		if !v.Safe {
			r.logger.Warn("action blocked by safety gate",
				zap.String("tool", name),
				zap.String("argument", argument),
				zap.String("rationale", v.Rationale),
			)
			return tools.Failure(blockedMessage(argument, v.Rationale)), nil
		}
	}

	return tool.Execute(ctx, argument), nil
}

func (r *run) reportContext() {
	if r.conv == nil {
		return
	}
	used, pct := r.conv.EstimateUtilization(r.window)
	r.rep.Report(Event{Kind: EventContext, ContextUsed: used, ContextLimit: r.window, ContextPercent: pct})
}

func (r *run) fail(err error) (*Result, error) {
	r.res.Outcome = OutcomeFailed
	r.res.Error = err.Error()
	r.res.Answer = r.res.Candidate
	r.res.Transcript = r.conv.Snapshot()
	r.logger.Error("run failed", zap.Int("steps", r.res.Steps), zap.Error(err))
	r.rep.Report(Event{Kind: EventError, Step: r.res.Steps, Text: err.Error()})
	return r.res, err
}
