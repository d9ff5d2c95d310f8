package agent

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/klubi/reagent/internal/conversation"
	"github.com/klubi/reagent/internal/llm"
	"github.com/klubi/reagent/internal/parser"
	"github.com/klubi/reagent/internal/tools"
)

// reply is one scripted backend response.
type reply struct {
	content string
	calls   []llm.ToolCall
	err     error
}

// fakeClient routes requests by purpose and answers from per-purpose scripts.
// When a script runs out, its last reply repeats.
type fakeClient struct {
	mu sync.Mutex

	loop   []reply
	safety []reply
	verify []reply
	plan   []reply

	loopReqs   []llm.Request
	safetyReqs []llm.Request
	verifyReqs []llm.Request
	planReqs   []llm.Request
}

func (f *fakeClient) Stream(_ context.Context, req llm.Request) iter.Seq2[llm.Chunk, error] {
	r := f.next(req)
	return func(yield func(llm.Chunk, error) bool) {
		if r.err != nil {
			yield(llm.Chunk{}, r.err)
			return
		}
		yield(llm.Chunk{Text: r.content, ToolCalls: r.calls}, nil)
	}
}

func (f *fakeClient) next(req llm.Request) reply {
	f.mu.Lock()
	defer f.mu.Unlock()

	first := req.Messages[0].Content
	switch {
	case first == planningPrompt:
		f.planReqs = append(f.planReqs, req)
		return pop(&f.plan)
	case len(req.Messages) == 1 && strings.HasPrefix(first, "You have suggested to execute"):
		f.safetyReqs = append(f.safetyReqs, req)
		return pop(&f.safety)
	case len(req.Messages) == 1 && strings.HasPrefix(first, "Original ask was:"):
		f.verifyReqs = append(f.verifyReqs, req)
		return pop(&f.verify)
	default:
		f.loopReqs = append(f.loopReqs, req)
		return pop(&f.loop)
	}
}

func pop(script *[]reply) reply {
	s := *script
	if len(s) == 0 {
		return reply{err: errors.New("script exhausted")}
	}
	r := s[0]
	if len(s) > 1 {
		*script = s[1:]
	}
	return r
}

// fakeShell stands in for the shell tool and records what it was asked to run.
type fakeShell struct {
	mu     sync.Mutex
	result tools.Observation
	ran    []string
}

func (s *fakeShell) Name() string        { return tools.ShellToolName }
func (s *fakeShell) Description() string { return "Run a shell command." }
func (s *fakeShell) Gated() bool         { return true }

func (s *fakeShell) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{"type": "string"},
		},
		"required": []any{"command"},
	}
}

func (s *fakeShell) Argument(args map[string]any) (string, error) {
	cmd, _ := args["command"].(string)
	return cmd, nil
}

func (s *fakeShell) Execute(_ context.Context, command string) tools.Observation {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ran = append(s.ran, command)
	return s.result
}

func newTestAgent(t *testing.T, client *fakeClient, shell *fakeShell, opts Options) *Agent {
	t.Helper()
	reg, err := tools.NewRegistry(shell)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if opts.Model == "" {
		opts.Model = "test-model"
	}
	return New(client, reg, opts, zap.NewNop())
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Report(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) kinds(filter ...EventKind) []EventKind {
	var out []EventKind
	for _, e := range l.events {
		for _, k := range filter {
			if e.Kind == k {
				out = append(out, e.Kind)
			}
		}
	}
	return out
}

func TestRunDirectAnswer(t *testing.T) {
	client := &fakeClient{loop: []reply{{content: "Thought: This is simple arithmetic.\nFinal Answer: 4"}}}
	shell := &fakeShell{}
	a := newTestAgent(t, client, shell, Options{MaxSteps: 5, Safety: true})

	res, err := a.Run(context.Background(), "What is 2+2?", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeAnswered {
		t.Errorf("expected outcome %q, got %q", OutcomeAnswered, res.Outcome)
	}
	if res.Answer != "4" {
		t.Errorf("expected answer 4, got %q", res.Answer)
	}
	if res.Steps != 1 {
		t.Errorf("expected 1 step, got %d", res.Steps)
	}
	if len(shell.ran) != 0 {
		t.Errorf("executor should not run, ran %v", shell.ran)
	}
	if len(client.safetyReqs) != 0 {
		t.Errorf("safety gate should not be consulted, got %d queries", len(client.safetyReqs))
	}
}

func TestRunBlocksUnsafeAction(t *testing.T) {
	client := &fakeClient{
		loop: []reply{
			{content: "Thought: Clean up the disk.\nAction: run_shell_command: rm -rf /"},
			{content: "Final Answer: I will not do that."},
		},
		safety: []reply{{content: "POSSIBLE. This deletes everything."}},
	}
	shell := &fakeShell{result: tools.Success("should not happen")}
	a := newTestAgent(t, client, shell, Options{MaxSteps: 5, Safety: true})

	res, err := a.Run(context.Background(), "free some space", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(shell.ran) != 0 {
		t.Fatalf("blocked command reached the executor: %v", shell.ran)
	}
	if len(client.safetyReqs) != 1 {
		t.Fatalf("expected 1 safety query, got %d", len(client.safetyReqs))
	}
	if msgs := client.safetyReqs[0].Messages; len(msgs) != 1 || !strings.Contains(msgs[0].Content, "rm -rf /") {
		t.Errorf("safety query should be isolated and name the command, got %+v", msgs)
	}

	obs := res.Transcript[len(res.Transcript)-1]
	if obs.Role != conversation.RoleObservation {
		t.Fatalf("expected trailing observation turn, got %q", obs.Role)
	}
	if !strings.Contains(obs.Content, "blocked by the safety guard") || !strings.Contains(obs.Content, "rm -rf /") {
		t.Errorf("unexpected blocked observation %q", obs.Content)
	}
}

func TestRunUnrecognizedSafetyReplyBlocks(t *testing.T) {
	client := &fakeClient{
		loop: []reply{
			{content: "Action: run_shell_command: ls"},
			{content: "Final Answer: done"},
		},
		safety: []reply{{content: "I am not sure."}},
	}
	shell := &fakeShell{}
	a := newTestAgent(t, client, shell, Options{MaxSteps: 5, Safety: true})

	if _, err := a.Run(context.Background(), "list files", nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(shell.ran) != 0 {
		t.Errorf("ambiguous verdict must block, executor ran %v", shell.ran)
	}
}

func TestRunExecutesSafeAction(t *testing.T) {
	client := &fakeClient{
		loop: []reply{
			{content: "Thought: I need the working directory.\nAction: run_shell_command: pwd"},
			{content: "Thought: Got it.\nFinal Answer: You are in /home/user"},
		},
		safety: []reply{{content: "  not possible \n"}},
	}
	shell := &fakeShell{result: tools.Success("/home/user")}
	a := newTestAgent(t, client, shell, Options{MaxSteps: 5, Safety: true})
	log := &eventLog{}

	res, err := a.Run(context.Background(), "Where am I?", log)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(shell.ran) != 1 || shell.ran[0] != "pwd" {
		t.Fatalf("expected pwd to run once, ran %v", shell.ran)
	}
	if res.Answer != "You are in /home/user" {
		t.Errorf("unexpected answer %q", res.Answer)
	}
	if res.Steps != 2 {
		t.Errorf("expected 2 steps, got %d", res.Steps)
	}

	roles := make([]conversation.Role, 0, len(res.Transcript))
	for _, turn := range res.Transcript {
		roles = append(roles, turn.Role)
	}
	want := []conversation.Role{
		conversation.RoleSystem,
		conversation.RoleUser,
		conversation.RoleAssistant,
		conversation.RoleObservation,
	}
	if len(roles) != len(want) {
		t.Fatalf("expected roles %v, got %v", want, roles)
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Fatalf("expected roles %v, got %v", want, roles)
		}
	}
	if res.Transcript[3].Content != "/home/user" {
		t.Errorf("expected observation /home/user, got %q", res.Transcript[3].Content)
	}

	second := client.loopReqs[1].Messages
	last := second[len(second)-1]
	if last.Role != llm.RoleUser || last.Content != "Observation: /home/user" {
		t.Errorf("observation should reach the model as a user turn, got %+v", last)
	}

	got := log.kinds(EventAction, EventSafety, EventObservation, EventFinalAnswer)
	wantKinds := []EventKind{EventAction, EventSafety, EventObservation, EventFinalAnswer}
	if len(got) != len(wantKinds) {
		t.Fatalf("expected events %v, got %v", wantKinds, got)
	}
	for i := range wantKinds {
		if got[i] != wantKinds[i] {
			t.Fatalf("expected events %v, got %v", wantKinds, got)
		}
	}
}

func TestRunSafetyDisabledSkipsGate(t *testing.T) {
	client := &fakeClient{
		loop: []reply{
			{content: "Action: run_shell_command: date"},
			{content: "Final Answer: today"},
		},
	}
	shell := &fakeShell{result: tools.Success("Mon")}
	a := newTestAgent(t, client, shell, Options{MaxSteps: 5})

	if _, err := a.Run(context.Background(), "what day is it", nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(client.safetyReqs) != 0 {
		t.Errorf("expected no safety queries, got %d", len(client.safetyReqs))
	}
	if len(shell.ran) != 1 {
		t.Errorf("expected command to run, ran %v", shell.ran)
	}
}

func TestRunExhaustsBudget(t *testing.T) {
	client := &fakeClient{loop: []reply{{content: "Thought: still thinking"}}}
	shell := &fakeShell{}
	a := newTestAgent(t, client, shell, Options{MaxSteps: 3, Verify: true})
	log := &eventLog{}

	res, err := a.Run(context.Background(), "unanswerable", log)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeExhausted {
		t.Errorf("expected outcome %q, got %q", OutcomeExhausted, res.Outcome)
	}
	if res.Answer != ExhaustedMessage {
		t.Errorf("expected %q, got %q", ExhaustedMessage, res.Answer)
	}
	if len(client.loopReqs) != 3 {
		t.Errorf("expected exactly 3 model calls, got %d", len(client.loopReqs))
	}
	if len(client.verifyReqs) != 0 {
		t.Errorf("exhausted runs are not verified, got %d verify queries", len(client.verifyReqs))
	}
	if len(log.kinds(EventStep)) != 3 {
		t.Errorf("expected 3 step events, got %d", len(log.kinds(EventStep)))
	}
	if len(log.kinds(EventExhausted)) != 1 {
		t.Errorf("expected 1 exhausted event")
	}
}

func TestRunDiscardsMalformedOutput(t *testing.T) {
	client := &fakeClient{
		loop: []reply{
			{content: "Action: run_shell_command: ls\nFinal Answer: done"},
			{content: "Final Answer: done"},
		},
	}
	shell := &fakeShell{}
	a := newTestAgent(t, client, shell, Options{MaxSteps: 5, Safety: true})
	log := &eventLog{}

	res, err := a.Run(context.Background(), "list", log)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Steps != 2 {
		t.Errorf("malformed output should consume a step, got %d steps", res.Steps)
	}
	if len(res.Transcript) != 2 {
		t.Errorf("malformed output must not be appended, transcript has %d turns", len(res.Transcript))
	}
	if len(shell.ran) != 0 {
		t.Errorf("malformed action must not run, ran %v", shell.ran)
	}
	if len(log.kinds(EventMalformed)) != 1 {
		t.Errorf("expected one malformed event")
	}
	if n := len(client.loopReqs[1].Messages); n != 2 {
		t.Errorf("retry should resend the unchanged history, got %d messages", n)
	}
}

func TestRunUnknownTool(t *testing.T) {
	client := &fakeClient{
		loop: []reply{
			{content: "Action: browse: https://example.com"},
			{content: "Final Answer: cannot browse"},
		},
	}
	shell := &fakeShell{}
	a := newTestAgent(t, client, shell, Options{MaxSteps: 5, Safety: true})

	res, err := a.Run(context.Background(), "open the page", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	obs := res.Transcript[len(res.Transcript)-1]
	if obs.Content != "Unknown tool: browse" {
		t.Errorf("unexpected observation %q", obs.Content)
	}
	if len(shell.ran) != 0 || len(client.safetyReqs) != 0 {
		t.Errorf("unknown tool must not reach gate or executor")
	}
}

func TestRunTextTurnIsAppended(t *testing.T) {
	client := &fakeClient{
		loop: []reply{
			{content: "Let me think about it."},
			{content: "Final Answer: 42"},
		},
	}
	a := newTestAgent(t, client, &fakeShell{}, Options{MaxSteps: 5})
	log := &eventLog{}

	res, err := a.Run(context.Background(), "meaning of life", log)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Answer != "42" {
		t.Errorf("expected 42, got %q", res.Answer)
	}
	if len(res.Transcript) != 3 || res.Transcript[2].Content != "Let me think about it." {
		t.Errorf("expected plain text turn appended, got %+v", res.Transcript)
	}

	var unstructured []string
	for _, e := range log.events {
		if e.Kind == EventModelOutput && e.Unstructured {
			unstructured = append(unstructured, e.Text)
		}
	}
	if len(unstructured) != 1 || unstructured[0] != "Let me think about it." {
		t.Errorf("expected only the plain text turn marked unstructured, got %q", unstructured)
	}
}

func TestRunVerifierSupersedesAnswer(t *testing.T) {
	client := &fakeClient{
		loop:   []reply{{content: "Final Answer: 5"}},
		verify: []reply{{content: "That is wrong.\nBetter Answer: 4"}},
	}
	a := newTestAgent(t, client, &fakeShell{}, Options{MaxSteps: 5, Verify: true})
	log := &eventLog{}

	res, err := a.Run(context.Background(), "What is 2+2?", log)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Candidate != "5" {
		t.Errorf("expected candidate 5, got %q", res.Candidate)
	}
	if res.Answer != "4" {
		t.Errorf("expected superseding answer 4, got %q", res.Answer)
	}
	if res.Verification == nil || !res.Verification.Superseded {
		t.Errorf("expected superseded verification, got %+v", res.Verification)
	}
	if len(log.kinds(EventVerification)) != 1 {
		t.Errorf("expected a verification event")
	}
}

func TestRunVerifierKeepsCandidate(t *testing.T) {
	client := &fakeClient{
		loop:   []reply{{content: "Final Answer:  4 "}},
		verify: []reply{{content: "Looks good to me."}},
	}
	a := newTestAgent(t, client, &fakeShell{}, Options{MaxSteps: 5, Verify: true})

	res, err := a.Run(context.Background(), "What is 2+2?", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Answer != res.Candidate {
		t.Errorf("answer %q should equal candidate %q", res.Answer, res.Candidate)
	}
}

func TestRunPlanningDoesNotConsumeBudget(t *testing.T) {
	client := &fakeClient{
		plan: []reply{{content: "1. Run pwd\n2. Report it"}},
		loop: []reply{{content: "Final Answer: /tmp"}},
	}
	a := newTestAgent(t, client, &fakeShell{}, Options{MaxSteps: 1, Planning: true})
	log := &eventLog{}

	res, err := a.Run(context.Background(), "Where am I?", log)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeAnswered {
		t.Fatalf("expected answered, got %q", res.Outcome)
	}
	if res.Plan != "1. Run pwd\n2. Report it" {
		t.Errorf("unexpected plan %q", res.Plan)
	}
	if len(client.planReqs) != 1 {
		t.Fatalf("expected 1 planning query, got %d", len(client.planReqs))
	}
	if tools := client.planReqs[0].Tools; len(tools) != 0 {
		t.Errorf("planning must not offer tools, got %v", tools)
	}
	user := client.loopReqs[0].Messages[1].Content
	if !strings.Contains(user, "Where am I?") || !strings.Contains(user, "1. Run pwd") {
		t.Errorf("acting phase should be seeded with the plan, got %q", user)
	}
	if len(log.kinds(EventPlan)) != 1 {
		t.Errorf("expected a plan event")
	}
}

func TestRunNativeToolCalls(t *testing.T) {
	client := &fakeClient{
		loop: []reply{
			{calls: []llm.ToolCall{{ID: "call_1", Name: tools.ShellToolName, Arguments: map[string]any{"command": "pwd"}}}},
			{content: "You are in /home/user"},
		},
		safety: []reply{{content: "NOT POSSIBLE"}},
	}
	shell := &fakeShell{result: tools.Success("/home/user")}
	a := newTestAgent(t, client, shell, Options{MaxSteps: 5, Native: true, Safety: true})

	res, err := a.Run(context.Background(), "Where am I?", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Answer != "You are in /home/user" {
		t.Errorf("unexpected answer %q", res.Answer)
	}
	if len(shell.ran) != 1 || shell.ran[0] != "pwd" {
		t.Fatalf("expected pwd to run, ran %v", shell.ran)
	}
	if len(client.loopReqs[0].Tools) != 1 || client.loopReqs[0].Tools[0].Name != tools.ShellToolName {
		t.Errorf("expected the shell tool to be declared, got %+v", client.loopReqs[0].Tools)
	}

	msgs := client.loopReqs[1].Messages
	last := msgs[len(msgs)-1]
	if last.Role != llm.RoleTool || last.ToolName != tools.ShellToolName || last.Content != "/home/user" {
		t.Errorf("expected tool result message, got %+v", last)
	}
}

func TestRunNativeInvalidArguments(t *testing.T) {
	client := &fakeClient{
		loop: []reply{
			{calls: []llm.ToolCall{{ID: "call_1", Name: tools.ShellToolName, Arguments: map[string]any{"cmd": "pwd"}}}},
			{content: "giving up"},
		},
	}
	shell := &fakeShell{}
	a := newTestAgent(t, client, shell, Options{MaxSteps: 5, Native: true})

	res, err := a.Run(context.Background(), "Where am I?", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(shell.ran) != 0 {
		t.Errorf("invalid arguments must not execute, ran %v", shell.ran)
	}
	var obs *conversation.Turn
	for i := range res.Transcript {
		if res.Transcript[i].Role == conversation.RoleObservation && res.Transcript[i].CallID == "call_1" {
			obs = &res.Transcript[i]
		}
	}
	if obs == nil || !strings.HasPrefix(obs.Content, "Error: ") {
		t.Errorf("expected an error observation for call_1, got %+v", obs)
	}
}

func TestRunBackendFault(t *testing.T) {
	errDown := errors.New("connection refused")
	client := &fakeClient{loop: []reply{{err: errDown}}}
	a := newTestAgent(t, client, &fakeShell{}, Options{MaxSteps: 5})
	log := &eventLog{}

	res, err := a.Run(context.Background(), "anything", log)
	if !errors.Is(err, errDown) {
		t.Fatalf("expected backend error, got %v", err)
	}
	if res.Outcome != OutcomeFailed {
		t.Errorf("expected outcome %q, got %q", OutcomeFailed, res.Outcome)
	}
	if res.Error == "" {
		t.Errorf("expected error text on result")
	}
	if len(log.kinds(EventError)) != 1 {
		t.Errorf("expected an error event")
	}
}

func TestRunSafetyFaultDoesNotExecute(t *testing.T) {
	errDown := errors.New("timeout")
	client := &fakeClient{
		loop:   []reply{{content: "Action: run_shell_command: ls"}},
		safety: []reply{{err: errDown}},
	}
	shell := &fakeShell{}
	a := newTestAgent(t, client, shell, Options{MaxSteps: 5, Safety: true})

	res, err := a.Run(context.Background(), "list", nil)
	if !errors.Is(err, errDown) {
		t.Fatalf("expected gate error, got %v", err)
	}
	if res.Outcome != OutcomeFailed {
		t.Errorf("expected failed outcome, got %q", res.Outcome)
	}
	if len(shell.ran) != 0 {
		t.Errorf("executor ran despite gate failure: %v", shell.ran)
	}
	for _, turn := range res.Transcript {
		if turn.Role == conversation.RoleAssistant {
			t.Errorf("unanswered action left in transcript: %+v", turn)
		}
	}
	if last := res.Transcript[len(res.Transcript)-1]; last.Role != conversation.RoleUser {
		t.Errorf("expected transcript to end at the query, got %+v", last)
	}
}

func TestRunNativeSafetyFaultLeavesNoPartialTurn(t *testing.T) {
	errDown := errors.New("timeout")
	client := &fakeClient{
		loop: []reply{{calls: []llm.ToolCall{{ID: "call_1", Name: tools.ShellToolName, Arguments: map[string]any{"command": "ls"}}}}},
		safety: []reply{{err: errDown}},
	}
	shell := &fakeShell{}
	a := newTestAgent(t, client, shell, Options{MaxSteps: 5, Native: true, Safety: true})

	res, err := a.Run(context.Background(), "list", nil)
	if !errors.Is(err, errDown) {
		t.Fatalf("expected gate error, got %v", err)
	}
	if len(shell.ran) != 0 {
		t.Errorf("executor ran despite gate failure: %v", shell.ran)
	}
	for _, turn := range res.Transcript {
		if len(turn.Calls) > 0 || turn.CallID != "" {
			t.Errorf("partial tool-call turn left in transcript: %+v", turn)
		}
	}
}

func TestRunPipeGrammar(t *testing.T) {
	client := &fakeClient{
		loop:   []reply{{content: "|Thought:| easy\n|Final Answer:| 4"}},
		verify: []reply{{content: "|Better Answer:| four"}},
	}
	a := newTestAgent(t, client, &fakeShell{}, Options{MaxSteps: 2, Grammar: parser.Pipe, Verify: true})

	res, err := a.Run(context.Background(), "What is 2+2?", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Candidate != "4" || res.Answer != "four" {
		t.Errorf("expected candidate 4 and answer four, got %q / %q", res.Candidate, res.Answer)
	}
	if sys := client.loopReqs[0].Messages[0].Content; !strings.Contains(sys, "|Final Answer:|") {
		t.Errorf("system prompt should use pipe markers")
	}
}

func TestContextWindowFromOptions(t *testing.T) {
	client := &fakeClient{loop: []reply{{content: "Final Answer: ok"}}}
	a := newTestAgent(t, client, &fakeShell{}, Options{MaxSteps: 1, ContextWindow: 1000})
	log := &eventLog{}

	if _, err := a.Run(context.Background(), "hi", log); err != nil {
		t.Fatalf("Run: %v", err)
	}
	var found bool
	for _, e := range log.events {
		if e.Kind == EventContext {
			found = true
			if e.ContextLimit != 1000 || e.ContextUsed <= 0 || e.ContextPercent <= 0 {
				t.Errorf("unexpected context event %+v", e)
			}
		}
	}
	if !found {
		t.Errorf("expected context events")
	}
}
