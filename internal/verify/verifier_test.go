package verify

import (
	"context"
	"iter"
	"strings"
	"testing"

	"github.com/klubi/reagent/internal/conversation"
	"github.com/klubi/reagent/internal/llm"
	"github.com/klubi/reagent/internal/parser"
)

type fixedClient struct {
	reply string
	last  llm.Request
}

func (f *fixedClient) Stream(_ context.Context, req llm.Request) iter.Seq2[llm.Chunk, error] {
	f.last = req
	return func(yield func(llm.Chunk, error) bool) {
		yield(llm.Chunk{Text: f.reply}, nil)
	}
}

var transcript = []conversation.Turn{
	{Role: conversation.RoleSystem, Content: "sys"},
	{Role: conversation.RoleUser, Content: "Where am I?"},
	{Role: conversation.RoleAssistant, Content: "Action: run_shell_command: pwd"},
	{Role: conversation.RoleObservation, Content: "/home/user"},
}

func TestVerifyPassThrough(t *testing.T) {
	candidate := "  /home/user \n"
	c := &fixedClient{reply: "Yes, this is a good answer."}
	v := New(c, "m", parser.Plain, nil)

	res, err := v.Verify(context.Background(), "Where am I?", candidate, transcript)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.Superseded {
		t.Error("expected no superseding answer")
	}
	if res.Answer != candidate {
		t.Errorf("expected byte-identical candidate %q, got %q", candidate, res.Answer)
	}
	if res.Critique != "Yes, this is a good answer." {
		t.Errorf("unexpected critique %q", res.Critique)
	}
}

func TestVerifySupersedes(t *testing.T) {
	c := &fixedClient{reply: "Not quite. |Better Answer:| You are in /home/user."}
	v := New(c, "m", parser.Pipe, nil)

	res, err := v.Verify(context.Background(), "Where am I?", "home", transcript)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !res.Superseded || res.Answer != "You are in /home/user." {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestVerifyEmptyBetterAnswerKeepsCandidate(t *testing.T) {
	c := &fixedClient{reply: "Better Answer:   "}
	v := New(c, "m", parser.Plain, nil)

	res, err := v.Verify(context.Background(), "q", "4", nil)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.Superseded || res.Answer != "4" {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestVerifyPromptContents(t *testing.T) {
	c := &fixedClient{reply: "fine"}
	v := New(c, "m", parser.Plain, nil)
	if _, err := v.Verify(context.Background(), "Where am I?", "/home/user", transcript); err != nil {
		t.Fatal(err)
	}

	if len(c.last.Messages) != 1 {
		t.Fatalf("expected isolated single-message query, got %d messages", len(c.last.Messages))
	}
	prompt := c.last.Messages[0].Content
	for _, want := range []string{
		"Original ask was: Where am I?",
		"Final answer is: /home/user",
		"observation: /home/user",
		"Better Answer:",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if len(c.last.Tools) != 0 {
		t.Error("verification must not declare tools")
	}
}

func TestVerifyPromptIncludesToolCalls(t *testing.T) {
	c := &fixedClient{reply: "fine"}
	v := New(c, "m", parser.Plain, nil)
	native := []conversation.Turn{
		{Role: conversation.RoleUser, Content: "Where am I?"},
		{Role: conversation.RoleAssistant, Calls: []conversation.ToolCall{
			{ID: "call_1", Name: "run_shell_command", Arguments: map[string]any{"command": "pwd"}},
		}},
		{Role: conversation.RoleObservation, Content: "/home/user", CallID: "call_1"},
	}
	if _, err := v.Verify(context.Background(), "Where am I?", "/home/user", native); err != nil {
		t.Fatal(err)
	}

	prompt := c.last.Messages[0].Content
	want := "assistant: run_shell_command({\"command\":\"pwd\"})\nobservation: /home/user"
	if !strings.Contains(prompt, want) {
		t.Errorf("prompt missing the tool call:\n%s", prompt)
	}
}
