package conversation

import "testing"

func TestAppendAndSnapshot(t *testing.T) {
	c := New(Turn{Role: RoleSystem, Content: "sys"}, Turn{Role: RoleUser, Content: "q"})
	c.Append(Turn{Role: RoleAssistant, Content: "a"})

	snap := c.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(snap))
	}
	want := []Role{RoleSystem, RoleUser, RoleAssistant}
	for i, r := range want {
		if snap[i].Role != r {
			t.Errorf("turn %d: expected role %s, got %s", i, r, snap[i].Role)
		}
	}

	// Mutating the snapshot must not leak into the conversation.
	snap[0].Content = "changed"
	if c.Snapshot()[0].Content != "sys" {
		t.Error("snapshot mutation affected the conversation")
	}
}

func TestAppendCopiesCalls(t *testing.T) {
	calls := []ToolCall{{Name: "run_shell_command"}}
	c := New()
	c.Append(Turn{Role: RoleAssistant, Calls: calls})
	calls[0].Name = "other"

	if got := c.Snapshot()[0].Calls[0].Name; got != "run_shell_command" {
		t.Errorf("expected stored call to be unchanged, got %s", got)
	}
}

func TestEstimateUtilization(t *testing.T) {
	c := New(Turn{Role: RoleUser, Content: "12345678"}, Turn{Role: RoleAssistant, Content: "abcd"})

	used, pct := c.EstimateUtilization(100)
	if used != 3 {
		t.Errorf("expected 3 units, got %d", used)
	}
	if pct != 3 {
		t.Errorf("expected 3%%, got %f", pct)
	}

	used, pct = c.EstimateUtilization(0)
	if used != 3 || pct != 0 {
		t.Errorf("expected (3, 0) with no limit, got (%d, %f)", used, pct)
	}
}

func TestRender(t *testing.T) {
	got := Render([]Turn{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleObservation, Content: "/home"},
	})
	want := "user: hi\nobservation: /home"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestRenderToolCalls(t *testing.T) {
	tests := []struct {
		name string
		turn Turn
		want string
	}{
		{
			name: "call only",
			turn: Turn{Role: RoleAssistant, Calls: []ToolCall{{Name: "run_shell_command", Arguments: map[string]any{"command": "pwd"}}}},
			want: `assistant: run_shell_command({"command":"pwd"})`,
		},
		{
			name: "content and calls",
			turn: Turn{Role: RoleAssistant, Content: "checking", Calls: []ToolCall{
				{Name: "run_shell_command", Arguments: map[string]any{"command": "pwd"}},
				{Name: "run_shell_command"},
			}},
			want: "assistant: checking\nrun_shell_command({\"command\":\"pwd\"})\nrun_shell_command({})",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Render([]Turn{tc.turn}); got != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
		})
	}

	got := Render([]Turn{
		{Role: RoleUser, Content: "where am I?"},
		{Role: RoleAssistant, Calls: []ToolCall{{ID: "call_1", Name: "run_shell_command", Arguments: map[string]any{"command": "pwd"}}}},
		{Role: RoleObservation, Content: "/home/user", CallID: "call_1"},
	})
	want := "user: where am I?\nassistant: run_shell_command({\"command\":\"pwd\"})\nobservation: /home/user"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}
