package tools

import (
	"context"
	"strings"
	"testing"
)

// echoTool is an ungated tool that returns its argument.
type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "Echo the argument." }
func (echoTool) Gated() bool         { return false }
func (echoTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{"type": "string"},
		},
		"required": []string{"text"},
	}
}
func (echoTool) Argument(args map[string]any) (string, error) {
	s, _ := args["text"].(string)
	return s, nil
}
func (echoTool) Execute(_ context.Context, arg string) Observation { return Success(arg) }

func TestRegistryLookup(t *testing.T) {
	r, err := NewRegistry(echoTool{}, NewShellTool("", 0, nil))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	if _, ok := r.Lookup("echo"); !ok {
		t.Error("expected echo to be registered")
	}
	if _, ok := r.Lookup("rm"); ok {
		t.Error("expected rm to be unknown")
	}

	names := r.Names()
	if len(names) != 2 || names[0] != "echo" || names[1] != ShellToolName {
		t.Errorf("unexpected names %v", names)
	}

	specs := r.Specs()
	if specs[1].Name != ShellToolName || specs[1].Parameters["type"] != "object" {
		t.Errorf("unexpected spec %+v", specs[1])
	}
}

func TestRegistryRejectsEmptyName(t *testing.T) {
	r, _ := NewRegistry()
	if err := r.Register(namelessTool{}); err == nil {
		t.Fatal("expected error for empty tool name")
	}
}

type namelessTool struct{ echoTool }

func (namelessTool) Name() string { return " " }

func TestRegistryDecode(t *testing.T) {
	r, _ := NewRegistry(NewShellTool("", 0, nil))

	arg, err := r.Decode(ShellToolName, map[string]any{"command": "pwd"})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if arg != "pwd" {
		t.Errorf("expected pwd, got %q", arg)
	}

	_, err = r.Decode(ShellToolName, map[string]any{})
	if err == nil || !strings.Contains(err.Error(), "schema validation") {
		t.Errorf("expected schema validation error, got %v", err)
	}

	_, err = r.Decode(ShellToolName, map[string]any{"command": 42})
	if err == nil {
		t.Error("expected error for non-string command")
	}

	if _, err := r.Decode("nope", nil); err == nil {
		t.Error("expected error for unknown tool")
	}
}

func TestUnknownTool(t *testing.T) {
	obs := UnknownTool("teleport")
	if !obs.Failed() || obs.Text != "Unknown tool: teleport" {
		t.Errorf("unexpected observation %+v", obs)
	}
}
