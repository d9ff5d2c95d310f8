package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/klubi/reagent/internal/apiserver"
	"github.com/klubi/reagent/internal/config"
	"github.com/klubi/reagent/internal/store"
	v1 "github.com/klubi/reagent/pkg/apis/v1"
)

func init() {
	color.NoColor = true
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func newTestServer(t *testing.T) string {
	t.Helper()
	runs := store.NewRuns(store.NewMemoryStore())
	srv := apiserver.NewServer("127.0.0.1:0", runs, nil, zap.NewNop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		runs.Store().Close()
	})
	return ts.URL
}

func TestRootWithoutQuery(t *testing.T) {
	out, err := execute(t)
	if !errors.Is(err, errUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
	if !strings.Contains(out, "Usage:") {
		t.Errorf("expected usage text, got %q", out)
	}
}

func TestRunLifecycleCommands(t *testing.T) {
	url := newTestServer(t)
	manifest := filepath.Join(t.TempDir(), "runs.yaml")
	err := os.WriteFile(manifest, []byte(`
kind: Run
metadata:
  name: disk
spec:
  query: "How much space is left on /?"
---
kind: Run
metadata:
  name: load
spec:
  query: "What is the load average?"
  maxSteps: 3
`), 0644)
	if err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "apply", "-f", manifest, "--server", url)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !strings.Contains(out, "run/disk created") || !strings.Contains(out, "run/load created") {
		t.Errorf("unexpected apply output:\n%s", out)
	}

	out, err = execute(t, "get", "runs", "--server", url)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !strings.Contains(out, "NAME") || !strings.Contains(out, "disk") || !strings.Contains(out, "Pending") {
		t.Errorf("unexpected table:\n%s", out)
	}

	out, err = execute(t, "get", "runs", "-o", "json", "--server", url)
	if err != nil {
		t.Fatalf("get -o json: %v", err)
	}
	var listed []v1.Run
	if err := json.Unmarshal([]byte(out), &listed); err != nil {
		t.Fatalf("decoding json output: %v\n%s", err, out)
	}
	if len(listed) != 2 {
		t.Errorf("expected 2 runs, got %d", len(listed))
	}

	out, err = execute(t, "describe", "run", "load", "--server", url)
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	for _, want := range []string{"What is the load average?", "Max Steps:", "3", "Pending"} {
		if !strings.Contains(out, want) {
			t.Errorf("describe output missing %q:\n%s", want, out)
		}
	}

	if _, err := execute(t, "delete", "runs", "disk", "load", "--server", url); err != nil {
		t.Fatalf("delete: %v", err)
	}
	out, err = execute(t, "get", "runs", "--server", url)
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if !strings.Contains(out, "No runs found.") {
		t.Errorf("expected empty list, got:\n%s", out)
	}
}

func TestGetUnknownResource(t *testing.T) {
	url := newTestServer(t)
	if _, err := execute(t, "get", "pods", "--server", url); err == nil {
		t.Error("expected unknown resource type error")
	}
	if _, err := execute(t, "get", "runs", "-o", "xml", "--server", url); err == nil {
		t.Error("expected unknown output format error")
	}
}

func TestDescribeMissingRun(t *testing.T) {
	url := newTestServer(t)
	if _, err := execute(t, "describe", "run", "nope", "--server", url); err == nil {
		t.Error("expected not found error")
	}
}

func TestInitWritesTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	if _, err := execute(t, "init", path); err != nil {
		t.Fatalf("init: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("template does not load: %v", err)
	}
	if cfg.Agent.MaxSteps != 10 {
		t.Errorf("unexpected maxSteps %d", cfg.Agent.MaxSteps)
	}

	if _, err := execute(t, "init", path); err == nil {
		t.Error("expected error for existing file")
	}
	if _, err := execute(t, "init", path, "--force"); err != nil {
		t.Errorf("--force: %v", err)
	}
}

func TestAskFlagsOverlay(t *testing.T) {
	o := newAskOptions()
	cmd := &cobra.Command{Use: "ask"}
	o.bind(cmd)
	err := cmd.ParseFlags([]string{
		"--backend", "claude-cli",
		"--model", "sonnet",
		"--max-steps", "4",
		"--grammar", "pipe",
		"--plan",
		"--no-verify",
	})
	if err != nil {
		t.Fatal(err)
	}

	cfg := config.DefaultConfig()
	o.apply(cmd, cfg)

	if cfg.Backend.Provider != config.ProviderClaudeCLI || cfg.Backend.Model != "sonnet" {
		t.Errorf("unexpected backend %+v", cfg.Backend)
	}
	if cfg.Agent.MaxSteps != 4 || cfg.Agent.Grammar != "pipe" {
		t.Errorf("unexpected agent %+v", cfg.Agent)
	}
	if !cfg.Agent.Planning || cfg.Agent.Verify || !cfg.Agent.Safety {
		t.Errorf("unexpected toggles %+v", cfg.Agent)
	}
	if cfg.Agent.Mode != config.ModeText {
		t.Errorf("unchanged flags must keep config values, got mode %q", cfg.Agent.Mode)
	}
}

func TestAskRejectsInvalidConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(config.Template), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := execute(t, "ask", "--config", configPath, "--mode", "native", "--backend", "claude-cli", "what time is it")
	if !errors.Is(err, config.ErrInvalid) {
		t.Errorf("expected invalid configuration, got %v", err)
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		lc      config.LogConfig
		want    zapcore.Level
		wantErr bool
	}{
		{config.LogConfig{}, zapcore.WarnLevel, false},
		{config.LogConfig{Level: "debug"}, zapcore.DebugLevel, false},
		{config.LogConfig{Level: "error", Format: "json"}, zapcore.ErrorLevel, false},
		{config.LogConfig{Level: "loud"}, 0, true},
		{config.LogConfig{Format: "xml"}, 0, true},
	}
	for _, tc := range tests {
		logger, err := newLogger(tc.lc, zapcore.WarnLevel)
		if tc.wantErr {
			if !errors.Is(err, config.ErrInvalid) {
				t.Errorf("%+v: expected ErrInvalid, got %v", tc.lc, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%+v: %v", tc.lc, err)
			continue
		}
		if !logger.Core().Enabled(tc.want) || (tc.want > zapcore.DebugLevel && logger.Core().Enabled(tc.want-1)) {
			t.Errorf("%+v: expected level %s", tc.lc, tc.want)
		}
	}
}

func TestPrintEvent(t *testing.T) {
	var buf bytes.Buffer
	printEvent(&buf, v1.EventRecord{Kind: "step", Text: "step 1 of 3"})
	printEvent(&buf, v1.EventRecord{Kind: "action", Tool: "run_shell_command", Argument: "uptime"})
	printEvent(&buf, v1.EventRecord{Kind: "observation", Outcome: "success", Text: "up 3 days,\n load 0.1"})

	out := buf.String()
	for _, want := range []string{"── step 1 of 3", "run_shell_command: uptime", "(success) up 3 days, load 0.1"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestOneLine(t *testing.T) {
	if got := oneLine("a\n b", 10); got != "a b" {
		t.Errorf("got %q", got)
	}
	if got := oneLine(strings.Repeat("x", 20), 10); got != "xxxxxxx..." {
		t.Errorf("got %q", got)
	}
}
