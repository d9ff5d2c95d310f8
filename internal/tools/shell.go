package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// ShellToolName is the action name the model uses for shell commands.
	ShellToolName = "run_shell_command"

	// DefaultCommandTimeout is the ceiling for one command.
	DefaultCommandTimeout = 30 * time.Second

	// TimeoutMessage is reported when a command exceeds its ceiling.
	TimeoutMessage = "action execution failed with timeout"

	defaultShell = "/bin/sh"
)

// ShellTool runs its argument through the host command interpreter.
// Commands run with the privileges of the current process.
type ShellTool struct {
	shell   string
	timeout time.Duration
	dir     string
	logger  *zap.Logger
}

// NewShellTool creates a ShellTool. An empty shell defaults to /bin/sh and a
// non-positive timeout to DefaultCommandTimeout.
func NewShellTool(shell string, timeout time.Duration, logger *zap.Logger) *ShellTool {
	if shell == "" {
		shell = defaultShell
	}
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ShellTool{shell: shell, timeout: timeout, logger: logger}
}

// WithDir sets the working directory commands run in.
func (s *ShellTool) WithDir(dir string) *ShellTool {
	s.dir = dir
	return s
}

func (s *ShellTool) Name() string { return ShellToolName }

func (s *ShellTool) Description() string {
	return "Execute a shell command and return its output."
}

func (s *ShellTool) Gated() bool { return true }

func (s *ShellTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The shell command to execute.",
			},
		},
		"required": []string{"command"},
	}
}

func (s *ShellTool) Argument(args map[string]any) (string, error) {
	cmd, ok := args["command"].(string)
	if !ok {
		return "", fmt.Errorf("%s requires a string \"command\" argument", ShellToolName)
	}
	return cmd, nil
}

// Execute runs command under the tool's timeout. On expiry the whole process
// group is killed before Execute returns.
func (s *ShellTool) Execute(ctx context.Context, command string) Observation {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.shell, "-c", command)
	cmd.Dir = s.dir
	killProcessGroup(cmd)
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	s.logger.Debug("running shell command",
		zap.String("shell", s.shell),
		zap.String("command", command),
		zap.Duration("timeout", s.timeout),
	)

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		s.logger.Warn("shell command timed out",
			zap.String("command", command),
			zap.Duration("elapsed", elapsed),
		)
		return Failure(TimeoutMessage)
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			s.logger.Debug("shell command exited non-zero",
				zap.String("command", command),
				zap.Int("exitCode", exitErr.ExitCode()),
			)
			return Failure("Error: " + strings.TrimSpace(stderr.String()))
		}
		s.logger.Error("shell command could not run",
			zap.String("command", command),
			zap.Error(err),
		)
		return Failure("Exception: " + err.Error())
	}

	s.logger.Debug("shell command completed",
		zap.String("command", command),
		zap.Duration("elapsed", elapsed),
		zap.Int("stdoutLen", stdout.Len()),
	)
	return Success(strings.TrimSpace(stdout.String()))
}
