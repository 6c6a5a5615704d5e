package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	bpErrors "github.com/jgarizk/brainpro/internal/errors"
	toolcore "github.com/jgarizk/brainpro/internal/tool"

	"github.com/google/shlex"
)

// ShellNone runs commands without a shell, splitting them with shell quoting
// rules instead.
const ShellNone = "none"

const killGrace = 500 * time.Millisecond

func init() {
	toolcore.RegisterBuiltin("Bash", func(options toolcore.BuiltinOptions) (toolcore.Tool, error) {
		return &BashTool{
			Timeout:        options.BashTimeout,
			MaxOutputBytes: options.BashMaxOutputBytes,
			Shell:          options.BashShell,
		}, nil
	})
}

// BashTool runs one command line to completion in the turn's working
// directory. Output is stdout and stderr combined, capped at MaxOutputBytes.
type BashTool struct {
	Timeout        time.Duration
	MaxOutputBytes int
	Shell          string
}

type bashInput struct {
	Command   string `json:"command"`
	TimeoutMs int    `json:"timeout_ms"`
}

func (t *BashTool) Name() string {
	return "Bash"
}

func (t *BashTool) Description() string {
	return "Run a shell command in the working directory and return its combined output and exit code."
}

func (t *BashTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "Command line to run",
			},
			"timeout_ms": map[string]interface{}{
				"type":        "integer",
				"description": "Optional timeout in milliseconds, capped at the configured limit",
			},
		},
		"required": []string{"command"},
	}
}

func (t *BashTool) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var args bashInput
	if err := toolcore.DecodeInput(input, &args); err != nil {
		return nil, bpErrors.InvalidInput(err.Error())
	}
	command := strings.TrimSpace(args.Command)
	if command == "" {
		return nil, bpErrors.InvalidInput("command is required")
	}

	timeout := t.Timeout
	if args.TimeoutMs > 0 {
		requested := time.Duration(args.TimeoutMs) * time.Millisecond
		if timeout <= 0 || requested < timeout {
			timeout = requested
		}
	}
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd, err := t.command(runCtx, command)
	if err != nil {
		return nil, err
	}
	cmd.Dir = toolcore.WorkingDir(ctx)
	// Background children can hold the output pipe open after a kill.
	cmd.WaitDelay = killGrace

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	runErr := cmd.Run()
	output, truncated := truncateOutput(buf.String(), t.MaxOutputBytes)

	result := map[string]interface{}{
		"output":    output,
		"exit_code": 0,
	}
	if truncated {
		result["truncated"] = true
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			result["exit_code"] = -1
			result["error"] = errorObject("timeout", fmt.Sprintf("command timed out after %s", timeout))
		case errors.As(runErr, &exitErr):
			result["exit_code"] = exitErr.ExitCode()
			result["error"] = errorObject("exit_status", fmt.Sprintf("command exited with status %d", exitErr.ExitCode()))
		default:
			result["exit_code"] = -1
			result["error"] = errorObject("exec_failed", runErr.Error())
		}
	}

	return json.Marshal(result)
}

func (t *BashTool) command(ctx context.Context, command string) (*exec.Cmd, error) {
	shell := strings.TrimSpace(t.Shell)
	if shell != ShellNone {
		if shell == "" {
			shell = "/bin/sh"
		}
		return exec.CommandContext(ctx, shell, "-c", command), nil
	}

	parts, err := shlex.Split(command)
	if err != nil {
		return nil, bpErrors.InvalidInput(fmt.Sprintf("parse command: %v", err))
	}
	if len(parts) == 0 {
		return nil, bpErrors.InvalidInput("command is required")
	}
	return exec.CommandContext(ctx, parts[0], parts[1:]...), nil
}

func truncateOutput(s string, limit int) (string, bool) {
	if limit <= 0 || len(s) <= limit {
		return s, false
	}
	cut := s[:limit]
	for i := 0; i < utf8.UTFMax && !utf8.ValidString(cut); i++ {
		cut = cut[:len(cut)-1]
	}
	return cut + "\n[output truncated]", true
}

func errorObject(code, message string) map[string]string {
	return map[string]string{"code": code, "message": message}
}
