// Package hookexec implements the hooks.Action external collaborator
// (spec §4.7): each hook's `path` names an executable, `args` are passed
// as STACKCTL_ARG_* environment variables, and a JSON value printed on
// stdout (if any) becomes the hook's data_key result. Grounded on the
// teacher's internalexec.RunStreaming pattern
// (internal/plugins/internalexec/internalexec.go).
package hookexec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/stackctl/stackctl/internal/domain/stackset"
)

// Runner executes a hook as an OS process.
type Runner struct {
	ConfigDir string
	Stdout    io.Writer
	Stderr    io.Writer
}

// New returns a Runner resolving relative hook paths against configDir.
func New(configDir string) *Runner {
	return &Runner{ConfigDir: configDir, Stdout: os.Stdout, Stderr: os.Stderr}
}

// Run implements hooks.Action: executes hook.Path with hook.Args exposed
// as environment variables, and parses a trailing JSON line of stdout (if
// present) as the hook's data_key value.
func (r *Runner) Run(ctx context.Context, hook stackset.Hook, execCtx *stackset.ExecContext) (interface{}, error) {
	path := hook.Path
	if !isAbs(path) && r.ConfigDir != "" {
		path = r.ConfigDir + string(os.PathSeparator) + path
	}

	cmd := exec.CommandContext(ctx, path)
	cmd.Env = append(os.Environ(), envFor(hook, execCtx)...)

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = io.MultiWriter(r.Stdout, &stdoutBuf)
	cmd.Stderr = io.MultiWriter(r.Stderr, &stderrBuf)

	if err := cmd.Run(); err != nil {
		stderr := strings.TrimSpace(stderrBuf.String())
		if stderr == "" {
			stderr = err.Error()
		}
		return nil, &stackset.DomainError{
			Code:    stackset.ErrCodeHookFailed,
			Message: fmt.Sprintf("hook %q failed", hookLabel(hook)),
			Cause:   err,
			Context: map[string]interface{}{"stderr": stderr},
		}
	}

	out := strings.TrimSpace(stdoutBuf.String())
	if out == "" {
		return nil, nil
	}
	var value interface{}
	if err := json.Unmarshal([]byte(lastLine(out)), &value); err != nil {
		// Non-JSON stdout is not an error: a hook with no data_key prints
		// freely for human consumption.
		return nil, nil
	}
	return value, nil
}

func envFor(hook stackset.Hook, execCtx *stackset.ExecContext) []string {
	env := make([]string, 0, len(hook.Args)+1)
	if execCtx != nil {
		env = append(env, "STACKCTL_NAMESPACE="+execCtx.Namespace)
	}
	for k, v := range hook.Args {
		env = append(env, fmt.Sprintf("STACKCTL_ARG_%s=%v", strings.ToUpper(k), v))
	}
	return env
}

func lastLine(s string) string {
	lines := strings.Split(s, "\n")
	return lines[len(lines)-1]
}

func hookLabel(h stackset.Hook) string {
	if h.Name != "" {
		return h.Name
	}
	return h.Path
}

func isAbs(path string) bool {
	return strings.HasPrefix(path, "/") || strings.HasPrefix(path, string(os.PathSeparator))
}
