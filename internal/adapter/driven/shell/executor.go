// Package shell implements the ScriptRunner port by running bash.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ericfisherdev/shipit/internal/domain/model"
	"github.com/ericfisherdev/shipit/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ScriptRunner = (*Executor)(nil)

// waitDelay bounds how long output pipes are drained after a cancelled
// script is killed.
const waitDelay = 5 * time.Second

// Executor runs scripts with bash in a fixed working directory and mirrors
// their output to the console as it arrives.
type Executor struct {
	dir    string
	stdout io.Writer
	stderr io.Writer
	logger *slog.Logger
}

// NewExecutor creates an Executor. dir may be empty to use the process
// working directory. stdout and stderr receive live output.
func NewExecutor(dir string, stdout, stderr io.Writer, logger *slog.Logger) *Executor {
	return &Executor{
		dir:    dir,
		stdout: stdout,
		stderr: stderr,
		logger: logger,
	}
}

// Run executes the script with `bash -e`, so the first failing command ends
// it. Every line of stdout and stderr is written to the console and collected
// in arrival order; on success the collected lines are returned joined by
// newlines.
func (e *Executor) Run(ctx context.Context, s driven.Script) (string, error) {
	cmd := exec.CommandContext(ctx, "bash", "-e", "-c", buildScript(s.Commands, s.Trace))
	cmd.Dir = e.dir
	cmd.Env = mergeEnv(os.Environ(), s.Env)

	collected := model.NewOutputBuffer()
	var writeMu sync.Mutex
	emit := func(console io.Writer) func(string) {
		return func(line string) {
			writeMu.Lock()
			defer writeMu.Unlock()
			collected.Append(line)
			if s.Output != nil {
				s.Output.Append(line)
			}
			if console != nil {
				_, _ = fmt.Fprintln(console, line)
			}
		}
	}
	stdout := &lineWriter{emit: emit(e.stdout)}
	stderr := &lineWriter{emit: emit(e.stderr)}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("%w: starting bash: %v", model.ErrExec, err)
	}

	waitErr := cmd.Wait()
	stdout.flush()
	stderr.flush()
	output := collected.String()
	if waitErr == nil {
		return output, nil
	}

	if ctx.Err() != nil {
		return "", fmt.Errorf("script interrupted: %w", ctx.Err())
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		e.logger.Debug("script failed", "exit_code", exitErr.ExitCode(), "lines", collected.Len())
		return "", &model.ShellCommandError{ExitCode: exitErr.ExitCode(), Output: output}
	}

	return "", fmt.Errorf("%w: waiting for bash: %v", model.ErrExec, waitErr)
}

// Output runs a single command and returns its trimmed standard output.
// Standard error is forwarded to the console.
func (e *Executor) Output(ctx context.Context, command string) (string, error) {
	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	cmd.Dir = e.dir
	cmd.Env = mergeEnv(os.Environ(), nil)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if stderr.Len() > 0 && e.stderr != nil {
		_, _ = e.stderr.Write(stderr.Bytes())
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", &model.ShellCommandError{
				ExitCode: exitErr.ExitCode(),
				Output:   strings.Join([]string{stdout.String(), stderr.String()}, "\n"),
			}
		}
		return "", fmt.Errorf("%w: %s: %v", model.ErrExec, command, err)
	}

	return strings.TrimSpace(stdout.String()), nil
}

// buildScript joins commands into one script. With trace set, each command
// that is not already an echo is preceded by an echo of its quoted text.
func buildScript(commands []string, trace bool) string {
	lines := make([]string, 0, len(commands)*2)
	for _, c := range commands {
		if trace && !strings.HasPrefix(c, "echo") {
			lines = append(lines, "echo "+driven.QuoteArg(c))
		}
		lines = append(lines, c)
	}
	return strings.Join(lines, "\n")
}

// mergeEnv layers extra over base. Git prompts are always disabled so a
// missing credential fails the script instead of hanging it.
func mergeEnv(base []string, extra map[string]string) []string {
	env := make([]string, 0, len(base)+len(extra)+1)
	env = append(env, base...)
	env = append(env, "GIT_TERMINAL_PROMPT=0")

	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}

// lineWriter splits a byte stream into lines. Exec drives each stream from
// its own goroutine, so a lineWriter is never written concurrently.
type lineWriter struct {
	buf  []byte
	emit func(string)
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(string(w.buf[:i]))
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

// flush emits a trailing line that was not newline-terminated.
func (w *lineWriter) flush() {
	if len(w.buf) > 0 {
		w.emit(string(w.buf))
		w.buf = nil
	}
}
