package driven

import (
	"context"
	"strings"

	"github.com/ericfisherdev/shipit/internal/domain/model"
)

// Script is an ordered list of command lines run in one shell session.
type Script struct {
	Commands []string
	// Env is merged over the process environment.
	Env map[string]string
	// Trace echoes each command before running it. Commands that are
	// themselves echo statements are not traced.
	Trace bool
	// Output, when set, receives every line as it is produced.
	Output *model.OutputBuffer
}

// ScriptRunner runs shell scripts. Run stops at the first failing command
// and returns a *model.ShellCommandError carrying the captured output.
type ScriptRunner interface {
	Run(ctx context.Context, script Script) (string, error)
	// Output runs a single command and returns its trimmed standard output.
	Output(ctx context.Context, command string) (string, error)
}

// QuoteArg returns s as a single-quoted shell word.
func QuoteArg(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
