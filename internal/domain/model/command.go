package model

import (
	"regexp"
	"strings"
)

var commandPattern = regexp.MustCompile(`(?m)^/([\w-]+)[ \t]*?(.*)?$`)

// Command is a chat command parsed from a comment. The set of variants is
// closed: only types in this file implement it.
type Command interface {
	Name() string
	isCommand()
}

// QACommand deploys the pull request to pre-production for QA.
type QACommand struct{}

// SkipQACommand marks QA as passed without deploying.
type SkipQACommand struct{}

// PassedQACommand marks a QA deployment as passed.
type PassedQACommand struct{}

// FailedQACommand marks a QA deployment as failed.
type FailedQACommand struct{}

// DeployCommand deploys to an arbitrary environment. Empty fields fall back
// to the pre-production environment and the pull request head.
type DeployCommand struct {
	Environment string
	Version     string
}

// VerifyCommand re-runs verification against an environment.
type VerifyCommand struct {
	Environment string
}

// RollbackCommand rolls production back to its previous deployment.
type RollbackCommand struct{}

// UnknownCommand is command-like input naming no known command.
type UnknownCommand struct {
	Command    string
	Parameters []string
}

func (QACommand) Name() string        { return "qa" }
func (SkipQACommand) Name() string    { return "skip-qa" }
func (PassedQACommand) Name() string  { return "passed-qa" }
func (FailedQACommand) Name() string  { return "failed-qa" }
func (DeployCommand) Name() string    { return "deploy" }
func (VerifyCommand) Name() string    { return "verify" }
func (RollbackCommand) Name() string  { return "rollback" }
func (c UnknownCommand) Name() string { return c.Command }
func (QACommand) isCommand()          {}
func (SkipQACommand) isCommand()      {}
func (PassedQACommand) isCommand()    {}
func (FailedQACommand) isCommand()    {}
func (DeployCommand) isCommand()      {}
func (VerifyCommand) isCommand()      {}
func (RollbackCommand) isCommand()    {}
func (UnknownCommand) isCommand()     {}

// ParseCommand extracts the command on the first line of body that starts
// with a slash. It returns nil when body contains no command at all.
// Parameters are the remainder of that line split on spaces.
func ParseCommand(body string) Command {
	m := commandPattern.FindStringSubmatch(strings.ReplaceAll(body, "\r\n", "\n"))
	if m == nil {
		return nil
	}
	name := m[1]
	var params []string
	for _, p := range strings.Split(strings.TrimSpace(m[2]), " ") {
		if p != "" {
			params = append(params, p)
		}
	}
	param := func(i int) string {
		if i < len(params) {
			return params[i]
		}
		return ""
	}

	switch name {
	case "qa":
		return QACommand{}
	case "skip-qa":
		return SkipQACommand{}
	case "passed-qa":
		return PassedQACommand{}
	case "failed-qa":
		return FailedQACommand{}
	case "deploy":
		return DeployCommand{Environment: param(0), Version: param(1)}
	case "verify":
		return VerifyCommand{Environment: param(0)}
	case "rollback":
		return RollbackCommand{}
	default:
		return UnknownCommand{Command: name, Parameters: params}
	}
}
