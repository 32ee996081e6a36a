package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ericfisherdev/shipit/internal/domain/model"
	"github.com/ericfisherdev/shipit/internal/domain/port/driven"
)

const (
	botName  = "github-actions[bot]"
	botEmail = "41898282+github-actions[bot]@users.noreply.github.com"
)

// BranchSync brings a pull request's head branch up to date with its base.
// It rebases first and falls back to a merge; there is no third strategy.
type BranchSync struct {
	shell  driven.ScriptRunner
	logger *slog.Logger
}

// NewBranchSync creates a BranchSync that runs git through shell.
func NewBranchSync(shell driven.ScriptRunner, logger *slog.Logger) *BranchSync {
	return &BranchSync{shell: shell, logger: logger}
}

// Update rebases the head of pr onto its base and force-pushes it, refusing
// the push if the remote head moved since pr was read. When the rebase does
// not apply cleanly the branch is reset and base is merged in instead. If
// that fails too a *model.SyncConflictError is returned. Errors that are not
// command failures, such as a cancelled context, are returned unchanged.
func (b *BranchSync) Update(ctx context.Context, pr *model.PullRequest, out *model.OutputBuffer) (string, error) {
	head, base := pr.Branch, pr.BaseBranch

	output, err := b.shell.Run(ctx, driven.Script{
		Commands: b.rebaseCommands(pr),
		Env:      gitIdentity(false),
		Trace:    true,
		Output:   out,
	})
	if err == nil {
		return output, nil
	}
	var cmdErr *model.ShellCommandError
	if !errors.As(err, &cmdErr) {
		return output, err
	}

	b.logger.Warn("rebase failed, trying merge instead", "pr", pr.Number, "head", head, "base", base)
	mergeOutput, err := b.shell.Run(ctx, driven.Script{
		Commands: b.mergeCommands(pr),
		Env:      gitIdentity(true),
		Trace:    true,
		Output:   out,
	})
	output = joinOutput(output, mergeOutput)
	if err == nil {
		return output, nil
	}
	if !errors.As(err, &cmdErr) {
		return output, err
	}
	return output, &model.SyncConflictError{Head: head, Base: base, Err: err}
}

func (b *BranchSync) rebaseCommands(pr *model.PullRequest) []string {
	head, base := driven.QuoteArg(pr.Branch), driven.QuoteArg(pr.BaseBranch)
	lease := driven.QuoteArg(fmt.Sprintf("--force-with-lease=%s:%s", pr.Branch, pr.HeadSHA))
	return []string{
		`if [ "$(git rev-parse --is-shallow-repository)" = "true" ]; then git fetch --unshallow origin; fi`,
		"git fetch origin " + driven.QuoteArg("+refs/heads/"+pr.BaseBranch+":refs/remotes/origin/"+pr.BaseBranch),
		"git fetch origin " + driven.QuoteArg("+refs/heads/"+pr.Branch+":refs/remotes/origin/"+pr.Branch),
		"git checkout -B " + head + " " + driven.QuoteArg("origin/"+pr.Branch),
		"git pull --rebase origin " + base,
		"git push " + lease + " origin " + head,
	}
}

func (b *BranchSync) mergeCommands(pr *model.PullRequest) []string {
	return []string{
		"git rebase --abort || true",
		"git checkout -B " + driven.QuoteArg(pr.Branch) + " " + driven.QuoteArg(pr.HeadSHA),
		"git reset --hard " + driven.QuoteArg(pr.HeadSHA),
		"git pull --no-rebase --no-edit origin " + driven.QuoteArg(pr.BaseBranch),
		"git push origin " + driven.QuoteArg(pr.Branch),
	}
}

// CheckoutRef fetches ref from origin and checks it out detached.
func (b *BranchSync) CheckoutRef(ctx context.Context, ref string, out *model.OutputBuffer) (string, error) {
	output, err := b.shell.Run(ctx, driven.Script{
		Commands: []string{
			"git fetch origin " + driven.QuoteArg(ref),
			"git checkout --detach FETCH_HEAD",
		},
		Trace:  true,
		Output: out,
	})
	if err != nil {
		return output, fmt.Errorf("checking out %s: %w", ref, err)
	}
	return output, nil
}

// HeadSHA returns the full sha of the checked out commit.
func (b *BranchSync) HeadSHA(ctx context.Context) (string, error) {
	sha, err := b.shell.Output(ctx, "git rev-parse HEAD")
	if err != nil {
		return "", fmt.Errorf("reading HEAD: %w", err)
	}
	return sha, nil
}

// ShortSHA abbreviates rev the way git does.
func (b *BranchSync) ShortSHA(ctx context.Context, rev string) (string, error) {
	sha, err := b.shell.Output(ctx, "git rev-parse --short "+driven.QuoteArg(rev))
	if err != nil {
		return "", fmt.Errorf("abbreviating %s: %w", rev, err)
	}
	return sha, nil
}

// gitIdentity is the committer used for rewritten commits. A merge also
// authors a new commit.
func gitIdentity(author bool) map[string]string {
	env := map[string]string{
		"GIT_COMMITTER_NAME":  botName,
		"GIT_COMMITTER_EMAIL": botEmail,
	}
	if author {
		env["GIT_AUTHOR_NAME"] = botName
		env["GIT_AUTHOR_EMAIL"] = botEmail
	}
	return env
}

func joinOutput(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + "\n" + b
	}
}
