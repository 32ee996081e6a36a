package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/ericfisherdev/shipit/internal/domain/model"
)

// Handle processes one inbound event. Failures already reported on the pull
// request return nil; the returned error is for the process boundary.
func (e *Engine) Handle(ctx context.Context, ev model.Event) error {
	e.logger.Debug("handling event", "kind", ev.Kind, "issue", ev.IssueNumber, "actor", ev.Actor)

	switch ev.Kind {
	case model.EventCommentCreated:
		return e.handleComment(ctx, ev)
	case model.EventPullRequestOpened:
		pr, err := e.eventPullRequest(ctx, ev)
		if err != nil {
			return err
		}
		return e.setQAStatus(ctx, pr, model.CommitStatePending, "Waiting for QA", "")
	case model.EventPullRequestSynchronized:
		return e.handleSynchronize(ctx, ev)
	case model.EventPullRequestClosed:
		return e.handleClosed(ctx, ev)
	case model.EventPush:
		return e.handlePush(ctx, ev)
	default:
		e.logger.Debug("ignoring event", "kind", ev.Kind)
		return nil
	}
}

func (e *Engine) eventPullRequest(ctx context.Context, ev model.Event) (*model.PullRequest, error) {
	if ev.PullRequest != nil {
		return ev.PullRequest, nil
	}
	pr, err := e.gh.GetPullRequest(ctx, ev.IssueNumber)
	if err != nil {
		return nil, fmt.Errorf("fetching pull request #%d: %w", ev.IssueNumber, err)
	}
	return pr, nil
}

func (e *Engine) handleComment(ctx context.Context, ev model.Event) error {
	if ev.Comment == nil {
		return nil
	}
	cmd := model.ParseCommand(ev.Comment.Body)
	if cmd == nil {
		e.logger.Debug("comment contains no command", "comment_id", ev.Comment.ID)
		return nil
	}
	if !ev.IsPullRequest {
		e.logger.Debug("no pull request associated with comment", "issue", ev.IssueNumber, "command", cmd.Name())
		return nil
	}

	if unknown, ok := cmd.(model.UnknownCommand); ok {
		e.logger.Warn("unknown command", "command", unknown.Command, "error", model.ErrCommandNotRecognized)
		return e.gh.CreateCommentReaction(ctx, ev.Comment.ID, model.ReactionConfused)
	}
	if err := e.gh.CreateCommentReaction(ctx, ev.Comment.ID, model.ReactionRocket); err != nil {
		e.logger.Warn("failed to react to command", "comment_id", ev.Comment.ID, "error", err)
	}

	pr, err := e.gh.GetPullRequest(ctx, ev.IssueNumber)
	if err != nil {
		return fmt.Errorf("fetching pull request #%d: %w", ev.IssueNumber, err)
	}
	return e.Execute(ctx, pr, ev.Actor, cmd)
}

// Execute runs a recognized command on behalf of actor.
func (e *Engine) Execute(ctx context.Context, pr *model.PullRequest, actor string, cmd model.Command) error {
	e.logger.Info("executing command", "command", cmd.Name(), "pr", pr.Number, "actor", actor)

	switch c := cmd.(type) {
	case model.QACommand:
		return e.deploy(ctx, pr, actor, deployPlan{
			command:     c.Name(),
			environment: e.cfg.PreProductionEnvironment,
			qa:          true,
			sync:        true,
			release:     true,
			payloadPR:   pr.Number,
		})
	case model.SkipQACommand:
		return errors.Join(
			e.setQAStatus(ctx, pr, model.CommitStateSuccess, "QA skipped", ""),
			e.comment(ctx, pr.Number, "Skipping QA 🤠"),
		)
	case model.PassedQACommand:
		return e.passQA(ctx, pr, actor)
	case model.FailedQACommand:
		return errors.Join(
			e.setQAStatus(ctx, pr, model.CommitStateFailure, "QA failed", ""),
			e.comment(ctx, pr.Number, "❌ "+Mention(actor)+"QA failed"),
		)
	case model.DeployCommand:
		env := c.Environment
		if env == "" {
			env = e.cfg.PreProductionEnvironment
		}
		return e.deploy(ctx, pr, actor, deployPlan{
			command:     c.Name(),
			environment: env,
			sync:        c.Version == "",
			ref:         c.Version,
			version:     c.Version,
			release:     c.Version == "",
			payloadPR:   pr.Number,
		})
	case model.VerifyCommand:
		env := c.Environment
		if env == "" {
			env = e.cfg.PreProductionEnvironment
		}
		return e.verify(ctx, pr, actor, env)
	case model.RollbackCommand:
		return e.manualRollback(ctx, pr, actor)
	case model.UnknownCommand:
		return fmt.Errorf("%s: %w", c.Command, model.ErrCommandNotRecognized)
	default:
		panic(fmt.Sprintf("unhandled command type %T", cmd))
	}
}

func (e *Engine) passQA(ctx context.Context, pr *model.PullRequest, actor string) error {
	deployed, err := e.registry.PullRequestHasBeenDeployed(ctx, e.cfg.PreProductionEnvironment, pr.Number)
	if err != nil {
		return err
	}
	if !deployed {
		return e.comment(ctx, pr.Number, fmt.Sprintf("💥 %s#%d has not been deployed to %s yet. Comment %s first.",
			Mention(actor), pr.Number, Code(e.cfg.PreProductionEnvironment), Code("/qa")))
	}
	return errors.Join(
		e.setQAStatus(ctx, pr, model.CommitStateSuccess, "QA passed", ""),
		e.comment(ctx, pr.Number, "✅ "+Mention(actor)+"QA passed"),
	)
}

// verify re-runs the Verify stage against whatever is deployed to
// environment. It reports only and leaves deployment statuses untouched.
func (e *Engine) verify(ctx context.Context, pr *model.PullRequest, actor, environment string) error {
	current, err := e.registry.FindCurrentDeployment(ctx, environment)
	if err != nil {
		return err
	}
	if current == nil {
		return e.comment(ctx, pr.Number, fmt.Sprintf("💥 %sNothing has been deployed to %s.", Mention(actor), Code(environment)))
	}

	rc := e.startRun(ctx, pr, actor, model.VerifyCommand{}.Name(), environment)
	rc.run.DeploymentID = current.ID
	version := current.Payload.Version
	if version == "" {
		version = current.SHA
	}
	if err := rc.rep.Append(ctx, fmt.Sprintf("🔎 Verifying %s on %s", Code(version), Code(environment))); err != nil {
		rc.finish(ctx, model.RunStateFailed, err.Error())
		return err
	}

	ok, err := rc.runStage(ctx, StageVerify, e.cfg.VerifyCommand, model.RunStateVerifying, e.stageEnv(environment, version, ""))
	switch {
	case err != nil:
		rc.finish(ctx, model.RunStateFailed, err.Error())
		return err
	case !ok:
		rc.finish(ctx, model.RunStateFailed, "verification failed")
	default:
		rc.finish(ctx, model.RunStateSucceeded, "verified "+version+" on "+environment)
	}
	return nil
}

// manualRollback restores production to the deployment before the current one.
func (e *Engine) manualRollback(ctx context.Context, pr *model.PullRequest, actor string) error {
	env := e.cfg.ProductionEnvironment
	rc := e.startRun(ctx, pr, actor, model.RollbackCommand{}.Name(), env)

	current, err := e.registry.FindCurrentDeployment(ctx, env)
	if err != nil {
		rc.finish(ctx, model.RunStateFailed, err.Error())
		return err
	}
	previous, err := e.registry.FindPreviousDeployment(ctx, env)
	if err != nil {
		rc.finish(ctx, model.RunStateFailed, err.Error())
		return err
	}
	if current == nil || previous == nil {
		err := rc.rep.Append(ctx, fmt.Sprintf("💥 %sRollback was not possible: %s has no previous deployment.",
			Mention(actor), Code(env)))
		rc.finish(ctx, model.RunStateFailed, "no previous deployment")
		return err
	}

	restored, err := e.restore(ctx, rc, previous, current.Payload.PR)
	switch {
	case restored:
		rc.finish(ctx, model.RunStateRolledBack, "rolled back to "+previous.Payload.Version)
	default:
		rc.finish(ctx, model.RunStateFailed, "rollback failed")
	}
	return err
}
