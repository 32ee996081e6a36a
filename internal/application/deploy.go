package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/ericfisherdev/shipit/internal/domain/model"
)

// deployPlan describes one pass through the deployment state machine.
type deployPlan struct {
	command     string
	environment string
	// qa marks a QA deployment of the pull request: RELEASE_BRANCH is set and
	// the outcome is reflected in the QA commit status.
	qa bool
	// sync rebases the pull request onto its base and deploys the result.
	// Otherwise ref is checked out.
	sync bool
	ref  string
	// version overrides the short sha as VERSION and in the payload.
	version       string
	release       bool
	payloadPR     int
	skipOccupancy bool
}

// deploy runs plan for pr and reports on pr's tracking comment. Failures that
// were reported on the comment return nil.
func (e *Engine) deploy(ctx context.Context, pr *model.PullRequest, actor string, plan deployPlan) error {
	rc := e.startRun(ctx, pr, actor, plan.command, plan.environment)

	if !plan.skipOccupancy {
		ok, occupant, err := e.registry.EnvironmentIsAvailable(ctx, plan.environment, pr.Number)
		if err != nil {
			rc.finish(ctx, model.RunStateFailed, err.Error())
			return err
		}
		if !ok {
			occupied := &model.EnvironmentOccupiedError{Environment: plan.environment, PR: occupant}
			err := rc.rep.Append(ctx, fmt.Sprintf("🚧 %s%s is currently occupied by #%d. Merge or close it, then try again.",
				Mention(actor), Code(plan.environment), occupant))
			rc.finish(ctx, model.RunStateFailed, occupied.Error())
			return err
		}
	}

	rc.transition(ctx, model.RunStateSyncing)
	if err := rc.rep.Ephemeral(ctx, "⏳ Preparing "+plan.describe(pr)); err != nil {
		rc.finish(ctx, model.RunStateFailed, err.Error())
		return err
	}

	buf := model.NewOutputBuffer()
	var out string
	var err error
	if plan.sync {
		out, err = e.sync.Update(ctx, pr, buf)
	} else {
		out, err = e.sync.CheckoutRef(ctx, plan.ref, buf)
	}
	if err != nil {
		var conflict *model.SyncConflictError
		var cmdErr *model.ShellCommandError
		switch {
		case errors.As(err, &conflict):
			lines := withLog(fmt.Sprintf("💥 %sCould not rebase or merge %s into %s. Resolve the conflicts and retry.",
				Mention(actor), Code(conflict.Base), Code(conflict.Head)), out)
			appendErr := rc.rep.Append(ctx, lines...)
			rc.finish(ctx, model.RunStateFailed, conflict.Error())
			if plan.qa {
				return errors.Join(appendErr, e.setQAStatus(ctx, pr, model.CommitStateFailure, "Merge conflict", rc.rep.URL()))
			}
			return appendErr
		case errors.As(err, &cmdErr):
			appendErr := rc.rep.Append(ctx, withLog(fmt.Sprintf("💥 %sCould not check out %s: %s",
				Mention(actor), Code(plan.ref), Code(cmdErr.Error())), cmdErr.Output)...)
			rc.finish(ctx, model.RunStateFailed, err.Error())
			return appendErr
		default:
			rc.finish(ctx, model.RunStateFailed, err.Error())
			return err
		}
	}

	sha, err := e.sync.HeadSHA(ctx)
	if err != nil {
		rc.finish(ctx, model.RunStateFailed, err.Error())
		return err
	}
	if plan.sync {
		synced := *pr
		synced.HeadSHA = sha
		rc.pr = &synced
	}
	version := plan.version
	if version == "" {
		if version, err = e.sync.ShortSHA(ctx, sha); err != nil {
			rc.finish(ctx, model.RunStateFailed, err.Error())
			return err
		}
	}

	rc.transition(ctx, model.RunStateRecordingDeployment)
	d, err := e.registry.CreateDeployment(ctx, sha, plan.environment, model.DeploymentPayload{PR: plan.payloadPR, Version: version})
	if err != nil {
		_ = rc.fail(ctx, "Could not record the deployment", err)
		return err
	}
	rc.run.DeploymentID = d.ID
	if err := e.registry.SetDeploymentStatus(ctx, d.ID, model.DeploymentStateInProgress, rc.rep.URL()); err != nil {
		_ = rc.fail(ctx, "Could not record the deployment", err)
		return e.abandon(ctx, d, rc.rep.URL(), err)
	}

	if err := rc.rep.Append(ctx, fmt.Sprintf("📦 Deploying %s to %s", Code(version), Code(plan.environment))); err != nil {
		rc.finish(ctx, model.RunStateFailed, err.Error())
		return e.abandon(ctx, d, rc.rep.URL(), err)
	}

	releaseBranch := ""
	if plan.qa {
		releaseBranch = pr.Branch
	}
	env := e.stageEnv(plan.environment, version, releaseBranch)

	stages := []struct {
		name    string
		command string
		state   model.RunState
		skip    bool
	}{
		{StageSetup, e.cfg.SetupCommand, model.RunStateSetup, false},
		{StageRelease, e.cfg.ReleaseCommand, model.RunStateReleasing, !plan.release},
		{StageDeploy, e.cfg.DeployCommand, model.RunStateDeploying, false},
		{StageVerify, e.cfg.VerifyCommand, model.RunStateVerifying, false},
	}
	for _, s := range stages {
		if s.skip {
			continue
		}
		ok, err := rc.runStage(ctx, s.name, s.command, s.state, env)
		if err != nil {
			rc.finish(ctx, model.RunStateFailed, err.Error())
			return e.abandon(ctx, d, rc.rep.URL(), err)
		}
		if ok {
			continue
		}

		final := model.RunStateFailed
		if s.name == StageVerify && plan.environment == e.cfg.ProductionEnvironment {
			rolledBack, err := e.rollback(ctx, rc, pr.Number)
			if err != nil {
				rc.finish(ctx, model.RunStateFailed, err.Error())
				return e.abandon(ctx, d, rc.rep.URL(), err)
			}
			if rolledBack {
				final = model.RunStateRolledBack
			}
		}
		return e.finishFailed(ctx, rc, d, plan, s.name, final)
	}

	return e.finishSucceeded(ctx, rc, d, plan, version)
}

func (e *Engine) finishFailed(ctx context.Context, rc *runContext, d *model.Deployment, plan deployPlan, stage string, final model.RunState) error {
	err := errors.Join(
		e.registry.SetDeploymentStatus(ctx, d.ID, model.DeploymentStateError, rc.rep.URL()),
		e.setQAStatus(ctx, rc.pr, model.CommitStateFailure, stage+" failed in "+plan.environment, rc.rep.URL()),
	)
	rc.finish(ctx, final, stage+" failed")
	return err
}

func (e *Engine) finishSucceeded(ctx context.Context, rc *runContext, d *model.Deployment, plan deployPlan, version string) error {
	var err error
	if plan.qa {
		err = errors.Join(
			e.registry.SetDeploymentStatus(ctx, d.ID, model.DeploymentStateSuccess, rc.rep.URL()),
			rc.rep.Append(ctx, fmt.Sprintf("✅ %s%s is ready for QA on %s. Comment %s or %s when done.",
				Mention(rc.actor), Code(version), Code(plan.environment), Code("/passed-qa"), Code("/failed-qa"))),
			e.setQAStatus(ctx, rc.pr, model.CommitStatePending, "Ready for QA on "+plan.environment, rc.rep.URL()),
			e.notifyFirstDeployer(ctx, rc, d),
		)
	} else {
		err = errors.Join(
			e.registry.SetDeploymentStatus(ctx, d.ID, model.DeploymentStateSuccess, rc.rep.URL()),
			rc.rep.Append(ctx, fmt.Sprintf("🚀 %sDeployed %s to %s", Mention(rc.actor), Code(version), Code(plan.environment))),
		)
	}
	rc.finish(ctx, model.RunStateSucceeded, "deployed "+version+" to "+plan.environment)
	return err
}

// notifyFirstDeployer cross-links the pull request that first deployed the
// same release to this environment, if it was a different one.
func (e *Engine) notifyFirstDeployer(ctx context.Context, rc *runContext, d *model.Deployment) error {
	first, err := e.registry.FindFirstDeploymentForRelease(ctx, d.Environment, d.SHA)
	if err != nil {
		return err
	}
	if first == nil || !first.Payload.HasPullRequest() || first.Payload.PR == rc.pr.Number {
		return nil
	}
	return e.comment(ctx, first.Payload.PR, fmt.Sprintf("ℹ️ The release %s first deployed to %s from this pull request was deployed again from #%d: %s",
		Code(first.Payload.Version), Code(d.Environment), rc.pr.Number, rc.rep.URL()))
}

// rollback redeploys the previous production deployment after the latest
// one failed. It reports whether production was restored.
func (e *Engine) rollback(ctx context.Context, rc *runContext, failedPR int) (bool, error) {
	env := e.cfg.ProductionEnvironment
	previous, err := e.registry.FindPreviousDeployment(ctx, env)
	if err != nil {
		return false, err
	}
	if previous == nil {
		return false, rc.rep.Append(ctx, fmt.Sprintf("💥 %sRollback was not possible: %s has no previous deployment.",
			Mention(rc.actor), Code(env)))
	}
	return e.restore(ctx, rc, previous, failedPR)
}

// restore checks out a previous deployment and runs Deploy and Verify for it
// under a new deployment record.
func (e *Engine) restore(ctx context.Context, rc *runContext, previous *model.Deployment, failedPR int) (bool, error) {
	env := previous.Environment
	version := previous.Payload.Version
	if version == "" {
		version = previous.SHA
	}
	if err := rc.rep.Append(ctx, fmt.Sprintf("⏪ Rolling %s back to %s", Code(env), Code(version))); err != nil {
		return false, err
	}

	ref := previous.SHA
	if ref == "" {
		ref = previous.Ref
	}
	out, err := e.sync.CheckoutRef(ctx, ref, nil)
	if err != nil {
		var cmdErr *model.ShellCommandError
		if !errors.As(err, &cmdErr) {
			return false, err
		}
		return false, rc.rep.Append(ctx, withLog("💥 "+Mention(rc.actor)+"Rollback failed: could not check out "+Code(ref), out)...)
	}

	d, err := e.registry.CreateDeployment(ctx, ref, env, previous.Payload)
	if err != nil {
		return false, err
	}
	if err := e.registry.SetDeploymentStatus(ctx, d.ID, model.DeploymentStateInProgress, rc.rep.URL()); err != nil {
		return false, e.abandon(ctx, d, rc.rep.URL(), err)
	}

	stageEnv := e.stageEnv(env, version, "")
	for _, s := range []struct {
		name, command string
		state         model.RunState
	}{
		{StageDeploy, e.cfg.DeployCommand, model.RunStateDeploying},
		{StageVerify, e.cfg.VerifyCommand, model.RunStateVerifying},
	} {
		ok, err := rc.runStage(ctx, s.name, s.command, s.state, stageEnv)
		if err != nil {
			return false, e.abandon(ctx, d, rc.rep.URL(), err)
		}
		if !ok {
			return false, errors.Join(
				e.registry.SetDeploymentStatus(ctx, d.ID, model.DeploymentStateError, rc.rep.URL()),
				rc.rep.Append(ctx, "💥 "+Mention(rc.actor)+"Rollback of "+Code(env)+" failed"),
			)
		}
	}

	err = errors.Join(
		e.registry.SetDeploymentStatus(ctx, d.ID, model.DeploymentStateSuccess, rc.rep.URL()),
		rc.rep.Append(ctx, fmt.Sprintf("⏪ Rolled %s back to %s", Code(env), Code(version))),
	)
	if previous.Payload.HasPullRequest() && previous.Payload.PR != failedPR {
		err = errors.Join(err, e.comment(ctx, previous.Payload.PR, fmt.Sprintf(
			"⏪ %s was rolled back to %s from this pull request after a failed deployment from #%d: %s",
			Code(env), Code(version), failedPR, rc.rep.URL())))
	}
	return true, err
}

// abandon marks a recorded deployment as error after the run stopped early
// and joins any failure to do so into err. The status is written even when
// ctx was cancelled, so the record never stays in_progress.
func (e *Engine) abandon(ctx context.Context, d *model.Deployment, logURL string, err error) error {
	statusErr := e.registry.SetDeploymentStatus(context.WithoutCancel(ctx), d.ID, model.DeploymentStateError, logURL)
	if errors.Is(statusErr, model.ErrDeploymentFinalized) {
		statusErr = nil
	}
	return errors.Join(err, statusErr)
}

func (p deployPlan) describe(pr *model.PullRequest) string {
	if p.sync {
		return fmt.Sprintf("%s for %s", Code(pr.Branch), Code(p.environment))
	}
	return fmt.Sprintf("%s for %s", Code(p.ref), Code(p.environment))
}
