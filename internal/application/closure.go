package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/ericfisherdev/shipit/internal/domain/model"
)

func (e *Engine) handleClosed(ctx context.Context, ev model.Event) error {
	pr, err := e.eventPullRequest(ctx, ev)
	if err != nil {
		return err
	}
	if !pr.IsMerged() {
		return e.resetPreProduction(ctx, pr, ev.Actor)
	}

	return errors.Join(
		e.promote(ctx, pr, ev.Actor),
		e.invalidateOccupant(ctx, pr.BaseBranch, pr.Number,
			fmt.Sprintf("#%d was merged into %s", pr.Number, Code(pr.BaseBranch))),
	)
}

// promote deploys the pre-production release of a merged pull request to
// production, provided that release is what was merged and it passed.
func (e *Engine) promote(ctx context.Context, pr *model.PullRequest, actor string) error {
	preprod := e.cfg.PreProductionEnvironment
	current, err := e.registry.FindCurrentDeployment(ctx, preprod)
	if err != nil {
		return err
	}
	if current == nil || current.Payload.PR != pr.Number {
		e.logger.Info("merged pull request does not occupy pre-production, not promoting", "pr", pr.Number)
		return nil
	}
	if current.SHA != pr.HeadSHA {
		return e.comment(ctx, pr.Number, fmt.Sprintf(
			"⚠️ %sNot promoting to %s: %s on %s is not the merged head %s. Deploy it with %s.",
			Mention(actor), Code(e.cfg.ProductionEnvironment), Code(shortRef(current.SHA)), Code(preprod),
			Code(shortRef(pr.HeadSHA)), Code("/deploy "+e.cfg.ProductionEnvironment)))
	}

	status, err := e.registry.FindDeploymentStatus(ctx, current.ID)
	if err != nil {
		return err
	}
	if status == nil || status.State != model.DeploymentStateSuccess {
		state := "unknown"
		if status != nil {
			state = string(status.State)
		}
		return e.comment(ctx, pr.Number, fmt.Sprintf(
			"⚠️ %sNot promoting to %s: the %s deployment is %s.",
			Mention(actor), Code(e.cfg.ProductionEnvironment), Code(preprod), Code(state)))
	}

	return e.deploy(ctx, pr, actor, deployPlan{
		command:       "promote",
		environment:   e.cfg.ProductionEnvironment,
		ref:           current.SHA,
		version:       current.Payload.Version,
		payloadPR:     pr.Number,
		skipOccupancy: true,
	})
}

// resetPreProduction returns pre-production to the production release when
// the pull request occupying it is closed without merging.
func (e *Engine) resetPreProduction(ctx context.Context, pr *model.PullRequest, actor string) error {
	preprod := e.cfg.PreProductionEnvironment
	current, err := e.registry.FindCurrentDeployment(ctx, preprod)
	if err != nil {
		return err
	}
	if current == nil || current.Payload.PR != pr.Number {
		return nil
	}

	production, err := e.registry.FindCurrentDeployment(ctx, e.cfg.ProductionEnvironment)
	if err != nil {
		return err
	}
	if production == nil {
		e.logger.Warn("nothing deployed to production, leaving pre-production as is", "pr", pr.Number)
		return nil
	}

	return e.deploy(ctx, pr, actor, deployPlan{
		command:       "reset",
		environment:   preprod,
		ref:           production.SHA,
		version:       production.Payload.Version,
		payloadPR:     production.Payload.PR,
		skipOccupancy: true,
	})
}

func (e *Engine) handlePush(ctx context.Context, ev model.Event) error {
	if ev.Ref != "refs/heads/"+e.cfg.MainBranch {
		return nil
	}
	return e.invalidateOccupant(ctx, e.cfg.MainBranch, 0,
		fmt.Sprintf("%s was updated to %s", Code(e.cfg.MainBranch), Code(shortRef(ev.After))))
}

// invalidateOccupant marks the open pull request occupying pre-production
// as needing QA again when its base branch has moved.
func (e *Engine) invalidateOccupant(ctx context.Context, base string, except int, reason string) error {
	occupant, _, err := e.registry.FindOccupant(ctx, e.cfg.PreProductionEnvironment)
	if err != nil {
		return err
	}
	if occupant == nil || occupant.Number == except || occupant.BaseBranch != base {
		return nil
	}

	e.logger.Info("invalidating pre-production deployment", "pr", occupant.Number, "reason", reason)
	return errors.Join(
		e.setQAStatus(ctx, occupant, model.CommitStatePending, "Base branch changed, QA is out of date", ""),
		e.comment(ctx, occupant.Number, fmt.Sprintf(
			"⚠️ %s, so the %s deployment of this pull request is out of date. Comment %s to redeploy or %s to proceed without redeploying.",
			reason, Code(e.cfg.PreProductionEnvironment), Code("/qa"), Code("/skip-qa"))),
	)
}

func (e *Engine) handleSynchronize(ctx context.Context, ev model.Event) error {
	pr, err := e.eventPullRequest(ctx, ev)
	if err != nil {
		return err
	}
	occupant, deployment, err := e.registry.FindOccupant(ctx, e.cfg.PreProductionEnvironment)
	if err != nil {
		return err
	}
	if occupant == nil || occupant.Number != pr.Number || deployment.SHA == pr.HeadSHA {
		return nil
	}

	return errors.Join(
		e.setQAStatus(ctx, pr, model.CommitStatePending, "New commits since QA", ""),
		e.comment(ctx, pr.Number, fmt.Sprintf(
			"⚠️ New commits were pushed after %s was deployed to %s. Comment %s to redeploy or %s to proceed without redeploying.",
			Code(deployment.Payload.Version), Code(e.cfg.PreProductionEnvironment), Code("/qa"), Code("/skip-qa"))),
	)
}

func shortRef(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
