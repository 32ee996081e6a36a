package application

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/ericfisherdev/shipit/internal/domain/model"
	"github.com/ericfisherdev/shipit/internal/domain/port/driven"
)

var fullSHAPattern = regexp.MustCompile(`^[0-9a-f]{40}$`)

// Registry answers questions about environments from GitHub's deployment
// history. GitHub lists deployments and statuses newest first without
// documenting it, so every query that relies on that order checks it and
// fails with *model.OrderingInvariantViolation rather than re-sorting.
type Registry struct {
	gh     driven.GitHubClient
	logger *slog.Logger
}

// NewRegistry creates a Registry backed by the given GitHub client.
func NewRegistry(gh driven.GitHubClient, logger *slog.Logger) *Registry {
	return &Registry{gh: gh, logger: logger}
}

// FindCurrentDeployment returns the latest deployment to environment, or nil.
func (r *Registry) FindCurrentDeployment(ctx context.Context, environment string) (*model.Deployment, error) {
	deployments, err := r.listOrdered(ctx, driven.DeploymentFilter{Environment: environment, Limit: 2})
	if err != nil {
		return nil, err
	}
	if len(deployments) == 0 {
		return nil, nil
	}
	return &deployments[0], nil
}

// FindPreviousDeployment returns the deployment before the latest one, or nil.
func (r *Registry) FindPreviousDeployment(ctx context.Context, environment string) (*model.Deployment, error) {
	deployments, err := r.listOrdered(ctx, driven.DeploymentFilter{Environment: environment, Limit: 2})
	if err != nil {
		return nil, err
	}
	if len(deployments) < 2 {
		return nil, nil
	}
	return &deployments[1], nil
}

// FindDeploymentStatus returns the latest status record of a deployment, or
// nil when none has been recorded.
func (r *Registry) FindDeploymentStatus(ctx context.Context, deploymentID int64) (*model.DeploymentStatus, error) {
	statuses, err := r.gh.ListDeploymentStatuses(ctx, deploymentID, 2)
	if err != nil {
		return nil, fmt.Errorf("listing statuses for deployment %d: %w", deploymentID, err)
	}
	if len(statuses) == 0 {
		return nil, nil
	}
	if len(statuses) > 1 && statuses[0].ID < statuses[1].ID {
		return nil, &model.OrderingInvariantViolation{
			Kind:       "deployment status",
			LatestID:   statuses[0].ID,
			PreviousID: statuses[1].ID,
		}
	}
	return &statuses[0], nil
}

// FindFirstDeploymentForRelease returns the earliest deployment of ref to
// environment, or nil. ref may be a full commit SHA or any other git ref.
func (r *Registry) FindFirstDeploymentForRelease(ctx context.Context, environment, ref string) (*model.Deployment, error) {
	filter := driven.DeploymentFilter{Environment: environment}
	if fullSHAPattern.MatchString(ref) {
		filter.SHA = ref
	} else {
		filter.Ref = ref
	}

	deployments, err := r.listOrdered(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(deployments) == 0 {
		return nil, nil
	}
	return &deployments[len(deployments)-1], nil
}

// FindLastDeploymentForPullRequest walks the pull request's commits from
// newest to oldest and returns the latest deployment to environment of the
// first commit that has one.
func (r *Registry) FindLastDeploymentForPullRequest(ctx context.Context, environment string, prNumber int) (*model.Deployment, error) {
	commits, err := r.gh.ListPullRequestCommits(ctx, prNumber)
	if err != nil {
		return nil, fmt.Errorf("listing commits for #%d: %w", prNumber, err)
	}

	for i := len(commits) - 1; i >= 0; i-- {
		deployments, err := r.listOrdered(ctx, driven.DeploymentFilter{
			Environment: environment,
			SHA:         commits[i],
			Limit:       2,
		})
		if err != nil {
			return nil, err
		}
		if len(deployments) > 0 {
			return &deployments[0], nil
		}
	}
	return nil, nil
}

// PullRequestHasBeenDeployed reports whether any commit of the pull request
// has been deployed to environment.
func (r *Registry) PullRequestHasBeenDeployed(ctx context.Context, environment string, prNumber int) (bool, error) {
	d, err := r.FindLastDeploymentForPullRequest(ctx, environment, prNumber)
	if err != nil {
		return false, err
	}
	return d != nil, nil
}

// EnvironmentIsAvailable reports whether requester may deploy to environment.
// It may when nothing is deployed there, the latest deployment names no pull
// request, names requester itself, or names a pull request that is no longer
// open. Otherwise the occupying pull request number is returned.
func (r *Registry) EnvironmentIsAvailable(ctx context.Context, environment string, requester int) (bool, int, error) {
	current, err := r.FindCurrentDeployment(ctx, environment)
	if err != nil {
		return false, 0, err
	}
	if current == nil || !current.Payload.HasPullRequest() || current.Payload.PR == requester {
		return true, 0, nil
	}

	occupant, err := r.gh.GetPullRequest(ctx, current.Payload.PR)
	if err != nil {
		return false, 0, fmt.Errorf("fetching occupant #%d of %s: %w", current.Payload.PR, environment, err)
	}
	if occupant.IsOpen() {
		return false, occupant.Number, nil
	}
	return true, 0, nil
}

// FindOccupant returns the open pull request holding environment together
// with its deployment. Both are nil when the environment is free.
func (r *Registry) FindOccupant(ctx context.Context, environment string) (*model.PullRequest, *model.Deployment, error) {
	current, err := r.FindCurrentDeployment(ctx, environment)
	if err != nil || current == nil || !current.Payload.HasPullRequest() {
		return nil, nil, err
	}

	pr, err := r.gh.GetPullRequest(ctx, current.Payload.PR)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching occupant #%d of %s: %w", current.Payload.PR, environment, err)
	}
	if !pr.IsOpen() {
		return nil, nil, nil
	}
	return pr, current, nil
}

// CreateDeployment records a new deployment of ref to environment.
func (r *Registry) CreateDeployment(ctx context.Context, ref, environment string, payload model.DeploymentPayload) (*model.Deployment, error) {
	d, err := r.gh.CreateDeployment(ctx, driven.DeploymentRequest{
		Ref:         ref,
		Environment: environment,
		Payload:     payload,
		Description: fmt.Sprintf("Deploy %s to %s", payload.Version, environment),
	})
	if err != nil {
		return nil, fmt.Errorf("creating deployment of %s to %s: %w", ref, environment, err)
	}
	r.logger.Info("deployment created", "deployment_id", d.ID, "environment", environment, "ref", ref, "pr", payload.PR)
	return d, nil
}

// SetDeploymentStatus appends a status to a deployment. Once a deployment
// has a terminal status it is final and model.ErrDeploymentFinalized is returned.
func (r *Registry) SetDeploymentStatus(ctx context.Context, deploymentID int64, state model.DeploymentState, logURL string) error {
	latest, err := r.FindDeploymentStatus(ctx, deploymentID)
	if err != nil {
		return err
	}
	if latest != nil && latest.State.IsTerminal() {
		return fmt.Errorf("setting deployment %d to %s after %s: %w",
			deploymentID, state, latest.State, model.ErrDeploymentFinalized)
	}

	if _, err := r.gh.CreateDeploymentStatus(ctx, deploymentID, state, logURL); err != nil {
		return fmt.Errorf("setting deployment %d to %s: %w", deploymentID, state, err)
	}
	r.logger.Info("deployment status set", "deployment_id", deploymentID, "state", state)
	return nil
}

func (r *Registry) listOrdered(ctx context.Context, filter driven.DeploymentFilter) ([]model.Deployment, error) {
	deployments, err := r.gh.ListDeployments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing deployments for %s: %w", filter.Environment, err)
	}
	if err := checkNewestFirst(deployments); err != nil {
		r.logger.Error("deployment ordering invariant violated", "environment", filter.Environment, "error", err)
		return nil, err
	}
	return deployments, nil
}

// checkNewestFirst verifies every adjacent pair of deployments is in
// descending id order.
func checkNewestFirst(deployments []model.Deployment) error {
	for i := 1; i < len(deployments); i++ {
		if deployments[i-1].ID < deployments[i].ID {
			return &model.OrderingInvariantViolation{
				Kind:       "deployment",
				LatestID:   deployments[i-1].ID,
				PreviousID: deployments[i].ID,
			}
		}
	}
	return nil
}
