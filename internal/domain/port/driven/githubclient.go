package driven

import (
	"context"

	"github.com/ericfisherdev/shipit/internal/domain/model"
)

// DeploymentFilter narrows a deployment listing. Empty fields are not sent.
type DeploymentFilter struct {
	Environment string
	SHA         string
	Ref         string
	// Limit caps the number of records fetched. Zero fetches every page.
	Limit int
}

// DeploymentRequest is the input to GitHubClient.CreateDeployment.
type DeploymentRequest struct {
	Ref         string
	Environment string
	Payload     model.DeploymentPayload
	Description string
}

// CommitStatusRequest is the input to GitHubClient.CreateCommitStatus.
type CommitStatusRequest struct {
	SHA         string
	State       model.CommitState
	Context     string
	Description string
	TargetURL   string
}

// GitHubClient defines the driven port for the GitHub repository the engine
// deploys. All methods are scoped to that single repository.
type GitHubClient interface {
	// Read methods

	GetPullRequest(ctx context.Context, number int) (*model.PullRequest, error)
	// ListPullRequestCommits returns the commit SHAs of a pull request, oldest first.
	ListPullRequestCommits(ctx context.Context, number int) ([]string, error)
	// ListDeployments returns deployments in the order the API returns them,
	// which is expected (but not guaranteed) to be newest first.
	ListDeployments(ctx context.Context, filter DeploymentFilter) ([]model.Deployment, error)
	// ListDeploymentStatuses returns status records in API order, expected newest first.
	// A limit of zero fetches every page.
	ListDeploymentStatuses(ctx context.Context, deploymentID int64, limit int) ([]model.DeploymentStatus, error)

	// Write methods

	CreateDeployment(ctx context.Context, req DeploymentRequest) (*model.Deployment, error)
	CreateDeploymentStatus(ctx context.Context, deploymentID int64, state model.DeploymentState, logURL string) (*model.DeploymentStatus, error)
	CreateCommitStatus(ctx context.Context, req CommitStatusRequest) error
	CreateIssueComment(ctx context.Context, number int, body string) (*model.IssueComment, error)
	UpdateIssueComment(ctx context.Context, commentID int64, body string) (*model.IssueComment, error)
	CreateCommentReaction(ctx context.Context, commentID int64, reaction model.Reaction) error
}
