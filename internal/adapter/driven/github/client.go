// Package github implements the GitHubClient port using the go-github library.
package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"

	"github.com/ericfisherdev/shipit/internal/domain/model"
	"github.com/ericfisherdev/shipit/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.GitHubClient = (*Client)(nil)

const (
	revalidateDirective = "max-age=0, min-fresh=60"

	perPage        = 100
	deploymentTask = "deploy"
)

// Client implements the driven.GitHubClient port for a single repository.
type Client struct {
	gh    *gh.Client
	owner string
	repo  string
}

// NewClient creates a GitHub API client bound to repoFullName ("owner/repo")
// with the following transport stack:
//  1. httpcache (ETag-based conditional request caching), always revalidating
//  2. go-github-ratelimit (secondary rate limit middleware, sleeps on 429)
//  3. go-github (GitHub REST API client with token auth)
//
// apiURL overrides the REST endpoint for GitHub Enterprise Server; empty
// means api.github.com.
func NewClient(token, repoFullName, apiURL string) (*Client, error) {
	cacheTransport := &revalidatingTransport{next: httpcache.NewMemoryCacheTransport()}
	rateLimitClient := github_ratelimit.NewClient(cacheTransport)
	client := gh.NewClient(rateLimitClient).WithAuthToken(token)

	if apiURL != "" {
		u, err := parseBaseURL(apiURL)
		if err != nil {
			return nil, err
		}
		client.BaseURL = u
	}
	return newClient(client, repoFullName)
}

// revalidatingTransport stops the cache from answering a GET on its own.
// GitHub marks responses max-age=60, and a deployment list read before a
// write must not be replayed after it. max-age=0 makes every cached entry
// stale, so httpcache sends If-None-Match and reuses the body only on a 304.
// min-fresh covers a GitHub Date header that runs ahead of the local clock.
type revalidatingTransport struct {
	next http.RoundTripper
}

func (t *revalidatingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet || req.Header.Get("Cache-Control") != "" {
		return t.next.RoundTrip(req)
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("Cache-Control", revalidateDirective)
	return t.next.RoundTrip(clone)
}

// NewClientWithHTTPClient creates a Client with a custom http.Client and base URL.
// This constructor is intended for testing, allowing injection of an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL, repoFullName string) (*Client, error) {
	client := gh.NewClient(httpClient)

	u, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	client.BaseURL = u

	return newClient(client, repoFullName)
}

func newClient(client *gh.Client, repoFullName string) (*Client, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}
	return &Client{gh: client, owner: owner, repo: repo}, nil
}

// Repo returns the "owner/repo" name the client is bound to.
func (c *Client) Repo() string {
	return c.owner + "/" + c.repo
}

// GetPullRequest fetches a single pull request.
func (c *Client) GetPullRequest(ctx context.Context, number int) (*model.PullRequest, error) {
	pr, resp, err := c.gh.PullRequests.Get(ctx, c.owner, c.repo, number)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("fetching pull request %s#%d: %w", c.Repo(), number, model.ErrNotFound)
		}
		return nil, fmt.Errorf("fetching pull request %s#%d: %w", c.Repo(), number, err)
	}

	logRateLimit(resp, c.Repo()+"/pulls", 0, 1)

	mapped := mapPullRequest(pr)
	return &mapped, nil
}

// ListPullRequestCommits returns the commit SHAs of a pull request in the
// order GitHub lists them, oldest first. It handles pagination automatically.
func (c *Client) ListPullRequestCommits(ctx context.Context, number int) ([]string, error) {
	opts := &gh.ListOptions{PerPage: perPage}
	var shas []string

	for {
		commits, resp, err := c.gh.PullRequests.ListCommits(ctx, c.owner, c.repo, number, opts)
		if err != nil {
			return nil, fmt.Errorf("listing commits for %s#%d (page %d): %w", c.Repo(), number, opts.Page, err)
		}

		logRateLimit(resp, c.Repo()+"/pulls/commits", opts.Page, len(commits))

		for _, commit := range commits {
			shas = append(shas, commit.GetSHA())
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return shas, nil
}

// ListDeployments lists deployments matching filter in API order. With a
// limit only as many pages as needed are fetched.
func (c *Client) ListDeployments(ctx context.Context, filter driven.DeploymentFilter) ([]model.Deployment, error) {
	opts := &gh.DeploymentsListOptions{
		SHA:         filter.SHA,
		Ref:         filter.Ref,
		Environment: filter.Environment,
		ListOptions: gh.ListOptions{PerPage: pageSize(filter.Limit)},
	}

	var all []model.Deployment

	for {
		deployments, resp, err := c.gh.Repositories.ListDeployments(ctx, c.owner, c.repo, opts)
		if err != nil {
			return nil, fmt.Errorf("listing deployments for %s (page %d): %w", c.Repo(), opts.Page, err)
		}

		logRateLimit(resp, c.Repo()+"/deployments", opts.Page, len(deployments))

		for _, d := range deployments {
			all = append(all, mapDeployment(d))
			if filter.Limit > 0 && len(all) == filter.Limit {
				return all, nil
			}
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, nil
}

// ListDeploymentStatuses lists the statuses of a deployment in API order.
func (c *Client) ListDeploymentStatuses(ctx context.Context, deploymentID int64, limit int) ([]model.DeploymentStatus, error) {
	opts := &gh.ListOptions{PerPage: pageSize(limit)}
	var all []model.DeploymentStatus

	for {
		statuses, resp, err := c.gh.Repositories.ListDeploymentStatuses(ctx, c.owner, c.repo, deploymentID, opts)
		if err != nil {
			return nil, fmt.Errorf("listing statuses of deployment %d (page %d): %w", deploymentID, opts.Page, err)
		}

		logRateLimit(resp, c.Repo()+"/deployments/statuses", opts.Page, len(statuses))

		for _, s := range statuses {
			all = append(all, mapDeploymentStatus(s))
			if limit > 0 && len(all) == limit {
				return all, nil
			}
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, nil
}

// CreateDeployment records a deployment without GitHub's auto-merge or
// required status context checks; the engine has already decided.
func (c *Client) CreateDeployment(ctx context.Context, req driven.DeploymentRequest) (*model.Deployment, error) {
	d, resp, err := c.gh.Repositories.CreateDeployment(ctx, c.owner, c.repo, &gh.DeploymentRequest{
		Ref:              gh.Ptr(req.Ref),
		Task:             gh.Ptr(deploymentTask),
		AutoMerge:        gh.Ptr(false),
		RequiredContexts: &[]string{},
		Payload:          req.Payload,
		Environment:      gh.Ptr(req.Environment),
		Description:      gh.Ptr(req.Description),
	})
	if err != nil {
		return nil, fmt.Errorf("creating deployment of %s to %s: %w", req.Ref, req.Environment, err)
	}

	logRateLimit(resp, c.Repo()+"/deployments", 0, 1)

	mapped := mapDeployment(d)
	return &mapped, nil
}

// CreateDeploymentStatus appends a status to a deployment.
func (c *Client) CreateDeploymentStatus(ctx context.Context, deploymentID int64, state model.DeploymentState, logURL string) (*model.DeploymentStatus, error) {
	req := &gh.DeploymentStatusRequest{State: gh.Ptr(string(state))}
	if logURL != "" {
		req.LogURL = gh.Ptr(logURL)
	}

	s, resp, err := c.gh.Repositories.CreateDeploymentStatus(ctx, c.owner, c.repo, deploymentID, req)
	if err != nil {
		return nil, fmt.Errorf("setting deployment %d to %s: %w", deploymentID, state, err)
	}

	logRateLimit(resp, c.Repo()+"/deployments/statuses", 0, 1)

	mapped := mapDeploymentStatus(s)
	return &mapped, nil
}

// commitStatusBody is the request body of POST /repos/{owner}/{repo}/statuses/{sha}.
type commitStatusBody struct {
	State       string `json:"state"`
	Context     string `json:"context,omitempty"`
	Description string `json:"description,omitempty"`
	TargetURL   string `json:"target_url,omitempty"`
}

// CreateCommitStatus sets a commit status on req.SHA.
func (c *Client) CreateCommitStatus(ctx context.Context, req driven.CommitStatusRequest) error {
	u := fmt.Sprintf("repos/%s/%s/statuses/%s", c.owner, c.repo, url.PathEscape(req.SHA))
	httpReq, err := c.gh.NewRequest(http.MethodPost, u, commitStatusBody{
		State:       string(req.State),
		Context:     req.Context,
		Description: truncate(req.Description, 140),
		TargetURL:   req.TargetURL,
	})
	if err != nil {
		return fmt.Errorf("building commit status request: %w", err)
	}

	resp, err := c.gh.Do(ctx, httpReq, nil)
	if err != nil {
		return fmt.Errorf("setting %s status of %s to %s: %w", req.Context, req.SHA, req.State, err)
	}

	logRateLimit(resp, c.Repo()+"/statuses", 0, 1)
	return nil
}

// CreateIssueComment posts a comment on an issue or pull request.
func (c *Client) CreateIssueComment(ctx context.Context, number int, body string) (*model.IssueComment, error) {
	comment, resp, err := c.gh.Issues.CreateComment(ctx, c.owner, c.repo, number, &gh.IssueComment{Body: gh.Ptr(body)})
	if err != nil {
		return nil, fmt.Errorf("commenting on %s#%d: %w", c.Repo(), number, err)
	}

	logRateLimit(resp, c.Repo()+"/issues/comments", 0, 1)

	mapped := mapIssueComment(comment)
	return &mapped, nil
}

// UpdateIssueComment replaces the body of an existing comment.
func (c *Client) UpdateIssueComment(ctx context.Context, commentID int64, body string) (*model.IssueComment, error) {
	comment, resp, err := c.gh.Issues.EditComment(ctx, c.owner, c.repo, commentID, &gh.IssueComment{Body: gh.Ptr(body)})
	if err != nil {
		return nil, fmt.Errorf("editing comment %d: %w", commentID, err)
	}

	logRateLimit(resp, c.Repo()+"/issues/comments", 0, 1)

	mapped := mapIssueComment(comment)
	return &mapped, nil
}

// CreateCommentReaction reacts to an issue comment.
func (c *Client) CreateCommentReaction(ctx context.Context, commentID int64, reaction model.Reaction) error {
	_, resp, err := c.gh.Reactions.CreateIssueCommentReaction(ctx, c.owner, c.repo, commentID, string(reaction))
	if err != nil {
		return fmt.Errorf("reacting %s to comment %d: %w", reaction, commentID, err)
	}

	logRateLimit(resp, c.Repo()+"/reactions", 0, 1)
	return nil
}

// logRateLimit logs the GitHub API rate limit status after each call.
func logRateLimit(resp *gh.Response, endpoint string, page, count int) {
	if resp == nil {
		return
	}

	slog.Debug("github api call",
		"endpoint", endpoint,
		"page", page,
		"count", count,
		"rate_remaining", resp.Rate.Remaining,
		"rate_limit", resp.Rate.Limit,
	)

	if resp.Rate.Limit > 0 && resp.Rate.Remaining < 100 {
		slog.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset_in", time.Until(resp.Rate.Reset.Time).Round(time.Second),
		)
	}
}

// mapPullRequest converts a go-github PullRequest to a domain model PullRequest.
// It uses GetXxx() helper methods exclusively to avoid nil pointer panics.
func mapPullRequest(pr *gh.PullRequest) model.PullRequest {
	status := model.PRStatusOpen
	if pr.GetMerged() || !pr.GetMergedAt().IsZero() {
		status = model.PRStatusMerged
	} else if pr.GetState() == "closed" {
		status = model.PRStatusClosed
	}

	return model.PullRequest{
		Number:     pr.GetNumber(),
		Title:      pr.GetTitle(),
		Author:     pr.GetUser().GetLogin(),
		Status:     status,
		URL:        pr.GetHTMLURL(),
		Branch:     pr.GetHead().GetRef(),
		HeadSHA:    pr.GetHead().GetSHA(),
		BaseBranch: pr.GetBase().GetRef(),
	}
}

// mapDeployment converts a go-github Deployment to a domain model Deployment.
func mapDeployment(d *gh.Deployment) model.Deployment {
	return model.Deployment{
		ID:          d.GetID(),
		Ref:         d.GetRef(),
		SHA:         d.GetSHA(),
		Environment: d.GetEnvironment(),
		Payload:     model.ParseDeploymentPayload(d.Payload),
		CreatedAt:   d.GetCreatedAt().Time,
	}
}

// mapDeploymentStatus converts a go-github DeploymentStatus to a domain model DeploymentStatus.
func mapDeploymentStatus(s *gh.DeploymentStatus) model.DeploymentStatus {
	return model.DeploymentStatus{
		ID:        s.GetID(),
		State:     model.DeploymentState(s.GetState()),
		CreatedAt: s.GetCreatedAt().Time,
	}
}

// mapIssueComment converts a go-github IssueComment to a domain model IssueComment.
func mapIssueComment(c *gh.IssueComment) model.IssueComment {
	return model.IssueComment{
		ID:   c.GetID(),
		URL:  c.GetHTMLURL(),
		Body: c.GetBody(),
	}
}

// pageSize requests no more records than a limited query needs.
func pageSize(limit int) int {
	if limit > 0 && limit < perPage {
		return limit
	}
	return perPage
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func parseBaseURL(raw string) (*url.URL, error) {
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	return u, nil
}

// splitRepo splits a "owner/repo" string into its two components.
func splitRepo(fullName string) (string, string, error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo name %q: expected owner/repo", fullName)
	}
	return parts[0], parts[1], nil
}
