package model

// PullRequest represents a GitHub pull request as seen by the deployment engine.
// It is owned by GitHub and never mutated here.
type PullRequest struct {
	Number     int
	Title      string
	Author     string
	Status     PRStatus
	URL        string
	Branch     string // Head branch name.
	HeadSHA    string
	BaseBranch string
}

// IsOpen reports whether the pull request can still occupy an environment.
func (pr PullRequest) IsOpen() bool {
	return pr.Status == PRStatusOpen
}

// IsMerged reports whether the pull request was closed by merging.
func (pr PullRequest) IsMerged() bool {
	return pr.Status == PRStatusMerged
}
