package model

// EventKind classifies an inbound GitHub event.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventCommentCreated
	EventPullRequestOpened
	EventPullRequestSynchronized
	EventPullRequestClosed
	EventPush
)

func (k EventKind) String() string {
	switch k {
	case EventCommentCreated:
		return "comment_created"
	case EventPullRequestOpened:
		return "pull_request_opened"
	case EventPullRequestSynchronized:
		return "pull_request_synchronized"
	case EventPullRequestClosed:
		return "pull_request_closed"
	case EventPush:
		return "push"
	default:
		return "unknown"
	}
}

// Event is a decoded inbound event. Only the fields relevant to Kind are set.
type Event struct {
	Kind EventKind

	// IssueNumber is the pull request (or issue) the event belongs to.
	IssueNumber int
	// IsPullRequest is false for comments on plain issues.
	IsPullRequest bool
	// Comment is set for EventCommentCreated.
	Comment *IssueComment
	// PullRequest is set for pull request events when the payload carries it.
	PullRequest *PullRequest

	// Ref and After are set for EventPush ("refs/heads/main", new head sha).
	Ref   string
	After string

	Actor string
}
