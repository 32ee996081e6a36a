package model

// IssueComment is a comment on a pull request conversation.
type IssueComment struct {
	ID   int64
	URL  string
	Body string
}
