package github

import (
	"encoding/json"
	"fmt"

	gh "github.com/google/go-github/v82/github"

	"github.com/ericfisherdev/shipit/internal/domain/model"
)

// DecodeEvent converts a GitHub event payload, as delivered to a workflow run
// through GITHUB_EVENT_NAME and GITHUB_EVENT_PATH, into a domain Event.
// Events and actions the engine does not react to decode to EventUnknown.
func DecodeEvent(name string, payload []byte) (model.Event, error) {
	switch name {
	case "issue_comment":
		var ev gh.IssueCommentEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return model.Event{}, fmt.Errorf("decode %s payload: %w", name, err)
		}
		return commentEvent(&ev), nil

	case "pull_request", "pull_request_target":
		var ev gh.PullRequestEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return model.Event{}, fmt.Errorf("decode %s payload: %w", name, err)
		}
		return pullRequestEvent(&ev), nil

	case "push":
		var ev gh.PushEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return model.Event{}, fmt.Errorf("decode %s payload: %w", name, err)
		}
		return model.Event{
			Kind:  model.EventPush,
			Ref:   ev.GetRef(),
			After: ev.GetAfter(),
			Actor: ev.GetSender().GetLogin(),
		}, nil

	default:
		return model.Event{Kind: model.EventUnknown}, nil
	}
}

func commentEvent(ev *gh.IssueCommentEvent) model.Event {
	if ev.GetAction() != "created" {
		return model.Event{Kind: model.EventUnknown}
	}

	comment := mapIssueComment(ev.GetComment())
	return model.Event{
		Kind:          model.EventCommentCreated,
		IssueNumber:   ev.GetIssue().GetNumber(),
		IsPullRequest: ev.GetIssue().GetPullRequestLinks() != nil,
		Comment:       &comment,
		Actor:         ev.GetSender().GetLogin(),
	}
}

func pullRequestEvent(ev *gh.PullRequestEvent) model.Event {
	var kind model.EventKind
	switch ev.GetAction() {
	case "opened", "reopened":
		kind = model.EventPullRequestOpened
	case "synchronize":
		kind = model.EventPullRequestSynchronized
	case "closed":
		kind = model.EventPullRequestClosed
	default:
		return model.Event{Kind: model.EventUnknown}
	}

	number := ev.GetNumber()
	if number == 0 {
		number = ev.GetPullRequest().GetNumber()
	}

	out := model.Event{
		Kind:          kind,
		IssueNumber:   number,
		IsPullRequest: true,
		Actor:         ev.GetSender().GetLogin(),
	}
	if ev.PullRequest != nil {
		pr := mapPullRequest(ev.PullRequest)
		out.PullRequest = &pr
	}
	return out
}
