package github_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	ghAdapter "github.com/ericfisherdev/shipit/internal/adapter/driven/github"
	"github.com/ericfisherdev/shipit/internal/domain/model"
	"github.com/ericfisherdev/shipit/internal/domain/port/driven"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient creates a Client for octo/app backed by the given httptest handler.
func newTestClient(t *testing.T, handler http.Handler) *ghAdapter.Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := ghAdapter.NewClientWithHTTPClient(server.Client(), server.URL+"/", "octo/app")
	require.NoError(t, err)

	return client
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	assert.NoError(t, json.NewEncoder(w).Encode(v))
}

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	raw, err := io.ReadAll(r.Body)
	assert.NoError(t, err)
	var body map[string]any
	assert.NoError(t, json.Unmarshal(raw, &body))
	return body
}

func TestNewClientWithHTTPClient_InvalidRepoName(t *testing.T) {
	for _, name := range []string{"", "octo", "/app", "octo/"} {
		_, err := ghAdapter.NewClientWithHTTPClient(http.DefaultClient, "http://localhost/", name)
		assert.Error(t, err, name)
	}
}

func TestGetPullRequest(t *testing.T) {
	tests := []struct {
		name       string
		state      string
		merged     bool
		wantStatus model.PRStatus
	}{
		{name: "open", state: "open", wantStatus: model.PRStatusOpen},
		{name: "closed", state: "closed", wantStatus: model.PRStatusClosed},
		{name: "merged", state: "closed", merged: true, wantStatus: model.PRStatusMerged},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("GET /repos/octo/app/pulls/42", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(t, w, http.StatusOK, map[string]any{
					"number":   42,
					"title":    "Add login",
					"state":    tt.state,
					"merged":   tt.merged,
					"html_url": "https://github.com/octo/app/pull/42",
					"user":     map[string]any{"login": "alice"},
					"head":     map[string]any{"ref": "feature/login", "sha": "abc123"},
					"base":     map[string]any{"ref": "main", "sha": "def456"},
				})
			})

			pr, err := newTestClient(t, mux).GetPullRequest(context.Background(), 42)

			require.NoError(t, err)
			assert.Equal(t, &model.PullRequest{
				Number:     42,
				Title:      "Add login",
				Author:     "alice",
				Status:     tt.wantStatus,
				URL:        "https://github.com/octo/app/pull/42",
				Branch:     "feature/login",
				HeadSHA:    "abc123",
				BaseBranch: "main",
			}, pr)
		})
	}
}

func TestGetPullRequest_NotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/octo/app/pulls/9", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusNotFound, map[string]any{"message": "Not Found"})
	})

	_, err := newTestClient(t, mux).GetPullRequest(context.Background(), 9)

	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestListPullRequestCommits_Pagination(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "" {
			w.Header().Set("Link", fmt.Sprintf(`<%s?page=2>; rel="next"`, "http://"+r.Host+r.URL.Path))
			writeJSON(t, w, http.StatusOK, []map[string]any{{"sha": "c1"}, {"sha": "c2"}})
			return
		}
		writeJSON(t, w, http.StatusOK, []map[string]any{{"sha": "c3"}})
	})

	shas, err := newTestClient(t, handler).ListPullRequestCommits(context.Background(), 7)

	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2", "c3"}, shas)
}

func TestListDeployments_FiltersAndPayload(t *testing.T) {
	var query map[string]string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/octo/app/deployments", func(w http.ResponseWriter, r *http.Request) {
		query = map[string]string{
			"environment": r.URL.Query().Get("environment"),
			"sha":         r.URL.Query().Get("sha"),
			"per_page":    r.URL.Query().Get("per_page"),
		}
		writeJSON(t, w, http.StatusOK, []map[string]any{
			{"id": 9, "ref": "abc", "sha": "abc", "environment": "staging", "payload": map[string]any{"pr": 7, "version": "abc1234"}},
			{"id": 5, "ref": "def", "sha": "def", "environment": "staging", "payload": `{"pr":3}`},
			{"id": 2, "ref": "v1", "sha": "fff", "environment": "staging", "payload": ""},
		})
	})

	deployments, err := newTestClient(t, mux).ListDeployments(context.Background(), driven.DeploymentFilter{
		Environment: "staging",
		SHA:         "abc",
		Limit:       2,
	})

	require.NoError(t, err)
	assert.Equal(t, map[string]string{"environment": "staging", "sha": "abc", "per_page": "2"}, query)
	require.Len(t, deployments, 2)
	assert.Equal(t, int64(9), deployments[0].ID)
	assert.Equal(t, model.DeploymentPayload{PR: 7, Version: "abc1234"}, deployments[0].Payload)
	assert.Equal(t, model.DeploymentPayload{PR: 3}, deployments[1].Payload)
}

func TestListDeployments_KeepsAPIOrder(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/octo/app/deployments", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, []map[string]any{{"id": 5}, {"id": 9}})
	})

	deployments, err := newTestClient(t, mux).ListDeployments(context.Background(), driven.DeploymentFilter{})

	require.NoError(t, err)
	require.Len(t, deployments, 2)
	assert.Equal(t, int64(5), deployments[0].ID)
	assert.Equal(t, int64(9), deployments[1].ID)
}

func TestListDeploymentStatuses(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/octo/app/deployments/9/statuses", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, []map[string]any{
			{"id": 31, "state": "success"},
			{"id": 30, "state": "in_progress"},
		})
	})

	statuses, err := newTestClient(t, mux).ListDeploymentStatuses(context.Background(), 9, 0)

	require.NoError(t, err)
	assert.Equal(t, []model.DeploymentStatus{
		{ID: 31, State: model.DeploymentStateSuccess},
		{ID: 30, State: model.DeploymentStateInProgress},
	}, statuses)
}

func TestCreateDeployment(t *testing.T) {
	var body map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("POST /repos/octo/app/deployments", func(w http.ResponseWriter, r *http.Request) {
		body = decodeBody(t, r)
		writeJSON(t, w, http.StatusCreated, map[string]any{
			"id": 77, "ref": "abc", "sha": "abc", "environment": "production",
			"payload": map[string]any{"pr": 7, "version": "abc1234"},
		})
	})

	d, err := newTestClient(t, mux).CreateDeployment(context.Background(), driven.DeploymentRequest{
		Ref:         "abc",
		Environment: "production",
		Payload:     model.DeploymentPayload{PR: 7, Version: "abc1234"},
		Description: "Deploy abc1234 to production",
	})

	require.NoError(t, err)
	assert.Equal(t, int64(77), d.ID)
	assert.Equal(t, 7, d.Payload.PR)

	assert.Equal(t, "abc", body["ref"])
	assert.Equal(t, "deploy", body["task"])
	assert.Equal(t, false, body["auto_merge"])
	assert.Equal(t, []any{}, body["required_contexts"])
	assert.Equal(t, "production", body["environment"])
	assert.Equal(t, map[string]any{"pr": float64(7), "version": "abc1234"}, body["payload"])
}

func TestCreateDeploymentStatus(t *testing.T) {
	var body map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("POST /repos/octo/app/deployments/77/statuses", func(w http.ResponseWriter, r *http.Request) {
		body = decodeBody(t, r)
		writeJSON(t, w, http.StatusCreated, map[string]any{"id": 500, "state": "success"})
	})

	s, err := newTestClient(t, mux).CreateDeploymentStatus(context.Background(), 77,
		model.DeploymentStateSuccess, "https://github.com/octo/app/pull/7#issuecomment-1")

	require.NoError(t, err)
	assert.Equal(t, int64(500), s.ID)
	assert.Equal(t, "success", body["state"])
	assert.Equal(t, "https://github.com/octo/app/pull/7#issuecomment-1", body["log_url"])
}

func TestCreateCommitStatus(t *testing.T) {
	var body map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("POST /repos/octo/app/statuses/abc123", func(w http.ResponseWriter, r *http.Request) {
		body = decodeBody(t, r)
		writeJSON(t, w, http.StatusCreated, map[string]any{"id": 1})
	})

	err := newTestClient(t, mux).CreateCommitStatus(context.Background(), driven.CommitStatusRequest{
		SHA:         "abc123",
		State:       model.CommitStatePending,
		Context:     "QA",
		Description: "Waiting for QA",
	})

	require.NoError(t, err)
	assert.Equal(t, map[string]any{"state": "pending", "context": "QA", "description": "Waiting for QA"}, body)
}

func TestCreateCommitStatus_Error(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /repos/octo/app/statuses/abc123", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusUnprocessableEntity, map[string]any{"message": "Validation Failed"})
	})

	err := newTestClient(t, mux).CreateCommitStatus(context.Background(), driven.CommitStatusRequest{
		SHA: "abc123", State: model.CommitStateFailure, Context: "QA",
	})

	assert.ErrorContains(t, err, "setting QA status of abc123 to failure")
}

func TestIssueComments(t *testing.T) {
	var created, edited map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("POST /repos/octo/app/issues/7/comments", func(w http.ResponseWriter, r *http.Request) {
		created = decodeBody(t, r)
		writeJSON(t, w, http.StatusCreated, map[string]any{
			"id": 1001, "body": created["body"], "html_url": "https://github.com/octo/app/pull/7#issuecomment-1001",
		})
	})
	mux.HandleFunc("PATCH /repos/octo/app/issues/comments/1001", func(w http.ResponseWriter, r *http.Request) {
		edited = decodeBody(t, r)
		writeJSON(t, w, http.StatusOK, map[string]any{
			"id": 1001, "body": edited["body"], "html_url": "https://github.com/octo/app/pull/7#issuecomment-1001",
		})
	})
	client := newTestClient(t, mux)

	c, err := client.CreateIssueComment(context.Background(), 7, "first")
	require.NoError(t, err)
	assert.Equal(t, &model.IssueComment{ID: 1001, URL: "https://github.com/octo/app/pull/7#issuecomment-1001", Body: "first"}, c)

	c, err = client.UpdateIssueComment(context.Background(), 1001, "second")
	require.NoError(t, err)
	assert.Equal(t, "second", c.Body)
	assert.Equal(t, "first", created["body"])
	assert.Equal(t, "second", edited["body"])
}

func TestCreateCommentReaction(t *testing.T) {
	var body map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("POST /repos/octo/app/issues/comments/55/reactions", func(w http.ResponseWriter, r *http.Request) {
		body = decodeBody(t, r)
		writeJSON(t, w, http.StatusCreated, map[string]any{"id": 1, "content": body["content"]})
	})

	err := newTestClient(t, mux).CreateCommentReaction(context.Background(), 55, model.ReactionRocket)

	require.NoError(t, err)
	assert.Equal(t, "rocket", body["content"])
}

func TestNewClient_RevalidatesCachedLists(t *testing.T) {
	var mu sync.Mutex
	ids := []int{20, 10}
	etag := `"v1"`
	var gets, notModified int
	var sentDirectives []string

	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/octo/app/deployments", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gets++
		sentDirectives = append(sentDirectives, r.Header.Get("Cache-Control"))

		w.Header().Set("Cache-Control", "private, max-age=60")
		w.Header().Set("ETag", etag)
		w.Header().Set("Date", time.Now().UTC().Format(http.TimeFormat))
		if r.Header.Get("If-None-Match") == etag {
			notModified++
			w.WriteHeader(http.StatusNotModified)
			return
		}

		body := make([]map[string]any, 0, len(ids))
		for _, id := range ids {
			body = append(body, map[string]any{"id": id, "environment": "production"})
		}
		writeJSON(t, w, http.StatusOK, body)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client, err := ghAdapter.NewClient("test-token", "octo/app", server.URL+"/")
	require.NoError(t, err)

	ctx := context.Background()
	filter := driven.DeploymentFilter{Environment: "production", Limit: 2}
	idsOf := func(deployments []model.Deployment) []int64 {
		out := make([]int64, 0, len(deployments))
		for _, d := range deployments {
			out = append(out, d.ID)
		}
		return out
	}

	first, err := client.ListDeployments(ctx, filter)
	require.NoError(t, err)
	assert.Equal(t, []int64{20, 10}, idsOf(first))

	// A deployment is recorded between two reads of the same list.
	mu.Lock()
	ids = []int{30, 20, 10}
	etag = `"v2"`
	mu.Unlock()

	second, err := client.ListDeployments(ctx, filter)
	require.NoError(t, err)
	assert.Equal(t, []int64{30, 20}, idsOf(second))

	third, err := client.ListDeployments(ctx, filter)
	require.NoError(t, err)
	assert.Equal(t, []int64{30, 20}, idsOf(third))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, gets)
	assert.Equal(t, 1, notModified)
	for _, directive := range sentDirectives {
		assert.Contains(t, directive, "max-age=0")
	}
}
