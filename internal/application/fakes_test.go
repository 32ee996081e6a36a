package application_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/ericfisherdev/shipit/internal/domain/model"
	"github.com/ericfisherdev/shipit/internal/domain/port/driven"
)

// --- In-memory GitHub ---

type commitStatusCall struct {
	SHA         string
	State       model.CommitState
	Context     string
	Description string
}

type reactionCall struct {
	CommentID int64
	Reaction  model.Reaction
}

type commentEdit struct {
	ID   int64
	Body string
}

// fakeGitHub is an in-memory GitHub repository. Deployments and statuses are
// listed newest first unless rawDeployments or rawStatuses override them.
type fakeGitHub struct {
	mu sync.Mutex

	prs     map[int]*model.PullRequest
	commits map[int][]string

	deployments []model.Deployment
	statuses    map[int64][]model.DeploymentStatus
	nextID      int64

	rawDeployments []model.Deployment
	rawStatuses    []model.DeploymentStatus

	comments       map[int64]*model.IssueComment
	commentIssues  map[int64]int
	commentCreates int
	commentEdits   []commentEdit
	commitStatuses []commitStatusCall
	reactions      []reactionCall

	createDeploymentErr error
	listDeploymentsErr  error
	// failEditsContaining makes comment edits whose body contains it fail.
	failEditsContaining string
}

func newFakeGitHub() *fakeGitHub {
	return &fakeGitHub{
		prs:           map[int]*model.PullRequest{},
		commits:       map[int][]string{},
		statuses:      map[int64][]model.DeploymentStatus{},
		comments:      map[int64]*model.IssueComment{},
		commentIssues: map[int64]int{},
		nextID:        100,
	}
}

func (f *fakeGitHub) addPR(pr model.PullRequest, commits ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prs[pr.Number] = &pr
	if len(commits) == 0 {
		commits = []string{pr.HeadSHA}
	}
	f.commits[pr.Number] = commits
}

// seedDeployment records a deployment with an optional status history.
func (f *fakeGitHub) seedDeployment(env, sha string, pr int, version string, states ...model.DeploymentState) model.Deployment {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.newDeploymentLocked(env, sha, model.DeploymentPayload{PR: pr, Version: version})
	for _, s := range states {
		f.newStatusLocked(d.ID, s)
	}
	return d
}

func (f *fakeGitHub) newDeploymentLocked(env, ref string, payload model.DeploymentPayload) model.Deployment {
	f.nextID++
	d := model.Deployment{ID: f.nextID, Ref: ref, SHA: ref, Environment: env, Payload: payload}
	f.deployments = append(f.deployments, d)
	return d
}

func (f *fakeGitHub) newStatusLocked(id int64, state model.DeploymentState) model.DeploymentStatus {
	f.nextID++
	s := model.DeploymentStatus{ID: f.nextID, State: state}
	f.statuses[id] = append(f.statuses[id], s)
	return s
}

func (f *fakeGitHub) GetPullRequest(_ context.Context, number int) (*model.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pr, ok := f.prs[number]
	if !ok {
		return nil, fmt.Errorf("pull request #%d: %w", number, model.ErrNotFound)
	}
	cp := *pr
	return &cp, nil
}

func (f *fakeGitHub) ListPullRequestCommits(_ context.Context, number int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commits[number]...), nil
}

func (f *fakeGitHub) ListDeployments(_ context.Context, filter driven.DeploymentFilter) ([]model.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listDeploymentsErr != nil {
		return nil, f.listDeploymentsErr
	}
	if f.rawDeployments != nil {
		return append([]model.Deployment(nil), f.rawDeployments...), nil
	}

	var out []model.Deployment
	for i := len(f.deployments) - 1; i >= 0; i-- {
		d := f.deployments[i]
		if filter.Environment != "" && d.Environment != filter.Environment {
			continue
		}
		if filter.SHA != "" && d.SHA != filter.SHA {
			continue
		}
		if filter.Ref != "" && d.Ref != filter.Ref {
			continue
		}
		out = append(out, d)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (f *fakeGitHub) ListDeploymentStatuses(_ context.Context, id int64, limit int) ([]model.DeploymentStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rawStatuses != nil {
		return append([]model.DeploymentStatus(nil), f.rawStatuses...), nil
	}
	all := f.statuses[id]
	var out []model.DeploymentStatus
	for i := len(all) - 1; i >= 0; i-- {
		out = append(out, all[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeGitHub) CreateDeployment(_ context.Context, req driven.DeploymentRequest) (*model.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createDeploymentErr != nil {
		return nil, f.createDeploymentErr
	}
	d := f.newDeploymentLocked(req.Environment, req.Ref, req.Payload)
	return &d, nil
}

func (f *fakeGitHub) CreateDeploymentStatus(_ context.Context, id int64, state model.DeploymentState, _ string) (*model.DeploymentStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.newStatusLocked(id, state)
	return &s, nil
}

func (f *fakeGitHub) CreateCommitStatus(_ context.Context, req driven.CommitStatusRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commitStatuses = append(f.commitStatuses, commitStatusCall{
		SHA: req.SHA, State: req.State, Context: req.Context, Description: req.Description,
	})
	return nil
}

func (f *fakeGitHub) CreateIssueComment(_ context.Context, number int, body string) (*model.IssueComment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	c := &model.IssueComment{
		ID:   f.nextID,
		URL:  fmt.Sprintf("https://github.com/octo/app/pull/%d#issuecomment-%d", number, f.nextID),
		Body: body,
	}
	f.comments[c.ID] = c
	f.commentIssues[c.ID] = number
	f.commentCreates++
	cp := *c
	return &cp, nil
}

func (f *fakeGitHub) UpdateIssueComment(_ context.Context, id int64, body string) (*model.IssueComment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.comments[id]
	if !ok {
		return nil, fmt.Errorf("comment %d: %w", id, model.ErrNotFound)
	}
	if f.failEditsContaining != "" && strings.Contains(body, f.failEditsContaining) {
		return nil, errors.New("github unavailable")
	}
	c.Body = body
	f.commentEdits = append(f.commentEdits, commentEdit{ID: id, Body: body})
	cp := *c
	return &cp, nil
}

func (f *fakeGitHub) CreateCommentReaction(_ context.Context, id int64, reaction model.Reaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, reactionCall{CommentID: id, Reaction: reaction})
	return nil
}

// commentsOn returns the current bodies of comments on an issue, oldest first.
func (f *fakeGitHub) commentsOn(number int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int64
	for id, n := range f.commentIssues {
		if n == number {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	bodies := make([]string, 0, len(ids))
	for _, id := range ids {
		bodies = append(bodies, f.comments[id].Body)
	}
	return bodies
}

func (f *fakeGitHub) deploymentsIn(env string) []model.Deployment {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Deployment
	for _, d := range f.deployments {
		if d.Environment == env {
			out = append(out, d)
		}
	}
	return out
}

func (f *fakeGitHub) statesOf(id int64) []model.DeploymentState {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.DeploymentState
	for _, s := range f.statuses[id] {
		out = append(out, s.State)
	}
	return out
}

func (f *fakeGitHub) lastCommitStatus(sha string) (commitStatusCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.commitStatuses) - 1; i >= 0; i-- {
		if f.commitStatuses[i].SHA == sha {
			return f.commitStatuses[i], true
		}
	}
	return commitStatusCall{}, false
}

// --- Scripted shell ---

// fakeShell records every script and answers from a list of rules. The first
// rule whose match string appears in the joined script decides the outcome.
type fakeShell struct {
	mu      sync.Mutex
	scripts []driven.Script
	rules   []shellRule
	outputs map[string]string
}

type shellRule struct {
	match  string
	output string
	err    error
	once   bool
	// skip lets that many matching scripts pass before the rule applies.
	skip int
}

func newFakeShell() *fakeShell {
	return &fakeShell{outputs: map[string]string{
		"git rev-parse HEAD":         "",
		"git rev-parse --short HEAD": "",
	}}
}

func (s *fakeShell) on(match, output string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, shellRule{match: match, output: output, err: err})
}

func (s *fakeShell) fail(match, output string, code int) {
	s.on(match, output, &model.ShellCommandError{ExitCode: code, Output: output})
}

// onAfter applies err to matching scripts after the first skip of them succeed.
func (s *fakeShell) onAfter(match string, skip int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, shellRule{match: match, err: err, skip: skip})
}

// failOnce is fail for the first matching script only.
func (s *fakeShell) failOnce(match, output string, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, shellRule{
		match: match, output: output, once: true,
		err: &model.ShellCommandError{ExitCode: code, Output: output},
	})
}

func (s *fakeShell) Run(_ context.Context, script driven.Script) (string, error) {
	s.mu.Lock()
	s.scripts = append(s.scripts, script)
	joined := strings.Join(script.Commands, "\n")
	var rule *shellRule
	for i := range s.rules {
		if strings.Contains(joined, s.rules[i].match) {
			if s.rules[i].skip > 0 {
				s.rules[i].skip--
				continue
			}
			r := s.rules[i]
			rule = &r
			if r.once {
				s.rules = slices.Delete(s.rules, i, i+1)
			}
			break
		}
	}
	s.mu.Unlock()

	if rule == nil {
		return "", nil
	}
	if script.Output != nil && rule.output != "" {
		for _, line := range strings.Split(rule.output, "\n") {
			script.Output.Append(line)
		}
	}
	return rule.output, rule.err
}

func (s *fakeShell) Output(_ context.Context, command string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts = append(s.scripts, driven.Script{Commands: []string{command}})
	if out, ok := s.outputs[command]; ok {
		return out, nil
	}
	for k, v := range s.outputs {
		if strings.HasPrefix(command, k) {
			return v, nil
		}
	}
	return "", errors.New("unexpected command: " + command)
}

func (s *fakeShell) setHead(sha, short string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs["git rev-parse HEAD"] = sha
	s.outputs["git rev-parse --short"] = short
	s.outputs["git rev-parse --short HEAD"] = short
}

// ran reports how many recorded scripts contain match.
func (s *fakeShell) ran(match string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sc := range s.scripts {
		if strings.Contains(strings.Join(sc.Commands, "\n"), match) {
			n++
		}
	}
	return n
}

// envOf returns the environment of the first script containing match.
func (s *fakeShell) envOf(match string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sc := range s.scripts {
		if strings.Contains(strings.Join(sc.Commands, "\n"), match) {
			return sc.Env
		}
	}
	return nil
}

// --- In-memory run journal ---

type memRunStore struct {
	mu     sync.Mutex
	runs   map[string]model.Run
	order  []string
	stages map[string][]model.StageResult
}

var _ driven.RunStore = (*memRunStore)(nil)

func newMemRunStore() *memRunStore {
	return &memRunStore{runs: map[string]model.Run{}, stages: map[string][]model.StageResult{}}
}

func (m *memRunStore) Create(_ context.Context, run model.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run.Stages = nil
	m.runs[run.ID] = run
	m.order = append(m.order, run.ID)
	return nil
}

func (m *memRunStore) Update(_ context.Context, run model.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; !ok {
		return model.ErrNotFound
	}
	run.Stages = nil
	m.runs[run.ID] = run
	return nil
}

func (m *memRunStore) AddStage(_ context.Context, stage model.StageResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages[stage.RunID] = append(m.stages[stage.RunID], stage)
	return nil
}

func (m *memRunStore) Get(_ context.Context, id string) (*model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	run.Stages = append([]model.StageResult(nil), m.stages[id]...)
	return &run, nil
}

func (m *memRunStore) ListRecent(_ context.Context, limit int) ([]model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Run
	for i := len(m.order) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, m.runs[m.order[i]])
	}
	return out, nil
}

func (m *memRunStore) ListByPR(_ context.Context, prNumber int) ([]model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Run
	for i := len(m.order) - 1; i >= 0; i-- {
		if r := m.runs[m.order[i]]; r.PRNumber == prNumber {
			out = append(out, r)
		}
	}
	return out, nil
}

// only returns the single journaled run.
func (m *memRunStore) only() model.Run {
	m.mu.Lock()
	id := ""
	if len(m.order) == 1 {
		id = m.order[0]
	}
	m.mu.Unlock()
	run, err := m.Get(context.Background(), id)
	if err != nil {
		return model.Run{}
	}
	return *run
}
