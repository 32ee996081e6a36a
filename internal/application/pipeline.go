package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/shipit/internal/domain/model"
	"github.com/ericfisherdev/shipit/internal/domain/port/driven"
)

// Stage names as shown in tracking comments and the run journal.
const (
	StageSetup   = "Setup"
	StageRelease = "Release"
	StageDeploy  = "Deploy"
	StageVerify  = "Verify"
)

const (
	defaultStatusContext = "QA"
	defaultPollInterval  = 5 * time.Second
	progressTailLines    = 20
)

// PipelineConfig holds the deployment settings of one repository. The stage
// commands are opaque shell snippets run with VERSION and ENVIRONMENT set.
type PipelineConfig struct {
	ProductionEnvironment    string
	PreProductionEnvironment string
	MainBranch               string
	// StatusContext names the commit status that tracks QA. Defaults to "QA".
	StatusContext string

	SetupCommand   string
	ReleaseCommand string
	DeployCommand  string
	VerifyCommand  string

	// ComponentName labels the tracking comment badge when several
	// components deploy from one repository.
	ComponentName string
	// RunURL links the tracking comment to the workflow run.
	RunURL string
	// PollInterval is how often running stages refresh the tracking comment.
	PollInterval time.Duration
}

// Engine interprets events and commands and drives deployments through
// occupancy, synchronization, the four stages and rollback.
type Engine struct {
	cfg      PipelineConfig
	gh       driven.GitHubClient
	shell    driven.ScriptRunner
	registry *Registry
	sync     *BranchSync
	runs     driven.RunStore
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine creates an Engine. runs may be nil to disable the run journal.
func NewEngine(cfg PipelineConfig, gh driven.GitHubClient, shell driven.ScriptRunner, runs driven.RunStore, logger *slog.Logger) *Engine {
	if cfg.StatusContext == "" {
		cfg.StatusContext = defaultStatusContext
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MainBranch == "" {
		cfg.MainBranch = "main"
	}
	if runs == nil {
		runs = nopRunStore{}
	}
	return &Engine{
		cfg:      cfg,
		gh:       gh,
		shell:    shell,
		registry: NewRegistry(gh, logger),
		sync:     NewBranchSync(shell, logger),
		runs:     runs,
		logger:   logger,
		now:      time.Now,
	}
}

// Registry exposes the deployment queries the engine uses.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// runContext is one journaled pipeline execution reporting to one tracking comment.
type runContext struct {
	e     *Engine
	rep   *Reporter
	run   model.Run
	pr    *model.PullRequest
	actor string
}

func (e *Engine) startRun(ctx context.Context, pr *model.PullRequest, actor, command, environment string) *runContext {
	rc := &runContext{
		e:     e,
		rep:   NewReporter(e.gh, pr.Number, e.header(environment), e.footer()),
		pr:    pr,
		actor: actor,
		run: model.Run{
			ID:          uuid.NewString(),
			PRNumber:    pr.Number,
			Command:     command,
			Environment: environment,
			State:       model.RunStateCheckingOccupancy,
			StartedAt:   e.now(),
		},
	}
	if err := e.runs.Create(ctx, rc.run); err != nil {
		e.logger.Warn("failed to journal run", "run_id", rc.run.ID, "error", err)
	}
	e.logger.Info("run started", "run_id", rc.run.ID, "pr", pr.Number, "command", command, "environment", environment)
	return rc
}

func (rc *runContext) transition(ctx context.Context, state model.RunState) {
	rc.run.State = state
	rc.save(ctx)
}

func (rc *runContext) save(ctx context.Context) {
	rc.run.CommentID = rc.rep.ID()
	rc.run.CommentURL = rc.rep.URL()
	rc.run.CommentBody = rc.rep.Body()
	if err := rc.e.runs.Update(ctx, rc.run); err != nil {
		rc.e.logger.Warn("failed to journal run", "run_id", rc.run.ID, "error", err)
	}
}

// finish stops progress reporting and records the terminal state.
func (rc *runContext) finish(ctx context.Context, state model.RunState, message string) {
	rc.rep.Close()
	rc.run.State = state
	rc.run.Message = message
	rc.run.FinishedAt = rc.e.now()
	rc.save(ctx)
	rc.e.logger.Info("run finished", "run_id", rc.run.ID, "pr", rc.run.PRNumber, "state", state, "message", message)
}

// fail reports text and err on the tracking comment and finishes the run.
func (rc *runContext) fail(ctx context.Context, text string, err error) error {
	message := text + ": " + err.Error()
	rc.e.logger.Error(message, "run_id", rc.run.ID, "pr", rc.run.PRNumber)
	appendErr := rc.rep.Append(ctx, "💥 "+Mention(rc.actor)+text+": "+Code(err.Error()))
	rc.finish(ctx, model.RunStateFailed, message)
	return appendErr
}

// runStage runs one stage command while streaming its output tail into the
// tracking comment. ok is false when the command exited non-zero; that
// failure has been reported. err is set only for failures that must
// propagate, such as a cancelled context or an unreachable GitHub.
func (rc *runContext) runStage(ctx context.Context, stage, command string, state model.RunState, env map[string]string) (ok bool, err error) {
	if strings.TrimSpace(command) == "" {
		return true, nil
	}
	rc.transition(ctx, state)

	buf := model.NewOutputBuffer()
	rc.rep.SubscribeTo(buf, rc.e.cfg.PollInterval, stageView(stage))

	started := rc.e.now()
	out, runErr := rc.e.shell.Run(ctx, driven.Script{
		Commands: []string{command},
		Env:      env,
		Output:   buf,
	})
	result := model.StageResult{
		RunID:    rc.run.ID,
		Stage:    stage,
		Output:   out,
		Started:  started,
		Duration: rc.e.now().Sub(started),
	}

	var cmdErr *model.ShellCommandError
	switch {
	case runErr == nil:
		result.Outcome = model.StageOutcomeSucceeded
		rc.addStage(ctx, result)
		return true, rc.rep.Append(ctx, withLog("✅ "+stage, out)...)
	case errors.As(runErr, &cmdErr):
		result.Outcome = model.StageOutcomeFailed
		result.Output = cmdErr.Output
		rc.addStage(ctx, result)
		rc.e.logger.Error("stage failed", "run_id", rc.run.ID, "stage", stage, "exit_code", cmdErr.ExitCode)
		return false, rc.rep.Append(ctx, withLog("💥 "+Mention(rc.actor)+stage+" failed: "+Code(cmdErr.Error()), cmdErr.Output)...)
	default:
		rc.rep.Close()
		return false, fmt.Errorf("running %s: %w", strings.ToLower(stage), runErr)
	}
}

func (rc *runContext) addStage(ctx context.Context, result model.StageResult) {
	rc.run.Stages = append(rc.run.Stages, result)
	if err := rc.e.runs.AddStage(ctx, result); err != nil {
		rc.e.logger.Warn("failed to journal stage", "run_id", rc.run.ID, "stage", result.Stage, "error", err)
	}
}

// stageView renders the live progress of a running stage.
func stageView(stage string) func(*model.OutputBuffer) []string {
	return func(buf *model.OutputBuffer) []string {
		return []string{
			"⏳ Running " + stage,
			CodeBlock(strings.Join(buf.Tail(progressTailLines), "\n")),
		}
	}
}

// withLog follows a status line with the rendered log, if there is one.
func withLog(line, log string) []string {
	if strings.TrimSpace(log) == "" {
		return []string{line}
	}
	return []string{line, LogToDetails(log)}
}

func (e *Engine) stageEnv(environment, version string, releaseBranch string) map[string]string {
	env := map[string]string{
		"VERSION":     version,
		"ENVIRONMENT": environment,
	}
	if releaseBranch != "" {
		env["RELEASE_BRANCH"] = releaseBranch
	}
	return env
}

func (e *Engine) header(environment string) string {
	label := "deploy"
	if e.cfg.ComponentName != "" {
		label = e.cfg.ComponentName
	}
	color := "blue"
	if environment == e.cfg.ProductionEnvironment {
		color = "critical"
	}
	return fmt.Sprintf("![%s to %s](https://img.shields.io/badge/%s-%s-%s)",
		label, environment, badgeText(label), badgeText(environment), color)
}

func (e *Engine) footer() string {
	if e.cfg.RunURL == "" {
		return ""
	}
	return "---\n<sub>" + Link("Run details", e.cfg.RunURL) + "</sub>"
}

// badgeText escapes a shields.io static badge path segment.
func badgeText(s string) string {
	s = strings.ReplaceAll(s, "-", "--")
	s = strings.ReplaceAll(s, "_", "__")
	return url.PathEscape(s)
}

func (e *Engine) setQAStatus(ctx context.Context, pr *model.PullRequest, state model.CommitState, description, targetURL string) error {
	if targetURL == "" {
		targetURL = e.cfg.RunURL
	}
	err := e.gh.CreateCommitStatus(ctx, driven.CommitStatusRequest{
		SHA:         pr.HeadSHA,
		State:       state,
		Context:     e.cfg.StatusContext,
		Description: description,
		TargetURL:   targetURL,
	})
	if err != nil {
		return fmt.Errorf("setting %s status of #%d to %s: %w", e.cfg.StatusContext, pr.Number, state, err)
	}
	e.logger.Info("commit status set", "pr", pr.Number, "sha", pr.HeadSHA, "state", state)
	return nil
}

func (e *Engine) comment(ctx context.Context, issue int, lines ...string) error {
	if _, err := e.gh.CreateIssueComment(ctx, issue, strings.Join(lines, "\n\n")); err != nil {
		return fmt.Errorf("commenting on #%d: %w", issue, err)
	}
	return nil
}

// nopRunStore discards the journal when no database is configured.
type nopRunStore struct{}

var _ driven.RunStore = nopRunStore{}

func (nopRunStore) Create(context.Context, model.Run) error              { return nil }
func (nopRunStore) Update(context.Context, model.Run) error              { return nil }
func (nopRunStore) AddStage(context.Context, model.StageResult) error    { return nil }
func (nopRunStore) Get(context.Context, string) (*model.Run, error)      { return nil, model.ErrNotFound }
func (nopRunStore) ListRecent(context.Context, int) ([]model.Run, error) { return nil, nil }
func (nopRunStore) ListByPR(context.Context, int) ([]model.Run, error)   { return nil, nil }
