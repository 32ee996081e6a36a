// Package config loads application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	defaultMainBranch   = "main"
	defaultPollInterval = 5 * time.Second
	defaultListenAddr   = "127.0.0.1:8080"
	defaultServerURL    = "https://github.com"
)

// Config holds the pipeline configuration for one workflow run.
type Config struct {
	ProductionEnvironment    string
	PreProductionEnvironment string
	SetupCommand             string
	ReleaseCommand           string
	DeployCommand            string
	VerifyCommand            string

	GitHubToken      string
	GitHubRepository string // "owner/repo"
	GitHubAPIURL     string // Empty for github.com.
	Actor            string
	ComponentName    string
	MainBranch       string

	EventName string
	EventPath string

	// RunURL links the tracking comment footer to the workflow run. Empty
	// when GITHUB_RUN_ID is unset.
	RunURL string

	PollInterval time.Duration
	WorkDir      string

	// DBPath enables the run journal when non-empty.
	DBPath string

	InActions bool
	Debug     bool
}

// ViewerConfig holds the configuration of the run journal viewer.
type ViewerConfig struct {
	DBPath     string
	ListenAddr string
}

// JournalEnabled reports whether runs should be recorded.
func (c *Config) JournalEnabled() bool {
	return c.DBPath != ""
}

// Load reads the action inputs and workflow environment and returns a
// validated Config. Every missing required variable is reported at once.
//
// Required: INPUT_PRODUCTION-ENVIRONMENT, INPUT_PRE-PRODUCTION-ENVIRONMENT,
// INPUT_SETUP, INPUT_RELEASE, INPUT_DEPLOY, INPUT_VERIFY, GITHUB_TOKEN,
// GITHUB_REPOSITORY. Optional variables with defaults: SHIPIT_MAIN_BRANCH
// (main), SHIPIT_POLL_INTERVAL (5s).
func Load() (*Config, error) {
	var missing []string
	required := func(key string) string {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg := &Config{
		ProductionEnvironment:    required("INPUT_PRODUCTION-ENVIRONMENT"),
		PreProductionEnvironment: required("INPUT_PRE-PRODUCTION-ENVIRONMENT"),
		SetupCommand:             required("INPUT_SETUP"),
		ReleaseCommand:           required("INPUT_RELEASE"),
		DeployCommand:            required("INPUT_DEPLOY"),
		VerifyCommand:            required("INPUT_VERIFY"),
		GitHubToken:              required("GITHUB_TOKEN"),
		GitHubRepository:         required("GITHUB_REPOSITORY"),

		GitHubAPIURL:  os.Getenv("GITHUB_API_URL"),
		Actor:         os.Getenv("GITHUB_ACTOR"),
		ComponentName: os.Getenv("ACTIONS_DEPLOY_NAME"),
		EventName:     os.Getenv("GITHUB_EVENT_NAME"),
		EventPath:     os.Getenv("GITHUB_EVENT_PATH"),
		WorkDir:       os.Getenv("SHIPIT_WORKDIR"),
		DBPath:        os.Getenv("SHIPIT_DB_PATH"),
		MainBranch:    defaultMainBranch,
		PollInterval:  defaultPollInterval,
		InActions:     os.Getenv("GITHUB_ACTIONS") == "true",
		Debug:         os.Getenv("RUNNER_DEBUG") == "1",
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if !validRepository(cfg.GitHubRepository) {
		return nil, fmt.Errorf("GITHUB_REPOSITORY %q is not in owner/repo format", cfg.GitHubRepository)
	}

	if cfg.ProductionEnvironment == cfg.PreProductionEnvironment {
		return nil, errors.New("production and pre-production environments must differ")
	}

	if v, ok := os.LookupEnv("SHIPIT_MAIN_BRANCH"); ok && v != "" {
		cfg.MainBranch = v
	}

	if v, ok := os.LookupEnv("SHIPIT_POLL_INTERVAL"); ok {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("SHIPIT_POLL_INTERVAL has invalid duration %q: %w", v, err)
		}
		if parsed <= 0 {
			return nil, fmt.Errorf("SHIPIT_POLL_INTERVAL must be positive, got %s", parsed)
		}
		cfg.PollInterval = parsed
	}

	cfg.RunURL = runURL(os.Getenv("GITHUB_SERVER_URL"), cfg.GitHubRepository, os.Getenv("GITHUB_RUN_ID"))

	return cfg, nil
}

// LoadViewer reads the journal viewer configuration. SHIPIT_DB_PATH is
// required; SHIPIT_LISTEN_ADDR defaults to 127.0.0.1:8080.
func LoadViewer() (*ViewerConfig, error) {
	dbPath := os.Getenv("SHIPIT_DB_PATH")
	if dbPath == "" {
		return nil, errors.New("SHIPIT_DB_PATH is required")
	}

	listenAddr := defaultListenAddr
	if v, ok := os.LookupEnv("SHIPIT_LISTEN_ADDR"); ok && v != "" {
		listenAddr = v
	}

	return &ViewerConfig{DBPath: dbPath, ListenAddr: listenAddr}, nil
}

func runURL(serverURL, repo, runID string) string {
	if runID == "" {
		return ""
	}
	if serverURL == "" {
		serverURL = defaultServerURL
	}
	return fmt.Sprintf("%s/%s/actions/runs/%s", strings.TrimSuffix(serverURL, "/"), repo, runID)
}

func validRepository(name string) bool {
	owner, repo, ok := strings.Cut(name, "/")
	return ok && owner != "" && repo != "" && !strings.Contains(repo, "/")
}
