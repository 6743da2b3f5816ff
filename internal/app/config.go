package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultLabelPrefix         = "backport/"
	defaultReleaseBranchPrefix = "release/"
	defaultLogLevel            = "info"
	defaultLogFormat           = "text"
	defaultReaperInterval      = time.Hour
	defaultCloneExpiration     = 24 * time.Hour
)

// Config captures runtime options sourced from the environment.
type Config struct {
	GitHubToken     string
	GitHubBaseURL   string
	GitHubUploadURL string

	CloneRootDir        string
	LabelPrefix         string
	ReleaseBranchPrefix string

	NotifyWebhookURL string
	NotifyChannel    string

	// ReapplyStatuses lists commit status contexts eligible for copying onto
	// a force-pushed head when the diff is unchanged.
	ReapplyStatuses []string

	ReaperInterval  time.Duration
	CloneExpiration time.Duration

	LogLevel  string
	LogFormat string
}

// LoadConfig reads options from the environment, applies defaults, and
// validates.
func LoadConfig() (Config, error) {
	cfg := Config{
		LabelPrefix:         strings.TrimSpace(envOrDefault("BACKPORT_LABEL_PREFIX", defaultLabelPrefix)),
		ReleaseBranchPrefix: strings.TrimSpace(envOrDefault("BACKPORT_RELEASE_BRANCH_PREFIX", defaultReleaseBranchPrefix)),
		LogLevel:            strings.ToLower(strings.TrimSpace(envOrDefault("BACKPORT_LOG_LEVEL", defaultLogLevel))),
		LogFormat:           strings.ToLower(strings.TrimSpace(envOrDefault("BACKPORT_LOG_FORMAT", defaultLogFormat))),
		ReaperInterval:      defaultReaperInterval,
		CloneExpiration:     defaultCloneExpiration,
	}

	cfg.GitHubToken = strings.TrimSpace(os.Getenv("BACKPORT_GITHUB_TOKEN"))
	if cfg.GitHubToken == "" {
		cfg.GitHubToken = strings.TrimSpace(os.Getenv("GITHUB_TOKEN"))
	}

	cfg.GitHubBaseURL = strings.TrimSpace(os.Getenv("BACKPORT_GITHUB_BASE_URL"))
	cfg.GitHubUploadURL = strings.TrimSpace(os.Getenv("BACKPORT_GITHUB_UPLOAD_URL"))

	cfg.CloneRootDir = strings.TrimSpace(os.Getenv("BACKPORT_CLONE_ROOT_DIR"))
	if cfg.CloneRootDir == "" {
		cfg.CloneRootDir = filepath.Join(os.TempDir(), "backport-bot")
	}

	cfg.NotifyWebhookURL = strings.TrimSpace(os.Getenv("BACKPORT_NOTIFY_WEBHOOK_URL"))
	cfg.NotifyChannel = strings.TrimSpace(os.Getenv("BACKPORT_NOTIFY_CHANNEL"))

	if raw := strings.TrimSpace(os.Getenv("BACKPORT_REAPPLY_STATUSES")); raw != "" {
		for _, context := range strings.Split(raw, ",") {
			if context = strings.TrimSpace(context); context != "" {
				cfg.ReapplyStatuses = append(cfg.ReapplyStatuses, context)
			}
		}
	}

	if raw := strings.TrimSpace(os.Getenv("BACKPORT_REAPER_INTERVAL")); raw != "" {
		interval, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse BACKPORT_REAPER_INTERVAL: %w", err)
		}
		cfg.ReaperInterval = interval
	}

	if raw := strings.TrimSpace(os.Getenv("BACKPORT_CLONE_EXPIRATION")); raw != "" {
		expiration, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse BACKPORT_CLONE_EXPIRATION: %w", err)
		}
		cfg.CloneExpiration = expiration
	}

	if cfg.GitHubToken == "" {
		return Config{}, fmt.Errorf("github token is required (set BACKPORT_GITHUB_TOKEN or GITHUB_TOKEN)")
	}

	if (cfg.GitHubBaseURL == "") != (cfg.GitHubUploadURL == "") {
		return Config{}, fmt.Errorf("BACKPORT_GITHUB_BASE_URL and BACKPORT_GITHUB_UPLOAD_URL must both be set for GitHub Enterprise")
	}

	if cfg.ReaperInterval <= 0 {
		return Config{}, fmt.Errorf("BACKPORT_REAPER_INTERVAL must be positive")
	}
	if cfg.CloneExpiration <= 0 {
		return Config{}, fmt.Errorf("BACKPORT_CLONE_EXPIRATION must be positive")
	}

	if cfg.NotifyChannel != "" && cfg.NotifyWebhookURL == "" {
		return Config{}, fmt.Errorf("BACKPORT_NOTIFY_CHANNEL requires BACKPORT_NOTIFY_WEBHOOK_URL")
	}

	supportedFormats := map[string]struct{}{"text": {}, "json": {}}
	if _, ok := supportedFormats[cfg.LogFormat]; !ok {
		return Config{}, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}
