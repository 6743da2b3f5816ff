package main

import (
	"context"
	"log"
	"os"

	"github.com/mergewell/backport-bot/internal/app"
	"github.com/mergewell/backport-bot/internal/event"
	"github.com/mergewell/backport-bot/internal/scm"
)

func main() {
	ctx := context.Background()

	cfg, err := app.LoadConfig()
	if err != nil {
		log.Printf("failed to load config: %v", err)
		os.Exit(1)
	}

	logger, err := app.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Printf("failed to create logger: %v", err)
		os.Exit(1)
	}

	eventPath := os.Getenv("BACKPORT_EVENT_PATH")
	if eventPath == "" {
		eventPath = os.Getenv("GITHUB_EVENT_PATH")
	}
	if eventPath == "" {
		logger.Error("no event to process (set BACKPORT_EVENT_PATH or GITHUB_EVENT_PATH)")
		os.Exit(1)
	}

	payload, err := event.ParsePullRequestEventFile(eventPath)
	if err != nil {
		logger.Error("failed to parse event", "path", eventPath, "error", err)
		os.Exit(1)
	}

	sessions := scm.NewRESTFactory(cfg.GitHubBaseURL, cfg.GitHubUploadURL)
	runner := app.NewRunner(cfg, sessions, logger)
	runner.Start(ctx)

	if err := runner.HandleEvent(ctx, payload); err != nil {
		logger.Error("event handling failed", "error", err)
		os.Exit(1)
	}
}
