// Package review runs the per-event review pipeline: trigger gating,
// incremental scoping, the LLM call, persistence, comment posting and
// notification.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"

	"github.com/shipitai/reviewbot/config"
	"github.com/shipitai/reviewbot/diff"
	"github.com/shipitai/reviewbot/llm"
	"github.com/shipitai/reviewbot/notify"
	"github.com/shipitai/reviewbot/storage"
	"github.com/shipitai/reviewbot/vcs"
)

// previousReviewHeading introduces the prior review among the references.
const previousReviewHeading = "## Previous review\n"

// Notifier delivers a notification to a project's channels. *notify.Fanout
// satisfies it.
type Notifier interface {
	Send(ctx context.Context, msg notify.Message, configs []notify.ChannelConfig)
}

// Options are process-wide switches read once at startup.
type Options struct {
	// PushReviewEnabled turns on reviews of plain pushes.
	PushReviewEnabled bool
	// ForceReview re-reviews heads that were already reviewed. Debug only.
	ForceReview bool
}

// Orchestrator reviews pull requests and pushes.
type Orchestrator struct {
	reviewer   llm.Reviewer
	store      storage.Storage
	configs    *config.Loader
	references *ReferenceLoader
	notifier   Notifier
	opts       Options
	logger     *slog.Logger
}

// NewOrchestrator creates an Orchestrator. notifier may be nil.
func NewOrchestrator(reviewer llm.Reviewer, store storage.Storage, configs *config.Loader, references *ReferenceLoader, notifier Notifier, opts Options, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		reviewer:   reviewer,
		store:      store,
		configs:    configs,
		references: references,
		notifier:   notifier,
		opts:       opts,
		logger:     logger,
	}
}

// HandlePullRequest reviews the new commits of a pull request. Errors and
// panics are logged, never returned.
func (o *Orchestrator) HandlePullRequest(ctx context.Context, client vcs.Client, ev vcs.PullRequestEvent) {
	logger := o.logger.With(
		"platform", client.Platform(),
		"project", ev.Owner+"/"+ev.Repo,
		"pr", ev.Number,
	)
	o.guard(logger, config.EventPullRequest, func() error {
		return o.reviewPullRequest(ctx, logger, client, ev)
	})
}

// HandlePush reviews a single push. Errors and panics are logged, never
// returned.
func (o *Orchestrator) HandlePush(ctx context.Context, client vcs.Client, ev vcs.PushEvent) {
	logger := o.logger.With(
		"platform", client.Platform(),
		"project", ev.Owner+"/"+ev.Repo,
		"branch", ev.Branch,
		"commit", ev.CommitSHA,
	)
	o.guard(logger, config.EventPush, func() error {
		return o.reviewPush(ctx, logger, client, ev)
	})
}

// GenerateReport summarizes commits with the LLM.
func (o *Orchestrator) GenerateReport(ctx context.Context, commits []vcs.Commit) (string, error) {
	return o.reviewer.GenerateReport(ctx, commits)
}

func (o *Orchestrator) guard(logger *slog.Logger, event string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("review panicked", "event", event, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	if err := fn(); err != nil {
		logger.Error("review failed", "event", event, "error", err)
	}
}

func (o *Orchestrator) reviewPullRequest(ctx context.Context, logger *slog.Logger, client vcs.Client, ev vcs.PullRequestEvent) error {
	logger.Info("starting pull request review")

	info, err := client.GetPullRequestInfo(ctx, ev.Owner, ev.Repo, ev.Number)
	if err != nil {
		return fmt.Errorf("failed to fetch pull request: %w", err)
	}

	cfg := o.configs.Load(ctx, client, ev.Owner, ev.Repo, info.SourceBranch)
	if !cfg.Review.Enabled {
		logger.Info("review skipped, disabled by config")
		return nil
	}

	files := config.FilterReviewableFiles(info.Files, cfg.Files)
	if reason := config.SkipReason(cfg, config.SkipParams{
		Files:     files,
		EventType: config.EventPullRequest,
		Branch:    info.TargetBranch,
		Title:     info.Title,
		IsDraft:   info.IsDraft,
	}); reason != "" {
		logger.Info("review skipped", "reason", reason, "files", len(files))
		return nil
	}

	identifier := SlugifyURL(info.URL)
	existing, err := o.store.GetMergeRequestReview(ctx, identifier)
	if err != nil {
		return fmt.Errorf("failed to load review history: %w", err)
	}

	head := headCommit(info)
	lastReviewed := ""
	if existing != nil {
		lastReviewed = existing.LastCommitID()
	}
	if lastReviewed != "" && lastReviewed == head && !o.opts.ForceReview {
		logger.Info("review skipped, head already reviewed", "commit", head)
		return nil
	}

	scopeFiles, scopeCommits := files, info.Commits
	if lastReviewed != "" {
		newCommits, found := commitsAfter(info.Commits, lastReviewed)
		switch {
		case !found:
			logger.Info("last reviewed commit not in pull request, reviewing all commits", "last_reviewed", lastReviewed)
		case len(newCommits) > 0:
			changed, err := client.GetCommitFiles(ctx, ev.Owner, ev.Repo, commitIDs(newCommits))
			if err != nil {
				return fmt.Errorf("failed to fetch new commit files: %w", err)
			}
			scopeFiles = config.FilterReviewableFiles(changed, cfg.Files)
			scopeCommits = newCommits
			if len(scopeFiles) == 0 {
				logger.Info("review skipped, no reviewable files in new commits", "commits", len(newCommits))
				return nil
			}
		}
	}

	logger.Info("review scope",
		"incremental", len(scopeCommits) < len(info.Commits),
		"commits", len(scopeCommits),
		"files", len(scopeFiles),
	)

	references := o.references.Load(ctx, cfg.References, client, ev.Owner, ev.Repo, info.SourceBranch)
	if existing != nil {
		if last := existing.LastRecord(); last != nil && last.LLMResult != "" {
			references = append(references, previousReviewHeading+last.LLMResult)
		}
	}

	result, err := o.reviewer.GenerateReview(ctx, llm.ReviewRequest{
		Title:          info.Title,
		Diff:           diff.FormatDiffs(scopeFiles, cfg.Review.DiffFormat, cfg.Review.IncludeDeletedFiles),
		Format:         cfg.Review.DiffFormat,
		CommitMessages: commitMessages(scopeCommits),
		References:     references,
		Instructions:   cfg.Review.Instructions,
		Language:       cfg.Review.Language,
	})
	if err != nil {
		return fmt.Errorf("failed to generate review: %w", err)
	}

	reviewedHead := head
	if len(scopeCommits) > 0 {
		reviewedHead = scopeCommits[len(scopeCommits)-1].ID
	}
	record := storage.ReviewRecord{LastCommitID: reviewedHead, LLMResult: llm.LLMResult(result)}
	additions, deletions := vcs.TotalChanges(info.Files)

	if existing == nil {
		err = o.store.CreateMergeRequestReview(ctx, &storage.MergeRequestReview{
			Identifier:   identifier,
			Platform:     client.Platform(),
			Project:      ev.Owner + "/" + ev.Repo,
			Number:       info.Number,
			Title:        info.Title,
			Author:       info.Author,
			URL:          info.URL,
			SourceBranch: info.SourceBranch,
			TargetBranch: info.TargetBranch,
			Additions:    additions,
			Deletions:    deletions,
			Commits:      info.Commits,
			Records:      []storage.ReviewRecord{record},
		})
	} else {
		existing.Title = info.Title
		existing.Additions = additions
		existing.Deletions = deletions
		existing.Commits = info.Commits
		err = o.store.AppendReviewRecord(ctx, existing, lastReviewed, record)
	}
	if errors.Is(err, storage.ErrConflict) {
		logger.Warn("review superseded by a concurrent delivery, not posting", "error", err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to save review: %w", err)
	}

	comments := diff.ValidateAndCorrectLineNumbers(result.LineComments, scopeFiles, cfg.Review.LineMatching)
	logger.Info("line comments reconciled",
		"proposed", len(result.LineComments),
		"kept", len(comments),
		"corrected", countCorrected(comments),
	)

	if len(comments) > 0 {
		lineComments := make([]vcs.LineComment, len(comments))
		for i, c := range comments {
			lineComments[i] = c.LineComment
		}
		if err := client.CreatePullRequestLineComments(ctx, ev.Owner, ev.Repo, ev.Number, lineComments); err != nil {
			return fmt.Errorf("failed to post line comments: %w", err)
		}
	}

	if result.DetailComment != "" {
		if err := client.CreatePullRequestComment(ctx, ev.Owner, ev.Repo, ev.Number, result.DetailComment); err != nil {
			return fmt.Errorf("failed to post review comment: %w", err)
		}
	}

	o.notify(ctx, cfg, result.Notification, info.Title, info.URL)

	logger.Info("pull request review complete", "commit", reviewedHead, "comments", len(comments))
	return nil
}

func (o *Orchestrator) reviewPush(ctx context.Context, logger *slog.Logger, client vcs.Client, ev vcs.PushEvent) error {
	if !o.opts.PushReviewEnabled {
		logger.Debug("push review disabled")
		return nil
	}

	cfg := o.configs.Load(ctx, client, ev.Owner, ev.Repo, ev.Branch)
	if !cfg.Review.Enabled {
		logger.Info("review skipped, disabled by config")
		return nil
	}
	if !config.ShouldTriggerReview(cfg.Trigger, config.EventPush, ev.Branch, "", false) {
		logger.Info("review skipped", "reason", config.SkipNotTriggered)
		return nil
	}

	logger.Info("starting push review")

	info, err := client.GetPushInfo(ctx, ev.Owner, ev.Repo, ev.CommitSHA)
	if err != nil {
		return fmt.Errorf("failed to fetch push: %w", err)
	}

	files := config.FilterReviewableFiles(info.Files, cfg.Files)
	if reason := config.SkipReason(cfg, config.SkipParams{
		Files:     files,
		EventType: config.EventPush,
		Branch:    ev.Branch,
	}); reason != "" {
		logger.Info("review skipped", "reason", reason, "files", len(files))
		return nil
	}

	identifier := pushIdentifier(client.Platform(), ev, info)
	existing, err := o.store.GetPushReview(ctx, identifier)
	if err != nil {
		return fmt.Errorf("failed to load push review: %w", err)
	}
	if existing != nil && !o.opts.ForceReview {
		logger.Info("review skipped, push already reviewed")
		return nil
	}

	references := o.references.Load(ctx, cfg.References, client, ev.Owner, ev.Repo, ev.CommitSHA)

	title := ""
	if len(info.Commits) > 0 {
		title = info.Commits[len(info.Commits)-1].Title()
	}

	result, err := o.reviewer.GenerateReview(ctx, llm.ReviewRequest{
		Title:          title,
		Diff:           diff.FormatDiffs(files, cfg.Review.DiffFormat, cfg.Review.IncludeDeletedFiles),
		Format:         cfg.Review.DiffFormat,
		CommitMessages: commitMessages(info.Commits),
		References:     references,
		Instructions:   cfg.Review.Instructions,
		Language:       cfg.Review.Language,
	})
	if err != nil {
		return fmt.Errorf("failed to generate review: %w", err)
	}

	additions, deletions := vcs.TotalChanges(info.Files)
	err = o.store.CreatePushReview(ctx, &storage.PushReview{
		Identifier: identifier,
		Platform:   client.Platform(),
		Project:    ev.Owner + "/" + ev.Repo,
		Branch:     ev.Branch,
		Author:     info.Author,
		URL:        info.URL,
		CommitID:   ev.CommitSHA,
		Commits:    info.Commits,
		Additions:  additions,
		Deletions:  deletions,
		Overview:   result.Overview,
		LLMResult:  llm.LLMResult(result),
	})
	switch {
	case errors.Is(err, storage.ErrConflict) && !o.opts.ForceReview:
		logger.Warn("push reviewed by a concurrent delivery, not posting", "error", err)
		return nil
	case errors.Is(err, storage.ErrConflict):
		logger.Warn("forced re-review not stored", "error", err)
	case err != nil:
		return fmt.Errorf("failed to save push review: %w", err)
	}

	if result.DetailComment != "" {
		if err := client.CreateCommitComment(ctx, ev.Owner, ev.Repo, ev.CommitSHA, result.DetailComment); err != nil {
			return fmt.Errorf("failed to post commit comment: %w", err)
		}
	}

	notifyTitle := fmt.Sprintf("%s/%s@%s", ev.Owner, ev.Repo, ev.Branch)
	if title != "" {
		notifyTitle += ": " + title
	}
	o.notify(ctx, cfg, result.Notification, notifyTitle, info.URL)

	logger.Info("push review complete")
	return nil
}

func (o *Orchestrator) notify(ctx context.Context, cfg *config.ProjectConfig, content, title, url string) {
	if o.notifier == nil || content == "" || len(cfg.Integrations) == 0 {
		return
	}
	o.notifier.Send(ctx, notify.Message{
		Title:   title,
		Content: content,
		MsgType: notify.MsgTypeMarkdown,
		URL:     url,
	}, cfg.Integrations)
}

// headCommit is the newest commit of the pull request.
func headCommit(info *vcs.PullRequestInfo) string {
	if len(info.Commits) > 0 {
		return info.Commits[len(info.Commits)-1].ID
	}
	return info.HeadSHA
}

// commitsAfter returns the commits following id. found is false when id is
// not in commits, for example after a force push.
func commitsAfter(commits []vcs.Commit, id string) (after []vcs.Commit, found bool) {
	for i, c := range commits {
		if c.ID == id {
			return commits[i+1:], true
		}
	}
	return nil, false
}

func commitIDs(commits []vcs.Commit) []string {
	ids := make([]string, len(commits))
	for i, c := range commits {
		ids[i] = c.ID
	}
	return ids
}

func commitMessages(commits []vcs.Commit) string {
	messages := make([]string, 0, len(commits))
	for _, c := range commits {
		if m := strings.TrimSpace(c.Message); m != "" {
			messages = append(messages, m)
		}
	}
	return strings.Join(messages, "; ")
}

func countCorrected(comments []diff.CorrectedComment) int {
	n := 0
	for _, c := range comments {
		if c.Corrected {
			n++
		}
	}
	return n
}

// pushIdentifier slugs the commit URL, falling back to the platform, project
// and commit when the host gave no URL.
func pushIdentifier(platform vcs.Platform, ev vcs.PushEvent, info *vcs.PushInfo) string {
	if info.URL != "" {
		return SlugifyURL(info.URL)
	}
	return SlugifyURL(fmt.Sprintf("%s/%s/%s/commit/%s", platform, ev.Owner, ev.Repo, ev.CommitSHA))
}
