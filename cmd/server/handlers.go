package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/shipitai/reviewbot/github"
	"github.com/shipitai/reviewbot/gitlab"
	"github.com/shipitai/reviewbot/vcs"
)

// maxPayloadSize caps webhook bodies. GitHub's own limit is 25MB.
const maxPayloadSize = 25 << 20

// reviewService is the part of review.Orchestrator the handlers use.
type reviewService interface {
	HandlePullRequest(ctx context.Context, client vcs.Client, ev vcs.PullRequestEvent)
	HandlePush(ctx context.Context, client vcs.Client, ev vcs.PushEvent)
	GenerateReport(ctx context.Context, commits []vcs.Commit) (string, error)
}

type server struct {
	reviews reviewService
	// githubClient is nil when GitHub is not configured.
	githubClient func(installationID int64) (vcs.Client, error)
	// gitlabClient is nil when GitLab is not configured.
	gitlabClient  vcs.Client
	reviewTimeout time.Duration
	logger        *slog.Logger

	wg sync.WaitGroup
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhooks/github", s.handleGitHubWebhook)
	mux.HandleFunc("POST /webhooks/gitlab", s.handleGitLabWebhook)
	mux.HandleFunc("POST /api/report", s.handleReport)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)
	return mux
}

func (s *server) handleRoot(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]string{
		"name":   "reviewbot",
		"status": "running",
	})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *server) handleGitHubWebhook(w http.ResponseWriter, r *http.Request) {
	if s.githubClient == nil {
		http.Error(w, "github is not configured", http.StatusNotFound)
		return
	}

	eventType := r.Header.Get("X-GitHub-Event")
	if eventType == "" {
		http.Error(w, "missing X-GitHub-Event header", http.StatusBadRequest)
		return
	}

	payload, ok := s.readPayload(w, r)
	if !ok {
		return
	}

	logger := s.logger.With("platform", "github", "event", eventType, "delivery", r.Header.Get("X-GitHub-Delivery"))
	logger.Info("received webhook", "size", len(payload))

	event, err := github.ParseWebhook(eventType, payload)
	if errors.Is(err, github.ErrUnsupportedEvent) {
		jsonResponse(w, http.StatusOK, map[string]string{"message": "event ignored"})
		return
	}
	if err != nil {
		logger.Error("failed to parse event", "error", err)
		http.Error(w, "failed to parse event", http.StatusBadRequest)
		return
	}

	if event.Type == github.EventPing {
		jsonResponse(w, http.StatusOK, map[string]string{"message": "pong"})
		return
	}
	if event.PullRequest == nil && event.Push == nil {
		jsonResponse(w, http.StatusOK, map[string]string{"message": "event skipped"})
		return
	}

	client, err := s.githubClient(event.InstallationID)
	if err != nil {
		logger.Error("failed to create github client", "installation_id", event.InstallationID, "error", err)
		http.Error(w, "failed to create client", http.StatusInternalServerError)
		return
	}

	s.dispatch(client, event.PullRequest, event.Push)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "review started"})
}

func (s *server) handleGitLabWebhook(w http.ResponseWriter, r *http.Request) {
	if s.gitlabClient == nil {
		http.Error(w, "gitlab is not configured", http.StatusNotFound)
		return
	}

	eventType := r.Header.Get("X-Gitlab-Event")
	if eventType == "" {
		http.Error(w, "missing X-Gitlab-Event header", http.StatusBadRequest)
		return
	}

	payload, ok := s.readPayload(w, r)
	if !ok {
		return
	}

	logger := s.logger.With("platform", "gitlab", "event", eventType)
	logger.Info("received webhook", "size", len(payload))

	event, err := gitlab.ParseWebhook(eventType, payload)
	if errors.Is(err, gitlab.ErrUnsupportedEvent) {
		jsonResponse(w, http.StatusOK, map[string]string{"message": "event ignored"})
		return
	}
	if err != nil {
		logger.Error("failed to parse event", "error", err)
		http.Error(w, "failed to parse event", http.StatusBadRequest)
		return
	}

	if event.PullRequest == nil && event.Push == nil {
		jsonResponse(w, http.StatusOK, map[string]string{"message": "event skipped"})
		return
	}

	s.dispatch(s.gitlabClient, event.PullRequest, event.Push)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "review started"})
}

type reportRequest struct {
	Commits []vcs.Commit `json:"commits"`
}

func (s *server) handleReport(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxPayloadSize)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Commits) == 0 {
		http.Error(w, "commits are required", http.StatusBadRequest)
		return
	}

	report, err := s.reviews.GenerateReport(r.Context(), req.Commits)
	if err != nil {
		s.logger.Error("report generation failed", "commits", len(req.Commits), "error", err)
		http.Error(w, "report generation failed", http.StatusBadGateway)
		return
	}

	jsonResponse(w, http.StatusOK, map[string]string{"report": report})
}

func (s *server) readPayload(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	defer r.Body.Close()
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadSize))
	if err != nil {
		s.logger.Error("failed to read body", "error", err)
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return nil, false
	}
	return payload, true
}

// dispatch runs the review in the background so the webhook is acknowledged
// immediately.
func (s *server) dispatch(client vcs.Client, pr *vcs.PullRequestEvent, push *vcs.PushEvent) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.reviewTimeout)
		defer cancel()

		if pr != nil {
			s.reviews.HandlePullRequest(ctx, client, *pr)
		}
		if push != nil {
			s.reviews.HandlePush(ctx, client, *push)
		}
	}()
}

// wait blocks until background reviews finish or ctx is done.
func (s *server) wait(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("reviews still running at shutdown")
	}
}

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
