// Package llm turns diffs into structured reviews using a language model.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shipitai/reviewbot/diff"
	"github.com/shipitai/reviewbot/vcs"
)

const (
	// RequestTimeout is the maximum time to wait for one model response.
	RequestTimeout = 3 * time.Minute

	// MaxTokens caps the length of a model response.
	MaxTokens = 4096
)

// Reviewer is what the review pipeline needs from a language model.
type Reviewer interface {
	GenerateReview(ctx context.Context, req ReviewRequest) (*ReviewResult, error)
	GenerateReport(ctx context.Context, commits []vcs.Commit) (string, error)
}

// Provider is a chat-completion backend.
type Provider interface {
	Name() string
	Complete(ctx context.Context, system, prompt string) (*Completion, error)
}

// Completion is a provider's text answer plus token accounting.
type Completion struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
}

// ReviewRequest is everything the model sees for one review pass.
type ReviewRequest struct {
	Title string
	// Diff is the formatted change set; Format says how it was rendered.
	Diff           string
	Format         diff.Format
	CommitMessages string
	// References are background documents, including the previous review
	// when the pass is incremental.
	References   []string
	Instructions string
	Language     string
}

// ReviewResult is the structured answer to a ReviewRequest.
type ReviewResult struct {
	Overview      string            `json:"overview"`
	DetailComment string            `json:"detail_comment"`
	LineComments  []vcs.LineComment `json:"line_comments"`
	// Notification is a short message for chat channels, empty for none.
	Notification string `json:"notification"`
}

// Client implements Reviewer on top of a Provider.
type Client struct {
	provider Provider
	logger   *slog.Logger
}

// NewClient creates a Client.
func NewClient(provider Provider, logger *slog.Logger) *Client {
	return &Client{provider: provider, logger: logger}
}

// GenerateReview asks the model for a review and parses its JSON answer.
func (c *Client) GenerateReview(ctx context.Context, req ReviewRequest) (*ReviewResult, error) {
	completion, err := c.complete(ctx, "generateReview", GetSystemPrompt(req.Instructions, req.Language), BuildReviewPrompt(req))
	if err != nil {
		return nil, err
	}

	result, dropped, err := ParseResponse(completion.Text)
	if err != nil {
		return nil, err
	}
	if dropped > 0 {
		c.logger.Warn("dropped malformed line comments", "count", dropped)
	}

	return result, nil
}

// GenerateReport summarizes a list of commits as a markdown report.
func (c *Client) GenerateReport(ctx context.Context, commits []vcs.Commit) (string, error) {
	if len(commits) == 0 {
		return "", fmt.Errorf("no commits to report on")
	}

	completion, err := c.complete(ctx, "generateReport", reportSystemPrompt, BuildReportPrompt(commits))
	if err != nil {
		return "", err
	}
	return cleanResponse(completion.Text), nil
}

func (c *Client) complete(ctx context.Context, operation, system, prompt string) (*Completion, error) {
	// Add timeout to prevent hanging indefinitely
	timeoutCtx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	completion, err := retryWithBackoff(timeoutCtx, c.logger, operation, func() (*Completion, error) {
		return c.provider.Complete(timeoutCtx, system, prompt)
	})
	if err != nil {
		return nil, fmt.Errorf("%s API error: %w", c.provider.Name(), err)
	}

	c.logger.Info("LLM API usage",
		"provider", c.provider.Name(),
		"operation", operation,
		"input_tokens", completion.InputTokens,
		"output_tokens", completion.OutputTokens,
	)

	return completion, nil
}
