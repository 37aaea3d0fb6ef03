// Package main is an offline companion to the server: it formats a git diff
// the way the bot sends it to the model, reconciles proposed line comments
// with the diff and, optionally, runs a full review against an LLM.
//
// Usage:
//
//	git diff main | go run ./cmd/local
//	go run ./cmd/local --diff change.patch --comments proposed.json
//	git diff main | go run ./cmd/local --review --provider openai
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/shipitai/reviewbot/config"
	"github.com/shipitai/reviewbot/diff"
	"github.com/shipitai/reviewbot/llm"
	"github.com/shipitai/reviewbot/vcs"
)

type options struct {
	diffPath     string
	configPath   string
	commentsPath string
	format       string
	review       bool
	title        string
	provider     string
	model        string
	apiKey       string
	baseURL      string
	timeout      time.Duration
	verbose      bool
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(context.Background(), opts, os.Stdin, os.Stdout, logger, nil); err != nil {
		logger.Error("failed", "error", err)
		os.Exit(1)
	}
}

func env(fallback string, keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return fallback
}

func parseFlags(args []string) (options, error) {
	var opts options

	fs := pflag.NewFlagSet("local", pflag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Offline diff formatting and review\n\nFlags:\n")
		fs.PrintDefaults()
	}

	fs.StringVarP(&opts.diffPath, "diff", "d", "-", "Unified diff file, - for stdin")
	fs.StringVarP(&opts.configPath, "config", "c", "", "Project config file (defaults apply when empty)")
	fs.StringVar(&opts.commentsPath, "comments", "", "JSON array of {file,line,comment} to reconcile with the diff")
	fs.StringVar(&opts.format, "format", "", "Diff format: raw or ai-friendly (overrides the config)")
	fs.BoolVar(&opts.review, "review", false, "Ask the LLM for a review")
	fs.StringVar(&opts.title, "title", "Local changes", "Title sent with the review request")
	fs.StringVar(&opts.provider, "provider", env(llm.ProviderAnthropic, "LLM_PROVIDER"), "LLM provider: anthropic or openai")
	fs.StringVar(&opts.model, "model", env("", "LLM_MODEL"), "LLM model (provider default when empty)")
	fs.StringVar(&opts.apiKey, "api-key", "", "LLM API key (defaults to ANTHROPIC_API_KEY or OPENAI_API_KEY)")
	fs.StringVar(&opts.baseURL, "base-url", env("", "OPENAI_BASE_URL"), "OpenAI-compatible endpoint")
	fs.DurationVar(&opts.timeout, "timeout", 5*time.Minute, "Review timeout")
	fs.BoolVarP(&opts.verbose, "verbose", "v", false, "Debug logging")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	if opts.apiKey == "" {
		switch strings.ToLower(opts.provider) {
		case llm.ProviderOpenAI:
			opts.apiKey = os.Getenv("OPENAI_API_KEY")
		default:
			opts.apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}
	if opts.review && opts.commentsPath != "" {
		return options{}, errors.New("--review and --comments are mutually exclusive")
	}

	return opts, nil
}

// reviewOutput is printed by --review and --comments.
type reviewOutput struct {
	Overview      string                  `json:"overview,omitempty"`
	DetailComment string                  `json:"detail_comment,omitempty"`
	Comments      []diff.CorrectedComment `json:"comments"`
	Dropped       int                     `json:"dropped"`
}

// run executes one invocation. reviewer is built from opts when nil.
func run(ctx context.Context, opts options, stdin io.Reader, stdout io.Writer, logger *slog.Logger, reviewer llm.Reviewer) error {
	cfg := config.DefaultProjectConfig()
	if opts.configPath != "" {
		loaded, err := config.LoadFile(opts.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if opts.format != "" {
		cfg.Review.DiffFormat = diff.Format(opts.format)
	}

	text, err := readInput(opts.diffPath, stdin)
	if err != nil {
		return err
	}

	all := diff.SplitUnifiedDiff(text)
	files := config.FilterReviewableFiles(all, cfg.Files)
	logger.Debug("parsed diff", "files", len(all), "reviewable", len(files))
	if len(files) == 0 {
		return errors.New("no reviewable files in diff")
	}
	if config.CheckReviewLimits(files, cfg.Review) {
		logger.Warn("diff exceeds review limits",
			"files", len(files),
			"max_files", cfg.Review.MaxFiles,
			"max_content_length", cfg.Review.MaxContentLength,
		)
	}

	formatted := diff.FormatDiffs(files, cfg.Review.DiffFormat, cfg.Review.IncludeDeletedFiles)

	switch {
	case opts.commentsPath != "":
		data, err := os.ReadFile(opts.commentsPath)
		if err != nil {
			return fmt.Errorf("failed to read comments: %w", err)
		}
		var proposed []vcs.LineComment
		if err := json.Unmarshal(data, &proposed); err != nil {
			return fmt.Errorf("failed to parse comments: %w", err)
		}
		corrected := diff.ValidateAndCorrectLineNumbers(proposed, files, cfg.Review.LineMatching)
		return writeJSON(stdout, reviewOutput{Comments: corrected, Dropped: len(proposed) - len(corrected)})

	case opts.review:
		if reviewer == nil {
			provider, err := llm.NewProvider(llm.ProviderConfig{
				Name:    opts.provider,
				Model:   opts.model,
				APIKey:  opts.apiKey,
				BaseURL: opts.baseURL,
			})
			if err != nil {
				return err
			}
			reviewer = llm.NewClient(provider, logger)
		}

		ctx, cancel := context.WithTimeout(ctx, opts.timeout)
		defer cancel()

		result, err := reviewer.GenerateReview(ctx, llm.ReviewRequest{
			Title:        opts.title,
			Diff:         formatted,
			Format:       cfg.Review.DiffFormat,
			Instructions: cfg.Review.Instructions,
			Language:     cfg.Review.Language,
		})
		if err != nil {
			return err
		}
		corrected := diff.ValidateAndCorrectLineNumbers(result.LineComments, files, cfg.Review.LineMatching)
		return writeJSON(stdout, reviewOutput{
			Overview:      result.Overview,
			DetailComment: result.DetailComment,
			Comments:      corrected,
			Dropped:       len(result.LineComments) - len(corrected),
		})

	default:
		_, err := io.WriteString(stdout, formatted+"\n")
		return err
	}
}

func readInput(path string, stdin io.Reader) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "" || path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read diff: %w", err)
	}
	return string(data), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
