package review

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gregjones/httpcache"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/shipitai/reviewbot/config"
)

const (
	// MaxReferenceSize is the maximum size for a single reference (50KB).
	MaxReferenceSize = 50 * 1024

	// TotalReferenceBudget is the total budget for all references (100KB).
	TotalReferenceBudget = 100 * 1024

	// MaxConcurrentReferences limits parallel reference fetches.
	MaxConcurrentReferences = 5

	// ReferenceFetchTimeout bounds loading all references of one review.
	ReferenceFetchTimeout = 30 * time.Second
)

// ReferenceLoader loads the background documents configured for a project.
type ReferenceLoader struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewReferenceLoader creates a loader. A nil httpClient gets an in-memory
// HTTP cache so unchanged documents are revalidated rather than re-downloaded.
func NewReferenceLoader(httpClient *http.Client, logger *slog.Logger) *ReferenceLoader {
	if httpClient == nil {
		httpClient = httpcache.NewMemoryCacheTransport().Client()
		httpClient.Timeout = ReferenceFetchTimeout
	}
	return &ReferenceLoader{httpClient: httpClient, logger: logger}
}

// Load fetches refs concurrently and returns their contents in input order.
// Failed or empty references are left out; a failure never affects the
// others. Each reference is truncated to MaxReferenceSize and loading stops
// once TotalReferenceBudget is used.
func (l *ReferenceLoader) Load(ctx context.Context, refs []config.Reference, client config.ContentFetcher, owner, repo, ref string) []string {
	if len(refs) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, ReferenceFetchTimeout)
	defer cancel()

	contents := make([]string, len(refs))
	sem := semaphore.NewWeighted(MaxConcurrentReferences)
	var g errgroup.Group

	for i, r := range refs {
		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				return nil
			}
			defer sem.Release(1)

			content, err := l.fetch(ctx, r, client, owner, repo, ref)
			if err != nil {
				l.logger.Warn("failed to load reference", "name", r.Name, "path", r.Path, "url", r.URL, "error", err)
				return nil
			}
			contents[i] = content
			return nil
		})
	}
	_ = g.Wait()

	var result []string
	var total int
	for i, content := range contents {
		if content == "" {
			continue
		}
		if len(content) > MaxReferenceSize {
			content = content[:MaxReferenceSize]
		}
		if refs[i].Name != "" {
			content = "## " + refs[i].Name + "\n" + content
		}
		if total+len(content) > TotalReferenceBudget {
			l.logger.Debug("budget exhausted for references", "name", refs[i].Name)
			break
		}
		total += len(content)
		result = append(result, content)
	}

	return result
}

func (l *ReferenceLoader) fetch(ctx context.Context, r config.Reference, client config.ContentFetcher, owner, repo, ref string) (string, error) {
	if r.Path != "" {
		return client.GetContentAsText(ctx, owner, repo, r.Path, ref)
	}
	if r.URL == "" {
		return "", nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", r.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch %s: status %d", r.URL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxReferenceSize+1))
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", r.URL, err)
	}
	return string(body), nil
}
