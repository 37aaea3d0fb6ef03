// Package github implements vcs.Client on the GitHub REST API and parses
// GitHub webhook payloads.
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"
	"golang.org/x/sync/errgroup"

	"github.com/shipitai/reviewbot/vcs"
)

const (
	// RequestTimeout bounds a single GitHub API call.
	RequestTimeout = 30 * time.Second

	// maxConcurrentCommits limits parallel commit fetches.
	maxConcurrentCommits = 5

	perPage = 100
)

// Compile-time interface satisfaction check.
var _ vcs.Client = (*Client)(nil)

// Client implements vcs.Client with go-github.
type Client struct {
	gh     *gh.Client
	logger *slog.Logger
}

// Credentials select how the client authenticates. AppID and PrivateKey
// take precedence over Token.
type Credentials struct {
	Token      string
	AppID      int64
	PrivateKey []byte
	// APIURL is the GitHub Enterprise API root; empty for github.com.
	APIURL string
}

// Factory builds clients, one per App installation when App credentials are
// configured. All clients share one HTTP cache.
type Factory struct {
	creds  Credentials
	cache  http.RoundTripper
	logger *slog.Logger
}

// NewFactory creates a Factory.
func NewFactory(creds Credentials, logger *slog.Logger) *Factory {
	return &Factory{
		creds:  creds,
		cache:  httpcache.NewMemoryCacheTransport(),
		logger: logger,
	}
}

// Client returns a client for the installation. installationID is ignored
// with token credentials.
func (f *Factory) Client(installationID int64) (*Client, error) {
	transport := f.cache
	if f.creds.AppID != 0 {
		if installationID == 0 {
			return nil, errors.New("github app credentials require an installation id")
		}
		itr, err := ghinstallation.New(f.cache, f.creds.AppID, installationID, f.creds.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create installation transport: %w", err)
		}
		if f.creds.APIURL != "" {
			itr.BaseURL = strings.TrimSuffix(f.creds.APIURL, "/")
		}
		transport = itr
	}

	// Transport stack: httpcache (ETag revalidation), installation auth,
	// secondary rate limit handling, then go-github.
	httpClient := github_ratelimit.NewClient(transport)
	httpClient.Timeout = RequestTimeout

	client := gh.NewClient(httpClient)
	if f.creds.AppID == 0 && f.creds.Token != "" {
		client = client.WithAuthToken(f.creds.Token)
	}
	if f.creds.APIURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(f.creds.APIURL, f.creds.APIURL)
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub API URL: %w", err)
		}
	}

	return &Client{gh: client, logger: f.logger}, nil
}

// NewClientWithHTTPClient creates a Client against baseURL. It is intended
// for tests with an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL string, logger *slog.Logger) (*Client, error) {
	client := gh.NewClient(httpClient)

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	client.BaseURL = u

	return &Client{gh: client, logger: logger}, nil
}

func (c *Client) Platform() vcs.Platform { return vcs.PlatformGitHub }

// GetPullRequestInfo fetches the pull request with all its files and commits.
func (c *Client) GetPullRequestInfo(ctx context.Context, owner, repo string, number int) (*vcs.PullRequestInfo, error) {
	pr, resp, err := c.gh.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, fmt.Errorf("getting pull request %s/%s#%d: %w", owner, repo, number, err)
	}
	c.logRateLimit(resp, "pulls.get")

	info := &vcs.PullRequestInfo{
		Number:       pr.GetNumber(),
		Title:        pr.GetTitle(),
		Author:       pr.GetUser().GetLogin(),
		URL:          pr.GetHTMLURL(),
		SourceBranch: pr.GetHead().GetRef(),
		TargetBranch: pr.GetBase().GetRef(),
		HeadSHA:      pr.GetHead().GetSHA(),
		IsDraft:      pr.GetDraft(),
	}

	opts := &gh.ListOptions{PerPage: perPage}
	for {
		files, resp, err := c.gh.PullRequests.ListFiles(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, fmt.Errorf("listing files for %s/%s#%d (page %d): %w", owner, repo, number, opts.Page, err)
		}
		c.logRateLimit(resp, "pulls.files")

		for _, f := range files {
			info.Files = append(info.Files, mapFile(f))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	opts = &gh.ListOptions{PerPage: perPage}
	for {
		commits, resp, err := c.gh.PullRequests.ListCommits(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, fmt.Errorf("listing commits for %s/%s#%d (page %d): %w", owner, repo, number, opts.Page, err)
		}
		c.logRateLimit(resp, "pulls.commits")

		for _, rc := range commits {
			info.Commits = append(info.Commits, mapCommit(rc))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return info, nil
}

// GetPushInfo describes the pushed head commit.
func (c *Client) GetPushInfo(ctx context.Context, owner, repo, commitSHA string) (*vcs.PushInfo, error) {
	rc, resp, err := c.gh.Repositories.GetCommit(ctx, owner, repo, commitSHA, nil)
	if err != nil {
		return nil, fmt.Errorf("getting commit %s in %s/%s: %w", commitSHA, owner, repo, err)
	}
	c.logRateLimit(resp, "repos.commit")

	info := &vcs.PushInfo{
		Author:  commitAuthor(rc),
		URL:     rc.GetHTMLURL(),
		Commits: []vcs.Commit{mapCommit(rc)},
	}
	for _, f := range rc.Files {
		info.Files = append(info.Files, mapFile(f))
	}
	return info, nil
}

// GetCommitFiles fetches the files of each commit and merges them in order.
func (c *Client) GetCommitFiles(ctx context.Context, owner, repo string, shas []string) ([]vcs.FileChange, error) {
	perCommit := make([][]vcs.FileChange, len(shas))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentCommits)
	for i, sha := range shas {
		g.Go(func() error {
			rc, resp, err := c.gh.Repositories.GetCommit(gctx, owner, repo, sha, nil)
			if err != nil {
				return fmt.Errorf("getting commit %s in %s/%s: %w", sha, owner, repo, err)
			}
			c.logRateLimit(resp, "repos.commit")

			for _, f := range rc.Files {
				perCommit[i] = append(perCommit[i], mapFile(f))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return vcs.MergeFileChanges(perCommit...), nil
}

// GetContentAsText returns a file's content at ref, or "" when it does not
// exist or is a directory.
func (c *Client) GetContentAsText(ctx context.Context, owner, repo, path, ref string) (string, error) {
	file, _, resp, err := c.gh.Repositories.GetContents(ctx, owner, repo, path, &gh.RepositoryContentGetOptions{Ref: ref})
	if isNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting %s at %s in %s/%s: %w", path, ref, owner, repo, err)
	}
	c.logRateLimit(resp, "repos.contents")

	if file == nil {
		return "", nil
	}

	content, err := file.GetContent()
	if err != nil {
		return "", fmt.Errorf("decoding %s: %w", path, err)
	}
	return content, nil
}

// CreatePullRequestComment adds a PR-level comment via the Issues API.
func (c *Client) CreatePullRequestComment(ctx context.Context, owner, repo string, number int, body string) error {
	_, resp, err := c.gh.Issues.CreateComment(ctx, owner, repo, number, &gh.IssueComment{Body: gh.Ptr(body)})
	if err != nil {
		return fmt.Errorf("creating comment on %s/%s#%d: %w", owner, repo, number, err)
	}
	c.logRateLimit(resp, "issues.comment")
	return nil
}

// CreatePullRequestLineComments submits the comments as one COMMENT review
// anchored to new-file lines.
func (c *Client) CreatePullRequestLineComments(ctx context.Context, owner, repo string, number int, comments []vcs.LineComment) error {
	if len(comments) == 0 {
		return nil
	}

	drafts := make([]*gh.DraftReviewComment, len(comments))
	for i, lc := range comments {
		drafts[i] = &gh.DraftReviewComment{
			Path: gh.Ptr(lc.File),
			Line: gh.Ptr(lc.Line),
			Side: gh.Ptr("RIGHT"),
			Body: gh.Ptr(lc.Comment),
		}
	}

	_, resp, err := c.gh.PullRequests.CreateReview(ctx, owner, repo, number, &gh.PullRequestReviewRequest{
		Event:    gh.Ptr("COMMENT"),
		Comments: drafts,
	})
	if err != nil {
		return fmt.Errorf("creating review on %s/%s#%d: %w", owner, repo, number, err)
	}
	c.logRateLimit(resp, "pulls.review")
	return nil
}

// CreateCommitComment comments on a commit.
func (c *Client) CreateCommitComment(ctx context.Context, owner, repo, sha, body string) error {
	_, resp, err := c.gh.Repositories.CreateComment(ctx, owner, repo, sha, &gh.RepositoryComment{Body: gh.Ptr(body)})
	if err != nil {
		return fmt.Errorf("creating comment on commit %s in %s/%s: %w", sha, owner, repo, err)
	}
	c.logRateLimit(resp, "repos.comment")
	return nil
}

func (c *Client) logRateLimit(resp *gh.Response, endpoint string) {
	if resp == nil {
		return
	}

	c.logger.Debug("github api call",
		"endpoint", endpoint,
		"rate_remaining", resp.Rate.Remaining,
		"rate_limit", resp.Rate.Limit,
	)

	if resp.Rate.Limit > 0 && resp.Rate.Remaining < 100 {
		c.logger.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset_in", time.Until(resp.Rate.Reset.Time).Round(time.Second),
		)
	}
}

func isNotFound(err error) bool {
	var errResp *gh.ErrorResponse
	return errors.As(err, &errResp) && errResp.Response != nil && errResp.Response.StatusCode == http.StatusNotFound
}

func mapFile(f *gh.CommitFile) vcs.FileChange {
	return vcs.FileChange{
		Filename:         f.GetFilename(),
		PreviousFilename: f.GetPreviousFilename(),
		Status:           mapStatus(f.GetStatus()),
		Additions:        f.GetAdditions(),
		Deletions:        f.GetDeletions(),
		Changes:          f.GetChanges(),
		Patch:            f.GetPatch(),
	}
}

func mapStatus(status string) string {
	switch status {
	case "added", "copied":
		return vcs.StatusAdded
	case "removed":
		return vcs.StatusRemoved
	case "renamed":
		return vcs.StatusRenamed
	default:
		return vcs.StatusModified
	}
}

func mapCommit(rc *gh.RepositoryCommit) vcs.Commit {
	return vcs.Commit{
		ID:        rc.GetSHA(),
		Message:   rc.GetCommit().GetMessage(),
		Author:    commitAuthor(rc),
		Timestamp: rc.GetCommit().GetAuthor().GetDate().Time,
	}
}

// commitAuthor prefers the GitHub login over the git author name.
func commitAuthor(rc *gh.RepositoryCommit) string {
	if login := rc.GetAuthor().GetLogin(); login != "" {
		return login
	}
	return rc.GetCommit().GetAuthor().GetName()
}
