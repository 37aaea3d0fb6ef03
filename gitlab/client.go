// Package gitlab implements vcs.Client on the GitLab REST v4 API and parses
// GitLab webhook payloads.
package gitlab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gregjones/httpcache"
	"golang.org/x/sync/errgroup"

	"github.com/shipitai/reviewbot/diff"
	"github.com/shipitai/reviewbot/vcs"
)

const (
	// RequestTimeout bounds a single GitLab API call.
	RequestTimeout = 30 * time.Second

	maxConcurrentCommits = 5
	perPage              = 100
)

var _ vcs.Client = (*Client)(nil)

var errNotFound = errors.New("not found")

// Client implements vcs.Client against one GitLab instance.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client for the instance at baseURL (for example
// https://gitlab.com). GET responses are revalidated through an in-memory
// HTTP cache.
func NewClient(baseURL, token string, logger *slog.Logger) *Client {
	httpClient := httpcache.NewMemoryCacheTransport().Client()
	httpClient.Timeout = RequestTimeout
	return NewClientWithHTTPClient(httpClient, baseURL, token, logger)
}

// NewClientWithHTTPClient creates a client with a caller-supplied HTTP client.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL, token string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/") + "/api/v4",
		token:      token,
		httpClient: httpClient,
		logger:     logger,
	}
}

func (c *Client) Platform() vcs.Platform { return vcs.PlatformGitLab }

type user struct {
	Username string `json:"username"`
}

type diffRefs struct {
	BaseSHA  string `json:"base_sha"`
	StartSHA string `json:"start_sha"`
	HeadSHA  string `json:"head_sha"`
}

type mergeRequest struct {
	IID          int      `json:"iid"`
	Title        string   `json:"title"`
	Author       user     `json:"author"`
	WebURL       string   `json:"web_url"`
	SourceBranch string   `json:"source_branch"`
	TargetBranch string   `json:"target_branch"`
	SHA          string   `json:"sha"`
	Draft        bool     `json:"draft"`
	WIP          bool     `json:"work_in_progress"`
	DiffRefs     diffRefs `json:"diff_refs"`
}

type fileDiff struct {
	OldPath     string `json:"old_path"`
	NewPath     string `json:"new_path"`
	Diff        string `json:"diff"`
	NewFile     bool   `json:"new_file"`
	RenamedFile bool   `json:"renamed_file"`
	DeletedFile bool   `json:"deleted_file"`
}

type commit struct {
	ID           string    `json:"id"`
	Message      string    `json:"message"`
	AuthorName   string    `json:"author_name"`
	AuthoredDate time.Time `json:"authored_date"`
	WebURL       string    `json:"web_url"`
}

// projectPath returns the URL-encoded project id GitLab accepts in place of
// the numeric id.
func projectPath(owner, repo string) string {
	return url.PathEscape(owner + "/" + repo)
}

// GetPullRequestInfo fetches the merge request with its diffs and commits.
func (c *Client) GetPullRequestInfo(ctx context.Context, owner, repo string, number int) (*vcs.PullRequestInfo, error) {
	mrPath := fmt.Sprintf("/projects/%s/merge_requests/%d", projectPath(owner, repo), number)

	mr, err := c.getMergeRequest(ctx, mrPath)
	if err != nil {
		return nil, fmt.Errorf("getting merge request %s/%s!%d: %w", owner, repo, number, err)
	}

	info := &vcs.PullRequestInfo{
		Number:       mr.IID,
		Title:        mr.Title,
		Author:       mr.Author.Username,
		URL:          mr.WebURL,
		SourceBranch: mr.SourceBranch,
		TargetBranch: mr.TargetBranch,
		HeadSHA:      mr.SHA,
		IsDraft:      mr.Draft || mr.WIP,
	}

	var diffs []fileDiff
	if err := c.getAll(ctx, mrPath+"/diffs", &diffs); err != nil {
		return nil, fmt.Errorf("listing diffs for %s/%s!%d: %w", owner, repo, number, err)
	}
	for _, d := range diffs {
		info.Files = append(info.Files, mapDiff(d))
	}

	var commits []commit
	if err := c.getAll(ctx, mrPath+"/commits", &commits); err != nil {
		return nil, fmt.Errorf("listing commits for %s/%s!%d: %w", owner, repo, number, err)
	}
	// GitLab lists merge request commits newest first.
	slices.Reverse(commits)
	for _, rc := range commits {
		info.Commits = append(info.Commits, mapCommit(rc))
	}

	return info, nil
}

func (c *Client) getMergeRequest(ctx context.Context, mrPath string) (*mergeRequest, error) {
	var mr mergeRequest
	if _, err := c.do(ctx, http.MethodGet, mrPath, nil, &mr); err != nil {
		return nil, err
	}
	return &mr, nil
}

// GetPushInfo describes the pushed head commit.
func (c *Client) GetPushInfo(ctx context.Context, owner, repo, commitSHA string) (*vcs.PushInfo, error) {
	commitPath := fmt.Sprintf("/projects/%s/repository/commits/%s", projectPath(owner, repo), url.PathEscape(commitSHA))

	var rc commit
	if _, err := c.do(ctx, http.MethodGet, commitPath, nil, &rc); err != nil {
		return nil, fmt.Errorf("getting commit %s in %s/%s: %w", commitSHA, owner, repo, err)
	}

	files, err := c.commitDiff(ctx, commitPath)
	if err != nil {
		return nil, fmt.Errorf("getting diff of %s in %s/%s: %w", commitSHA, owner, repo, err)
	}

	return &vcs.PushInfo{
		Author:  rc.AuthorName,
		URL:     rc.WebURL,
		Files:   files,
		Commits: []vcs.Commit{mapCommit(rc)},
	}, nil
}

// GetCommitFiles fetches the diff of each commit and merges them in order.
func (c *Client) GetCommitFiles(ctx context.Context, owner, repo string, shas []string) ([]vcs.FileChange, error) {
	perCommit := make([][]vcs.FileChange, len(shas))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentCommits)
	for i, sha := range shas {
		g.Go(func() error {
			commitPath := fmt.Sprintf("/projects/%s/repository/commits/%s", projectPath(owner, repo), url.PathEscape(sha))
			files, err := c.commitDiff(gctx, commitPath)
			if err != nil {
				return fmt.Errorf("getting diff of %s in %s/%s: %w", sha, owner, repo, err)
			}
			perCommit[i] = files
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return vcs.MergeFileChanges(perCommit...), nil
}

func (c *Client) commitDiff(ctx context.Context, commitPath string) ([]vcs.FileChange, error) {
	var diffs []fileDiff
	if err := c.getAll(ctx, commitPath+"/diff", &diffs); err != nil {
		return nil, err
	}
	files := make([]vcs.FileChange, 0, len(diffs))
	for _, d := range diffs {
		files = append(files, mapDiff(d))
	}
	return files, nil
}

// GetContentAsText returns the raw file at ref, or "" when it does not exist.
func (c *Client) GetContentAsText(ctx context.Context, owner, repo, path, ref string) (string, error) {
	p := fmt.Sprintf("/projects/%s/repository/files/%s/raw?ref=%s", projectPath(owner, repo), url.PathEscape(path), url.QueryEscape(ref))

	body, err := c.raw(ctx, p)
	if errors.Is(err, errNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting %s at %s in %s/%s: %w", path, ref, owner, repo, err)
	}
	return string(body), nil
}

// CreatePullRequestComment adds a merge request note.
func (c *Client) CreatePullRequestComment(ctx context.Context, owner, repo string, number int, body string) error {
	p := fmt.Sprintf("/projects/%s/merge_requests/%d/notes", projectPath(owner, repo), number)
	if _, err := c.do(ctx, http.MethodPost, p, map[string]string{"body": body}, nil); err != nil {
		return fmt.Errorf("creating note on %s/%s!%d: %w", owner, repo, number, err)
	}
	return nil
}

type position struct {
	PositionType string `json:"position_type"`
	BaseSHA      string `json:"base_sha"`
	StartSHA     string `json:"start_sha"`
	HeadSHA      string `json:"head_sha"`
	OldPath      string `json:"old_path"`
	NewPath      string `json:"new_path"`
	NewLine      int    `json:"new_line"`
}

type discussionRequest struct {
	Body     string   `json:"body"`
	Position position `json:"position"`
}

// CreatePullRequestLineComments opens one positioned discussion per comment.
// A comment GitLab refuses to anchor is posted as a plain note prefixed with
// its location.
func (c *Client) CreatePullRequestLineComments(ctx context.Context, owner, repo string, number int, comments []vcs.LineComment) error {
	if len(comments) == 0 {
		return nil
	}

	mrPath := fmt.Sprintf("/projects/%s/merge_requests/%d", projectPath(owner, repo), number)
	mr, err := c.getMergeRequest(ctx, mrPath)
	if err != nil {
		return fmt.Errorf("getting diff refs of %s/%s!%d: %w", owner, repo, number, err)
	}

	for _, lc := range comments {
		req := discussionRequest{
			Body: lc.Comment,
			Position: position{
				PositionType: "text",
				BaseSHA:      mr.DiffRefs.BaseSHA,
				StartSHA:     mr.DiffRefs.StartSHA,
				HeadSHA:      mr.DiffRefs.HeadSHA,
				OldPath:      lc.File,
				NewPath:      lc.File,
				NewLine:      lc.Line,
			},
		}

		status, err := c.do(ctx, http.MethodPost, mrPath+"/discussions", req, nil)
		if err == nil {
			continue
		}
		if status != http.StatusBadRequest {
			return fmt.Errorf("creating discussion on %s/%s!%d: %w", owner, repo, number, err)
		}

		c.logger.Warn("line comment rejected, posting as note",
			"project", owner+"/"+repo, "mr", number, "file", lc.File, "line", lc.Line, "error", err)
		body := fmt.Sprintf("**%s:%d**\n\n%s", lc.File, lc.Line, lc.Comment)
		if err := c.CreatePullRequestComment(ctx, owner, repo, number, body); err != nil {
			return err
		}
	}
	return nil
}

// CreateCommitComment comments on a commit.
func (c *Client) CreateCommitComment(ctx context.Context, owner, repo, sha, body string) error {
	p := fmt.Sprintf("/projects/%s/repository/commits/%s/comments", projectPath(owner, repo), url.PathEscape(sha))
	if _, err := c.do(ctx, http.MethodPost, p, map[string]string{"note": body}, nil); err != nil {
		return fmt.Errorf("creating comment on commit %s in %s/%s: %w", sha, owner, repo, err)
	}
	return nil
}

// getAll follows X-Next-Page pagination, appending each page to out, which
// must point to a slice.
func (c *Client) getAll(ctx context.Context, path string, out any) error {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}

	var all []json.RawMessage
	page := 1
	for {
		resp, err := c.send(ctx, http.MethodGet, fmt.Sprintf("%s%sper_page=%d&page=%d", path, sep, perPage, page), nil)
		if err != nil {
			return err
		}
		var items []json.RawMessage
		err = json.NewDecoder(resp.Body).Decode(&items)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decoding page %d: %w", page, err)
		}
		all = append(all, items...)

		next, _ := strconv.Atoi(resp.Header.Get("X-Next-Page"))
		if next <= page {
			break
		}
		page = next
	}

	data, err := json.Marshal(all)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// do sends a JSON request and decodes the response into out when non-nil.
// It returns the HTTP status, or zero when no response was received.
func (c *Client) do(ctx context.Context, method, path string, body, out any) (int, error) {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) {
			return se.status, err
		}
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decoding response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (c *Client) raw(ctx context.Context, path string) ([]byte, error) {
	resp, err := c.send(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("gitlab api status %d: %s", e.status, e.body)
}

// send performs the request. Non-2xx responses are returned as errors, with
// 404 wrapping errNotFound.
func (c *Client) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("PRIVATE-TOKEN", c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	c.logger.Debug("gitlab api call", "method", method, "path", req.URL.Path, "status", resp.StatusCode)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	se := &statusError{status: resp.StatusCode, body: strings.TrimSpace(string(msg))}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %w", errNotFound, se)
	}
	return nil, se
}

func mapDiff(d fileDiff) vcs.FileChange {
	fc := vcs.FileChange{
		Filename: d.NewPath,
		Status:   vcs.StatusModified,
		Patch:    d.Diff,
	}
	switch {
	case d.NewFile:
		fc.Status = vcs.StatusAdded
	case d.DeletedFile:
		fc.Status = vcs.StatusRemoved
		fc.Filename = d.OldPath
	case d.RenamedFile:
		fc.Status = vcs.StatusRenamed
		fc.PreviousFilename = d.OldPath
	}

	// GitLab reports no line counts per file.
	for _, h := range diff.ParseHunks(d.Diff) {
		for _, l := range h.Lines {
			switch l.Kind {
			case diff.KindAddition:
				fc.Additions++
			case diff.KindDeletion:
				fc.Deletions++
			}
		}
	}
	fc.Changes = fc.Additions + fc.Deletions
	return fc
}

func mapCommit(rc commit) vcs.Commit {
	return vcs.Commit{
		ID:        rc.ID,
		Message:   rc.Message,
		Author:    rc.AuthorName,
		Timestamp: rc.AuthoredDate,
	}
}
