package github

import (
	"errors"
	"fmt"
	"strings"

	gh "github.com/google/go-github/v82/github"

	"github.com/shipitai/reviewbot/vcs"
)

// Event types handled by ParseWebhook.
const (
	EventPullRequest = "pull_request"
	EventPush        = "push"
	EventPing        = "ping"
)

// ErrUnsupportedEvent indicates the webhook event type is not handled.
var ErrUnsupportedEvent = errors.New("unsupported event type")

const zeroSHA = "0000000000000000000000000000000000000000"

// Event is a parsed webhook delivery. At most one of PullRequest and Push is
// set; both are nil when the delivery needs no review (a ping, a closed pull
// request, a deleted branch).
type Event struct {
	Type           string
	InstallationID int64
	PullRequest    *vcs.PullRequestEvent
	Push           *vcs.PushEvent
}

// ParseWebhook parses a delivery given its X-GitHub-Event header.
func ParseWebhook(eventType string, payload []byte) (*Event, error) {
	switch eventType {
	case EventPullRequest, EventPush, EventPing:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEvent, eventType)
	}

	parsed, err := gh.ParseWebHook(eventType, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to parse webhook payload: %w", err)
	}

	event := &Event{Type: eventType}
	switch e := parsed.(type) {
	case *gh.PullRequestEvent:
		event.InstallationID = e.GetInstallation().GetID()
		if !ShouldProcess(e.GetAction()) {
			return event, nil
		}
		owner, repo, err := vcs.SplitProjectPath(e.GetRepo().GetFullName())
		if err != nil {
			return nil, err
		}
		number := e.GetNumber()
		if number == 0 {
			number = e.GetPullRequest().GetNumber()
		}
		event.PullRequest = &vcs.PullRequestEvent{Owner: owner, Repo: repo, Number: number}

	case *gh.PushEvent:
		event.InstallationID = e.GetInstallation().GetID()
		branch, ok := strings.CutPrefix(e.GetRef(), "refs/heads/")
		sha := e.GetHeadCommit().GetID()
		if sha == "" {
			sha = e.GetAfter()
		}
		if !ok || e.GetDeleted() || sha == "" || sha == zeroSHA {
			return event, nil
		}
		owner, repo, err := vcs.SplitProjectPath(e.GetRepo().GetFullName())
		if err != nil {
			return nil, err
		}
		event.Push = &vcs.PushEvent{Owner: owner, Repo: repo, Branch: branch, CommitSHA: sha}

	case *gh.PingEvent:
		event.InstallationID = e.GetInstallation().GetID()
	}

	return event, nil
}

// ShouldProcess reports whether a pull_request action should trigger a
// review: opened, synchronize, reopened or ready_for_review.
func ShouldProcess(action string) bool {
	switch action {
	case "opened", "synchronize", "reopened", "ready_for_review":
		return true
	default:
		return false
	}
}
