package gitlab

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shipitai/reviewbot/vcs"
)

// Event types as sent in the X-Gitlab-Event header.
const (
	EventMergeRequest = "Merge Request Hook"
	EventPush         = "Push Hook"
)

// ErrUnsupportedEvent indicates the webhook event type is not handled.
var ErrUnsupportedEvent = errors.New("unsupported event type")

const zeroSHA = "0000000000000000000000000000000000000000"

// Event is a parsed webhook delivery. Both fields are nil when the delivery
// needs no review.
type Event struct {
	Type        string
	PullRequest *vcs.PullRequestEvent
	Push        *vcs.PushEvent
}

type project struct {
	PathWithNamespace string `json:"path_with_namespace"`
}

type mergeRequestHook struct {
	ObjectKind       string  `json:"object_kind"`
	Project          project `json:"project"`
	ObjectAttributes struct {
		IID    int    `json:"iid"`
		Action string `json:"action"`
		OldRev string `json:"oldrev"`
	} `json:"object_attributes"`
}

type pushHook struct {
	ObjectKind  string  `json:"object_kind"`
	Ref         string  `json:"ref"`
	After       string  `json:"after"`
	CheckoutSHA string  `json:"checkout_sha"`
	Project     project `json:"project"`
}

// ParseWebhook parses a delivery given its X-Gitlab-Event header.
func ParseWebhook(eventType string, payload []byte) (*Event, error) {
	event := &Event{Type: eventType}

	switch eventType {
	case EventMergeRequest:
		var hook mergeRequestHook
		if err := json.Unmarshal(payload, &hook); err != nil {
			return nil, fmt.Errorf("failed to parse merge request hook: %w", err)
		}
		attrs := hook.ObjectAttributes
		if !ShouldProcess(attrs.Action, attrs.OldRev) {
			return event, nil
		}
		owner, repo, err := vcs.SplitProjectPath(hook.Project.PathWithNamespace)
		if err != nil {
			return nil, err
		}
		event.PullRequest = &vcs.PullRequestEvent{Owner: owner, Repo: repo, Number: attrs.IID}

	case EventPush:
		var hook pushHook
		if err := json.Unmarshal(payload, &hook); err != nil {
			return nil, fmt.Errorf("failed to parse push hook: %w", err)
		}
		branch, ok := strings.CutPrefix(hook.Ref, "refs/heads/")
		sha := hook.CheckoutSHA
		if sha == "" {
			sha = hook.After
		}
		if !ok || sha == "" || hook.After == zeroSHA {
			return event, nil
		}
		owner, repo, err := vcs.SplitProjectPath(hook.Project.PathWithNamespace)
		if err != nil {
			return nil, err
		}
		event.Push = &vcs.PushEvent{Owner: owner, Repo: repo, Branch: branch, CommitSHA: sha}

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEvent, eventType)
	}

	return event, nil
}

// ShouldProcess reports whether a merge request action should trigger a
// review. Updates count only when they carry new commits (oldrev is set).
func ShouldProcess(action, oldRev string) bool {
	switch action {
	case "open", "reopen":
		return true
	case "update":
		return oldRev != ""
	default:
		return false
	}
}
