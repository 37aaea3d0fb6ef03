package config

import (
	"path"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/shipitai/reviewbot/vcs"
)

// ShouldTriggerReview reports whether an event passes the trigger rules. The
// checks run in order and the first failing one decides: event type, branch
// allow-list, draft and title rules (pull requests only), ignored branches.
func ShouldTriggerReview(trigger TriggerConfig, eventType, branch, title string, isDraft bool) bool {
	if !slices.Contains(trigger.Events, eventType) {
		return false
	}

	if len(trigger.Branches) > 0 && !containsFold(trigger.Branches, branch) {
		return false
	}

	if eventType == EventPullRequest {
		if isDraft && !trigger.IncludeDraft {
			return false
		}
		lowerTitle := strings.ToLower(title)
		for _, word := range trigger.IgnoreRules.TitleContains {
			if word != "" && strings.Contains(lowerTitle, strings.ToLower(word)) {
				return false
			}
		}
	}

	for _, pattern := range trigger.IgnoreRules.BranchMatches {
		if branchMatches(pattern, branch) {
			return false
		}
	}

	return true
}

func containsFold(list []string, s string) bool {
	return slices.ContainsFunc(list, func(v string) bool {
		return strings.EqualFold(v, s)
	})
}

// branchMatches treats "*" as "any run of characters"; everything else in the
// pattern is literal.
func branchMatches(pattern, branch string) bool {
	if !strings.Contains(pattern, "*") {
		return pattern == branch
	}

	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	re, err := regexp.Compile("^" + strings.Join(parts, ".*") + "$")
	if err != nil {
		return false
	}
	return re.MatchString(branch)
}

// FilterReviewableFiles keeps the files that pass every configured
// constraint: extension allow-list, include globs and exclude globs.
func FilterReviewableFiles(files []vcs.FileChange, cfg FilesConfig) []vcs.FileChange {
	extensions := make([]string, 0, len(cfg.Extensions))
	for _, ext := range cfg.Extensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		extensions = append(extensions, ext)
	}

	var kept []vcs.FileChange
	for _, f := range files {
		if len(extensions) > 0 && !slices.Contains(extensions, strings.ToLower(path.Ext(f.Filename))) {
			continue
		}
		if len(cfg.Include) > 0 && !matchesAny(cfg.Include, f.Filename) {
			continue
		}
		if len(cfg.Exclude) > 0 && matchesAny(cfg.Exclude, f.Filename) {
			continue
		}
		kept = append(kept, f)
	}
	return kept
}

// matchesAny reports whether name matches one of the glob patterns. Patterns
// without a slash also match against the base name, so "*.gen.go" matches
// files in any directory.
func matchesAny(patterns []string, name string) bool {
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
		if !strings.Contains(pattern, "/") {
			if ok, _ := doublestar.Match(pattern, path.Base(name)); ok {
				return true
			}
		}
	}
	return false
}

// CheckReviewLimits reports whether the change set is too large to review:
// more files than MaxFiles, or more patch text than MaxContentLength.
func CheckReviewLimits(files []vcs.FileChange, cfg ReviewConfig) bool {
	if len(files) > cfg.MaxFiles {
		return true
	}

	total := 0
	for _, f := range files {
		total += utf8.RuneCountInString(f.Patch)
	}
	return total > cfg.MaxContentLength
}

// SkipParams describes the event being gated by ShouldSkipReview.
type SkipParams struct {
	Files     []vcs.FileChange
	EventType string
	Branch    string
	Title     string
	IsDraft   bool
}

// Skip reasons returned by SkipReason.
const (
	SkipNoFiles       = "no reviewable files"
	SkipLimitExceeded = "review limits exceeded"
	SkipNotTriggered  = "trigger rules not satisfied"
)

// SkipReason returns why the event should not be reviewed, or "" when it
// should.
func SkipReason(cfg *ProjectConfig, p SkipParams) string {
	switch {
	case len(p.Files) == 0:
		return SkipNoFiles
	case CheckReviewLimits(p.Files, cfg.Review):
		return SkipLimitExceeded
	case !ShouldTriggerReview(cfg.Trigger, p.EventType, p.Branch, p.Title, p.IsDraft):
		return SkipNotTriggered
	default:
		return ""
	}
}

// ShouldSkipReview reports whether SkipReason found a reason to skip.
func ShouldSkipReview(cfg *ProjectConfig, p SkipParams) bool {
	return SkipReason(cfg, p) != ""
}
