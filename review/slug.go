package review

import (
	"regexp"
	"strings"
)

var (
	schemePattern   = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.-]*://`)
	nonAlnumPattern = regexp.MustCompile(`[^A-Za-z0-9]+`)
)

// SlugifyURL turns a pull request or commit URL into a stable identifier:
// "https://github.com/org/repo/pull/5" becomes "github_com_org_repo_pull_5".
func SlugifyURL(url string) string {
	s := schemePattern.ReplaceAllString(url, "")
	s = nonAlnumPattern.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}
