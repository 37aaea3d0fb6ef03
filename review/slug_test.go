package review

import "testing"

func TestSlugifyURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://github.com/org/repo/pull/5", "github_com_org_repo_pull_5"},
		{"http://gitlab.example.com/group/sub/repo/-/merge_requests/12", "gitlab_example_com_group_sub_repo_merge_requests_12"},
		{"https://github.com/org/repo/commit/abc123/", "github_com_org_repo_commit_abc123"},
		{"github.com//org", "github_com_org"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			if got := SlugifyURL(tt.url); got != tt.want {
				t.Errorf("SlugifyURL(%q) = %q, want %q", tt.url, got, tt.want)
			}
		})
	}
}
