package vcs

// PullRequestEvent identifies a pull/merge request that changed.
type PullRequestEvent struct {
	Owner  string
	Repo   string
	Number int
}

// PushEvent identifies a push. CommitSHA is the last commit of the push.
type PushEvent struct {
	Owner     string
	Repo      string
	Branch    string
	CommitSHA string
}
