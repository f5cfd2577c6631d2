// Package domain contains the core data structures and domain logic for the application.
package domain

import "time"

// ProbeStatus classifies the outcome of probing a single repository.
type ProbeStatus string

const (
	// StatusOK means every requested field was collected.
	StatusOK ProbeStatus = "ok"
	// StatusPartial means the repository was reachable but some fields
	// could not be collected; Reason says which and why.
	StatusPartial ProbeStatus = "partial"
	// StatusFailed means the repository could not be probed at all.
	StatusFailed ProbeStatus = "failed"
)

// Organization describes the org being probed: its identity plus the
// member and repository logins discovered at the start of a run.
type Organization struct {
	Login       string   `json:"login"`
	Name        string   `json:"name,omitempty"`
	Description string   `json:"description,omitempty"`
	Members     []string `json:"members"`
	Repos       []string `json:"repos"`
}

// RepoRef identifies a repository together with the metadata already
// available from the org listing, so the probe does not re-fetch it.
type RepoRef struct {
	Owner       string    `json:"owner"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	URL         string    `json:"url"`
	OpenIssues  int       `json:"open_issues"`
	Archived    bool      `json:"archived"`
	PushedAt    time.Time `json:"pushed_at"`
}

// FullName returns the owner/name form used by the GitHub API.
func (r RepoRef) FullName() string {
	return r.Owner + "/" + r.Name
}

// Repository is the result of probing one repository. It is created by
// the probe and read-only thereafter.
type Repository struct {
	RepoRef

	Language     string         `json:"language,omitempty"`
	Contributors map[string]int `json:"contributors,omitempty"`
	Commits      int            `json:"commits"`
	// CommitsKnown distinguishes a genuinely empty repository from one
	// whose commit count could not be fetched; only known counts enter
	// the report summary.
	CommitsKnown  bool `json:"commits_known"`
	OpenPulls     int  `json:"open_pulls"`
	HasReadme     bool `json:"has_readme"`
	HasLicense    bool `json:"has_license"`
	DaysSincePush int  `json:"days_since_push"`
	// DaysSinceLastIssue is -1 when the repository has no open issues
	// or their age could not be determined.
	DaysSinceLastIssue int `json:"days_since_last_issue"`

	Status ProbeStatus `json:"status"`
	Reason string      `json:"reason,omitempty"`
}

// Contributor is a login with its contribution count summed across all
// ok/partial repositories of the org. Computed only by the aggregator.
type Contributor struct {
	Login         string `json:"login"`
	Contributions int    `json:"contributions"`
}

// Failure records a repository that could not be probed and why.
type Failure struct {
	Repo   string `json:"repo"`
	Reason string `json:"reason"`
}

// Summary carries simple statistics over the commit counts of all
// ok/partial repositories whose count is known.
type Summary struct {
	TotalCommits  int     `json:"total_commits"`
	MeanCommits   float64 `json:"mean_commits"`
	MedianCommits float64 `json:"median_commits"`
}

// Report is the sole externally visible artifact of a probe run.
// Repositories are sorted by name and Contributors by descending
// contribution count, so identical inputs produce identical reports.
type Report struct {
	Org          Organization  `json:"org"`
	Repositories []Repository  `json:"repositories"`
	Contributors []Contributor `json:"contributors"`
	Failures     []Failure     `json:"failures"`
	Summary      Summary       `json:"summary"`
}
