// Package usecase contains the business logic of the application.
package usecase

import (
	"sort"

	"github.com/montanaflynn/stats"

	"github.com/naka-gawa/whatsup/internal/domain"
)

// BuildReport folds per-repository probe results and the org header into
// the final report. It is a pure function of its inputs: the same
// results in any order produce an identical report, regardless of the
// completion order the concurrent probes delivered them in.
//
// Contribution totals count only ok and partial repositories; a failed
// repository contributes nothing but still appears in the failure list.
func BuildReport(org domain.Organization, results []domain.Repository) domain.Report {
	repos := make([]domain.Repository, len(results))
	copy(repos, results)
	sort.Slice(repos, func(i, j int) bool {
		if repos[i].Name != repos[j].Name {
			return repos[i].Name < repos[j].Name
		}
		return repos[i].Owner < repos[j].Owner
	})

	totals := make(map[string]int)
	failures := make([]domain.Failure, 0)
	commitCounts := make(stats.Float64Data, 0, len(repos))
	totalCommits := 0
	for _, repo := range repos {
		if repo.Status == domain.StatusFailed {
			failures = append(failures, domain.Failure{Repo: repo.Name, Reason: repo.Reason})
			continue
		}
		for login, count := range repo.Contributors {
			totals[login] += count
		}
		// A partial repo whose commit fetch failed reports zero commits;
		// counting that zero would skew the summary downward.
		if repo.CommitsKnown {
			commitCounts = append(commitCounts, float64(repo.Commits))
			totalCommits += repo.Commits
		}
	}

	contributors := make([]domain.Contributor, 0, len(totals))
	for login, count := range totals {
		contributors = append(contributors, domain.Contributor{Login: login, Contributions: count})
	}
	sort.Slice(contributors, func(i, j int) bool {
		if contributors[i].Contributions != contributors[j].Contributions {
			return contributors[i].Contributions > contributors[j].Contributions
		}
		return contributors[i].Login < contributors[j].Login
	})

	summary := domain.Summary{TotalCommits: totalCommits}
	// Mean and Median error only on empty input; an org with zero
	// probed repositories just reports zeros.
	if mean, err := commitCounts.Mean(); err == nil {
		summary.MeanCommits = mean
	}
	if median, err := commitCounts.Median(); err == nil {
		summary.MedianCommits = median
	}

	return domain.Report{
		Org:          org,
		Repositories: repos,
		Contributors: contributors,
		Failures:     failures,
		Summary:      summary,
	}
}
