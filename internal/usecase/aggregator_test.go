package usecase

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naka-gawa/whatsup/internal/domain"
)

func okRepo(name string, commits int, contributors map[string]int) domain.Repository {
	return domain.Repository{
		RepoRef:      domain.RepoRef{Owner: "acme", Name: name},
		Commits:      commits,
		CommitsKnown: true,
		Contributors: contributors,
		Status:       domain.StatusOK,
	}
}

// TestBuildReport uses a table-driven approach to test the aggregation.
func TestBuildReport(t *testing.T) {
	testCases := []struct {
		name                 string
		results              []domain.Repository
		expectedContributors []domain.Contributor
		expectedFailures     []domain.Failure
		expectedSummary      domain.Summary
	}{
		{
			name: "one failed repo contributes nothing but is listed",
			results: []domain.Repository{
				okRepo("a", 3, map[string]int{"alice": 3}),
				{
					RepoRef: domain.RepoRef{Owner: "acme", Name: "b"},
					Status:  domain.StatusFailed,
					Reason:  "network error",
				},
				okRepo("c", 3, map[string]int{"bob": 2, "alice": 1}),
			},
			expectedContributors: []domain.Contributor{
				{Login: "alice", Contributions: 4},
				{Login: "bob", Contributions: 2},
			},
			expectedFailures: []domain.Failure{{Repo: "b", Reason: "network error"}},
			expectedSummary:  domain.Summary{TotalCommits: 6, MeanCommits: 3, MedianCommits: 3},
		},
		{
			name: "partial repos count toward contributor totals",
			results: []domain.Repository{
				okRepo("a", 2, map[string]int{"alice": 2}),
				{
					RepoRef:      domain.RepoRef{Owner: "acme", Name: "b"},
					Commits:      4,
					CommitsKnown: true,
					Contributors: map[string]int{"alice": 4},
					Status:       domain.StatusPartial,
					Reason:       "languages unavailable: 404",
				},
			},
			expectedContributors: []domain.Contributor{{Login: "alice", Contributions: 6}},
			expectedFailures:     []domain.Failure{},
			expectedSummary:      domain.Summary{TotalCommits: 6, MeanCommits: 3, MedianCommits: 3},
		},
		{
			name: "unknown commit counts stay out of the summary",
			results: []domain.Repository{
				okRepo("a", 10, map[string]int{"alice": 10}),
				okRepo("b", 20, nil),
				{
					RepoRef:      domain.RepoRef{Owner: "acme", Name: "c"},
					Contributors: map[string]int{"bob": 2},
					Status:       domain.StatusPartial,
					Reason:       "commit count unavailable: 409",
				},
			},
			expectedContributors: []domain.Contributor{
				{Login: "alice", Contributions: 10},
				{Login: "bob", Contributions: 2},
			},
			expectedFailures: []domain.Failure{},
			expectedSummary:  domain.Summary{TotalCommits: 30, MeanCommits: 15, MedianCommits: 15},
		},
		{
			name: "contribution ties break by login ascending",
			results: []domain.Repository{
				okRepo("a", 4, map[string]int{"carol": 2, "bob": 2, "alice": 2}),
			},
			expectedContributors: []domain.Contributor{
				{Login: "alice", Contributions: 2},
				{Login: "bob", Contributions: 2},
				{Login: "carol", Contributions: 2},
			},
			expectedFailures: []domain.Failure{},
			expectedSummary:  domain.Summary{TotalCommits: 4, MeanCommits: 4, MedianCommits: 4},
		},
		{
			name:                 "no repositories",
			results:              nil,
			expectedContributors: []domain.Contributor{},
			expectedFailures:     []domain.Failure{},
			expectedSummary:      domain.Summary{},
		},
	}

	org := domain.Organization{Login: "acme"}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			report := BuildReport(org, tc.results)

			assert.Equal(t, tc.expectedContributors, report.Contributors)
			assert.Equal(t, tc.expectedFailures, report.Failures)
			assert.Equal(t, tc.expectedSummary, report.Summary)
			assert.Len(t, report.Repositories, len(tc.results))
		})
	}
}

func TestBuildReport_RepositoriesSortedByName(t *testing.T) {
	report := BuildReport(domain.Organization{Login: "acme"}, []domain.Repository{
		okRepo("zeta", 1, nil),
		okRepo("alpha", 1, nil),
		okRepo("mid", 1, nil),
	})

	names := make([]string, 0, len(report.Repositories))
	for _, r := range report.Repositories {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, names)
}

// Completion order upstream is nondeterministic, so the same results in
// any order must produce a byte-identical report.
func TestBuildReport_DeterministicAcrossInputOrder(t *testing.T) {
	org := domain.Organization{Login: "acme", Members: []string{"alice", "bob"}}
	results := []domain.Repository{
		okRepo("a", 3, map[string]int{"alice": 3}),
		okRepo("c", 5, map[string]int{"bob": 2, "alice": 1}),
		{RepoRef: domain.RepoRef{Owner: "acme", Name: "b"}, Status: domain.StatusFailed, Reason: "boom"},
	}
	reversed := []domain.Repository{results[2], results[1], results[0]}

	first, err := json.Marshal(BuildReport(org, results))
	require.NoError(t, err)
	second, err := json.Marshal(BuildReport(org, reversed))
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

// The sum over report contributors must equal the sum of contribution
// counts across all ok and partial repositories.
func TestBuildReport_ContributorTotalsAreConserved(t *testing.T) {
	results := []domain.Repository{
		okRepo("a", 1, map[string]int{"alice": 3, "bob": 1}),
		okRepo("b", 1, map[string]int{"alice": 2, "carol": 8}),
		{RepoRef: domain.RepoRef{Name: "c"}, Contributors: map[string]int{"dave": 9}, Status: domain.StatusFailed, Reason: "x"},
	}

	report := BuildReport(domain.Organization{Login: "acme"}, results)

	reported := 0
	for _, c := range report.Contributors {
		reported += c.Contributions
	}
	assert.Equal(t, 3+1+2+8, reported, "failed repos must not contribute")
}
