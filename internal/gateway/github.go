// Package gateway provides a gateway to the GitHub API,
// abstracting away the underlying REST and GraphQL clients.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v62/github"
	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"

	"github.com/gofri/go-github-ratelimit/github_ratelimit"

	"github.com/naka-gawa/whatsup/internal/domain"
	"github.com/naka-gawa/whatsup/internal/ratelimit"
)

// perPage is the page size requested from every listing endpoint.
const perPage = 100

// ErrOrgNotFound is returned when the probed organization does not exist
// (or is not visible to the supplied token).
var ErrOrgNotFound = errors.New("organization not found")

// OrgOverview is the org-level metadata fetched once at the start of a
// run, via GraphQL.
type OrgOverview struct {
	Login       string
	Name        string
	Description string
	MemberCount int
	RepoCount   int
}

// ContributorStat is one contributor's commit count for a single
// repository, as reported by the contributors endpoint.
type ContributorStat struct {
	Login         string
	Contributions int
}

// Client defines the GitHub capability the probe engine consumes. Every
// listing call returns an opaque cursor ("" when exhausted) and the rate
// headers of the response, which the caller feeds into the rate limiter.
type Client interface {
	OrgOverview(ctx context.Context, org string) (*OrgOverview, error)
	ListRepos(ctx context.Context, org, cursor string) ([]domain.RepoRef, string, ratelimit.Info, error)
	ListMembers(ctx context.Context, org, cursor string) ([]string, string, ratelimit.Info, error)
	ListContributors(ctx context.Context, owner, repo, cursor string) ([]ContributorStat, string, ratelimit.Info, error)
	ListLanguages(ctx context.Context, owner, repo string) (map[string]int, ratelimit.Info, error)
	CommitCount(ctx context.Context, owner, repo string) (int, ratelimit.Info, error)
	OpenPullCount(ctx context.Context, owner, repo string) (int, ratelimit.Info, error)
	LastIssueUpdate(ctx context.Context, owner, repo string) (time.Time, ratelimit.Info, error)
	HasFile(ctx context.Context, owner, repo, path string) (bool, ratelimit.Info, error)
}

// GitHubGateway is the concrete implementation of the Client interface.
type GitHubGateway struct {
	restClient    *github.Client
	graphqlClient *githubv4.Client
	logger        *log.Logger
}

// orgOverviewQuery fetches the org header fields plus the total member
// and repository counts in a single round trip.
type orgOverviewQuery struct {
	Organization struct {
		Login           githubv4.String
		Name            githubv4.String
		Description     githubv4.String
		MembersWithRole struct {
			TotalCount githubv4.Int
		} `graphql:"membersWithRole(first: 1)"`
		Repositories struct {
			TotalCount githubv4.Int
		} `graphql:"repositories(first: 1)"`
	} `graphql:"organization(login: $login)"`
}

// NewGitHubGateway is a constructor that creates a new instance of GitHubGateway.
func NewGitHubGateway(token string, logger *log.Logger) (Client, error) {
	rateLimitWaiter, err := github_ratelimit.NewRateLimitWaiter(nil, github_ratelimit.WithSingleSleepLimit(1*time.Hour, nil))
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit waiter: %w", err)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := &http.Client{
		Transport: &oauth2.Transport{
			Base:   rateLimitWaiter,
			Source: ts,
		},
	}
	return &GitHubGateway{
		restClient:    github.NewClient(httpClient),
		graphqlClient: githubv4.NewClient(httpClient),
		logger:        logger,
	}, nil
}

// OrgOverview fetches the organization header via GraphQL. A missing org
// maps to ErrOrgNotFound.
func (g *GitHubGateway) OrgOverview(ctx context.Context, org string) (*OrgOverview, error) {
	g.logger.Printf("Fetching overview for organization %s...", org)
	var q orgOverviewQuery
	variables := map[string]interface{}{"login": githubv4.String(org)}
	if err := g.graphqlClient.Query(ctx, &q, variables); err != nil {
		if strings.Contains(err.Error(), "Could not resolve to an Organization") {
			return nil, fmt.Errorf("%w: %s", ErrOrgNotFound, org)
		}
		return nil, fmt.Errorf("failed to query organization overview: %w", err)
	}
	return &OrgOverview{
		Login:       string(q.Organization.Login),
		Name:        string(q.Organization.Name),
		Description: string(q.Organization.Description),
		MemberCount: int(q.Organization.MembersWithRole.TotalCount),
		RepoCount:   int(q.Organization.Repositories.TotalCount),
	}, nil
}

func (g *GitHubGateway) ListRepos(ctx context.Context, org, cursor string) ([]domain.RepoRef, string, ratelimit.Info, error) {
	opts := &github.RepositoryListByOrgOptions{
		Type:        "public",
		ListOptions: github.ListOptions{PerPage: perPage, Page: pageOf(cursor)},
	}
	repos, resp, err := g.restClient.Repositories.ListByOrg(ctx, org, opts)
	if err != nil {
		if isNotFound(err) {
			return nil, "", rateInfo(resp), fmt.Errorf("%w: %s", ErrOrgNotFound, org)
		}
		return nil, "", rateInfo(resp), fmt.Errorf("failed to list repositories for %s: %w", org, err)
	}
	refs := make([]domain.RepoRef, 0, len(repos))
	for _, r := range repos {
		refs = append(refs, domain.RepoRef{
			Owner:       r.GetOwner().GetLogin(),
			Name:        r.GetName(),
			Description: r.GetDescription(),
			URL:         r.GetHTMLURL(),
			OpenIssues:  r.GetOpenIssuesCount(),
			Archived:    r.GetArchived(),
			PushedAt:    r.GetPushedAt().Time,
		})
	}
	return refs, nextCursor(resp), rateInfo(resp), nil
}

func (g *GitHubGateway) ListMembers(ctx context.Context, org, cursor string) ([]string, string, ratelimit.Info, error) {
	opts := &github.ListMembersOptions{
		ListOptions: github.ListOptions{PerPage: perPage, Page: pageOf(cursor)},
	}
	members, resp, err := g.restClient.Organizations.ListMembers(ctx, org, opts)
	if err != nil {
		if isNotFound(err) {
			return nil, "", rateInfo(resp), fmt.Errorf("%w: %s", ErrOrgNotFound, org)
		}
		return nil, "", rateInfo(resp), fmt.Errorf("failed to list members for %s: %w", org, err)
	}
	logins := make([]string, 0, len(members))
	for _, m := range members {
		logins = append(logins, m.GetLogin())
	}
	return logins, nextCursor(resp), rateInfo(resp), nil
}

func (g *GitHubGateway) ListContributors(ctx context.Context, owner, repo, cursor string) ([]ContributorStat, string, ratelimit.Info, error) {
	opts := &github.ListContributorsOptions{
		ListOptions: github.ListOptions{PerPage: perPage, Page: pageOf(cursor)},
	}
	contributors, resp, err := g.restClient.Repositories.ListContributors(ctx, owner, repo, opts)
	if err != nil {
		return nil, "", rateInfo(resp), fmt.Errorf("failed to list contributors for %s/%s: %w", owner, repo, err)
	}
	stats := make([]ContributorStat, 0, len(contributors))
	for _, c := range contributors {
		// Anonymous contributors have no login and cannot be merged
		// across repositories.
		if c.GetLogin() == "" {
			continue
		}
		stats = append(stats, ContributorStat{Login: c.GetLogin(), Contributions: c.GetContributions()})
	}
	return stats, nextCursor(resp), rateInfo(resp), nil
}

func (g *GitHubGateway) ListLanguages(ctx context.Context, owner, repo string) (map[string]int, ratelimit.Info, error) {
	languages, resp, err := g.restClient.Repositories.ListLanguages(ctx, owner, repo)
	if err != nil {
		return nil, rateInfo(resp), fmt.Errorf("failed to list languages for %s/%s: %w", owner, repo, err)
	}
	return languages, rateInfo(resp), nil
}

// CommitCount counts commits on the default branch by requesting a
// single-commit page: the Link header's last page number is then the
// total number of commits.
func (g *GitHubGateway) CommitCount(ctx context.Context, owner, repo string) (int, ratelimit.Info, error) {
	opts := &github.CommitsListOptions{ListOptions: github.ListOptions{PerPage: 1}}
	commits, resp, err := g.restClient.Repositories.ListCommits(ctx, owner, repo, opts)
	if err != nil {
		return 0, rateInfo(resp), fmt.Errorf("failed to count commits for %s/%s: %w", owner, repo, err)
	}
	if resp.LastPage > 0 {
		return resp.LastPage, rateInfo(resp), nil
	}
	return len(commits), rateInfo(resp), nil
}

// OpenPullCount counts open pull requests the same way CommitCount
// counts commits: a single-item page whose Link header carries the
// total as the last page number.
func (g *GitHubGateway) OpenPullCount(ctx context.Context, owner, repo string) (int, ratelimit.Info, error) {
	opts := &github.PullRequestListOptions{State: "open", ListOptions: github.ListOptions{PerPage: 1}}
	pulls, resp, err := g.restClient.PullRequests.List(ctx, owner, repo, opts)
	if err != nil {
		return 0, rateInfo(resp), fmt.Errorf("failed to count open pull requests for %s/%s: %w", owner, repo, err)
	}
	if resp.LastPage > 0 {
		return resp.LastPage, rateInfo(resp), nil
	}
	return len(pulls), rateInfo(resp), nil
}

// LastIssueUpdate returns the updated-at timestamp of the most recently
// updated open issue, or the zero time when the repository has none.
func (g *GitHubGateway) LastIssueUpdate(ctx context.Context, owner, repo string) (time.Time, ratelimit.Info, error) {
	opts := &github.IssueListByRepoOptions{
		State:       "open",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: 1},
	}
	issues, resp, err := g.restClient.Issues.ListByRepo(ctx, owner, repo, opts)
	if err != nil {
		return time.Time{}, rateInfo(resp), fmt.Errorf("failed to fetch latest issue for %s/%s: %w", owner, repo, err)
	}
	if len(issues) == 0 {
		return time.Time{}, rateInfo(resp), nil
	}
	return issues[0].GetUpdatedAt().Time, rateInfo(resp), nil
}

// HasFile reports whether path exists at the root of the repository's
// default branch. A 404 means absent, not an error.
func (g *GitHubGateway) HasFile(ctx context.Context, owner, repo, path string) (bool, ratelimit.Info, error) {
	_, _, resp, err := g.restClient.Repositories.GetContents(ctx, owner, repo, path, nil)
	if err != nil {
		if isNotFound(err) {
			return false, rateInfo(resp), nil
		}
		return false, rateInfo(resp), fmt.Errorf("failed to check %s in %s/%s: %w", path, owner, repo, err)
	}
	return true, rateInfo(resp), nil
}

// pageOf decodes a cursor back into a REST page number. An empty cursor
// means the first page.
func pageOf(cursor string) int {
	if cursor == "" {
		return 0
	}
	page, err := strconv.Atoi(cursor)
	if err != nil {
		return 0
	}
	return page
}

func nextCursor(resp *github.Response) string {
	if resp == nil || resp.NextPage == 0 {
		return ""
	}
	return strconv.Itoa(resp.NextPage)
}

func rateInfo(resp *github.Response) ratelimit.Info {
	if resp == nil {
		return ratelimit.Info{}
	}
	return ratelimit.Info{Remaining: resp.Rate.Remaining, Reset: resp.Rate.Reset.Time}
}

func isNotFound(err error) bool {
	var er *github.ErrorResponse
	return errors.As(err, &er) && er.Response != nil && er.Response.StatusCode == http.StatusNotFound
}
