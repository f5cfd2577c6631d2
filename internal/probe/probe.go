// Package probe collects the per-repository slice of an organization
// report. A probe never fails the surrounding traversal: every outcome,
// including total unreachability, is captured in the returned record's
// status field.
package probe

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/naka-gawa/whatsup/internal/domain"
	"github.com/naka-gawa/whatsup/internal/fetch"
	"github.com/naka-gawa/whatsup/internal/gateway"
	"github.com/naka-gawa/whatsup/internal/ratelimit"
)

// ReasonCancelled marks repositories whose probe was cut short by run
// cancellation.
const ReasonCancelled = "cancelled"

// Prober probes one repository at a time. It is safe for concurrent use;
// all shared state lives in the rate limiter.
type Prober struct {
	client  gateway.Client
	limiter *ratelimit.Limiter
	logger  *log.Logger
}

// NewProber creates a new Prober instance.
func NewProber(client gateway.Client, limiter *ratelimit.Limiter, logger *log.Logger) *Prober {
	return &Prober{client: client, limiter: limiter, logger: logger}
}

// Probe collects contributors, languages, commit count and file presence
// for one repository. If some of those fetches fail the record comes
// back partial with a reason per missing field; if all of them fail (or
// the run is cancelled) it comes back failed. Probe itself never returns
// an error.
func (p *Prober) Probe(ctx context.Context, ref domain.RepoRef) domain.Repository {
	repo := domain.Repository{RepoRef: ref, Status: domain.StatusOK, DaysSinceLastIssue: -1}
	if !ref.PushedAt.IsZero() {
		repo.DaysSincePush = int(time.Since(ref.PushedAt).Hours() / 24)
	}

	if ctx.Err() != nil {
		repo.Status = domain.StatusFailed
		repo.Reason = ReasonCancelled
		return repo
	}

	p.logger.Printf("Probing %s...", ref.FullName())

	var reasons []string
	coreFailures := 0

	pager := fetch.NewPager(
		"contributors "+ref.FullName(), p.limiter, p.logger,
		func(ctx context.Context, cursor string) ([]gateway.ContributorStat, string, ratelimit.Info, error) {
			return p.client.ListContributors(ctx, ref.Owner, ref.Name, cursor)
		},
	)
	contributors, err := pager.All(ctx)
	switch {
	case cancelled(err):
		repo.Status = domain.StatusFailed
		repo.Reason = ReasonCancelled
		return repo
	case err != nil:
		coreFailures++
		reasons = append(reasons, "contributors unavailable: "+err.Error())
	default:
		repo.Contributors = make(map[string]int, len(contributors))
		for _, c := range contributors {
			repo.Contributors[c.Login] += c.Contributions
		}
	}

	var languages map[string]int
	err = fetch.Do(ctx, "languages "+ref.FullName(), p.limiter, p.logger, func(ctx context.Context) (ratelimit.Info, error) {
		var rate ratelimit.Info
		var ferr error
		languages, rate, ferr = p.client.ListLanguages(ctx, ref.Owner, ref.Name)
		return rate, ferr
	})
	switch {
	case cancelled(err):
		repo.Status = domain.StatusFailed
		repo.Reason = ReasonCancelled
		return repo
	case err != nil:
		coreFailures++
		reasons = append(reasons, "languages unavailable: "+err.Error())
	default:
		repo.Language = primaryLanguage(languages)
	}

	var commits int
	err = fetch.Do(ctx, "commits "+ref.FullName(), p.limiter, p.logger, func(ctx context.Context) (ratelimit.Info, error) {
		var rate ratelimit.Info
		var ferr error
		commits, rate, ferr = p.client.CommitCount(ctx, ref.Owner, ref.Name)
		return rate, ferr
	})
	switch {
	case cancelled(err):
		repo.Status = domain.StatusFailed
		repo.Reason = ReasonCancelled
		return repo
	case err != nil:
		coreFailures++
		reasons = append(reasons, "commit count unavailable: "+err.Error())
	default:
		repo.Commits = commits
		repo.CommitsKnown = true
	}

	// The remaining fields are supplementary: a lookup failure degrades
	// the probe to partial but never to failed.
	var pulls int
	err = fetch.Do(ctx, "pulls "+ref.FullName(), p.limiter, p.logger, func(ctx context.Context) (ratelimit.Info, error) {
		var rate ratelimit.Info
		var ferr error
		pulls, rate, ferr = p.client.OpenPullCount(ctx, ref.Owner, ref.Name)
		return rate, ferr
	})
	switch {
	case cancelled(err):
		repo.Status = domain.StatusFailed
		repo.Reason = ReasonCancelled
		return repo
	case err != nil:
		reasons = append(reasons, "open pull count unavailable: "+err.Error())
	default:
		repo.OpenPulls = pulls
	}

	var lastIssue time.Time
	err = fetch.Do(ctx, "issues "+ref.FullName(), p.limiter, p.logger, func(ctx context.Context) (ratelimit.Info, error) {
		var rate ratelimit.Info
		var ferr error
		lastIssue, rate, ferr = p.client.LastIssueUpdate(ctx, ref.Owner, ref.Name)
		return rate, ferr
	})
	switch {
	case cancelled(err):
		repo.Status = domain.StatusFailed
		repo.Reason = ReasonCancelled
		return repo
	case err != nil:
		reasons = append(reasons, "issue age unavailable: "+err.Error())
	case !lastIssue.IsZero():
		repo.DaysSinceLastIssue = int(time.Since(lastIssue).Hours() / 24)
	}
	for _, check := range []struct {
		path string
		dst  *bool
	}{
		{"README.md", &repo.HasReadme},
		{"LICENSE", &repo.HasLicense},
	} {
		var present bool
		err = fetch.Do(ctx, check.path+" "+ref.FullName(), p.limiter, p.logger, func(ctx context.Context) (ratelimit.Info, error) {
			var rate ratelimit.Info
			var ferr error
			present, rate, ferr = p.client.HasFile(ctx, ref.Owner, ref.Name, check.path)
			return rate, ferr
		})
		switch {
		case cancelled(err):
			repo.Status = domain.StatusFailed
			repo.Reason = ReasonCancelled
			return repo
		case err != nil:
			reasons = append(reasons, check.path+" check unavailable: "+err.Error())
		default:
			*check.dst = present
		}
	}

	switch {
	case coreFailures == 3:
		repo.Status = domain.StatusFailed
		repo.Reason = strings.Join(reasons, "; ")
	case len(reasons) > 0:
		repo.Status = domain.StatusPartial
		repo.Reason = strings.Join(reasons, "; ")
	}
	return repo
}

// primaryLanguage picks the language with the most bytes. Ties break
// alphabetically so repeated probes of the same repo agree.
func primaryLanguage(languages map[string]int) string {
	var best string
	bestBytes := -1
	for lang, bytes := range languages {
		if bytes > bestBytes || (bytes == bestBytes && lang < best) {
			best = lang
			bestBytes = bytes
		}
	}
	return best
}

func cancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
