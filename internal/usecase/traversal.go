// Package usecase contains the business logic of the application.
package usecase

import (
	"context"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/naka-gawa/whatsup/internal/domain"
	"github.com/naka-gawa/whatsup/internal/fetch"
	"github.com/naka-gawa/whatsup/internal/gateway"
	"github.com/naka-gawa/whatsup/internal/probe"
	"github.com/naka-gawa/whatsup/internal/ratelimit"
)

// DefaultConcurrency is the probe worker-pool size used when the caller
// does not specify one.
const DefaultConcurrency = 5

// repoProber is the slice of probe.Prober the traversal needs; it exists
// so tests can substitute probe behavior.
type repoProber interface {
	Probe(ctx context.Context, ref domain.RepoRef) domain.Repository
}

// Traversal walks one organization: it fetches the org header, streams
// the member and repository listings, fans out per-repository probes
// with bounded concurrency and folds everything into a report.
type Traversal struct {
	client      gateway.Client
	limiter     *ratelimit.Limiter
	prober      repoProber
	logger      *log.Logger
	concurrency int
}

// NewTraversal creates a new Traversal instance. A concurrency of zero
// or less selects DefaultConcurrency.
func NewTraversal(client gateway.Client, limiter *ratelimit.Limiter, logger *log.Logger, concurrency int) *Traversal {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Traversal{
		client:      client,
		limiter:     limiter,
		prober:      probe.NewProber(client, limiter, logger),
		logger:      logger,
		concurrency: concurrency,
	}
}

// Run probes the organization and returns its report. Only org-level
// problems are fatal: a missing org, or a member/repository listing that
// fails even after retries. Per-repository failures are contained in the
// report. Cancelling ctx mid-run still yields a report; repositories
// whose probe did not finish are marked failed with reason "cancelled".
func (t *Traversal) Run(ctx context.Context, org string) (*domain.Report, error) {
	overview, err := t.client.OrgOverview(ctx, org)
	if err != nil {
		return nil, err
	}
	t.logger.Printf("Organization %s: %d members, %d repositories", overview.Login, overview.MemberCount, overview.RepoCount)

	// The member and repository listings are independent streams;
	// fetch them in parallel. A failure of either aborts the run.
	var members []string
	var refs []domain.RepoRef
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		pager := fetch.NewPager("members "+org, t.limiter, t.logger,
			func(ctx context.Context, cursor string) ([]string, string, ratelimit.Info, error) {
				return t.client.ListMembers(ctx, org, cursor)
			})
		var err error
		members, err = pager.All(egCtx)
		return err
	})
	eg.Go(func() error {
		pager := fetch.NewPager("repos "+org, t.limiter, t.logger,
			func(ctx context.Context, cursor string) ([]domain.RepoRef, string, ratelimit.Info, error) {
				return t.client.ListRepos(ctx, org, cursor)
			})
		var err error
		refs, err = pager.All(egCtx)
		return err
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	t.logger.Printf("Listed %d members and %d repositories, probing with %d workers...", len(members), len(refs), t.concurrency)

	// Fan out the probes. Probes never return errors; each cancelled or
	// failed repository is recorded in its own slot, so the pool always
	// drains and the report covers every listed repository.
	results := make([]domain.Repository, len(refs))
	var pool errgroup.Group
	pool.SetLimit(t.concurrency)
	for i, ref := range refs {
		i, ref := i, ref
		pool.Go(func() error {
			results[i] = t.prober.Probe(ctx, ref)
			return nil
		})
	}
	_ = pool.Wait()

	organization := domain.Organization{
		Login:       org,
		Name:        overview.Name,
		Description: overview.Description,
		Members:     members,
		Repos:       repoNames(refs),
	}
	report := BuildReport(organization, results)
	t.logger.Printf("Probe complete: %d repositories, %d contributors, %d failures",
		len(report.Repositories), len(report.Contributors), len(report.Failures))
	return &report, nil
}

func repoNames(refs []domain.RepoRef) []string {
	names := make([]string, 0, len(refs))
	for _, ref := range refs {
		names = append(names, ref.Name)
	}
	return names
}
