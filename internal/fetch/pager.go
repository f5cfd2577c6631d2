// Package fetch implements lazy, rate-limited retrieval over GitHub's
// paginated listing endpoints. A Pager follows cursors one page at a
// time, reserving quota before every request and retrying transient
// transport failures with exponential backoff.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/google/go-github/v62/github"

	"github.com/naka-gawa/whatsup/internal/ratelimit"
)

const (
	maxAttempts  = 3
	baseBackoff  = 1 * time.Second
	maxBackoff   = 30 * time.Second
	abuseBackoff = 1 * time.Minute
)

// FetchError reports that a listing could not be completed even after
// retries. Pagination failures are not per-item recoverable: one failed
// page fails the whole listing.
type FetchError struct {
	Endpoint string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Endpoint, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// PageFunc fetches one page of items for the cursor and returns the next
// cursor ("" when exhausted) together with the rate headers the server
// reported on the response.
type PageFunc[T any] func(ctx context.Context, cursor string) (items []T, next string, rate ratelimit.Info, err error)

// Pager is a lazy sequence of items over a paginated endpoint. It is not
// safe for concurrent use and is restartable only by constructing a new
// Pager.
type Pager[T any] struct {
	endpoint string
	limiter  *ratelimit.Limiter
	logger   *log.Logger
	fn       PageFunc[T]

	// backoff is the initial retry delay; tests shrink it.
	backoff time.Duration

	cursor string
	done   bool
}

// NewPager constructs a Pager over endpoint. The endpoint name is used
// only for logging and error reporting.
func NewPager[T any](endpoint string, limiter *ratelimit.Limiter, logger *log.Logger, fn PageFunc[T]) *Pager[T] {
	return &Pager[T]{endpoint: endpoint, limiter: limiter, logger: logger, fn: fn, backoff: baseBackoff}
}

// Next returns the next page of items. The second return is false once
// the sequence is exhausted. On failure the whole listing fails with a
// *FetchError wrapping the cause.
func (p *Pager[T]) Next(ctx context.Context) ([]T, bool, error) {
	if p.done {
		return nil, false, nil
	}

	items, err := p.fetchPage(ctx)
	if err != nil {
		p.done = true
		return nil, false, &FetchError{Endpoint: p.endpoint, Err: err}
	}
	if p.cursor == "" {
		p.done = true
	}
	return items, true, nil
}

// All drains the sequence into a slice.
func (p *Pager[T]) All(ctx context.Context) ([]T, error) {
	var all []T
	for {
		items, ok, err := p.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return all, nil
		}
		all = append(all, items...)
	}
}

// Do issues a single rate-limited, non-paginated call with the same
// quota-wait and retry policy as a Pager.
func Do(ctx context.Context, endpoint string, limiter *ratelimit.Limiter, logger *log.Logger, fn func(ctx context.Context) (ratelimit.Info, error)) error {
	pager := NewPager(endpoint, limiter, logger, func(ctx context.Context, _ string) ([]struct{}, string, ratelimit.Info, error) {
		rate, err := fn(ctx)
		return nil, "", rate, err
	})
	_, _, err := pager.Next(ctx)
	return err
}

// fetchPage issues one page request, waiting out the rate limit before
// each attempt and retrying transient failures with doubling backoff.
func (p *Pager[T]) fetchPage(ctx context.Context) ([]T, error) {
	backoff := p.backoff
	var lastErr error

	for attempt := 0; attempt < maxAttempts; {
		if err := p.waitForQuota(ctx); err != nil {
			return nil, err
		}

		items, next, rate, err := p.fn(ctx, p.cursor)
		if err == nil {
			if !rate.Reset.IsZero() {
				p.limiter.Update(rate.Remaining, rate.Reset)
			}
			p.cursor = next
			return items, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		// The server rejecting a call for quota overrides our local
		// tracking: record the reset, wait it out, and retry the same
		// page without consuming a retry attempt.
		if reset, ok := rateLimited(err); ok {
			p.logger.Printf("  %s: rate limited by server, waiting until %s", p.endpoint, reset.Format(time.RFC3339))
			p.limiter.Exhaust(reset)
			if err := sleep(ctx, time.Until(reset)); err != nil {
				return nil, err
			}
			continue
		}

		if !transient(err) {
			return nil, err
		}
		lastErr = err
		attempt++
		if attempt == maxAttempts {
			break
		}
		p.logger.Printf("  %s: transient error (%v), retrying in %s", p.endpoint, err, backoff)
		if err := sleep(ctx, backoff); err != nil {
			return nil, err
		}
		backoff = min(backoff*2, maxBackoff)
	}
	return nil, lastErr
}

func (p *Pager[T]) waitForQuota(ctx context.Context) error {
	for {
		wait := p.limiter.Reserve(1)
		if wait == 0 {
			return nil
		}
		p.logger.Printf("  %s: quota exhausted, sleeping %s", p.endpoint, wait)
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// rateLimited reports whether err is a server-side rate-limit rejection
// and, if so, when the quota resets.
func rateLimited(err error) (time.Time, bool) {
	var rle *github.RateLimitError
	if errors.As(err, &rle) {
		return rle.Rate.Reset.Time, true
	}
	var arle *github.AbuseRateLimitError
	if errors.As(err, &arle) {
		if arle.RetryAfter != nil {
			return time.Now().Add(*arle.RetryAfter), true
		}
		return time.Now().Add(abuseBackoff), true
	}
	return time.Time{}, false
}

// transient reports whether err is worth retrying: timeouts and 5xx
// responses. Anything else (404, auth failures) fails immediately.
func transient(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var er *github.ErrorResponse
	if errors.As(err, &er) && er.Response != nil && er.Response.StatusCode >= 500 {
		return true
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
