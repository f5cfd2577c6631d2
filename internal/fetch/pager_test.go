package fetch

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-github/v62/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naka-gawa/whatsup/internal/ratelimit"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func openLimiter() *ratelimit.Limiter {
	return ratelimit.NewWithBudget(10000, time.Now().Add(1*time.Hour))
}

func apiError(status int) error {
	req, _ := http.NewRequest(http.MethodGet, "https://api.github.com/test", nil)
	return &github.ErrorResponse{Response: &http.Response{StatusCode: status, Request: req}}
}

func serverError() error {
	return apiError(http.StatusInternalServerError)
}

func notFoundError() error {
	return apiError(http.StatusNotFound)
}

func TestPager_FollowsCursorsLazily(t *testing.T) {
	pages := map[string]struct {
		items []string
		next  string
	}{
		"":  {items: []string{"a", "b"}, next: "2"},
		"2": {items: []string{"c"}, next: "3"},
		"3": {items: nil, next: ""},
	}
	calls := 0
	pager := NewPager("things", openLimiter(), testLogger(), func(_ context.Context, cursor string) ([]string, string, ratelimit.Info, error) {
		calls++
		p := pages[cursor]
		return p.items, p.next, ratelimit.Info{}, nil
	})

	items, ok, err := pager.Next(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, items)
	assert.Equal(t, 1, calls, "Next must fetch exactly one page")

	items, ok, err = pager.Next(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"c"}, items)

	_, ok, err = pager.Next(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	// Exhausted: ok flips to false and stays there.
	_, ok, err = pager.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, _ = pager.Next(context.Background())
	assert.False(t, ok)
}

func TestPager_All(t *testing.T) {
	pager := NewPager("things", openLimiter(), testLogger(), func(_ context.Context, cursor string) ([]int, string, ratelimit.Info, error) {
		if cursor == "" {
			return []int{1, 2}, "2", ratelimit.Info{}, nil
		}
		return []int{3}, "", ratelimit.Info{}, nil
	})

	all, err := pager.All(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, all)
}

func TestPager_RetriesTransientErrors(t *testing.T) {
	testCases := []struct {
		name        string
		errs        []error // error returned per call, nil means success
		expectCalls int
		expectError bool
	}{
		{
			name:        "5xx then success",
			errs:        []error{serverError(), nil},
			expectCalls: 2,
			expectError: false,
		},
		{
			name:        "retries exhausted",
			errs:        []error{serverError(), serverError(), serverError()},
			expectCalls: 3,
			expectError: true,
		},
		{
			name:        "non-transient fails immediately",
			errs:        []error{notFoundError()},
			expectCalls: 1,
			expectError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			calls := 0
			pager := NewPager("things", openLimiter(), testLogger(), func(_ context.Context, _ string) ([]string, string, ratelimit.Info, error) {
				err := tc.errs[calls]
				calls++
				if err != nil {
					return nil, "", ratelimit.Info{}, err
				}
				return []string{"ok"}, "", ratelimit.Info{}, nil
			})
			pager.backoff = time.Millisecond

			items, ok, err := pager.Next(context.Background())
			assert.Equal(t, tc.expectCalls, calls)
			if tc.expectError {
				require.Error(t, err)
				var fe *FetchError
				assert.ErrorAs(t, err, &fe)
				assert.Equal(t, "things", fe.Endpoint)
			} else {
				require.NoError(t, err)
				assert.True(t, ok)
				assert.Equal(t, []string{"ok"}, items)
			}
		})
	}
}

func TestPager_WaitsForQuotaBeforeFetching(t *testing.T) {
	reset := time.Now().Add(150 * time.Millisecond)
	limiter := ratelimit.NewWithBudget(0, reset)

	var fetchedAt time.Time
	pager := NewPager("things", limiter, testLogger(), func(_ context.Context, _ string) ([]string, string, ratelimit.Info, error) {
		fetchedAt = time.Now()
		return []string{"x"}, "", ratelimit.Info{}, nil
	})

	start := time.Now()
	_, ok, err := pager.Next(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.GreaterOrEqual(t, fetchedAt.Sub(start), 100*time.Millisecond,
		"the transport must not be hit before the reset time")
}

func TestPager_ServerRateLimitOverridesLocalTracking(t *testing.T) {
	limiter := openLimiter()
	calls := 0
	pager := NewPager("things", limiter, testLogger(), func(_ context.Context, _ string) ([]string, string, ratelimit.Info, error) {
		calls++
		if calls == 1 {
			return nil, "", ratelimit.Info{}, &github.RateLimitError{
				Rate: github.Rate{Remaining: 0, Reset: github.Timestamp{Time: time.Now().Add(50 * time.Millisecond)}},
			}
		}
		return []string{"x"}, "", ratelimit.Info{}, nil
	})

	items, ok, err := pager.Next(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"x"}, items)
	assert.Equal(t, 2, calls, "the rejected page must be retried, not failed")
}

func TestPager_CancellationDuringWait(t *testing.T) {
	limiter := ratelimit.NewWithBudget(0, time.Now().Add(1*time.Hour))
	pager := NewPager("things", limiter, testLogger(), func(_ context.Context, _ string) ([]string, string, ratelimit.Info, error) {
		t.Fatal("transport must not be reached")
		return nil, "", ratelimit.Info{}, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err := pager.Next(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPager_UpdatesLimiterFromResponse(t *testing.T) {
	limiter := openLimiter()
	reset := time.Now().Add(30 * time.Minute)
	pager := NewPager("things", limiter, testLogger(), func(_ context.Context, _ string) ([]string, string, ratelimit.Info, error) {
		return []string{"x"}, "", ratelimit.Info{Remaining: 42, Reset: reset}, nil
	})

	_, _, err := pager.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, limiter.Remaining())
}

func TestDo_SingleCall(t *testing.T) {
	limiter := openLimiter()
	calls := 0
	err := Do(context.Background(), "meta", limiter, testLogger(), func(_ context.Context) (ratelimit.Info, error) {
		calls++
		return ratelimit.Info{}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	wanted := errors.New("boom")
	err = Do(context.Background(), "meta", limiter, testLogger(), func(_ context.Context) (ratelimit.Info, error) {
		return ratelimit.Info{}, wanted
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, wanted)
}
