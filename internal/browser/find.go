package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

// ErrNotFound is returned when no candidate locator resolves.
var ErrNotFound = errors.New("element not found")

// NotFoundError names the field that could not be located and the
// candidates that were tried.
type NotFoundError struct {
	Field      string
	Candidates []Locator
}

func (e *NotFoundError) Error() string {
	tried := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		tried[i] = c.String()
	}
	return fmt.Sprintf("%s: %v (tried %s)", e.Field, ErrNotFound, strings.Join(tried, ", "))
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// Handle is a resolved element: the candidate that matched and its rank.
type Handle struct {
	Locator Locator
	Rank    int
}

// FindFirst tries candidates in order, each bounded by its own timeout, and
// returns the first that resolves. A cancelled ctx ends the search with
// ctx.Err().
func FindFirst(ctx context.Context, page Page, field string, candidates []Locator) (Handle, error) {
	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			return Handle{}, err
		}
		waitCtx, cancel := context.WithTimeout(ctx, c.Wait())
		err := page.Wait(waitCtx, c)
		cancel()
		if err == nil {
			return Handle{Locator: c, Rank: i}, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return Handle{}, err
	}
	return Handle{}, &NotFoundError{Field: field, Candidates: candidates}
}

var errConditionPending = errors.New("condition not met")

// Condition is polled by AwaitCondition. Errors count as "not yet".
type Condition func(ctx context.Context) (bool, error)

// AwaitCondition evaluates cond up to maxAttempts times, interval apart, and
// reports whether it was ever satisfied. Each evaluation gets its own
// deadline of the larger of interval and DefaultCandidateTimeout, so worst
// case it returns after (maxAttempts-1) * interval plus maxAttempts such
// deadlines; it returns false early when ctx is done.
func AwaitCondition(ctx context.Context, cond Condition, interval time.Duration, maxAttempts int) bool {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if interval <= 0 {
		interval = time.Millisecond
	}

	attemptTimeout := max(interval, DefaultCandidateTimeout)

	b := retry.WithMaxRetries(uint64(maxAttempts-1), retry.NewConstant(interval))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		defer cancel()
		ok, err := cond(attemptCtx)
		if err == nil && ok {
			return nil
		}
		return retry.RetryableError(errConditionPending)
	})
	return err == nil
}

// URLMatches is a Condition over the page's current URL.
func URLMatches(page Page, match func(url string) bool) Condition {
	return func(ctx context.Context) (bool, error) {
		u, err := page.URL(ctx)
		if err != nil {
			return false, err
		}
		return match(u), nil
	}
}

// Settle pauses for d so the page's scripts can react to the last action.
func Settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
