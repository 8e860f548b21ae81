package browser_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aktagon/news-publisher/internal/browser"
	"github.com/aktagon/news-publisher/internal/browser/browsertest"
)

func TestFindFirstReturnsFirstMatchingCandidate(t *testing.T) {
	page := browsertest.NewPage()
	page.Add(browser.CSS("input[name=email]"))
	page.Add(browser.CSS("input[placeholder*=mail]"))

	candidates := []browser.Locator{
		browser.CSS("#email"),
		browser.CSS("input[name=email]"),
		browser.CSS("input[placeholder*=mail]"),
	}

	h, err := browser.FindFirst(context.Background(), page, "identifier", candidates)
	require.NoError(t, err)
	assert.Equal(t, 1, h.Rank)
	assert.Equal(t, "input[name=email]", h.Locator.Selector)
}

func TestFindFirstNotFound(t *testing.T) {
	page := browsertest.NewPage()
	candidates := []browser.Locator{browser.CSS("#email"), browser.Text("Log in")}

	_, err := browser.FindFirst(context.Background(), page, "identifier", candidates)
	require.Error(t, err)
	assert.ErrorIs(t, err, browser.ErrNotFound)

	var nf *browser.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "identifier", nf.Field)
	assert.Len(t, nf.Candidates, 2)
	assert.Contains(t, err.Error(), "css:#email")
}

func TestFindFirstHiddenElementDoesNotMatch(t *testing.T) {
	page := browsertest.NewPage()
	page.Add(browser.CSS("#email")).Hidden = true

	_, err := browser.FindFirst(context.Background(), page, "identifier", []browser.Locator{browser.CSS("#email")})
	assert.ErrorIs(t, err, browser.ErrNotFound)
}

func TestFindFirstCancelledContext(t *testing.T) {
	page := browsertest.NewPage()
	page.Add(browser.CSS("#email"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := browser.FindFirst(ctx, page, "identifier", []browser.Locator{browser.CSS("#email")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAwaitCondition(t *testing.T) {
	tests := []struct {
		name        string
		trueOnCall  int // 0 never
		maxAttempts int
		want        bool
		wantCalls   int
	}{
		{"immediately true", 1, 5, true, 1},
		{"true on third poll", 3, 5, true, 3},
		{"true on last poll", 5, 5, true, 5},
		{"never true", 0, 5, false, 5},
		{"zero attempts still polls once", 0, 0, false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			cond := func(ctx context.Context) (bool, error) {
				calls++
				return tt.trueOnCall > 0 && calls >= tt.trueOnCall, nil
			}

			got := browser.AwaitCondition(context.Background(), cond, time.Millisecond, tt.maxAttempts)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantCalls, calls)
		})
	}
}

func TestAwaitConditionTreatsErrorsAsPending(t *testing.T) {
	calls := 0
	cond := func(ctx context.Context) (bool, error) {
		calls++
		if calls < 3 {
			return false, errors.New("transient")
		}
		return true, nil
	}

	assert.True(t, browser.AwaitCondition(context.Background(), cond, time.Millisecond, 10))
	assert.Equal(t, 3, calls)
}

func TestAwaitConditionIsBounded(t *testing.T) {
	interval := 5 * time.Millisecond
	attempts := 10

	start := time.Now()
	ok := browser.AwaitCondition(context.Background(), func(context.Context) (bool, error) {
		return false, nil
	}, interval, attempts)
	elapsed := time.Since(start)

	assert.False(t, ok)
	assert.Less(t, elapsed, time.Duration(attempts)*interval+time.Second)
}

func TestAwaitConditionBoundsEachAttempt(t *testing.T) {
	calls := 0
	stuck := func(ctx context.Context) (bool, error) {
		calls++
		<-ctx.Done()
		return false, ctx.Err()
	}

	start := time.Now()
	ok := browser.AwaitCondition(context.Background(), stuck, time.Millisecond, 2)

	assert.False(t, ok)
	assert.Equal(t, 2, calls, "a hung evaluation must not stop later polls")
	assert.Less(t, time.Since(start), 3*browser.DefaultCandidateTimeout)
}

func TestAwaitConditionStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	ok := browser.AwaitCondition(ctx, func(context.Context) (bool, error) {
		return false, nil
	}, 10*time.Millisecond, 1000)

	assert.False(t, ok)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestURLMatches(t *testing.T) {
	page := browsertest.NewPage()
	page.SetURL("https://note.com/login")
	page.ChangeURLAfter(2, "https://note.com/")

	cond := browser.URLMatches(page, func(u string) bool { return u == "https://note.com/" })
	assert.True(t, browser.AwaitCondition(context.Background(), cond, time.Millisecond, 5))
	assert.Equal(t, 3, page.URLReads())
}
