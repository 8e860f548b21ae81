package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	snippetRunes     = 280
	maxParallelFetch = 4
)

// SignalFetcher collects the day's signals. A source that fails only
// leaves its part of Signals empty.
type SignalFetcher struct {
	fetcher  *ContentFetcher
	settings SignalSettings
	log      zerolog.Logger
	now      func() time.Time
}

// NewSignalFetcher creates a fetcher for the configured sources
func NewSignalFetcher(settings SignalSettings, log zerolog.Logger) *SignalFetcher {
	return &SignalFetcher{
		fetcher:  NewContentFetcher(settings.Timeout, log),
		settings: settings,
		log:      log.With().Str("component", "signals").Logger(),
		now:      time.Now,
	}
}

// Fetch pulls trend scores, market quotes and headlines concurrently. It
// fails only when ctx ends.
func (s *SignalFetcher) Fetch(ctx context.Context) (*Signals, error) {
	s.log.Info().Msg("→ Fetching signals...")
	sig := &Signals{
		FetchedAt: s.now(),
		Trends:    make(map[string]int, len(s.settings.Keywords)),
		Quotes:    map[string]Quote{},
		Headlines: []Headline{},
	}

	var mu sync.Mutex
	var items []Headline

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelFetch)

	for _, kw := range s.settings.Keywords {
		g.Go(func() error {
			score := s.trendScore(gctx, kw)
			mu.Lock()
			sig.Trends[kw] = score
			mu.Unlock()
			return nil
		})
	}

	if s.settings.Market.Endpoint != "" && len(s.settings.Market.Assets) > 0 {
		g.Go(func() error {
			quotes := s.quotes(gctx)
			mu.Lock()
			sig.Quotes = quotes
			mu.Unlock()
			return nil
		})
	}

	for _, feedURL := range s.settings.NewsFeeds {
		g.Go(func() error {
			found := s.headlines(gctx, feedURL)
			mu.Lock()
			items = append(items, found...)
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sig.Headlines = s.selectHeadlines(items)
	s.enrich(ctx, sig.Headlines)

	s.log.Info().
		Int("keywords", len(sig.Trends)).
		Int("quotes", len(sig.Quotes)).
		Int("headlines", len(sig.Headlines)).
		Msg("✓ Signals fetched")
	return sig, nil
}

// trendScore counts recent feed items that mention keyword.
func (s *SignalFetcher) trendScore(ctx context.Context, keyword string) int {
	if s.settings.TrendFeed == "" {
		return 0
	}
	feedURL := strings.ReplaceAll(s.settings.TrendFeed, keywordPlaceholder, url.QueryEscape(keyword))
	res, err := s.fetcher.FetchContent(ctx, feedURL)
	if err != nil || res.Feed == nil {
		s.log.Warn().Err(err).Str("keyword", keyword).Msg("trend fetch failed")
		return 0
	}
	return countMentions(res.Feed, keyword)
}

func countMentions(feed *gofeed.Feed, keyword string) int {
	needle := strings.ToLower(keyword)
	n := 0
	for _, item := range feed.Items {
		if strings.Contains(strings.ToLower(item.Title), needle) ||
			strings.Contains(strings.ToLower(item.Description), needle) {
			n++
		}
	}
	return n
}

// quotes reads a CoinGecko-compatible simple/price endpoint.
func (s *SignalFetcher) quotes(ctx context.Context) map[string]Quote {
	m := s.settings.Market
	q := url.Values{}
	q.Set("ids", strings.Join(m.Assets, ","))
	q.Set("vs_currencies", strings.Join(m.Currencies, ","))
	q.Set("include_market_cap", "true")
	q.Set("include_24hr_vol", "true")
	q.Set("include_24hr_change", "true")

	res, err := s.fetcher.FetchContent(ctx, m.Endpoint+"?"+q.Encode())
	if err == nil && res.Data == nil {
		err = fmt.Errorf("unexpected content from %s", m.Endpoint)
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("market quotes unavailable")
		return map[string]Quote{}
	}

	var quotes map[string]Quote
	if err := json.Unmarshal(res.Data, &quotes); err != nil {
		s.log.Warn().Err(err).Msg("market quotes unreadable")
		return map[string]Quote{}
	}
	return quotes
}

// headlines returns the items of one feed whose link is on an allowed
// domain.
func (s *SignalFetcher) headlines(ctx context.Context, feedURL string) []Headline {
	res, err := s.fetcher.FetchContent(ctx, feedURL)
	if err != nil || res.Feed == nil {
		s.log.Warn().Err(err).Str("feed", feedURL).Msg("news feed unavailable")
		return nil
	}

	var out []Headline
	for _, item := range res.Feed.Items {
		host, ok := allowedHost(item.Link, s.settings.TargetDomains)
		if !ok {
			continue
		}
		h := Headline{
			Title:   strings.TrimSpace(item.Title),
			Source:  host,
			URL:     item.Link,
			Snippet: truncateRunes(plainText(item.Description), snippetRunes),
		}
		if item.PublishedParsed != nil {
			h.Published = *item.PublishedParsed
		}
		out = append(out, h)
	}
	return out
}

// selectHeadlines keeps the newest distinct headlines.
func (s *SignalFetcher) selectHeadlines(items []Headline) []Headline {
	slices.SortStableFunc(items, func(a, b Headline) int {
		return b.Published.Compare(a.Published)
	})

	seen := make(map[string]bool, len(items))
	out := make([]Headline, 0, s.settings.MaxSnippets)
	for _, h := range items {
		if seen[h.URL] || h.Title == "" {
			continue
		}
		seen[h.URL] = true
		out = append(out, h)
		if len(out) == s.settings.MaxSnippets {
			break
		}
	}
	return out
}

// enrich fills missing snippets from the article pages themselves.
func (s *SignalFetcher) enrich(ctx context.Context, headlines []Headline) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelFetch)
	for i := range headlines {
		if headlines[i].Snippet != "" {
			continue
		}
		g.Go(func() error {
			res, err := s.fetcher.FetchContent(gctx, headlines[i].URL)
			if err != nil || res.Text == "" {
				s.log.Debug().Err(err).Str("url", headlines[i].URL).Msg("no snippet")
				return nil
			}
			headlines[i].Snippet = truncateRunes(strings.Join(strings.Fields(res.Text), " "), snippetRunes)
			return nil
		})
	}
	_ = g.Wait()
}

// allowedHost reports whether link's host is one of domains or a
// subdomain of one.
func allowedHost(link string, domains []string) (string, bool) {
	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return "", false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	for _, d := range domains {
		d = strings.ToLower(d)
		if host == d || strings.HasSuffix(host, "."+d) {
			return host, true
		}
	}
	return "", false
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
