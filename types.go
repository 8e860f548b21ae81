package main

import (
	"time"

	"github.com/aktagon/news-publisher/internal/publish"
)

// Signals is the day's market context handed to the writer
type Signals struct {
	FetchedAt time.Time        `json:"fetched_at"`
	Trends    map[string]int   `json:"trends"`
	Quotes    map[string]Quote `json:"quotes"`
	Headlines []Headline       `json:"headlines"`
}

// Quote is one asset's entry from a CoinGecko simple/price response, e.g.
// {"jpy": 152.3, "jpy_24h_change": 4.1}
type Quote map[string]float64

// Headline is a news item from an allow-listed source
type Headline struct {
	Title     string    `json:"title"`
	Source    string    `json:"source"`
	URL       string    `json:"url"`
	Snippet   string    `json:"snippet,omitempty"`
	Published time.Time `json:"published,omitempty"`
}

// GeneratedArticle is the writer's output before it becomes a publish.Article
type GeneratedArticle struct {
	Title    string
	Body     string
	Model    string
	Fallback bool // true when the embedded default article was used
}

// TargetStatus represents the outcome of one publish target
type TargetStatus string

const (
	TargetSkipped TargetStatus = "skipped"
	TargetDone    TargetStatus = "done"
	TargetFailed  TargetStatus = "failed"
)

// RunReport tracks the outcome of one pipeline run
type RunReport struct {
	RunID       string
	Title       string
	Fallback    bool
	ArchivePath string
	Note        *publish.Result
	SiteStatus  TargetStatus
	SiteURL     string
	SiteErr     error
}

// Status is the run's overall outcome. The note.com result decides it when
// that target ran; otherwise the static site does.
func (r *RunReport) Status() publish.Status {
	if r.Note != nil {
		return r.Note.Status
	}
	if r.SiteStatus == TargetFailed {
		return publish.Failure
	}
	return publish.Success
}
