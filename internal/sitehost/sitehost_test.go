package sitehost

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aktagon/news-publisher/internal/archive"
)

type putRequest struct {
	Path        string
	ContentType string
	Body        []byte
}

// fakeBucket is an S3 endpoint that accepts PutObject and remembers it.
type fakeBucket struct {
	mu     sync.Mutex
	puts   []putRequest
	status int
}

func (b *fakeBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	b.mu.Lock()
	b.puts = append(b.puts, putRequest{Path: r.URL.Path, ContentType: r.Header.Get("Content-Type"), Body: body})
	status := b.status
	b.mu.Unlock()

	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if status != 0 {
		w.WriteHeader(status)
		fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>AccessDenied</Code><Message>denied</Message></Error>`)
		return
	}
	w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
	w.WriteHeader(http.StatusOK)
}

func (b *fakeBucket) requests() []putRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]putRequest(nil), b.puts...)
}

func newPublisher(t *testing.T, bucket *fakeBucket) *Publisher {
	t.Helper()
	server := httptest.NewServer(bucket)
	t.Cleanup(server.Close)

	p, err := New(context.Background(), Config{
		AccessKeyID:     "test",
		SecretAccessKey: "secret",
		Endpoint:        server.URL,
		Bucket:          "site",
		PublicURL:       "https://news.example.com/",
		PathStyle:       true,
	}, zerolog.Nop())
	require.NoError(t, err)
	p.now = func() time.Time { return time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC) }
	return p
}

func archived(t *testing.T, dir string, n int) []archive.Entry {
	t.Helper()
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("news_202603%02d_080000", i+1)
		md := fmt.Sprintf("# Article %d\n\nbody %d\n", i+1, i+1)
		require.NoError(t, os.WriteFile(filepath.Join(dir, id+".md"), []byte(md), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, id+".html"), []byte("<h1>Article</h1>"), 0o644))
	}
	entries, err := archive.List(dir)
	require.NoError(t, err)
	return entries
}

func TestPublishArticle(t *testing.T) {
	bucket := &fakeBucket{}
	p := newPublisher(t, bucket)
	entries := archived(t, t.TempDir(), 1)

	u, err := p.PublishArticle(context.Background(), entries[0])
	require.NoError(t, err)
	assert.Equal(t, "https://news.example.com/article/news_20260301_080000.html", u)

	reqs := bucket.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/site/article/news_20260301_080000.html", reqs[0].Path)
	assert.Equal(t, "text/html; charset=utf-8", reqs[0].ContentType)
	assert.Equal(t, "<h1>Article</h1>", string(reqs[0].Body))
}

func TestPublishArticleWithoutHTML(t *testing.T) {
	p := newPublisher(t, &fakeBucket{})

	_, err := p.PublishArticle(context.Background(), archive.Entry{ID: "news_20260301_080000"})
	assert.Error(t, err)
}

func TestPublishIndexKeepsLatestTwenty(t *testing.T) {
	bucket := &fakeBucket{}
	p := newPublisher(t, bucket)
	entries := archived(t, t.TempDir(), 25)

	require.NoError(t, p.PublishIndex(context.Background(), entries))

	reqs := bucket.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/site/"+IndexKey, reqs[0].Path)

	var idx Index
	require.NoError(t, json.Unmarshal(reqs[0].Body, &idx))
	assert.Equal(t, 25, idx.Total)
	require.Len(t, idx.Articles, IndexLimit)
	assert.Equal(t, "news_20260325_080000", idx.Articles[0].ID)
	assert.Equal(t, "Article 25", idx.Articles[0].Title)
	assert.Equal(t, "2026年03月25日 08:00", idx.Articles[0].Date)
	assert.Equal(t, "https://news.example.com/article/news_20260325_080000.html", idx.Articles[0].URL)
	assert.Equal(t, time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC), idx.LastUpdated)
}

func TestPublishUploadError(t *testing.T) {
	p := newPublisher(t, &fakeBucket{status: http.StatusForbidden})

	err := p.PublishIndex(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), IndexKey)
}

func TestBuildIndexEmpty(t *testing.T) {
	idx := BuildIndex(nil, time.Now(), "")
	assert.Zero(t, idx.Total)
	assert.NotNil(t, idx.Articles)

	data, err := json.Marshal(idx)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"articles":[]`)
}

func TestConfigValidate(t *testing.T) {
	err := Config{AccessKeyID: "a"}.Validate()
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Contains(t, err.Error(), "secret access key")
	assert.Contains(t, err.Error(), "bucket")

	_, err = New(context.Background(), Config{}, zerolog.Nop())
	assert.ErrorIs(t, err, ErrNotConfigured)

	assert.NoError(t, Config{AccessKeyID: "a", SecretAccessKey: "b", Bucket: "c"}.Validate())
}
