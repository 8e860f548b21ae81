// Package sitehost publishes archived articles to a static site kept in an
// S3-compatible bucket: one HTML page per article plus a JSON index the
// site's front page reads.
package sitehost

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/aktagon/news-publisher/internal/archive"
)

const (
	// IndexKey is where the article index lives in the bucket.
	IndexKey = "data/articles.json"
	// IndexLimit is how many articles the index lists.
	IndexLimit = 20
)

// ErrNotConfigured means the bucket settings are incomplete.
var ErrNotConfigured = errors.New("static host not configured")

// Config locates the bucket.
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	Region          string
	Bucket          string
	// PublicURL is the site's base URL, used for the links in the index.
	PublicURL string
	// PathStyle addresses the bucket in the path rather than the host name,
	// as MinIO and most self-hosted stores expect.
	PathStyle bool
}

// Validate checks the fields needed to upload.
func (c Config) Validate() error {
	var missing []string
	if c.AccessKeyID == "" {
		missing = append(missing, "access key id")
	}
	if c.SecretAccessKey == "" {
		missing = append(missing, "secret access key")
	}
	if c.Bucket == "" {
		missing = append(missing, "bucket")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrNotConfigured, strings.Join(missing, ", "))
	}
	return nil
}

// Publisher uploads pages and the index.
type Publisher struct {
	client    *s3.Client
	bucket    string
	publicURL string
	log       zerolog.Logger
	now       func() time.Time
}

// New builds a publisher from static credentials.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
		config.WithRequestChecksumCalculation(aws.RequestChecksumCalculationWhenRequired),
	)
	if err != nil {
		return nil, fmt.Errorf("loading S3 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	return &Publisher{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimSuffix(cfg.PublicURL, "/"),
		log:       log.With().Str("component", "sitehost").Logger(),
		now:       time.Now,
	}, nil
}

// ArticleKey is the object key of an article page.
func ArticleKey(id string) string {
	return "article/" + id + ".html"
}

// PublishArticle uploads one archived article's HTML page and returns its
// public URL.
func (p *Publisher) PublishArticle(ctx context.Context, e archive.Entry) (string, error) {
	if e.HTMLPath == "" {
		return "", fmt.Errorf("article %s has no HTML rendering", e.ID)
	}
	page, err := os.ReadFile(e.HTMLPath)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", e.HTMLPath, err)
	}

	key := ArticleKey(e.ID)
	if err := p.put(ctx, key, "text/html; charset=utf-8", page); err != nil {
		return "", err
	}
	u := p.url(key)
	p.log.Info().Str("key", key).Msg("✓ article uploaded")
	return u, nil
}

// PublishIndex uploads the index built from entries.
func (p *Publisher) PublishIndex(ctx context.Context, entries []archive.Entry) error {
	idx := BuildIndex(entries, p.now(), p.publicURL)
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding index: %w", err)
	}
	if err := p.put(ctx, IndexKey, "application/json; charset=utf-8", data); err != nil {
		return err
	}
	p.log.Info().Int("articles", len(idx.Articles)).Int("total", idx.Total).Msg("✓ index uploaded")
	return nil
}

func (p *Publisher) put(ctx context.Context, key, contentType string, body []byte) error {
	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(body))),
		CacheControl:  aws.String("max-age=300"),
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", key, err)
	}
	return nil
}

func (p *Publisher) url(key string) string {
	if p.publicURL == "" {
		return key
	}
	return p.publicURL + "/" + key
}

// Index is the JSON document the static site renders its article list
// from.
type Index struct {
	Total       int         `json:"total"`
	LastUpdated time.Time   `json:"last_updated"`
	Articles    []IndexItem `json:"articles"`
}

// IndexItem is one article in the index.
type IndexItem struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Date      string    `json:"date"`
	DateISO   time.Time `json:"date_iso"`
	Preview   string    `json:"preview"`
	WordCount int       `json:"word_count"`
	URL       string    `json:"url"`
}

// BuildIndex lists the newest IndexLimit entries. entries must already be
// newest first, as archive.List returns them.
func BuildIndex(entries []archive.Entry, now time.Time, publicURL string) Index {
	idx := Index{Total: len(entries), LastUpdated: now, Articles: []IndexItem{}}
	for i, e := range entries {
		if i == IndexLimit {
			break
		}
		u := ArticleKey(e.ID)
		if publicURL != "" {
			u = strings.TrimSuffix(publicURL, "/") + "/" + u
		}
		idx.Articles = append(idx.Articles, IndexItem{
			ID:        e.ID,
			Title:     e.Title,
			Date:      e.Created.Format("2006年01月02日 15:04"),
			DateISO:   e.Created,
			Preview:   e.Preview,
			WordCount: e.Chars,
			URL:       u,
		})
	}
	return idx
}
