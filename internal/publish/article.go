package publish

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// MaxAttachments is how many images the compose step will upload.
const MaxAttachments = 3

// Article is what gets published. Build it with NewArticle; the driver
// treats it as read-only.
type Article struct {
	Title       string
	Body        string
	Attachments []string
	// Created identifies the article in archive file names.
	Created time.Time
}

// NewArticle validates and copies its inputs.
func NewArticle(title, body string, created time.Time, attachments ...string) (Article, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Article{}, errors.New("article title is empty")
	}
	if strings.TrimSpace(body) == "" {
		return Article{}, errors.New("article body is empty")
	}
	if len(attachments) > MaxAttachments {
		return Article{}, fmt.Errorf("article has %d attachments, at most %d allowed", len(attachments), MaxAttachments)
	}
	for i, a := range attachments {
		if strings.TrimSpace(a) == "" {
			return Article{}, fmt.Errorf("attachment %d has an empty path", i+1)
		}
	}
	if created.IsZero() {
		created = time.Now()
	}
	return Article{
		Title:       title,
		Body:        body,
		Attachments: slices.Clone(attachments),
		Created:     created,
	}, nil
}
