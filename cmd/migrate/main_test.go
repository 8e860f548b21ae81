package main

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/rs/zerolog"

	"github.com/aktagon/news-publisher/internal/archive"
	"github.com/aktagon/news-publisher/internal/publish"
)

func TestParseLegacy(t *testing.T) {
	converter := md.NewConverter("", true, nil)
	tests := []struct {
		name      string
		file      string
		content   string
		wantTitle string
		wantBody  string
		wantErr   bool
	}{
		{
			name:      "title marker",
			file:      "rwa_news_20260227_193218.txt",
			content:   "【タイトル】RWA市場が機関化フェーズへ\n\n本文です。",
			wantTitle: "RWA市場が機関化フェーズへ",
			wantBody:  "本文です。",
		},
		{
			name:      "plain first line",
			file:      "rwa_news_20260227_193218.txt",
			content:   "Plain title\nBody",
			wantTitle: "Plain title",
			wantBody:  "Body",
		},
		{
			name:      "html body",
			file:      "rwa_news_20260227_193218.txt",
			content:   "【タイトル】T\n<h2>市場</h2><p>上昇</p>",
			wantTitle: "T",
			wantBody:  "## 市場",
		},
		{
			name:    "bad timestamp",
			file:    "rwa_news_latest.txt",
			content: "T\nBody",
			wantErr: true,
		},
		{
			name:    "empty body",
			file:    "rwa_news_20260227_193218.txt",
			content: "【タイトル】T\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := parseLegacy(tt.file, tt.content, converter)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseLegacy() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if a.Title != tt.wantTitle {
				t.Errorf("Title = %q, want %q", a.Title, tt.wantTitle)
			}
			if !strings.Contains(a.Body, tt.wantBody) {
				t.Errorf("Body = %q, want it to contain %q", a.Body, tt.wantBody)
			}
			want := time.Date(2026, 2, 27, 19, 32, 18, 0, time.Local)
			if !a.Created.Equal(want) {
				t.Errorf("Created = %v, want %v", a.Created, want)
			}
		})
	}
}

func TestImportLegacy(t *testing.T) {
	legacy := t.TempDir()
	files := map[string]string{
		"rwa_news_20260227_193218.txt": "【タイトル】First\nBody one",
		"rwa_news_20260228_080000.txt": "【タイトル】Second\nBody two",
		"rwa_news_broken.txt":          "x\ny",
		"notes.txt":                    "ignored",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(legacy, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	w, err := archive.NewWriter(filepath.Join(t.TempDir(), "output"))
	if err != nil {
		t.Fatal(err)
	}

	n, err := importLegacy(context.Background(), w, legacy, zerolog.Nop())
	if err != nil {
		t.Fatalf("importLegacy() error = %v", err)
	}
	if n != 2 {
		t.Errorf("imported %d, want 2", n)
	}

	entries, err := archive.List(w.Dir())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].ID != "news_20260228_080000" || entries[0].Title != "Second" {
		t.Errorf("archive entries = %+v", entries)
	}

	// A second run finds everything imported.
	n, err = importLegacy(context.Background(), w, legacy, zerolog.Nop())
	if err != nil || n != 0 {
		t.Errorf("second importLegacy() = %d, %v; want 0, nil", n, err)
	}
}

func TestRemoveDuplicates(t *testing.T) {
	w, err := archive.NewWriter(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.Local)
	bodies := []string{"Same body", "Same   body\n", "Other body", "Same body"}
	for i, body := range bodies {
		a, err := publish.NewArticle("Title", body, base.Add(time.Duration(i)*time.Hour))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Archive(context.Background(), a); err != nil {
			t.Fatal(err)
		}
	}

	var out bytes.Buffer
	removed, err := removeDuplicates(w.Dir(), strings.NewReader("y\nn\n"), &out, zerolog.Nop())
	if err != nil {
		t.Fatalf("removeDuplicates() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("removed %d, want 1", removed)
	}

	entries, err := archive.List(w.Dir())
	if err != nil {
		t.Fatal(err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	want := []string{"news_20260301_120000", "news_20260301_110000", "news_20260301_090000"}
	if strings.Join(ids, ",") != strings.Join(want, ",") {
		t.Errorf("remaining = %v, want %v", ids, want)
	}
	if _, err := os.Stat(filepath.Join(w.Dir(), "news_20260301_100000.html")); !os.IsNotExist(err) {
		t.Error("the HTML rendering of a removed article should be deleted too")
	}
	if !strings.Contains(out.String(), "KEEP: news_20260301_090000") {
		t.Errorf("output = %q", out.String())
	}
}

func TestConfirmDelete(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"\n", false},
		{"n\n", false},
		{"maybe\ny\n", true},
		{"", false},
	}

	for _, tt := range tests {
		var out bytes.Buffer
		r := bufio.NewReader(strings.NewReader(tt.input))
		if got := confirmDelete(r, &out, "news_x"); got != tt.want {
			t.Errorf("confirmDelete(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
