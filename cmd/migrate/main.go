package main

import (
	"bufio"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/rs/zerolog"

	"github.com/aktagon/news-publisher/internal/archive"
	"github.com/aktagon/news-publisher/internal/logger"
	"github.com/aktagon/news-publisher/internal/publish"
)

const (
	legacyPrefix      = "rwa_news_"
	legacyStampLayout = "20060102_150405"
	legacyTitleMarker = "【タイトル】"
)

func main() {
	log := logger.New(os.Getenv("LOG_LEVEL"))

	if len(os.Args) < 3 {
		log.Fatal().Msg("Usage: migrate <import-legacy <legacy-directory>|remove-duplicates> <archive-directory>")
	}

	command := os.Args[1]
	switch command {
	case "import-legacy":
		if len(os.Args) < 4 {
			log.Fatal().Msg("Usage: migrate import-legacy <legacy-directory> <archive-directory>")
		}
		w, err := archive.NewWriter(os.Args[3], archive.WithLogger(log))
		if err != nil {
			log.Fatal().Err(err).Msg("opening archive")
		}
		n, err := importLegacy(context.Background(), w, os.Args[2], log)
		if err != nil {
			log.Fatal().Err(err).Msg("import failed")
		}
		fmt.Printf("Imported %d articles\n", n)
	case "remove-duplicates":
		n, err := removeDuplicates(os.Args[2], os.Stdin, os.Stdout, log)
		if err != nil {
			log.Fatal().Err(err).Msg("removing duplicates failed")
		}
		fmt.Printf("\nRemoved %d duplicate articles\n", n)
	default:
		log.Fatal().Msgf("Unknown command %q", command)
	}
}

// importLegacy converts rwa_news_*.txt files into archive entries. Files
// already present in the archive are skipped, so the import can be rerun.
func importLegacy(ctx context.Context, w *archive.Writer, legacyDir string, log zerolog.Logger) (int, error) {
	matches, err := filepath.Glob(filepath.Join(legacyDir, legacyPrefix+"*.txt"))
	if err != nil {
		return 0, err
	}

	converter := md.NewConverter("", true, nil)
	imported := 0
	for _, path := range matches {
		content, err := os.ReadFile(path)
		if err != nil {
			log.Warn().Err(err).Str("file", path).Msg("skipping unreadable file")
			continue
		}

		a, err := parseLegacy(filepath.Base(path), string(content), converter)
		if err != nil {
			log.Warn().Err(err).Str("file", path).Msg("skipping")
			continue
		}

		id := "news_" + a.Created.Format(legacyStampLayout)
		if _, err := os.Stat(filepath.Join(w.Dir(), id+".md")); err == nil {
			log.Debug().Str("file", path).Msg("already imported")
			continue
		}

		mdPath, err := w.Archive(ctx, a)
		if err != nil {
			return imported, fmt.Errorf("archiving %s: %w", path, err)
		}
		log.Info().Str("from", filepath.Base(path)).Str("to", filepath.Base(mdPath)).Msg("✓ imported")
		imported++
	}
	return imported, nil
}

// parseLegacy reads a legacy article: the file name carries the generation
// time and the first line the title, optionally behind the title marker.
// HTML bodies are converted to markdown.
func parseLegacy(name, content string, converter *md.Converter) (publish.Article, error) {
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, legacyPrefix), ".txt")
	created, err := time.ParseInLocation(legacyStampLayout, stamp, time.Local)
	if err != nil {
		return publish.Article{}, fmt.Errorf("%s has no timestamp: %w", name, err)
	}

	first, body, _ := strings.Cut(strings.TrimPrefix(content, "\ufeff"), "\n")
	title := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(first), legacyTitleMarker))

	body = strings.TrimSpace(body)
	if strings.HasPrefix(body, "<") {
		converted, err := converter.ConvertString(body)
		if err != nil {
			return publish.Article{}, fmt.Errorf("converting %s: %w", name, err)
		}
		body = converted
	}

	return publish.NewArticle(title, body, created)
}

// removeDuplicates deletes archived articles whose body repeats an older
// one, asking before each deletion.
func removeDuplicates(dir string, in io.Reader, out io.Writer, log zerolog.Logger) (int, error) {
	entries, err := archive.List(dir)
	if err != nil {
		return 0, fmt.Errorf("listing archive: %w", err)
	}

	// List is newest first; walk oldest first so the original is kept.
	hashToEntries := make(map[string][]archive.Entry)
	var order []string
	for i := len(entries) - 1; i >= 0; i-- {
		body, err := entries[i].Body()
		if err != nil {
			log.Warn().Err(err).Str("id", entries[i].ID).Msg("skipping unreadable article")
			continue
		}
		hash := contentHash(body)
		if _, seen := hashToEntries[hash]; !seen {
			order = append(order, hash)
		}
		hashToEntries[hash] = append(hashToEntries[hash], entries[i])
	}

	reader := bufio.NewReader(in)
	totalRemoved := 0
	for _, hash := range order {
		dupes := hashToEntries[hash]
		if len(dupes) <= 1 {
			continue
		}

		fmt.Fprintf(out, "\nFound %d copies of %q (hash %s):\n", len(dupes), dupes[0].Title, hash)
		for i, e := range dupes {
			if i == 0 {
				fmt.Fprintf(out, "  KEEP: %s\n", e.ID)
				continue
			}

			if !confirmDelete(reader, out, e.ID) {
				fmt.Fprintf(out, "  SKIP: %s\n", e.ID)
				continue
			}
			if err := removeEntry(e); err != nil {
				log.Error().Err(err).Str("id", e.ID).Msg("✗ remove failed")
				continue
			}
			totalRemoved++
			fmt.Fprintf(out, "  REMOVED: %s\n", e.ID)
		}
	}
	return totalRemoved, nil
}

func removeEntry(e archive.Entry) error {
	if err := os.Remove(e.MarkdownPath); err != nil {
		return err
	}
	if e.HTMLPath != "" {
		if err := os.Remove(e.HTMLPath); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// contentHash ignores whitespace differences.
func contentHash(body string) string {
	h := sha256.Sum256([]byte(strings.Join(strings.Fields(body), " ")))
	return fmt.Sprintf("%x", h)[:8]
}

func confirmDelete(reader *bufio.Reader, out io.Writer, id string) bool {
	for {
		fmt.Fprintf(out, "  DELETE %s? [y/N]: ", id)
		input, err := reader.ReadString('\n')
		if err != nil && input == "" {
			return false
		}
		response := strings.ToLower(strings.TrimSpace(input))
		switch response {
		case "y", "yes":
			return true
		case "", "n", "no":
			return false
		default:
			fmt.Fprintln(out, "  Please enter y or n.")
			if err != nil {
				return false
			}
		}
	}
}
