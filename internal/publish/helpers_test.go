package publish_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aktagon/news-publisher/internal/browser/browsertest"
	"github.com/aktagon/news-publisher/internal/site"
)

const (
	reviewURL    = "https://editor.note.com/notes/n1a2b3/publish/"
	publishedURL = "https://note.com/rwa_writer/n/n1a2b3"
)

func testProfile() *site.Profile {
	p := site.Default()
	p.DiagnosticsDir = ""
	p.Timings = site.Timings{
		Navigation:        time.Second,
		SessionSettle:     time.Millisecond,
		PageSettle:        time.Millisecond,
		ActionSettle:      time.Millisecond,
		SubmitPoll:        time.Millisecond,
		SubmitTimeout:     10 * time.Millisecond,
		LoginPoll:         time.Millisecond,
		LoginAttempts:     60,
		ConfirmPoll:       time.Millisecond,
		ReviewAttempts:    5,
		PublishedAttempts: 5,
	}
	return p
}

// editor describes which parts of the compose page exist and react.
type editor struct {
	noTitle       bool
	noSave        bool
	noAdvance     bool
	skipReview    bool
	noPublishText bool
	unconfirmed   bool
	rejectFiles   bool
}

// script makes page render the editor whenever it navigates to the
// compose URL.
func (e editor) script(p *site.Profile, page *browsertest.Page) {
	prev := page.OnNavigate
	page.OnNavigate = func(pg *browsertest.Page, u string) {
		if prev != nil {
			prev(pg, u)
		}
		if u != p.ComposeURL {
			return
		}
		sel := p.Selectors
		if !e.noTitle {
			pg.Add(sel.Title[0])
		}
		pg.Add(sel.Body[0])
		upload := pg.Add(sel.Upload[0])
		upload.RejectFiles = e.rejectFiles
		if !e.noSave {
			pg.Add(sel.Save[0]).Text = "下書き保存"
		}
		if !e.noAdvance {
			adv := pg.Add(sel.Advance[0])
			adv.Text = "公開に進む"
			if !e.skipReview {
				adv.OnClick = func(pg *browsertest.Page) { pg.ChangeURLAfter(1, reviewURL) }
			}
		}

		final := pg.Add(sel.Publish[len(sel.Publish)-1])
		if !e.noPublishText {
			final = pg.Add(sel.Publish[0])
			final.Text = "投稿する"
		}
		if !e.unconfirmed {
			final.OnClick = func(pg *browsertest.Page) { pg.ChangeURLAfter(2, publishedURL) }
		}
	}
}

func images(t *testing.T, n int) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, n)
	for i := range paths {
		paths[i] = filepath.Join(dir, "image_"+string(rune('1'+i))+".png")
		require.NoError(t, os.WriteFile(paths[i], []byte("\x89PNG fake"), 0o644))
	}
	return paths
}
