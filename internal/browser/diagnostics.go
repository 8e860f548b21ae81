package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

const diagnosticsTimeout = 10 * time.Second

// Diagnose logs the page's current URL and its visible controls, and when
// dir is set saves a screenshot named after step. It runs even when ctx is
// already done, bounded by its own timeout, and never fails.
func Diagnose(ctx context.Context, log zerolog.Logger, page Page, dir, step string) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), diagnosticsTimeout)
	defer cancel()

	u, err := page.URL(dctx)
	if err != nil {
		u = "unknown (" + err.Error() + ")"
	}
	log.Warn().Str("step", step).Str("url", u).Msg("✗ diagnostics")

	controls, err := page.Controls(dctx)
	if err != nil {
		log.Warn().Err(err).Msg("listing controls")
	}
	for i, c := range controls {
		log.Warn().Int("n", i+1).Str("control", c.String()).Msg("visible control")
	}

	if dir == "" {
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Warn().Err(err).Msg("creating diagnostics directory")
		return
	}
	name := fmt.Sprintf("%s_%s.png", step, time.Now().Format("20060102_150405"))
	path := filepath.Join(dir, name)
	if err := page.Screenshot(dctx, path); err != nil {
		log.Warn().Err(err).Msg("taking screenshot")
		return
	}
	log.Warn().Str("path", path).Msg("screenshot saved")
}
