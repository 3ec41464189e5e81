package report

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"

	"seo-metrics-etl/utils"
)

var ErrNoBrowser = errors.New("no Chrome or Chromium binary found")

// Snapshotter rasterizes an HTML file to PNG with headless Chrome.
type Snapshotter struct {
	chromeBin string
	timeout   time.Duration
	retry     *utils.RetryConfig
	logger    *utils.Logger
}

// NewSnapshotter creates a Snapshotter. An empty chromeBin searches the
// usual install locations.
func NewSnapshotter(chromeBin string, retry *utils.RetryConfig, logger *utils.Logger) *Snapshotter {
	return &Snapshotter{
		chromeBin: FindChromeBinary(chromeBin),
		timeout:   60 * time.Second,
		retry:     retry,
		logger:    logger,
	}
}

// Available reports whether a browser binary was found.
func (s *Snapshotter) Available() bool { return s.chromeBin != "" }

// Snapshot loads htmlPath in the browser and saves a full-page screenshot to
// pngPath.
func (s *Snapshotter) Snapshot(ctx context.Context, htmlPath, pngPath string) error {
	if !s.Available() {
		return ErrNoBrowser
	}
	abs, err := filepath.Abs(htmlPath)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	s.logger.Info("[report] Using browser binary: %s", s.chromeBin)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.WindowSize(1280, 900),
		chromedp.ExecPath(s.chromeBin),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	// Suppress chromedp log noise
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	defer cancelBrowser()

	var png []byte
	err = s.retry.Do(ctx, "report-snapshot", func() error {
		tabCtx, cancelTab := chromedp.NewContext(browserCtx)
		defer cancelTab()

		tabCtx, cancelTimeout := context.WithTimeout(tabCtx, s.timeout)
		defer cancelTimeout()

		return chromedp.Run(tabCtx,
			chromedp.Navigate("file://"+filepath.ToSlash(abs)),
			chromedp.WaitVisible("footer", chromedp.ByQuery),
			chromedp.FullScreenshot(&png, 90),
		)
	})
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(pngPath), 0755); err != nil {
		return fmt.Errorf("snapshot: create output dir: %w", err)
	}
	if err := os.WriteFile(pngPath, png, 0644); err != nil {
		return fmt.Errorf("snapshot: write %s: %w", pngPath, err)
	}
	s.logger.Info("[report] Saved snapshot %s", pngPath)
	return nil
}

// FindChromeBinary returns override when set, else CHROME_BIN, else the first
// Chrome or Chromium found on PATH or in a well-known location.
func FindChromeBinary(override string) string {
	if override != "" {
		return override
	}
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
