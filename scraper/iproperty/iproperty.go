package iproperty

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"iproperty-etl/config"
	"iproperty-etl/storage"
	"iproperty-etl/utils"
)

// PageFetcher returns the rendered HTML of a page.
type PageFetcher interface {
	Fetch(ctx context.Context, pageURL string) (string, error)
}

// Scraper extracts listing pages region by region into raw batch files.
// Each Scrape call starts from a fresh scrapeRun, so one Scraper serves
// every scheduled extract.
type Scraper struct {
	cfg       *config.Config
	logger    *utils.Logger
	retry     *utils.RetryConfig
	fetcher   PageFetcher
	now       func() time.Time
	newWriter func(path string) (storage.RawWriter, error)
}

// scrapeRun is the state of one Scrape call.
type scrapeRun struct {
	pool       *utils.WorkerPool
	visitedURL *utils.URLSet
	fetcher    PageFetcher
}

// New creates a Scraper. A headless browser is started by each Scrape call
// unless a fetcher is supplied with WithFetcher.
func New(cfg *config.Config, logger *utils.Logger) *Scraper {
	return &Scraper{
		cfg:    cfg,
		logger: logger,
		retry: &utils.RetryConfig{
			MaxAttempts: cfg.MaxRetries,
			BaseDelay:   2 * time.Second,
			Logger:      logger,
		},
		now: time.Now,
		newWriter: func(path string) (storage.RawWriter, error) {
			return storage.NewRawCSVWriter(path)
		},
	}
}

// WithFetcher replaces the browser.
func (s *Scraper) WithFetcher(f PageFetcher) *Scraper {
	s.fetcher = f
	return s
}

// WithClock replaces the clock used for file names and created_at.
func (s *Scraper) WithClock(now func() time.Time) *Scraper {
	s.now = now
	return s
}

// Scrape extracts every selected region and returns the raw files written.
// Regions run MaxConcurrency at a time; each group shares a batch number.
// An error is returned only when no region produced a file.
func (s *Scraper) Scrape(ctx context.Context) ([]string, error) {
	regions := SelectRegions(s.cfg.ScrapeRegions)
	if len(regions) == 0 {
		return nil, fmt.Errorf("iproperty: no region matches %v", s.cfg.ScrapeRegions)
	}

	run := &scrapeRun{
		pool:       utils.NewWorkerPool(s.cfg.MaxConcurrency, s.cfg.RateLimitMs),
		visitedURL: utils.NewURLSet(),
		fetcher:    s.fetcher,
	}
	if run.fetcher == nil {
		browser, closeBrowser := newBrowserFetcher(ctx, s.cfg, s.retry)
		defer closeBrowser()
		run.fetcher = browser
	}

	s.logger.Info("[iproperty] Starting scrape of %d regions, up to %d pages each", len(regions), s.cfg.PagesToScrape)
	stamp := s.now()

	var (
		mu    sync.Mutex
		files []string
	)
	for i, r := range regions {
		region := r
		batch := i/s.cfg.MaxConcurrency + 1
		run.pool.Submit(ctx, func(ctx context.Context) error {
			path, err := s.scrapeRegion(ctx, run, region, batch, stamp)
			if err != nil {
				s.logger.Warn("[iproperty] %s failed: %v", region.Slug, err)
				return fmt.Errorf("%s: %w", region.Slug, err)
			}
			mu.Lock()
			files = append(files, path)
			mu.Unlock()
			return nil
		})
	}
	err := run.pool.Wait()

	sort.Strings(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("iproperty: no region scraped: %w", err)
	}
	s.logger.Info("[iproperty] Scrape complete: %d of %d regions written, %d pages visited",
		len(files), len(regions), run.visitedURL.Size())
	return files, nil
}

// scrapeRegion follows the result pages of one region into one batch file.
func (s *Scraper) scrapeRegion(ctx context.Context, run *scrapeRun, region Region, batch int, stamp time.Time) (string, error) {
	path := filepath.Join(s.cfg.RawDir, BatchFileName(batch, region, stamp))
	w, err := s.newWriter(path)
	if err != nil {
		return "", err
	}

	rows, err := s.scrapePages(ctx, run, region, w)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err == nil && rows == 0 {
		err = errors.New("no listings found")
	}
	if err != nil {
		_ = os.Remove(path)
		return "", err
	}

	s.logger.Info("[iproperty] %s: %d listings -> %s", region.Slug, rows, filepath.Base(path))
	return path, nil
}

func (s *Scraper) scrapePages(ctx context.Context, run *scrapeRun, region Region, w storage.RawWriter) (int, error) {
	pageURL := fmt.Sprintf(s.cfg.ScrapeBaseURL, region.Slug)
	rows := 0

	for page := 1; page <= s.cfg.PagesToScrape; page++ {
		if !run.visitedURL.Add(pageURL) {
			s.logger.Debug("[iproperty] Skipping visited page: %s", pageURL)
			break
		}

		html, err := run.fetcher.Fetch(ctx, pageURL)
		if err != nil {
			return rows, fmt.Errorf("page %d: %w", page, err)
		}
		records, err := ParseListings(html, s.now())
		if err != nil {
			return rows, err
		}
		if len(records) == 0 {
			s.logger.Warn("[iproperty] %s page %d returned 0 listings, stopping", region.Slug, page)
			break
		}
		if err := w.WriteRaw(records); err != nil {
			return rows, err
		}
		rows += len(records)
		s.logger.Debug("[iproperty] %s page %d: %d listings", region.Slug, page, len(records))

		next, err := NextPageURL(html, pageURL)
		if err != nil || next == "" {
			break
		}
		pageURL = next

		select {
		case <-ctx.Done():
			return rows, ctx.Err()
		case <-time.After(time.Duration(s.cfg.RateLimitMs) * time.Millisecond):
		}
	}
	return rows, nil
}

// browserFetcher renders pages in a shared headless Chrome.
type browserFetcher struct {
	browserCtx context.Context
	retry      *utils.RetryConfig
}

func newBrowserFetcher(ctx context.Context, cfg *config.Config, retry *utils.RetryConfig) (*browserFetcher, func()) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 "+
			"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
	)
	if bin := findChromeBinary(cfg.ChromeBin); bin != "" {
		opts = append(opts, chromedp.ExecPath(bin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	// Suppress chromedp log noise
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))

	return &browserFetcher{browserCtx: browserCtx, retry: retry}, func() {
		cancelBrowser()
		cancelAlloc()
	}
}

func (b *browserFetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	var html string
	err := b.retry.Do(ctx, "fetch "+pageURL, func(ctx context.Context) error {
		tabCtx, cancel := chromedp.NewContext(b.browserCtx)
		defer cancel()
		stop := context.AfterFunc(ctx, cancel)
		defer stop()

		tabCtx, cancelTimeout := context.WithTimeout(tabCtx, 90*time.Second)
		defer cancelTimeout()

		err := chromedp.Run(tabCtx,
			chromedp.Navigate(pageURL),
			chromedp.Sleep(6*time.Second),
			chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight / 2)`, nil),
			chromedp.Sleep(2*time.Second),
			chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
			chromedp.Sleep(2*time.Second),
			chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		)
		if err != nil {
			return fmt.Errorf("chromedp: %w", err)
		}
		return nil
	})
	return html, err
}

// findChromeBinary locates a Chrome/Chromium binary, preferring configured.
func findChromeBinary(configured string) string {
	if configured != "" {
		return configured
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
