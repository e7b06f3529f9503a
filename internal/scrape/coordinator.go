package scrape

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"arbor/internal/cleaner"
	"arbor/internal/extract"
	"arbor/internal/fetcher"
	"arbor/internal/model"
)

// Options controls one coordinated scrape.
type Options struct {
	Method    string
	Redirect  string
	Headers   map[string]string
	UserAgent string

	RootURL  string
	Platform bool

	CleanHTML         bool
	CleaningProcessor cleaner.Processor
	WithMetadata      bool
	Links             extract.LinkOptions

	// Robots and SitemapXML are honored only when the scraped URL is
	// RootURL, and only as data capture.
	Robots     bool
	SitemapXML bool
}

// Coordinator owns all per-request scrape state: the visited set,
// visit timestamps, the per-URL data cache, and the skipped map. One
// coordinator serves exactly one links request and is safe for use
// from the request's parallel sub-tasks.
type Coordinator struct {
	fetch fetcher.Fetcher
	text  *fetcher.HTTPFetcher
	log   *slog.Logger

	mu        sync.Mutex
	visited   map[string]struct{}
	visitedAt map[string]time.Time
	data      map[string]*model.ScrapedData
	skipped   map[string]string
	inflight  map[string]chan struct{}
}

func NewCoordinator(f fetcher.Fetcher, text *fetcher.HTTPFetcher, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		fetch:     f,
		text:      text,
		log:       log,
		visited:   make(map[string]struct{}),
		visitedAt: make(map[string]time.Time),
		data:      make(map[string]*model.ScrapedData),
		skipped:   make(map[string]string),
		inflight:  make(map[string]chan struct{}),
	}
}

// ScrapeIfNotVisited fetches rawURL unless this request already did.
// Fetch failures are recorded in the skipped map and yield nil; they
// never propagate. Concurrent callers for the same URL share a single
// fetch.
func (c *Coordinator) ScrapeIfNotVisited(ctx context.Context, rawURL string, opts Options) *model.ScrapedData {
	for {
		c.mu.Lock()
		if _, ok := c.visited[rawURL]; ok {
			d := c.data[rawURL]
			c.mu.Unlock()
			return d
		}
		if done, ok := c.inflight[rawURL]; ok {
			c.mu.Unlock()
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return nil
			}
		}
		done := make(chan struct{})
		c.inflight[rawURL] = done
		c.mu.Unlock()

		data := c.scrape(ctx, rawURL, opts)

		c.mu.Lock()
		c.visited[rawURL] = struct{}{}
		if data != nil {
			c.visitedAt[rawURL] = time.Now()
			c.data[rawURL] = data
		}
		delete(c.inflight, rawURL)
		close(done)
		c.mu.Unlock()
		return data
	}
}

func (c *Coordinator) scrape(ctx context.Context, rawURL string, opts Options) *model.ScrapedData {
	if err := ctx.Err(); err != nil {
		c.RecordSkip(rawURL, "Failed to scrape: "+err.Error())
		return nil
	}

	page, err := c.fetch.Fetch(ctx, fetcher.Request{
		URL:       rawURL,
		Method:    opts.Method,
		Redirect:  opts.Redirect,
		Headers:   opts.Headers,
		UserAgent: opts.UserAgent,
	})
	if err != nil {
		c.RecordSkip(rawURL, "Failed to scrape: "+err.Error())
		return nil
	}
	if page.HTML == "" {
		c.RecordSkip(rawURL, "Failed to scrape: empty response body")
		return nil
	}

	data := &model.ScrapedData{
		RawHTML:     page.HTML,
		FinalURL:    page.URL,
		ContentType: page.ContentType,
		StatusCode:  page.StatusCode,
	}

	if opts.WithMetadata {
		if md, err := extract.Metadata(page.HTML, page.URL); err == nil {
			md.StatusCode = page.StatusCode
			data.Metadata = md
			data.Title = md.Title
			data.Description = md.Description
		} else {
			c.log.Warn("metadata extraction failed", "url", rawURL, "error", err)
		}
	}

	data.Links = extract.LinksFromHTML(page.HTML, page.URL, opts.RootURL, opts.Links, opts.Platform, c.RecordSkip)

	if opts.CleanHTML {
		cleaned, err := cleaner.Clean(page.HTML, cleaner.Options{Processor: opts.CleaningProcessor})
		if err != nil {
			c.log.Warn("cleaner failed", "url", rawURL, "error", err)
		} else {
			data.CleanedHTML = cleaned
			host := ""
			if u, err := url.Parse(page.URL); err == nil {
				host = u.Hostname()
			}
			if md, err := cleaner.Markdown(cleaned, host); err == nil {
				data.Markdown = md
			}
		}
	}

	if rawURL == opts.RootURL && (opts.Robots || opts.SitemapXML) {
		data.MetaFiles = c.captureMetaFiles(ctx, opts.RootURL, opts.UserAgent, opts.Robots, opts.SitemapXML)
	}

	return data
}

// RecordSkip notes a per-URL failure. First reason wins.
func (c *Coordinator) RecordSkip(url, reason string) {
	if reason == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.skipped[url]; !ok {
		c.skipped[url] = reason
	}
}

// Data returns the memoized scrape for url, if any.
func (c *Coordinator) Data(url string) *model.ScrapedData {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data[url]
}

// VisitedAt returns a copy of the per-URL visit timestamps.
func (c *Coordinator) VisitedAt() map[string]time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]time.Time, len(c.visitedAt))
	for k, v := range c.visitedAt {
		out[k] = v
	}
	return out
}

// AllData returns a copy of the per-URL scrape cache.
func (c *Coordinator) AllData() map[string]*model.ScrapedData {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]*model.ScrapedData, len(c.data))
	for k, v := range c.data {
		out[k] = v
	}
	return out
}

// Skipped returns a copy of the skipped-URL map.
func (c *Coordinator) Skipped() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.skipped))
	for k, v := range c.skipped {
		out[k] = v
	}
	return out
}
