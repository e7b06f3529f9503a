package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"arbor/internal/cache"
	"arbor/internal/cleaner"
	"arbor/internal/config"
	"arbor/internal/extract"
	"arbor/internal/fetcher"
	"arbor/internal/metrics"
	"arbor/internal/model"
	"arbor/internal/scrape"
	"arbor/internal/tree"
	"arbor/internal/urlkit"
)

// LinksError is the typed failure of a links request. Tree carries the
// cached tree when one existed before the failure.
type LinksError struct {
	Code    string
	Message string
	Tree    *model.Tree
}

func (e *LinksError) Error() string {
	return e.Message
}

// LinksService is the top-level engine behind /v1/links.
type LinksService interface {
	ProcessLinksRequest(ctx context.Context, opts LinksOptions) (*model.LinksSuccessResponse, error)
}

type linksService struct {
	cfg     *config.Config
	http    *fetcher.HTTPFetcher
	browser fetcher.Fetcher
	cache   *cache.Cache
	log     *slog.Logger
}

// NewLinksService wires the orchestrator with its fetchers and cache.
func NewLinksService(cfg *config.Config, cch *cache.Cache, log *slog.Logger) LinksService {
	if log == nil {
		log = slog.Default()
	}
	httpFetcher := fetcher.NewHTTPFetcher(fetcher.Options{
		Timeout:      time.Duration(cfg.Fetcher.TimeoutMs) * time.Millisecond,
		UserAgent:    cfg.Fetcher.UserAgent,
		MaxBodyBytes: cfg.Fetcher.MaxBodyBytes,
	})
	var browser fetcher.Fetcher
	if cfg.Browser.Enabled {
		browser = fetcher.NewRodFetcher(cfg.Browser.ControlURL, time.Duration(cfg.Browser.TimeoutMs)*time.Millisecond)
	}
	return &linksService{
		cfg:     cfg,
		http:    httpFetcher,
		browser: browser,
		cache:   cch,
		log:     log,
	}
}

func (s *linksService) ProcessLinksRequest(ctx context.Context, opts LinksOptions) (*model.LinksSuccessResponse, error) {
	start := time.Now()

	opts.ApplyDefaults()
	if err := opts.Validate(); err != nil {
		return nil, &LinksError{Code: CodeInvalidURL, Message: err.Error()}
	}

	target, err := urlkit.Normalize(opts.URL)
	if err != nil {
		return nil, &LinksError{Code: CodeInvalidURL, Message: err.Error()}
	}

	platform := urlkit.IsPlatform(target, opts.IsPlatformURL, s.cfg.Platform.Hosts)
	root := urlkit.DeriveRoot(target, opts.SubdomainAsRootURL, platform)

	if !opts.Tree {
		return s.processNonTree(ctx, opts, target, root, platform, start)
	}
	return s.processTree(ctx, opts, target, root, platform, start)
}

// newCoordinator picks the fetcher for this request's cleaning
// processor and hands the coordinator its text fetcher for meta files.
func (s *linksService) newCoordinator(opts LinksOptions) *scrape.Coordinator {
	f := fetcher.Fetcher(s.http)
	if opts.CleaningProcessor == cleaner.ProcessorBrowser && s.browser != nil {
		f = s.browser
	}
	return scrape.NewCoordinator(f, s.http, s.log)
}

func (s *linksService) scrapeOpts(opts LinksOptions, root string, platform, metaFiles bool) scrape.Options {
	return scrape.Options{
		Method:            opts.FetchMethod,
		Redirect:          opts.FetchRedirect,
		Headers:           opts.FetchHeaders,
		UserAgent:         s.cfg.Fetcher.UserAgent,
		RootURL:           root,
		Platform:          platform,
		CleanHTML:         opts.CleanedHTML,
		CleaningProcessor: opts.CleaningProcessor,
		WithMetadata:      true,
		Links: extract.LinkOptions{
			IncludeExternal: opts.IncludeExternal,
			IncludeMedia:    opts.IncludeMedia,
		},
		Robots:     metaFiles && opts.Robots,
		SitemapXML: metaFiles && opts.SitemapXML,
	}
}

// processNonTree serves tree=false requests: one scrape of the target,
// content fields at the response root, cached under the full option
// hash.
func (s *linksService) processNonTree(ctx context.Context, opts LinksOptions, target, root string, platform bool, start time.Time) (*model.LinksSuccessResponse, error) {
	key := cache.NonTreeKey(cache.NonTreeKeyInput{
		URL:                target,
		Method:             opts.RequestMethod,
		SubdomainAsRootURL: opts.SubdomainAsRootURL,
		IsPlatformURL:      opts.IsPlatformURL,
		ExtractedLinks:     opts.ExtractedLinks,
		Metadata:           opts.Metadata,
		CleanedHTML:        opts.CleanedHTML,
		Robots:             opts.Robots,
		SitemapXML:         opts.SitemapXML,
		CleaningProcessor:  string(opts.CleaningProcessor),
		IncludeExternal:    opts.IncludeExternal,
		IncludeMedia:       opts.IncludeMedia,
		FetchMethod:        opts.FetchMethod,
		FetchRedirect:      opts.FetchRedirect,
	})

	if opts.CacheEnabled {
		if raw, _, ok := s.cache.GetWithMetadata(ctx, key); ok {
			var resp model.LinksSuccessResponse
			if err := json.Unmarshal(raw, &resp); err == nil {
				resp.RequestID = uuid.New().String()
				resp.Cached = true
				resp.Timestamp = model.ISOTime(time.Now())
				resp.Metrics = nil
				if opts.MetricsEnabled {
					resp.Metrics = buildMetrics(start)
				}
				metrics.RecordLinksRequest("non-tree", true)
				return &resp, nil
			}
			s.log.Warn("discarding corrupt non-tree cache entry", "key", key)
		}
	}

	co := s.newCoordinator(opts)
	data := co.ScrapeIfNotVisited(ctx, target, s.scrapeOpts(opts, root, platform, target == root))
	if data == nil {
		metrics.RecordScrape(false)
		msg := "failed to scrape target"
		if reason, ok := co.Skipped()[target]; ok {
			msg = reason
		}
		return nil, &LinksError{Code: CodeScrapeFailed, Message: msg}
	}
	metrics.RecordScrape(true)

	resp := &model.LinksSuccessResponse{
		RequestID:   uuid.New().String(),
		Success:     true,
		Cached:      false,
		TargetURL:   target,
		Timestamp:   model.ISOTime(time.Now()),
		Title:       data.Title,
		Description: data.Description,
		Metadata:    data.Metadata,
		MetaFiles:   data.MetaFiles,
	}
	if opts.CleanedHTML {
		resp.CleanedHTML = data.CleanedHTML
		resp.Markdown = data.Markdown
	}
	if opts.ExtractedLinks {
		resp.ExtractedLinks = data.Links
	}
	if skipped := bucketSkipped(co.Skipped(), root, platform); skipped != nil {
		resp.SkippedURLs = skipped
	}
	if opts.MetricsEnabled {
		resp.Metrics = buildMetrics(start)
	}

	if opts.CacheEnabled {
		s.cache.PutWithRetry(key, resp, opts.CacheTTL, &cache.Metadata{
			Title:       data.Title,
			Description: data.Description,
			Timestamp:   model.ISOTime(time.Now()),
		})
	}

	metrics.RecordLinksRequest("non-tree", false)
	return resp, nil
}

// processTree runs the full pipeline: cache read, parallel kin scrape,
// descendant enumeration, tree build/merge, cache write, enrichment.
func (s *linksService) processTree(ctx context.Context, opts LinksOptions, target, root string, platform bool, start time.Time) (*model.LinksSuccessResponse, error) {
	ancestors := urlkit.Ancestors(target)
	rootKey := cache.TreeKey(cache.TreeKeyInput{
		RootURL:               root,
		SubdomainAsRootURL:    opts.SubdomainAsRootURL,
		IsPlatformURL:         opts.IsPlatformURL,
		FolderFirst:           opts.FolderFirst,
		LinksOrder:            string(opts.LinksOrder),
		IncludeExtractedLinks: opts.ExtractedLinks,
		IncludeExternal:       opts.IncludeExternal,
		IncludeMedia:          opts.IncludeMedia,
	})

	var existing *model.Tree
	if opts.CacheEnabled {
		if raw, _, ok := s.cache.GetWithMetadata(ctx, rootKey); ok {
			var t model.Tree
			if err := json.Unmarshal(raw, &t); err == nil && t.URL != "" {
				existing = &t
			} else {
				s.log.Warn("discarding corrupt tree cache entry", "key", rootKey)
			}
		}
	}

	co := s.newCoordinator(opts)
	pageOpts := s.scrapeOpts(opts, root, platform, false)
	rootOpts := s.scrapeOpts(opts, root, platform, true)
	kinLimit := s.cfg.Crawl.KinLimit

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Crawl.Concurrency)

	// Root plus a bounded slice of its descendants. The platform
	// branch would scrape the first ancestor below the origin instead,
	// but a platform root is the target itself, so target != root
	// never holds for platform requests and that branch does not run.
	if target != root {
		if !platform {
			g.Go(func() error {
				rd := co.ScrapeIfNotVisited(gctx, root, rootOpts)
				if rd == nil || rd.Links == nil {
					return nil
				}
				descs := urlkit.Descendants(root, rd.Links.Internal)
				if len(descs) > kinLimit {
					descs = descs[:kinLimit]
				}
				sub, sctx := errgroup.WithContext(gctx)
				sub.SetLimit(s.cfg.Crawl.Concurrency)
				for _, d := range descs {
					if d == target {
						continue
					}
					d := d
					sub.Go(func() error {
						co.ScrapeIfNotVisited(sctx, d, pageOpts)
						return nil
					})
				}
				return sub.Wait()
			})
		} else if len(ancestors) > 1 {
			context1 := ancestors[1]
			g.Go(func() error {
				co.ScrapeIfNotVisited(gctx, context1, pageOpts)
				return nil
			})
		}
	}

	// Ancestors except the root, shallow first, capped.
	kin := make([]string, 0, len(ancestors))
	for _, a := range ancestors {
		if a == root || a == target {
			continue
		}
		kin = append(kin, a)
	}
	if len(kin) > kinLimit {
		kin = kin[:kinLimit]
	}
	for _, a := range kin {
		a := a
		g.Go(func() error {
			co.ScrapeIfNotVisited(gctx, a, pageOpts)
			return nil
		})
	}

	g.Go(func() error {
		co.ScrapeIfNotVisited(gctx, target, s.scrapeOpts(opts, root, platform, target == root))
		return nil
	})

	_ = g.Wait()

	targetData := co.Data(target)
	if targetData == nil || targetData.RawHTML == "" {
		metrics.RecordScrape(false)
		msg := "failed to scrape target"
		if reason, ok := co.Skipped()[target]; ok {
			msg = reason
		}
		return nil, &LinksError{Code: CodeScrapeFailed, Message: msg, Tree: existing}
	}
	metrics.RecordScrape(true)

	// First-discovery order: target, root, ancestors, then everything
	// else already scraped in URL order.
	internal := s.gatherInternal(co, target, root, ancestors)

	// Descendants of the target; the cached tree's visited URLs also
	// count as candidates. When the target is the root they were not
	// covered by the root phase, so scrape a bounded batch now.
	candidates := internal
	if existing != nil {
		candidates = append(append([]string{}, internal...), tree.VisitedURLs(existing)...)
	}
	descs := urlkit.Descendants(target, candidates)
	if target == root && len(descs) > 0 {
		batch := descs
		if len(batch) > kinLimit {
			batch = batch[:kinLimit]
		}
		dg, dctx := errgroup.WithContext(ctx)
		dg.SetLimit(s.cfg.Crawl.Concurrency)
		for _, d := range batch {
			d := d
			dg.Go(func() error {
				co.ScrapeIfNotVisited(dctx, d, pageOpts)
				return nil
			})
		}
		_ = dg.Wait()
		internal = s.gatherInternal(co, target, root, ancestors)
	}

	now := time.Now()
	in := tree.Input{
		RootURL:       root,
		InternalLinks: internal,
		VisitedAt:     co.VisitedAt(),
		Metadata:      map[string]*model.Metadata{},
		Errors:        map[string]string{},
		Now:           now,
	}
	if opts.CleanedHTML {
		in.CleanedHTML = map[string]string{}
	}
	if opts.ExtractedLinks {
		in.Extracted = map[string]*model.ExtractedLinks{}
	}
	for u, d := range co.AllData() {
		if d.Metadata != nil {
			in.Metadata[u] = d.Metadata
		}
		if in.CleanedHTML != nil && d.CleanedHTML != "" {
			in.CleanedHTML[u] = d.CleanedHTML
		}
		if in.Extracted != nil && d.Links != nil {
			in.Extracted[u] = d.Links
		}
	}
	for u, reason := range co.Skipped() {
		if urlkit.SameSubtree(root, u) {
			in.Errors[u] = reason
		}
	}

	topts := tree.Options{FolderFirst: opts.FolderFirst, Order: opts.LinksOrder}

	var result *model.Tree
	cacheFresh := false
	if existing != nil {
		result = tree.Merge(existing, in, topts)
		cacheFresh = true
	} else {
		result = tree.Build(in, topts)
	}
	result.SkippedURLs = bucketSkipped(co.Skipped(), root, platform)

	if opts.CacheEnabled {
		side := &cache.Metadata{Timestamp: model.ISOTime(now)}
		if rd := co.Data(root); rd != nil {
			side.Title = rd.Title
			side.Description = rd.Description
		}
		// The persisted tree never carries cleanedHTML or extracted
		// links; those are enrichment on the returned copy only.
		s.cache.PutWithRetry(rootKey, tree.Strip(result), opts.CacheTTL, side)
	}

	resp := &model.LinksSuccessResponse{
		RequestID:   uuid.New().String(),
		Success:     true,
		Cached:      cacheFresh,
		TargetURL:   target,
		Timestamp:   model.ISOTime(now),
		Ancestors:   ancestors,
		Tree:        result,
		SkippedURLs: result.SkippedURLs,
		MetaFiles:   targetData.MetaFiles,
	}
	if rd := co.Data(root); rd != nil && rd.MetaFiles != nil {
		resp.MetaFiles = rd.MetaFiles
	}
	if opts.MetricsEnabled {
		resp.Metrics = buildMetrics(start)
	}

	metrics.RecordLinksRequest("tree", cacheFresh)
	return resp, nil
}

// gatherInternal unions the internal links of every scraped page,
// first-seen order: target first, then root, ancestors, then the rest
// of the scraped set in URL order.
func (s *linksService) gatherInternal(co *scrape.Coordinator, target, root string, ancestors []string) []string {
	all := co.AllData()

	ordered := make([]string, 0, len(all)+2)
	ordered = append(ordered, target, root)
	ordered = append(ordered, ancestors...)
	rest := make([]string, 0, len(all))
	seen := map[string]struct{}{}
	for _, u := range ordered {
		seen[u] = struct{}{}
	}
	for u := range all {
		if _, ok := seen[u]; !ok {
			rest = append(rest, u)
		}
	}
	sort.Strings(rest)
	ordered = append(ordered, rest...)

	var out []string
	dedupe := map[string]struct{}{}
	for _, page := range ordered {
		d, ok := all[page]
		if !ok || d.Links == nil {
			continue
		}
		for _, link := range d.Links.Internal {
			if _, dup := dedupe[link]; dup {
				continue
			}
			dedupe[link] = struct{}{}
			out = append(out, link)
		}
	}
	return out
}

// bucketSkipped mirrors the extraction buckets for skipped URLs.
// Unclassifiable entries land in Other.
func bucketSkipped(skipped map[string]string, root string, platform bool) *model.SkippedLinks {
	if len(skipped) == 0 {
		return nil
	}

	urls := make([]string, 0, len(skipped))
	for u := range skipped {
		urls = append(urls, u)
	}
	sort.Strings(urls)

	out := &model.SkippedLinks{}
	for _, u := range urls {
		entry := model.SkippedURL{URL: u, Reason: skipped[u]}
		cls, err := urlkit.Classify(u, root, root, platform)
		if err != nil {
			out.Other = append(out.Other, entry)
			continue
		}
		switch cls.Bucket {
		case urlkit.BucketInternal:
			out.Internal = append(out.Internal, entry)
		case urlkit.BucketExternal:
			out.External = append(out.External, entry)
		default:
			out.Media = append(out.Media, entry)
		}
	}
	return out
}

func buildMetrics(start time.Time) *model.Metrics {
	end := time.Now()
	d := end.Sub(start)
	return &model.Metrics{
		ReadableDuration: d.Round(time.Millisecond).String(),
		DurationMs:       d.Milliseconds(),
		StartTimeMs:      start.UnixMilli(),
		EndTimeMs:        end.UnixMilli(),
	}
}

// AsLinksError unwraps err into its typed form, synthesizing an
// internal error when the type is unknown.
func AsLinksError(err error) *LinksError {
	var le *LinksError
	if errors.As(err, &le) {
		return le
	}
	return &LinksError{Code: CodeInternalError, Message: err.Error()}
}
