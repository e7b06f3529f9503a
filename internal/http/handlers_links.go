package http

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"arbor/internal/model"
	"arbor/internal/services"
	"arbor/internal/store"
	"arbor/internal/urlkit"
)

func (s *Server) linksPostHandler(c *fiber.Ctx) error {
	var reqBody LinksRequest
	if err := c.BodyParser(&reqBody); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "BAD_REQUEST_INVALID_JSON",
			Error:   "Bad request, malformed JSON",
		})
	}

	if reqBody.URL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "Missing required field 'url'",
		})
	}

	return s.processLinks(c, reqBody.ToOptions(fiber.MethodPost))
}

// linksGetHandler accepts the query form of the same request. Besides
// the top-level flags it maps cacheEnabled, metrics, includeExternal
// and includeMedia onto their nested options; fetchOptions and the
// cache TTL need the POST body.
func (s *Server) linksGetHandler(c *fiber.Ctx) error {
	rawURL := c.Query("url")
	if rawURL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "Missing required query parameter 'url'",
		})
	}

	reqBody := LinksRequest{
		URL:               rawURL,
		LinksOrder:        c.Query("linksOrder"),
		CleaningProcessor: c.Query("cleaningProcessor"),
	}

	boolQuery := func(name string) *bool {
		raw := c.Query(name)
		if raw == "" {
			return nil
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil
		}
		return &v
	}

	reqBody.Tree = boolQuery("tree")
	reqBody.ExtractedLinks = boolQuery("extractedLinks")
	reqBody.Metadata = boolQuery("metadata")
	reqBody.CleanedHTML = boolQuery("cleanedHtml")
	reqBody.Robots = boolQuery("robots")
	reqBody.SitemapXML = boolQuery("sitemapXml")
	reqBody.SubdomainAsRootURL = boolQuery("subdomainAsRootUrl")
	reqBody.IsPlatformURL = boolQuery("isPlatformUrl")
	reqBody.FolderFirst = boolQuery("folderFirst")

	if v := boolQuery("cacheEnabled"); v != nil {
		reqBody.CacheOptions = &CacheOptions{Enabled: v}
	}
	if v := boolQuery("metrics"); v != nil {
		reqBody.MetricsOptions = &MetricsOptions{Enable: v}
	}
	ext, media := boolQuery("includeExternal"), boolQuery("includeMedia")
	if ext != nil || media != nil {
		reqBody.LinkExtractionOptions = &LinkExtractionOptions{IncludeExternal: ext, IncludeMedia: media}
	}

	return s.processLinks(c, reqBody.ToOptions(fiber.MethodGet))
}

func (s *Server) processLinks(c *fiber.Ctx, opts services.LinksOptions) error {
	start := time.Now()

	resp, err := s.links.ProcessLinksRequest(c.Context(), opts)
	if err != nil {
		le := services.AsLinksError(err)
		errResp := LinksErrorResponse{
			RequestID: uuid.New().String(),
			Success:   false,
			TargetURL: opts.URL,
			Timestamp: model.ISOTime(time.Now()),
			Code:      le.Code,
			Error:     le.Message,
			Tree:      le.Tree,
		}
		s.audit(opts, errResp.RequestID, "", false, "error", le.Code, time.Since(start))

		status := fiber.StatusInternalServerError
		if le.Code == services.CodeInvalidURL {
			status = fiber.StatusBadRequest
		} else if le.Code == services.CodeScrapeFailed {
			status = fiber.StatusBadGateway
		}
		return c.Status(status).JSON(errResp)
	}

	rootURL := ""
	if resp.Tree != nil {
		rootURL = resp.Tree.RootURL
	}
	s.audit(opts, resp.RequestID, rootURL, resp.Cached, "ok", "", time.Since(start))

	return c.JSON(resp)
}

// audit records the request outcome fire-and-forget; a missing store
// or insert failure never affects the response.
func (s *Server) audit(opts services.LinksOptions, requestID, rootURL string, cached bool, status, errCode string, dur time.Duration) {
	if s.store == nil || s.store.DB == nil {
		return
	}

	mode := "tree"
	if !opts.Tree {
		mode = "non-tree"
	}
	target := opts.URL
	if normalized, err := urlkit.Normalize(opts.URL); err == nil {
		target = normalized
	}

	id, err := uuid.Parse(requestID)
	if err != nil {
		id = uuid.New()
	}

	rec := store.RequestRecord{
		ID:         id,
		TargetURL:  target,
		RootURL:    rootURL,
		Mode:       mode,
		Cached:     cached,
		Status:     status,
		ErrorCode:  errCode,
		DurationMs: dur.Milliseconds(),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.store.RecordRequest(ctx, rec); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("request audit insert failed", "error", err)
		}
	}()
}

// recentRequestsHandler lists the newest audit rows.
func (s *Server) recentRequestsHandler(c *fiber.Ctx) error {
	if s.store == nil || s.store.DB == nil {
		return c.JSON(fiber.Map{"success": true, "requests": []store.RequestRecord{}})
	}

	limit := c.QueryInt("limit", 50)
	recs, err := s.store.RecentRequests(c.Context(), limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   err.Error(),
		})
	}
	if recs == nil {
		recs = []store.RequestRecord{}
	}
	return c.JSON(fiber.Map{"success": true, "requests": recs})
}
