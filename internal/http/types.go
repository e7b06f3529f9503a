package http

import (
	"strings"
	"time"

	"arbor/internal/cleaner"
	"arbor/internal/model"
	"arbor/internal/services"
	"arbor/internal/tree"
)

// LinksRequest is the POST /v1/links body. Optional fields are
// pointers so absent and false stay distinguishable; defaults resolve
// in ToOptions.
type LinksRequest struct {
	URL                string `json:"url"`
	Tree               *bool  `json:"tree,omitempty"`
	ExtractedLinks     *bool  `json:"extractedLinks,omitempty"`
	Metadata           *bool  `json:"metadata,omitempty"`
	CleanedHTML        *bool  `json:"cleanedHtml,omitempty"`
	Robots             *bool  `json:"robots,omitempty"`
	SitemapXML         *bool  `json:"sitemapXml,omitempty"`
	SubdomainAsRootURL *bool  `json:"subdomainAsRootUrl,omitempty"`
	IsPlatformURL      *bool  `json:"isPlatformUrl,omitempty"`
	FolderFirst        *bool  `json:"folderFirst,omitempty"`
	LinksOrder         string `json:"linksOrder,omitempty"`
	CleaningProcessor  string `json:"cleaningProcessor,omitempty"`

	CacheOptions          *CacheOptions          `json:"cacheOptions,omitempty"`
	MetricsOptions        *MetricsOptions        `json:"metricsOptions,omitempty"`
	LinkExtractionOptions *LinkExtractionOptions `json:"linkExtractionOptions,omitempty"`
	FetchOptions          *FetchOptions          `json:"fetchOptions,omitempty"`
}

type CacheOptions struct {
	Enabled       *bool `json:"enabled,omitempty"`
	ExpirationTTL *int  `json:"expirationTTL,omitempty"`
}

type MetricsOptions struct {
	Enable *bool `json:"enable,omitempty"`
}

type LinkExtractionOptions struct {
	IncludeExternal *bool `json:"includeExternal,omitempty"`
	IncludeMedia    *bool `json:"includeMedia,omitempty"`
}

type FetchOptions struct {
	Method   string            `json:"method,omitempty"`
	Redirect string            `json:"redirect,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
}

// safeHeaderNames are the only request headers forwarded to fetches.
var safeHeaderNames = map[string]struct{}{
	"accept":          {},
	"accept-language": {},
	"user-agent":      {},
	"referer":         {},
	"cache-control":   {},
}

func filterSafeHeaders(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		if _, ok := safeHeaderNames[strings.ToLower(k)]; ok {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// ToOptions resolves the DTO into the service option set, applying the
// documented defaults. requestMethod is the HTTP verb of the API call.
func (r *LinksRequest) ToOptions(requestMethod string) services.LinksOptions {
	boolVal := func(p *bool, def bool) bool {
		if p == nil {
			return def
		}
		return *p
	}

	opts := services.LinksOptions{
		URL:                r.URL,
		Tree:               boolVal(r.Tree, true),
		ExtractedLinks:     boolVal(r.ExtractedLinks, false),
		Metadata:           boolVal(r.Metadata, false),
		CleanedHTML:        boolVal(r.CleanedHTML, false),
		Robots:             boolVal(r.Robots, false),
		SitemapXML:         boolVal(r.SitemapXML, false),
		SubdomainAsRootURL: boolVal(r.SubdomainAsRootURL, false),
		IsPlatformURL:      boolVal(r.IsPlatformURL, false),
		FolderFirst:        boolVal(r.FolderFirst, false),
		LinksOrder:         tree.Order(r.LinksOrder),
		CleaningProcessor:  cleaner.Processor(r.CleaningProcessor),
		CacheEnabled:       true,
		RequestMethod:      requestMethod,
	}

	if r.CacheOptions != nil {
		opts.CacheEnabled = boolVal(r.CacheOptions.Enabled, true)
		if r.CacheOptions.ExpirationTTL != nil && *r.CacheOptions.ExpirationTTL > 0 {
			opts.CacheTTL = time.Duration(*r.CacheOptions.ExpirationTTL) * time.Second
		}
	}
	if r.MetricsOptions != nil {
		opts.MetricsEnabled = boolVal(r.MetricsOptions.Enable, false)
	}
	if r.LinkExtractionOptions != nil {
		opts.IncludeExternal = boolVal(r.LinkExtractionOptions.IncludeExternal, false)
		opts.IncludeMedia = boolVal(r.LinkExtractionOptions.IncludeMedia, false)
	}
	if r.FetchOptions != nil {
		opts.FetchMethod = strings.ToUpper(r.FetchOptions.Method)
		opts.FetchRedirect = r.FetchOptions.Redirect
		opts.FetchHeaders = filterSafeHeaders(r.FetchOptions.Headers)
	}

	return opts
}

// ErrorResponse is the generic error envelope for malformed requests.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Error   string `json:"error"`
}

// Re-export shared response types from the model package.
type LinksSuccessResponse = model.LinksSuccessResponse

type LinksErrorResponse = model.LinksErrorResponse
