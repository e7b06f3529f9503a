package model

import "time"

// Metadata is the per-page metadata block extracted from a scraped
// document's head.
type Metadata struct {
	Title         string `json:"title,omitempty"`
	Description   string `json:"description,omitempty"`
	Language      string `json:"language,omitempty"`
	Keywords      string `json:"keywords,omitempty"`
	Robots        string `json:"robots,omitempty"`
	Canonical     string `json:"canonical,omitempty"`
	Favicon       string `json:"favicon,omitempty"`
	OgTitle       string `json:"ogTitle,omitempty"`
	OgDescription string `json:"ogDescription,omitempty"`
	OgURL         string `json:"ogUrl,omitempty"`
	OgImage       string `json:"ogImage,omitempty"`
	OgSiteName    string `json:"ogSiteName,omitempty"`
	SourceURL     string `json:"sourceURL,omitempty"`
	StatusCode    int    `json:"statusCode,omitempty"`
}

// MediaLinks groups media URLs discovered on a page by kind.
type MediaLinks struct {
	Images    []string `json:"images,omitempty"`
	Videos    []string `json:"videos,omitempty"`
	Documents []string `json:"documents,omitempty"`
}

// IsEmpty reports whether no media URL was collected.
func (m *MediaLinks) IsEmpty() bool {
	return m == nil || (len(m.Images) == 0 && len(m.Videos) == 0 && len(m.Documents) == 0)
}

// ExtractedLinks buckets the outgoing links of one page. Internal means
// same-root; a URL appears in at most one bucket.
type ExtractedLinks struct {
	Internal []string    `json:"internal"`
	External []string    `json:"external,omitempty"`
	Media    *MediaLinks `json:"media,omitempty"`
}

// SkippedURL records a URL that was dropped during extraction or
// scraping together with the non-empty reason.
type SkippedURL struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

// SkippedLinks mirrors the ExtractedLinks buckets for skipped entries.
type SkippedLinks struct {
	Internal []SkippedURL `json:"internal,omitempty"`
	External []SkippedURL `json:"external,omitempty"`
	Media    []SkippedURL `json:"media,omitempty"`
	Other    []SkippedURL `json:"other,omitempty"`
}

// RobotsInfo is the captured (never enforced) robots.txt of a root.
type RobotsInfo struct {
	Raw      string   `json:"raw,omitempty"`
	Sitemaps []string `json:"sitemaps,omitempty"`
}

// MetaFiles carries root-level meta documents captured on demand.
type MetaFiles struct {
	Robots      *RobotsInfo `json:"robots,omitempty"`
	SitemapURLs []string    `json:"sitemapUrls,omitempty"`
}

// ScrapedData is the per-URL scrape output assembled by the
// coordinator. RawHTML is non-empty for any successful scrape; the
// rest is optional.
type ScrapedData struct {
	Title       string          `json:"title,omitempty"`
	Description string          `json:"description,omitempty"`
	RawHTML     string          `json:"rawHtml,omitempty"`
	CleanedHTML string          `json:"cleanedHtml,omitempty"`
	Markdown    string          `json:"markdown,omitempty"`
	Metadata    *Metadata       `json:"metadata,omitempty"`
	Links       *ExtractedLinks `json:"extractedLinks,omitempty"`
	MetaFiles   *MetaFiles      `json:"metaFiles,omitempty"`
	FinalURL    string          `json:"finalUrl,omitempty"`
	ContentType string          `json:"contentType,omitempty"`
	StatusCode  int             `json:"statusCode,omitempty"`
}

// TreeNode is one node of the site-map tree. A node's URL is a strict
// path prefix of every descendant's URL; children may be absent.
type TreeNode struct {
	URL            string          `json:"url"`
	Name           string          `json:"name,omitempty"`
	LastUpdated    string          `json:"lastUpdated"`
	LastVisited    string          `json:"lastVisited,omitempty"`
	Children       []*TreeNode     `json:"children,omitempty"`
	Metadata       *Metadata       `json:"metadata,omitempty"`
	CleanedHTML    string          `json:"cleanedHtml,omitempty"`
	ExtractedLinks *ExtractedLinks `json:"extractedLinks,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// Tree is the root node plus tree-wide bookkeeping; it is the value
// persisted in the tree cache keyspace.
type Tree struct {
	TreeNode
	TotalURLs   int           `json:"totalUrls"`
	RootURL     string        `json:"rootUrl"`
	SkippedURLs *SkippedLinks `json:"skippedUrls,omitempty"`
}

// Metrics carries request timing when metricsOptions.enable is set.
type Metrics struct {
	ReadableDuration string `json:"readableDuration"`
	DurationMs       int64  `json:"durationMs"`
	StartTimeMs      int64  `json:"startTimeMs"`
	EndTimeMs        int64  `json:"endTimeMs"`
}

// LinksSuccessResponse is the success envelope. Tree mode fills Tree
// and Ancestors; non-tree mode fills the root-level content fields
// instead. The presence of Tree is the union discriminator.
type LinksSuccessResponse struct {
	RequestID string `json:"requestId"`
	Success   bool   `json:"success"`
	Cached    bool   `json:"cached"`
	TargetURL string `json:"targetUrl"`
	Timestamp string `json:"timestamp"`

	Ancestors []string `json:"ancestors,omitempty"`
	Tree      *Tree    `json:"tree,omitempty"`

	Title          string          `json:"title,omitempty"`
	Description    string          `json:"description,omitempty"`
	Metadata       *Metadata       `json:"metadata,omitempty"`
	CleanedHTML    string          `json:"cleanedHtml,omitempty"`
	Markdown       string          `json:"markdown,omitempty"`
	ExtractedLinks *ExtractedLinks `json:"extractedLinks,omitempty"`
	MetaFiles      *MetaFiles      `json:"metaFiles,omitempty"`

	Metrics     *Metrics      `json:"metrics,omitempty"`
	SkippedURLs *SkippedLinks `json:"skippedUrls,omitempty"`
}

// LinksErrorResponse is the failure envelope. Tree carries the cached
// tree when one existed before the failing request.
type LinksErrorResponse struct {
	RequestID string `json:"requestId"`
	Success   bool   `json:"success"`
	TargetURL string `json:"targetUrl"`
	Timestamp string `json:"timestamp"`
	Code      string `json:"code,omitempty"`
	Error     string `json:"error"`
	Tree      *Tree  `json:"tree,omitempty"`
}

// ISOTime formats a timestamp the way every response and tree field
// carries it: ISO-8601 in UTC.
func ISOTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
