package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrUnsupportedContent is returned when a response is not an HTML
// document the pipeline can work with.
var ErrUnsupportedContent = errors.New("unsupported content type")

// Request describes one fetch. Method is GET or HEAD; Redirect is
// "follow", "error", or "manual".
type Request struct {
	URL       string
	Method    string
	Redirect  string
	Headers   map[string]string
	UserAgent string
}

// Page is the raw fetch output: the body plus the response headers the
// link pipeline cares about.
type Page struct {
	URL           string // final URL after redirects
	HTML          string
	StatusCode    int
	ContentType   string
	XFrameOptions string
	CSP           string
	Header        http.Header
}

// Fetcher retrieves a single page. Implementations must honor ctx.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*Page, error)
}

// HTTPFetcher fetches pages over plain net/http.
type HTTPFetcher struct {
	transport    http.RoundTripper
	timeout      time.Duration
	userAgent    string
	maxBodyBytes int64
}

// Options configures an HTTPFetcher.
type Options struct {
	Timeout      time.Duration
	UserAgent    string
	MaxBodyBytes int64
}

func NewHTTPFetcher(opts Options) *HTTPFetcher {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 10 * 1024 * 1024
	}
	return &HTTPFetcher{
		transport:    http.DefaultTransport,
		timeout:      timeout,
		userAgent:    opts.UserAgent,
		maxBodyBytes: maxBody,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, req Request) (*Page, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, err
	}

	// The hard per-fetch timeout layers on top of whatever deadline the
	// caller already carries.
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	if method != http.MethodGet && method != http.MethodHead {
		return nil, fmt.Errorf("unsupported fetch method %q", req.Method)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, err
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.UserAgent != "" {
		httpReq.Header.Set("User-Agent", req.UserAgent)
	} else if f.userAgent != "" {
		httpReq.Header.Set("User-Agent", f.userAgent)
	}

	client := &http.Client{Transport: f.transport}
	switch req.Redirect {
	case "", "follow":
	case "manual":
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	case "error":
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return errors.New("redirect not allowed")
		}
	default:
		return nil, fmt.Errorf("unsupported redirect mode %q", req.Redirect)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !isHTMLContentType(contentType) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedContent, contentType)
	}

	var htmlStr string
	if method != http.MethodHead {
		body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodyBytes))
		if err != nil {
			return nil, err
		}
		htmlStr = string(body)
	}

	finalURL := u.String()
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &Page{
		URL:           finalURL,
		HTML:          htmlStr,
		StatusCode:    resp.StatusCode,
		ContentType:   contentType,
		XFrameOptions: resp.Header.Get("X-Frame-Options"),
		CSP:           resp.Header.Get("Content-Security-Policy"),
		Header:        resp.Header,
	}, nil
}

func isHTMLContentType(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "text/html") ||
		strings.Contains(ct, "application/xhtml") ||
		strings.Contains(ct, "text/plain") ||
		strings.Contains(ct, "text/xml") ||
		strings.Contains(ct, "application/xml")
}

// FetchText retrieves a small non-HTML resource (robots.txt,
// sitemap.xml) as plain text, bypassing the content-type gate.
func (f *HTTPFetcher) FetchText(ctx context.Context, rawURL, userAgent string) (string, int, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", 0, err
	}
	if userAgent == "" {
		userAgent = f.userAgent
	}
	if userAgent != "" {
		httpReq.Header.Set("User-Agent", userAgent)
	}

	client := &http.Client{Transport: f.transport}
	resp, err := client.Do(httpReq)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodyBytes))
	if err != nil {
		return "", resp.StatusCode, err
	}
	return string(body), resp.StatusCode, nil
}
