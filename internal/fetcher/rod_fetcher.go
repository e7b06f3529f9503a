package fetcher

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// RodFetcher renders JS-heavy pages in a real browser (via rod) before
// handing back the DOM HTML.
type RodFetcher struct {
	BrowserURL string
	Timeout    time.Duration
}

func NewRodFetcher(browserURL string, timeout time.Duration) *RodFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RodFetcher{BrowserURL: browserURL, Timeout: timeout}
}

func (r *RodFetcher) Fetch(ctx context.Context, req Request) (*Page, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, err
	}

	browser := rod.New().Context(ctx).Timeout(r.Timeout)
	if r.BrowserURL != "" {
		browser = browser.ControlURL(r.BrowserURL)
	}

	if err := browser.Connect(); err != nil {
		return nil, err
	}
	defer browser.MustClose()

	page, err := browser.Page(proto.TargetCreateTarget{URL: u.String()})
	if err != nil {
		return nil, err
	}
	defer page.MustClose()

	if err := page.WaitLoad(); err != nil {
		return nil, err
	}

	htmlStr, err := page.HTML()
	if err != nil {
		return nil, err
	}

	finalURL := u.String()
	if info, err := page.Info(); err == nil && info.URL != "" {
		finalURL = info.URL
	}

	// The DevTools protocol does not expose response headers here, so
	// the page carries only what a rendered document can know.
	return &Page{
		URL:         finalURL,
		HTML:        htmlStr,
		StatusCode:  http.StatusOK,
		ContentType: "text/html",
	}, nil
}
