package scrape

import (
	"context"
	"encoding/xml"
	"net/http"
	"net/url"

	robotstxt "github.com/temoto/robotstxt"

	"arbor/internal/model"
)

// captureMetaFiles fetches robots.txt and sitemap.xml for the root as
// plain data. Neither is ever used to gate the crawl.
func (c *Coordinator) captureMetaFiles(ctx context.Context, rootURL, userAgent string, robots, sitemap bool) *model.MetaFiles {
	if c.text == nil {
		return nil
	}
	base, err := url.Parse(rootURL)
	if err != nil {
		return nil
	}

	mf := &model.MetaFiles{}

	if robots {
		robotsURL := &url.URL{Scheme: base.Scheme, Host: base.Host, Path: "/robots.txt"}
		body, status, err := c.text.FetchText(ctx, robotsURL.String(), userAgent)
		if err != nil {
			c.log.Warn("robots.txt fetch failed", "url", robotsURL.String(), "error", err)
		} else if status == http.StatusOK {
			info := &model.RobotsInfo{Raw: body}
			if data, err := robotstxt.FromStatusAndBytes(status, []byte(body)); err == nil {
				info.Sitemaps = data.Sitemaps
			}
			mf.Robots = info
		}
	}

	if sitemap {
		sitemapURL := &url.URL{Scheme: base.Scheme, Host: base.Host, Path: "/sitemap.xml"}
		body, status, err := c.text.FetchText(ctx, sitemapURL.String(), userAgent)
		if err != nil {
			c.log.Warn("sitemap.xml fetch failed", "url", sitemapURL.String(), "error", err)
		} else if status == http.StatusOK {
			mf.SitemapURLs = parseSitemapLocs([]byte(body))
		}
	}

	if mf.Robots == nil && len(mf.SitemapURLs) == 0 {
		return nil
	}
	return mf
}

// parseSitemapLocs reads loc entries out of a basic urlset sitemap.
func parseSitemapLocs(body []byte) []string {
	type urlEntry struct {
		Loc string `xml:"loc"`
	}
	type urlSet struct {
		URLs []urlEntry `xml:"url"`
	}

	var us urlSet
	if err := xml.Unmarshal(body, &us); err != nil {
		return nil
	}

	locs := make([]string, 0, len(us.URLs))
	for _, ue := range us.URLs {
		if ue.Loc != "" {
			locs = append(locs, ue.Loc)
		}
	}
	if len(locs) == 0 {
		return nil
	}
	return locs
}
