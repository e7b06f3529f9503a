package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"arbor/internal/model"
)

// Metadata parses the head of an HTML document into the metadata block
// attached to scrape results and tree nodes. baseURL resolves relative
// canonical and favicon references.
func Metadata(htmlStr, baseURL string) (*model.Metadata, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlStr))
	if err != nil {
		return nil, err
	}

	base, _ := url.Parse(baseURL)
	resolve := func(ref string) string {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			return ""
		}
		ru, err := url.Parse(ref)
		if err != nil {
			return ""
		}
		if base != nil && !ru.IsAbs() {
			ru = base.ResolveReference(ru)
		}
		return ru.String()
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if og := doc.Find(`meta[property="og:title"]`).AttrOr("content", ""); title == "" && og != "" {
		title = strings.TrimSpace(og)
	}

	lang, _ := doc.Find("html").First().Attr("lang")

	md := &model.Metadata{
		Title:         title,
		Description:   doc.Find("meta[name=description]").AttrOr("content", ""),
		Language:      lang,
		Keywords:      doc.Find("meta[name=keywords]").AttrOr("content", ""),
		Robots:        doc.Find("meta[name=robots]").AttrOr("content", ""),
		Canonical:     resolve(doc.Find("link[rel=canonical]").AttrOr("href", "")),
		OgTitle:       doc.Find(`meta[property="og:title"]`).AttrOr("content", ""),
		OgDescription: doc.Find(`meta[property="og:description"]`).AttrOr("content", ""),
		OgURL:         doc.Find(`meta[property="og:url"]`).AttrOr("content", ""),
		OgImage:       doc.Find(`meta[property="og:image"]`).AttrOr("content", ""),
		OgSiteName:    doc.Find(`meta[property="og:site_name"]`).AttrOr("content", ""),
		SourceURL:     baseURL,
	}

	// Favicon: prefer an explicit icon link, fall back to /favicon.ico.
	icon := doc.Find(`link[rel="icon"], link[rel="shortcut icon"], link[rel="apple-touch-icon"]`).First().AttrOr("href", "")
	if icon != "" {
		md.Favicon = resolve(icon)
	} else if base != nil && base.Host != "" {
		md.Favicon = base.Scheme + "://" + base.Host + "/favicon.ico"
	}

	if md.Canonical != "" {
		md.SourceURL = md.Canonical
	}

	return md, nil
}
