package extract

import (
	"errors"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"arbor/internal/model"
	"arbor/internal/urlkit"
)

// LinkOptions gates which buckets the extractor emits. Skipped entries
// are recorded into the sink regardless.
type LinkOptions struct {
	IncludeExternal bool
	IncludeMedia    bool
}

// SkipSink receives every URL dropped during extraction together with
// its reason.
type SkipSink func(url, reason string)

// LinksFromHTML parses html and buckets every outgoing link: anchors,
// images (src and the first srcset candidate), video/source elements,
// and document links. Each bucket is deduped preserving first-seen
// order. Output is deterministic for identical inputs.
func LinksFromHTML(htmlStr, baseURL, rootURL string, opts LinkOptions, platform bool, skip SkipSink) *model.ExtractedLinks {
	links := &model.ExtractedLinks{Internal: []string{}}
	if skip == nil {
		skip = func(string, string) {}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlStr))
	if err != nil {
		skip(baseURL, "failed to parse html: "+err.Error())
		return links
	}

	seen := map[urlkit.Bucket]map[string]struct{}{}
	media := &model.MediaLinks{}

	add := func(href string) {
		cls, err := urlkit.Classify(href, baseURL, rootURL, platform)
		if err != nil {
			var se *urlkit.SkipError
			if errors.As(err, &se) {
				skip(se.URL, se.Reason)
			} else {
				skip(href, err.Error())
			}
			return
		}

		bucket := seen[cls.Bucket]
		if bucket == nil {
			bucket = make(map[string]struct{})
			seen[cls.Bucket] = bucket
		}
		if _, dup := bucket[cls.URL]; dup {
			return
		}
		bucket[cls.URL] = struct{}{}

		switch cls.Bucket {
		case urlkit.BucketInternal:
			links.Internal = append(links.Internal, cls.URL)
		case urlkit.BucketExternal:
			links.External = append(links.External, cls.URL)
		case urlkit.BucketImage:
			media.Images = append(media.Images, cls.URL)
		case urlkit.BucketVideo:
			media.Videos = append(media.Videos, cls.URL)
		case urlkit.BucketDocument:
			media.Documents = append(media.Documents, cls.URL)
		}
	}

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		add(sel.AttrOr("href", ""))
	})

	doc.Find("img").Each(func(_ int, sel *goquery.Selection) {
		if src := strings.TrimSpace(sel.AttrOr("src", "")); src != "" {
			add(src)
		}
		if first := firstSrcsetURL(sel.AttrOr("srcset", "")); first != "" {
			add(first)
		}
	})

	doc.Find("video[src], source[src]").Each(func(_ int, sel *goquery.Selection) {
		add(sel.AttrOr("src", ""))
	})
	doc.Find("source[srcset]").Each(func(_ int, sel *goquery.Selection) {
		if first := firstSrcsetURL(sel.AttrOr("srcset", "")); first != "" {
			add(first)
		}
	})

	if !opts.IncludeExternal {
		links.External = nil
	}
	if opts.IncludeMedia && !media.IsEmpty() {
		links.Media = media
	}
	return links
}

// firstSrcsetURL returns the URL token of the first srcset candidate
// ("url1 1x, url2 2x" yields url1).
func firstSrcsetURL(srcset string) string {
	srcset = strings.TrimSpace(srcset)
	if srcset == "" {
		return ""
	}
	parts := strings.Split(srcset, ",")
	fields := strings.Fields(strings.TrimSpace(parts[0]))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
