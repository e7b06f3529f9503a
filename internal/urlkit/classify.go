package urlkit

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Bucket names the destination of a classified link.
type Bucket int

const (
	BucketInternal Bucket = iota
	BucketExternal
	BucketImage
	BucketVideo
	BucketDocument
)

func (b Bucket) String() string {
	switch b {
	case BucketInternal:
		return "internal"
	case BucketExternal:
		return "external"
	case BucketImage:
		return "image"
	case BucketVideo:
		return "video"
	case BucketDocument:
		return "document"
	}
	return "unknown"
}

var imageExts = map[string]struct{}{
	"jpg": {}, "jpeg": {}, "png": {}, "gif": {}, "webp": {}, "svg": {}, "bmp": {}, "ico": {},
}

var videoExts = map[string]struct{}{
	"mp4": {}, "webm": {}, "mov": {}, "avi": {},
}

var documentExts = map[string]struct{}{
	"pdf": {}, "doc": {}, "docx": {}, "xls": {}, "xlsx": {}, "ppt": {}, "pptx": {}, "zip": {}, "csv": {},
}

// SkipError carries the per-URL reason a link was left out of every
// bucket. It is recorded, never raised.
type SkipError struct {
	URL    string
	Reason string
}

func (e *SkipError) Error() string {
	return e.Reason
}

// Classification is the result of routing one href.
type Classification struct {
	Bucket Bucket
	URL    string
}

// Classify resolves href against base, normalizes it, and routes it to
// a bucket relative to root. Media extensions win over the
// internal/external split so a same-host image still lands in the
// images bucket. In platform mode a link counts as internal only when
// it stays inside root's own path subtree.
func Classify(href, base, root string, platform bool) (Classification, error) {
	href = strings.TrimSpace(href)
	if href == "" {
		return Classification{}, &SkipError{URL: href, Reason: "empty href"}
	}

	lower := strings.ToLower(href)
	for _, scheme := range []string{"javascript:", "mailto:", "tel:", "data:"} {
		if strings.HasPrefix(lower, scheme) {
			return Classification{}, &SkipError{URL: href, Reason: "unsupported scheme " + strings.TrimSuffix(scheme, ":")}
		}
	}

	ref, err := url.Parse(href)
	if err != nil {
		return Classification{}, &SkipError{URL: href, Reason: fmt.Sprintf("unparseable href: %v", err)}
	}

	var resolved *url.URL
	if ref.IsAbs() {
		resolved = ref
	} else {
		bu, err := url.Parse(base)
		if err != nil {
			return Classification{}, &SkipError{URL: href, Reason: fmt.Sprintf("unparseable base: %v", err)}
		}
		resolved = bu.ResolveReference(ref)
	}

	normalized, err := Normalize(resolved.String())
	if err != nil {
		return Classification{}, &SkipError{URL: href, Reason: err.Error()}
	}

	if ext := urlExtension(normalized); ext != "" {
		if _, ok := imageExts[ext]; ok {
			return Classification{Bucket: BucketImage, URL: normalized}, nil
		}
		if _, ok := videoExts[ext]; ok {
			return Classification{Bucket: BucketVideo, URL: normalized}, nil
		}
		if _, ok := documentExts[ext]; ok {
			return Classification{Bucket: BucketDocument, URL: normalized}, nil
		}
	}

	nu, _ := url.Parse(normalized)
	ru, err := url.Parse(root)
	if err != nil {
		return Classification{}, &SkipError{URL: href, Reason: fmt.Sprintf("unparseable root: %v", err)}
	}

	if !strings.EqualFold(nu.Host, ru.Host) {
		return Classification{Bucket: BucketExternal, URL: normalized}, nil
	}

	if platform && !SameSubtree(root, normalized) {
		// Same platform host, different tenant subtree.
		return Classification{Bucket: BucketExternal, URL: normalized}, nil
	}

	return Classification{Bucket: BucketInternal, URL: normalized}, nil
}

// urlExtension returns the lowercase file extension of the URL path
// without the leading dot, or "" when there is none.
func urlExtension(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	ext := path.Ext(u.Path)
	if ext == "" {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
