package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"arbor/internal/cache"
	"arbor/internal/config"
	"arbor/internal/model"
)

func newTestService() LinksService {
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	return NewLinksService(cfg, cache.New(nil, nil, 0), nil)
}

func newCachedService(t *testing.T) (LinksService, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := &config.Config{}
	cfg.ApplyDefaults()
	return NewLinksService(cfg, cache.New(client, nil, time.Minute), nil), mr
}

// waitForKeyPrefix polls for the fire-and-forget cache write to land
// and returns the matching key.
func waitForKeyPrefix(t *testing.T, mr *miniredis.Miniredis, prefix string) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, k := range mr.Keys() {
			if strings.HasPrefix(k, prefix) {
				return k
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no key with prefix %q was written", prefix)
	return ""
}

func serveHTML(pages map[string]string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(page))
	}))
}

func findChild(n *model.TreeNode, name string) *model.TreeNode {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func treeHasURL(n *model.TreeNode, url string) bool {
	if n.URL == url {
		return true
	}
	for _, c := range n.Children {
		if treeHasURL(c, url) {
			return true
		}
	}
	return false
}

func TestProcessLinksRequestTree(t *testing.T) {
	ts := serveHTML(map[string]string{
		"/":            `<html><body><a href="/blog">Blog</a></body></html>`,
		"/blog":        `<html><body><a href="/blog/post-1">1</a><a href="/blog/post-2">2</a></body></html>`,
		"/blog/post-1": `<html><head><title>Post 1</title></head><body><a href="/blog">up</a><a href="/blog/post-2">next</a><a href="https://other.com/x">out</a></body></html>`,
		"/blog/post-2": `<html><head><title>Post 2</title></head><body></body></html>`,
	})
	defer ts.Close()

	svc := newTestService()
	resp, err := svc.ProcessLinksRequest(context.Background(), LinksOptions{
		URL:  ts.URL + "/blog/post-1",
		Tree: true,
	})
	if err != nil {
		t.Fatalf("ProcessLinksRequest: %v", err)
	}

	if !resp.Success || resp.Cached {
		t.Fatalf("unexpected envelope: success=%v cached=%v", resp.Success, resp.Cached)
	}
	if resp.Tree == nil {
		t.Fatalf("tree mode must return a tree")
	}
	if resp.Tree.URL != ts.URL {
		t.Fatalf("tree root = %q, want %q", resp.Tree.URL, ts.URL)
	}

	blog := findChild(&resp.Tree.TreeNode, "blog")
	if blog == nil {
		t.Fatalf("missing blog node: %+v", resp.Tree.Children)
	}
	if findChild(blog, "post-1") == nil || findChild(blog, "post-2") == nil {
		t.Fatalf("blog children incomplete: %+v", blog.Children)
	}
	if treeHasURL(&resp.Tree.TreeNode, "https://other.com/x") {
		t.Fatalf("external URL leaked into the tree")
	}

	if len(resp.Ancestors) != 2 || resp.Ancestors[0] != ts.URL || resp.Ancestors[1] != ts.URL+"/blog" {
		t.Fatalf("ancestors = %v", resp.Ancestors)
	}

	// The target node was actually visited this request.
	post1 := findChild(blog, "post-1")
	if post1.LastVisited == "" {
		t.Fatalf("target node missing lastVisited")
	}
}

func TestProcessLinksRequestNonTree(t *testing.T) {
	ts := serveHTML(map[string]string{
		"/page": `<html><head><title>Solo</title><meta name="description" content="one page"></head><body><a href="/other">o</a></body></html>`,
	})
	defer ts.Close()

	svc := newTestService()
	resp, err := svc.ProcessLinksRequest(context.Background(), LinksOptions{
		URL:            ts.URL + "/page",
		Tree:           false,
		Metadata:       true,
		ExtractedLinks: true,
		MetricsEnabled: true,
	})
	if err != nil {
		t.Fatalf("ProcessLinksRequest: %v", err)
	}

	if resp.Tree != nil {
		t.Fatalf("non-tree mode must not return a tree")
	}
	if resp.Cached {
		t.Fatalf("first call must not be cached")
	}
	if resp.Metadata == nil || resp.Metadata.Title != "Solo" {
		t.Fatalf("metadata at response root = %+v", resp.Metadata)
	}
	if resp.Title != "Solo" || resp.Description != "one page" {
		t.Fatalf("content fields = %q / %q", resp.Title, resp.Description)
	}
	if resp.ExtractedLinks == nil || len(resp.ExtractedLinks.Internal) != 1 {
		t.Fatalf("extracted links = %+v", resp.ExtractedLinks)
	}
	if resp.Metrics == nil || resp.Metrics.ReadableDuration == "" {
		t.Fatalf("metrics missing: %+v", resp.Metrics)
	}
}

func TestProcessLinksRequestNonTreeCacheHit(t *testing.T) {
	ts := serveHTML(map[string]string{
		"/page": `<html><head><title>Solo</title></head><body><a href="/other">o</a></body></html>`,
	})
	defer ts.Close()

	svc, mr := newCachedService(t)
	opts := LinksOptions{
		URL:          ts.URL + "/page",
		Tree:         false,
		Metadata:     true,
		CacheEnabled: true,
	}

	first, err := svc.ProcessLinksRequest(context.Background(), opts)
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	if first.Cached {
		t.Fatalf("first call must report cached:false")
	}

	key := waitForKeyPrefix(t, mr, "links:")

	second, err := svc.ProcessLinksRequest(context.Background(), opts)
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	if !second.Cached {
		t.Fatalf("second identical call must report cached:true")
	}
	if second.Title != first.Title || second.Title != "Solo" {
		t.Fatalf("cached response content lost: %q vs %q", second.Title, first.Title)
	}
	if second.RequestID == first.RequestID || second.RequestID == "" {
		t.Fatalf("cache hit must mint a fresh requestId")
	}
	if second.Timestamp == "" {
		t.Fatalf("cache hit must refresh the timestamp")
	}

	// A corrupt entry reads as a miss and the request falls back to a
	// fresh scrape.
	if err := mr.Set(key, `{{{not json`); err != nil {
		t.Fatalf("seed corrupt value: %v", err)
	}
	third, err := svc.ProcessLinksRequest(context.Background(), opts)
	if err != nil {
		t.Fatalf("third request: %v", err)
	}
	if third.Cached {
		t.Fatalf("corrupt cache entry must not count as a hit")
	}
}

func TestProcessLinksRequestTreeCacheReuse(t *testing.T) {
	ts := serveHTML(map[string]string{
		"/":  `<html><head><title>Home</title></head><body><a href="/a">a</a></body></html>`,
		"/a": `<html><head><title>A</title></head><body></body></html>`,
	})
	defer ts.Close()

	svc, mr := newCachedService(t)

	first, err := svc.ProcessLinksRequest(context.Background(), LinksOptions{
		URL:          ts.URL,
		Tree:         true,
		CacheEnabled: true,
	})
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	if first.Cached {
		t.Fatalf("first call must report cached:false")
	}

	key := waitForKeyPrefix(t, mr, "tree:")

	// Same root, different content flags: the tree key ignores
	// cleanedHTML, so the cached tree is reused and the response is
	// enriched in the second pass.
	second, err := svc.ProcessLinksRequest(context.Background(), LinksOptions{
		URL:          ts.URL,
		Tree:         true,
		CleanedHTML:  true,
		CacheEnabled: true,
	})
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	if !second.Cached {
		t.Fatalf("second call must reuse the cached tree")
	}
	if second.Tree == nil || second.Tree.CleanedHTML == "" {
		t.Fatalf("second response should carry cleanedHTML enrichment")
	}
	for u := range map[string]struct{}{ts.URL: {}, ts.URL + "/a": {}} {
		if !treeHasURL(&second.Tree.TreeNode, u) {
			t.Fatalf("merged tree lost URL %q", u)
		}
	}

	// The persisted tree never carries cleanedHTML.
	stored, err := mr.Get(key)
	if err != nil {
		t.Fatalf("read stored tree: %v", err)
	}
	if strings.Contains(stored, "cleanedHtml") {
		t.Fatalf("cached tree must not contain cleanedHTML:\n%s", stored)
	}
}

func TestProcessLinksRequestTreeCorruptCacheEntry(t *testing.T) {
	ts := serveHTML(map[string]string{
		"/":  `<html><head><title>Home</title></head><body><a href="/a">a</a></body></html>`,
		"/a": `<html><body></body></html>`,
	})
	defer ts.Close()

	svc, mr := newCachedService(t)
	opts := LinksOptions{URL: ts.URL, Tree: true, CacheEnabled: true}

	if _, err := svc.ProcessLinksRequest(context.Background(), opts); err != nil {
		t.Fatalf("first request: %v", err)
	}
	key := waitForKeyPrefix(t, mr, "tree:")

	// A corrupt tree entry reads as a miss; the request rebuilds.
	if err := mr.Set(key, `]]garbage`); err != nil {
		t.Fatalf("seed corrupt value: %v", err)
	}
	second, err := svc.ProcessLinksRequest(context.Background(), opts)
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	if second.Cached {
		t.Fatalf("corrupt tree entry must not count as a hit")
	}
	if second.Tree == nil || second.Tree.URL != ts.URL {
		t.Fatalf("rebuild after corrupt entry failed: %+v", second.Tree)
	}
}

func TestProcessLinksRequestPlatform(t *testing.T) {
	ts := serveHTML(map[string]string{
		"/alice":      `<html><body><a href="/alice/repo">repo</a><a href="/bob">sibling</a></body></html>`,
		"/alice/repo": `<html><body>repo page</body></html>`,
	})
	defer ts.Close()

	svc := newTestService()
	resp, err := svc.ProcessLinksRequest(context.Background(), LinksOptions{
		URL:           ts.URL + "/alice",
		Tree:          true,
		IsPlatformURL: true,
	})
	if err != nil {
		t.Fatalf("ProcessLinksRequest: %v", err)
	}

	if resp.Tree.RootURL != ts.URL+"/alice" {
		t.Fatalf("platform root = %q, want the target itself", resp.Tree.RootURL)
	}
	if !treeHasURL(&resp.Tree.TreeNode, ts.URL+"/alice/repo") {
		t.Fatalf("own subtree missing from platform tree")
	}
	if treeHasURL(&resp.Tree.TreeNode, ts.URL+"/bob") {
		t.Fatalf("sibling tenant leaked into platform tree")
	}
}

func TestProcessLinksRequestTargetFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer ts.Close()

	svc := newTestService()
	_, err := svc.ProcessLinksRequest(context.Background(), LinksOptions{
		URL:  ts.URL + "/broken",
		Tree: true,
	})
	if err == nil {
		t.Fatalf("target failure must surface as an error")
	}

	var le *LinksError
	if !errors.As(err, &le) {
		t.Fatalf("error is %T, want *LinksError", err)
	}
	if le.Code != CodeScrapeFailed {
		t.Fatalf("code = %q, want %q", le.Code, CodeScrapeFailed)
	}
}

func TestProcessLinksRequestInvalidURL(t *testing.T) {
	svc := newTestService()

	for _, raw := range []string{"", "ftp://example.com/x", "not a url at all %%%"} {
		_, err := svc.ProcessLinksRequest(context.Background(), LinksOptions{URL: raw, Tree: true})
		if err == nil {
			t.Fatalf("invalid url %q accepted", raw)
		}
		le := AsLinksError(err)
		if le.Code != CodeInvalidURL {
			t.Fatalf("code for %q = %q, want %q", raw, le.Code, CodeInvalidURL)
		}
	}
}

func TestProcessLinksRequestPartialFailure(t *testing.T) {
	// The blog index page fails; the target still succeeds and the
	// failure lands in skippedUrls.
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/blog":
			http.Error(w, "flaky", http.StatusBadGateway)
		case "/blog/post-1":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(`<html><body><a href="/blog/post-2">n</a></body></html>`))
		default:
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(`<html><body>ok</body></html>`))
		}
	}))
	defer ts.Close()

	svc := newTestService()
	resp, err := svc.ProcessLinksRequest(context.Background(), LinksOptions{
		URL:  ts.URL + "/blog/post-1",
		Tree: true,
	})
	if err != nil {
		t.Fatalf("partial failure must not fail the request: %v", err)
	}

	if resp.SkippedURLs == nil || len(resp.SkippedURLs.Internal) == 0 {
		t.Fatalf("ancestor failure missing from skippedUrls: %+v", resp.SkippedURLs)
	}
	found := false
	for _, s := range resp.SkippedURLs.Internal {
		if s.URL == ts.URL+"/blog" && s.Reason != "" {
			found = true
		}
	}
	if !found {
		t.Fatalf("skipped entry for /blog not found: %+v", resp.SkippedURLs.Internal)
	}

	// The tree still contains the failed node as a folder on the path.
	if !treeHasURL(&resp.Tree.TreeNode, ts.URL+"/blog") {
		t.Fatalf("path node for failed ancestor missing")
	}
}

func TestOptionsValidate(t *testing.T) {
	opts := LinksOptions{URL: "https://example.com"}
	opts.ApplyDefaults()
	if err := opts.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	bad := opts
	bad.LinksOrder = "reverse"
	if err := bad.Validate(); err == nil {
		t.Fatalf("bad linksOrder accepted")
	}

	bad = opts
	bad.CleaningProcessor = "regex"
	if err := bad.Validate(); err == nil {
		t.Fatalf("bad cleaningProcessor accepted")
	}

	bad = opts
	bad.FetchMethod = "POST"
	if err := bad.Validate(); err == nil {
		t.Fatalf("POST fetch method accepted")
	}
}
