package http

import (
	"encoding/json"
	"io"
	"log/slog"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"arbor/internal/config"
	"arbor/internal/model"
)

func newTestServer() *Server {
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	cfg.Cache.RedisURL = ""
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(cfg, nil, logger)
}

func newCachedTestServer(t *testing.T) (*Server, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	cfg.Cache.RedisURL = "redis://" + mr.Addr()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(cfg, nil, logger), mr
}

func TestLinksPostRejectsMissingURL(t *testing.T) {
	s := newTestServer()

	req := httptest.NewRequest(nethttp.MethodPost, "/v1/links", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.App().Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != nethttp.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	var body ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Success || body.Code != "BAD_REQUEST" {
		t.Fatalf("body = %+v", body)
	}
}

func TestLinksPostRejectsMalformedJSON(t *testing.T) {
	s := newTestServer()

	req := httptest.NewRequest(nethttp.MethodPost, "/v1/links", strings.NewReader(`{"url": `))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.App().Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != nethttp.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestLinksPostInvalidScheme(t *testing.T) {
	s := newTestServer()

	req := httptest.NewRequest(nethttp.MethodPost, "/v1/links", strings.NewReader(`{"url":"ftp://example.com/x"}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.App().Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != nethttp.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	var body LinksErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Code != "INVALID_URL" || body.RequestID == "" || body.Timestamp == "" {
		t.Fatalf("body = %+v", body)
	}
}

func TestLinksEndToEnd(t *testing.T) {
	backend := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/html")
		switch r.URL.Path {
		case "/docs":
			_, _ = w.Write([]byte(`<html><body><a href="/docs/a">a</a><a href="/docs/b">b</a></body></html>`))
		default:
			_, _ = w.Write([]byte(`<html><head><title>Page</title></head><body><a href="/docs">docs</a></body></html>`))
		}
	}))
	defer backend.Close()

	s := newTestServer()

	payload := `{"url":"` + backend.URL + `/docs","linksOrder":"alphabetical","folderFirst":true}`
	req := httptest.NewRequest(nethttp.MethodPost, "/v1/links", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.App().Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != nethttp.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, body = %s", resp.StatusCode, raw)
	}

	var body model.LinksSuccessResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Success || body.Tree == nil {
		t.Fatalf("body = %+v", body)
	}
	if body.Tree.URL != backend.URL {
		t.Fatalf("tree root = %q, want %q", body.Tree.URL, backend.URL)
	}
	if body.RequestID == "" {
		t.Fatalf("missing requestId")
	}
}

func TestLinksEndToEndCacheHit(t *testing.T) {
	backend := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>Cacheable</title></head><body><a href="/x">x</a></body></html>`))
	}))
	defer backend.Close()

	s, mr := newCachedTestServer(t)
	payload := `{"url":"` + backend.URL + `/page","tree":false,"metadata":true}`

	post := func() model.LinksSuccessResponse {
		t.Helper()
		req := httptest.NewRequest(nethttp.MethodPost, "/v1/links", strings.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		resp, err := s.App().Test(req, -1)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		if resp.StatusCode != nethttp.StatusOK {
			raw, _ := io.ReadAll(resp.Body)
			t.Fatalf("status = %d, body = %s", resp.StatusCode, raw)
		}
		var body model.LinksSuccessResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return body
	}

	first := post()
	if first.Cached {
		t.Fatalf("first call must report cached:false")
	}

	// The cache write is fire-and-forget; wait for it to land.
	deadline := time.Now().Add(2 * time.Second)
	for written := false; !written; {
		for _, k := range mr.Keys() {
			if strings.HasPrefix(k, "links:") {
				written = true
			}
		}
		if !written {
			if time.Now().After(deadline) {
				t.Fatalf("cache entry never written")
			}
			time.Sleep(5 * time.Millisecond)
		}
	}

	second := post()
	if !second.Cached {
		t.Fatalf("second identical call must report cached:true")
	}
	if second.Title != "Cacheable" {
		t.Fatalf("cached response lost content: %q", second.Title)
	}
}

func TestLinksGetQueryForm(t *testing.T) {
	backend := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>Flat</title></head><body><a href="/x">x</a></body></html>`))
	}))
	defer backend.Close()

	s := newTestServer()

	req := httptest.NewRequest(nethttp.MethodGet,
		"/v1/links?url="+backend.URL+"/page&tree=false&metadata=true&extractedLinks=true", nil)

	resp, err := s.App().Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != nethttp.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, body = %s", resp.StatusCode, raw)
	}

	var body model.LinksSuccessResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Tree != nil {
		t.Fatalf("tree=false should not return a tree")
	}
	if body.Title != "Flat" {
		t.Fatalf("title = %q", body.Title)
	}
	if body.ExtractedLinks == nil {
		t.Fatalf("extracted links missing")
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer()

	resp, err := s.App().Test(httptest.NewRequest(nethttp.MethodGet, "/healthz", nil), -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != nethttp.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestFilterSafeHeaders(t *testing.T) {
	in := map[string]string{
		"Accept-Language": "en",
		"Authorization":   "Bearer secret",
		"Cookie":          "session=1",
		"User-Agent":      "custom",
	}
	out := filterSafeHeaders(in)
	if len(out) != 2 {
		t.Fatalf("filtered headers = %v", out)
	}
	if _, ok := out["Authorization"]; ok {
		t.Fatalf("authorization header must not be forwarded")
	}
	if _, ok := out["Cookie"]; ok {
		t.Fatalf("cookie header must not be forwarded")
	}
}
