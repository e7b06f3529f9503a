package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Simple Prometheus-style metrics for the links service.
// Intentionally minimal and in-memory only.

var (
	mu             sync.RWMutex
	requestsTotal  = make(map[reqKey]int64)
	latencyMsSum   = make(map[latKey]int64)
	latencyMsCount = make(map[latKey]int64)

	linksRequestsTotal = make(map[linksKey]int64)
	scrapesTotal       = make(map[string]int64)
)

type reqKey struct {
	Method string
	Path   string
	Status int
}

type latKey struct {
	Method string
	Path   string
}

type linksKey struct {
	Mode   string
	Cached string
}

// RecordRequest increments the HTTP request counter and records latency.
func RecordRequest(method, path string, status int, latencyMs int64) {
	mu.Lock()
	defer mu.Unlock()

	rk := reqKey{Method: method, Path: path, Status: status}
	requestsTotal[rk]++

	lk := latKey{Method: method, Path: path}
	latencyMsSum[lk] += latencyMs
	latencyMsCount[lk]++
}

// RecordLinksRequest counts a completed links request by mode
// ("tree" or "non-tree") and cache outcome.
func RecordLinksRequest(mode string, cached bool) {
	mu.Lock()
	defer mu.Unlock()

	c := "false"
	if cached {
		c = "true"
	}
	linksRequestsTotal[linksKey{Mode: mode, Cached: c}]++
}

// RecordScrape counts one page scrape by outcome.
func RecordScrape(success bool) {
	mu.Lock()
	defer mu.Unlock()

	s := "false"
	if success {
		s = "true"
	}
	scrapesTotal[s]++
}

// Export returns Prometheus-style metrics text.
func Export() string {
	mu.RLock()
	defer mu.RUnlock()

	var b strings.Builder

	b.WriteString("# HELP arbor_http_requests_total Total HTTP requests\n")
	b.WriteString("# TYPE arbor_http_requests_total counter\n")

	// Sort keys for stable output
	var reqKeys []reqKey
	for k := range requestsTotal {
		reqKeys = append(reqKeys, k)
	}
	sort.Slice(reqKeys, func(i, j int) bool {
		if reqKeys[i].Method != reqKeys[j].Method {
			return reqKeys[i].Method < reqKeys[j].Method
		}
		if reqKeys[i].Path != reqKeys[j].Path {
			return reqKeys[i].Path < reqKeys[j].Path
		}
		return reqKeys[i].Status < reqKeys[j].Status
	})

	for _, k := range reqKeys {
		v := requestsTotal[k]
		fmt.Fprintf(&b, "arbor_http_requests_total{method=\"%s\",path=\"%s\",status=\"%d\"} %d\n",
			k.Method, k.Path, k.Status, v)
	}

	b.WriteString("# HELP arbor_http_request_duration_ms_sum Total request duration in milliseconds\n")
	b.WriteString("# TYPE arbor_http_request_duration_ms_sum counter\n")
	b.WriteString("# HELP arbor_http_request_duration_ms_count Request count for latency metric\n")
	b.WriteString("# TYPE arbor_http_request_duration_ms_count counter\n")

	var latKeys []latKey
	for k := range latencyMsSum {
		latKeys = append(latKeys, k)
	}
	sort.Slice(latKeys, func(i, j int) bool {
		if latKeys[i].Method != latKeys[j].Method {
			return latKeys[i].Method < latKeys[j].Method
		}
		return latKeys[i].Path < latKeys[j].Path
	})

	for _, k := range latKeys {
		sum := latencyMsSum[k]
		cnt := latencyMsCount[k]
		fmt.Fprintf(&b, "arbor_http_request_duration_ms_sum{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, sum)
		fmt.Fprintf(&b, "arbor_http_request_duration_ms_count{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, cnt)
	}

	b.WriteString("# HELP arbor_links_requests_total Total links requests by mode and cache outcome\n")
	b.WriteString("# TYPE arbor_links_requests_total counter\n")

	var lKeys []linksKey
	for k := range linksRequestsTotal {
		lKeys = append(lKeys, k)
	}
	sort.Slice(lKeys, func(i, j int) bool {
		if lKeys[i].Mode != lKeys[j].Mode {
			return lKeys[i].Mode < lKeys[j].Mode
		}
		return lKeys[i].Cached < lKeys[j].Cached
	})

	for _, k := range lKeys {
		v := linksRequestsTotal[k]
		fmt.Fprintf(&b, "arbor_links_requests_total{mode=\"%s\",cached=\"%s\"} %d\n",
			k.Mode, k.Cached, v)
	}

	b.WriteString("# HELP arbor_scrapes_total Total page scrapes by outcome\n")
	b.WriteString("# TYPE arbor_scrapes_total counter\n")

	var outcomes []string
	for o := range scrapesTotal {
		outcomes = append(outcomes, o)
	}
	sort.Strings(outcomes)
	for _, o := range outcomes {
		fmt.Fprintf(&b, "arbor_scrapes_total{success=\"%s\"} %d\n", o, scrapesTotal[o])
	}

	return b.String()
}
