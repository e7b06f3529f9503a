package metrics

import (
	"strings"
	"testing"
)

func TestExportContainsRecordedMetrics(t *testing.T) {
	RecordRequest("POST", "/v1/links", 200, 42)
	RecordLinksRequest("tree", false)
	RecordLinksRequest("non-tree", true)
	RecordScrape(true)
	RecordScrape(false)

	out := Export()

	for _, want := range []string{
		`arbor_http_requests_total{method="POST",path="/v1/links",status="200"}`,
		`arbor_http_request_duration_ms_sum{method="POST",path="/v1/links"}`,
		`arbor_links_requests_total{mode="tree",cached="false"}`,
		`arbor_links_requests_total{mode="non-tree",cached="true"}`,
		`arbor_scrapes_total{success="true"}`,
		`arbor_scrapes_total{success="false"}`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("export missing %q:\n%s", want, out)
		}
	}
}

func TestExportIsStable(t *testing.T) {
	RecordRequest("GET", "/healthz", 200, 1)
	a := Export()
	b := Export()
	if a != b {
		t.Fatalf("export output not stable across calls")
	}
}
