package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerExposesCollectors(t *testing.T) {
	ObserveHTTPRequest("/health", "GET", 200, 15*time.Millisecond)
	ObservePriceLookup("coingecko", "ok")
	ObserveIntent("transfer", "created")
	ObserveSettlement("ok")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	for _, want := range []string{
		`nara_http_requests_total{code="200",handler="/health",method="GET"}`,
		`nara_pricing_lookups_total{outcome="ok",source="coingecko"}`,
		`nara_intent_transitions_total{kind="transfer",outcome="created"}`,
		`nara_settlement_webhooks_total{status="ok"}`,
		`nara_http_request_duration_seconds_bucket`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
