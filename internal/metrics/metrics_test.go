package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"packrip/internal/trade"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveTrade(t *testing.T) {
	before := testutil.ToFloat64(TradeOpsTotal.WithLabelValues("accept", "conflict"))
	ObserveTrade("accept", trade.ErrOwnershipChanged)
	if got := testutil.ToFloat64(TradeOpsTotal.WithLabelValues("accept", "conflict")); got != before+1 {
		t.Fatalf("conflict counter=%v want %v", got, before+1)
	}

	ok := testutil.ToFloat64(TradeOpsTotal.WithLabelValues("propose", "ok"))
	ObserveTrade("propose", nil)
	if got := testutil.ToFloat64(TradeOpsTotal.WithLabelValues("propose", "ok")); got != ok+1 {
		t.Fatalf("ok counter=%v", got)
	}

	unknown := testutil.ToFloat64(TradeOpsTotal.WithLabelValues("list", "unknown"))
	ObserveTrade("list", context.Canceled)
	if got := testutil.ToFloat64(TradeOpsTotal.WithLabelValues("list", "unknown")); got != unknown+1 {
		t.Fatalf("unknown counter=%v", got)
	}
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/trades/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/v1/trades/{id}", "404"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/trades/abc", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d", rec.Code)
	}
	if got := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/v1/trades/{id}", "404")); got != before+1 {
		t.Fatalf("request counter=%v want %v", got, before+1)
	}
}
