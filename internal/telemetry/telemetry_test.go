package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMetricsHandlerExposesCollectors(t *testing.T) {
	m := NewMetrics()
	m.Connections.WithLabelValues("chat").Inc()
	m.GateRejections.WithLabelValues("invalid_credential").Inc()
	m.MessagesIngested.Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	for _, name := range []string{
		`chat_live_connections{namespace="chat"} 1`,
		`chat_gate_rejections_total{reason="invalid_credential"} 1`,
		"chat_messages_ingested_total 1",
	} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metrics output missing %q", name)
		}
	}
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), "", "chat-back", 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("no-op shutdown returned %v", err)
	}
}
