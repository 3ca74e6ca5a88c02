package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/hanko-field/fulfillment/internal/platform/requestctx"
)

func TestWriteErrorIncludesContextIdentifiers(t *testing.T) {
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-1")
	ctx = requestctx.WithTrace(ctx, requestctx.TraceInfo{TraceID: "trace-1"})

	rec := httptest.NewRecorder()
	WriteError(ctx, rec, NewError("order_conflict", "order was modified\nconcurrently", http.StatusConflict).
		WithDetails(map[string]any{"orderId": "ord_1"}))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "order_conflict" || body["message"] != "order was modified concurrently" {
		t.Fatalf("unexpected envelope %v", body)
	}
	if body["request_id"] != "req-1" || body["trace_id"] != "trace-1" || body["orderId"] != "ord_1" {
		t.Fatalf("missing identifiers %v", body)
	}
}

func TestWriteErrorDetailsCannotOverrideEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(context.Background(), rec, NewError("invalid_request", "bad", http.StatusBadRequest).
		WithDetails(map[string]any{"error": "spoofed"}))

	var body map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["error"] != "invalid_request" {
		t.Fatalf("expected envelope code to win, got %v", body["error"])
	}
}
