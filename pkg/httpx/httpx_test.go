package httpx

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteErrorEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, 404, CodeNotFound, "order not found", nil)

	if rec.Code != 404 {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if resp.Error.Code != CodeNotFound || resp.Error.Message != "order not found" {
		t.Fatalf("envelope = %+v", resp)
	}
	if !strings.HasPrefix(resp.RequestID, "req_") {
		t.Fatalf("request id %q", resp.RequestID)
	}
	if rec.Header().Get("X-Request-Id") != resp.RequestID {
		t.Fatalf("header request id %q, body %q", rec.Header().Get("X-Request-Id"), resp.RequestID)
	}
}

func TestReadJSONRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"amount":1,"amuont":2}`))
	var dst struct {
		Amount uint64 `json:"amount"`
	}
	if err := ReadJSON(req, &dst); err == nil {
		t.Fatal("unknown field accepted")
	}
}
