package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"llmgate/internal/apierror"
)

func TestWriteAPIErrorEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	writeAPIError(rec, apierror.NewBudgetExceeded(apierror.ScopeKey, 10.5, 10.0))

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var envelope struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
			Param   string `json:"param"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Error.Type != "budget_exceeded" {
		t.Errorf("type = %q, want budget_exceeded", envelope.Error.Type)
	}
	if envelope.Error.Param != "key" {
		t.Errorf("param = %q, want key", envelope.Error.Param)
	}
}

func TestSanitizedHeadersStripsAuthorization(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer sk-secret")
	h.Set("Content-Type", "application/json")
	h.Set("X-Request-Source", "ci")

	out := sanitizedHeaders(h)
	if _, ok := out["Authorization"]; ok {
		t.Fatal("Authorization must never reach attribution metadata")
	}
	if out["Content-Type"] != "application/json" || out["X-Request-Source"] != "ci" {
		t.Errorf("other headers should survive: %v", out)
	}
}

func TestSanitizedHeadersCaseInsensitive(t *testing.T) {
	h := http.Header{"authorization": {"Bearer sk-secret"}}

	out := sanitizedHeaders(h)
	if _, ok := out["authorization"]; ok {
		t.Fatal("lowercased Authorization must also be stripped")
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		bytes int
		want  int64
	}{
		{0, 1},
		{3, 1},
		{4, 1},
		{400, 100},
		{4001, 1000},
	}
	for _, tt := range tests {
		if got := estimateTokens(tt.bytes); got != tt.want {
			t.Errorf("estimateTokens(%d) = %d, want %d", tt.bytes, got, tt.want)
		}
	}
}

func TestNewRequestIDUnique(t *testing.T) {
	if newRequestID() == newRequestID() {
		t.Error("request ids must be unique")
	}
}
