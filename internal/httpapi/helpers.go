package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"llmgate/internal/apierror"
)

type errorEnvelope struct {
	Error *apierror.Error `json:"error"`
}

// writeAPIError renders a structured rejection with its mapped status code.
func writeAPIError(w http.ResponseWriter, apiErr *apierror.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.StatusCode())
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: apiErr})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newRequestID() string {
	return uuid.NewString()
}

// sanitizedHeaders copies request headers with the Authorization header
// stripped, for attribution metadata handed to the provider adapter.
func sanitizedHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if http.CanonicalHeaderKey(k) == "Authorization" {
			continue
		}
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

// estimateTokens is the pre-call token estimate used for TPM limiting: a
// rough bytes/4 heuristic, reconciled by real usage counts after the call.
func estimateTokens(payloadBytes int) int64 {
	est := int64(payloadBytes / 4)
	if est < 1 {
		est = 1
	}
	return est
}
