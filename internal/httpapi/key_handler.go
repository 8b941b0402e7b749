package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"llmgate/internal/apierror"
	"llmgate/internal/auth"
	"llmgate/internal/models"
	"llmgate/internal/storage"
)

type generateKeyRequest struct {
	KeyAlias       string            `json:"key_alias"`
	UserID         *string           `json:"user_id,omitempty"`
	TeamID         *string           `json:"team_id,omitempty"`
	OrgID          *string           `json:"org_id,omitempty"`
	BudgetID       *string           `json:"budget_id,omitempty"`
	AllowedModels  []string          `json:"models,omitempty"`
	ModelMaxBudget map[string]float64 `json:"model_max_budget,omitempty"`
	ModelAliases   map[string]string `json:"model_aliases,omitempty"`
	MaxBudget      *float64          `json:"max_budget,omitempty"`
	SoftBudget     *float64          `json:"soft_budget,omitempty"`
	BudgetDuration *string           `json:"budget_duration,omitempty"`
	TPMLimit       *int64            `json:"tpm_limit,omitempty"`
	RPMLimit       *int64            `json:"rpm_limit,omitempty"`
	Duration       *string           `json:"duration,omitempty"`
}

type generateKeyResponse struct {
	Key       string     `json:"key"`
	TokenHash string     `json:"token_hash"`
	KeyAlias  string     `json:"key_alias"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// handleKeyGenerate mints a new virtual key. The plaintext is returned once
// and never stored.
func (d *Dependencies) handleKeyGenerate(w http.ResponseWriter, r *http.Request) {
	principal, apiErr := d.authenticateManagement(w, r, http.MethodPost)
	if principal == nil {
		if apiErr != nil {
			writeAPIError(w, apiErr)
		}
		return
	}

	var req generateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, apierror.New(apierror.KindInvalidRequest, "invalid JSON body"))
		return
	}

	plaintext := auth.KeyPrefix + uuid.NewString()
	key := &models.VirtualKey{
		TokenHash:      auth.HashToken(plaintext),
		KeyAlias:       req.KeyAlias,
		UserID:         req.UserID,
		TeamID:         req.TeamID,
		OrgID:          req.OrgID,
		BudgetID:       req.BudgetID,
		AllowedModels:  req.AllowedModels,
		ModelMaxBudget: req.ModelMaxBudget,
		ModelAliases:   req.ModelAliases,
		MaxBudget:      req.MaxBudget,
		SoftBudget:     req.SoftBudget,
		BudgetDuration: req.BudgetDuration,
		TPMLimit:       req.TPMLimit,
		RPMLimit:       req.RPMLimit,
	}
	if req.BudgetDuration != nil {
		if dur, err := time.ParseDuration(*req.BudgetDuration); err == nil && dur > 0 {
			reset := time.Now().UTC().Add(dur)
			key.BudgetResetAt = &reset
		}
	}
	if req.Duration != nil {
		dur, err := time.ParseDuration(*req.Duration)
		if err != nil || dur <= 0 {
			writeAPIError(w, apierror.NewParam(apierror.KindInvalidRequest, "duration",
				"invalid key duration %q", *req.Duration))
			return
		}
		expires := time.Now().UTC().Add(dur)
		key.ExpiresAt = &expires
	}

	if err := d.Keys.Create(r.Context(), key); err != nil {
		d.Logger.Error("key creation failed", "alias", req.KeyAlias, "error", err)
		writeAPIError(w, apierror.Internal(err))
		return
	}

	writeJSON(w, http.StatusOK, generateKeyResponse{
		Key:       plaintext,
		TokenHash: key.TokenHash,
		KeyAlias:  key.KeyAlias,
		ExpiresAt: key.ExpiresAt,
	})
}

type deleteKeyRequest struct {
	Keys []string `json:"keys"`
}

// handleKeyDelete removes virtual keys and drops their cached principals.
func (d *Dependencies) handleKeyDelete(w http.ResponseWriter, r *http.Request) {
	principal, apiErr := d.authenticateManagement(w, r, http.MethodPost)
	if principal == nil {
		if apiErr != nil {
			writeAPIError(w, apiErr)
		}
		return
	}

	var req deleteKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, apierror.New(apierror.KindInvalidRequest, "invalid JSON body"))
		return
	}

	deleted := make([]string, 0, len(req.Keys))
	for _, k := range req.Keys {
		hash := k
		if len(k) > len(auth.KeyPrefix) && k[:len(auth.KeyPrefix)] == auth.KeyPrefix {
			hash = auth.HashToken(k)
		}
		if err := d.Keys.Delete(r.Context(), hash); err != nil {
			if errors.Is(err, storage.ErrKeyNotFound) {
				continue
			}
			writeAPIError(w, apierror.Internal(err))
			return
		}
		d.Auth.InvalidateKey(r.Context(), hash)
		deleted = append(deleted, hash)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted_keys": deleted})
}

// handleKeyInfo returns the stored record for the caller's own key.
func (d *Dependencies) handleKeyInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, apierror.New(apierror.KindInvalidRequest, "method not allowed"))
		return
	}
	principal, apiErr := d.Auth.Authenticate(r.Context(), r.URL.Path, r.Header.Get("Authorization"))
	if apiErr != nil {
		writeAPIError(w, apiErr)
		return
	}
	if principal.Key == nil {
		writeAPIError(w, apierror.New(apierror.KindInvalidRequest,
			"key info requires a virtual key credential"))
		return
	}
	writeJSON(w, http.StatusOK, principal.Key)
}

// authenticateManagement authenticates and enforces the method for a
// mutating management route.
func (d *Dependencies) authenticateManagement(w http.ResponseWriter, r *http.Request, method string) (*auth.Principal, *apierror.Error) {
	if r.Method != method {
		return nil, apierror.New(apierror.KindInvalidRequest, "method not allowed")
	}
	return d.Auth.Authenticate(r.Context(), r.URL.Path, r.Header.Get("Authorization"))
}
