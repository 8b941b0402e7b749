package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"llmgate/internal/apierror"
	"llmgate/internal/auth"
	"llmgate/internal/budget"
	"llmgate/internal/models"
	"llmgate/internal/router"
)

// handleCompletions serves the OpenAI-compatible inference routes.
//
// Flow: authenticate → resolve model and end user → enforce budgets and
// limits → attach attribution metadata → route with fallback → account the
// completed call. Accounting runs even when the client disconnects mid-call.
func (d *Dependencies) handleCompletions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := newRequestID()

	if r.Method != http.MethodPost {
		writeAPIError(w, apierror.New(apierror.KindInvalidRequest, "method not allowed"))
		return
	}

	ctx := r.Context()

	principal, apiErr := d.Auth.Authenticate(ctx, r.URL.Path, r.Header.Get("Authorization"))
	if apiErr != nil {
		writeAPIError(w, apiErr)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeAPIError(w, apierror.New(apierror.KindInvalidRequest, "failed to read request body"))
		return
	}
	var payload map[string]interface{}
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&payload); err != nil {
		writeAPIError(w, apierror.New(apierror.KindInvalidRequest, "invalid JSON body"))
		return
	}

	modelName, _ := payload["model"].(string)
	endUserID, _ := payload["user"].(string)
	stream, _ := payload["stream"].(bool)

	resolvedModel := d.Router.ResolveModel(principal, modelName)
	if endUserID == "" && resolvedModel == "" {
		writeAPIError(w, apierror.NewParam(apierror.KindInvalidRequest, "model", "model is required"))
		return
	}

	endUser, err := d.Auth.ResolveEndUser(ctx, endUserID)
	if err != nil {
		d.Logger.Warn("end user lookup failed, treating as unbudgeted",
			"end_user_id", endUserID, "error", err)
	}
	if endUser != nil && resolvedModel == "" && endUser.DefaultModel != nil {
		resolvedModel = *endUser.DefaultModel
	}

	enforceReq := budget.Request{
		Model:           resolvedModel,
		EndUser:         endUser,
		EstimatedTokens: estimateTokens(len(body)),
	}
	if principal.Key != nil {
		enforceReq.AccessGroupGrant = d.Router.Catalog().GrantsModel(principal.Key.AllowedModels, resolvedModel)
	}
	if apiErr := d.Enforcer.Evaluate(ctx, principal, enforceReq); apiErr != nil {
		writeAPIError(w, apiErr)
		return
	}

	attr := principal.Attribution(r.URL.Path)
	if endUserID != "" {
		attr.EndUserID = &endUserID
	}
	payload["metadata"] = attributionMetadata(attr, r)

	result, apiErr := d.Router.Route(ctx, principal, &router.Request{
		Model:   resolvedModel,
		Payload: payload,
		Stream:  stream,
	})
	if apiErr != nil {
		// A disconnect mid-dispatch still produces an accounting record for
		// whatever was incurred; nobody is reading the response.
		if apiErr.Type == apierror.KindClientDisconnected {
			d.account(principal, attr, requestID, r.URL.Path, resolvedModel, "", nil, start, "client_disconnected")
			return
		}
		// Failed calls get their immutable log record too, at zero cost.
		d.account(principal, attr, requestID, r.URL.Path, resolvedModel, "", nil, start, string(apiErr.Type))
		writeAPIError(w, apiErr)
		return
	}

	d.account(principal, attr, requestID, r.URL.Path, resolvedModel,
		result.Deployment.ID, result, start, "success")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.Response.StatusCode)
	_, _ = w.Write(result.Response.Body)
}

// account records spend and the observability log for one finished call.
// Uses a fresh context: the request context may already be cancelled.
func (d *Dependencies) account(p *auth.Principal, attr models.Attribution, requestID, callType, model, deploymentID string, result *router.Result, start time.Time, status string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var cost float64
	var promptTokens, completionTokens int
	if result != nil {
		promptTokens = result.Response.PromptTokens
		completionTokens = result.Response.CompletionTokens
		cost = result.Response.Cost
		if cost == 0 {
			cost = result.Deployment.Cost(promptTokens, completionTokens)
		}
	}

	var priorKeySpend, priorUserSpend float64
	if p.Key != nil {
		priorKeySpend = p.Key.Spend
	}
	if p.User != nil {
		priorUserSpend = p.User.Spend
	}
	d.SpendWriter.Record(ctx, attr, model, cost, priorKeySpend, priorUserSpend)

	log := models.SpendLog{
		RequestID:        requestID,
		CallType:         callType,
		TokenHash:        attr.TokenHash,
		UserID:           attr.UserID,
		TeamID:           attr.TeamID,
		OrgID:            attr.OrgID,
		EndUserID:        attr.EndUserID,
		Model:            model,
		DeploymentID:     deploymentID,
		Spend:            cost,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
		StartTime:        start.UTC(),
		EndTime:          time.Now().UTC(),
		Status:           status,
	}
	d.LogWriter.Enqueue(ctx, log)
}

func attributionMetadata(attr models.Attribution, r *http.Request) map[string]interface{} {
	meta := map[string]interface{}{
		"user_api_key":       attr.TokenHash,
		"user_api_key_alias": attr.KeyAlias,
		"endpoint":           r.URL.Path,
		"headers":            sanitizedHeaders(r.Header),
	}
	if attr.UserID != nil {
		meta["user_api_key_user_id"] = *attr.UserID
	}
	if attr.TeamID != nil {
		meta["user_api_key_team_id"] = *attr.TeamID
	}
	if attr.OrgID != nil {
		meta["user_api_key_org_id"] = *attr.OrgID
	}
	if attr.EndUserID != nil {
		meta["end_user_id"] = *attr.EndUserID
	}
	return meta
}

// handleModels lists the configured model groups. Public route.
func (d *Dependencies) handleModels(w http.ResponseWriter, r *http.Request) {
	names := d.Router.Catalog().ModelNames()
	data := make([]map[string]interface{}, 0, len(names))
	for _, name := range names {
		data = append(data, map[string]interface{}{
			"id":     name,
			"object": "model",
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"object": "list",
		"data":   data,
	})
}
