package apierror

import (
	"fmt"
	"net/http"
)

// Kind is the stable error type string surfaced to clients. Credential,
// authorization and budget kinds are routine outcomes, not server faults.
type Kind string

const (
	KindInvalidToken       Kind = "invalid_token"
	KindExpiredKey         Kind = "expired_key"
	KindBlocked            Kind = "blocked"
	KindModelAccessDenied  Kind = "model_access_denied"
	KindRouteForbidden     Kind = "route_forbidden"
	KindBudgetExceeded     Kind = "budget_exceeded"
	KindRateLimited        Kind = "rate_limited"
	KindInvalidModelName   Kind = "invalid_model_name"
	KindNoHealthyDeploy    Kind = "no_healthy_deployment"
	KindFallbacksExhausted Kind = "fallbacks_exhausted"
	KindInvalidRequest     Kind = "invalid_request"
	KindClientDisconnected Kind = "client_disconnected"
	KindInternal           Kind = "internal_error"
)

// BudgetScope qualifies which accounting dimension tripped a budget rejection.
type BudgetScope string

const (
	ScopeKey        BudgetScope = "key"
	ScopeKeyModel   BudgetScope = "key_model"
	ScopeUser       BudgetScope = "user"
	ScopeTeam       BudgetScope = "team"
	ScopeTeamMember BudgetScope = "team_member"
	ScopeOrg        BudgetScope = "org"
	ScopeEndUser    BudgetScope = "end_user"
	ScopeGlobal     BudgetScope = "global"
)

// Error is a structured, client-facing rejection.
type Error struct {
	Type    Kind   `json:"type"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// StatusCode maps the error kind to the HTTP status surfaced to the caller.
// Budget, rate-limit and capacity failures deliberately share 429 so client
// backoff logic is uniform.
func (e *Error) StatusCode() int {
	switch e.Type {
	case KindInvalidToken, KindExpiredKey:
		return http.StatusUnauthorized
	case KindBlocked, KindModelAccessDenied, KindRouteForbidden:
		return http.StatusForbidden
	case KindBudgetExceeded, KindRateLimited, KindNoHealthyDeploy, KindFallbacksExhausted:
		return http.StatusTooManyRequests
	case KindInvalidModelName, KindInvalidRequest:
		return http.StatusBadRequest
	case KindClientDisconnected:
		return 499
	default:
		return http.StatusInternalServerError
	}
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Type: kind, Message: fmt.Sprintf(format, args...)}
}

func NewParam(kind Kind, param, format string, args ...any) *Error {
	return &Error{Type: kind, Message: fmt.Sprintf(format, args...), Param: param}
}

// NewBudgetExceeded builds a budget rejection carrying the current spend and
// the limit, so client tooling can render actionable feedback.
func NewBudgetExceeded(scope BudgetScope, spend, maxBudget float64) *Error {
	return &Error{
		Type:    KindBudgetExceeded,
		Message: fmt.Sprintf("%s budget exceeded: spend=%.6f max_budget=%.6f", scope, spend, maxBudget),
		Param:   string(scope),
	}
}

func Internal(err error) *Error {
	return &Error{Type: KindInternal, Message: err.Error()}
}
