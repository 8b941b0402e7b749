package auth

import (
	"strings"

	"llmgate/internal/apierror"
	"llmgate/internal/models"
)

// Route classes. LLM routes are the inference surface; management routes
// mutate keys, teams and budgets; info routes are read-only management.
var (
	llmRoutePrefixes = []string{
		"/v1/chat/completions",
		"/v1/completions",
		"/v1/embeddings",
		"/chat/completions",
		"/completions",
		"/embeddings",
	}

	managementRoutePrefixes = []string{
		"/key/",
		"/team/",
		"/user/",
		"/customer/",
		"/budget/",
		"/model/",
	}

	infoRouteSuffixes = []string{
		"/info",
		"/list",
	}
)

// IsLLMRoute reports whether the path is an inference route.
func IsLLMRoute(path string) bool {
	for _, p := range llmRoutePrefixes {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// IsManagementRoute reports whether the path is a management route.
func IsManagementRoute(path string) bool {
	for _, p := range managementRoutePrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func isInfoRoute(path string) bool {
	for _, s := range infoRouteSuffixes {
		if strings.HasSuffix(path, s) {
			return true
		}
	}
	return false
}

// AuthorizeRoute checks whether a principal may call the given route at all.
// Budget and rate checks come later; this is pure role/route gating.
//
// Rules:
//   - master admin passes everything
//   - admin roles pass everything
//   - view-only roles may hit LLM routes and read-only management routes
//   - everyone else gets LLM routes plus read-only info routes; management
//     mutations are forbidden
func AuthorizeRoute(p *Principal, path string, uiSentinelTeamID string) *apierror.Error {
	if p.Kind == KindMasterAdmin || p.Role.IsAdmin() {
		return nil
	}

	// Keys minted for the dashboard sentinel team are UI session tokens,
	// never valid for inference.
	if p.Team != nil && p.Team.TeamID == uiSentinelTeamID && IsLLMRoute(path) {
		return apierror.New(apierror.KindRouteForbidden,
			"this key is a dashboard session token and cannot call LLM routes")
	}

	if IsLLMRoute(path) {
		return nil
	}

	if IsManagementRoute(path) {
		if isInfoRoute(path) {
			return nil
		}
		if p.Role.IsViewOnly() {
			return apierror.New(apierror.KindRouteForbidden,
				"role %s is view-only and cannot modify %s", p.Role, path)
		}
		if p.Role == models.RoleInternalUser || p.Role == models.RoleAppOwner {
			// Internal users may manage their own keys only.
			if strings.HasPrefix(path, "/key/") {
				return nil
			}
		}
		return apierror.New(apierror.KindRouteForbidden,
			"role %s is not allowed to call %s", p.Role, path)
	}

	return nil
}
