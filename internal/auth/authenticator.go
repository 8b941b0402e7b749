package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"llmgate/internal/apierror"
	"llmgate/internal/cache"
	"llmgate/internal/models"
	"llmgate/internal/storage"
	"llmgate/internal/utils"
)

// Config holds authenticator settings
type Config struct {
	MasterKey        string
	JWTSecret        []byte
	JWTEnabled       bool
	PublicRoutes     []string
	UISentinelTeamID string
	CacheTTL         time.Duration
}

// Authenticator resolves bearer credentials into hydrated principals. The
// whole principal bundle (key + user + team + membership + org + budget) is
// cached as one unit, so a warm request costs zero store reads.
type Authenticator struct {
	cfg    Config
	cache  *cache.HybridCache
	jwt    *JWTValidator
	logger *utils.Logger

	keys     *storage.KeyRepository
	users    *storage.UserRepository
	teams    *storage.TeamRepository
	orgs     *storage.OrgRepository
	endUsers *storage.EndUserRepository
	budgets  *storage.BudgetRepository
}

// NewAuthenticator creates an authenticator backed by the given store and cache
func NewAuthenticator(cfg Config, db *storage.DB, c *cache.HybridCache) *Authenticator {
	return &Authenticator{
		cfg:      cfg,
		cache:    c,
		jwt:      NewJWTValidator(cfg.JWTSecret),
		logger:   utils.NewLogger("auth"),
		keys:     db.NewKeyRepository(),
		users:    db.NewUserRepository(),
		teams:    db.NewTeamRepository(),
		orgs:     db.NewOrgRepository(),
		endUsers: db.NewEndUserRepository(),
		budgets:  db.NewBudgetRepository(),
	}
}

// IsPublicRoute reports whether the path is served without credentials.
func (a *Authenticator) IsPublicRoute(path string) bool {
	for _, p := range a.cfg.PublicRoutes {
		if path == p {
			return true
		}
	}
	return false
}

// Authenticate resolves the Authorization header into a principal and checks
// it may call the route. Public routes yield a synthetic read-only principal
// so downstream stages never see a nil identity.
func (a *Authenticator) Authenticate(ctx context.Context, path, authorization string) (*Principal, *apierror.Error) {
	if a.IsPublicRoute(path) {
		// The synthetic principal is view-only, so marking a mutating
		// management route public still cannot open it up.
		p := &Principal{Kind: KindPublic, Role: models.RoleInternalUserViewOnly}
		if apiErr := AuthorizeRoute(p, path, a.cfg.UISentinelTeamID); apiErr != nil {
			return nil, apiErr
		}
		return p, nil
	}

	if authorization == "" {
		return nil, apierror.New(apierror.KindInvalidToken, "missing Authorization header")
	}
	if !strings.HasPrefix(authorization, "Bearer ") {
		return nil, apierror.New(apierror.KindInvalidToken, "Authorization header must use the Bearer scheme")
	}
	token := strings.TrimSpace(strings.TrimPrefix(authorization, "Bearer "))
	if token == "" {
		return nil, apierror.New(apierror.KindInvalidToken, "missing Authorization header")
	}

	var (
		principal *Principal
		apiErr    *apierror.Error
	)
	switch {
	case a.isMasterKey(token):
		principal = &Principal{Kind: KindMasterAdmin, Role: models.RoleProxyAdmin}
	case a.cfg.JWTEnabled && LooksLikeJWT(token):
		principal, apiErr = a.authenticateJWT(ctx, token)
	default:
		principal, apiErr = a.authenticateVirtualKey(ctx, token)
	}
	if apiErr != nil {
		return nil, apiErr
	}

	if apiErr := AuthorizeRoute(principal, path, a.cfg.UISentinelTeamID); apiErr != nil {
		return nil, apiErr
	}
	return principal, nil
}

func (a *Authenticator) isMasterKey(token string) bool {
	if a.cfg.MasterKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(a.cfg.MasterKey)) == 1
}

func (a *Authenticator) authenticateJWT(ctx context.Context, token string) (*Principal, *apierror.Error) {
	claims, err := a.jwt.Validate(token)
	if err != nil {
		return nil, apierror.New(apierror.KindInvalidToken, "invalid JWT: %v", err)
	}

	role := models.UserRole(claims.Role)
	if role == "" {
		role = models.RoleInternalUser
	}
	p := &Principal{Kind: KindJWT, Role: role}

	// Hydration is best effort: a claim naming an unknown entity still
	// authenticates, it just carries no budget state to enforce against.
	if claims.UserID != "" {
		if user, err := a.users.GetByID(ctx, claims.UserID); err == nil {
			p.User = user
			if role == models.RoleInternalUser && user.UserRole != "" {
				p.Role = user.UserRole
			}
		}
	}
	if claims.TeamID != "" {
		if team, err := a.teams.GetByID(ctx, claims.TeamID); err == nil {
			p.Team = team
		}
	}
	if claims.OrgID != "" {
		if org, err := a.orgs.GetByID(ctx, claims.OrgID); err == nil {
			p.Org = org
		}
	}
	return p, nil
}

func (a *Authenticator) authenticateVirtualKey(ctx context.Context, token string) (*Principal, *apierror.Error) {
	hash := HashToken(token)
	cacheKey := "auth:" + hash

	var cached Principal
	if a.cache.Get(ctx, cacheKey, &cached) {
		if apiErr := a.checkKeyValidity(cached.Key); apiErr != nil {
			return nil, apiErr
		}
		return &cached, nil
	}

	key, err := a.keys.GetByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, apierror.New(apierror.KindInvalidToken, "invalid API key")
		}
		// Store failure on an auth decision fails closed.
		a.logger.Error("key lookup failed", "error", err)
		return nil, apierror.Internal(err)
	}
	if apiErr := a.checkKeyValidity(key); apiErr != nil {
		return nil, apiErr
	}

	p := a.hydrate(ctx, key)
	a.cache.Set(ctx, cacheKey, p, a.cfg.CacheTTL)
	return p, nil
}

func (a *Authenticator) checkKeyValidity(key *models.VirtualKey) *apierror.Error {
	if key == nil {
		return apierror.New(apierror.KindInvalidToken, "invalid API key")
	}
	if key.IsExpired(time.Now()) {
		return apierror.New(apierror.KindExpiredKey, "key expired at %s", key.ExpiresAt.UTC().Format(time.RFC3339))
	}
	return nil
}

// hydrate loads every entity the key attributes spend to. Lookups that miss
// are tolerated; a dangling reference just means that dimension has no
// budget to enforce.
func (a *Authenticator) hydrate(ctx context.Context, key *models.VirtualKey) *Principal {
	p := &Principal{Kind: KindVirtualKey, Role: models.RoleInternalUser, Key: key}

	if key.UserID != nil {
		if user, err := a.users.GetByID(ctx, *key.UserID); err == nil {
			p.User = user
			if user.UserRole != "" {
				p.Role = user.UserRole
			}
		} else if !errors.Is(err, storage.ErrUserNotFound) {
			a.logger.Warn("user hydration failed", "user_id", *key.UserID, "error", err)
		}
	}
	if key.TeamID != nil {
		if team, err := a.teams.GetByID(ctx, *key.TeamID); err == nil {
			p.Team = team
		} else if !errors.Is(err, storage.ErrTeamNotFound) {
			a.logger.Warn("team hydration failed", "team_id", *key.TeamID, "error", err)
		}
		if key.UserID != nil {
			if m, err := a.teams.GetMembership(ctx, *key.TeamID, *key.UserID); err == nil {
				p.Membership = m
			}
		}
	}
	if key.OrgID != nil {
		if org, err := a.orgs.GetByID(ctx, *key.OrgID); err == nil {
			p.Org = org
		} else if !errors.Is(err, storage.ErrOrgNotFound) {
			a.logger.Warn("org hydration failed", "org_id", *key.OrgID, "error", err)
		}
	}
	if key.BudgetID != nil {
		if b, err := a.budgets.GetByID(ctx, *key.BudgetID); err == nil {
			p.Budget = b
		}
	}
	return p
}

// ResolveEndUser loads the end user named in the request payload, cache
// first. An unknown end user is not an error: it is auto-created by the
// spend flush on first sight, so enforcement treats it as unbudgeted.
func (a *Authenticator) ResolveEndUser(ctx context.Context, endUserID string) (*models.EndUser, error) {
	if endUserID == "" {
		return nil, nil
	}
	cacheKey := "enduser:" + endUserID

	var cached models.EndUser
	if a.cache.Get(ctx, cacheKey, &cached) {
		return &cached, nil
	}

	eu, err := a.endUsers.GetByID(ctx, endUserID)
	if err != nil {
		if errors.Is(err, storage.ErrEndUserNotFound) {
			return nil, nil
		}
		return nil, err
	}
	a.cache.Set(ctx, cacheKey, eu, a.cfg.CacheTTL)
	return eu, nil
}

// InvalidateKey drops the cached principal bundle for a token hash. Called
// on key mutation so the next request re-reads the store.
func (a *Authenticator) InvalidateKey(ctx context.Context, tokenHash string) {
	a.cache.Delete(ctx, "auth:"+tokenHash)
}
