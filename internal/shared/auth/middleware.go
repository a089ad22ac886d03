package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/aed-compliance/platform/internal/access"
	"github.com/aed-compliance/platform/internal/shared/config"
	"github.com/aed-compliance/platform/internal/shared/errors"
	"github.com/aed-compliance/platform/internal/shared/logger"
	"github.com/aed-compliance/platform/internal/shared/metrics"
	"github.com/aed-compliance/platform/internal/shared/middleware"
)

type contextKey string

const (
	UserContextKey contextKey = "user"
)

// User represents the authenticated user from JWT claims
type User struct {
	ID    string `json:"sub"`
	Email string `json:"email"`
}

// Claims extends JWT claims with the caller's email
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

// Middleware creates JWT authentication middleware. Tokens are HMAC signed;
// issuer and audience are checked when configured.
func Middleware(cfg config.AuthConfig) func(http.Handler) http.Handler {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	parser := jwt.NewParser(opts...)
	key := []byte(cfg.JWTSecret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				writeError(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}

			claims := &Claims{}
			token, err := parser.ParseWithClaims(parts[1], claims, func(*jwt.Token) (any, error) {
				return key, nil
			})
			if err != nil || !token.Valid {
				logger.From(r.Context()).Debug("token rejected", zap.Error(err))
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			if claims.Subject == "" {
				writeError(w, http.StatusUnauthorized, "invalid token claims")
				return
			}

			user := &User{ID: claims.Subject, Email: claims.Email}
			ctx := context.WithValue(r.Context(), UserContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUser extracts the user from request context
func GetUser(ctx context.Context) *User {
	user, ok := ctx.Value(UserContextKey).(*User)
	if !ok {
		return nil
	}
	return user
}

// Account is the stored profile of an authenticated user. Role is kept as
// the raw database value so unknown roles can be reported.
type Account struct {
	UserID            string
	Email             string
	OrganizationID    string
	Role              string
	RegionCode        string
	DistrictCode      string
	AssignedDeviceIDs []string
	Active            bool
}

// AccountLoader loads the account of a user. It returns an error matching
// errors.ErrNotFound when the user has no profile yet.
type AccountLoader interface {
	LoadAccount(ctx context.Context, userID string) (*Account, error)
}

// LoadPrincipal resolves the caller's access scope on every request and
// stores the resulting principal in the context. Users without a profile,
// inactive users and unknown roles get the most restrictive scope.
func LoadPrincipal(loader AccountLoader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := GetUser(r.Context())
			if user == nil {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			log := logger.From(r.Context())
			acct, err := loader.LoadAccount(r.Context(), user.ID)
			if err != nil && !errors.Is(err, errors.ErrNotFound) {
				log.Error("failed to load profile", zap.String("user_id", user.ID), zap.Error(err))
				writeError(w, http.StatusInternalServerError, "failed to load profile")
				return
			}
			if acct == nil {
				acct = &Account{UserID: user.ID, Email: user.Email, Role: string(access.RolePendingApproval)}
			}

			p := NewPrincipal(acct, log)
			if p.Email == "" {
				p.Email = user.Email
			}
			p.IP = middleware.ClientIP(r)

			ctx := access.WithPrincipal(r.Context(), p)
			ctx = logger.ToContext(ctx, log.With(zap.String("user_id", p.UserID), zap.String("role", p.Profile.Role.String())))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewPrincipal resolves the scope of a stored account.
func NewPrincipal(acct *Account, log *zap.Logger) *access.Principal {
	role, known := access.ParseRole(acct.Role)
	if !known {
		metrics.RecordUnknownRole()
		log.Warn("profile has unknown role",
			zap.String("user_id", acct.UserID),
			zap.String("role", acct.Role))
	}
	if !acct.Active {
		role = access.RolePendingApproval
	}

	profile := access.Profile{
		Role:              role,
		RegionCode:        acct.RegionCode,
		DistrictCode:      acct.DistrictCode,
		AssignedDeviceIDs: acct.AssignedDeviceIDs,
	}
	scope := access.ResolveAccessScope(profile)
	metrics.RecordScopeResolution(role.String(), string(access.RoleInfo(role).Jurisdiction))

	return &access.Principal{
		UserID:         acct.UserID,
		Email:          acct.Email,
		OrganizationID: acct.OrganizationID,
		Profile:        profile,
		Scope:          scope,
	}
}

// RequireRoles creates middleware that requires one of the given roles
func RequireRoles(roles ...access.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := access.PrincipalFrom(r.Context())
			if p == nil {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			if !hasAnyRole(p.Profile.Role, roles) {
				writeError(w, http.StatusForbidden, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func hasAnyRole(role access.Role, allowed []access.Role) bool {
	for _, a := range allowed {
		if role == a {
			return true
		}
	}
	return false
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
