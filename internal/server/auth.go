package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"

	"guardline/internal/engine/access"
	"guardline/internal/repo"
)

type AuthConfig struct {
	JWTSecret              string
	AllowLegacyActorHeader bool
	Logger                 *log.Logger
}

func (c AuthConfig) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

type principalKey struct{}

func withActor(ctx context.Context, a access.Actor) context.Context {
	return context.WithValue(ctx, principalKey{}, a)
}

func actorFromContext(ctx context.Context) (access.Actor, huma.StatusError) {
	if a, ok := ctx.Value(principalKey{}).(access.Actor); ok && a.Email != "" {
		return a, nil
	}
	return access.Actor{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

type jwtClaims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tenant,omitempty"`
	Role     string `json:"role,omitempty"`
}

func authenticateJWT(token, secret string) (access.Actor, error) {
	if strings.TrimSpace(secret) == "" {
		return access.Actor{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwtClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return access.Actor{}, err
	}
	if !parsed.Valid {
		return access.Actor{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return access.Actor{}, errors.New("subject claim required")
	}
	role := claims.Role
	if role == "" {
		role = access.RoleViewer
	}
	return access.Actor{Email: claims.Subject, TenantID: claims.TenantID, Role: role}, nil
}

func authenticateAPIKey(ctx context.Context, r repo.Repo, svc access.Service, key string) (access.Actor, error) {
	if strings.TrimSpace(key) == "" {
		return access.Actor{}, errors.New("api key required")
	}
	apiKey, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey(key))
	if err != nil {
		return access.Actor{}, err
	}
	return svc.ResolveByEmail(ctx, apiKey.ActorEmail)
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": apiErrorBody{Code: "unauthorized", Message: message},
	})
}

func newAuthMiddleware(basePath string, cfg AuthConfig, r repo.Repo, svc access.Service) func(http.Handler) http.Handler {
	open := map[string]struct{}{
		path.Join(basePath, "health"):  {},
		path.Join(basePath, "openapi"): {},
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if _, ok := open[strings.TrimSuffix(req.URL.Path, "/")]; ok {
				next.ServeHTTP(w, req)
				return
			}
			if token, ok := bearerToken(req.Header.Get("Authorization")); ok {
				actor, err := authenticateJWT(token, cfg.JWTSecret)
				if err != nil {
					cfg.logger().Printf("jwt auth failed: %v", err)
					writeUnauthorized(w, "invalid bearer token")
					return
				}
				next.ServeHTTP(w, req.WithContext(withActor(req.Context(), actor)))
				return
			}
			if key := req.Header.Get("X-API-Key"); key != "" {
				actor, err := authenticateAPIKey(req.Context(), r, svc, key)
				if err != nil {
					cfg.logger().Printf("api key auth failed: %v", err)
					writeUnauthorized(w, "invalid api key")
					return
				}
				next.ServeHTTP(w, req.WithContext(withActor(req.Context(), actor)))
				return
			}
			if cfg.AllowLegacyActorHeader {
				email := req.Header.Get("X-Actor-Email")
				tenant := req.Header.Get("X-Tenant-ID")
				if email != "" && tenant != "" {
					actor, err := svc.Resolve(req.Context(), email, tenant)
					if err != nil {
						writeUnauthorized(w, "unknown actor")
						return
					}
					next.ServeHTTP(w, req.WithContext(withActor(req.Context(), actor)))
					return
				}
			}
			writeUnauthorized(w, "authentication required")
		})
	}
}
