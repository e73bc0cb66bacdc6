package runtime

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/chatplan/config"
)

// AnonymousSubject is the caller identity used when anonymous access is on
// and the request carries no token.
const AnonymousSubject = "anonymous"

// LoadJWTSecret resolves the shared JWT secret from config. An empty secret
// is only accepted when anonymous access is enabled.
func LoadJWTSecret(cfg *config.Config) ([]byte, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if cfg.Server.JWTSecret != "" {
		return []byte(cfg.Server.JWTSecret), nil
	}
	if cfg.Server.AllowAnonymous {
		return nil, nil
	}
	return nil, errors.New("jwt secret not configured (server.jwt_secret)")
}

// EchoAuthMiddleware builds an Echo middleware that validates HS256 tokens
// from the Authorization header or the auth cookie. With allowAnonymous a
// request without a token proceeds as AnonymousSubject; a token that is
// present must still be valid.
func EchoAuthMiddleware(secret []byte, allowAnonymous bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tok := extractToken(c)
			if tok == "" {
				if allowAnonymous {
					return next(withSubject(c, AnonymousSubject))
				}
				return echo.NewHTTPError(http.StatusUnauthorized, "missing token")
			}
			if len(secret) == 0 {
				return echo.NewHTTPError(http.StatusUnauthorized, "token verification not configured")
			}
			parsed, err := jwt.Parse(tok, func(t *jwt.Token) (interface{}, error) { return secret, nil },
				jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil || !parsed.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			sub, err := parsed.Claims.GetSubject()
			if err != nil || strings.TrimSpace(sub) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
			}
			return next(withSubject(c, sub))
		}
	}
}

func withSubject(c echo.Context, sub string) echo.Context {
	c.Set("user_id", sub)
	c.SetRequest(c.Request().WithContext(ContextWithSubject(c.Request().Context(), sub)))
	return c
}

func extractToken(c echo.Context) string {
	if h := c.Request().Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	if ck, err := c.Cookie("auth"); err == nil {
		return ck.Value
	}
	return ""
}

// ContextWithSubject stores the caller subject on ctx.
func ContextWithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey{}, subject)
}

type subjectKey struct{}

// SubjectFromContext returns the JWT subject if stored in context via middleware.
func SubjectFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if v := ctx.Value(subjectKey{}); v != nil {
		if s, ok := v.(string); ok {
			return s, true
		}
	}
	return "", false
}
