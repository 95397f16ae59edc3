package middleware

import (
	"crypto/hmac"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// PasswordOK reports whether r carries password as ?password=, an
// "Authorization: Bearer" header (prefix case-insensitive) or X-Auth-Token.
// An empty password accepts every request.
func PasswordOK(r *http.Request, password string) bool {
	if password == "" {
		return true
	}
	if r == nil {
		return false
	}
	if q := r.URL.Query().Get("password"); q != "" && equal(q, password) {
		return true
	}
	ah := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(ah), "bearer ") {
		if equal(strings.TrimSpace(ah[len("Bearer "):]), password) {
			return true
		}
	}
	if x := r.Header.Get("X-Auth-Token"); x != "" && equal(x, password) {
		return true
	}
	return false
}

func equal(a, b string) bool { return hmac.Equal([]byte(a), []byte(b)) }

// PasswordAuth rejects requests without the shared password. Paths listed in
// skip are passed through untouched.
func PasswordAuth(getPassword func() string, skip ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Request().URL.Path
			for _, s := range skip {
				if path == s {
					return next(c)
				}
			}
			if !PasswordOK(c.Request(), getPassword()) {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			}
			return next(c)
		}
	}
}
