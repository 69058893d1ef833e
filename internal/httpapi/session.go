package httpapi

import (
	"net"
	"net/http"
	"strings"

	"taskhive.org/internal/auth"
)

var publicPaths = []string{
	"/api/v1/auth/login/code",
	"/api/v1/auth/login",
	"/api/v1/auth/logout",
	"/api/v1/info",
	"/metrics",
	"/healthz",
	"/readyz",
	"/",
}

// withSession guards every non-public path: it extracts the session
// token from the cookie, verifies it, and stores the user identity in
// the request context. Verified sessions get a re-minted cookie so an
// active client never expires.
func (a *API) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		cookie, err := r.Cookie(a.cfg.CookieName)
		if err != nil || strings.TrimSpace(cookie.Value) == "" {
			writeError(w, r, http.StatusForbidden, "authentication required")
			return
		}

		userID, err := a.codec.Verify(cookie.Value)
		if err != nil {
			writeError(w, r, http.StatusForbidden, "invalid session")
			return
		}

		// Sliding expiry: cookie headers must be queued before the
		// handler writes the response.
		if token, err := a.codec.Mint(userID, a.cfg.SessionTTL); err == nil {
			a.setSessionCookie(w, r, token)
		}

		ctx := auth.ContextWithUser(r.Context(), userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

func (a *API) setSessionCookie(w http.ResponseWriter, r *http.Request, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cfg.CookieName,
		Value:    token,
		Path:     "/",
		Domain:   cookieDomain(r),
		MaxAge:   int(a.cfg.SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   !a.cfg.Debug,
		SameSite: http.SameSiteStrictMode,
	})
}

func (a *API) clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cfg.CookieName,
		Value:    "",
		Path:     "/",
		Domain:   cookieDomain(r),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   !a.cfg.Debug,
		SameSite: http.SameSiteStrictMode,
	})
}

// cookieDomain derives the registrable domain from the proxy-supplied
// host so the cookie survives subdomain hops. Bare hosts and addresses
// fall back to a host-only cookie.
func cookieDomain(r *http.Request) string {
	host := strings.TrimSpace(r.Header.Get("X-Forwarded-Host"))
	if host == "" {
		return ""
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if net.ParseIP(host) != nil {
		return ""
	}
	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return ""
	}
	return strings.Join(labels[len(labels)-2:], ".")
}
