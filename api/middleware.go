package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/jmcleod/totpauth/cookie"
	"github.com/jmcleod/totpauth/ratelimit"
)

// clearedTokenValue replaces the token on logout.
const clearedTokenValue = "null"

func sessionCookie(token string, expiresAt time.Time, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     cookie.Name,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  expiresAt,
	}
}

func clearedSessionCookie(secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     cookie.Name,
		Value:    clearedTokenValue,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	}
}

// requestIsSecure reports whether the client reached us over TLS. Forwarded
// protocol headers count only from a trusted proxy.
func (a *API) requestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	peer, _ := ratelimit.ParseAddr(r.RemoteAddr)
	if !trusted(peer, a.trustedProxies) {
		return false
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Forwarded")), "proto=https")
}

// SecurityHeaders sets standard security response headers on every
// response.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "same-origin")
		w.Header().Set("Content-Security-Policy",
			"default-src 'none'; style-src 'unsafe-inline'; form-action 'self'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}
