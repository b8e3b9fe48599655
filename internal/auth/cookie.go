package auth

import (
	"net/http"
	"strings"
	"time"

	"chat-backend/internal/httpx"
)

const CookieName = "auth_id"

// SetAuthCookie stores token in the auth cookie. Without rememberMe the cookie
// lives for the browser session only.
func SetAuthCookie(w http.ResponseWriter, r *http.Request, token string, rememberMe bool, ttl time.Duration) {
	cookie := &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   httpx.IsSecure(r),
		SameSite: http.SameSiteStrictMode,
	}
	if rememberMe {
		cookie.MaxAge = int(ttl.Seconds())
	}
	http.SetCookie(w, cookie)
}

func ClearAuthCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   httpx.IsSecure(r),
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
	})
}

// TokenFromRequest reads the bearer token, falling back to the auth cookie.
func TokenFromRequest(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			if token := strings.TrimSpace(parts[1]); token != "" {
				return token, true
			}
		}
	}

	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		return cookie.Value, true
	}
	return "", false
}
