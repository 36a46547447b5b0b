package auth

import (
	"net/http"
	"time"
)

// CookieManager owns issuance and clearing of the session token cookie.
type CookieManager struct {
	name   string
	secure bool
}

// NewCookieManager constructs a CookieManager. secure should be true in
// production.
func NewCookieManager(name string, secure bool) *CookieManager {
	return &CookieManager{name: name, secure: secure}
}

// Name returns the cookie identifier.
func (m *CookieManager) Name() string {
	return m.name
}

// Read extracts the session token from the request. An absent cookie
// yields the empty string, which downstream treats as unauthenticated.
func (m *CookieManager) Read(r *http.Request) string {
	cookie, err := r.Cookie(m.name)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// Issue writes the session cookie.
func (m *CookieManager) Issue(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.name,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Clear removes the session cookie. Clearing is idempotent and succeeds
// even when no session exists. MaxAge<0 and a past-dated Expires are both
// emitted so proxies that honor only one attribute still drop the cookie.
func (m *CookieManager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(1, 0).UTC(),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
