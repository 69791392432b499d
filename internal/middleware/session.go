package middleware

import (
	"net/http"
	"time"
)

const AuthCookieName = "swiparr_session"

// CookieOptions control how the auth cookie is written.
type CookieOptions struct {
	Secure bool
	MaxAge time.Duration
}

// SetAuthCookie stores the identity token in an HttpOnly cookie so browsers
// can authenticate EventSource and image requests without exposing it to scripts.
func SetAuthCookie(w http.ResponseWriter, token string, opts CookieOptions) {
	http.SetCookie(w, &http.Cookie{
		Name:     AuthCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(opts.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func ClearAuthCookie(w http.ResponseWriter, opts CookieOptions) {
	http.SetCookie(w, &http.Cookie{
		Name:     AuthCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
