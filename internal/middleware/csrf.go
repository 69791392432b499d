package middleware

import (
	"net/http"
	"strings"

	apperrors "github.com/swiparr/swiparr-server/internal/errors"
	"github.com/swiparr/swiparr-server/internal/util"
)

const (
	CSRFCookieName = "swiparr_csrf"
	CSRFHeaderName = "X-CSRF-Token"
)

// CSRFMiddleware applies the double-submit cookie check to state-changing
// requests that authenticate with the auth cookie. Requests carrying a bearer
// token are not forgeable cross-site and pass through.
type CSRFMiddleware struct {
	cookies CookieOptions
}

func NewCSRFMiddleware(cookies CookieOptions) *CSRFMiddleware {
	return &CSRFMiddleware{cookies: cookies}
}

func (m *CSRFMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(CSRFCookieName)
		if err != nil || cookie.Value == "" {
			token, err := util.GenerateToken()
			if err != nil {
				writeError(w, apperrors.Internal("Failed to generate security token"))
				return
			}
			m.setCSRFCookie(w, token)
			cookie = &http.Cookie{Value: token}
		}

		if isSafeMethod(r.Method) || !usesAuthCookie(r) {
			next.ServeHTTP(w, r)
			return
		}

		headerToken := r.Header.Get(CSRFHeaderName)
		if headerToken == "" {
			writeError(w, apperrors.Forbidden("Missing CSRF token"))
			return
		}
		if !util.ConstantTimeEqual(cookie.Value, headerToken) {
			writeError(w, apperrors.Forbidden("Invalid CSRF token"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *CSRFMiddleware) setCSRFCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(m.cookies.MaxAge.Seconds()),
		HttpOnly: false, // read by the client and echoed in the header
		Secure:   m.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func usesAuthCookie(r *http.Request) bool {
	if strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		return false
	}
	cookie, err := r.Cookie(AuthCookieName)
	return err == nil && cookie.Value != ""
}

func isSafeMethod(method string) bool {
	return method == http.MethodGet ||
		method == http.MethodHead ||
		method == http.MethodOptions
}
