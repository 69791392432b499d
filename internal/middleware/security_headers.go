package middleware

import (
	"net/http"
	"strings"
)

// SecurityHeadersMiddleware sets the browser hardening headers. The CSP only
// lets images load from this server and the listed artwork origins; media
// server artwork is served through the image proxy.
type SecurityHeadersMiddleware struct {
	isProduction bool
	csp          string
}

func NewSecurityHeadersMiddleware(isProduction bool, imageOrigins []string) *SecurityHeadersMiddleware {
	return &SecurityHeadersMiddleware{isProduction: isProduction, csp: contentSecurityPolicy(imageOrigins)}
}

func contentSecurityPolicy(imageOrigins []string) string {
	img := []string{"'self'", "data:"}
	for _, origin := range imageOrigins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		// Origins end up inside a header value.
		if origin == "" || strings.ContainsAny(origin, " ;,'\r\n") {
			continue
		}
		img = append(img, origin)
	}
	return strings.Join([]string{
		"default-src 'self'",
		"img-src " + strings.Join(img, " "),
		"connect-src 'self'",
		"frame-ancestors 'none'",
		"base-uri 'self'",
		"form-action 'self'",
	}, "; ")
}

func (m *SecurityHeadersMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "same-origin")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		h.Set("Content-Security-Policy", m.csp)
		if m.isProduction {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}
