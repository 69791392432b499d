package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/swiparr/swiparr-server/internal/config"
	"github.com/swiparr/swiparr-server/internal/metrics"
	"github.com/swiparr/swiparr-server/internal/ssrf"
)

// maxResponseBytes bounds provider payloads; a full Plex library listing can be large.
const maxResponseBytes = 64 << 20

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.status, e.body)
}

// upstreamResponse is a 2xx body with its declared content type.
type upstreamResponse struct {
	body        []byte
	contentType string
}

// apiClient is the shared outbound HTTP path: bounded timeout, throttle,
// circuit breaker and a structural SSRF check of per-identity base URLs.
// Requests to any server other than the configured one dial through
// ssrf.Transport, so every connected address is checked.
type apiClient struct {
	name     string
	baseURL  string
	http     *http.Client
	userHTTP *http.Client
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker[*upstreamResponse]
	guard    *ssrf.Guard
}

func newAPIClient(name, baseURL string, timeout time.Duration, guard *ssrf.Guard) *apiClient {
	if guard == nil {
		guard = ssrf.New(nil)
	}
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	return &apiClient{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: timeout},
		userHTTP: &http.Client{Timeout: timeout, Transport: ssrf.Transport()},
		limiter:  rate.NewLimiter(rate.Limit(config.ProviderRequestsPerSecond), config.ProviderBurst),
		guard:    guard,
		breaker: gobreaker.NewCircuitBreaker[*upstreamResponse](gobreaker.Settings{
			Name:        name,
			MaxRequests: 3,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			// Client errors and refused dials say nothing about upstream health.
			IsSuccessful: func(err error) bool {
				if errors.Is(err, ssrf.ErrBlockedURL) {
					return true
				}
				var se *statusError
				if errors.As(err, &se) {
					return se.status < http.StatusInternalServerError
				}
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("provider circuit breaker state change")
				metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			},
		}),
	}
}

// base returns the per-identity server URL when present, otherwise the configured one.
func (c *apiClient) base(auth AuthContext) (string, error) {
	if auth.ServerURL == "" {
		if c.baseURL == "" {
			return "", fmt.Errorf("%w: no server url configured", ErrUnavailable)
		}
		return c.baseURL, nil
	}
	if err := c.guard.CheckStructure(auth.ServerURL); err != nil {
		return "", err
	}
	return strings.TrimRight(auth.ServerURL, "/"), nil
}

func (c *apiClient) buildURL(base, path string, query url.Values) string {
	u := base + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// clientFor picks the plain client for the configured server and the
// address-checking one for everything else.
func (c *apiClient) clientFor(fullURL string) *http.Client {
	if c.baseURL != "" && (fullURL == c.baseURL ||
		strings.HasPrefix(fullURL, c.baseURL+"/") || strings.HasPrefix(fullURL, c.baseURL+"?")) {
		return c.http
	}
	return c.userHTTP
}

// do sends a request through the limiter and breaker and returns the body of a 2xx response.
func (c *apiClient) do(ctx context.Context, method, fullURL string, headers http.Header, body io.Reader) ([]byte, error) {
	resp, err := c.send(ctx, method, fullURL, headers, body)
	if err != nil {
		return nil, err
	}
	return resp.body, nil
}

func (c *apiClient) send(ctx context.Context, method, fullURL string, headers http.Header, body io.Reader) (*upstreamResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	start := time.Now()
	data, err := c.breaker.Execute(func() (*upstreamResponse, error) {
		req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
		if err != nil {
			return nil, err
		}
		req.Header = headers.Clone()
		if req.Header == nil {
			req.Header = http.Header{}
		}
		if req.Header.Get("Accept") == "" {
			req.Header.Set("Accept", "application/json")
		}

		resp, err := c.clientFor(fullURL).Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			snippet := string(payload)
			if len(snippet) > 200 {
				snippet = snippet[:200]
			}
			return nil, &statusError{status: resp.StatusCode, body: snippet}
		}
		return &upstreamResponse{body: payload, contentType: resp.Header.Get("Content-Type")}, nil
	})
	metrics.ProviderRequestDuration.WithLabelValues(c.name).Observe(time.Since(start).Seconds())

	if err != nil {
		return nil, c.classify(err)
	}
	metrics.ProviderRequests.WithLabelValues(c.name, "success").Inc()
	return data, nil
}

func (c *apiClient) classify(err error) error {
	var se *statusError
	switch {
	case errors.Is(err, ssrf.ErrBlockedURL):
		metrics.ProviderRequests.WithLabelValues(c.name, "blocked").Inc()
		return err
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.ProviderRequests.WithLabelValues(c.name, "rejected").Inc()
		return fmt.Errorf("%w: %s circuit open", ErrUnavailable, c.name)
	case errors.As(err, &se):
		metrics.ProviderRequests.WithLabelValues(c.name, "failure").Inc()
		switch se.status {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %v", ErrUnauthorized, se)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", ErrNotFound, se)
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, se)
	default:
		metrics.ProviderRequests.WithLabelValues(c.name, "failure").Inc()
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

func (c *apiClient) getJSON(ctx context.Context, fullURL string, headers http.Header, out any) error {
	data, err := c.do(ctx, http.MethodGet, fullURL, headers, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", ErrUnavailable, c.name, err)
	}
	return nil
}

func (c *apiClient) postJSON(ctx context.Context, fullURL string, headers http.Header, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	h := headers.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set("Content-Type", "application/json")
	data, err := c.do(ctx, http.MethodPost, fullURL, h, strings.NewReader(string(payload)))
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", ErrUnavailable, c.name, err)
	}
	return nil
}

func (c *apiClient) postForm(ctx context.Context, fullURL string, headers http.Header, form url.Values, out any) error {
	h := headers.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set("Content-Type", "application/x-www-form-urlencoded")
	data, err := c.do(ctx, http.MethodPost, fullURL, h, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", ErrUnavailable, c.name, err)
	}
	return nil
}

// ImageProxyPath is the server route that serves GetImage for an item.
func ImageProxyPath(itemID, imageType string) string {
	return "/api/catalog/items/" + url.PathEscape(itemID) + "/image?type=" + imageType
}

// getImage fetches artwork and refuses anything that is not an image.
func (c *apiClient) getImage(ctx context.Context, fullURL string, headers http.Header) (*Image, error) {
	h := headers.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set("Accept", "image/*")
	resp, err := c.send(ctx, http.MethodGet, fullURL, h, nil)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(resp.contentType, "image/") {
		return nil, fmt.Errorf("%w: %s returned %q for an image", ErrUnavailable, c.name, resp.contentType)
	}
	return &Image{ContentType: resp.contentType, Data: resp.body}, nil
}

// Image types accepted by GetImage.
const (
	ImagePrimary  = "Primary"
	ImageBackdrop = "Backdrop"
	ImageBanner   = "Banner"
)

// NormalizeImageType maps a client-supplied type onto one of the Image
// constants, defaulting to the poster.
func NormalizeImageType(t string) (string, bool) {
	switch strings.ToLower(t) {
	case "", "primary", "thumb":
		return ImagePrimary, true
	case "backdrop", "art":
		return ImageBackdrop, true
	case "banner":
		return ImageBanner, true
	}
	return "", false
}
