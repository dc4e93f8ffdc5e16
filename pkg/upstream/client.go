// Package upstream forwards requests to the origin server behind the cache.
//
// The client retries network errors and 5xx responses of idempotent requests
// with exponential backoff, and fills a gateway.RequestContext with the
// origin's response so it can serve as the gateway's backend.
package upstream

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/anilslabs/plugin-rest-cache/pkg/gateway"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// hopHeaders are connection-specific and never forwarded in either direction.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// strippedRequestHeaders are removed from forwarded requests. Conditional
// headers are answered by the gateway, and Accept-Encoding is left to the
// transport so bodies arrive decoded and can be stored independently of the
// client's encoding.
var strippedRequestHeaders = []string{
	"Accept-Encoding",
	"If-Modified-Since",
	"If-None-Match",
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the origin (REQUIRED), e.g. "http://localhost:1337"
	BaseURL string

	// Timeout per attempt
	Timeout time.Duration

	// Retry policy for idempotent requests
	Retry RetryConfig

	// UserAgent overrides the forwarded User-Agent when set
	UserAgent string

	// HTTPClient to use. A client with Timeout is created if nil.
	HTTPClient *http.Client

	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL: baseURL,
		Timeout: 30 * time.Second,
		Retry:   DefaultRetryConfig(),
	}
}

// Client forwards requests to the origin.
type Client struct {
	httpClient *http.Client
	base       *url.URL
	config     Config
	logger     zerolog.Logger
}

// New creates a new upstream client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https (got %q)", cfg.BaseURL)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("base url has no host (got %q)", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{
			Timeout: timeout,
			// Redirects are the client's business, forward them as-is.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}

	logger := log.With().Str("component", "upstream").Logger()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "upstream").Logger()
	}

	return &Client{
		httpClient: httpClient,
		base:       base,
		config:     cfg,
		logger:     logger,
	}, nil
}

// Do forwards the inbound request r to the origin and returns its response.
//
// GET and HEAD requests are retried on network errors and 5xx responses; the
// last 5xx response is returned once attempts are exhausted. Network failures
// that exhaust all attempts yield an *UpstreamError wrapping ErrRetryExhausted.
// The caller must close the response body.
func (c *Client) Do(r *http.Request) (*http.Response, error) {
	ctx := r.Context()
	method := r.Method

	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}()

	retry := c.config.Retry
	if !idempotent(method) {
		retry.MaxAttempts = 1
	}

	var resp *http.Response
	err := retryWithBackoff(ctx, retry, c.logger, func(attempt int) (ErrorClass, error) {
		req, err := c.outbound(r)
		if err != nil {
			return "", err
		}

		c.logger.Debug().
			Str("method", method).
			Str("url", req.URL.String()).
			Int("attempt", attempt).
			Msg("Forwarding request")

		res, err := c.httpClient.Do(req)
		if err != nil {
			errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			requestsTotal.WithLabelValues(method, "network_error").Inc()
			c.logger.Error().Err(err).Str("path", r.URL.Path).Msg("Upstream request failed")
			return ErrorClassNetwork, &UpstreamError{
				StatusCode: http.StatusBadGateway,
				ErrorClass: ErrorClassNetwork,
				Message:    "request failed",
				Err:        err,
			}
		}

		requestsTotal.WithLabelValues(method, strconv.Itoa(res.StatusCode)).Inc()
		class := classifyStatus(res.StatusCode)
		if class != "" {
			errorsTotal.WithLabelValues(string(class)).Inc()
			c.logger.Warn().
				Str("path", r.URL.Path).
				Int("status", res.StatusCode).
				Str("error_class", string(class)).
				Msg("Upstream error response")
		}

		// Retry 5xx while attempts remain, then hand the last one to the caller.
		if shouldRetry(class) && attempt < retry.MaxAttempts {
			res.Body.Close()
			return class, &UpstreamError{
				StatusCode: res.StatusCode,
				ErrorClass: class,
				Message:    res.Status,
			}
		}

		resp = res
		return "", nil
	})
	if err != nil {
		return nil, wrapError(err)
	}
	return resp, nil
}

// Invoke forwards the request of rc and fills its response slot.
// It satisfies gateway.Next.
func (c *Client) Invoke(rc *gateway.RequestContext) error {
	resp, err := c.Do(rc.Request)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return &UpstreamError{
			StatusCode: http.StatusBadGateway,
			ErrorClass: ErrorClassNetwork,
			Message:    "read response body",
			Err:        err,
		}
	}

	header := resp.Header.Clone()
	removeHopHeaders(header)
	// A HEAD response has no body, so the origin's length is kept.
	if rc.Request.Method != http.MethodHead {
		header.Del("Content-Length")
	}

	rc.StatusCode = resp.StatusCode
	rc.Header = header
	rc.Body = body
	return nil
}

// ServeHTTP proxies r to the origin without caching.
func (c *Client) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rc := gateway.NewRequestContext(r, gateway.RouteConfig{})
	if err := c.Invoke(rc); err != nil {
		c.logger.Error().Err(err).Str("path", r.URL.Path).Msg("Proxy request failed")
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	if err := rc.WriteTo(w); err != nil {
		c.logger.Debug().Err(err).Msg("Writing response failed")
	}
}

// outbound builds the request sent to the origin for the inbound request r.
func (c *Client) outbound(r *http.Request) (*http.Request, error) {
	target := *c.base
	target.Path = singleJoiningSlash(c.base.Path, r.URL.Path)
	target.RawPath = ""
	target.RawQuery = r.URL.RawQuery

	body := r.Body
	if idempotent(r.Method) || body == nil {
		body = http.NoBody
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != http.NoBody {
		req.ContentLength = r.ContentLength
	}

	req.Header = r.Header.Clone()
	if req.Header == nil {
		req.Header = http.Header{}
	}
	removeHopHeaders(req.Header)
	for _, name := range strippedRequestHeaders {
		req.Header.Del(name)
	}
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	if r.Host != "" {
		req.Header.Set("X-Forwarded-Host", r.Host)
	}
	return req, nil
}

// wrapError returns err as an *UpstreamError, keeping the class of the last
// failed attempt.
func wrapError(err error) error {
	var upstreamErr *UpstreamError
	if errors.As(err, &upstreamErr) && err == error(upstreamErr) {
		return err
	}

	status, class := http.StatusBadGateway, ErrorClassNetwork
	if upstreamErr != nil {
		status, class = upstreamErr.StatusCode, upstreamErr.ErrorClass
	}
	return &UpstreamError{
		StatusCode: status,
		ErrorClass: class,
		Message:    "upstream unavailable",
		Err:        err,
	}
}

func idempotent(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

func removeHopHeaders(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}
