// Package upstream forwards pass-through traffic to the origin the page
// would have reached without the bridge.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/meshbridge/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/meshbridge/internal/infrastructure/tracing"
)

var (
	// ErrNoOrigin is returned when no upstream origin is configured.
	ErrNoOrigin = errors.New("no upstream origin configured")
	// ErrUnavailable is returned while the origin is considered down.
	ErrUnavailable = errors.New("upstream unavailable")
)

// Config configures the forwarder.
type Config struct {
	Origin            string
	Timeout           time.Duration
	MaxRetries        int
	RetryWait         time.Duration
	RequestsPerSecond float64
	BreakerThreshold  uint32
	BreakerCooldown   time.Duration
}

// Response is an upstream reply.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Forwarder sends requests to the upstream origin.
type Forwarder struct {
	origin  *url.URL
	client  *resty.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	logger  *zap.Logger
}

var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// New creates a forwarder. An empty origin yields a forwarder that answers
// every request with 404.
func New(cfg Config, logger *zap.Logger) (*Forwarder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = 200 * time.Millisecond
	}

	f := &Forwarder{
		logger:  logger,
		limiter: rate.NewLimiter(rate.Inf, 0),
		breaker: resilience.New("upstream", resilience.Settings{
			Threshold: cfg.BreakerThreshold,
			Cooldown:  cfg.BreakerCooldown,
		}),
	}
	if cfg.RequestsPerSecond > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(1, int(cfg.RequestsPerSecond)))
	}

	if cfg.Origin != "" {
		origin, err := url.Parse(cfg.Origin)
		if err != nil || origin.Scheme == "" || origin.Host == "" {
			return nil, fmt.Errorf("invalid upstream origin %q", cfg.Origin)
		}
		f.origin = origin
	}

	retryClient := retryablehttp.NewClient()
	retryClient.Logger = nil

	f.client = resty.New().
		SetTransport(retryClient.HTTPClient.Transport).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(10 * cfg.RetryWait).
		SetRedirectPolicy(resty.RedirectPolicyFunc(func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		})).
		AddRetryCondition(retryable)

	return f, nil
}

// Enabled reports whether an origin is configured.
func (f *Forwarder) Enabled() bool { return f.origin != nil }

// Forward sends r to the origin and returns the reply.
func (f *Forwarder) Forward(ctx context.Context, r *http.Request) (*Response, error) {
	if f.origin == nil {
		return nil, ErrNoOrigin
	}
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}

	var body []byte
	if r.Body != nil {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		body = b
	}

	req := f.client.R().SetContext(ctx)
	for name, values := range r.Header {
		if isHop(name) || strings.EqualFold(name, "Host") {
			continue
		}
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	if r.RemoteAddr != "" {
		host := r.RemoteAddr
		if i := strings.LastIndexByte(host, ':'); i > 0 {
			host = host[:i]
		}
		req.Header.Add("X-Forwarded-For", host)
	}
	tracing.Inject(ctx, req.Header)
	if len(body) > 0 {
		req.SetBody(body)
	}

	var resp *resty.Response
	err := f.breaker.Execute(func() error {
		var err error
		resp, err = req.Execute(r.Method, f.target(r.URL))
		return err
	})
	if errors.Is(err, resilience.ErrOpen) {
		return nil, ErrUnavailable
	}
	if err != nil {
		return nil, fmt.Errorf("forward %s %s: %w", r.Method, r.URL.Path, err)
	}

	header := resp.Header().Clone()
	for _, h := range hopHeaders {
		header.Del(h)
	}
	return &Response{StatusCode: resp.StatusCode(), Header: header, Body: resp.Body()}, nil
}

// ServeHTTP forwards r and writes the reply, or an error status.
func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp, err := f.Forward(r.Context(), r)
	switch {
	case errors.Is(err, ErrNoOrigin):
		http.NotFound(w, r)
		return
	case errors.Is(err, ErrUnavailable):
		http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
		return
	case err != nil:
		f.logger.Warn("Pass-through failed", zap.String("url", r.URL.String()), zap.Error(err))
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}

	for name, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	w.Write(resp.Body)
}

func (f *Forwarder) target(u *url.URL) string {
	t := *f.origin
	t.Path = strings.TrimSuffix(f.origin.Path, "/") + u.Path
	t.RawPath = ""
	t.RawQuery = u.RawQuery
	return t.String()
}

// retryable retries idempotent requests on transport errors and gateway
// failures.
func retryable(resp *resty.Response, err error) bool {
	if resp == nil || resp.Request == nil {
		return false
	}
	switch resp.Request.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
	default:
		return false
	}
	if err != nil {
		return true
	}
	switch resp.StatusCode() {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func isHop(name string) bool {
	for _, h := range hopHeaders {
		if strings.EqualFold(name, h) {
			return true
		}
	}
	return false
}
