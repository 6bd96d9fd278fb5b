package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/offgrid/internal/domain"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "offgrid/1.0"
)

// HTTP implements domain.Transport over net/http. It never retries and
// reports every HTTP status as a response, not an error.
type HTTP struct {
	httpClient *http.Client
	timeout    time.Duration
	userAgent  string
	logger     *slog.Logger
}

// Option customizes an HTTP transport
type Option func(*HTTP)

// WithTimeout sets the timeout used when a request carries none
func WithTimeout(d time.Duration) Option {
	return func(h *HTTP) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithUserAgent sets the User-Agent sent when a request has none
func WithUserAgent(ua string) Option {
	return func(h *HTTP) {
		if ua != "" {
			h.userAgent = ua
		}
	}
}

// WithClient replaces the underlying http.Client
func WithClient(c *http.Client) Option {
	return func(h *HTTP) { h.httpClient = c }
}

// NewHTTP creates a transport
func NewHTTP(logger *slog.Logger, opts ...Option) *HTTP {
	if logger == nil {
		logger = slog.Default()
	}
	h := &HTTP{
		httpClient: &http.Client{},
		timeout:    defaultTimeout,
		userAgent:  defaultUserAgent,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Send performs one request. The request Timeout (or the transport default)
// bounds the whole exchange including reading the body.
func (h *HTTP) Send(ctx context.Context, r domain.Request) (*domain.Response, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = h.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", h.userAgent)
	}

	h.logger.Debug("http request", "method", method, "url", r.URL)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		h.logger.Debug("http request failed", "url", r.URL, "error", err)
		return nil, fmt.Errorf("%w: %s %s: %v", domain.ErrTransport, method, r.URL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", domain.ErrTransport, err)
	}

	headers := make(map[string]string, len(resp.Header))
	for k, v := range resp.Header {
		headers[strings.ToLower(k)] = strings.Join(v, ", ")
	}

	return &domain.Response{
		StatusCode: resp.StatusCode,
		Headers:    headers,
		Body:       respBody,
	}, nil
}
