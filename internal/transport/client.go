// Package transport issues authenticated JSON requests against the chat backend.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"meetsync/internal/backoff"
	"meetsync/internal/observability"
)

// TokenSource yields the bearer token attached to each request. An empty token sends no header.
type TokenSource interface {
	Token() string
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func() string

func (f TokenFunc) Token() string { return f() }

// Client is shared by every component. It is safe for concurrent use.
type Client struct {
	baseURL  string
	http     *http.Client
	tokens   TokenSource
	registry *backoff.Registry
	tracer   trace.Tracer
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// NewClient builds a Client rooted at baseURL.
func NewClient(baseURL string, tokens TokenSource, registry *backoff.Registry, opts ...Option) *Client {
	if registry == nil {
		registry = backoff.NewRegistry(nil)
	}
	if tokens == nil {
		tokens = TokenFunc(func() string { return "" })
	}
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: 15 * time.Second},
		tokens:   tokens,
		registry: registry,
		tracer:   observability.Tracer("meetsync/transport"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry exposes the shared backoff registry.
func (c *Client) Registry() *backoff.Registry { return c.registry }

// BaseURL returns the backend root.
func (c *Client) BaseURL() string { return c.baseURL }

// Call sends body as JSON and returns the raw response body, or nil for 204 and empty responses.
// A request whose class is still backing off fails with a local *ThrottleError without touching the network.
func (c *Client) Call(ctx context.Context, method, path string, body any, class backoff.Class) (json.RawMessage, error) {
	if until, closed := c.registry.Until(class); closed {
		observability.IncThrottled(string(class), "local")
		return nil, &ThrottleError{Class: class, RetryAfter: until.Sub(c.registry.Now()), Until: until, Local: true}
	}

	url := c.resolve(path)
	ctx, span := c.tracer.Start(ctx, method+" "+path, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.url", url),
		attribute.String("meetsync.class", string(class)),
	)

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-Id", uuid.NewString())
	if tok := c.tokens.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		observability.ObserveRequest(string(class), 0, time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer resp.Body.Close()
	observability.ObserveRequest(string(class), resp.StatusCode, time.Since(start))
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		wait := ParseRetryAfter(resp.Header.Get("Retry-After"), c.registry.Now())
		until := c.registry.Throttle(class, wait)
		observability.IncThrottled(string(class), "server")
		observability.Component("transport").WithFields(logrus.Fields{
			"class": class,
			"until": until,
		}).Warn("throttled by backend")
		span.SetStatus(codes.Error, "throttled")
		return nil, &ThrottleError{Class: class, RetryAfter: until.Sub(c.registry.Now()), Until: until}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		span.SetStatus(codes.Error, resp.Status)
		return nil, &HTTPError{Status: resp.StatusCode, Method: method, URL: url, Class: class, Body: data}
	}

	if resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	return json.RawMessage(data), nil
}

func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

// ParseRetryAfter reads a Retry-After header given as delta-seconds or an HTTP date.
// Unparseable and missing values yield zero, which the registry raises to its floor.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
