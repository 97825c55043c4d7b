// Package httpclient wraps http.Client with the WebDAV verbs CalDAV needs.
// Network errors, timeouts and 5xx responses are retried once with backoff;
// 4xx responses are mapped to the error taxonomy and never retried.
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/FuzzyMistborn/caldav-frontend/caldav"
	davxml "github.com/FuzzyMistborn/caldav-frontend/internal/xml"
)

// HttpClientWrapper wraps http.Client with CalDAV-specific functionality
type HttpClientWrapper interface {
	DoPROPFIND(ctx context.Context, url string, depth int, props ...string) (*davxml.Multistatus, error)
	DoREPORT(ctx context.Context, url string, depth int, body []byte) (*davxml.Multistatus, error)
	DoPUT(ctx context.Context, url string, etag string, ifNoneMatch bool, data []byte) (newEtag string, err error)
	DoDELETE(ctx context.Context, url string, etag string) error
}

type httpClientWrapper struct {
	client     *http.Client
	baseURL    url.URL
	logger     *slog.Logger
	timeout    time.Duration
	retryDelay time.Duration
}

const (
	defaultTimeout    = 30 * time.Second
	defaultRetryDelay = 500 * time.Millisecond
)

// NewHttpClientWrapper creates a new client wrapper. The timeout bounds every
// individual request; zero selects the default.
func NewHttpClientWrapper(client *http.Client, baseURL url.URL, logger *slog.Logger, timeout time.Duration) (HttpClientWrapper, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &httpClientWrapper{
		client:     client,
		baseURL:    baseURL,
		logger:     logger,
		timeout:    timeout,
		retryDelay: defaultRetryDelay,
	}, nil
}

// resolveURL resolves a URL string against the base URL
func (c *httpClientWrapper) resolveURL(urlStr string) (*url.URL, error) {
	ref, err := url.Parse(urlStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL %q: %w", urlStr, err)
	}
	return c.baseURL.ResolveReference(ref), nil
}

// do sends the request, retrying once on transport errors and 5xx. The
// returned response body is open; the caller closes it.
func (c *httpClientWrapper) do(ctx context.Context, method, urlStr string, header http.Header, body []byte) (*http.Response, error) {
	resolvedURL, err := c.resolveURL(urlStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", caldav.ErrInvalidConfiguration, err)
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			c.logger.Debug("retrying request", "method", method, "url", resolvedURL.String())
			select {
			case <-time.After(c.retryDelay):
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", caldav.ErrServerUnavailable, ctx.Err())
			}
		}

		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		req, err := http.NewRequestWithContext(reqCtx, method, resolvedURL.String(), bytes.NewReader(body))
		if err != nil {
			cancel()
			return nil, err
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}

		resp, err := c.client.Do(req)
		if err != nil {
			cancel()
			if ctx.Err() != nil {
				// Caller cancellation is not retryable.
				return nil, fmt.Errorf("%w: %v", caldav.ErrServerUnavailable, ctx.Err())
			}
			lastErr = fmt.Errorf("%w: %v", caldav.ErrServerUnavailable, err)
			continue
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			cancel()
			lastErr = fmt.Errorf("%w: status %d", caldav.ErrServerUnavailable, resp.StatusCode)
			continue
		}
		// Tie the body lifetime to the request context.
		resp.Body = &cancelReadCloser{ReadCloser: resp.Body, cancel: cancel}
		return resp, nil
	}
	return nil, lastErr
}

type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// statusError maps a non-success status code to the error taxonomy.
func statusError(code int) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", caldav.ErrAuthentication, code)
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: status %d", caldav.ErrNotFound, code)
	case code == http.StatusPreconditionFailed:
		return fmt.Errorf("%w: status %d", caldav.ErrWriteConflict, code)
	case code >= 500:
		return fmt.Errorf("%w: status %d", caldav.ErrServerUnavailable, code)
	default:
		return fmt.Errorf("unexpected status code: %d", code)
	}
}
