// Package apiclient is the HTTP layer shared by the network backends.
package apiclient

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/vistream/vistream/internal/observability"
)

const (
	defaultRetryMax     = 5
	defaultRetryWaitMin = 1 * time.Second
	defaultRetryWaitMax = 30 * time.Second
	defaultTimeout      = 30 * time.Second
)

// Client makes retried HTTP requests to one tracking service.
//
// Requests hold their body as a byte slice rather than a reader so
// that retries can resend it.
type Client struct {
	baseURL *url.URL

	// headers are set on every request. They take precedence over
	// per-request headers.
	headers map[string]string

	retryableHTTP *retryablehttp.Client
}

// Request is an HTTP request to the service.
type Request struct {
	// Method is the standard HTTP method.
	Method string

	// Path is the request path relative to the client's base URL,
	// for example "files/entity/project/abcd1234/file_stream".
	Path string

	// Body is the request body or nil.
	Body []byte

	// Headers are additional headers for this request.
	Headers map[string]string
}

type Opts struct {
	// Headers are set on every request, e.g. for auth.
	Headers map[string]string

	// RetryMax overrides the maximum retry count.
	RetryMax int

	// Logger receives retry diagnostics.
	Logger *observability.Logger
}

// New creates a client for the service at baseURL.
//
// baseURL is the scheme and host without a trailing slash, for
// example "https://api.example.com".
func New(baseURL string, opts Opts) (*Client, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("apiclient: invalid base URL %q: %v", baseURL, err)
	}

	retryable := retryablehttp.NewClient()
	retryable.Logger = nil
	retryable.RetryMax = defaultRetryMax
	if opts.RetryMax > 0 {
		retryable.RetryMax = opts.RetryMax
	}
	retryable.RetryWaitMin = defaultRetryWaitMin
	retryable.RetryWaitMax = defaultRetryWaitMax
	retryable.HTTPClient.Timeout = defaultTimeout

	if opts.Logger != nil {
		logger := opts.Logger
		retryable.RequestLogHook = func(
			_ retryablehttp.Logger,
			req *http.Request,
			attempt int,
		) {
			if attempt > 0 {
				logger.Debug(
					"apiclient: retrying request",
					"url", req.URL.String(),
					"attempt", attempt,
				)
			}
		}
	}

	return &Client{
		baseURL:       parsed,
		headers:       opts.Headers,
		retryableHTTP: retryable,
	}, nil
}

// Send makes the request and returns the response.
//
// Network errors and 5xx responses are retried with backoff. The
// caller owns the response body.
func (c *Client) Send(req *Request) (*http.Response, error) {
	fullURL := c.baseURL.JoinPath(req.Path)

	retryableReq, err := retryablehttp.NewRequest(
		req.Method,
		fullURL.String(),
		bytes.NewReader(req.Body),
	)
	if err != nil {
		return nil, fmt.Errorf("apiclient: failed to create request: %v", err)
	}

	for key, value := range req.Headers {
		retryableReq.Header.Set(key, value)
	}
	for key, value := range c.headers {
		retryableReq.Header.Set(key, value)
	}

	resp, err := c.retryableHTTP.Do(retryableReq)
	if err != nil {
		return nil, err
	}
	// retryablehttp occasionally returns nil, nil.
	if resp == nil {
		return nil, fmt.Errorf("apiclient: nil error and nil response")
	}

	return resp, nil
}

// SendJSON posts a JSON body and fails on non-2xx responses.
//
// The response body is returned for callers that parse it.
func (c *Client) SendJSON(method, path string, body []byte) ([]byte, error) {
	resp, err := c.Send(&Request{
		Method:  method,
		Path:    path,
		Body:    body,
		Headers: map[string]string{"Content-Type": "application/json"},
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("apiclient: failed to read response: %v", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf(
			"apiclient: %s %s returned %d: %s",
			method, path, resp.StatusCode, truncate(respBody, 256),
		)
	}

	return respBody, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
