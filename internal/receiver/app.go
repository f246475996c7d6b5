// Package receiver implements the private side of the tunnel: a WebSocket
// client that dials the gateway, decodes forwarded requests, invokes a
// local application, and returns the encoded responses.
package receiver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Request is a decoded tunnel request handed to the local application.
type Request struct {
	Method  string
	Path    string
	Headers map[string]string
	Query   map[string]string
	Body    []byte
}

// Response is what the local application returns for one Request.
type Response struct {
	Status  int
	Reason  string
	Headers map[string]string
	Body    []byte
}

// App is the local application contract: request in, response out. An error
// return is translated to an ANPX error frame for the gateway.
type App interface {
	Serve(ctx context.Context, req *Request) (*Response, error)
}

// AppFunc adapts a plain function to the App interface.
type AppFunc func(ctx context.Context, req *Request) (*Response, error)

func (f AppFunc) Serve(ctx context.Context, req *Request) (*Response, error) { return f(ctx, req) }

// HTTPBackend is the default App: it replays each tunnel request against a
// local HTTP server and captures the reply.
type HTTPBackend struct {
	base   string
	client *http.Client
}

// NewHTTPBackend points the backend at baseURL (e.g. "http://127.0.0.1:8080").
func NewHTTPBackend(baseURL string, timeout time.Duration) *HTTPBackend {
	return &HTTPBackend{
		base:   strings.TrimRight(baseURL, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

func (b *HTTPBackend) Serve(ctx context.Context, req *Request) (*Response, error) {
	target := b.base + req.Path
	if len(req.Query) > 0 {
		q := url.Values{}
		for k, v := range req.Query {
			q.Set(k, v)
		}
		target += "?" + q.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, strings.NewReader(string(req.Body)))
	if err != nil {
		return nil, fmt.Errorf("receiver: build backend request: %w", err)
	}
	for k, v := range req.Headers {
		switch strings.ToLower(k) {
		case "host", "content-length", "connection":
			continue
		}
		httpReq.Header.Set(k, v)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("receiver: backend call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("receiver: read backend response: %w", err)
	}

	headers := make(map[string]string, len(resp.Header))
	for k, vals := range resp.Header {
		if len(vals) > 0 {
			headers[strings.ToLower(k)] = vals[0]
		}
	}
	return &Response{
		Status:  resp.StatusCode,
		Reason:  http.StatusText(resp.StatusCode),
		Headers: headers,
		Body:    body,
	}, nil
}
