package common

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"moul.io/http2curl"

	"github.com/sokdak/sokdak/app"
	"github.com/sokdak/sokdak/internal"
)

const (
	ContentTypeJSON = "application/json"

	APIKeyHeader     = "apikey"
	ClientInfoHeader = "X-Client-Info"
	RequestIDHeader  = "X-Request-Id"
)

// Opts are common options that WebClient may be configured with
type Opts struct {
	// BaseURL is the project URL, e.g. https://<ref>.supabase.co
	BaseURL string
	// APIKey is the project's public (anon) key. It is sent as the apikey header on every request
	// and as the bearer token unless a request sets its own.
	APIKey string
	// Locale is sent as Accept-Language when set.
	Locale string
	// HTTPClient represents an http.Client that should be used by the resty client
	HTTPClient *http.Client
}

// WebClient sends JSON requests to the backend.
type WebClient struct {
	*resty.Client
}

func NewWebClient(opts *Opts) *WebClient {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	c := resty.NewWithClient(opts.HTTPClient)
	if opts.BaseURL != "" {
		c.SetBaseURL(opts.BaseURL)
	}
	c.SetHeader(ClientInfoHeader, app.ClientInfo)
	c.SetHeader("Accept", ContentTypeJSON)
	if opts.APIKey != "" {
		c.SetHeader(APIKeyHeader, opts.APIKey)
		c.SetAuthToken(opts.APIKey)
	}
	if opts.Locale != "" {
		c.SetHeader("Accept-Language", opts.Locale)
	}
	c.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		req.SetHeader(RequestIDHeader, uuid.NewString())
		return nil
	})
	return &WebClient{Client: c}
}

// NewRequest returns a request bound to ctx.
func (wc *WebClient) NewRequest(ctx context.Context) *resty.Request {
	return wc.R().SetContext(ctx)
}

// Send executes req and decodes a JSON response body into target, if target is not nil. Any
// non-2xx response is returned as an *APIError.
func (wc *WebClient) Send(ctx context.Context, method, path string, req *resty.Request, target any) error {
	if req == nil {
		req = wc.R()
	}
	req.SetContext(ctx)
	if target != nil {
		req.SetResult(target)
	}
	resp, err := req.Execute(method, path)
	logCurl(ctx, req)
	if err != nil {
		return fmt.Errorf("sending %s %s: %w", method, path, err)
	}
	if status := resp.StatusCode(); status < 200 || status > 299 {
		slog.Debug("Unexpected response", "method", method, "path", path, "status", status)
		return newAPIError(status, resp.Body())
	}
	return nil
}

// logCurl dumps the request as a curl command at trace level, without credentials.
func logCurl(ctx context.Context, req *resty.Request) {
	if req.RawRequest == nil || !slog.Default().Enabled(ctx, internal.LevelTrace) {
		return
	}
	raw := req.RawRequest.Clone(ctx)
	raw.Header.Del("Authorization")
	raw.Header.Del(APIKeyHeader)
	raw.Body = nil
	if cmd, err := http2curl.GetCurlCommand(raw); err == nil {
		slog.Log(ctx, internal.LevelTrace, "Sent request", "curl", cmd.String())
	}
}
