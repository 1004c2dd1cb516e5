package common

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/sokdak/sokdak/traces"
)

// NewHTTPClient returns an http.Client that retries connection errors and 5xx responses up to
// retries times and is instrumented with OpenTelemetry. Once retries are exhausted the last
// response is passed through so callers can read the error body.
func NewHTTPClient(timeout time.Duration, retries int) *http.Client {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	rc := retryablehttp.NewClient()
	rc.RetryMax = max(retries, 0)
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = slog.Default()
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.HTTPClient.Timeout = timeout
	rc.HTTPClient.Transport = traces.NewRoundTripper(rc.HTTPClient.Transport)
	return rc.StandardClient()
}
