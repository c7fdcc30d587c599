package archive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	mgerrors "mediagrab/pkg/errors"
)

// Response is a fetched media body
type Response struct {
	Body        []byte
	ContentType string
}

// Fetcher downloads one URL
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Response, error)
}

// StatusError is a non-2xx response
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d", e.Code)
}

// HTTPFetcher fetches without cookies or credentials, optionally paced
type HTTPFetcher struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
}

// NewHTTPFetcher creates a fetcher. requestsPerSecond <= 0 disables pacing.
func NewHTTPFetcher(timeout time.Duration, requestsPerSecond float64, userAgent string) *HTTPFetcher {
	f := &HTTPFetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
	if requestsPerSecond > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	}
	return f
}

// Fetch returns the body of url. Any non-2xx status is an error. Failures
// are not retried.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (Response, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return Response{}, mgerrors.New(mgerrors.ErrorTypeFetch, "wait for rate limit", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Response{}, mgerrors.New(mgerrors.ErrorTypeFetch, "build request", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return Response{}, mgerrors.New(mgerrors.ErrorTypeFetch, "fetch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Response{}, mgerrors.New(mgerrors.ErrorTypeFetch, "fetch", &StatusError{Code: resp.StatusCode})
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, mgerrors.New(mgerrors.ErrorTypeFetch, "read body", fmt.Errorf("failed to read response body: %w", err))
	}

	return Response{Body: body, ContentType: resp.Header.Get("Content-Type")}, nil
}
