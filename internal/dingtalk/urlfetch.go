package dingtalk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// ErrTooManyRedirects indicates a redirect chain exceeded the bound.
var ErrTooManyRedirects = errors.New("too many redirects")

// URLFetcher performs plain GET downloads for direct-URL imports,
// following 301/302 redirects up to a fixed bound.
type URLFetcher struct {
	client       *http.Client
	maxRedirects int
	logger       *slog.Logger
}

// NewURLFetcher creates a fetcher with the given timeout and redirect
// ceiling. Redirects are followed manually so the bound is enforced
// here rather than by the transport.
func NewURLFetcher(log *slog.Logger, timeout time.Duration, maxRedirects int) *URLFetcher {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if maxRedirects <= 0 {
		maxRedirects = 5
	}
	return &URLFetcher{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		maxRedirects: maxRedirects,
		logger:       log.With(slog.String("service", "url_fetch")),
	}
}

// Fetch retrieves the URL and returns the response body.
func (f *URLFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	current, err := url.Parse(rawURL)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}

	for hop := 0; hop <= f.maxRedirects; hop++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, current.String(), nil)
		if err != nil {
			return nil, &FetchError{URL: current.String(), Err: err}
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return nil, &FetchError{URL: current.String(), Err: err}
		}

		if resp.StatusCode == http.StatusMovedPermanently || resp.StatusCode == http.StatusFound {
			location := resp.Header.Get("Location")
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if location == "" {
				return nil, &FetchError{URL: current.String(), Err: errors.New("redirect without location")}
			}
			next, err := url.Parse(location)
			if err != nil {
				return nil, &FetchError{URL: current.String(), Err: err}
			}
			current = current.ResolveReference(next)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, &FetchError{URL: current.String(), Err: err}
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, &FetchError{URL: current.String(), Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
		}
		return body, nil
	}

	return nil, &FetchError{URL: current.String(), Err: ErrTooManyRedirects}
}
