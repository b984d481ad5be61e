// Package download implements the multi-page content download protocol.
//
// A capture walks a paginated source with one of two strategies sharing the
// Crawl primitive (fetch page, extract links, persist page, report progress):
// linked pagination follows an explicit next-page chain, indexed pagination
// iterates a numeric page index. Linked is tried first; a source without a
// linked-navigation pattern falls back to indexed.
package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// FetcherConfig configures the HTTP page fetcher.
type FetcherConfig struct {
	Timeout   time.Duration // HTTP timeout. Default: 30s.
	MaxBytes  int64         // Max response body size. Default: 10MB.
	UserAgent string
	// Rate is the maximum number of requests per second. Default: 2.
	Rate float64
}

func (c *FetcherConfig) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10 * 1024 * 1024
	}
	if c.UserAgent == "" {
		c.UserAgent = "snapkeeper/1.0"
	}
	if c.Rate <= 0 {
		c.Rate = 2
	}
}

// Fetcher performs rate-limited HTTP GETs.
type Fetcher struct {
	client  *http.Client
	limiter *rate.Limiter
	config  FetcherConfig
}

// NewFetcher creates a Fetcher.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	cfg.defaults()
	return &Fetcher{
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				return nil
			},
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.Rate), 1),
		config:  cfg,
	}
}

// Fetch retrieves url. Any status outside 2xx is an error.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
