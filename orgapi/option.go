package orgapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const defaultPageLimit = 100

type config struct {
	httpClient *http.Client
	pageLimit  int
}

// Option is a function that sets a value in a config.
type Option func(*config) error

// getOpts creates a config and applies Options to it.
func getOpts(opts []Option) (config, error) {
	cfg := config{
		httpClient: defaultHTTPClient(),
		pageLimit:  defaultPageLimit,
	}
	for i, opt := range opts {
		if err := opt(&cfg); err != nil {
			return config{}, fmt.Errorf("option %d failed: %s", i, err)
		}
	}
	return cfg, nil
}

func defaultHTTPClient() *http.Client {
	rclient := &retryablehttp.Client{
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		RetryWaitMin: time.Second,
		RetryWaitMax: 10 * time.Second,
		RetryMax:     3,
		CheckRetry:   retryablehttp.DefaultRetryPolicy,
		Backoff:      retryablehttp.DefaultBackoff,
	}
	return rclient.StandardClient()
}

// WithClient allows creation of the client using an underlying network round
// tripper / client. If not set, a retrying HTTP client is used.
func WithClient(c *http.Client) Option {
	return func(cfg *config) error {
		if c != nil {
			cfg.httpClient = c
		}
		return nil
	}
}

// WithPageLimit sets the number of items requested per page.
//
// Default is 100.
func WithPageLimit(limit int) Option {
	return func(cfg *config) error {
		if limit < 1 {
			return fmt.Errorf("page limit must be positive: %d", limit)
		}
		cfg.pageLimit = limit
		return nil
	}
}
