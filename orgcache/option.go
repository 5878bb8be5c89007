package orgcache

import (
	"errors"
	"fmt"
	"time"

	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/orglens/go-orglens/token"
)

const (
	defaultRefreshIn = 30 * time.Minute
	defaultBatchSize = 10
)

type config struct {
	dir       Directory
	tsrc      token.Source
	dstore    datastore.Batching
	maxAge    time.Duration
	refreshIn time.Duration
	batchSize int
}

// Option is a function that sets a value in a config.
type Option func(*config) error

// getOpts creates a config and applies Options to it.
func getOpts(opts []Option) (config, error) {
	cfg := config{
		maxAge:    DefaultMaxAge,
		refreshIn: defaultRefreshIn,
		batchSize: defaultBatchSize,
	}
	for i, opt := range opts {
		if err := opt(&cfg); err != nil {
			return config{}, fmt.Errorf("option %d failed: %s", i, err)
		}
	}
	if cfg.dir == nil {
		return config{}, errors.New("no directory source")
	}
	if cfg.tsrc == nil {
		return config{}, errors.New("no token source")
	}
	if cfg.dstore == nil {
		cfg.dstore = dssync.MutexWrap(datastore.NewMapDatastore())
	}
	return cfg, nil
}

// WithDirectory sets the upstream source of account entities. Required.
func WithDirectory(dir Directory) Option {
	return func(cfg *config) error {
		cfg.dir = dir
		return nil
	}
}

// WithTokenSource sets the credential source called once per build. Required.
func WithTokenSource(tsrc token.Source) Option {
	return func(cfg *config) error {
		cfg.tsrc = tsrc
		return nil
	}
}

// WithDatastore sets the datastore that cache generations are persisted to.
// If not set, an in-memory datastore is used and generations do not survive
// the process.
func WithDatastore(dstore datastore.Batching) Option {
	return func(cfg *config) error {
		if dstore != nil {
			cfg.dstore = dstore
		}
		return nil
	}
}

// WithMaxAge sets the generation age past which the automatic refresh
// rebuilds.
//
// Default is DefaultMaxAge.
func WithMaxAge(maxAge time.Duration) Option {
	return func(cfg *config) error {
		if maxAge <= 0 {
			return fmt.Errorf("max age must be positive: %s", maxAge)
		}
		cfg.maxAge = maxAge
		return nil
	}
}

// WithRefreshInterval sets how often the staleness check runs. If set to 0,
// automatic refresh is disabled and builds only happen on explicit calls.
//
// Default is 30 minutes.
func WithRefreshInterval(interval time.Duration) Option {
	return func(cfg *config) error {
		cfg.refreshIn = interval
		return nil
	}
}

// WithBatchSize caps how many per-project association fetches run at once.
// Correctness does not depend on the value, only build duration does.
//
// Default is 10.
func WithBatchSize(n int) Option {
	return func(cfg *config) error {
		if n < 1 {
			return fmt.Errorf("batch size must be positive: %d", n)
		}
		cfg.batchSize = n
		return nil
	}
}
