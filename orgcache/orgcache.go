package orgcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ipfs/go-datastore"
	logging "github.com/ipfs/go-log/v2"
	"github.com/orglens/go-orglens/orgapi"
	"github.com/orglens/go-orglens/token"
	"golang.org/x/sync/errgroup"
)

var log = logging.Logger("orgcache")

var (
	// ErrBuildInProgress is returned by Build when another build is already
	// running. The competing call does no work and does not wait.
	ErrBuildInProgress = errors.New("cache build already in progress")
	// ErrNoAccountID is returned when the credential source yields a token
	// with no account configured.
	ErrNoAccountID = errors.New("no account id configured")
)

// Persisted keys. Both caches and both timestamps are committed in one batch
// so readers never see one tree from a newer generation than the other. The
// two timestamps are always equal.
var (
	companiesCacheKey   = datastore.NewKey("companiesCache")
	companiesCacheTsKey = datastore.NewKey("companiesCacheTimestamp")
	projectsCacheKey    = datastore.NewKey("projectsCache")
	projectsCacheTsKey  = datastore.NewKey("projectsCacheTimestamp")
)

// Directory is the upstream source of account entities. *orgapi.Client
// implements it; tests substitute mocks.
type Directory interface {
	Companies(ctx context.Context, tok token.Token) ([]orgapi.Company, error)
	Users(ctx context.Context, tok token.Token) ([]orgapi.User, error)
	Projects(ctx context.Context, tok token.Token) ([]orgapi.Project, error)
	ProjectCompanies(ctx context.Context, tok token.Token, projectID string) ([]orgapi.Company, error)
	ProjectMembers(ctx context.Context, tok token.Token, projectID string) ([]orgapi.User, error)
}

// Cache holds the latest built generation for lock-free concurrent reads and
// coordinates rebuilds. At most one build runs at a time; competing Build
// calls fail fast with ErrBuildInProgress.
type Cache struct {
	read atomic.Pointer[view]

	dir       Directory
	tsrc      token.Source
	dstore    datastore.Batching
	maxAge    time.Duration
	batchSize int

	buildLock chan struct{}

	needsRefresh atomic.Bool
	refreshIn    time.Duration
	refreshTimer *time.Timer

	inEvents     chan Progress
	addEventChan chan chan<- Progress
	rmEventChan  chan chan<- Progress
	closing      chan struct{}
	closeOnce    sync.Once
}

// view is an immutable generation stored atomically in the cache read field,
// with id indexes for O(1) lookups.
type view struct {
	companies   []CompanyEntry
	projects    []ProjectEntry
	companyByID map[string]*CompanyEntry
	projectByID map[string]*ProjectEntry
	builtAt     time.Time
}

// New creates a Cache. A directory source and a token source are required.
// If the datastore holds a previously persisted generation, it is loaded so
// reads work before the first build of this process.
func New(options ...Option) (*Cache, error) {
	opts, err := getOpts(options)
	if err != nil {
		return nil, err
	}

	c := &Cache{
		dir:       opts.dir,
		tsrc:      opts.tsrc,
		dstore:    opts.dstore,
		maxAge:    opts.maxAge,
		batchSize: opts.batchSize,
		refreshIn: opts.refreshIn,

		buildLock: make(chan struct{}, 1),

		inEvents:     make(chan Progress),
		addEventChan: make(chan chan<- Progress),
		rmEventChan:  make(chan chan<- Progress),
		closing:      make(chan struct{}),
	}

	snap, err := c.loadSnapshot(context.Background())
	if err != nil {
		return nil, fmt.Errorf("cannot load persisted cache: %w", err)
	}
	if snap != nil {
		c.read.Store(newView(snap))
	}

	go c.distributeEvents()

	if opts.refreshIn != 0 {
		c.refreshTimer = time.AfterFunc(opts.refreshIn, func() {
			c.needsRefresh.Store(true)
		})
	}

	return c, nil
}

// Close stops the refresh timer and the progress distribution goroutine,
// closing any attached listener channels.
func (c *Cache) Close() {
	c.closeOnce.Do(func() {
		if c.refreshTimer != nil {
			c.refreshTimer.Stop()
		}
		close(c.closing)
	})
}

// Build runs one full cache rebuild: acquire a token, fetch the three
// account-level collections, derive the company↔project associations,
// assemble both trees, persist them with one shared timestamp, and publish
// the new generation for readers. On failure the previous generation remains
// readable and keeps its timestamp.
func (c *Cache) Build(ctx context.Context) (*Snapshot, error) {
	select {
	case c.buildLock <- struct{}{}:
	default:
		return nil, ErrBuildInProgress
	}
	defer func() {
		<-c.buildLock
	}()

	tok, err := c.tsrc.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot acquire token: %w", err)
	}
	if tok.AccountID == "" {
		return nil, ErrNoAccountID
	}

	// The three account-level fetches have no ordering dependency. Any
	// failure here is fatal to this attempt.
	var companies []orgapi.Company
	var users []orgapi.User
	var projects []orgapi.Project
	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		c.notify(Progress{Step: "fetching", Detail: "companies"})
		var err error
		companies, err = c.dir.Companies(gctx, tok)
		return err
	})
	grp.Go(func() error {
		c.notify(Progress{Step: "fetching", Detail: "users"})
		var err error
		users, err = c.dir.Users(gctx, tok)
		return err
	})
	grp.Go(func() error {
		c.notify(Progress{Step: "fetching", Detail: "projects"})
		var err error
		projects, err = c.dir.Projects(gctx, tok)
		return err
	})
	if err = grp.Wait(); err != nil {
		return nil, err
	}

	assoc := c.mapAssociations(ctx, tok, projects)

	c.notify(Progress{Step: "assembling"})
	companyCache, projectCache := assemble(companies, users, projects, assoc)

	snap := &Snapshot{
		Companies: companyCache,
		Projects:  projectCache,
		BuiltAt:   time.Now(),
	}
	if err = c.persistSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("cannot persist cache: %w", err)
	}
	c.read.Store(newView(snap))

	c.notify(Progress{
		Step:   "done",
		Detail: fmt.Sprintf("companies=%d users=%d projects=%d", len(companyCache), len(users), len(projectCache)),
	})
	return snap, nil
}

// Companies returns the company-rooted tree of the current generation.
func (c *Cache) Companies() []CompanyEntry {
	return c.loadView().companies
}

// Projects returns the project-rooted tree of the current generation.
func (c *Cache) Projects() []ProjectEntry {
	return c.loadView().projects
}

// Company returns the entry for a company uuid, or nil if not cached.
func (c *Cache) Company(uuid string) *CompanyEntry {
	return c.loadView().companyByID[uuid]
}

// Project returns the entry for a project uuid, or nil if not cached.
func (c *Cache) Project(uuid string) *ProjectEntry {
	return c.loadView().projectByID[uuid]
}

// BuiltAt returns the current generation's timestamp, zero if no build has
// succeeded and nothing was persisted.
func (c *Cache) BuiltAt() time.Time {
	return c.builtAt()
}

// Stale reports whether the current generation is old enough for the
// automatic rebuild policy. Manual Build calls bypass this check.
func (c *Cache) Stale() bool {
	return IsStale(c.builtAt(), time.Now(), c.maxAge)
}

func (c *Cache) builtAt() time.Time {
	if v := c.read.Load(); v != nil {
		return v.builtAt
	}
	return time.Time{}
}

// loadView returns the current read state. If the refresh interval elapsed,
// a background rebuild starts, but only when the staleness policy says the
// generation is too old. The timer only raises a flag checked here, so an
// idle cache does no background work; the interval is a rough cadence, not a
// guarantee.
func (c *Cache) loadView() view {
	if c.refreshTimer != nil && c.needsRefresh.CompareAndSwap(true, false) {
		go func() {
			if IsStale(c.builtAt(), time.Now(), c.maxAge) {
				if _, err := c.Build(context.Background()); err != nil && !errors.Is(err, ErrBuildInProgress) {
					log.Errorw("Scheduled cache rebuild failed", "err", err)
				}
			}
			c.refreshTimer.Reset(c.refreshIn)
		}()
	}

	if v := c.read.Load(); v != nil {
		return *v
	}
	return view{}
}

func newView(snap *Snapshot) *view {
	v := &view{
		companies:   snap.Companies,
		projects:    snap.Projects,
		companyByID: make(map[string]*CompanyEntry, len(snap.Companies)),
		projectByID: make(map[string]*ProjectEntry, len(snap.Projects)),
		builtAt:     snap.BuiltAt,
	}
	for i := range snap.Companies {
		v.companyByID[snap.Companies[i].UUID] = &snap.Companies[i]
	}
	for i := range snap.Projects {
		v.projectByID[snap.Projects[i].UUID] = &snap.Projects[i]
	}
	return v
}

// persistSnapshot writes both trees and both timestamps in a single batch
// commit, so a reader of the datastore never observes trees from different
// generations.
func (c *Cache) persistSnapshot(ctx context.Context, snap *Snapshot) error {
	companiesData, err := json.Marshal(snap.Companies)
	if err != nil {
		return err
	}
	projectsData, err := json.Marshal(snap.Projects)
	if err != nil {
		return err
	}
	ts := []byte(strconv.FormatInt(epochMillis(snap.BuiltAt), 10))

	batch, err := c.dstore.Batch(ctx)
	if err != nil {
		return err
	}
	if err = batch.Put(ctx, companiesCacheKey, companiesData); err != nil {
		return err
	}
	if err = batch.Put(ctx, companiesCacheTsKey, ts); err != nil {
		return err
	}
	if err = batch.Put(ctx, projectsCacheKey, projectsData); err != nil {
		return err
	}
	if err = batch.Put(ctx, projectsCacheTsKey, ts); err != nil {
		return err
	}
	return batch.Commit(ctx)
}

// loadSnapshot reads the persisted generation, returning nil when none was
// ever written.
func (c *Cache) loadSnapshot(ctx context.Context) (*Snapshot, error) {
	companiesData, err := c.dstore.Get(ctx, companiesCacheKey)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	projectsData, err := c.dstore.Get(ctx, projectsCacheKey)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	tsData, err := c.dstore.Get(ctx, companiesCacheTsKey)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	ms, err := strconv.ParseInt(string(tsData), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("cannot parse cache timestamp: %w", err)
	}

	var snap Snapshot
	if err = json.Unmarshal(companiesData, &snap.Companies); err != nil {
		return nil, err
	}
	if err = json.Unmarshal(projectsData, &snap.Projects); err != nil {
		return nil, err
	}
	snap.BuiltAt = fromEpochMillis(ms)
	return &snap, nil
}
