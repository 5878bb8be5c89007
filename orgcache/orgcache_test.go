package orgcache_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/orglens/go-orglens/orgapi"
	"github.com/orglens/go-orglens/orgcache"
	"github.com/orglens/go-orglens/token"
	"github.com/stretchr/testify/require"
)

var testTok = token.Token{Bearer: "bearer-1", AccountID: "acct-1"}

type mockDirectory struct {
	companies []orgapi.Company
	users     []orgapi.User
	projects  []orgapi.Project

	projectCompanies map[string][]orgapi.Company
	projectMembers   map[string][]orgapi.User

	companiesErr        error
	projectCompaniesErr map[string]error
	projectMembersErr   map[string]error

	// companiesGate, when non-nil, blocks Companies until released; started
	// is closed once Companies has been entered.
	companiesGate chan struct{}
	started       chan struct{}

	callCompanies atomic.Int32
}

func (d *mockDirectory) Companies(ctx context.Context, tok token.Token) ([]orgapi.Company, error) {
	d.callCompanies.Add(1)
	if d.started != nil {
		close(d.started)
		d.started = nil
	}
	if d.companiesGate != nil {
		<-d.companiesGate
	}
	if d.companiesErr != nil {
		return nil, d.companiesErr
	}
	return d.companies, nil
}

func (d *mockDirectory) Users(ctx context.Context, tok token.Token) ([]orgapi.User, error) {
	return d.users, nil
}

func (d *mockDirectory) Projects(ctx context.Context, tok token.Token) ([]orgapi.Project, error) {
	return d.projects, nil
}

func (d *mockDirectory) ProjectCompanies(ctx context.Context, tok token.Token, projectID string) ([]orgapi.Company, error) {
	if err := d.projectCompaniesErr[projectID]; err != nil {
		return nil, err
	}
	return d.projectCompanies[projectID], nil
}

func (d *mockDirectory) ProjectMembers(ctx context.Context, tok token.Token, projectID string) ([]orgapi.User, error) {
	if err := d.projectMembersErr[projectID]; err != nil {
		return nil, err
	}
	return d.projectMembers[projectID], nil
}

func newTestCache(t *testing.T, dir orgcache.Directory, options ...orgcache.Option) *orgcache.Cache {
	t.Helper()
	options = append([]orgcache.Option{
		orgcache.WithDirectory(dir),
		orgcache.WithTokenSource(token.StaticSource{Tok: testTok}),
		orgcache.WithRefreshInterval(0),
	}, options...)
	c, err := orgcache.New(options...)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestEndToEnd(t *testing.T) {
	dir := &mockDirectory{
		companies: []orgapi.Company{{ID: "c1", Name: "Acme"}},
		users:     []orgapi.User{{ID: "u1", Name: "Jo", CompanyID: "c1"}},
		projects:  []orgapi.Project{{ID: "p1", Name: "Tower"}},
		projectCompanies: map[string][]orgapi.Company{
			"p1": {{ID: "c1"}},
		},
		projectMembers: map[string][]orgapi.User{
			"p1": {{ID: "u1", Name: "Jo", CompanyID: "c1"}},
		},
	}
	c := newTestCache(t, dir)

	snap, err := c.Build(context.Background())
	require.NoError(t, err)

	require.Equal(t, []orgcache.CompanyEntry{{
		Name: "Acme",
		UUID: "c1",
		Projects: []orgcache.ProjectRef{{
			Name:     "Tower",
			UUID:     "p1",
			Platform: "",
			Members:  []orgcache.Member{{Name: "Jo", UUID: "u1", Email: ""}},
		}},
		Users: []orgcache.Member{{Name: "Jo", UUID: "u1", Email: ""}},
	}}, snap.Companies)

	require.Equal(t, []orgcache.ProjectEntry{{
		Name:      "Tower",
		UUID:      "p1",
		Platform:  "",
		Members:   []orgcache.Member{{Name: "Jo", UUID: "u1", Email: "", CompanyID: "c1"}},
		Companies: []orgcache.CompanyRef{{Name: "Acme", UUID: "c1"}},
	}}, snap.Projects)

	// Lookups serve the new generation.
	require.Equal(t, &snap.Companies[0], c.Company("c1"))
	require.Equal(t, &snap.Projects[0], c.Project("p1"))
	require.Nil(t, c.Company("missing"))
	require.False(t, snap.BuiltAt.IsZero())
	require.Equal(t, snap.BuiltAt, c.BuiltAt())
}

func TestSortCaseInsensitive(t *testing.T) {
	dir := &mockDirectory{
		companies: []orgapi.Company{
			{ID: "c1", Name: "bravo"},
			{ID: "c2", Name: "Alpha"},
			{ID: "c3", Name: "charlie"},
		},
	}
	c := newTestCache(t, dir)

	snap, err := c.Build(context.Background())
	require.NoError(t, err)

	names := make([]string, len(snap.Companies))
	for i, entry := range snap.Companies {
		names[i] = entry.Name
	}
	require.Equal(t, []string{"Alpha", "bravo", "charlie"}, names)
}

func TestReverseIndexAgreement(t *testing.T) {
	dir := &mockDirectory{
		companies: []orgapi.Company{
			{ID: "c1", Name: "Acme"},
			{ID: "c2", Name: "Globex"},
			{ID: "c3", Name: "Initech"},
		},
		projects: []orgapi.Project{
			{ID: "p1", Name: "Tower"},
			{ID: "p2", Name: "Bridge"},
			{ID: "p3", Name: "Quarry"},
		},
		projectCompanies: map[string][]orgapi.Company{
			"p1": {{ID: "c1"}, {ID: "c2"}},
			"p2": {{ID: "c2"}},
		},
	}
	c := newTestCache(t, dir)

	snap, err := c.Build(context.Background())
	require.NoError(t, err)

	companyHasProject := make(map[[2]string]bool)
	for _, company := range snap.Companies {
		for _, project := range company.Projects {
			companyHasProject[[2]string{company.UUID, project.UUID}] = true
		}
	}
	projectHasCompany := make(map[[2]string]bool)
	for _, project := range snap.Projects {
		for _, company := range project.Companies {
			projectHasCompany[[2]string{company.UUID, project.UUID}] = true
		}
	}
	require.Equal(t, companyHasProject, projectHasCompany)
	require.True(t, companyHasProject[[2]string{"c1", "p1"}])
	require.True(t, companyHasProject[[2]string{"c2", "p2"}])
	require.False(t, companyHasProject[[2]string{"c3", "p3"}])
}

func TestMemberIntersection(t *testing.T) {
	users := []orgapi.User{
		{ID: "u1", Name: "Ada", CompanyID: "c1"},
		{ID: "u2", Name: "Ben", CompanyID: "c1"},
		{ID: "u3", Name: "Cat", CompanyID: "c2"},
	}
	dir := &mockDirectory{
		companies: []orgapi.Company{{ID: "c1", Name: "Acme"}, {ID: "c2", Name: "Globex"}},
		users:     users,
		projects:  []orgapi.Project{{ID: "p1", Name: "Tower"}},
		projectCompanies: map[string][]orgapi.Company{
			"p1": {{ID: "c1"}, {ID: "c2"}},
		},
		projectMembers: map[string][]orgapi.User{
			// u2 is not on the project; u3 belongs to the other company.
			"p1": {users[0], users[2]},
		},
	}
	c := newTestCache(t, dir)

	snap, err := c.Build(context.Background())
	require.NoError(t, err)

	acme := snap.Companies[0]
	require.Equal(t, "Acme", acme.Name)
	require.Len(t, acme.Projects, 1)
	require.Equal(t, []orgcache.Member{{Name: "Ada", UUID: "u1"}}, acme.Projects[0].Members)

	// The company roster is independent of project membership.
	require.Len(t, acme.Users, 2)

	// The full project roster retains company ids for reverse filtering.
	require.Equal(t, []orgcache.Member{
		{Name: "Ada", UUID: "u1", CompanyID: "c1"},
		{Name: "Cat", UUID: "u3", CompanyID: "c2"},
	}, snap.Projects[0].Members)
}

func TestIdempotentRebuild(t *testing.T) {
	companies := []orgapi.Company{{ID: "c1", Name: "Acme"}, {ID: "c2", Name: "Globex"}}
	dir := &mockDirectory{
		companies: companies,
		users: []orgapi.User{
			{ID: "u1", FirstName: "Jo", LastName: "Smith", CompanyID: "c1"},
			{ID: "u2", FirstName: "Al", LastName: "Jones", CompanyID: "c2"},
		},
		projects: []orgapi.Project{{ID: "p1", Name: "Tower", Platform: "web"}},
		projectCompanies: map[string][]orgapi.Company{
			"p1": {{ID: "c1"}, {ID: "c2"}},
		},
		projectMembers: map[string][]orgapi.User{
			"p1": {{ID: "u1", FirstName: "Jo", LastName: "Smith", CompanyID: "c1"}},
		},
	}
	c := newTestCache(t, dir)

	first, err := c.Build(context.Background())
	require.NoError(t, err)
	second, err := c.Build(context.Background())
	require.NoError(t, err)

	require.Equal(t, first.Companies, second.Companies)
	require.Equal(t, first.Projects, second.Projects)
	require.False(t, second.BuiltAt.Before(first.BuiltAt))
}

func TestDroppedEntitiesWithoutID(t *testing.T) {
	dir := &mockDirectory{
		companies: []orgapi.Company{{ID: "", Name: "Ghost"}, {ID: "c1", Name: "Acme"}},
		projects:  []orgapi.Project{{ID: "", Name: "Phantom"}, {ID: "p1", Name: "Tower"}},
	}
	c := newTestCache(t, dir)

	snap, err := c.Build(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Companies, 1)
	require.Equal(t, "c1", snap.Companies[0].UUID)
	require.Len(t, snap.Projects, 1)
	require.Equal(t, "p1", snap.Projects[0].UUID)
}

func TestSingleFlight(t *testing.T) {
	dir := &mockDirectory{
		companies:     []orgapi.Company{{ID: "c1", Name: "Acme"}},
		companiesGate: make(chan struct{}),
		started:       make(chan struct{}),
	}
	started := dir.started
	c := newTestCache(t, dir)

	type result struct {
		snap *orgcache.Snapshot
		err  error
	}
	resChan := make(chan result)
	go func() {
		snap, err := c.Build(context.Background())
		resChan <- result{snap, err}
	}()

	<-started
	_, err := c.Build(context.Background())
	require.ErrorIs(t, err, orgcache.ErrBuildInProgress)

	// The losing call must not affect the first build.
	close(dir.companiesGate)
	res := <-resChan
	require.NoError(t, res.err)
	require.Len(t, res.snap.Companies, 1)

	// The flag is released after completion.
	_, err = c.Build(context.Background())
	require.NoError(t, err)
}

func TestPerProjectFailureTolerated(t *testing.T) {
	dir := &mockDirectory{
		companies: []orgapi.Company{{ID: "c1", Name: "Acme"}},
		projects: []orgapi.Project{
			{ID: "p1", Name: "Tower"},
			{ID: "p2", Name: "Bridge"},
		},
		projectCompanies: map[string][]orgapi.Company{
			"p1": {{ID: "c1"}},
			"p2": {{ID: "c1"}},
		},
		projectCompaniesErr: map[string]error{
			"p2": errors.New("endpoint unsupported for platform"),
		},
	}
	c := newTestCache(t, dir)

	snap, err := c.Build(context.Background())
	require.NoError(t, err)

	// The failed project is present with empty associations.
	bridge := c.Project("p2")
	require.NotNil(t, bridge)
	require.Empty(t, bridge.Companies)
	require.Empty(t, bridge.Members)

	// And no company's project list contains it.
	for _, company := range snap.Companies {
		for _, project := range company.Projects {
			require.NotEqual(t, "p2", project.UUID)
		}
	}
	require.Len(t, snap.Companies[0].Projects, 1)
}

func TestAccountFetchFailureKeepsPreviousGeneration(t *testing.T) {
	dir := &mockDirectory{
		companies: []orgapi.Company{{ID: "c1", Name: "Acme"}},
	}
	c := newTestCache(t, dir)

	first, err := c.Build(context.Background())
	require.NoError(t, err)

	dir.companiesErr = errors.New("upstream down")
	_, err = c.Build(context.Background())
	require.ErrorContains(t, err, "upstream down")

	// The previous generation stays readable with its timestamp.
	require.Equal(t, first.Companies, c.Companies())
	require.Equal(t, first.BuiltAt, c.BuiltAt())
}

func TestNoAccountID(t *testing.T) {
	c, err := orgcache.New(
		orgcache.WithDirectory(&mockDirectory{}),
		orgcache.WithTokenSource(token.StaticSource{Tok: token.Token{Bearer: "b"}}),
		orgcache.WithRefreshInterval(0),
	)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Build(context.Background())
	require.ErrorIs(t, err, orgcache.ErrNoAccountID)
}

func TestPersistedGenerationReload(t *testing.T) {
	ds := dssync.MutexWrap(datastore.NewMapDatastore())
	dir := &mockDirectory{
		companies: []orgapi.Company{{ID: "c1", Name: "Acme"}},
		projects:  []orgapi.Project{{ID: "p1", Name: "Tower"}},
	}
	c := newTestCache(t, dir, orgcache.WithDatastore(ds))

	snap, err := c.Build(context.Background())
	require.NoError(t, err)

	// Both timestamps are persisted and equal.
	companiesTs, err := ds.Get(context.Background(), datastore.NewKey("companiesCacheTimestamp"))
	require.NoError(t, err)
	projectsTs, err := ds.Get(context.Background(), datastore.NewKey("projectsCacheTimestamp"))
	require.NoError(t, err)
	require.Equal(t, companiesTs, projectsTs)

	// A new cache over the same datastore serves the persisted generation
	// without building.
	reloaded := newTestCache(t, &mockDirectory{}, orgcache.WithDatastore(ds))
	require.Equal(t, snap.Companies, reloaded.Companies())
	require.Equal(t, snap.Projects, reloaded.Projects())
	require.Equal(t, snap.BuiltAt.UnixMilli(), reloaded.BuiltAt().UnixMilli())
}

func TestProgressSequence(t *testing.T) {
	dir := &mockDirectory{
		companies: []orgapi.Company{{ID: "c1", Name: "Acme"}},
		users:     []orgapi.User{{ID: "u1", Name: "Jo", CompanyID: "c1"}},
		projects:  []orgapi.Project{{ID: "p1", Name: "Tower"}, {ID: "p2", Name: "Bridge"}},
	}
	c := newTestCache(t, dir)

	events, cancel := c.OnProgress()
	defer cancel()

	_, err := c.Build(context.Background())
	require.NoError(t, err)

	var steps []string
	var final orgcache.Progress
	for event := range events {
		steps = append(steps, event.Step)
		if event.Step == "done" {
			final = event
			break
		}
	}
	require.Equal(t, "done", steps[len(steps)-1])
	require.Contains(t, steps, "fetching")
	require.Contains(t, steps, "mapping")
	require.Contains(t, steps, "assembling")
	require.Equal(t, "companies=1 users=1 projects=2", final.Detail)

	count := func(step string) int {
		var n int
		for _, s := range steps {
			if s == step {
				n++
			}
		}
		return n
	}
	require.Equal(t, 3, count("fetching"))
	require.Equal(t, 2, count("mapping"))
}

func TestBuildWithoutListeners(t *testing.T) {
	dir := &mockDirectory{
		companies: []orgapi.Company{{ID: "c1", Name: "Acme"}},
		projects:  []orgapi.Project{{ID: "p1", Name: "Tower"}},
	}
	c := newTestCache(t, dir)

	// Nobody attached; notifications are dropped, not an error.
	_, err := c.Build(context.Background())
	require.NoError(t, err)
}

func TestAutomaticRefresh(t *testing.T) {
	dir := &mockDirectory{
		companies: []orgapi.Company{{ID: "c1", Name: "Acme"}},
	}
	c := newTestCache(t, dir,
		orgcache.WithRefreshInterval(10*time.Millisecond),
		orgcache.WithMaxAge(time.Millisecond),
	)

	_, err := c.Build(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(1), dir.callCompanies.Load())

	// After the interval elapses, a read access notices the stale
	// generation and rebuilds in the background.
	require.Eventually(t, func() bool {
		c.Companies()
		return dir.callCompanies.Load() > 1
	}, time.Second, 5*time.Millisecond)
}

func TestStaleness(t *testing.T) {
	now := time.Now()
	require.True(t, orgcache.IsStale(now.Add(-2*time.Hour-time.Millisecond), now, 2*time.Hour))
	require.False(t, orgcache.IsStale(now.Add(-2*time.Hour+time.Millisecond), now, 2*time.Hour))
	require.True(t, orgcache.IsStale(time.Time{}, now, 2*time.Hour))

	// The render-time hint threshold is a separate consumer of the same
	// timestamp.
	ts := now.Add(-3 * time.Hour)
	require.True(t, orgcache.IsStale(ts, now, orgcache.DefaultMaxAge))
	require.False(t, orgcache.IsStale(ts, now, orgcache.HintMaxAge))
}
