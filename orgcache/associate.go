package orgcache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"github.com/orglens/go-orglens/orgapi"
	"github.com/orglens/go-orglens/token"
	"golang.org/x/sync/errgroup"
)

// mapAssociations derives the company↔project relation, which the upstream
// API does not expose directly, by querying the two per-project endpoints
// for every project. This is O(projects) round-trips and dominates the cost
// of a build, so fetches run with bounded concurrency.
//
// A failed per-project fetch never aborts the build: that project degrades
// to no companies / no members for this generation. Some project platforms
// do not support these endpoints at all, and the build must get past them.
// Failures are logged in aggregate, not surfaced to the caller.
func (c *Cache) mapAssociations(ctx context.Context, tok token.Token, projects []orgapi.Project) associations {
	assoc := newAssociations()

	var mutex sync.Mutex
	var errs error
	var done atomic.Int32

	var grp errgroup.Group
	grp.SetLimit(c.batchSize)
	for _, project := range projects {
		if project.ID == "" {
			continue
		}
		project := project
		grp.Go(func() error {
			projectCompanies, err := c.dir.ProjectCompanies(ctx, tok, project.ID)
			if err != nil {
				mutex.Lock()
				errs = multierror.Append(errs, fmt.Errorf("project %s companies: %w", project.ID, err))
				mutex.Unlock()
				projectCompanies = nil
			}
			projectMembers, err := c.dir.ProjectMembers(ctx, tok, project.ID)
			if err != nil {
				mutex.Lock()
				errs = multierror.Append(errs, fmt.Errorf("project %s members: %w", project.ID, err))
				mutex.Unlock()
				projectMembers = nil
			}

			mutex.Lock()
			for _, company := range projectCompanies {
				if company.ID != "" {
					assoc.add(company.ID, project.ID)
				}
			}
			assoc.projectMembers[project.ID] = projectMembers
			mutex.Unlock()

			c.notify(Progress{
				Step:   "mapping",
				Detail: fmt.Sprintf("project %d of %d", done.Add(1), len(projects)),
			})
			return nil
		})
	}
	grp.Wait()

	if errs != nil {
		log.Errorw("Some project association fetches failed, projects degraded to empty associations", "err", errs)
	}
	return assoc
}
