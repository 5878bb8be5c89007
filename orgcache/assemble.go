package orgcache

import (
	"sort"
	"strings"

	"github.com/orglens/go-orglens/orgapi"
)

// associations holds the two indexes produced by the association mapper:
// which projects each company is associated with, and each project's full
// member roster. They live for the duration of one build and are discarded
// after assembly.
type associations struct {
	projectIDsByCompany map[string]map[string]struct{}
	projectMembers      map[string][]orgapi.User
}

func newAssociations() associations {
	return associations{
		projectIDsByCompany: make(map[string]map[string]struct{}),
		projectMembers:      make(map[string][]orgapi.User),
	}
}

func (a associations) add(companyID, projectID string) {
	set, ok := a.projectIDsByCompany[companyID]
	if !ok {
		set = make(map[string]struct{})
		a.projectIDsByCompany[companyID] = set
	}
	set[projectID] = struct{}{}
}

// assemble produces the two denormalized trees from the raw collections and
// the association indexes. Every list, nested or top-level, is sorted
// ascending by case-insensitive name, ties keeping fetch order. Entities
// without an id are dropped from the top level of both trees.
func assemble(companies []orgapi.Company, users []orgapi.User, projects []orgapi.Project, assoc associations) ([]CompanyEntry, []ProjectEntry) {
	companyNames := make(map[string]string, len(companies))
	for _, company := range companies {
		if company.ID != "" {
			companyNames[company.ID] = company.Name
		}
	}
	projectsByID := make(map[string]orgapi.Project, len(projects))
	for _, project := range projects {
		if project.ID != "" {
			projectsByID[project.ID] = project
		}
	}
	usersByCompany := make(map[string][]orgapi.User)
	for _, user := range users {
		if user.CompanyID != "" {
			usersByCompany[user.CompanyID] = append(usersByCompany[user.CompanyID], user)
		}
	}

	companyCache := make([]CompanyEntry, 0, len(companies))
	for _, company := range companies {
		if company.ID == "" {
			continue
		}
		entry := CompanyEntry{
			Name:     company.Name,
			UUID:     company.ID,
			Projects: []ProjectRef{},
			Users:    []Member{},
		}
		for _, user := range usersByCompany[company.ID] {
			entry.Users = append(entry.Users, Member{
				Name:  user.DisplayName(),
				UUID:  user.ID,
				Email: user.Email,
			})
		}
		sortMembers(entry.Users)

		// Sort the id set first so the pre-sort order is deterministic, then
		// re-sort by resolved name once the refs are built.
		projectIDs := make([]string, 0, len(assoc.projectIDsByCompany[company.ID]))
		for projectID := range assoc.projectIDsByCompany[company.ID] {
			projectIDs = append(projectIDs, projectID)
		}
		sort.Strings(projectIDs)
		for _, projectID := range projectIDs {
			project := projectsByID[projectID]
			ref := ProjectRef{
				Name:     project.Name,
				UUID:     projectID,
				Platform: project.Platform,
				Members:  []Member{},
			}
			// Only this project's members who also belong to this company.
			for _, user := range assoc.projectMembers[projectID] {
				if user.CompanyID == company.ID {
					ref.Members = append(ref.Members, Member{
						Name:  user.DisplayName(),
						UUID:  user.ID,
						Email: user.Email,
					})
				}
			}
			sortMembers(ref.Members)
			entry.Projects = append(entry.Projects, ref)
		}
		sortByName(entry.Projects, func(r ProjectRef) string { return r.Name })

		companyCache = append(companyCache, entry)
	}
	sortByName(companyCache, func(e CompanyEntry) string { return e.Name })

	projectCache := make([]ProjectEntry, 0, len(projects))
	for _, project := range projects {
		if project.ID == "" {
			continue
		}
		entry := ProjectEntry{
			Name:      project.Name,
			UUID:      project.ID,
			Platform:  project.Platform,
			Members:   []Member{},
			Companies: []CompanyRef{},
		}
		for _, user := range assoc.projectMembers[project.ID] {
			entry.Members = append(entry.Members, Member{
				Name:      user.DisplayName(),
				UUID:      user.ID,
				Email:     user.Email,
				CompanyID: user.CompanyID,
			})
		}
		sortMembers(entry.Members)

		// Reverse-index scan: companies in fetch order first so name ties
		// keep that order, then any associated company ids absent from the
		// companies collection, by id. An unresolvable id gets an empty name
		// rather than failing the build.
		seen := make(map[string]struct{})
		for _, company := range companies {
			if company.ID == "" {
				continue
			}
			if _, ok := assoc.projectIDsByCompany[company.ID][project.ID]; ok {
				entry.Companies = append(entry.Companies, CompanyRef{
					Name: company.Name,
					UUID: company.ID,
				})
				seen[company.ID] = struct{}{}
			}
		}
		var orphans []string
		for companyID, projectIDs := range assoc.projectIDsByCompany {
			if _, ok := seen[companyID]; ok {
				continue
			}
			if _, ok := projectIDs[project.ID]; ok {
				orphans = append(orphans, companyID)
			}
		}
		sort.Strings(orphans)
		for _, companyID := range orphans {
			entry.Companies = append(entry.Companies, CompanyRef{
				Name: companyNames[companyID],
				UUID: companyID,
			})
		}
		sortByName(entry.Companies, func(r CompanyRef) string { return r.Name })

		projectCache = append(projectCache, entry)
	}
	sortByName(projectCache, func(e ProjectEntry) string { return e.Name })

	return companyCache, projectCache
}

func sortMembers(members []Member) {
	sortByName(members, func(m Member) string { return m.Name })
}

// sortByName sorts ascending by case-insensitive name. The sort is stable so
// equal names keep their existing order.
func sortByName[T any](items []T, name func(T) string) {
	sort.SliceStable(items, func(i, j int) bool {
		return strings.ToLower(name(items[i])) < strings.ToLower(name(items[j]))
	})
}
