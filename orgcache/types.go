package orgcache

import "time"

// Member is a user projected into a cache tree. CompanyID is kept in the
// project-rooted tree for reverse filtering and omitted in the
// company-rooted tree, where the company is implied by nesting.
type Member struct {
	Name      string `json:"name"`
	UUID      string `json:"uuid"`
	Email     string `json:"email"`
	CompanyID string `json:"companyId,omitempty"`
}

// ProjectRef is a project embedded in a company entry. Its members are the
// intersection of the project's roster with the enclosing company, not the
// full roster.
type ProjectRef struct {
	Name     string   `json:"name"`
	UUID     string   `json:"uuid"`
	Platform string   `json:"platform"`
	Members  []Member `json:"members"`
}

// CompanyRef is a company embedded in a project entry. Members live at the
// project level, so the reference carries no roster.
type CompanyRef struct {
	Name string `json:"name"`
	UUID string `json:"uuid"`
}

// CompanyEntry is one entry of the company-rooted tree. Users is the full
// company roster, independent of project membership.
type CompanyEntry struct {
	Name     string       `json:"name"`
	UUID     string       `json:"uuid"`
	Projects []ProjectRef `json:"projects"`
	Users    []Member     `json:"users"`
}

// ProjectEntry is one entry of the project-rooted tree. Members is the full
// project roster and Companies every company associated with the project.
type ProjectEntry struct {
	Name      string       `json:"name"`
	UUID      string       `json:"uuid"`
	Platform  string       `json:"platform"`
	Members   []Member     `json:"members"`
	Companies []CompanyRef `json:"companies"`
}

// Snapshot is one cache generation: both trees built from a single fetch
// pass, sharing one timestamp. Generations are replaced wholesale, never
// mutated.
type Snapshot struct {
	Companies []CompanyEntry
	Projects  []ProjectEntry
	BuiltAt   time.Time
}
