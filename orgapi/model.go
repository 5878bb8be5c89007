package orgapi

import (
	"encoding/json"
	"strings"
)

// Company is a company record as served by the account API.
type Company struct {
	// ID is an opaque UUID-shaped identifier.
	ID string `json:"id"`
	// Name may be empty; display contexts fall back to ID.
	Name string `json:"name"`
}

// User is a user record as served by the account API. Field name variants in
// upstream responses (company_id vs companyId, first_name vs firstName) are
// normalized during decoding, so only these canonical fields exist past the
// fetcher boundary.
type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	// CompanyID links the user to their company, empty if unaffiliated.
	CompanyID string `json:"companyId"`
}

// Project is a project record as served by the account API.
type Project struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// Platform identifies the project type. Some platforms do not support
	// the per-project association endpoints.
	Platform string `json:"platform"`
}

// DisplayName returns the user's name for display: the trimmed Name when
// non-empty, otherwise the trimmed first and last names joined with a single
// space. The result may be empty but is never absent.
func (u User) DisplayName() string {
	name := strings.TrimSpace(u.Name)
	if name != "" {
		return name
	}
	return strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
}

func (u *User) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID           string `json:"id"`
		Name         string `json:"name"`
		FirstName    string `json:"firstName"`
		FirstNameSep string `json:"first_name"`
		LastName     string `json:"lastName"`
		LastNameSep  string `json:"last_name"`
		Email        string `json:"email"`
		CompanyID    string `json:"companyId"`
		CompanyIDSep string `json:"company_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	u.ID = raw.ID
	u.Name = raw.Name
	u.FirstName = firstNonEmpty(raw.FirstName, raw.FirstNameSep)
	u.LastName = firstNonEmpty(raw.LastName, raw.LastNameSep)
	u.Email = raw.Email
	u.CompanyID = firstNonEmpty(raw.CompanyID, raw.CompanyIDSep)
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
