package test

import (
	"fmt"
	"math/rand"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/orglens/go-orglens/orgapi"
)

var globalSeed atomic.Int64

var platforms = []string{"web", "mobile", "server", "desktop"}

// RandomCompanies returns n companies with unique ids and readable names.
func RandomCompanies(n int) []orgapi.Company {
	rng := rand.New(rand.NewSource(globalSeed.Add(1)))
	companies := make([]orgapi.Company, n)
	for i := range companies {
		companies[i] = orgapi.Company{
			ID:   uuid.NewString(),
			Name: fmt.Sprintf("Company %04d", rng.Intn(10000)),
		}
	}
	return companies
}

// RandomUsers returns n users spread across the given companies.
func RandomUsers(n int, companies []orgapi.Company) []orgapi.User {
	rng := rand.New(rand.NewSource(globalSeed.Add(1)))
	users := make([]orgapi.User, n)
	for i := range users {
		id := uuid.NewString()
		users[i] = orgapi.User{
			ID:        id,
			FirstName: fmt.Sprintf("First%d", rng.Intn(1000)),
			LastName:  fmt.Sprintf("Last%d", rng.Intn(1000)),
			Email:     id[:8] + "@example.com",
		}
		if len(companies) != 0 {
			users[i].CompanyID = companies[rng.Intn(len(companies))].ID
		}
	}
	return users
}

// RandomProjects returns n projects with unique ids and assorted platforms.
func RandomProjects(n int) []orgapi.Project {
	rng := rand.New(rand.NewSource(globalSeed.Add(1)))
	projects := make([]orgapi.Project, n)
	for i := range projects {
		projects[i] = orgapi.Project{
			ID:       uuid.NewString(),
			Name:     fmt.Sprintf("Project %04d", rng.Intn(10000)),
			Platform: platforms[rng.Intn(len(platforms))],
		}
	}
	return projects
}
