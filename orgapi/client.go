// Package orgapi is an HTTP client for the account directory API. It fetches
// the three account-level collections (companies, users, projects) and the
// two per-project association collections (companies, members), walking the
// API's offset/limit pagination and concatenating pages in request order.
package orgapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	logging "github.com/ipfs/go-log/v2"
	"github.com/orglens/go-orglens/apierror"
	"github.com/orglens/go-orglens/token"
)

var log = logging.Logger("orgapi")

const (
	accountsPath = "accounts"
	projectsPath = "projects"
)

// Client is an http client for the account directory API.
type Client struct {
	c           *http.Client
	accountsURL *url.URL
	projectsURL *url.URL
	pageLimit   int
}

// New creates a new directory API client for the given base URL.
func New(baseURL string, options ...Option) (*Client, error) {
	opts, err := getOpts(options)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("url must have http or https scheme: %s", baseURL)
	}
	u.Path = ""

	return &Client{
		c:           opts.httpClient,
		accountsURL: u.JoinPath(accountsPath),
		projectsURL: u.JoinPath(projectsPath),
		pageLimit:   opts.pageLimit,
	}, nil
}

// Companies fetches every company in the token's account.
func (c *Client) Companies(ctx context.Context, tok token.Token) ([]Company, error) {
	u := c.accountsURL.JoinPath(tok.AccountID, "companies")
	return fetchPages[Company](ctx, c, u, tok.Bearer, false)
}

// Users fetches every user in the token's account.
func (c *Client) Users(ctx context.Context, tok token.Token) ([]User, error) {
	u := c.accountsURL.JoinPath(tok.AccountID, "users")
	return fetchPages[User](ctx, c, u, tok.Bearer, false)
}

// Projects fetches every project in the token's account.
func (c *Client) Projects(ctx context.Context, tok token.Token) ([]Project, error) {
	u := c.accountsURL.JoinPath(tok.AccountID, "projects")
	return fetchPages[Project](ctx, c, u, tok.Bearer, false)
}

// ProjectCompanies fetches the companies associated with a single project.
// Unlike the account-level fetchers, a non-success response ends the page
// loop and returns whatever was collected, because the endpoint is not
// supported for every project platform.
func (c *Client) ProjectCompanies(ctx context.Context, tok token.Token, projectID string) ([]Company, error) {
	u := c.projectsURL.JoinPath(projectID, "companies")
	return fetchPages[Company](ctx, c, u, tok.Bearer, true)
}

// ProjectMembers fetches the member roster of a single project, with the same
// tolerant policy as ProjectCompanies.
func (c *Client) ProjectMembers(ctx context.Context, tok token.Token, projectID string) ([]User, error) {
	u := c.projectsURL.JoinPath(projectID, "members")
	return fetchPages[User](ctx, c, u, tok.Bearer, true)
}

// fetchPages walks a paginated collection with an offset/limit cursor. The
// loop stops when a page comes back empty or shorter than the requested
// limit. With tolerant set, a non-success status ends the loop and returns
// the pages collected so far instead of an error.
func fetchPages[T any](ctx context.Context, c *Client, u *url.URL, bearer string, tolerant bool) ([]T, error) {
	var out []T
	for offset := 0; ; offset += c.pageLimit {
		page, err := fetchPage[T](ctx, c, u, bearer, offset, tolerant)
		if err != nil {
			return nil, err
		}
		if page == nil {
			// Tolerant termination; keep what was collected.
			return out, nil
		}
		out = append(out, page...)
		if len(page) < c.pageLimit {
			return out, nil
		}
	}
}

// fetchPage requests one page. A nil slice with nil error signals tolerant
// termination of the page loop.
func fetchPage[T any](ctx context.Context, c *Client, u *url.URL, bearer string, offset int, tolerant bool) ([]T, error) {
	pu := *u
	q := pu.Query()
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(c.pageLimit))
	pu.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pu.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Add("Accept", "application/json")

	resp, err := c.c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		if tolerant {
			log.Debugw("Endpoint unavailable, ending page loop", "url", u.String(), "status", resp.StatusCode)
			return nil, nil
		}
		return nil, apierror.FromResponse(resp.StatusCode, body)
	}

	page := []T{}
	if err = json.Unmarshal(body, &page); err != nil {
		return nil, err
	}
	return page, nil
}
