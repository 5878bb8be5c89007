// Package token supplies bearer credentials for the upstream account API.
//
// A Source is called once per cache build. The refreshing implementation
// holds a token acquired from an OAuth token endpoint and replaces it when it
// is within five minutes of expiry, so callers never see a token about to
// lapse mid-build.
package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/orglens/go-orglens/apierror"
)

// expiryMargin is how close to expiry a token may get before it is replaced.
const expiryMargin = 5 * time.Minute

// Token is a bearer credential scoped to one account.
type Token struct {
	// Bearer is the value sent in the Authorization header.
	Bearer string
	// AccountID identifies the tenant the token is valid for.
	AccountID string
	// Expiry is when the token stops being accepted upstream.
	Expiry time.Time
}

// Source supplies a valid token, refreshing internally when needed.
type Source interface {
	Token(ctx context.Context) (Token, error)
}

// StaticSource is a Source that always returns the same token. It is intended
// for tests and for callers that manage credentials themselves.
type StaticSource struct {
	Tok Token
}

func (s StaticSource) Token(ctx context.Context) (Token, error) {
	return s.Tok, nil
}

// RefreshingSource is a Source backed by an OAuth token endpoint. It caches
// the last issued token and exchanges the refresh token for a new one when
// the cached token is within the expiry margin.
type RefreshingSource struct {
	endpoint     *url.URL
	refreshToken string
	client       *http.Client

	mutex sync.Mutex
	tok   Token
}

// NewRefreshingSource creates a RefreshingSource that posts refresh grants to
// endpointURL. If client is nil a retrying HTTP client is used.
func NewRefreshingSource(endpointURL, refreshToken string, client *http.Client) (*RefreshingSource, error) {
	u, err := url.Parse(endpointURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("url must have http or https scheme: %s", endpointURL)
	}
	if refreshToken == "" {
		return nil, errors.New("no refresh token")
	}

	if client == nil {
		rclient := &retryablehttp.Client{
			HTTPClient: &http.Client{
				Timeout: 10 * time.Second,
			},
			RetryWaitMin: time.Second,
			RetryWaitMax: 10 * time.Second,
			RetryMax:     3,
			CheckRetry:   retryablehttp.DefaultRetryPolicy,
			Backoff:      retryablehttp.DefaultBackoff,
		}
		client = rclient.StandardClient()
	}

	return &RefreshingSource{
		endpoint:     u,
		refreshToken: refreshToken,
		client:       client,
	}, nil
}

// Token returns the cached token, exchanging the refresh token for a new one
// if the cached token is absent or within the expiry margin.
func (s *RefreshingSource) Token(ctx context.Context) (Token, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.tok.Bearer != "" && time.Until(s.tok.Expiry) > expiryMargin {
		return s.tok, nil
	}

	tok, err := s.refresh(ctx)
	if err != nil {
		return Token{}, fmt.Errorf("cannot refresh token: %w", err)
	}
	s.tok = tok
	return tok, nil
}

func (s *RefreshingSource) refresh(ctx context.Context) (Token, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {s.refreshToken},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Add("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Token{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Token{}, err
	}

	if resp.StatusCode != http.StatusOK {
		return Token{}, apierror.FromResponse(resp.StatusCode, body)
	}

	var issued struct {
		AccessToken string `json:"access_token"`
		AccountID   string `json:"account_id"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err = json.Unmarshal(body, &issued); err != nil {
		return Token{}, err
	}
	if issued.AccessToken == "" {
		return Token{}, errors.New("token endpoint returned no access token")
	}

	return Token{
		Bearer:    issued.AccessToken,
		AccountID: issued.AccountID,
		Expiry:    time.Now().Add(time.Duration(issued.ExpiresIn) * time.Second),
	}, nil
}
