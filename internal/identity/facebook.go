// Package identity verifies that an access token issued by the identity
// provider actually belongs to the user presenting it.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Verifier reports whether accessToken's subject matches userID.
type Verifier interface {
	Verify(ctx context.Context, userID, accessToken string) (bool, error)
}

// FacebookVerifier resolves the token against the Graph API: a valid token
// answers GET /me with the id of the user it was issued to.
type FacebookVerifier struct {
	baseURL string
	client  *http.Client
}

func NewFacebookVerifier(baseURL string) *FacebookVerifier {
	return &FacebookVerifier{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (v *FacebookVerifier) Verify(ctx context.Context, userID, accessToken string) (bool, error) {
	endpoint := fmt.Sprintf("%s/me?fields=id&access_token=%s", v.baseURL, url.QueryEscape(accessToken))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("build graph request: %w", err)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("call graph api: %w", err)
	}
	defer resp.Body.Close()

	// The graph API answers a bad token with a well-formed error body, not a
	// transport failure; that is a clean "no", not an upstream error.
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return false, nil
		}
		return false, fmt.Errorf("graph api status %d", resp.StatusCode)
	}

	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("decode graph response: %w", err)
	}
	if body.ID == "" {
		return false, fmt.Errorf("graph response missing id")
	}
	return body.ID == userID, nil
}
