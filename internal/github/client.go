package github

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	gogithub "github.com/google/go-github/v68/github"
)

// NewClient returns a go-github client that sends through httpClient and
// authenticates with token. baseURL may be empty for the public API.
func NewClient(httpClient *http.Client, baseURL, token string) (*gogithub.Client, error) {
	client := gogithub.NewClient(httpClient)
	if baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub API URL %q: %w", baseURL, err)
		}
		if !strings.HasSuffix(u.Path, "/") {
			u.Path += "/"
		}
		client.BaseURL = u
	}
	if token != "" {
		client = client.WithAuthToken(token)
	}
	return client, nil
}
