package github

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	gogithub "github.com/google/go-github/v68/github"

	"github.com/coderush/cli/internal/logging"
)

// Installation is an installation of the GitHub App visible to a user token
type Installation struct {
	ID           int64
	AccountLogin string
}

// InstallationAuthorizer checks whether the GitHub App is installed for an
// organization. Results are never cached; installation state can change
// between commands.
type InstallationAuthorizer struct {
	httpClient *http.Client
	baseURL    string
}

// NewInstallationAuthorizer creates an authorizer that queries baseURL
// through httpClient.
func NewInstallationAuthorizer(httpClient *http.Client, baseURL string) *InstallationAuthorizer {
	return &InstallationAuthorizer{
		httpClient: httpClient,
		baseURL:    baseURL,
	}
}

// Installation returns the installation whose account login matches
// organization case-insensitively, or nil when there is none.
func (a *InstallationAuthorizer) Installation(ctx context.Context, organization, token string) (*Installation, error) {
	client, err := NewClient(a.httpClient, a.baseURL, token)
	if err != nil {
		return nil, err
	}

	installations, _, err := client.Apps.ListUserInstallations(ctx, &gogithub.ListOptions{PerPage: 100})
	if err != nil {
		return nil, fmt.Errorf("failed to list app installations: %w", err)
	}

	for _, inst := range installations {
		login := inst.GetAccount().GetLogin()
		if strings.EqualFold(login, organization) {
			logging.Debug("github", "found installation %d for %s", inst.GetID(), login)
			return &Installation{ID: inst.GetID(), AccountLogin: login}, nil
		}
	}

	logging.Debug("github", "no installation among %d for %s", len(installations), organization)
	return nil, nil
}

// IsInstalled reports whether the app is installed for organization. An empty
// list or no match is false with a nil error; only transport and API
// failures return an error.
func (a *InstallationAuthorizer) IsInstalled(ctx context.Context, organization, token string) (bool, error) {
	inst, err := a.Installation(ctx, organization, token)
	if err != nil {
		return false, err
	}
	return inst != nil, nil
}
