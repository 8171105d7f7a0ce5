package github

import (
	"os"

	"golang.org/x/oauth2"
	oauthgithub "golang.org/x/oauth2/github"
)

// Coderush GitHub App
const (
	AppID         = "1071835"
	AppURL        = "https://github.com/apps/coderush-cli"
	ClientID      = "Iv23lisxb4fR8T6J6757"
	DeviceURL     = "https://github.com/login/device"
	DefaultAPIURL = "https://api.github.com/"
)

const (
	clientIDEnv = "CODERUSH_GITHUB_CLIENT_ID"
	apiURLEnv   = "GITHUB_API_URL"
)

// ClientIDFromEnv returns CODERUSH_GITHUB_CLIENT_ID, or the app's client id.
func ClientIDFromEnv() string {
	if id := os.Getenv(clientIDEnv); id != "" {
		return id
	}
	return ClientID
}

// APIURLFromEnv returns GITHUB_API_URL, or the public API URL.
func APIURLFromEnv() string {
	if u := os.Getenv(apiURLEnv); u != "" {
		return u
	}
	return DefaultAPIURL
}

// Endpoint is GitHub's OAuth endpoint, including the device authorization URL.
func Endpoint() oauth2.Endpoint {
	return oauthgithub.Endpoint
}
