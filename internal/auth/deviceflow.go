package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/coderush/cli/internal/logging"
)

const (
	// DefaultInterval is used when the provider does not send a polling interval
	DefaultInterval = 5 * time.Second
	// SlowDownPenalty is added to the next wait after a slow_down response
	SlowDownPenalty = 5 * time.Second

	deviceGrantType = "urn:ietf:params:oauth:grant-type:device_code"
)

// FlowState is a state of the device authorization flow
type FlowState int

const (
	StateRequestingCode FlowState = iota
	StatePolling
	StateSucceeded
	StateExpired
	StateDenied
	StateFailed
)

func (s FlowState) String() string {
	switch s {
	case StateRequestingCode:
		return "REQUESTING_CODE"
	case StatePolling:
		return "POLLING"
	case StateSucceeded:
		return "SUCCEEDED"
	case StateExpired:
		return "EXPIRED"
	case StateDenied:
		return "DENIED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

var (
	ErrExpired    = errors.New("device code expired")
	ErrDenied     = errors.New("authorization denied")
	ErrFlowFailed = errors.New("device authorization failed")
)

// FlowError is a terminal outcome of the device flow reported by the provider
// (or by the local deadline, when one is set).
type FlowError struct {
	State       FlowState
	Reason      string
	Description string
}

func (e *FlowError) Error() string {
	msg := fmt.Sprintf("authentication failed: %s", e.Reason)
	if e.Description != "" {
		msg += " - " + e.Description
	}
	return msg
}

// Is matches ErrExpired, ErrDenied or ErrFlowFailed according to State.
func (e *FlowError) Is(target error) bool {
	switch target {
	case ErrExpired:
		return e.State == StateExpired
	case ErrDenied:
		return e.State == StateDenied
	case ErrFlowFailed:
		return e.State == StateFailed
	}
	return false
}

// Display shows device flow progress to the operator
type Display interface {
	DeviceCode(da *oauth2.DeviceAuthResponse)
	Succeeded()
	Failed(err error)
}

// tokenResponse covers both the success payload and the error payload of
// the token endpoint.
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	Scope            string `json:"scope"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// DeviceFlow obtains a credential with the OAuth 2.0 device authorization grant.
type DeviceFlow struct {
	Config     oauth2.Config
	HTTPClient *http.Client
	Store      Store
	Display    Display

	// MaxWait bounds the polling phase locally. Zero leaves expiry entirely
	// to the provider's expired_token response.
	MaxWait time.Duration

	// Sleep waits between polls. It must return early with ctx.Err() when
	// ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error

	now func() time.Time
}

// NewDeviceFlow creates a device flow for clientID against endpoint. The
// endpoint must carry DeviceAuthURL and TokenURL.
func NewDeviceFlow(clientID string, endpoint oauth2.Endpoint, httpClient *http.Client, store Store, display Display) *DeviceFlow {
	return &DeviceFlow{
		Config: oauth2.Config{
			ClientID: clientID,
			Endpoint: endpoint,
		},
		HTTPClient: httpClient,
		Store:      store,
		Display:    display,
		Sleep:      sleepContext,
		now:        time.Now,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Authenticate runs the whole flow: request a device code, show it, poll
// until the provider settles, and persist the credential on success.
// Cancelling ctx aborts the flow and persists nothing.
func (f *DeviceFlow) Authenticate(ctx context.Context) (*Credential, error) {
	da, err := f.RequestCode(ctx)
	if err != nil {
		f.failed(err)
		return nil, err
	}

	if f.Display != nil {
		f.Display.DeviceCode(da)
	}

	cred, err := f.Poll(ctx, da)
	if err != nil {
		f.failed(err)
		return nil, err
	}

	if f.Store != nil {
		if err := f.Store.Save(cred); err != nil {
			return nil, fmt.Errorf("failed to save credential: %w", err)
		}
	}

	logging.Info("auth", "device flow %s", StateSucceeded)
	if f.Display != nil {
		f.Display.Succeeded()
	}
	return cred, nil
}

func (f *DeviceFlow) failed(err error) {
	logging.Warn("auth", "device flow ended: %v", err)
	if f.Display != nil {
		f.Display.Failed(err)
	}
}

// RequestCode asks the provider for a device and user code. Failures are not retried.
func (f *DeviceFlow) RequestCode(ctx context.Context) (*oauth2.DeviceAuthResponse, error) {
	logging.Debug("auth", "device flow %s", StateRequestingCode)
	if f.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, f.HTTPClient)
	}

	da, err := f.Config.DeviceAuth(ctx)
	if err != nil {
		return nil, fmt.Errorf("device code request failed: %w", err)
	}
	if da.DeviceCode == "" || da.UserCode == "" {
		return nil, fmt.Errorf("device code response is missing device_code or user_code")
	}
	return da, nil
}

// Poll exchanges the device code for a token. It polls immediately, then
// waits the provider interval after authorization_pending and the interval
// plus SlowDownPenalty after slow_down. The base interval never grows.
func (f *DeviceFlow) Poll(ctx context.Context, da *oauth2.DeviceAuthResponse) (*Credential, error) {
	logging.Debug("auth", "device flow %s", StatePolling)

	interval := time.Duration(da.Interval) * time.Second
	if interval <= 0 {
		interval = DefaultInterval
	}

	var deadline time.Time
	if f.MaxWait > 0 {
		deadline = f.timeNow().Add(f.MaxWait)
	}

	for {
		resp, err := f.exchange(ctx, da.DeviceCode)
		if err != nil {
			return nil, err
		}

		var wait time.Duration
		switch resp.Error {
		case "":
			if resp.AccessToken == "" {
				return nil, fmt.Errorf("token response contains neither access_token nor error")
			}
			return &Credential{
				AccessToken: resp.AccessToken,
				TokenType:   resp.TokenType,
				Scope:       resp.Scope,
			}, nil
		case "authorization_pending":
			wait = interval
		case "slow_down":
			wait = interval + SlowDownPenalty
		case "expired_token":
			return nil, &FlowError{State: StateExpired, Reason: resp.Error, Description: resp.ErrorDescription}
		case "access_denied":
			return nil, &FlowError{State: StateDenied, Reason: resp.Error, Description: resp.ErrorDescription}
		default:
			return nil, &FlowError{State: StateFailed, Reason: resp.Error, Description: resp.ErrorDescription}
		}

		if !deadline.IsZero() && !f.timeNow().Add(wait).Before(deadline) {
			return nil, &FlowError{State: StateExpired, Reason: "expired_token", Description: "gave up waiting for authorization"}
		}

		logging.Debug("auth", "%s, next poll in %s", resp.Error, wait)
		if err := f.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

func (f *DeviceFlow) exchange(ctx context.Context, deviceCode string) (*tokenResponse, error) {
	data := url.Values{}
	data.Set("client_id", f.Config.ClientID)
	data.Set("device_code", deviceCode)
	data.Set("grant_type", deviceGrantType)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.Config.Endpoint.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := f.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("failed to parse token response (HTTP %d): %w", resp.StatusCode, err)
	}
	// RFC 8628 providers answer 400 with an error body; GitHub answers 200.
	if resp.StatusCode != http.StatusOK && tr.Error == "" {
		return nil, fmt.Errorf("token request failed with status %d: %s", resp.StatusCode, string(body))
	}
	return &tr, nil
}

func (f *DeviceFlow) client() *http.Client {
	if f.HTTPClient != nil {
		return f.HTTPClient
	}
	return http.DefaultClient
}

func (f *DeviceFlow) sleep(ctx context.Context, d time.Duration) error {
	if f.Sleep != nil {
		return f.Sleep(ctx, d)
	}
	return sleepContext(ctx, d)
}

func (f *DeviceFlow) timeNow() time.Time {
	if f.now != nil {
		return f.now()
	}
	return time.Now()
}
