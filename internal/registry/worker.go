package registry

import (
	"context"
	"errors"
	"fmt"

	gogithub "github.com/google/go-github/v68/github"

	"github.com/coderush/cli/internal/auth"
	"github.com/coderush/cli/internal/config"
	"github.com/coderush/cli/internal/github"
	"github.com/coderush/cli/internal/logging"
)

// Handle is an authenticated GitHub API client owned by one worker.
type Handle struct {
	*gogithub.Client

	WorkerID     string
	Mode         config.Mode
	Organization string
}

// Worker holds the private token and handle of one unit of concurrent work.
// Its methods are not safe for concurrent use; the registry and the
// connection pool beneath it are.
type Worker struct {
	id       string
	registry *Registry

	token      *auth.Credential
	handle     *Handle
	generation uint64
}

// ID returns the worker's identifier
func (w *Worker) ID() string {
	return w.id
}

// Client returns the worker's API handle, building it on first use.
//
// When no handle can be built for an expected reason (no token, the
// organization is not configured, the app is not installed) the handle is
// nil and the reason says why. ReasonNoToken after a failed or abandoned
// authentication and ReasonTransportError also carry the underlying error.
// Unexpected failures return ReasonNone with an error.
func (w *Worker) Client(ctx context.Context) (*Handle, Reason, error) {
	w.dropIfLoggedOut()
	if w.handle != nil {
		return w.handle, ReasonNone, nil
	}

	if w.token == nil {
		cred, err := w.registry.obtainCredential(ctx)
		if err != nil {
			return nil, credentialFailure(err), err
		}
		if cred == nil {
			return nil, ReasonNoToken, nil
		}
		w.token = cred
	}

	cfg, err := w.registry.config.Load()
	if err != nil {
		return nil, ReasonNone, fmt.Errorf("failed to load configuration: %w", err)
	}

	if cfg.Mode == config.ModeOrganization {
		ok, reason, err := w.registry.authorize(ctx, cfg.Organization, w.token.AccessToken)
		if !ok {
			return nil, reason, err
		}
	}

	client, err := github.NewClient(w.registry.pool.StandardClient(), w.registry.apiBaseURL, w.token.AccessToken)
	if err != nil {
		return nil, ReasonNone, err
	}

	w.handle = &Handle{
		Client:       client,
		WorkerID:     w.id,
		Mode:         cfg.Mode,
		Organization: cfg.Organization,
	}
	logging.Debug("registry", "built %s handle for worker %s", cfg.Mode, w.id)
	return w.handle, ReasonNone, nil
}

// credentialFailure classifies a failed attempt to obtain a credential. An
// authentication outcome or an abandoned wait leaves the worker without a
// token; anything else is a failure to talk to the provider.
func credentialFailure(err error) Reason {
	var flowErr *auth.FlowError
	if errors.As(err, &flowErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ReasonNoToken
	}
	return ReasonTransportError
}

// Close forgets the worker's token and handle and removes it from the
// registry. A later Worker call with the same id starts afresh.
func (w *Worker) Close() {
	w.token = nil
	w.handle = nil
	w.registry.release(w)
}

// ReloadConfiguration re-reads the configuration and drops this worker's
// token and handle so the next Client call authenticates and authorizes
// again. Other workers are unaffected.
func (w *Worker) ReloadConfiguration() (config.Configuration, error) {
	w.token = nil
	w.handle = nil
	return w.registry.config.Load()
}

func (w *Worker) dropIfLoggedOut() {
	if g := w.registry.generation.Load(); g != w.generation {
		w.token = nil
		w.handle = nil
		w.generation = g
	}
}
