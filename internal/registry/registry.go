package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/coderush/cli/internal/auth"
	"github.com/coderush/cli/internal/config"
	"github.com/coderush/cli/internal/github"
	"github.com/coderush/cli/internal/logging"
	"github.com/coderush/cli/internal/transport"
)

// Reason explains why no API handle was produced. ReasonNone accompanies a handle.
type Reason string

const (
	ReasonNone                     Reason = ""
	ReasonNoToken                  Reason = "no_token"
	ReasonOrganizationUnconfigured Reason = "organization_unconfigured"
	ReasonAppNotInstalled          Reason = "app_not_installed"
	ReasonTransportError           Reason = "transport_error"
)

// Guidance returns a short actionable message for the reason
func (r Reason) Guidance() string {
	switch r {
	case ReasonNoToken:
		return "GitHub authentication required. Run: coderush auth login"
	case ReasonOrganizationUnconfigured:
		return fmt.Sprintf("Organization name not configured. Set github_org in config.yaml or %s", config.OrgEnv)
	case ReasonAppNotInstalled:
		return fmt.Sprintf("Coderush GitHub App not installed. Install it at: %s", github.AppURL)
	case ReasonTransportError:
		return "Could not reach GitHub. Check your connection and try again"
	default:
		return ""
	}
}

// Authenticator obtains a fresh credential when none is stored
type Authenticator interface {
	Authenticate(ctx context.Context) (*auth.Credential, error)
}

// InstallationChecker reports whether the app is installed for an organization
type InstallationChecker interface {
	IsInstalled(ctx context.Context, organization, token string) (bool, error)
}

// Options wires the registry's collaborators. Store and Config are required.
type Options struct {
	Store  auth.Store
	Config config.Source

	// Authenticator runs when no credential is stored. Nil disables
	// interactive authentication.
	Authenticator Authenticator

	// Pool defaults to a pool with the default retry policy.
	Pool *transport.Pool

	// Installations defaults to querying APIBaseURL through Pool.
	Installations InstallationChecker

	// APIBaseURL is the GitHub REST API root; empty means the public API.
	APIBaseURL string
}

// Registry hands out API handles to workers. It owns the shared connection
// pool; each worker owns its token and handle.
type Registry struct {
	store         auth.Store
	config        config.Source
	authenticator Authenticator
	installations InstallationChecker
	pool          *transport.Pool
	apiBaseURL    string

	// generation is bumped by Logout; workers compare it to drop stale state
	generation atomic.Uint64
	flights    singleflight.Group

	mu      sync.Mutex
	workers map[string]*Worker
}

var (
	instance   atomic.Pointer[Registry]
	instanceMu sync.Mutex
)

// Init establishes the process registry. The first call constructs it from
// opts; concurrent and later calls return that same instance and ignore their
// opts until Shutdown.
func Init(opts Options) (*Registry, error) {
	if r := instance.Load(); r != nil {
		return r, nil
	}

	instanceMu.Lock()
	defer instanceMu.Unlock()

	if r := instance.Load(); r != nil {
		return r, nil
	}

	r, err := New(opts)
	if err != nil {
		return nil, err
	}
	instance.Store(r)
	logging.Debug("registry", "client registry initialized")
	return r, nil
}

// Default returns the process registry, or nil before Init.
func Default() *Registry {
	return instance.Load()
}

// New builds a registry that is not registered as the process instance.
func New(opts Options) (*Registry, error) {
	if opts.Store == nil {
		return nil, errors.New("registry: credential store is required")
	}
	if opts.Config == nil {
		return nil, errors.New("registry: configuration source is required")
	}

	pool := opts.Pool
	if pool == nil {
		pool = transport.New(transport.DefaultOptions())
	}

	installations := opts.Installations
	if installations == nil {
		installations = github.NewInstallationAuthorizer(pool.StandardClient(), opts.APIBaseURL)
	}

	return &Registry{
		store:         opts.Store,
		config:        opts.Config,
		authenticator: opts.Authenticator,
		installations: installations,
		pool:          pool,
		apiBaseURL:    opts.APIBaseURL,
		workers:       make(map[string]*Worker),
	}, nil
}

// Shutdown releases pooled connections and forgets all workers. If r is the
// process registry, a later Init constructs a new one.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	r.workers = make(map[string]*Worker)
	r.mu.Unlock()

	r.pool.Close()

	instanceMu.Lock()
	instance.CompareAndSwap(r, nil)
	instanceMu.Unlock()
	logging.Debug("registry", "client registry shut down")
}

// Worker returns the worker for id, creating it on first use. A worker must
// only be used by one goroutine at a time and should be closed when its
// work is done.
func (r *Registry) Worker(id string) *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if w, ok := r.workers[id]; ok {
		return w
	}
	w := &Worker{
		id:         id,
		registry:   r,
		generation: r.generation.Load(),
	}
	r.workers[id] = w
	return w
}

// NewWorker returns a worker with a fresh random id.
func (r *Registry) NewWorker() *Worker {
	return r.Worker(uuid.NewString())
}

func (r *Registry) release(w *Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.workers[w.id] == w {
		delete(r.workers, w.id)
	}
}

// Pool returns the shared connection pool
func (r *Registry) Pool() *transport.Pool {
	return r.pool
}

// Configuration reads the current configuration
func (r *Registry) Configuration() (config.Configuration, error) {
	return r.config.Load()
}

// Credential returns the stored credential, if any
func (r *Registry) Credential() (*auth.Credential, bool) {
	return r.store.Load()
}

// Logout clears the stored credential. Every worker drops its cached token
// and handle on its next use.
func (r *Registry) Logout() error {
	if err := r.store.Clear(); err != nil {
		return err
	}
	r.generation.Add(1)
	logging.Info("registry", "logged out")
	return nil
}

// Authorized reports whether access to organization is currently
// authorized, using only the stored credential; it never starts a device
// flow.
func (r *Registry) Authorized(ctx context.Context, organization string) (bool, Reason, error) {
	cred, ok := r.store.Load()
	if !ok {
		return false, ReasonNoToken, nil
	}
	return r.authorize(ctx, organization, cred.AccessToken)
}

func (r *Registry) authorize(ctx context.Context, organization, token string) (bool, Reason, error) {
	if organization == "" {
		return false, ReasonOrganizationUnconfigured, nil
	}

	installed, err := r.installations.IsInstalled(ctx, organization, token)
	if err != nil {
		logging.Error("registry", err, "error checking app installation for %s", organization)
		return false, ReasonTransportError, err
	}
	if !installed {
		logging.Warn("registry", "no installation found for organization: %s", organization)
		return false, ReasonAppNotInstalled, nil
	}
	return true, ReasonNone, nil
}

// obtainCredential loads the stored credential or runs the authenticator.
// Concurrent callers share a single device flow, which runs on the context
// of the caller that started it. Each caller stops waiting when its own ctx
// ends.
func (r *Registry) obtainCredential(ctx context.Context) (*auth.Credential, error) {
	if cred, ok := r.store.Load(); ok {
		return cred, nil
	}
	if r.authenticator == nil {
		return nil, nil
	}

	ch := r.flights.DoChan("device-flow", func() (interface{}, error) {
		// Another worker may have finished a flow while we waited
		if cred, ok := r.store.Load(); ok {
			return cred, nil
		}
		return r.authenticator.Authenticate(ctx)
	})

	select {
	case <-ctx.Done():
		logging.Debug("registry", "stopped waiting for authentication: %v", ctx.Err())
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			logging.Debug("registry", "joined an authentication already in progress")
		}
		if res.Err != nil {
			return nil, res.Err
		}
		cred, _ := res.Val.(*auth.Credential)
		return cred, nil
	}
}
