package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/coderush/cli/internal/auth"
	"github.com/coderush/cli/internal/config"
	"github.com/coderush/cli/internal/github"
	"github.com/coderush/cli/internal/logging"
	"github.com/coderush/cli/internal/registry"
	"github.com/coderush/cli/internal/transport"
)

// GitHub device codes live for 15 minutes
const loginTimeout = 15*time.Minute + 30*time.Second

var (
	// Command line flags
	verbosity int
	configDir string
	version   = "dev" // This will be set during build

	// oauthEndpoint is where the device flow runs
	oauthEndpoint = github.Endpoint()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "coderush",
	Short: "Coderush CLI - Engineering metrics from your GitHub activity",
	Long: `Coderush CLI collects engineering metrics from GitHub. It authenticates with
the Coderush GitHub App and works against either your personal account or an
organization where the app is installed.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(logging.LevelFromVerbosity(verbosity), cmd.ErrOrStderr())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of Coderush CLI",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "Coderush CLI v%s\n", version)
	},
}

// session is the set of collaborators one command invocation works with
type session struct {
	store    *auth.FileStore
	flow     *auth.DeviceFlow
	registry *registry.Registry
}

// openSession wires the credential store, configuration, connection pool
// and device flow into the process client registry.
func openSession(cmd *cobra.Command) (*session, error) {
	dir := configDir
	if dir == "" {
		var err error
		dir, err = config.DefaultDir()
		if err != nil {
			return nil, err
		}
	}

	store := auth.NewFileStore(dir)
	source := config.NewFileSource(dir)
	pool := transport.New(transport.DefaultOptions())

	display := auth.NewConsoleDisplay(cmd.OutOrStdout(), isInteractive())
	flow := auth.NewDeviceFlow(github.ClientIDFromEnv(), oauthEndpoint, pool.StandardClient(), store, display)
	flow.MaxWait = loginTimeout

	reg, err := registry.Init(registry.Options{
		Store:         store,
		Config:        source,
		Authenticator: flow,
		Pool:          pool,
		APIBaseURL:    github.APIURLFromEnv(),
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize GitHub client: %w", err)
	}
	if reg.Pool() != pool {
		// An earlier session is still open
		pool.Close()
	}

	logging.Debug("cmd", "using config directory %s", dir)
	return &session{
		store:    store,
		flow:     flow,
		registry: reg,
	}, nil
}

func (s *session) Close() {
	s.registry.Shutdown()
}

func isInteractive() bool {
	return term.IsTerminal(int(os.Stdout.Fd())) && term.IsTerminal(int(os.Stdin.Fd()))
}

func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (-v info, -vv debug)")
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "Directory holding config.yaml and the stored token (default ~/.coderush)")

	rootCmd.AddCommand(versionCmd)
}
