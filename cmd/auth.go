package cmd

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/coderush/cli/internal/config"
	"github.com/coderush/cli/internal/registry"
)

var loginForce bool

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage GitHub authentication",
	Long: `Manage the GitHub token Coderush uses to call the GitHub API.

Examples:
  # Log in with the GitHub device flow
  coderush auth login

  # Check auth status
  coderush auth status

  # Check that the Coderush app is installed for an organization
  coderush auth check my-org

  # Remove the stored token
  coderush auth logout`,
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate with GitHub",
	Long: `Log in to GitHub with the device flow. A one-time code is shown (and copied
to the clipboard when running in a terminal); enter it on GitHub to authorize
the Coderush app. The token is stored with owner-only permissions.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		out := cmd.OutOrStdout()
		if cred, ok := s.registry.Credential(); ok && !loginForce {
			fmt.Fprintf(out, "Already authenticated (token %s)\n", cred.Masked())
			fmt.Fprintln(out, "Use --force to authenticate again")
			return nil
		}

		if _, err := s.flow.Authenticate(cmd.Context()); err != nil {
			return fmt.Errorf("authentication failed: %w", err)
		}
		fmt.Fprintf(out, "Token saved to %s\n", s.store.Path())
		return nil
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current authentication state",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		out := cmd.OutOrStdout()
		st := newStyles(out)

		if cred, ok := s.registry.Credential(); ok {
			fmt.Fprintln(out, st.ok.Render("Authenticated with GitHub"))
			fmt.Fprintf(out, "  Token: %s\n", cred.Masked())
			if cred.Scope != "" {
				fmt.Fprintf(out, "  Scope: %s\n", cred.Scope)
			}
			fmt.Fprintf(out, "  Stored in: %s\n", s.store.Path())
		} else {
			fmt.Fprintln(out, st.fail.Render("Not authenticated"))
			fmt.Fprintf(out, "  %s\n", registry.ReasonNoToken.Guidance())
		}

		cfg, err := s.registry.Configuration()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "  Mode: %s\n", cfg.Mode)
		if cfg.Mode == config.ModeOrganization {
			org := cfg.Organization
			if org == "" {
				org = "(not set)"
			}
			fmt.Fprintf(out, "  Organization: %s\n", org)
		}
		return nil
	},
}

var authCheckCmd = &cobra.Command{
	Use:   "check [organization]",
	Short: "Verify the Coderush app is installed for an organization",
	Long: `Verify that the stored token can reach an organization through the Coderush
GitHub App. Without an argument the configured github_org is checked.

This command never starts a login.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		var org string
		if len(args) == 1 {
			org = args[0]
		} else {
			cfg, err := s.registry.Configuration()
			if err != nil {
				return err
			}
			org = cfg.Organization
		}

		ok, reason, err := s.registry.Authorized(cmd.Context(), org)
		out := cmd.OutOrStdout()
		st := newStyles(out)
		if ok {
			fmt.Fprintln(out, st.ok.Render(fmt.Sprintf("Coderush app is installed for %s", org)))
			return nil
		}

		fmt.Fprintln(out, st.fail.Render(reason.Guidance()))
		if err != nil {
			return fmt.Errorf("%s: %w", reason, err)
		}
		return fmt.Errorf("%s", reason)
	},
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored token",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.registry.Logout(); err != nil {
			return fmt.Errorf("failed to remove token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Logged out of GitHub")
		return nil
	},
}

type styles struct {
	ok   lipgloss.Style
	fail lipgloss.Style
	bold lipgloss.Style
}

func newStyles(out io.Writer) styles {
	r := lipgloss.NewRenderer(out)
	return styles{
		ok:   r.NewStyle().Foreground(lipgloss.Color("2")),
		fail: r.NewStyle().Foreground(lipgloss.Color("1")),
		bold: r.NewStyle().Bold(true),
	}
}

func init() {
	authLoginCmd.Flags().BoolVar(&loginForce, "force", false, "Authenticate again even if a token is stored")

	authCmd.AddCommand(authLoginCmd, authStatusCmd, authCheckCmd, authLogoutCmd)
	rootCmd.AddCommand(authCmd)
}
