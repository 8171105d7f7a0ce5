package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coderush/cli/internal/config"
	"github.com/coderush/cli/internal/registry"
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the GitHub account Coderush acts as",
	Long: `Build an authenticated GitHub client the same way metric collection does and
print the account it acts as. Starts a login when no token is stored.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		worker := s.registry.NewWorker()
		defer worker.Close()

		handle, reason, err := worker.Client(cmd.Context())
		if reason != registry.ReasonNone {
			msg := reason.Guidance()
			if err != nil {
				return fmt.Errorf("%s: %w", msg, err)
			}
			return errors.New(msg)
		}
		if err != nil {
			return err
		}

		user, _, err := handle.Users.Get(cmd.Context(), "")
		if err != nil {
			return fmt.Errorf("failed to fetch authenticated user: %w", err)
		}

		out := cmd.OutOrStdout()
		st := newStyles(out)
		fmt.Fprintf(out, "Logged in as %s\n", st.bold.Render(user.GetLogin()))
		if name := user.GetName(); name != "" {
			fmt.Fprintf(out, "  Name: %s\n", name)
		}
		fmt.Fprintf(out, "  Mode: %s\n", handle.Mode)
		if handle.Mode == config.ModeOrganization {
			fmt.Fprintf(out, "  Organization: %s\n", handle.Organization)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(whoamiCmd)
}
