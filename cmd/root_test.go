package cmd

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
)

// executeCommand executes a cobra command and captures its output.
func executeCommand(t *testing.T, cmd *cobra.Command, args ...string) (output string, err error) {
	t.Helper()

	// Flags keep their values between executions
	verbosity = 0
	configDir = ""
	loginForce = false

	// Capture stdout and stderr
	oldStdout := os.Stdout
	oldStderr := os.Stderr
	r, w, _ := os.Pipe()
	os.Stdout = w
	os.Stderr = w

	outC := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, r)
		outC <- buf.String()
	}()

	defer func() {
		// Restore stdout and stderr
		w.Close()
		os.Stdout = oldStdout
		os.Stderr = oldStderr
		output = <-outC
	}()

	cmd.SetArgs(args)
	err = cmd.Execute()

	return output, err
}

func TestRootCommand(t *testing.T) {
	tests := []struct {
		name                 string
		args                 []string
		expectError          bool
		expectOutputContains string
		expectErrorContains  string
	}{
		{
			name:                 "Help",
			args:                 []string{},
			expectOutputContains: "coderush",
		},
		{
			name:                 "Version command",
			args:                 []string{"version"},
			expectOutputContains: "Coderush CLI v",
		},
		{
			name:                 "Auth help lists subcommands",
			args:                 []string{"auth", "--help"},
			expectOutputContains: "logout",
		},
		{
			name:                "Unknown command",
			args:                []string{"frobnicate"},
			expectError:         true,
			expectErrorContains: "unknown command",
		},
		{
			name:                "Check takes at most one organization",
			args:                []string{"auth", "check", "a", "b"},
			expectError:         true,
			expectErrorContains: "accepts at most 1 arg",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, err := executeCommand(t, rootCmd, tt.args...)

			if tt.expectError {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectErrorContains)
			} else {
				assert.NoError(t, err)
				assert.Contains(t, output, tt.expectOutputContains)
			}
		})
	}
}

func TestVerboseFlagCounts(t *testing.T) {
	_, err := executeCommand(t, rootCmd, "-vv", "version")
	assert.NoError(t, err)
	assert.Equal(t, 2, verbosity)
}
