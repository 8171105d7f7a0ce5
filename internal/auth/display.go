package auth

import (
	"fmt"
	"io"
	"os/exec"
	"runtime"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/oauth2"

	"github.com/coderush/cli/internal/logging"
)

// ConsoleDisplay prints device flow instructions to a terminal. When
// interactive, it also copies the user code to the clipboard and opens the
// verification page. Both are best effort.
type ConsoleDisplay struct {
	out         io.Writer
	interactive bool

	title   lipgloss.Style
	code    lipgloss.Style
	link    lipgloss.Style
	success lipgloss.Style
	failure lipgloss.Style

	copyToClipboard func(string) error
	openBrowser     func(string) error
}

// NewConsoleDisplay creates a display writing to out. A non-interactive
// display renders without color and skips the clipboard and browser.
func NewConsoleDisplay(out io.Writer, interactive bool) *ConsoleDisplay {
	r := lipgloss.NewRenderer(out)
	if !interactive {
		r.SetColorProfile(termenv.Ascii)
	}

	return &ConsoleDisplay{
		out:             out,
		interactive:     interactive,
		title:           r.NewStyle().Bold(true).Foreground(lipgloss.Color("6")),
		code:            r.NewStyle().Bold(true).Foreground(lipgloss.Color("3")),
		link:            r.NewStyle().Underline(true),
		success:         r.NewStyle().Foreground(lipgloss.Color("2")),
		failure:         r.NewStyle().Foreground(lipgloss.Color("1")),
		copyToClipboard: clipboard.WriteAll,
		openBrowser:     OpenBrowser,
	}
}

func (d *ConsoleDisplay) DeviceCode(da *oauth2.DeviceAuthResponse) {
	fmt.Fprintln(d.out)
	fmt.Fprintln(d.out, d.title.Render("GitHub Authentication Required"))
	fmt.Fprintf(d.out, "\nPlease visit: %s\n", d.link.Render(da.VerificationURI))

	copied := false
	if d.interactive {
		if err := d.openBrowser(da.VerificationURI); err != nil {
			logging.Debug("auth", "could not open browser: %v", err)
		} else {
			fmt.Fprintf(d.out, "Opening: %s\n", d.link.Render(da.VerificationURI))
		}
		if err := d.copyToClipboard(da.UserCode); err != nil {
			logging.Debug("auth", "could not copy user code to clipboard: %v", err)
		} else {
			copied = true
		}
	}

	if copied {
		fmt.Fprintf(d.out, "And enter code: %s (copied to clipboard)\n", d.code.Render(da.UserCode))
	} else {
		fmt.Fprintf(d.out, "And enter code: %s\n", d.code.Render(da.UserCode))
	}
	fmt.Fprintln(d.out, "\nWaiting for authentication...")
}

func (d *ConsoleDisplay) Succeeded() {
	fmt.Fprintln(d.out, d.success.Render("✓ Successfully authenticated with GitHub!"))
}

func (d *ConsoleDisplay) Failed(err error) {
	fmt.Fprintln(d.out, d.failure.Render("✗ "+err.Error()))
}

// OpenBrowser opens the specified URL in the default web browser.
// It supports Linux, macOS, and Windows.
func OpenBrowser(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	// The browser keeps running after we return
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}
	return nil
}
