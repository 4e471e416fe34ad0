// Package consoleui formats CLI output: colored status lines, spinners
// during long operations, and NO_COLOR/CI-aware plain-text fallbacks.
//
// The teacher's own pkg/console/console.go couldn't be adapted directly —
// it imports a pkg/tty helper that doesn't exist in this repo's variant of
// githubnext-gh-aw (only in a downstream fork) and would not itself
// compile — so this is a fresh, small package in the same spirit: thin
// wrappers over charmbracelet/lipgloss for styling and briandowns/spinner
// for progress, both already direct dependencies of the teacher.
package consoleui

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/charmbracelet/lipgloss"
)

var (
	noColor = os.Getenv("NO_COLOR") != ""
	isCI    = os.Getenv("CI") != ""

	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
)

func render(style lipgloss.Style, prefix, msg string) string {
	if noColor {
		return fmt.Sprintf("%s %s", prefix, msg)
	}
	return style.Render(prefix) + " " + msg
}

// Success formats a checkmark-prefixed success line.
func Success(msg string) string { return render(successStyle, "✓", msg) }

// Error formats an error line.
func Error(msg string) string { return render(errorStyle, "✗", msg) }

// Warn formats a warning line.
func Warn(msg string) string { return render(warnStyle, "!", msg) }

// Info formats an informational line.
func Info(msg string) string { return render(infoStyle, "•", msg) }

// Spinner wraps briandowns/spinner, disabled automatically under CI or
// NO_COLOR (a non-interactive terminal shouldn't animate).
type Spinner struct {
	s        *spinner.Spinner
	disabled bool
	out      io.Writer
}

// NewSpinner creates a spinner with the given suffix label, writing to
// stderr.
func NewSpinner(label string) *Spinner {
	disabled := isCI || noColor
	sp := &Spinner{disabled: disabled, out: os.Stderr}
	if !disabled {
		sp.s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		sp.s.Suffix = " " + label
		sp.s.Writer = os.Stderr
	} else {
		fmt.Fprintln(sp.out, Info(label))
	}
	return sp
}

// Start begins the animation (a no-op when disabled).
func (s *Spinner) Start() {
	if s.s != nil {
		s.s.Start()
	}
}

// Stop halts the animation and prints a final status line.
func (s *Spinner) Stop(finalMsg string, ok bool) {
	if s.s != nil {
		s.s.Stop()
	}
	if ok {
		fmt.Fprintln(s.out, Success(finalMsg))
	} else {
		fmt.Fprintln(s.out, Error(finalMsg))
	}
}

// Confirm prompts y/n on stdin, returning defaultYes without showing a
// prompt when CI indicates a non-interactive run. NO_COLOR does not
// affect it.
func Confirm(prompt string, defaultYes bool) bool {
	if isCI {
		return defaultYes
	}
	fmt.Fprintf(os.Stderr, "%s [y/N] ", prompt)
	var answer string
	_, _ = fmt.Scanln(&answer)
	return answer == "y" || answer == "Y" || answer == "yes"
}
