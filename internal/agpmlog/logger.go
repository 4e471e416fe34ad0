// Package agpmlog provides a namespace-scoped debug logger.
//
// Loggers are silent by default; set AGPM_DEBUG to enable them, following
// the same namespace syntax as the npm "debug" package:
//
//	AGPM_DEBUG=*                 enables every logger
//	AGPM_DEBUG=resolver:*        enables every logger in the "resolver" namespace
//	AGPM_DEBUG=resolver,gitcache enables exactly these namespaces
//	AGPM_DEBUG=*,-gitcache:lock  enables everything except one namespace
package agpmlog

import (
	"fmt"
	"hash/fnv"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// Logger emits diagnostic output for one namespace, gated on AGPM_DEBUG.
type Logger struct {
	namespace string
	enabled   bool
	lastLog   time.Time
	mu        sync.Mutex
	color     string
}

var (
	debugEnv    = os.Getenv("AGPM_DEBUG")
	debugColors = os.Getenv("NO_COLOR") == ""
	isTTY       = isatty.IsTerminal(os.Stderr.Fd())

	colorPalette = []string{
		"\033[38;5;33m", "\033[38;5;35m", "\033[38;5;166m", "\033[38;5;125m",
		"\033[38;5;37m", "\033[38;5;161m", "\033[38;5;136m", "\033[38;5;124m",
		"\033[38;5;28m", "\033[38;5;63m", "\033[38;5;95m", "\033[38;5;21m",
	}
	colorReset = "\033[0m"
)

// New creates a Logger for namespace. Enablement is computed once, at
// construction time, from the AGPM_DEBUG environment variable.
func New(namespace string) *Logger {
	return &Logger{
		namespace: namespace,
		enabled:   computeEnabled(namespace),
		lastLog:   time.Now(),
		color:     selectColor(namespace),
	}
}

// Enabled reports whether this logger will produce output.
func (l *Logger) Enabled() bool {
	return l.enabled
}

// Printf writes a formatted line to stderr if the logger is enabled.
func (l *Logger) Printf(format string, args ...any) {
	if !l.enabled {
		return
	}
	l.emit(fmt.Sprintf(format, args...))
}

// Print writes a line to stderr if the logger is enabled.
func (l *Logger) Print(args ...any) {
	if !l.enabled {
		return
	}
	l.emit(fmt.Sprint(args...))
}

// LazyPrintf calls fn only if the logger is enabled, avoiding the cost of
// building a diagnostic message (e.g. serializing a resolution plan) when
// nobody is listening.
func (l *Logger) LazyPrintf(fn func() string) {
	if !l.enabled {
		return
	}
	l.emit(fn())
}

func (l *Logger) emit(message string) {
	l.mu.Lock()
	now := time.Now()
	diff := now.Sub(l.lastLog)
	l.lastLog = now
	l.mu.Unlock()

	if l.color != "" {
		fmt.Fprintf(os.Stderr, "%s%s%s %s +%s\n", l.color, l.namespace, colorReset, message, formatDuration(diff))
	} else {
		fmt.Fprintf(os.Stderr, "%s %s +%s\n", l.namespace, message, formatDuration(diff))
	}
}

func selectColor(namespace string) string {
	if !debugColors || !isTTY {
		return ""
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(namespace))
	return colorPalette[h.Sum32()%uint32(len(colorPalette))]
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Microsecond:
		return fmt.Sprintf("%dns", d.Nanoseconds())
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%.1fm", d.Minutes())
	default:
		return fmt.Sprintf("%.1fh", d.Hours())
	}
}

func computeEnabled(namespace string) bool {
	if debugEnv == "" {
		return false
	}
	enabled := false
	for _, pattern := range strings.Split(debugEnv, ",") {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if strings.HasPrefix(pattern, "-") {
			if matchPattern(namespace, strings.TrimPrefix(pattern, "-")) {
				return false
			}
			continue
		}
		if matchPattern(namespace, pattern) {
			enabled = true
		}
	}
	return enabled
}

func matchPattern(namespace, pattern string) bool {
	if pattern == "*" || pattern == namespace {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return false
	}
	switch {
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(namespace, strings.TrimSuffix(pattern, "*"))
	case strings.HasPrefix(pattern, "*"):
		return strings.HasSuffix(namespace, strings.TrimPrefix(pattern, "*"))
	default:
		parts := strings.SplitN(pattern, "*", 2)
		return len(parts) == 2 && strings.HasPrefix(namespace, parts[0]) && strings.HasSuffix(namespace, parts[1])
	}
}
