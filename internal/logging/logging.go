package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/gologme/log"
)

// levels lists the gologme levels from most to least verbose.
var levels = []string{"debug", "info", "warn", "error"}

// New returns a leveled logger that prefixes every line with the
// component name. Levels below level are discarded; an unknown level
// falls back to "info".
func New(w io.Writer, component, level string) *log.Logger {
	yellow := color.New(color.FgYellow).SprintfFunc()
	l := log.New(w, fmt.Sprintf("[ %s ] ", yellow(component)), log.LstdFlags|log.Lmsgprefix)

	level = strings.ToLower(strings.TrimSpace(level))
	start := -1
	for i, lv := range levels {
		if lv == level {
			start = i
			break
		}
	}
	if start < 0 {
		start = 1
	}
	for _, lv := range levels[start:] {
		l.EnableLevel(lv)
	}
	return l
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// OpenFile opens (creating parent directories) a log file for appending.
func OpenFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening log file %s: %w", path, err)
	}
	return f, nil
}
