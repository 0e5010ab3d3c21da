package shared

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
)

// SetupLogger builds the root logger for a command. level is a charm log
// level name; debug forces debug output.
func SetupLogger(level string, debug bool) (*log.Logger, error) {
	lvl := log.InfoLevel
	if level != "" {
		parsed, err := log.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		lvl = parsed
	}
	if debug {
		lvl = log.DebugLevel
	}

	return log.NewWithOptions(os.Stderr, log.Options{
		Level:           lvl,
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
	}), nil
}
