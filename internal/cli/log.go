// Package cli implements the postbuild command-line interface.
//
// The CLI post-processes a static site build in place: it rewrites image
// optimization markers into responsive <picture> markup, formats HTML and
// CSS, and removes bundler leftovers. It is built using cobra and logs via
// the charmbracelet/log library.
//
// # Commands
//
// The main commands are:
//   - process: Optimize images and format the build output (the post-build step)
//   - format: Format HTML and CSS only
//   - cleanup: Remove the bundler manifest and the app mount wrapper
//   - hash: Print the cache key an image would get
//
// # Logging
//
// All commands support --verbose (-v) for debug-level logging. Skipped
// images and failed files are logged as warnings and errors.
//
// # Example
//
//	c := cli.New(os.Stderr, cli.LogInfo)
//	if err := c.RootCommand().ExecuteContext(ctx); err != nil {
//	    os.Exit(1)
//	}
package cli

import (
	"io"
	"time"

	"github.com/charmbracelet/log"
)

// newLogger creates a new logger with timestamp formatting.
// The logger writes to w and filters messages at the specified level.
// Timestamps are formatted as "HH:MM:SS.ms" (e.g., "14:32:01.45").
func newLogger(w io.Writer, level log.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           level,
	})
}

// progress tracks the start time of an operation and logs completion with elapsed duration.
type progress struct {
	logger *log.Logger
	start  time.Time
}

func newProgress(l *log.Logger) *progress {
	return &progress{logger: l, start: time.Now()}
}

// done logs msg along with the elapsed time since progress was created,
// e.g. "Cleaned build output (12ms)".
func (p *progress) done(msg string) {
	p.logger.Infof("%s (%s)", msg, time.Since(p.start).Round(time.Millisecond))
}
