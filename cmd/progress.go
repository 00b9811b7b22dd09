package cmd

import (
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
)

// progressEnabled reports whether an interactive bar makes sense.
// Piped output and CI environments get log lines instead.
func progressEnabled() bool {
	return isatty.IsTerminal(os.Stderr.Fd())
}

// newProgressBar returns a styled bar on stderr, or nil when progress
// is disabled so callers can check for nil.
func newProgressBar(total int64, description string) *progressbar.ProgressBar {
	if !progressEnabled() {
		return nil
	}
	return progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}
