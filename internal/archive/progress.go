package archive

import (
	"io"
	"time"

	"github.com/schollz/progressbar/v3"

	"buildnative/internal/console"
)

// newBar returns nil unless w is a terminal.
func newBar(w io.Writer, total int64, desc string) *progressbar.ProgressBar {
	if w == nil || !console.IsTerminal(w) {
		return nil
	}
	return progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionShowBytes(true),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

func track(r io.Reader, bar *progressbar.ProgressBar) io.Reader {
	if bar == nil {
		return r
	}
	return io.TeeReader(r, bar)
}

func finishBar(bar *progressbar.ProgressBar) {
	if bar != nil {
		bar.Finish()
	}
}
