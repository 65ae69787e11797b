package upload

import (
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
)

type ProgressBar struct {
	Bytes *progressbar.ProgressBar
}

func NewProgress(max int64, description string) *ProgressBar {
	b := progressbar.NewOptions64(max,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionShowBytes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription(description),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
		progressbar.OptionSetVisibility(true),
	)
	return &ProgressBar{
		Bytes: b,
	}
}

// Incr is a no-op on a nil bar so callers do not need to check whether progress is enabled
func (b *ProgressBar) Incr(n int64) {
	if b == nil {
		return
	}
	b.Bytes.Add64(n)
}

func (b *ProgressBar) Finish() {
	if b == nil {
		return
	}
	b.Bytes.Finish()
}
