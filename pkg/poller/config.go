package poller

import (
	"context"
	"os"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/lgesmon/lgesmon/pkg/log"
)

// Configured returns a Poller whose interval comes from command-line flags.
func Configured(f Fetcher) *Poller {
	p := &Poller{fetcher: f}

	interval := lflag.Duration("poll-interval", 5*time.Minute, "How often to poll the portal")

	lflag.Do(func() {
		if *interval <= 0 {
			log.Ctx(context.Background()).Error("poll-interval must be positive")
			os.Exit(1)
		}
		p.interval = *interval
	})

	return p
}
