package sems

import (
	"context"
	"os"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/lgesmon/lgesmon/pkg/common"
	"github.com/lgesmon/lgesmon/pkg/log"
	"github.com/lgesmon/lgesmon/pkg/types"
)

// Configured returns a Client whose account and origin are filled in from
// command-line flags once lflag.Configure runs.
func Configured() *Client {
	c := &Client{}

	account := lflag.RequiredString("sems-account", "SEMS portal account email")
	password := lflag.RequiredString("sems-password", "SEMS portal account password")
	apiBase := lflag.String("sems-api-base", DefaultAPIBase, "SEMS portal API origin")
	timeout := lflag.Duration("sems-timeout", time.Minute, "Timeout for portal requests")

	lflag.Do(func() {
		if *timeout <= 0 {
			log.Ctx(context.Background()).Error("sems-timeout must be positive")
			os.Exit(1)
		}
		c.client = common.HTTPClient(*timeout, portalUserAgent)
		c.creds = types.Credentials{
			Account:  *account,
			Password: *password,
		}
		c.apiBase = *apiBase
	})

	return c
}
