package cache

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/xtremexq/StremioSubMaker-sub002/pkg/log"
)

// Janitor periodically sweeps expired rows out of a store. Record TTLs are
// enforced on read; the sweep only reclaims space.
type Janitor struct {
	store    Sweeper
	cron     *cron.Cron
	cronExpr string
}

func NewJanitor(store Sweeper, c *cron.Cron, cronExpr string) *Janitor {
	return &Janitor{
		store:    store,
		cron:     c,
		cronExpr: cronExpr,
	}
}

// Schedule registers the sweep on the janitor's cron. The cron itself is
// started by the caller.
func (j *Janitor) Schedule(ctx context.Context) error {
	_, err := j.cron.AddFunc(j.cronExpr, func() {
		removed, err := j.store.Sweep(ctx, time.Now())
		if err != nil {
			log.Error("Cache sweep failed: %v", err)
			return
		}
		if removed > 0 {
			log.Info("Cache sweep removed %d expired rows", removed)
		}
	})
	return err
}
