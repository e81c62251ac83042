// Package reaper ends sessions left idle beyond the configured TTL.
package reaper

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kayz/maniflow/internal/logger"
	"github.com/kayz/maniflow/internal/session"
)

// Reaper sweeps the session store on a cron schedule. A session whose
// last update is older than the TTL is ended: abandoned conversations
// must not pin memory (or sqlite rows) forever.
type Reaper struct {
	store    session.Store
	ttl      time.Duration
	schedule string
	cron     *cron.Cron
}

func New(store session.Store, schedule string, ttl time.Duration) *Reaper {
	if schedule == "" {
		schedule = "@every 10m"
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Reaper{
		store:    store,
		ttl:      ttl,
		schedule: schedule,
	}
}

// Start registers the sweep job and launches the scheduler.
func (r *Reaper) Start() error {
	c := cron.New()
	if _, err := c.AddFunc(r.schedule, func() { r.Sweep() }); err != nil {
		return err
	}
	c.Start()
	r.cron = c
	logger.Info("[Reaper] Started: schedule=%s ttl=%s", r.schedule, r.ttl)
	return nil
}

// Stop halts the scheduler; running sweeps finish on their own.
func (r *Reaper) Stop() {
	if r.cron != nil {
		r.cron.Stop()
	}
}

// Sweep ends every session idle beyond the TTL and returns how many
// were removed.
func (r *Reaper) Sweep() int {
	cutoff := time.Now().Add(-r.ttl)
	removed := 0

	for _, id := range r.store.ListIDs() {
		unlock := r.store.Lock(id)
		state := r.store.Get(id)
		if state != nil && state.UpdatedAt.Before(cutoff) {
			r.store.End(id)
			removed++
			logger.Info("[Reaper] Ended idle session %s (last update %s)", id, state.UpdatedAt.Format(time.RFC3339))
		}
		unlock()
	}

	if removed > 0 {
		logger.Debug("[Reaper] Sweep removed %d session(s)", removed)
	}
	return removed
}
