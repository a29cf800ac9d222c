// Package catalog holds the current generation of event definitions and
// refreshes it from the feed in the background.
package catalog

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"traincommander/internal/feed"
	appLog "traincommander/internal/log"
	"traincommander/internal/model"
	"traincommander/internal/schedule"
)

// Source produces raw feed bodies. *feed.Fetcher implements it.
type Source interface {
	Fetch(ctx context.Context) (feed.FetchResult, error)
}

// Status is a point-in-time view of the catalog for diagnostics.
type Status struct {
	Fetching    bool      `json:"fetching"`
	Generation  uint64    `json:"generation"`
	EventCount  int       `json:"event_count"`
	LastSuccess time.Time `json:"last_success,omitzero"`
	LastError   string    `json:"last_error,omitempty"`
}

// Catalog owns the published event definitions. Readers always see one whole
// generation; a refresh builds the next generation off to the side and swaps
// it in under the lock only when parsing fully succeeded.
type Catalog struct {
	source Source
	now    func() time.Time

	mu          sync.Mutex
	events      []model.EventDefinition
	generation  uint64
	fetching    bool
	closed      bool
	inflight    chan struct{}
	lastSuccess time.Time
	lastErr     error

	wg   sync.WaitGroup
	cron *cron.Cron
}

// Option customizes a Catalog.
type Option func(*Catalog)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Catalog) { c.now = now }
}

// New creates an empty catalog. No fetch happens until Refresh is called.
func New(source Source, opts ...Option) *Catalog {
	c := &Catalog{
		source: source,
		now:    time.Now,
		events: []model.EventDefinition{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Refresh starts a background fetch+parse. If one is already running it
// returns that fetch's done channel and started=false. The done channel is
// closed once the attempt finished, successfully or not.
func (c *Catalog) Refresh(ctx context.Context) (done <-chan struct{}, started bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		ch := make(chan struct{})
		close(ch)
		return ch, false
	}
	if c.fetching {
		ch := c.inflight
		c.mu.Unlock()
		return ch, false
	}
	c.fetching = true
	ch := make(chan struct{})
	c.inflight = ch
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		defer close(ch)

		err := c.fetchAndApply(ctx)

		c.mu.Lock()
		c.fetching = false
		c.inflight = nil
		if err != nil {
			c.lastErr = err
		}
		c.mu.Unlock()
	}()

	return ch, true
}

func (c *Catalog) fetchAndApply(ctx context.Context) error {
	res, err := c.source.Fetch(ctx)
	if err != nil {
		appLog.Error("catalog refresh: fetch failed", err)
		return err
	}
	if err := c.Apply(res.Body); err != nil {
		return err
	}
	return nil
}

// Apply parses body and, on success, publishes it as the next generation.
// On failure the current generation stays in place and the error (wrapping
// feed.ErrMalformed or feed.ErrEmpty) is returned.
func (c *Catalog) Apply(body []byte) error {
	defs, err := feed.Parse(body, c.now())
	if err != nil {
		appLog.Error("catalog refresh: parse failed; keeping previous generation", err)
		c.mu.Lock()
		c.lastErr = err
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.events = defs
	c.generation++
	c.lastSuccess = c.now()
	c.lastErr = nil
	gen := c.generation
	c.mu.Unlock()

	appLog.Info("catalog generation published", "generation", gen, "event_count", len(defs))
	return nil
}

// Snapshot returns a deep copy of the current generation and its number.
func (c *Catalog) Snapshot() ([]model.EventDefinition, uint64) {
	c.mu.Lock()
	events, gen := c.events, c.generation
	c.mu.Unlock()

	// Generations are never mutated after publication, so copying outside
	// the lock is safe.
	out := make([]model.EventDefinition, len(events))
	for i, ev := range events {
		out[i] = ev.Clone()
	}
	return out, gen
}

// IsFetching reports whether a refresh is in flight.
func (c *Catalog) IsFetching() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetching
}

// Status reports the catalog state.
func (c *Catalog) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		Fetching:    c.fetching,
		Generation:  c.generation,
		EventCount:  len(c.events),
		LastSuccess: c.lastSuccess,
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st
}

// LastError returns the error of the most recent failed attempt, or nil if
// the most recent attempt succeeded.
func (c *Catalog) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// GetUpcomingEvents returns the next occurrence of every event, soonest first.
func (c *Catalog) GetUpcomingEvents(limit int) []model.UpcomingEvent {
	events, _ := c.Snapshot()
	return schedule.Upcoming(events, schedule.Now(c.now()), limit)
}

// GetEventsInRange returns every occurrence within [minOffset, maxOffset]
// minutes of now.
func (c *Catalog) GetEventsInRange(minOffset, maxOffset int) []model.UpcomingEvent {
	events, _ := c.Snapshot()
	return schedule.InRange(events, schedule.Now(c.now()), minOffset, maxOffset)
}

// Now exposes the catalog clock so callers snapshot against the same instant
// source the queries use.
func (c *Catalog) Now() time.Time {
	return c.now()
}

// StartSchedule refreshes the catalog on a cron schedule (standard 5-field
// syntax). Ticks that fire while a fetch is running are no-ops.
func (c *Catalog) StartSchedule(ctx context.Context, spec string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron != nil {
		return errors.New("catalog: refresh schedule already running")
	}

	cr := cron.New()
	if _, err := cr.AddFunc(spec, func() {
		if _, started := c.Refresh(ctx); !started {
			appLog.Debug("catalog scheduled refresh skipped: fetch in flight")
		}
	}); err != nil {
		return err
	}
	cr.Start()
	c.cron = cr

	appLog.Info("catalog refresh schedule started", "spec", spec)
	return nil
}

// Close stops the refresh schedule and waits for any in-flight fetch. Later
// Refresh calls are no-ops.
func (c *Catalog) Close() {
	c.mu.Lock()
	cr := c.cron
	c.cron = nil
	c.closed = true
	c.mu.Unlock()

	if cr != nil {
		<-cr.Stop().Done()
	}
	c.wg.Wait()
}
