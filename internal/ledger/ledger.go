// Package ledger keeps the rolling record of executed container restarts and
// answers whether another restart fits in the hourly budget.
//
// A Ledger is owned by a single goroutine and is not safe for concurrent use.
package ledger

import (
	"context"
	"log/slog"
	"time"
)

// Window is the trailing span a restart counts against the budget.
const Window = time.Hour

const storeTimeout = 2 * time.Second

// Store persists restart timestamps across process restarts. Losing the
// store is tolerated: the ledger simply starts empty.
type Store interface {
	ListRestarts(ctx context.Context, since time.Time) ([]time.Time, error)
	AppendRestart(ctx context.Context, ts time.Time) error
	PruneRestarts(ctx context.Context, before time.Time) error
}

type Ledger struct {
	events []time.Time
	store  Store
	log    *slog.Logger
}

// New returns an empty ledger. store may be nil for a memory-only ledger.
func New(store Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: store, log: logger}
}

// Restore loads the events of the trailing window from the store.
func (l *Ledger) Restore(ctx context.Context, now time.Time) error {
	if l.store == nil {
		return nil
	}
	list, err := l.store.ListRestarts(ctx, now.Add(-Window))
	if err != nil {
		return err
	}
	for _, ts := range list {
		if ts.After(now) {
			continue
		}
		l.events = append(l.events, ts)
	}
	l.events = l.prune(l.events, now)
	return nil
}

// CountRecent returns the number of restarts no older than Window at now.
// Older events are discarded for good.
func (l *Ledger) CountRecent(now time.Time) int {
	l.events = l.prune(l.events, now)
	return len(l.events)
}

// MayRestart reports whether one more restart fits the budget. A budget of
// zero is unlimited.
func (l *Ledger) MayRestart(now time.Time, maxPerHour int) bool {
	if maxPerHour == 0 {
		return true
	}
	return l.CountRecent(now) < maxPerHour
}

// Record appends a restart executed at now.
func (l *Ledger) Record(now time.Time) {
	l.events = append(l.events, now)
	l.events = l.prune(l.events, now)
	if l.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := l.store.AppendRestart(ctx, now); err != nil {
		l.log.Warn("restart ledger persist failed", "error", err)
		return
	}
	if err := l.store.PruneRestarts(ctx, now.Add(-Window)); err != nil {
		l.log.Warn("restart ledger prune failed", "error", err)
	}
}

// Recent returns a copy of the retained events, oldest first.
func (l *Ledger) Recent(now time.Time) []time.Time {
	l.events = l.prune(l.events, now)
	return append([]time.Time(nil), l.events...)
}

// prune keeps events with now-ts <= Window. Events are appended in time
// order, so the expired ones form a prefix.
func (l *Ledger) prune(list []time.Time, now time.Time) []time.Time {
	cut := now.Add(-Window)
	idx := 0
	for idx < len(list) && list[idx].Before(cut) {
		idx++
	}
	if idx == 0 {
		return list
	}
	return append([]time.Time{}, list[idx:]...)
}
