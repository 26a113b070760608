package repository

import "context"

// EventLedger remembers, per entity, the timestamp of the newest event applied
// to a projection.
type EventLedger interface {
	// Advance records ts for id unless a strictly newer timestamp is already
	// recorded. It reports whether the event should be applied; equal
	// timestamps are applied again so replays stay harmless.
	Advance(ctx context.Context, id string, ts int64) (bool, error)
	// Last returns the recorded timestamp for id, or 0.
	Last(ctx context.Context, id string) (int64, error)
	Close() error
}
