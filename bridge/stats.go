package bridge

import "sync/atomic"

// Stats is a snapshot of bridge counters
type Stats struct {
	Calls         int64
	Notifications int64
	Responses     int64
	Timeouts      int64
	Handled       int64
	Unregistered  int64
	Dropped       int64
	Pending       int
}

type stats struct {
	calls         atomic.Int64
	notifications atomic.Int64
	responses     atomic.Int64
	timeouts      atomic.Int64
	handled       atomic.Int64
	unregistered  atomic.Int64
	dropped       atomic.Int64
}

// Stats returns the current counters
func (b *Bridge) Stats() Stats {
	return Stats{
		Calls:         b.stats.calls.Load(),
		Notifications: b.stats.notifications.Load(),
		Responses:     b.stats.responses.Load(),
		Timeouts:      b.stats.timeouts.Load(),
		Handled:       b.stats.handled.Load(),
		Unregistered:  b.stats.unregistered.Load(),
		Dropped:       b.stats.dropped.Load(),
		Pending:       b.PendingCount(),
	}
}
