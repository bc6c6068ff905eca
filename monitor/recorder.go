// Package monitor records what a bridge's handlers do: per-name counters,
// latency percentiles and a bounded feed of recent activity.
package monitor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/glimte/msgbridge/messaging"
)

const (
	// DefaultActivitySize bounds the recent activity feed.
	DefaultActivitySize = 200

	// sampleSize bounds the latency samples kept per name.
	sampleSize = 100
)

// Outcome of one handler invocation
type Outcome string

const (
	OutcomeOK    Outcome = "ok"
	OutcomeError Outcome = "error"
)

// Activity is one handled request
type Activity struct {
	Time     time.Time     `json:"time"`
	Name     string        `json:"name"`
	ID       string        `json:"id"`
	Outcome  Outcome       `json:"outcome"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Recorder collects handler metrics in memory
type Recorder struct {
	mu sync.RWMutex

	counts map[string]int64
	errors map[string]int64
	times  map[string]*timeStats

	activity []Activity
	next     int
	full     bool
}

type timeStats struct {
	count   int64
	totalMs int64
	minMs   int64
	maxMs   int64
	samples []int64
}

// NewRecorder creates a recorder keeping the last size activities
func NewRecorder(size int) *Recorder {
	if size <= 0 {
		size = DefaultActivitySize
	}
	return &Recorder{
		counts:   make(map[string]int64),
		errors:   make(map[string]int64),
		times:    make(map[string]*timeStats),
		activity: make([]Activity, size),
	}
}

// Middleware records every handler invocation it wraps
func (r *Recorder) Middleware() messaging.MiddlewareFunc {
	return func(ctx context.Context, payload any, next messaging.Handler) (any, error) {
		start := time.Now()
		result, err := next.Handle(ctx, payload)

		info, _ := messaging.RequestInfoFrom(ctx)
		r.Record(info, start, time.Since(start), err)
		return result, err
	}
}

// Record adds one invocation of info's request
func (r *Recorder) Record(info messaging.RequestInfo, at time.Time, duration time.Duration, err error) {
	entry := Activity{
		Time:     at,
		Name:     info.Name,
		ID:       info.ID,
		Outcome:  OutcomeOK,
		Duration: duration,
	}
	if err != nil {
		entry.Outcome = OutcomeError
		entry.Error = err.Error()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.counts[info.Name]++
	if err != nil {
		r.errors[info.Name]++
	}
	r.recordTime(info.Name, duration)

	r.activity[r.next] = entry
	r.next = (r.next + 1) % len(r.activity)
	if r.next == 0 {
		r.full = true
	}
}

// recordTime must be called with r.mu held.
func (r *Recorder) recordTime(name string, duration time.Duration) {
	ms := duration.Milliseconds()

	stats, exists := r.times[name]
	if !exists {
		stats = &timeStats{
			minMs:   ms,
			maxMs:   ms,
			samples: make([]int64, 0, sampleSize),
		}
		r.times[name] = stats
	}

	stats.count++
	stats.totalMs += ms
	if ms < stats.minMs {
		stats.minMs = ms
	}
	if ms > stats.maxMs {
		stats.maxMs = ms
	}

	if len(stats.samples) >= sampleSize {
		stats.samples = stats.samples[1:]
	}
	stats.samples = append(stats.samples, ms)
}

// Recent returns up to n activities, newest first
func (r *Recorder) Recent(n int) []Activity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	size := r.next
	if r.full {
		size = len(r.activity)
	}
	if n <= 0 || n > size {
		n = size
	}

	out := make([]Activity, 0, n)
	for i := 1; i <= n; i++ {
		idx := (r.next - i + len(r.activity)) % len(r.activity)
		out = append(out, r.activity[idx])
	}
	return out
}

// Summary returns per-name statistics sorted by name
func (r *Recorder) Summary() []HandlerStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	summary := make([]HandlerStats, 0, len(r.counts))
	for name, count := range r.counts {
		hs := HandlerStats{
			Name:   name,
			Count:  count,
			Errors: r.errors[name],
		}
		if stats := r.times[name]; stats != nil {
			hs.MinMs = stats.minMs
			hs.MaxMs = stats.maxMs
			if stats.count > 0 {
				hs.AvgMs = stats.totalMs / stats.count
			}
			hs.P50Ms = percentile(stats.samples, 0.50)
			hs.P95Ms = percentile(stats.samples, 0.95)
			hs.P99Ms = percentile(stats.samples, 0.99)
		}
		summary = append(summary, hs)
	}

	sort.Slice(summary, func(i, j int) bool {
		return summary[i].Name < summary[j].Name
	})
	return summary
}

// Reset clears all collected metrics
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.counts = make(map[string]int64)
	r.errors = make(map[string]int64)
	r.times = make(map[string]*timeStats)
	r.activity = make([]Activity, len(r.activity))
	r.next = 0
	r.full = false
}

func percentile(samples []int64, p float64) int64 {
	if len(samples) == 0 {
		return 0
	}

	sorted := make([]int64, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return sorted[int(float64(len(sorted)-1)*p)]
}

// HandlerStats summarizes the invocations of one request name
type HandlerStats struct {
	Name   string `json:"name"`
	Count  int64  `json:"count"`
	Errors int64  `json:"errors"`
	AvgMs  int64  `json:"avg_ms"`
	MinMs  int64  `json:"min_ms"`
	MaxMs  int64  `json:"max_ms"`
	P50Ms  int64  `json:"p50_ms"`
	P95Ms  int64  `json:"p95_ms"`
	P99Ms  int64  `json:"p99_ms"`
}
