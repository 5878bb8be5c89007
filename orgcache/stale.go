package orgcache

import "time"

const (
	// DefaultMaxAge is the age past which a cache generation triggers an
	// automatic rebuild.
	DefaultMaxAge = 2 * time.Hour
	// HintMaxAge is the age past which a generation should be flagged as
	// stale when rendered. This is a separate consumer of the same
	// timestamp with its own threshold; do not fold it into DefaultMaxAge.
	HintMaxAge = 24 * time.Hour
)

// IsStale reports whether a cache generation built at ts is older than
// maxAge as of now. The zero time means no generation exists and is always
// stale. An age exactly equal to maxAge is still fresh.
func IsStale(ts, now time.Time, maxAge time.Duration) bool {
	if ts.IsZero() {
		return true
	}
	return now.Sub(ts) > maxAge
}

// The persisted form of a timestamp is milliseconds since the epoch, with 0
// meaning absent.

func epochMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromEpochMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
