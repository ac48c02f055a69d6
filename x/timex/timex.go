package timex

import "time"

// NowMs returns Unix milliseconds as int64.
func NowMs() int64 { return time.Now().UnixMilli() }

// UptimeSecs returns whole seconds since the given boot instant.
func UptimeSecs(boot time.Time) uint32 {
	d := time.Since(boot)
	if d < 0 {
		return 0
	}
	return uint32(d / time.Second)
}

// Elapsed reports whether at least d has passed since last.
func Elapsed(last, now time.Time, d time.Duration) bool {
	return now.Sub(last) >= d
}
