// Package scheduler runs named probe jobs on cron or interval schedules.
//
// A job never overlaps itself: a trigger that fires while the previous run is still
// in flight is skipped, and the same rule applies to RunNow. Every run gets its own
// timeout and panics are recovered.
package scheduler
