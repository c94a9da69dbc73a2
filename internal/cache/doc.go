// Package cache keeps the latest probe result per kind together with its write time.
//
// Readers never block on a probe: Get returns whatever was last written and flags it
// stale once the kind's freshness window has elapsed. Entries can be mirrored into a
// storage.Store so a restarted process serves the last known value immediately.
package cache
