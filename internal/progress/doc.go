// Package progress carries crawl milestones from the engine to pluggable
// sinks. Emit never blocks the crawl; a background goroutine batches events
// and hands them to each sink in turn.
package progress
