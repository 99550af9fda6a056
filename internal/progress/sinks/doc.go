// Package sinks implements progress consumers: structured logging,
// Prometheus collectors, and an in-memory status tally served over HTTP.
package sinks
