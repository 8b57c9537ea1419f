// Package api defines the wire-format types returned by the HTTP server and
// printed by the CLI's JSON output. It translates pipeline runs, errors, and
// health checks into transport-friendly DTOs so clients never couple to
// internal types.
//
// DTOs use camelCase JSON tags. Timestamps use RFC3339 with milliseconds.
// Segment payloads reuse the transcript JSON encoding unchanged.
package api
