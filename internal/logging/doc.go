// Package logging assembles the slog loggers used across whisperflow.
//
// It owns the console and JSON handlers, level and output plumbing, and
// context helpers that tag log lines with run IDs, pipeline stages, and HTTP
// correlation IDs. Credentials must never be passed as attributes; callers log
// presence (token_present=true) instead of values.
package logging
