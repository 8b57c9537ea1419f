// Package services defines shared utilities consumed by the pipeline stages and
// the model backends.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, stage names, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper so every failure can be
//     told apart (invalid options, missing credential, model load, inference,
//     unsupported language, ...) without string matching.
//
// Use these helpers when wiring new stage logic so error handling and
// observability stay uniform across the pipeline.
package services
