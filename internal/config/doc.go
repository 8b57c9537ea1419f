// Package config loads, normalizes, and validates whisperflow configuration.
//
// Configuration lives in a TOML file (default ~/.config/whisperflow/config.toml,
// or ./whisperflow.toml, or WHISPERFLOW_CONFIG). Missing files fall back to
// defaults. A handful of WHISPERFLOW_* environment variables override file
// values after decoding. The Hugging Face token is not part of this file; it
// lives in the separate secrets file managed by the credentials package.
package config
