// Package credentials persists the Hugging Face access token required for
// speaker diarization.
//
// The token lives in a small TOML secrets file (hf_token = "...") written with
// mode 0600. HF_TOKEN in the environment takes precedence over the file. Token
// values are never logged; callers log whether a token is present.
package credentials
