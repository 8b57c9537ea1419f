package preflight

import (
	"context"

	"whisperflow/internal/config"
)

// Result reports the outcome of a single preflight check. Detail holds the
// resolved path for passing checks and the reason for failing ones.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes the applicable checks. tokenPresent reports whether a
// Hugging Face token is available from the credential store.
func RunAll(ctx context.Context, cfg *config.Config, tokenPresent bool) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	results = append(results, CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir))
	if cfg.Paths.LogDir != "" {
		results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))
	}
	for _, status := range CheckSystemDeps(cfg) {
		r := Result{Name: status.Name, Passed: status.Available || status.Optional, Detail: status.Detail}
		if status.Available {
			r.Detail = status.Path
		}
		results = append(results, r)
	}
	if cfg.WhisperX.Backend == config.BackendWhisperCpp {
		results = append(results, CheckModelFile("whisper.cpp model", cfg.WhisperX.WhisperCppModel))
	} else {
		results = append(results, CheckPackageIndex(ctx, cfg.WhisperX.PypiIndexURL))
	}
	results = append(results, CheckToken(tokenPresent, cfg.Processing.Diarize))
	return results
}

// Failed filters results to the checks that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
