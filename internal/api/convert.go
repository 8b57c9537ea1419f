package api

import (
	"time"

	"whisperflow/internal/deps"
	"whisperflow/internal/pipeline"
	"whisperflow/internal/preflight"
	"whisperflow/internal/services"
)

// FromSnapshot converts a run snapshot. Segments are included only when
// withSegments is set, since they can be large.
func FromSnapshot(snap pipeline.Snapshot, withSegments bool) Run {
	dto := Run{
		ID:                snap.ID,
		State:             string(snap.State),
		Progress:          snap.Progress,
		CompletedProgress: snap.CompletedProgress,
		Options: RunOptions{
			Align:                snap.Options.Align,
			ReturnCharAlignments: snap.Options.ReturnCharAlignments,
			Diarize:              snap.Options.Diarize,
			BatchSize:            snap.Options.BatchSize,
			ComputeType:          string(snap.Options.ComputeType),
		},
		Final:      snap.Final,
		Warnings:   snap.Warnings,
		CreatedAt:  formatTime(snap.CreatedAt),
		FinishedAt: formatTime(snap.FinishedAt),
	}
	if snap.Err != nil {
		e := FromError(snap.Err)
		dto.Error = &e
	}
	if snap.Result != nil {
		dto.Language = snap.Result.Language
		dto.Speakers = snap.Result.Speakers()
		if withSegments {
			dto.Segments = snap.Result.Segments
		}
	}
	return dto
}

// FromError classifies err for transport.
func FromError(err error) Error {
	d := services.Details(err)
	return Error{
		Kind:      string(d.Kind),
		Stage:     d.Stage,
		Operation: d.Operation,
		Message:   d.Message,
		Hint:      d.Hint,
	}
}

// FromEvent converts a pipeline progress event.
func FromEvent(evt pipeline.Event) Event {
	return Event{
		RunID:    evt.RunID,
		State:    string(evt.State),
		Progress: evt.Progress,
		Message:  evt.Message,
		Time:     formatTime(evt.Time),
	}
}

// FromChecks converts preflight results.
func FromChecks(results []preflight.Result) []CheckStatus {
	out := make([]CheckStatus, 0, len(results))
	for _, r := range results {
		out = append(out, CheckStatus{Name: r.Name, Ready: r.Passed, Detail: r.Detail})
	}
	return out
}

// FromDependencies converts binary checks.
func FromDependencies(statuses []deps.Status) []DependencyStatus {
	out := make([]DependencyStatus, len(statuses))
	for i, dep := range statuses {
		out[i] = DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Detail:      dep.Detail,
		}
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
