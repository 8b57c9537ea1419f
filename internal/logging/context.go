package logging

import (
	"context"
	"log/slog"

	"whisperflow/internal/services"
)

const (
	// FieldComponent names the emitting component (pipeline, server, whisperx).
	FieldComponent = "component"
	// FieldRunID identifies a single transcription run.
	FieldRunID = "run_id"
	// FieldStage names the pipeline stage (transcribing, aligning, diarizing).
	FieldStage = "stage"
	// FieldCorrelationID carries HTTP request identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldEventType classifies lifecycle events such as stage_start.
	FieldEventType = "event_type"
	// FieldErrorKind carries services.ErrorKind on failures.
	FieldErrorKind = "error_kind"
	// FieldErrorHint suggests a next step to the operator.
	FieldErrorHint = "error_hint"
	// FieldImpact describes the user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldProgress carries the coarse progress percentage.
	FieldProgress = "progress"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	if id, ok := services.RunIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldRunID, id))
	}
	if stage, ok := services.StageFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStage, stage))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
