package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidOptions      = errors.New("invalid options")
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrMissingCredential   = errors.New("missing credential")
	ErrModelLoad           = errors.New("model load failed")
	ErrInference           = errors.New("inference failed")
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrInvalidTimestamp    = errors.New("invalid timestamp")
	ErrExternalTool        = errors.New("external tool error")
	ErrConfiguration       = errors.New("configuration error")
	ErrBusy                = errors.New("pipeline busy")
)

// ErrorKind is a stable, log-friendly name for an error marker.
type ErrorKind string

const (
	KindUnknown             ErrorKind = "unknown"
	KindInvalidOptions      ErrorKind = "invalid_options"
	KindUnsupportedFileType ErrorKind = "unsupported_file_type"
	KindMissingCredential   ErrorKind = "missing_credential"
	KindModelLoad           ErrorKind = "model_load"
	KindInference           ErrorKind = "inference"
	KindUnsupportedLanguage ErrorKind = "unsupported_language"
	KindInvalidTimestamp    ErrorKind = "invalid_timestamp"
	KindExternalTool        ErrorKind = "external_tool"
	KindConfiguration       ErrorKind = "configuration"
	KindBusy                ErrorKind = "busy"
)

var markerKinds = []struct {
	marker error
	kind   ErrorKind
	hint   string
}{
	{ErrInvalidOptions, KindInvalidOptions, "batch_size must be 1..32 and compute_type int8 or float16"},
	{ErrUnsupportedFileType, KindUnsupportedFileType, "upload an .mp3, .wav, .m4a or .mp4 file"},
	{ErrMissingCredential, KindMissingCredential, "store a Hugging Face token with 'whisperflow token set'"},
	{ErrModelLoad, KindModelLoad, "check device memory or lower batch_size and retry"},
	{ErrInference, KindInference, "inspect worker output; retry with a smaller batch_size"},
	{ErrUnsupportedLanguage, KindUnsupportedLanguage, "disable alignment for this language"},
	{ErrInvalidTimestamp, KindInvalidTimestamp, "segment times must be finite and non-negative"},
	{ErrExternalTool, KindExternalTool, "verify ffmpeg and uvx with 'whisperflow deps'"},
	{ErrConfiguration, KindConfiguration, "check the configuration file"},
	{ErrBusy, KindBusy, "wait for the running pipeline to finish"},
}

// Error carries the marker plus the stage/operation context it was raised in.
type Error struct {
	Marker    error
	Stage     string
	Operation string
	Message   string
	Cause     error
}

func (e *Error) Error() string {
	detail := buildDetail(e.Stage, e.Operation, e.Message)
	if e.Cause != nil {
		return fmt.Sprintf("%v: %s: %v", e.Marker, detail, e.Cause)
	}
	return fmt.Sprintf("%v: %s", e.Marker, detail)
}

func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Marker}
	}
	return []error{e.Marker, e.Cause}
}

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	if marker == nil {
		marker = ErrExternalTool
	}
	return &Error{
		Marker:    marker,
		Stage:     strings.TrimSpace(stage),
		Operation: strings.TrimSpace(operation),
		Message:   strings.TrimSpace(message),
		Cause:     err,
	}
}

// ErrorDetails is the flattened view of an error used by loggers and the HTTP API.
type ErrorDetails struct {
	Kind      ErrorKind
	Stage     string
	Operation string
	Message   string
	Hint      string
	Cause     error
}

// Details classifies err. Errors not produced by Wrap still get a Kind when they
// match one of the markers.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	details := ErrorDetails{Kind: KindUnknown, Message: err.Error()}
	for _, entry := range markerKinds {
		if errors.Is(err, entry.marker) {
			details.Kind = entry.kind
			details.Hint = entry.hint
			break
		}
	}
	var svcErr *Error
	if errors.As(err, &svcErr) {
		details.Stage = svcErr.Stage
		details.Operation = svcErr.Operation
		details.Cause = svcErr.Cause
		if svcErr.Message != "" {
			details.Message = svcErr.Message
		}
	}
	return details
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
