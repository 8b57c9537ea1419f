package pipeline

import (
	"fmt"
	"strings"

	"whisperflow/internal/config"
	"whisperflow/internal/services"
)

// ComputeType selects the numeric precision used by the ASR model.
type ComputeType string

const (
	ComputeInt8    ComputeType = "int8"
	ComputeFloat16 ComputeType = "float16"
)

const (
	MinBatchSize     = 1
	MaxBatchSize     = 32
	DefaultBatchSize = 16
)

// ParseComputeType accepts the user-facing compute type names.
func ParseComputeType(value string) (ComputeType, error) {
	switch ComputeType(strings.ToLower(strings.TrimSpace(value))) {
	case "", ComputeInt8:
		return ComputeInt8, nil
	case ComputeFloat16:
		return ComputeFloat16, nil
	default:
		return "", services.Wrap(services.ErrInvalidOptions, "", "parse compute type",
			fmt.Sprintf("compute_type %q is not one of int8, float16", value), nil)
	}
}

// Options are the per-run processing options. They are fixed once a run starts.
type Options struct {
	Align                bool        `json:"align"`
	ReturnCharAlignments bool        `json:"return_char_alignments"`
	Diarize              bool        `json:"diarize"`
	BatchSize            int         `json:"batch_size"`
	ComputeType          ComputeType `json:"compute_type"`
}

// DefaultOptions returns batch size 16, int8, and every optional stage off.
func DefaultOptions() Options {
	return Options{BatchSize: DefaultBatchSize, ComputeType: ComputeInt8}
}

// OptionsFromConfig builds defaults from the [processing] config section.
func OptionsFromConfig(p config.Processing) Options {
	return Options{
		Align:                p.Align,
		ReturnCharAlignments: p.ReturnCharAlignments,
		Diarize:              p.Diarize,
		BatchSize:            p.BatchSize,
		ComputeType:          ComputeType(p.ComputeType),
	}
}

// Validate rejects out-of-range batch sizes and unknown compute types.
func (o Options) Validate() error {
	if o.BatchSize < MinBatchSize || o.BatchSize > MaxBatchSize {
		return services.Wrap(services.ErrInvalidOptions, "", "validate options",
			fmt.Sprintf("batch_size %d is outside %d..%d", o.BatchSize, MinBatchSize, MaxBatchSize), nil)
	}
	switch o.ComputeType {
	case ComputeInt8, ComputeFloat16:
	default:
		return services.Wrap(services.ErrInvalidOptions, "", "validate options",
			fmt.Sprintf("compute_type %q is not one of int8, float16", o.ComputeType), nil)
	}
	return nil
}

// charAlignments reports whether character spans should be produced.
// They only exist as a refinement of alignment.
func (o Options) charAlignments() bool {
	return o.Align && o.ReturnCharAlignments
}
