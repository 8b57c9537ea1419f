package api

import "whisperflow/internal/transcript"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Run describes a pipeline run.
type Run struct {
	ID                string               `json:"id"`
	State             string               `json:"state"`
	Progress          int                  `json:"progress"`
	CompletedProgress int                  `json:"completedProgress"`
	Options           RunOptions           `json:"options"`
	Final             bool                 `json:"final"`
	Warnings          []string             `json:"warnings,omitempty"`
	Error             *Error               `json:"error,omitempty"`
	Language          string               `json:"language,omitempty"`
	Speakers          []string             `json:"speakers,omitempty"`
	Segments          []transcript.Segment `json:"segments,omitempty"`
	CreatedAt         string               `json:"createdAt,omitempty"`
	FinishedAt        string               `json:"finishedAt,omitempty"`
}

// RunOptions mirrors the processing options a run was started with.
type RunOptions struct {
	Align                bool   `json:"align"`
	ReturnCharAlignments bool   `json:"returnCharAlignments"`
	Diarize              bool   `json:"diarize"`
	BatchSize            int    `json:"batchSize"`
	ComputeType          string `json:"computeType"`
}

// Error is the classified form of a failure.
type Error struct {
	Kind      string `json:"kind"`
	Stage     string `json:"stage,omitempty"`
	Operation string `json:"operation,omitempty"`
	Message   string `json:"message"`
	Hint      string `json:"hint,omitempty"`
}

// ErrorResponse wraps an Error for non-2xx responses.
type ErrorResponse struct {
	Error Error `json:"error"`
}

// Event is one progress update pushed over the event stream.
type Event struct {
	RunID    string `json:"runId"`
	State    string `json:"state"`
	Progress int    `json:"progress"`
	Message  string `json:"message,omitempty"`
	Time     string `json:"time"`
}

// CheckStatus is one preflight check as reported by /healthz and deps --json.
type CheckStatus struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// Health is the server health payload.
type Health struct {
	Ready  bool          `json:"ready"`
	Busy   bool          `json:"busy"`
	Checks []CheckStatus `json:"checks"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}
