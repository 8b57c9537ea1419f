package pipeline

// State is a position in the run state machine.
type State string

const (
	StateIdle         State = "idle"
	StateTranscribing State = "transcribing"
	StateAligning     State = "aligning"
	StateDiarizing    State = "diarizing"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Progress checkpoints. Each stage reports load start, model loaded, and
// stage complete.
const (
	progressTranscribeStart  = 10
	progressTranscribeLoaded = 25
	progressTranscribeDone   = 40
	progressAlignStart       = 50
	progressAlignLoaded      = 60
	progressAlignDone        = 70
	progressDiarizeStart     = 80
	progressDiarizeLoaded    = 85
	progressDiarizeDone      = 90
	progressCompleted        = 100
)
