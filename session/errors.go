package session

import "errors"

// ErrCancellationRace marks a result that arrived for a turn that was
// already interrupted or finished. It is logged and dropped, never spoken.
var ErrCancellationRace = errors.New("result arrived for a cancelled turn")

type InterruptPolicy string

const (
	// PolicyBargeIn cancels the running turn when new speech starts.
	PolicyBargeIn InterruptPolicy = "barge-in"
	// PolicyQueue holds the newest utterance until the turn reaches Idle.
	PolicyQueue InterruptPolicy = "queue"
	// PolicyReject drops speech heard while busy and says so.
	PolicyReject InterruptPolicy = "reject"
)

const (
	outcomeDispatched          = "dispatched"
	outcomeFailed              = "failed"
	outcomeLocal               = "local"
	outcomeClarified           = "clarified"
	outcomeInterrupted         = "interrupted"
	outcomeNoSpeech            = "no_speech"
	outcomeNoise               = "noise"
	outcomeTranscriptionFailed = "transcription_failed"
	outcomeRejected            = "rejected"
	outcomeAbandoned           = "abandoned"
)
