package voice_activity

import (
	"time"

	"voice-command-router/audio_source"

	"github.com/go-audio/audio"
)

type EventKind int

const (
	UtteranceStart EventKind = iota + 1
	UtteranceStop
)

func (k EventKind) String() string {
	switch k {
	case UtteranceStart:
		return "start"
	case UtteranceStop:
		return "stop"
	}

	return "unknown"
}

// Event marks an utterance boundary. Timestamp is capture time of the
// boundary; Utterance is set only on stop.
type Event struct {
	Kind      EventKind
	Timestamp time.Duration
	Utterance *Utterance
}

// Utterance is handed over on stop and never touched by the gate again.
type Utterance struct {
	ID           string
	Frames       []audio_source.Frame
	Start        time.Duration
	End          time.Duration
	SpeechFrames int
	ForceClosed  bool
}

func (u *Utterance) Duration() time.Duration {
	return u.End - u.Start
}

func (u *Utterance) SampleRate() int {
	if len(u.Frames) == 0 {
		return 0
	}

	return u.Frames[0].SampleRate
}

// Samples concatenates every frame, pre-roll included.
func (u *Utterance) Samples() []int16 {
	n := 0
	for _, f := range u.Frames {
		n += len(f.Samples)
	}

	out := make([]int16, 0, n)
	for _, f := range u.Frames {
		out = append(out, f.Samples...)
	}

	return out
}

// Buffer returns the utterance as a mono 16-bit go-audio buffer.
func (u *Utterance) Buffer() *audio.IntBuffer {
	samples := u.Samples()

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}

	return &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: 1,
			SampleRate:  u.SampleRate(),
		},
		Data:           data,
		SourceBitDepth: 16,
	}
}

type Interface interface {
	// Feed consumes one frame and reports a boundary, or nil. It never blocks.
	Feed(frame audio_source.Frame) *Event
	// Arm opens a listening window: if only silence follows for the silence
	// threshold, an empty utterance is closed.
	Arm()
	// Reset drops any open utterance and the pre-roll.
	Reset()
	InUtterance() bool
}
