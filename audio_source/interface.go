package audio_source

import (
	"context"
	"fmt"
	"time"
)

// Frame is a fixed-duration block of mono 16-bit PCM. Timestamp is measured
// from the start of capture and never goes backwards.
type Frame struct {
	Samples    []int16
	SampleRate int
	Timestamp  time.Duration
	Seq        uint64
}

// Duration of the frame at its sample rate.
func (f Frame) Duration() time.Duration {
	if f.SampleRate == 0 {
		return 0
	}

	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

type Interface interface {
	// Run captures until ctx is done or the device fails, then closes Frames.
	Run(ctx context.Context) error
	Frames() <-chan Frame
	// Dropped counts frames discarded because the consumer fell behind.
	Dropped() uint64
}

// AudioDeviceError means the input device is gone or unusable. It is fatal
// for the session.
type AudioDeviceError struct {
	Device string
	Op     string
	Err    error
}

func (e *AudioDeviceError) Error() string {
	return fmt.Sprintf("audio device %q: %s: %v", e.Device, e.Op, e.Err)
}

func (e *AudioDeviceError) Unwrap() error {
	return e.Err
}
