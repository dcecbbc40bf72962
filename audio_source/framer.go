package audio_source

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// framer cuts arbitrary sample runs into fixed frames and hands them to a
// bounded channel without ever blocking the producer.
type framer struct {
	out          chan Frame
	sampleRate   int
	frameSamples int
	pending      []int16
	emitted      uint64
	dropped      atomic.Uint64
	onDrop       func()
	logger       *zap.Logger
}

func newFramer(sampleRate, frameSamples, queue int, onDrop func(), logger *zap.Logger) *framer {
	if queue < 1 {
		queue = 1
	}

	return &framer{
		out:          make(chan Frame, queue),
		sampleRate:   sampleRate,
		frameSamples: frameSamples,
		pending:      make([]int16, 0, frameSamples),
		onDrop:       onDrop,
		logger:       logger,
	}
}

func (f *framer) push(samples []int16) {
	for len(samples) > 0 {
		n := f.frameSamples - len(f.pending)
		if n > len(samples) {
			n = len(samples)
		}

		f.pending = append(f.pending, samples[:n]...)
		samples = samples[n:]

		if len(f.pending) == f.frameSamples {
			f.emit(f.pending)
			f.pending = make([]int16, 0, f.frameSamples)
		}
	}
}

func (f *framer) emit(samples []int16) {
	frame := Frame{
		Samples:    samples,
		SampleRate: f.sampleRate,
		Timestamp:  time.Duration(f.emitted) * time.Duration(f.frameSamples) * time.Second / time.Duration(f.sampleRate),
		Seq:        f.emitted,
	}
	f.emitted++

	select {
	case f.out <- frame:
	default:
		n := f.dropped.Add(1)
		if f.onDrop != nil {
			f.onDrop()
		}
		if n == 1 || n%100 == 0 {
			f.logger.Warn("audio buffer full, dropping frame", zap.Uint64("seq", frame.Seq), zap.Uint64("dropped", n))
		}
	}
}

func frameSamplesFor(sampleRate int, frame time.Duration) int {
	n := int(time.Duration(sampleRate) * frame / time.Second)
	if n < 1 {
		n = 1
	}

	return n
}
