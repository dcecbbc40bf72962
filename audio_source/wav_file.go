package audio_source

import (
	"context"
	"fmt"
	"time"

	"github.com/go-audio/wav"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

type wavFileImpl struct {
	fileSys  afero.Fs
	path     string
	realtime bool
	trailing time.Duration
	cfg      Config
	frame    *framer
	logger   *zap.Logger
}

type WAVConfig struct {
	Config

	FileSys afero.Fs
	Path    string
	// Realtime paces frames at capture speed instead of as fast as possible.
	Realtime bool
	// TrailingSilence is appended after the file so the gate can close.
	TrailingSilence time.Duration
}

// NewWAVFile replays a mono 16-bit WAV file as a frame source. Used by
// self-test and for offline runs.
func NewWAVFile(cfg *WAVConfig) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.FileSys == nil {
		return nil, fmt.Errorf("fileSys is nil")
	}

	if cfg.Path == "" {
		return nil, fmt.Errorf("path is empty")
	}

	if err := cfg.Config.validate(); err != nil {
		return nil, err
	}

	frameSamples := frameSamplesFor(cfg.SampleRate, cfg.FrameDuration)

	return &wavFileImpl{
		fileSys:  cfg.FileSys,
		path:     cfg.Path,
		realtime: cfg.Realtime,
		trailing: cfg.TrailingSilence,
		cfg:      cfg.Config,
		frame:    newFramer(cfg.SampleRate, frameSamples, cfg.QueueFrames, cfg.OnDrop, cfg.Logger),
		logger:   cfg.Logger.Named("audio"),
	}, nil
}

func (w *wavFileImpl) Frames() <-chan Frame {
	return w.frame.out
}

func (w *wavFileImpl) Dropped() uint64 {
	return w.frame.dropped.Load()
}

func (w *wavFileImpl) Run(ctx context.Context) error {
	defer close(w.frame.out)

	samples, err := w.load()
	if err != nil {
		return err
	}

	samples = append(samples, make([]int16, frameSamplesFor(w.cfg.SampleRate, w.trailing))...)

	step := w.frame.frameSamples
	if rem := len(samples) % step; rem != 0 {
		samples = append(samples, make([]int16, step-rem)...)
	}

	var ticker *time.Ticker
	if w.realtime {
		ticker = time.NewTicker(w.cfg.FrameDuration)
		defer ticker.Stop()
	}

	for start := 0; start < len(samples); start += step {
		end := start + step

		if ticker != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		} else if ctx.Err() != nil {
			return nil
		}

		w.pushBlocking(ctx, samples[start:end])
	}

	w.logger.Debug("wav source exhausted", zap.String("path", w.path), zap.Int("samples", len(samples)))

	return nil
}

// pushBlocking waits for room in offline mode so no frame is lost; realtime
// mode keeps the drop-on-full behaviour of a live device.
func (w *wavFileImpl) pushBlocking(ctx context.Context, samples []int16) {
	if w.realtime {
		w.frame.push(samples)
		return
	}

	for len(w.frame.out) == cap(w.frame.out) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Millisecond):
		}
	}

	w.frame.push(samples)
}

func (w *wavFileImpl) load() ([]int16, error) {
	f, err := w.fileSys.Open(w.path)
	if err != nil {
		return nil, &AudioDeviceError{Device: w.path, Op: "open", Err: err}
	}

	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return nil, &AudioDeviceError{Device: w.path, Op: "decode", Err: fmt.Errorf("not a valid wav file")}
	}

	if d.NumChans != 1 || d.BitDepth != 16 {
		return nil, &AudioDeviceError{Device: w.path, Op: "decode", Err: fmt.Errorf("want mono 16-bit, got %d channels %d-bit", d.NumChans, d.BitDepth)}
	}

	if int(d.SampleRate) != w.cfg.SampleRate {
		return nil, &AudioDeviceError{Device: w.path, Op: "decode", Err: fmt.Errorf("want %d Hz, got %d Hz", w.cfg.SampleRate, d.SampleRate)}
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, &AudioDeviceError{Device: w.path, Op: "decode", Err: err}
	}

	samples := make([]int16, len(buf.Data))
	for i, s := range buf.Data {
		samples[i] = int16(s)
	}

	return samples, nil
}
