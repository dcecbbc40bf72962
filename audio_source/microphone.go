package audio_source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"
)

const defaultDevice = "default"

type microphoneImpl struct {
	device     string
	sampleRate int
	frame      *framer
	logger     *zap.Logger
}

type Config struct {
	// Device is a portaudio device name, or "default".
	Device        string
	SampleRate    int
	FrameDuration time.Duration
	QueueFrames   int
	OnDrop        func()
	Logger        *zap.Logger
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if cfg.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive")
	}

	if cfg.FrameDuration <= 0 {
		return fmt.Errorf("frame duration must be positive")
	}

	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return nil
}

// NewMicrophone captures from a live input device through portaudio.
func NewMicrophone(cfg *Config) (Interface, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	device := cfg.Device
	if device == "" {
		device = defaultDevice
	}

	frameSamples := frameSamplesFor(cfg.SampleRate, cfg.FrameDuration)

	return &microphoneImpl{
		device:     device,
		sampleRate: cfg.SampleRate,
		frame:      newFramer(cfg.SampleRate, frameSamples, cfg.QueueFrames, cfg.OnDrop, cfg.Logger),
		logger:     cfg.Logger.Named("audio"),
	}, nil
}

func (m *microphoneImpl) Frames() <-chan Frame {
	return m.frame.out
}

func (m *microphoneImpl) Dropped() uint64 {
	return m.frame.dropped.Load()
}

func (m *microphoneImpl) deviceError(op string, err error) error {
	return &AudioDeviceError{Device: m.device, Op: op, Err: err}
}

func (m *microphoneImpl) Run(ctx context.Context) error {
	defer close(m.frame.out)

	if err := portaudio.Initialize(); err != nil {
		return m.deviceError("initialize", err)
	}

	defer func() {
		if err := portaudio.Terminate(); err != nil {
			m.logger.Warn("error while freeing audio", zap.Error(err))
		}
	}()

	in := make([]int16, m.frame.frameSamples)

	stream, err := m.openStream(in)
	if err != nil {
		return m.deviceError("open", err)
	}

	defer stream.Close()

	if err = stream.Start(); err != nil {
		return m.deviceError("start", err)
	}

	m.logger.Info("capture started",
		zap.String("device", m.device),
		zap.Int("sample_rate", m.sampleRate),
		zap.Int("frame_samples", len(in)))

	// Read blocks for one frame; Abort unblocks it on shutdown.
	go func() {
		<-ctx.Done()
		_ = stream.Abort()
	}()

	for {
		err = stream.Read()
		if ctx.Err() != nil {
			return nil
		}

		if err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				m.logger.Debug("input overflowed")
				continue
			}

			return m.deviceError("read", err)
		}

		samples := make([]int16, len(in))
		copy(samples, in)
		m.frame.push(samples)
	}
}

func (m *microphoneImpl) openStream(in []int16) (*portaudio.Stream, error) {
	if m.device == defaultDevice {
		return portaudio.OpenDefaultStream(1, 0, float64(m.sampleRate), len(in), in)
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}

	for _, d := range devices {
		if d.Name != m.device || d.MaxInputChannels < 1 {
			continue
		}

		p := portaudio.LowLatencyParameters(d, nil)
		p.Input.Channels = 1
		p.Output.Channels = 0
		p.SampleRate = float64(m.sampleRate)
		p.FramesPerBuffer = len(in)

		return portaudio.OpenStream(p, in)
	}

	return nil, fmt.Errorf("no input device named %q", m.device)
}

// InputDevices lists capture-capable device names, for self-test output.
func InputDevices() ([]string, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, &AudioDeviceError{Device: defaultDevice, Op: "initialize", Err: err}
	}

	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, &AudioDeviceError{Device: defaultDevice, Op: "list", Err: err}
	}

	names := make([]string, 0, len(devices))
	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			names = append(names, d.Name)
		}
	}

	return names, nil
}
