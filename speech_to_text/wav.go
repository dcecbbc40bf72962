package speech_to_text

import (
	"fmt"
	"path/filepath"
	"time"

	"voice-command-router/voice_activity"

	"github.com/go-audio/wav"
	"github.com/spf13/afero"
	"github.com/zenwerk/go-wave"
)

const pcmFormat = 1

// EncodeWAV renders the utterance as a 16-bit mono WAV. The encoder needs a
// seekable writer, so the file is staged on fileSys and removed afterwards.
func EncodeWAV(fileSys afero.Fs, u *voice_activity.Utterance) ([]byte, error) {
	name := filepath.Join(afero.GetTempDir(fileSys, "vcr"), u.ID+".wav")

	f, err := fileSys.Create(name)
	if err != nil {
		return nil, fmt.Errorf("stage wav: %w", err)
	}

	defer func() { _ = fileSys.Remove(name) }()

	enc := wav.NewEncoder(f, u.SampleRate(), 16, 1, pcmFormat)
	if err := enc.Write(u.Buffer()); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("encode wav: %w", err)
	}

	if err := enc.Close(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("encode wav: %w", err)
	}

	if err := f.Close(); err != nil {
		return nil, err
	}

	return afero.ReadFile(fileSys, name)
}

// Dumper keeps a copy of every utterance for debugging.
type Dumper struct {
	fileSys afero.Fs
	dir     string
	now     func() time.Time
}

func NewDumper(fileSys afero.Fs, dir string) (*Dumper, error) {
	if fileSys == nil {
		return nil, fmt.Errorf("file system is nil")
	}

	if err := fileSys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create dump directory: %w", err)
	}

	return &Dumper{fileSys: fileSys, dir: dir, now: time.Now}, nil
}

// Dump writes u to <dir>/<unix>-<id>.wav and returns the path.
func (d *Dumper) Dump(u *voice_activity.Utterance) (string, error) {
	name := filepath.Join(d.dir, fmt.Sprintf("%d-%s.wav", d.now().Unix(), u.ID))

	waveFile, err := d.fileSys.Create(name)
	if err != nil {
		return "", err
	}

	param := wave.WriterParam{
		Out:           waveFile,
		Channel:       1,
		SampleRate:    u.SampleRate(),
		BitsPerSample: 16,
	}

	waveWriter, err := wave.NewWriter(param)
	if err != nil {
		_ = waveFile.Close()
		return "", err
	}

	if _, err := waveWriter.WriteSample16(u.Samples()); err != nil {
		_ = waveWriter.Close()
		return "", err
	}

	return name, waveWriter.Close()
}
