package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix   = "VCR"
	appDir      = ".voice-command-router"
	configName  = "config.yaml"
	databaseDef = "knowledge.db"
)

type Config struct {
	Audio        AudioConfig        `mapstructure:"audio" yaml:"audio"`
	VAD          VADConfig          `mapstructure:"vad" yaml:"vad"`
	STT          STTConfig          `mapstructure:"stt" yaml:"stt"`
	TTS          TTSConfig          `mapstructure:"tts" yaml:"tts"`
	Intent       IntentConfig       `mapstructure:"intent" yaml:"intent"`
	Confirmation ConfirmationConfig `mapstructure:"confirmation" yaml:"confirmation"`
	Session      SessionConfig      `mapstructure:"session" yaml:"session"`
	Knowledge    KnowledgeConfig    `mapstructure:"knowledge" yaml:"knowledge"`
	Claude       ClaudeConfig       `mapstructure:"claude" yaml:"claude"`
	Logging      LoggingConfig      `mapstructure:"logging" yaml:"logging"`
	Metrics      MetricsConfig      `mapstructure:"metrics" yaml:"metrics"`
}

type AudioConfig struct {
	InputDevice   string        `mapstructure:"input_device" yaml:"input_device"`
	SampleRate    int           `mapstructure:"sample_rate" yaml:"sample_rate"`
	FrameDuration time.Duration `mapstructure:"frame_duration" yaml:"frame_duration"`
	QueueFrames   int           `mapstructure:"queue_frames" yaml:"queue_frames"`
	DumpDir       string        `mapstructure:"dump_dir" yaml:"dump_dir"`
}

type VADConfig struct {
	SpeechThreshold  float64       `mapstructure:"speech_threshold" yaml:"speech_threshold"`
	FluxRatio        float64       `mapstructure:"flux_ratio" yaml:"flux_ratio"`
	MinSpeech        time.Duration `mapstructure:"min_speech" yaml:"min_speech"`
	SilenceThreshold time.Duration `mapstructure:"silence_threshold" yaml:"silence_threshold"`
	MaxUtterance     time.Duration `mapstructure:"max_utterance" yaml:"max_utterance"`
	PreRoll          time.Duration `mapstructure:"pre_roll" yaml:"pre_roll"`
}

type STTConfig struct {
	Provider        string        `mapstructure:"provider" yaml:"provider"`
	ModelPath       string        `mapstructure:"model_path" yaml:"model_path"`
	Language        string        `mapstructure:"language" yaml:"language"`
	FallbackURL     string        `mapstructure:"fallback_url" yaml:"fallback_url"`
	FallbackAPIKey  string        `mapstructure:"fallback_api_key" yaml:"fallback_api_key"`
	FallbackModel   string        `mapstructure:"fallback_model" yaml:"fallback_model"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	ConfidenceFloor float64       `mapstructure:"confidence_floor" yaml:"confidence_floor"`
}

type TTSConfig struct {
	Provider string `mapstructure:"provider" yaml:"provider"`
	Voice    string `mapstructure:"voice" yaml:"voice"`
	Rate     int    `mapstructure:"rate" yaml:"rate"`
}

type IntentConfig struct {
	Model               string  `mapstructure:"model" yaml:"model"`
	Endpoint            string  `mapstructure:"endpoint" yaml:"endpoint"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold" yaml:"confidence_threshold"`
	EnsembleSize        int     `mapstructure:"ensemble_size" yaml:"ensemble_size"`
	EnsemblePolicy      string  `mapstructure:"ensemble_policy" yaml:"ensemble_policy"`
	DisagreementCap     float64 `mapstructure:"disagreement_cap" yaml:"disagreement_cap"`
}

type ConfirmationConfig struct {
	Mode    string        `mapstructure:"mode" yaml:"mode"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type SessionConfig struct {
	Continuous            bool          `mapstructure:"continuous" yaml:"continuous"`
	InterruptPolicy       string        `mapstructure:"interrupt_policy" yaml:"interrupt_policy"`
	BargeInLatency        time.Duration `mapstructure:"barge_in_latency" yaml:"barge_in_latency"`
	SpeakPartial          bool          `mapstructure:"speak_partial" yaml:"speak_partial"`
	EscalateOnUncertainty bool          `mapstructure:"escalate_on_uncertainty" yaml:"escalate_on_uncertainty"`
}

type KnowledgeConfig struct {
	LocalDB      string `mapstructure:"local_db" yaml:"local_db"`
	SyncEndpoint string `mapstructure:"sync_endpoint" yaml:"sync_endpoint"`
	SyncMode     string `mapstructure:"sync_mode" yaml:"sync_mode"`
	SyncQueue    int    `mapstructure:"sync_queue" yaml:"sync_queue"`
}

type ClaudeConfig struct {
	CLIPath     string        `mapstructure:"cli_path" yaml:"cli_path"`
	Model       string        `mapstructure:"model" yaml:"model"`
	ExtraArgs   []string      `mapstructure:"extra_args" yaml:"extra_args"`
	GracePeriod time.Duration `mapstructure:"grace_period" yaml:"grace_period"`
	WorkDir     string        `mapstructure:"work_dir" yaml:"work_dir"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Filename   string `mapstructure:"filename" yaml:"filename"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	Debug      bool   `mapstructure:"debug" yaml:"debug"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// Dir is the per-user directory holding the config file and knowledge db.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return appDir
	}

	return filepath.Join(home, appDir)
}

// Path is the default config file location.
func Path() string {
	return filepath.Join(Dir(), configName)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("audio.input_device", "default")
	v.SetDefault("audio.sample_rate", 16000)
	v.SetDefault("audio.frame_duration", 20*time.Millisecond)
	v.SetDefault("audio.queue_frames", 64)
	v.SetDefault("audio.dump_dir", "")

	v.SetDefault("vad.speech_threshold", 0.015)
	v.SetDefault("vad.flux_ratio", 1.75)
	v.SetDefault("vad.min_speech", 60*time.Millisecond)
	v.SetDefault("vad.silence_threshold", 1500*time.Millisecond)
	v.SetDefault("vad.max_utterance", 30*time.Second)
	v.SetDefault("vad.pre_roll", 300*time.Millisecond)

	v.SetDefault("stt.provider", "whisper")
	v.SetDefault("stt.model_path", filepath.Join(Dir(), "models", "ggml-base.en.bin"))
	v.SetDefault("stt.language", "en")
	v.SetDefault("stt.fallback_url", "")
	v.SetDefault("stt.fallback_model", "whisper-1")
	v.SetDefault("stt.timeout", 20*time.Second)
	v.SetDefault("stt.confidence_floor", 0.35)

	v.SetDefault("tts.provider", "say")
	v.SetDefault("tts.voice", "Samantha")
	v.SetDefault("tts.rate", 200)

	v.SetDefault("intent.model", "")
	v.SetDefault("intent.endpoint", "")
	v.SetDefault("intent.confidence_threshold", 0.80)
	v.SetDefault("intent.ensemble_size", 3)
	v.SetDefault("intent.ensemble_policy", "majority")
	v.SetDefault("intent.disagreement_cap", 0.5)

	v.SetDefault("confirmation.mode", "smart")
	v.SetDefault("confirmation.timeout", time.Second)

	v.SetDefault("session.continuous", true)
	v.SetDefault("session.interrupt_policy", "barge-in")
	v.SetDefault("session.barge_in_latency", 300*time.Millisecond)
	v.SetDefault("session.speak_partial", true)
	v.SetDefault("session.escalate_on_uncertainty", false)

	v.SetDefault("knowledge.local_db", filepath.Join(Dir(), databaseDef))
	v.SetDefault("knowledge.sync_endpoint", "")
	v.SetDefault("knowledge.sync_mode", "non-sensitive")
	v.SetDefault("knowledge.sync_queue", 64)

	v.SetDefault("claude.cli_path", "claude")
	v.SetDefault("claude.model", "sonnet")
	v.SetDefault("claude.extra_args", []string{})
	v.SetDefault("claude.grace_period", 3*time.Second)
	v.SetDefault("claude.work_dir", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.filename", "")
	v.SetDefault("logging.max_size", 64)
	v.SetDefault("logging.max_age", 14)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.debug", false)

	v.SetDefault("metrics.addr", "")
}

// NewViper returns a viper instance with defaults and VCR_* env overrides.
// Callers may bind flags on it before calling Load.
func NewViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// Load reads path (if it exists) into v and decodes the result. A missing
// file is not an error; defaults apply.
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = NewViper()
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")

		if _, err := os.Stat(path); err == nil {
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the configuration produced by defaults alone.
func Default() *Config {
	cfg, err := Load(nil, "")
	if err != nil {
		panic(fmt.Sprintf("default config is invalid: %v", err))
	}

	return cfg
}

// Save writes cfg as YAML, creating parent directories.
func Save(cfg *Config, path string) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	return os.WriteFile(path, out, 0o644)
}

// YAML renders cfg for `config show`.
func (c *Config) YAML() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}

	return string(out), nil
}
