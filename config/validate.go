package config

import (
	"errors"
	"fmt"
)

var (
	ConfirmationModes = []string{"always", "never", "smart", "destructive-only"}
	InterruptPolicies = []string{"barge-in", "queue", "reject"}
	EnsemblePolicies  = []string{"majority", "average", "hybrid"}
	SyncModes         = []string{"non-sensitive", "all", "off"}
)

func oneOf(value string, allowed []string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}

	return false
}

// Validate checks ranges and enumerations. All problems are reported at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", c.Audio.SampleRate))
	}

	if c.Audio.FrameDuration <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_duration must be positive, got %s", c.Audio.FrameDuration))
	}

	if c.Audio.QueueFrames < 1 {
		errs = append(errs, fmt.Errorf("audio.queue_frames must be at least 1, got %d", c.Audio.QueueFrames))
	}

	if c.VAD.FluxRatio <= 1 {
		errs = append(errs, fmt.Errorf("vad.flux_ratio must be greater than 1, got %v", c.VAD.FluxRatio))
	}

	if c.VAD.SilenceThreshold <= 0 {
		errs = append(errs, fmt.Errorf("vad.silence_threshold must be positive, got %s", c.VAD.SilenceThreshold))
	}

	if c.VAD.MaxUtterance <= c.VAD.MinSpeech {
		errs = append(errs, fmt.Errorf("vad.max_utterance (%s) must exceed vad.min_speech (%s)", c.VAD.MaxUtterance, c.VAD.MinSpeech))
	}

	if c.Intent.ConfidenceThreshold <= 0 || c.Intent.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("intent.confidence_threshold must be in (0,1], got %v", c.Intent.ConfidenceThreshold))
	}

	if c.Intent.EnsembleSize < 1 {
		errs = append(errs, fmt.Errorf("intent.ensemble_size must be at least 1, got %d", c.Intent.EnsembleSize))
	}

	if !oneOf(c.Intent.EnsemblePolicy, EnsemblePolicies) {
		errs = append(errs, fmt.Errorf("intent.ensemble_policy %q is not one of %v", c.Intent.EnsemblePolicy, EnsemblePolicies))
	}

	if c.Intent.DisagreementCap < 0 || c.Intent.DisagreementCap >= c.Intent.ConfidenceThreshold {
		errs = append(errs, fmt.Errorf("intent.disagreement_cap must be in [0, confidence_threshold), got %v", c.Intent.DisagreementCap))
	}

	if !oneOf(c.Confirmation.Mode, ConfirmationModes) {
		errs = append(errs, fmt.Errorf("confirmation.mode %q is not one of %v", c.Confirmation.Mode, ConfirmationModes))
	}

	if !oneOf(c.Session.InterruptPolicy, InterruptPolicies) {
		errs = append(errs, fmt.Errorf("session.interrupt_policy %q is not one of %v", c.Session.InterruptPolicy, InterruptPolicies))
	}

	if !oneOf(c.Knowledge.SyncMode, SyncModes) {
		errs = append(errs, fmt.Errorf("knowledge.sync_mode %q is not one of %v", c.Knowledge.SyncMode, SyncModes))
	}

	if c.Claude.CLIPath == "" {
		errs = append(errs, errors.New("claude.cli_path is empty"))
	}

	return errors.Join(errs...)
}
