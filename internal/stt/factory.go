package stt

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sanjana-Tekisho/screen5-meetingcapture/internal/audio"
	"github.com/Sanjana-Tekisho/screen5-meetingcapture/internal/config"
	"github.com/Sanjana-Tekisho/screen5-meetingcapture/internal/observability"
	"github.com/Sanjana-Tekisho/screen5-meetingcapture/internal/resilience"
)

// Factory builds a fresh Source for each recording start
type Factory func(logger zerolog.Logger, metrics *observability.Metrics) (Source, error)

// NewFactory returns a Factory for the configured transcription mode
func NewFactory(cfg *config.Config) (Factory, error) {
	switch cfg.TranscriptionMode {
	case config.ModeStreaming, config.ModeBatch, config.ModeDeepgram:
	default:
		return nil, fmt.Errorf("unknown transcription mode %q", cfg.TranscriptionMode)
	}

	return func(logger zerolog.Logger, metrics *observability.Metrics) (Source, error) {
		return NewSource(cfg, logger, metrics)
	}, nil
}

// NewSource creates the source selected by cfg.TranscriptionMode
func NewSource(cfg *config.Config, logger zerolog.Logger, metrics *observability.Metrics) (Source, error) {
	switch cfg.TranscriptionMode {
	case config.ModeStreaming:
		reconnect := &resilience.ReconnectConfig{
			MaxAttempts: cfg.ReconnectMaxAttempts,
			Backoff:     time.Duration(cfg.ReconnectBackoff) * time.Millisecond,
			Multiplier:  2.0,
			MaxBackoff:  30 * time.Second,
		}
		return NewStreamingSource(cfg.TranscriptionWSURL, reconnect, logger), nil

	case config.ModeBatch:
		return NewBatchSource(BatchConfig{
			Endpoint:    cfg.BatchEndpoint,
			APIKey:      cfg.BatchAPIKey,
			Model:       cfg.BatchModel,
			Language:    cfg.BatchLanguage,
			Diarize:     cfg.BatchDiarize,
			Window:      time.Duration(cfg.BatchWindow) * time.Second,
			PausePoll:   time.Duration(cfg.BatchPausePoll) * time.Millisecond,
			SampleRate:  cfg.AudioSampleRate,
			SkipSilence: cfg.BatchSkipSilence,
			Timeout:     time.Duration(cfg.BatchTimeout) * time.Second,
			Roles:       cfg.Roles(),
			VAD: &audio.VADConfig{
				EnergyThreshold: cfg.VADEnergyThreshold,
				SilenceFrames:   cfg.VADSilenceFrames,
				FrameSize:       cfg.AudioFrameSamples,
			},
			CircuitBreakerMaxFailures:  cfg.CircuitBreakerMaxFailures,
			CircuitBreakerResetTimeout: time.Duration(cfg.CircuitBreakerResetTimeout) * time.Second,
		}, logger, metrics), nil

	case config.ModeDeepgram:
		return NewDeepgramSource(DeepgramConfig{
			APIKey:                     cfg.DeepgramAPIKey,
			Model:                      cfg.DeepgramModel,
			Language:                   cfg.DeepgramLanguage,
			SampleRate:                 cfg.AudioSampleRate,
			CircuitBreakerMaxFailures:  cfg.CircuitBreakerMaxFailures,
			CircuitBreakerResetTimeout: time.Duration(cfg.CircuitBreakerResetTimeout) * time.Second,
		}, logger), nil
	}

	return nil, fmt.Errorf("unknown transcription mode %q", cfg.TranscriptionMode)
}
