package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	internalconfig "github.com/foxseedlab/streamscribe/internal/config"
)

type envConfig struct {
	Env                        string `env:"ENV" envDefault:"production"`
	HTTPAddress                string `env:"HTTP_ADDRESS" envDefault:"127.0.0.1:5001"`
	WhisperModel               string `env:"WHISPER_MODEL" envDefault:"tiny"`
	DefaultLanguage            string `env:"DEFAULT_LANGUAGE" envDefault:"en"`
	RecognizerBackend          string `env:"RECOGNIZER_BACKEND" envDefault:"http"`
	RecognizerEndpoint         string `env:"RECOGNIZER_ENDPOINT" envDefault:"http://127.0.0.1:8080/inference"`
	RecognizerAPIKey           string `env:"RECOGNIZER_API_KEY"`
	WhisperCLIPath             string `env:"WHISPER_CLI_PATH" envDefault:"whisper-cli"`
	WhisperModelDir            string `env:"WHISPER_MODEL_DIR" envDefault:"models"`
	RecognitionTimeoutSec      int    `env:"RECOGNITION_TIMEOUT_SEC" envDefault:"30"`
	EnableDebounceBuffer       bool   `env:"ENABLE_DEBOUNCE_BUFFER" envDefault:"true"`
	DefaultSilenceThresholdMs  int    `env:"DEFAULT_SILENCE_THRESHOLD_MS" envDefault:"1500"`
	AccumulatorPolicy          string `env:"ACCUMULATOR_POLICY" envDefault:"independent"`
	AccumulatorMaxBytes        int    `env:"ACCUMULATOR_MAX_BYTES" envDefault:"4194304"`
	SessionIdleTimeoutSec      int    `env:"SESSION_IDLE_TIMEOUT_SEC" envDefault:"600"`
	SessionSweepIntervalSec    int    `env:"SESSION_SWEEP_INTERVAL_SEC" envDefault:"30"`
	DatabaseURL                string `env:"DATABASE_URL"`
	DownstreamWebhookURL       string `env:"DOWNSTREAM_WEBHOOK_URL"`
	GoogleCloudProjectID       string `env:"GOOGLE_CLOUD_PROJECT_ID"`
	GoogleCloudCredentialsJSON string `env:"GOOGLE_CLOUD_CREDENTIALS_JSON"`
	GoogleCloudSpeechLocation  string `env:"GOOGLE_CLOUD_SPEECH_LOCATION" envDefault:"global"`
	GoogleCloudSpeechModel     string `env:"GOOGLE_CLOUD_SPEECH_MODEL" envDefault:"long"`
}

func Load() (*internalconfig.Config, error) {
	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}

	cfg := &internalconfig.Config{
		Env:                        raw.Env,
		HTTPAddress:                raw.HTTPAddress,
		WhisperModel:               raw.WhisperModel,
		DefaultLanguage:            raw.DefaultLanguage,
		RecognizerBackend:          raw.RecognizerBackend,
		RecognizerEndpoint:         raw.RecognizerEndpoint,
		RecognizerAPIKey:           raw.RecognizerAPIKey,
		WhisperCLIPath:             raw.WhisperCLIPath,
		WhisperModelDir:            raw.WhisperModelDir,
		RecognitionTimeoutSec:      raw.RecognitionTimeoutSec,
		EnableDebounceBuffer:       raw.EnableDebounceBuffer,
		DefaultSilenceThresholdMs:  raw.DefaultSilenceThresholdMs,
		AccumulatorPolicy:          raw.AccumulatorPolicy,
		AccumulatorMaxBytes:        raw.AccumulatorMaxBytes,
		SessionIdleTimeoutSec:      raw.SessionIdleTimeoutSec,
		SessionSweepIntervalSec:    raw.SessionSweepIntervalSec,
		DatabaseURL:                raw.DatabaseURL,
		DownstreamWebhookURL:       raw.DownstreamWebhookURL,
		GoogleCloudProjectID:       raw.GoogleCloudProjectID,
		GoogleCloudCredentialsJSON: raw.GoogleCloudCredentialsJSON,
		GoogleCloudSpeechLocation:  raw.GoogleCloudSpeechLocation,
		GoogleCloudSpeechModel:     raw.GoogleCloudSpeechModel,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
