package config

import (
	"fmt"
	"time"
)

const (
	RecognizerBackendHTTP   = "http"
	RecognizerBackendCLI    = "cli"
	RecognizerBackendGoogle = "google"

	AccumulatorPolicyIndependent = "independent"
	AccumulatorPolicyConcat      = "concat"
)

type Config struct {
	Env                        string
	HTTPAddress                string
	WhisperModel               string
	DefaultLanguage            string
	RecognizerBackend          string
	RecognizerEndpoint         string
	RecognizerAPIKey           string
	WhisperCLIPath             string
	WhisperModelDir            string
	RecognitionTimeoutSec      int
	EnableDebounceBuffer       bool
	DefaultSilenceThresholdMs  int
	AccumulatorPolicy          string
	AccumulatorMaxBytes        int
	SessionIdleTimeoutSec      int
	SessionSweepIntervalSec    int
	DatabaseURL                string
	DownstreamWebhookURL       string
	GoogleCloudProjectID       string
	GoogleCloudCredentialsJSON string
	GoogleCloudSpeechLocation  string
	GoogleCloudSpeechModel     string
}

func (c *Config) Validate() error {
	for _, req := range c.requiredFieldChecks() {
		if req.value == "" {
			return fmt.Errorf("%s is required", req.name)
		}
	}
	switch c.RecognizerBackend {
	case RecognizerBackendHTTP:
		if c.RecognizerEndpoint == "" {
			return fmt.Errorf("RECOGNIZER_ENDPOINT is required when RECOGNIZER_BACKEND=%s", c.RecognizerBackend)
		}
	case RecognizerBackendCLI:
		if c.WhisperCLIPath == "" {
			return fmt.Errorf("WHISPER_CLI_PATH is required when RECOGNIZER_BACKEND=%s", c.RecognizerBackend)
		}
	case RecognizerBackendGoogle:
		if c.GoogleCloudProjectID == "" || c.GoogleCloudCredentialsJSON == "" {
			return fmt.Errorf("GOOGLE_CLOUD_PROJECT_ID and GOOGLE_CLOUD_CREDENTIALS_JSON are required when RECOGNIZER_BACKEND=%s", c.RecognizerBackend)
		}
	default:
		return fmt.Errorf("RECOGNIZER_BACKEND must be one of [http, cli, google], got %q", c.RecognizerBackend)
	}
	switch c.AccumulatorPolicy {
	case AccumulatorPolicyIndependent, AccumulatorPolicyConcat:
	default:
		return fmt.Errorf("ACCUMULATOR_POLICY must be one of [independent, concat], got %q", c.AccumulatorPolicy)
	}
	if c.AccumulatorPolicy == AccumulatorPolicyConcat && c.AccumulatorMaxBytes <= 0 {
		return fmt.Errorf("ACCUMULATOR_MAX_BYTES must be positive, got %d", c.AccumulatorMaxBytes)
	}
	if c.RecognitionTimeoutSec <= 0 {
		return fmt.Errorf("RECOGNITION_TIMEOUT_SEC must be positive, got %d", c.RecognitionTimeoutSec)
	}
	if c.DefaultSilenceThresholdMs < 0 {
		return fmt.Errorf("DEFAULT_SILENCE_THRESHOLD_MS cannot be negative, got %d", c.DefaultSilenceThresholdMs)
	}
	if c.SessionIdleTimeoutSec < 0 {
		return fmt.Errorf("SESSION_IDLE_TIMEOUT_SEC cannot be negative, got %d", c.SessionIdleTimeoutSec)
	}
	if c.SessionIdleTimeoutSec > 0 && c.SessionSweepIntervalSec <= 0 {
		return fmt.Errorf("SESSION_SWEEP_INTERVAL_SEC must be positive when idle expiry is enabled, got %d", c.SessionSweepIntervalSec)
	}
	return nil
}

type requiredEnvField struct {
	name  string
	value string
}

func (c *Config) requiredFieldChecks() []requiredEnvField {
	return []requiredEnvField{
		{name: "HTTP_ADDRESS", value: c.HTTPAddress},
		{name: "WHISPER_MODEL", value: c.WhisperModel},
		{name: "DEFAULT_LANGUAGE", value: c.DefaultLanguage},
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) RecognitionTimeout() time.Duration {
	return time.Duration(c.RecognitionTimeoutSec) * time.Second
}

// SessionIdleTimeout is zero when idle expiry is disabled.
func (c *Config) SessionIdleTimeout() time.Duration {
	return time.Duration(c.SessionIdleTimeoutSec) * time.Second
}

func (c *Config) SessionSweepInterval() time.Duration {
	return time.Duration(c.SessionSweepIntervalSec) * time.Second
}
