package session

import (
	"time"

	"github.com/foxseedlab/streamscribe/internal/config"
	"github.com/foxseedlab/streamscribe/internal/metrics"
	"github.com/foxseedlab/streamscribe/internal/repository"
	"github.com/foxseedlab/streamscribe/internal/transcriber"
	"github.com/foxseedlab/streamscribe/internal/webhook"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Service, error) {
		cfg := do.MustInvoke[*config.Config](i)
		repo := do.MustInvoke[repository.Repository](i)
		stt := do.MustInvoke[transcriber.Recognizer](i)
		wh := do.MustInvoke[webhook.Sender](i)
		m := do.MustInvoke[*metrics.Metrics](i)
		return NewService(OptionsFromConfig(cfg), stt, AccumulatorFromConfig(cfg), repo, wh, m), nil
	})
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		EnableDebounceBuffer:    cfg.EnableDebounceBuffer,
		DefaultSilenceThreshold: msToDuration(cfg.DefaultSilenceThresholdMs),
		DefaultLanguage:         cfg.DefaultLanguage,
		RecognitionTimeout:      cfg.RecognitionTimeout(),
		IdleTimeout:             cfg.SessionIdleTimeout(),
		SweepInterval:           cfg.SessionSweepInterval(),
	}
}

func AccumulatorFromConfig(cfg *config.Config) Accumulator {
	if cfg.AccumulatorPolicy == config.AccumulatorPolicyConcat {
		return ConcatenateChunks{MaxBytes: cfg.AccumulatorMaxBytes}
	}
	return IndependentChunks{}
}

func msToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
