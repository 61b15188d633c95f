package transcriber

import (
	"context"
	"fmt"

	"github.com/foxseedlab/streamscribe/internal/config"
	"github.com/foxseedlab/streamscribe/internal/transcriber"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (transcriber.Recognizer, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewRecognizer(context.Background(), c)
	})
}

// NewRecognizer builds the backend selected by RECOGNIZER_BACKEND.
func NewRecognizer(ctx context.Context, c *config.Config) (transcriber.Recognizer, error) {
	switch c.RecognizerBackend {
	case config.RecognizerBackendHTTP:
		return NewWhisperHTTPRecognizer(WhisperHTTPConfig{
			Endpoint: c.RecognizerEndpoint,
			APIKey:   c.RecognizerAPIKey,
			Model:    c.WhisperModel,
			Timeout:  c.RecognitionTimeout(),
		}), nil
	case config.RecognizerBackendCLI:
		return NewWhisperCLIRecognizer(WhisperCLIConfig{
			BinaryPath: c.WhisperCLIPath,
			ModelDir:   c.WhisperModelDir,
			Model:      c.WhisperModel,
		}), nil
	case config.RecognizerBackendGoogle:
		r, err := NewCloudSpeechRecognizer(ctx, CloudSpeechConfig{
			ProjectID:       c.GoogleCloudProjectID,
			CredentialsJSON: c.GoogleCloudCredentialsJSON,
			Location:        c.GoogleCloudSpeechLocation,
			Model:           c.GoogleCloudSpeechModel,
		})
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown recognizer backend %q", c.RecognizerBackend)
	}
}
