package transcriber

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/auth/credentials"
	speech "cloud.google.com/go/speech/apiv2"
	speechpb "cloud.google.com/go/speech/apiv2/speechpb"
	"github.com/foxseedlab/streamscribe/internal/transcriber"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const speechAPIEndpointPort = 443

type CloudSpeechConfig struct {
	ProjectID       string
	CredentialsJSON string
	Location        string
	Model           string
}

type recognizeFunc func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)

// CloudSpeechRecognizer sends each buffer to Cloud Speech-to-Text v2 as a
// synchronous Recognize request with automatic decoding detection.
type CloudSpeechRecognizer struct {
	recognizer string
	model      string
	recognize  recognizeFunc
	closeFn    func() error
}

func NewCloudSpeechRecognizer(ctx context.Context, cfg CloudSpeechConfig) (*CloudSpeechRecognizer, error) {
	location := strings.TrimSpace(cfg.Location)
	if location == "" {
		location = "global"
	}

	creds, err := credentials.DetectDefault(&credentials.DetectOptions{
		CredentialsJSON: []byte(cfg.CredentialsJSON),
		Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
	})
	if err != nil {
		return nil, fmt.Errorf("detect credentials: %w", err)
	}

	opts := []option.ClientOption{
		option.WithAuthCredentials(creds),
	}
	if location != "global" {
		opts = append(opts, option.WithEndpoint(fmt.Sprintf("%s-speech.googleapis.com:%d", location, speechAPIEndpointPort)))
	}

	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}
	slog.Info("cloud speech client initialized", "location", location, "model", cfg.Model)

	r := newCloudSpeechRecognizer(cfg.ProjectID, location, cfg.Model, func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
		return client.Recognize(ctx, req)
	})
	r.closeFn = client.Close
	return r, nil
}

func newCloudSpeechRecognizer(projectID, location, model string, fn recognizeFunc) *CloudSpeechRecognizer {
	return &CloudSpeechRecognizer{
		recognizer: fmt.Sprintf("projects/%s/locations/%s/recognizers/_", projectID, location),
		model:      strings.TrimSpace(model),
		recognize:  fn,
		closeFn:    func() error { return nil },
	}
}

func (r *CloudSpeechRecognizer) Transcribe(ctx context.Context, audio []byte, language string) (transcriber.Result, error) {
	req := &speechpb.RecognizeRequest{
		Recognizer: r.recognizer,
		Config: &speechpb.RecognitionConfig{
			Model: r.model,
			DecodingConfig: &speechpb.RecognitionConfig_AutoDecodingConfig{
				AutoDecodingConfig: &speechpb.AutoDetectDecodingConfig{},
			},
			Features: &speechpb.RecognitionFeatures{EnableAutomaticPunctuation: true},
		},
		AudioSource: &speechpb.RecognizeRequest_Content{Content: audio},
	}
	if language != "" {
		req.Config.LanguageCodes = []string{language}
	}

	resp, err := r.recognize(ctx, req)
	if err != nil {
		return transcriber.Result{}, mapSpeechError(err)
	}

	var res transcriber.Result
	var start time.Duration
	for _, result := range resp.GetResults() {
		alts := result.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		end := result.GetResultEndOffset().AsDuration()
		res.Segments = append(res.Segments, transcriber.Segment{
			Text:  strings.TrimSpace(alts[0].GetTranscript()),
			Start: start,
			End:   end,
		})
		start = end
		if res.Language == "" {
			res.Language = result.GetLanguageCode()
		}
	}
	return res, nil
}

// Shutdown closes the underlying gRPC client.
func (r *CloudSpeechRecognizer) Shutdown() error {
	return r.closeFn()
}

// mapSpeechError surfaces gRPC deadline and cancellation codes as the
// matching context errors so callers can classify them.
func mapSpeechError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("speech recognize: %w", err)
	}
	switch st.Code() {
	case codes.DeadlineExceeded:
		return fmt.Errorf("speech recognize: %w: %s", context.DeadlineExceeded, st.Message())
	case codes.Canceled:
		return fmt.Errorf("speech recognize: %w: %s", context.Canceled, st.Message())
	default:
		return fmt.Errorf("speech recognize: %s: %s", st.Code(), st.Message())
	}
}
