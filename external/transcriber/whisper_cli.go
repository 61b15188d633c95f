package transcriber

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/foxseedlab/streamscribe/internal/transcriber"
)

type WhisperCLIConfig struct {
	BinaryPath string
	ModelDir   string
	Model      string
}

type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// WhisperCLIRecognizer runs a local whisper.cpp binary per request and reads
// its JSON output file.
type WhisperCLIRecognizer struct {
	binary    string
	modelPath string
	run       commandRunner
}

type whisperCLIOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

func NewWhisperCLIRecognizer(cfg WhisperCLIConfig) *WhisperCLIRecognizer {
	return &WhisperCLIRecognizer{
		binary:    cfg.BinaryPath,
		modelPath: filepath.Join(cfg.ModelDir, fmt.Sprintf("ggml-%s.bin", cfg.Model)),
		run:       runCommand,
	}
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Transcribe spills audio to a temporary file and recognizes it.
func (r *WhisperCLIRecognizer) Transcribe(ctx context.Context, audio []byte, language string) (transcriber.Result, error) {
	f, err := os.CreateTemp("", "streamscribe-*.wav")
	if err != nil {
		return transcriber.Result{}, fmt.Errorf("create temp audio file: %w", err)
	}
	defer func() {
		_ = os.Remove(f.Name())
	}()
	if _, err := f.Write(audio); err != nil {
		_ = f.Close()
		return transcriber.Result{}, fmt.Errorf("write temp audio file: %w", err)
	}
	if err := f.Close(); err != nil {
		return transcriber.Result{}, fmt.Errorf("close temp audio file: %w", err)
	}
	return r.TranscribeFile(ctx, f.Name(), language)
}

func (r *WhisperCLIRecognizer) TranscribeFile(ctx context.Context, path, language string) (transcriber.Result, error) {
	outDir, err := os.MkdirTemp("", "streamscribe-out-*")
	if err != nil {
		return transcriber.Result{}, fmt.Errorf("create output dir: %w", err)
	}
	defer func() {
		_ = os.RemoveAll(outDir)
	}()
	base := filepath.Join(outDir, "result")

	if language == "" {
		language = "auto"
	}
	args := []string{"-m", r.modelPath, "-f", path, "-l", language, "-oj", "-of", base, "-np"}
	started := time.Now()
	if out, err := r.run(ctx, r.binary, args...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return transcriber.Result{}, fmt.Errorf("whisper cli: %w", ctxErr)
		}
		return transcriber.Result{}, fmt.Errorf("whisper cli failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	slog.Debug("whisper cli finished", "path", path, "duration_sec", time.Since(started).Seconds())

	raw, err := os.ReadFile(base + ".json")
	if err != nil {
		return transcriber.Result{}, fmt.Errorf("read whisper cli output: %w", err)
	}
	var parsed whisperCLIOutput
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return transcriber.Result{}, fmt.Errorf("decode whisper cli output: %w", err)
	}

	res := transcriber.Result{Language: parsed.Result.Language}
	for _, seg := range parsed.Transcription {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		res.Segments = append(res.Segments, transcriber.Segment{
			Text:  text,
			Start: time.Duration(seg.Offsets.From) * time.Millisecond,
			End:   time.Duration(seg.Offsets.To) * time.Millisecond,
		})
	}
	return res, nil
}
