package provider

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Transcript is the result of speech recognition
type Transcript struct {
	Text       string
	Confidence float64
}

// Recognizer transcribes an audio segment into text. Implementations must
// be safe for concurrent use and idempotent per segment so callers can
// retry transient failures.
type Recognizer interface {
	Recognize(ctx context.Context, audio []byte, language string) (Transcript, error)
	Close() error
}

// StreamingRecognizer is implemented by recognizers that can surface an
// interim hypothesis before the final transcript. The orchestrator type
// asserts for it and falls back to plain Recognize when absent.
type StreamingRecognizer interface {
	RecognizeWithInterim(ctx context.Context, audio []byte, language string, onInterim func(Transcript)) (Transcript, error)
}

// Translator converts text between languages
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
	Close() error
}

// Synthesizer renders text into spoken audio
type Synthesizer interface {
	Synthesize(ctx context.Context, text, language string) ([]byte, error)
	Close() error
}

// IsTransient reports whether a provider failure is worth retrying.
// Semantic failures (bad audio, unknown language) are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Internal:
			return true
		}
	}
	return false
}
