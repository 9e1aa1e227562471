package google

import (
	"context"
	"io"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"

	"github.com/Vivekkumarprince1/vaani-sub000/internal/provider"
)

// Speech recognizes audio with the Google Cloud Speech-to-Text API.
// Defaults assume browser MediaRecorder output (WebM/Opus at 48kHz).
type Speech struct {
	c *speech.Client

	Encoding     speechpb.RecognitionConfig_AudioEncoding
	SampleRateHz int32
}

// NewSpeech creates a recognizer using application default credentials
func NewSpeech(ctx context.Context) (*Speech, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &Speech{
		c:            c,
		Encoding:     speechpb.RecognitionConfig_WEBM_OPUS,
		SampleRateHz: 48000,
	}, nil
}

// Close releases the underlying client
func (s *Speech) Close() error { return s.c.Close() }

func (s *Speech) config(language string) *speechpb.RecognitionConfig {
	if language == "" {
		language = "en-US"
	}
	return &speechpb.RecognitionConfig{
		Encoding:                   s.Encoding,
		SampleRateHertz:            s.SampleRateHz,
		LanguageCode:               language,
		EnableAutomaticPunctuation: true,
	}
}

// Recognize transcribes one audio segment and returns the best alternative
func (s *Speech) Recognize(ctx context.Context, audio []byte, language string) (provider.Transcript, error) {
	resp, err := s.c.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: s.config(language),
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	})
	if err != nil {
		return provider.Transcript{}, err
	}

	return bestAlternative(resp.Results), nil
}

// RecognizeWithInterim streams the segment so interim hypotheses reach the
// caller before the final transcript
func (s *Speech) RecognizeWithInterim(ctx context.Context, audio []byte, language string, onInterim func(provider.Transcript)) (provider.Transcript, error) {
	stream, err := s.c.StreamingRecognize(ctx)
	if err != nil {
		return provider.Transcript{}, err
	}

	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config:         s.config(language),
				InterimResults: true,
			},
		},
	})
	if err != nil {
		return provider.Transcript{}, err
	}

	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
	if err != nil {
		return provider.Transcript{}, err
	}
	if err := stream.CloseSend(); err != nil {
		return provider.Transcript{}, err
	}

	var final provider.Transcript
	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return provider.Transcript{}, err
		}

		for _, result := range resp.Results {
			if len(result.Alternatives) == 0 {
				continue
			}
			alt := result.Alternatives[0]
			t := provider.Transcript{Text: alt.Transcript, Confidence: float64(alt.Confidence)}
			if result.IsFinal {
				if t.Text != "" {
					final = t
				}
			} else if onInterim != nil && t.Text != "" {
				onInterim(t)
			}
		}
	}

	return final, nil
}

func bestAlternative(results []*speechpb.SpeechRecognitionResult) provider.Transcript {
	var best provider.Transcript
	for _, r := range results {
		for _, alt := range r.Alternatives {
			if alt.Transcript != "" && float64(alt.Confidence) >= best.Confidence {
				best = provider.Transcript{Text: alt.Transcript, Confidence: float64(alt.Confidence)}
			}
		}
	}
	return best
}
