package google

import (
	"context"
	"fmt"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	texttospeechpb "cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
)

// TextToSpeech synthesizes audio with the Google Cloud Text-to-Speech API
type TextToSpeech struct {
	c *texttospeech.Client

	// AudioEncoding for synthesized clips; MP3 keeps fan-out payloads small
	AudioEncoding texttospeechpb.AudioEncoding
}

// NewTextToSpeech creates a synthesizer using application default credentials
func NewTextToSpeech(ctx context.Context) (*TextToSpeech, error) {
	c, err := texttospeech.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &TextToSpeech{
		c:             c,
		AudioEncoding: texttospeechpb.AudioEncoding_MP3,
	}, nil
}

// Close releases the underlying client
func (t *TextToSpeech) Close() error { return t.c.Close() }

// Synthesize renders text into spoken audio in the given language
func (t *TextToSpeech) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	if language == "" {
		language = "en-US"
	}

	resp, err := t.c.SynthesizeSpeech(ctx, &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: text},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: language,
			SsmlGender:   texttospeechpb.SsmlVoiceGender_NEUTRAL,
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding: t.AudioEncoding,
		},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.AudioContent) == 0 {
		return nil, fmt.Errorf("synthesis returned no audio")
	}

	return resp.AudioContent, nil
}
