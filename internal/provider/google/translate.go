package google

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/translate"
	"golang.org/x/text/language"
)

// Translate converts text with the Google Cloud Translation API
type Translate struct {
	c *translate.Client
}

// NewTranslate creates a translator using application default credentials
func NewTranslate(ctx context.Context) (*Translate, error) {
	c, err := translate.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &Translate{c: c}, nil
}

// Close releases the underlying client
func (t *Translate) Close() error { return t.c.Close() }

// Translate converts text from sourceLang to targetLang. Language codes
// arrive as speech locales ("hi-IN"); the translation API wants base
// languages ("hi"), except Chinese where the script variant matters.
func (t *Translate) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	target, err := language.Parse(translationCode(targetLang))
	if err != nil {
		return "", fmt.Errorf("invalid target language %q: %w", targetLang, err)
	}

	opts := &translate.Options{Format: translate.Text}
	if sourceLang != "" {
		source, err := language.Parse(translationCode(sourceLang))
		if err != nil {
			return "", fmt.Errorf("invalid source language %q: %w", sourceLang, err)
		}
		opts.Source = source
	}

	translations, err := t.c.Translate(ctx, []string{text}, target, opts)
	if err != nil {
		return "", err
	}
	if len(translations) == 0 {
		return "", fmt.Errorf("translation returned no result")
	}
	return translations[0].Text, nil
}

// translationCode strips the region from a speech locale
func translationCode(code string) string {
	if strings.HasPrefix(code, "zh") {
		return code
	}
	if i := strings.IndexByte(code, '-'); i > 0 {
		return code[:i]
	}
	return code
}
