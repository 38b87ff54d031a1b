// Package ocr converts student documents to markdown text. Providers keep
// page boundaries as PageBreak markers so later stages can localize answers
// to pages.
package ocr

import (
	"context"

	"github.com/rotisserie/eris"
)

// PageBreak separates pages in extracted markdown.
const PageBreak = "<!-- PageBreak -->"

// Extractor extracts markdown text from document files.
type Extractor interface {
	ExtractText(ctx context.Context, path string) (string, error)
}

// Config selects and configures the extraction provider.
type Config struct {
	Provider      string `yaml:"provider" mapstructure:"provider"`
	MistralKey    string `yaml:"mistral_api_key" mapstructure:"mistral_api_key"`
	MistralModel  string `yaml:"mistral_ocr_model" mapstructure:"mistral_ocr_model"`
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
}

// NewExtractor creates an Extractor based on config.
func NewExtractor(cfg Config) (Extractor, error) {
	switch cfg.Provider {
	case "local", "":
		return NewPdfToText(cfg.PdfToTextPath), nil
	case "mistral":
		if cfg.MistralKey == "" {
			return nil, eris.New("ocr: mistral provider requires mistral_api_key")
		}
		return NewMistralOCR(cfg.MistralKey, cfg.MistralModel), nil
	default:
		return nil, eris.Errorf("ocr: unknown provider %q", cfg.Provider)
	}
}
