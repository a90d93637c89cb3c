package extract

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino/components/document/parser"
	"github.com/cloudwego/eino/schema"
)

// OCRConfig points at the tesseract binary.
type OCRConfig struct {
	Tesseract   string // binary name or absolute path; "tesseract" when empty
	Language    string // "eng" when empty
	TessdataDir string
}

// OCRParser turns an image into text with tesseract, reading the image from
// stdin so it works on any reader.
type OCRParser struct {
	cfg    OCRConfig
	runner Runner
}

func NewOCRParser(cfg OCRConfig, runner Runner) *OCRParser {
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	return &OCRParser{cfg: cfg, runner: runner}
}

func (p *OCRParser) Parse(ctx context.Context, reader io.Reader, opts ...parser.Option) ([]*schema.Document, error) {
	common := parser.GetCommonOptions(&parser.Options{}, opts...)

	// tesseract stdin stdout -l <lang>
	args := []string{"stdin", "stdout", "-l", p.cfg.Language}
	if p.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", p.cfg.TessdataDir)
	}
	out, errb, err := p.runner.Run(ctx, reader, p.cfg.Tesseract, args...)
	if err != nil {
		if msg := strings.TrimSpace(string(errb)); msg != "" {
			return nil, fmt.Errorf("tesseract: %w: %s", err, msg)
		}
		return nil, fmt.Errorf("tesseract: %w", err)
	}
	return []*schema.Document{{
		ID:       common.URI,
		Content:  string(out),
		MetaData: withMeta(common.ExtraMeta, map[string]any{"method": "image-ocr"}),
	}}, nil
}

func withMeta(base map[string]any, extra map[string]any) map[string]any {
	meta := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		meta[k] = v
	}
	for k, v := range extra {
		meta[k] = v
	}
	return meta
}
