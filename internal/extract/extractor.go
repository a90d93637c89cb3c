package extract

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cloudwego/eino-ext/components/document/loader/file"
	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/components/document/parser"
	"go.uber.org/zap"

	"catchup/internal/models"
)

var kindByExt = map[string]models.FileKind{
	".png":  models.KindImage,
	".jpg":  models.KindImage,
	".jpeg": models.KindImage,
	".pdf":  models.KindPDF,
}

// Extractor reads saved uploads and returns their plain text.
type Extractor struct {
	loader *file.FileLoader
	logger *zap.Logger
}

// New wires the OCR and PDF parsers behind an extension-routed loader.
func New(ctx context.Context, cfg OCRConfig, logger *zap.Logger) (*Extractor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return newExtractor(ctx, NewOCRParser(cfg, execRunner{logger: logger}), PDFParser{}, logger)
}

func newExtractor(ctx context.Context, image, pdfParser parser.Parser, logger *zap.Logger) (*Extractor, error) {
	parsers := make(map[string]parser.Parser, len(kindByExt))
	for ext, kind := range kindByExt {
		switch kind {
		case models.KindImage:
			parsers[ext] = image
		case models.KindPDF:
			parsers[ext] = pdfParser
		}
	}
	extParser, err := parser.NewExtParser(ctx, &parser.ExtParserConfig{Parsers: parsers})
	if err != nil {
		return nil, fmt.Errorf("init ext parser: %w", err)
	}
	loader, err := file.NewFileLoader(ctx, &file.FileLoaderConfig{
		UseNameAsID: true,
		Parser:      extParser,
	})
	if err != nil {
		return nil, fmt.Errorf("init file loader: %w", err)
	}
	return &Extractor{loader: loader, logger: logger}, nil
}

// Extract returns the text of the file at path. PDF pages are concatenated in
// order with no separator; images go through OCR.
func (e *Extractor) Extract(ctx context.Context, path string, kind models.FileKind) (string, error) {
	ext := filepath.Ext(path)
	if got, ok := kindByExt[ext]; !ok || got != kind {
		return "", fmt.Errorf("file %s does not match kind %s", filepath.Base(path), kind)
	}
	docs, err := e.loader.Load(ctx, document.Source{URI: path})
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, doc := range docs {
		b.WriteString(doc.Content)
	}
	e.logger.Debug("text extracted",
		zap.String("path", path),
		zap.String("kind", string(kind)),
		zap.Int("documents", len(docs)),
		zap.Int("chars", b.Len()),
	)
	return b.String(), nil
}
