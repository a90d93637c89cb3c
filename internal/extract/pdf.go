package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/cloudwego/eino/components/document/parser"
	"github.com/cloudwego/eino/schema"
	"github.com/ledongthuc/pdf"
)

// pageSource is the part of a PDF reader the parser needs.
type pageSource interface {
	NumPage() int
	PageText(i int) (text string, ok bool, err error)
}

type pdfReader struct {
	r *pdf.Reader
}

func (p pdfReader) NumPage() int { return p.r.NumPage() }

func (p pdfReader) PageText(i int) (string, bool, error) {
	page := p.r.Page(i)
	if page.V.IsNull() {
		return "", false, nil
	}
	txt, err := page.GetPlainText(nil)
	if err != nil {
		return "", false, err
	}
	return txt, true, nil
}

// PDFParser emits one document per page, in page order.
type PDFParser struct{}

func (PDFParser) Parse(ctx context.Context, reader io.Reader, opts ...parser.Option) (docs []*schema.Document, err error) {
	// the pdf package panics on some malformed objects
	defer func() {
		if r := recover(); r != nil {
			docs, err = nil, fmt.Errorf("malformed pdf: %v", r)
		}
	}()
	common := parser.GetCommonOptions(&parser.Options{}, opts...)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	return pageDocuments(ctx, pdfReader{r: r}, common)
}

func pageDocuments(ctx context.Context, src pageSource, common *parser.Options) ([]*schema.Document, error) {
	total := src.NumPage()
	docs := make([]*schema.Document, 0, total)
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		txt, ok, err := src.PageText(i)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		if !ok {
			continue
		}
		docs = append(docs, &schema.Document{
			ID:      fmt.Sprintf("%s#page=%d", common.URI, i),
			Content: txt,
			MetaData: withMeta(common.ExtraMeta, map[string]any{
				"method": "pdf-text",
				"page":   i,
			}),
		})
	}
	return docs, nil
}
