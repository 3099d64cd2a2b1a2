// ABOUTME: PDF text extraction backed by github.com/ledongthuc/pdf
// ABOUTME: Concatenates page text in page order and turns parser panics into fault errors

package pdftext

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/2389/errand/internal/fault"
)

// Reader extracts text from local PDF files.
type Reader struct {
	logger *slog.Logger
}

// New creates a Reader.
func New(logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{logger: logger.With("component", "pdftext")}
}

// ExtractText returns the text of every page of the PDF at path, joined by newlines.
// A document with no text at all is a KindEmpty failure.
func (r *Reader) ExtractText(ctx context.Context, path string) (text string, err error) {
	if _, statErr := os.Stat(path); statErr != nil {
		return "", fault.New(fault.SourcePDF, fault.KindInternal, "pdf file missing", statErr)
	}

	// The parser panics on some malformed documents.
	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn("pdf parser panicked", "path", path, "panic", p)
			text = ""
			err = fault.New(fault.SourcePDF, fault.KindMalformed, "unreadable pdf", fmt.Errorf("parser panic: %v", p))
		}
	}()

	f, doc, err := pdf.Open(path)
	if err != nil {
		return "", fault.New(fault.SourcePDF, fault.KindMalformed, "unreadable pdf", err)
	}
	defer f.Close()

	pages := make([]string, 0, doc.NumPage())
	for i := 1; i <= doc.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", fault.New(fault.SourcePDF, fault.KindInternal, "canceled", err)
		}

		page := doc.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return "", fault.New(fault.SourcePDF, fault.KindMalformed, fmt.Sprintf("page %d", i), err)
		}
		pages = append(pages, content)
	}

	text = strings.Join(pages, "\n")
	if strings.TrimSpace(text) == "" {
		return "", fault.New(fault.SourcePDF, fault.KindEmpty, "no text in pdf", errors.New("document has no extractable text"))
	}

	r.logger.Debug("pdf text extracted", "path", path, "pages", len(pages), "chars", len(text))
	return text, nil
}
