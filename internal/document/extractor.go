package document

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	apperrors "github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/pkg/errors"
)

var pdfMagic = []byte("%PDF-")

// Extractor turns raw document bytes into plain text.
type Extractor interface {
	Extract(data []byte) (string, error)
}

// PDFExtractor extracts the text of every page of a PDF. Payloads that are
// not PDFs but are valid UTF-8 text are returned as is.
type PDFExtractor struct{}

// NewPDFExtractor creates a PDFExtractor.
func NewPDFExtractor() *PDFExtractor { return &PDFExtractor{} }

func (e *PDFExtractor) Extract(data []byte) (string, error) {
	if !bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n"), pdfMagic) {
		return extractPlainText(data)
	}
	text, err := extractPDF(data)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrExtraction, http.StatusBadRequest, err, "reading PDF")
	}
	if strings.TrimSpace(text) == "" {
		return "", apperrors.New(apperrors.ErrExtraction, http.StatusBadRequest, "PDF contains no extractable text")
	}
	return text, nil
}

func extractPDF(data []byte) (text string, err error) {
	// The parser panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed PDF: %v", r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	reader, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	out, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func extractPlainText(data []byte) (string, error) {
	if !utf8.Valid(data) || !strings.HasPrefix(http.DetectContentType(data), "text/plain") {
		return "", apperrors.New(apperrors.ErrExtraction, http.StatusBadRequest, "document is neither a PDF nor plain text")
	}
	text := string(data)
	if strings.TrimSpace(text) == "" {
		return "", apperrors.New(apperrors.ErrExtraction, http.StatusBadRequest, "document contains no text")
	}
	return text, nil
}
