// Package pdfutil extracts plain text from file contents for the file indexer.
package pdfutil

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	pdf "github.com/ledongthuc/pdf"
)

// ErrUnsupported is returned for mime types without a text extractor.
var ErrUnsupported = errors.New("unsupported mime type")

// Extract returns the plain text of data according to its mime type.
func Extract(mimeType string, data []byte) (string, error) {
	mimeType = strings.ToLower(strings.TrimSpace(strings.Split(mimeType, ";")[0]))
	switch {
	case mimeType == "application/pdf":
		return ExtractText(data)
	case strings.HasPrefix(mimeType, "text/"):
		if !utf8.Valid(data) {
			return "", fmt.Errorf("%s: invalid utf-8", mimeType)
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("%s: %w", mimeType, ErrUnsupported)
	}
}

// ExtractText reads PDF bytes and returns plain text using ledongthuc/pdf.
func ExtractText(data []byte) (string, error) {
	reader := bytes.NewReader(data)
	doc, err := pdf.NewReader(reader, int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("new pdf reader: %w", err)
	}
	var builder strings.Builder
	total := doc.NumPage()
	for page := 1; page <= total; page++ {
		p := doc.Page(page)
		if p.V.IsNull() {
			continue
		}
		content, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", page, err)
		}
		builder.WriteString(content)
		builder.WriteString("\n")
	}
	return builder.String(), nil
}
