// Package extract turns downloaded file bytes into plain text.
//
// The format is chosen by content type first and filename extension
// second. Text formats (plain, markdown, CSV and Google Docs/Sheets exports)
// are decoded as UTF-8 with invalid sequences replaced. PDF and DOCX are
// parsed. Unknown types fall back to UTF-8 decoding; media types are
// rejected.
package extract

import (
	"bytes"
	"fmt"
	"path"
	"strings"

	"github.com/tharpep/knowledge-base/pkg/types"
)

// MIME types recognised by Extract
const (
	MimeText     = "text/plain"
	MimeMarkdown = "text/markdown"
	MimeCSV      = "text/csv"
	MimePDF      = "application/pdf"
	MimeDOCX     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// Format is the detected document format
type Format string

const (
	FormatText    Format = "text"
	FormatPDF     Format = "pdf"
	FormatDOCX    Format = "docx"
	FormatUnknown Format = "unknown"
)

var textExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".csv":      true,
	".tsv":      true,
	".json":     true,
	".yaml":     true,
	".yml":      true,
}

// Detect picks the format from the content type, then the filename
func Detect(contentType, filename string) Format {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	switch {
	case ct == MimeText || ct == MimeMarkdown || ct == MimeCSV:
		return FormatText
	case ct == MimePDF:
		return FormatPDF
	case ct == MimeDOCX:
		return FormatDOCX
	}

	ext := strings.ToLower(path.Ext(filename))
	switch {
	case textExtensions[ext]:
		return FormatText
	case ext == ".pdf":
		return FormatPDF
	case ext == ".docx":
		return FormatDOCX
	}
	return FormatUnknown
}

// Extract returns the document text. Failures wrap types.ErrExtractionFailed.
func Extract(data []byte, contentType, filename string) (string, error) {
	var (
		text string
		err  error
	)

	switch Detect(contentType, filename) {
	case FormatText:
		text = decodeText(data)
	case FormatPDF:
		text, err = extractPDF(data)
	case FormatDOCX:
		text, err = extractDOCX(data)
	default:
		if isMedia(contentType) {
			return "", fmt.Errorf("%w: unsupported content type %q for %s", types.ErrExtractionFailed, contentType, filename)
		}
		text = decodeText(data)
	}

	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", types.ErrExtractionFailed, filename, err)
	}
	return text, nil
}

// decodeText strips a UTF-8 BOM, normalises line endings and replaces
// invalid UTF-8
func decodeText(data []byte) string {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	s := strings.ToValidUTF8(string(data), "�")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

func isMedia(contentType string) bool {
	for _, prefix := range []string{"image/", "video/", "audio/"} {
		if strings.HasPrefix(contentType, prefix) {
			return true
		}
	}
	return false
}

// joinParagraphs joins non-blank parts with a blank line
func joinParagraphs(parts []string) string {
	kept := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}
