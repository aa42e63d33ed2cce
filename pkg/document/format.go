package document

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/polisai/polis-redact/pkg/domain"
)

// Format identifies the structural shape of an input document.
type Format int

const (
	FormatUnknown Format = iota
	FormatCSV
	FormatTSV
	FormatXLSX
	FormatJSON
	FormatText
	FormatPDF
	FormatHTML
)

var formatNames = map[Format]string{
	FormatUnknown: "unknown",
	FormatCSV:     "csv",
	FormatTSV:     "tsv",
	FormatXLSX:    "xlsx",
	FormatJSON:    "json",
	FormatText:    "txt",
	FormatPDF:     "pdf",
	FormatHTML:    "html",
}

var extensions = map[string]Format{
	".csv":  FormatCSV,
	".tsv":  FormatTSV,
	".xlsx": FormatXLSX,
	".json": FormatJSON,
	".txt":  FormatText,
	".text": FormatText,
	".log":  FormatText,
	".md":   FormatText,
	".pdf":  FormatPDF,
	".html": FormatHTML,
	".htm":  FormatHTML,
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return formatNames[FormatUnknown]
}

// Extension returns the file extension, with the leading dot, used for the
// masked output. PDF and HTML inputs produce plain text.
func (f Format) Extension() string {
	switch f {
	case FormatPDF, FormatHTML:
		return ".txt"
	case FormatUnknown:
		return ""
	default:
		return "." + f.String()
	}
}

// ContentType returns the MIME type of the masked output.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatTSV:
		return "text/tab-separated-values; charset=utf-8"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatJSON:
		return "application/json"
	default:
		return "text/plain; charset=utf-8"
	}
}

// ParseFormat resolves a caller-supplied format name such as "csv" or ".xlsx".
func ParseFormat(name string) (Format, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return FormatUnknown, nil
	}
	if !strings.HasPrefix(key, ".") {
		key = "." + key
	}
	if f, ok := extensions[key]; ok {
		return f, nil
	}
	return FormatUnknown, domain.UnsupportedFormat("parse format", name, fmt.Errorf("unknown format %q", name))
}

var (
	zipMagic = []byte("PK\x03\x04")
	oleMagic = []byte("\xD0\xCF\x11\xE0\xA1\xB1\x1A\xE1")
	pdfMagic = []byte("%PDF-")
)

// DetectFormat picks the document format from the file name extension and,
// when that is missing or unknown, from the leading bytes of the content.
// Legacy .xls workbooks are rejected.
func DetectFormat(name string, head []byte) (Format, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == ".xls" {
		return FormatUnknown, domain.UnsupportedFormat("detect format", name, fmt.Errorf("legacy .xls workbooks are not supported, save as .xlsx"))
	}
	if f, ok := extensions[ext]; ok {
		return f, nil
	}

	if f := sniff(head); f != FormatUnknown {
		return f, nil
	}
	if ext == "" && looksLikeText(head) {
		return FormatText, nil
	}
	return FormatUnknown, domain.UnsupportedFormat("detect format", name, fmt.Errorf("unrecognized extension %q", ext))
}

func sniff(head []byte) Format {
	switch {
	case bytes.HasPrefix(head, zipMagic):
		return FormatXLSX
	case bytes.HasPrefix(head, pdfMagic):
		return FormatPDF
	case bytes.HasPrefix(head, oleMagic):
		return FormatUnknown
	}

	trimmed := bytes.TrimLeft(head, " \t\r\n\ufeff")
	if bytes.HasPrefix(trimmed, []byte("[")) {
		return FormatJSON
	}
	lower := bytes.ToLower(trimmed)
	if bytes.HasPrefix(lower, []byte("<!doctype html")) || bytes.HasPrefix(lower, []byte("<html")) {
		return FormatHTML
	}
	return FormatUnknown
}

func looksLikeText(head []byte) bool {
	if len(head) == 0 || bytes.IndexByte(head, 0) >= 0 {
		return false
	}
	// head may cut a multi-byte rune in half.
	for i := 0; i < utf8.UTFMax && len(head) > 0; i++ {
		if utf8.Valid(head) {
			return true
		}
		head = head[:len(head)-1]
	}
	return false
}
