package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-redact/pkg/domain"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name string
		head string
		want Format
	}{
		{"people.csv", "", FormatCSV},
		{"PEOPLE.CSV", "", FormatCSV},
		{"people.tsv", "", FormatTSV},
		{"book.xlsx", "", FormatXLSX},
		{"records.json", "", FormatJSON},
		{"notes.txt", "", FormatText},
		{"scan.pdf", "", FormatPDF},
		{"page.htm", "", FormatHTML},
		{"upload.bin", "PK\x03\x04rest", FormatXLSX},
		{"upload", "%PDF-1.7\n", FormatPDF},
		{"upload", "  \n[{\"a\":1}]", FormatJSON},
		{"upload", "<!DOCTYPE html><html></html>", FormatHTML},
		{"upload", "plain words 9876543210", FormatText},
	}

	for _, tt := range tests {
		got, err := DetectFormat(tt.name, []byte(tt.head))
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, got, tt.name)
	}
}

func TestDetectFormat_Unsupported(t *testing.T) {
	_, err := DetectFormat("legacy.xls", []byte("\xD0\xCF\x11\xE0\xA1\xB1\x1A\xE1"))
	assert.True(t, domain.IsUnsupportedFormat(err))

	_, err = DetectFormat("archive.tar", []byte("plain"))
	assert.True(t, domain.IsUnsupportedFormat(err))

	_, err = DetectFormat("blob", []byte{0x00, 0x01, 0x02})
	assert.True(t, domain.IsUnsupportedFormat(err))
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("XLSX")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, f)

	f, err = ParseFormat(".tsv")
	require.NoError(t, err)
	assert.Equal(t, FormatTSV, f)

	f, err = ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatUnknown, f)

	_, err = ParseFormat("docx")
	assert.True(t, domain.IsUnsupportedFormat(err))
}

func TestFormat_Extension(t *testing.T) {
	assert.Equal(t, ".csv", FormatCSV.Extension())
	assert.Equal(t, ".xlsx", FormatXLSX.Extension())
	assert.Equal(t, ".txt", FormatText.Extension())
	assert.Equal(t, ".txt", FormatPDF.Extension())
	assert.Equal(t, ".txt", FormatHTML.Extension())
	assert.Equal(t, "unknown", Format(99).String())
}
