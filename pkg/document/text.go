package document

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	readability "github.com/go-shiori/go-readability"
	"github.com/ledongthuc/pdf"

	"github.com/polisai/polis-redact/pkg/domain"
)

// redactFreeText treats text as a single field that is also its own context.
func redactFreeText(column, text string, s *Session) []byte {
	return []byte(s.Field(1, column, text, text))
}

func redactPlainText(name string, data []byte, s *Session) ([]byte, error) {
	if !utf8.Valid(data) {
		return nil, domain.MalformedInput("read text", name, errors.New("content is not valid UTF-8"))
	}
	return redactFreeText(ColumnText, string(data), s), nil
}

func redactPDF(name string, data []byte, s *Session) ([]byte, error) {
	text, err := extractPDFText(data)
	if err != nil {
		return nil, domain.MalformedInput("read pdf", name, err)
	}
	return redactFreeText(ColumnPDFText, text, s), nil
}

func redactHTML(name string, data []byte, s *Session) ([]byte, error) {
	article, err := readability.FromReader(bytes.NewReader(data), nil)
	if err != nil {
		return nil, domain.MalformedInput("read html", name, err)
	}
	return redactFreeText(ColumnHTMLText, article.TextContent, s), nil
}

// extractPDFText concatenates the plain text of every page, each followed by
// a newline. Pages whose text cannot be extracted are skipped.
func extractPDFText(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("corrupt pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page, ok := pageText(r, i)
		if !ok || page == "" {
			continue
		}
		b.WriteString(page)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

func pageText(r *pdf.Reader, num int) (text string, ok bool) {
	defer func() {
		if recover() != nil {
			text, ok = "", false
		}
	}()

	p := r.Page(num)
	if p.V.IsNull() {
		return "", false
	}
	text, err := p.GetPlainText(nil)
	if err != nil {
		return "", false
	}
	return text, true
}
