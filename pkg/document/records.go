package document

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/polisai/polis-redact/pkg/domain"
)

// record is a flat JSON object with its key order preserved.
type record struct {
	keys   []string
	values map[string]string
}

func (r *record) set(key, value string) {
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

func (r record) context() string {
	parts := make([]string, 0, len(r.keys))
	for _, k := range r.keys {
		parts = append(parts, k+":"+r.values[k])
	}
	return strings.Join(parts, " ")
}

// MarshalJSON writes the record with its original key order.
func (r record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeJSONString(&buf, k); err != nil {
			return nil, err
		}
		buf.WriteByte(':')
		if err := writeJSONString(&buf, r.values[k]); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeJSONString(buf *bytes.Buffer, s string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	// Encode terminates every value with a newline.
	buf.Truncate(buf.Len() - 1)
	return nil
}

var errNotRecordList = errors.New("expected an array of flat objects")

// parseRecords decodes a JSON array of flat objects. Values must be strings,
// numbers, booleans or null. Numbers keep their literal text and null becomes
// the empty string.
func parseRecords(name string, data []byte) ([]record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	malformed := func(err error) error {
		return domain.MalformedInput("parse records", name, err)
	}

	if err := expectDelim(dec, '['); err != nil {
		return nil, malformed(err)
	}

	var records []record
	for dec.More() {
		if err := expectDelim(dec, '{'); err != nil {
			return nil, malformed(fmt.Errorf("record %d: %w", len(records)+1, err))
		}
		rec := record{values: make(map[string]string)}
		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				return nil, malformed(err)
			}
			key, ok := tok.(string)
			if !ok {
				return nil, malformed(fmt.Errorf("record %d: unexpected key %v", len(records)+1, tok))
			}
			tok, err = dec.Token()
			if err != nil {
				return nil, malformed(err)
			}
			value, err := scalarText(tok)
			if err != nil {
				return nil, malformed(fmt.Errorf("record %d, key %q: %w", len(records)+1, key, err))
			}
			rec.set(key, value)
		}
		if err := expectDelim(dec, '}'); err != nil {
			return nil, malformed(err)
		}
		records = append(records, rec)
	}
	if err := expectDelim(dec, ']'); err != nil {
		return nil, malformed(err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, malformed(errors.New("trailing data after array"))
	}
	return records, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: unexpected end of input", errNotRecordList)
		}
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("%w: got %v, want %v", errNotRecordList, tok, want)
	}
	return nil
}

func scalarText(tok json.Token) (string, error) {
	switch v := tok.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case bool:
		if v {
			return "true", nil
		}
		return "false", nil
	default:
		return "", fmt.Errorf("%w: nested value %v", errNotRecordList, tok)
	}
}

func redactRecords(ctx context.Context, name string, data []byte, s *Session) ([]byte, error) {
	in, err := parseRecords(name, data)
	if err != nil {
		return nil, err
	}

	out := make([]record, len(in))
	for i, rec := range in {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		recCtx := rec.context()
		masked := record{keys: append([]string(nil), rec.keys...), values: make(map[string]string, len(rec.keys))}
		for _, k := range rec.keys {
			masked.values[k] = s.Field(i+1, k, rec.values[k], recCtx)
		}
		out[i] = masked
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return nil, domain.IOFailure("write records", name, err)
	}
	return buf.Bytes(), nil
}
