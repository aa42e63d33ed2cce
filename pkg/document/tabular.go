package document

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/polisai/polis-redact/pkg/domain"
)

const defaultSheet = "Sheet1"

// table is a header plus data rows. Every row has exactly len(header) cells.
type table struct {
	header []string
	rows   [][]string
}

// redactTable builds a new table of the same shape with every cell masked.
// Row indexes are 1-based over data rows.
func redactTable(ctx context.Context, in table, s *Session) (table, error) {
	out := table{
		header: append([]string(nil), in.header...),
		rows:   make([][]string, len(in.rows)),
	}

	for i, row := range in.rows {
		if err := ctx.Err(); err != nil {
			return table{}, err
		}
		rowCtx := rowContext(row)
		masked := make([]string, len(row))
		for j, cell := range row {
			masked[j] = s.Field(i+1, in.header[j], cell, rowCtx)
		}
		out.rows[i] = masked
	}
	return out, nil
}

func rowContext(row []string) string {
	parts := make([]string, 0, len(row))
	for _, cell := range row {
		if cell != "" {
			parts = append(parts, cell)
		}
	}
	return strings.Join(parts, " ")
}

// normalize pads short rows and rejects rows wider than the header.
func normalize(name string, header []string, rows [][]string) (table, error) {
	out := table{header: header, rows: make([][]string, 0, len(rows))}
	for i, row := range rows {
		if len(row) > len(header) {
			return table{}, domain.MalformedInput("parse table", name,
				fmt.Errorf("row %d has %d cells, header has %d", i+1, len(row), len(header)))
		}
		padded := make([]string, len(header))
		copy(padded, row)
		out.rows = append(out.rows, padded)
	}
	return out, nil
}

// cleanDelimited trims every line and drops blank lines and markdown code
// fences that often wrap exported tables.
func cleanDelimited(data []byte) string {
	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "```") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func parseDelimited(name string, data []byte, comma rune) (table, error) {
	r := csv.NewReader(strings.NewReader(cleanDelimited(data)))
	r.Comma = comma
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return table{}, domain.MalformedInput("parse table", name, err)
	}
	if len(records) == 0 {
		return table{}, domain.MalformedInput("parse table", name, errors.New("no header row"))
	}
	return normalize(name, records[0], records[1:])
}

func redactDelimited(ctx context.Context, name string, data []byte, comma rune, s *Session) ([]byte, error) {
	in, err := parseDelimited(name, data, comma)
	if err != nil {
		return nil, err
	}
	out, err := redactTable(ctx, in, s)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = comma
	if err := w.Write(out.header); err != nil {
		return nil, domain.IOFailure("write table", name, err)
	}
	if err := w.WriteAll(out.rows); err != nil {
		return nil, domain.IOFailure("write table", name, err)
	}
	return buf.Bytes(), nil
}

// parseWorkbook reads the first sheet of an xlsx workbook.
func parseWorkbook(name string, data []byte) (string, table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", table{}, domain.MalformedInput("open workbook", name, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return "", table{}, domain.MalformedInput("open workbook", name, errors.New("workbook has no sheets"))
	}
	sheet := sheets[0]

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return "", table{}, domain.MalformedInput("read sheet", name, err)
	}
	if len(rows) == 0 {
		return sheet, table{}, nil
	}
	t, err := normalize(name, rows[0], rows[1:])
	return sheet, t, err
}

func redactWorkbook(ctx context.Context, name string, data []byte, s *Session) ([]byte, error) {
	sheet, in, err := parseWorkbook(name, data)
	if err != nil {
		return nil, err
	}
	out, err := redactTable(ctx, in, s)
	if err != nil {
		return nil, err
	}
	return writeWorkbook(name, sheet, out)
}

func writeWorkbook(name, sheet string, t table) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if sheet != "" && sheet != defaultSheet {
		if err := f.SetSheetName(defaultSheet, sheet); err != nil {
			return nil, domain.IOFailure("write workbook", name, err)
		}
	} else {
		sheet = defaultSheet
	}

	rows := append([][]string{t.header}, t.rows...)
	for r, row := range rows {
		for c, value := range row {
			if value == "" {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return nil, domain.IOFailure("write workbook", name, err)
			}
			if err := f.SetCellStr(sheet, cell, value); err != nil {
				return nil, domain.IOFailure("write workbook", name, err)
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, domain.IOFailure("write workbook", name, err)
	}
	return buf.Bytes(), nil
}
