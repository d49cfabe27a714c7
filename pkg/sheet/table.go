package sheet

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrMalformedResponse is returned when a fetch body holds no recoverable JSON document.
var ErrMalformedResponse = errors.New("invalid JSON response from server")

// Row is one data row of the sheet, cells in column order.
// Cells hold string, json.Number, float64, bool or nil.
type Row struct {
	Position int // index in the fetched sequence, header is 0
	Cells    []any
}

// Cell returns the value at column i, or nil when the row is shorter.
func (r Row) Cell(i int) any {
	if i < 0 || i >= len(r.Cells) {
		return nil
	}
	return r.Cells[i]
}

// Skip records a row that could not be read.
type Skip struct {
	Position int
	Reason   string
}

// Table is a fetched sheet with the header split off.
type Table struct {
	Header  Row
	Rows    []Row
	Skipped []Skip
}

// NarrowHeader reports whether the header has fewer than width columns.
func (t *Table) NarrowHeader(width int) bool {
	return len(t.Header.Cells) < width
}

// ParseTable decodes a fetch response body. The body is decoded as JSON directly; if that
// fails, the text between the first '{' and the last '}' is tried instead.
func ParseTable(body []byte) (*Table, error) {
	doc, err := decode(body)
	if err != nil {
		start := bytes.IndexByte(body, '{')
		end := bytes.LastIndexByte(body, '}')
		if start == -1 || end == -1 || end < start {
			return nil, fmt.Errorf("%w: no JSON object found", ErrMalformedResponse)
		}
		doc, err = decode(body[start : end+1])
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
		}
	}
	return build(rowsOf(doc)), nil
}

// FromValues builds a Table from a values grid such as the Sheets API returns.
func FromValues(values [][]any) *Table {
	rows := make([]any, len(values))
	for i, v := range values {
		rows[i] = wrapCells(v)
	}
	return build(rows)
}

func decode(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("unexpected data after JSON document")
	}
	return doc, nil
}

// rowsOf finds the row list in the three response shapes the script has produced:
// {"table":{"rows":[...]}}, a bare array, and {"values":[[...]]}.
func rowsOf(doc any) []any {
	switch d := doc.(type) {
	case map[string]any:
		if tbl, ok := d["table"].(map[string]any); ok {
			if rows, ok := tbl["rows"].([]any); ok {
				return rows
			}
		}
		if grid, ok := d["values"].([]any); ok {
			rows := make([]any, len(grid))
			for i, v := range grid {
				if inner, ok := v.([]any); ok {
					rows[i] = wrapCells(inner)
				} else {
					rows[i] = v
				}
			}
			return rows
		}
	case []any:
		return d
	}
	return nil
}

func wrapCells(vals []any) map[string]any {
	cells := make([]any, len(vals))
	for i, v := range vals {
		cells[i] = map[string]any{"v": v}
	}
	return map[string]any{"c": cells}
}

func build(rows []any) *Table {
	t := &Table{}
	for pos, raw := range rows {
		cells, ok := cellsOf(raw)
		if pos == 0 {
			t.Header = Row{Position: 0, Cells: cells}
			continue
		}
		if !ok {
			t.Skipped = append(t.Skipped, Skip{Position: pos, Reason: fmt.Sprintf("unknown row format %T", raw)})
			continue
		}
		t.Rows = append(t.Rows, Row{Position: pos, Cells: cells})
	}
	return t
}

func cellsOf(raw any) ([]any, bool) {
	switch r := raw.(type) {
	case map[string]any:
		c, ok := r["c"].([]any)
		if !ok {
			return nil, false
		}
		cells := make([]any, len(c))
		for i, cell := range c {
			obj, ok := cell.(map[string]any)
			if !ok {
				cells[i] = ""
				continue
			}
			v, ok := obj["v"]
			if !ok {
				cells[i] = ""
				continue
			}
			cells[i] = v
		}
		return cells, true
	case []any:
		return r, true
	}
	return nil, false
}
