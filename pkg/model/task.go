package model

import (
	"encoding/json"
	"strconv"
)

// Column is a 0-based cell offset in a delegation sheet row.
type Column int

const (
	ColTimestamp Column = iota // A
	ColTaskID                  // B
	ColDepartment              // C
	ColGivenBy                 // D
	ColAssignee                // E
	ColDescription             // F
	ColStartDate               // G
	ColH
	ColI
	ColJ
	ColPlannedDate // K
	ColMarker      // L
	ColM
	ColN
	ColO
	ColP
	ColQ
	ColR
	ColVerificationDate // S
	ColRemarks          // T

	NumColumns = int(ColRemarks) + 1
)

// ColumnSpec describes one sheet column.
type ColumnSpec struct {
	Key   string // JSON key, e.g. "colK"
	Label string
	Date  bool // normalized to DD/MM/YYYY on ingest
}

// Schema maps every Column to its key and label. Reordering the sheet means editing this table only.
var Schema = [NumColumns]ColumnSpec{
	ColTimestamp:        {Key: "colA", Label: "Timestamp"},
	ColTaskID:           {Key: "colB", Label: "Task ID"},
	ColDepartment:       {Key: "colC", Label: "Department"},
	ColGivenBy:          {Key: "colD", Label: "Given By"},
	ColAssignee:         {Key: "colE", Label: "Name"},
	ColDescription:      {Key: "colF", Label: "Task Description"},
	ColStartDate:        {Key: "colG", Label: "Task Start Date", Date: true},
	ColH:                {Key: "colH"},
	ColI:                {Key: "colI"},
	ColJ:                {Key: "colJ"},
	ColPlannedDate:      {Key: "colK", Label: "Planned Date", Date: true},
	ColMarker:           {Key: "colL"},
	ColM:                {Key: "colM"},
	ColN:                {Key: "colN"},
	ColO:                {Key: "colO"},
	ColP:                {Key: "colP"},
	ColQ:                {Key: "colQ"},
	ColR:                {Key: "colR"},
	ColVerificationDate: {Key: "colS", Label: "Verification Date", Date: true},
	ColRemarks:          {Key: "colT", Label: "Remarks"},
}

func (c Column) String() string {
	if c < 0 || int(c) >= NumColumns {
		return "col?"
	}
	return Schema[c].Key
}

// Bucket is the view a task is listed in.
type Bucket int

const (
	Excluded Bucket = iota
	Pending
	History
)

func (b Bucket) String() string {
	switch b {
	case Pending:
		return "pending"
	case History:
		return "history"
	default:
		return "excluded"
	}
}

// Task is one normalized delegation row.
type Task struct {
	ID       string
	RowIndex int // spreadsheet row number (header is row 1)
	TaskID   string
	Fields   [NumColumns]string

	// NumericID is set when the task id cell held a number rather than text.
	NumericID bool
}

func (t Task) Get(c Column) string {
	return t.Fields[c]
}

func (t *Task) Set(c Column, v string) {
	t.Fields[c] = v
}

// Values returns every value the task carries, identity first.
func (t Task) Values() []string {
	vals := make([]string, 0, NumColumns+3)
	vals = append(vals, t.ID, strconv.Itoa(t.RowIndex), t.TaskID)
	vals = append(vals, t.Fields[:]...)
	return vals
}

// MarshalJSON implements the json.Marshaler interface using the sheet column keys.
func (t Task) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, NumColumns+3)
	m["_id"] = t.ID
	m["_rowIndex"] = t.RowIndex
	m["_taskId"] = t.TaskID
	for i, spec := range Schema {
		m[spec.Key] = t.Fields[i]
	}
	return json.Marshal(m)
}

// UnmarshalJSON implements the json.Unmarshaler interface for the MarshalJSON form.
func (t *Task) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID       string `json:"_id"`
		RowIndex int    `json:"_rowIndex"`
		TaskID   string `json:"_taskId"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	var cols map[string]any
	if err := json.Unmarshal(b, &cols); err != nil {
		return err
	}
	t.ID, t.RowIndex, t.TaskID = raw.ID, raw.RowIndex, raw.TaskID
	for i, spec := range Schema {
		if s, ok := cols[spec.Key].(string); ok {
			t.Fields[i] = s
		}
	}
	return nil
}
