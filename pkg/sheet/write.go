package sheet

import (
	"encoding/json"
	"errors"
)

// ErrWriteRejected is returned when the sheet endpoint answers a write with success=false.
var ErrWriteRejected = errors.New("sheet write rejected")

// WriteItem is one verification written back to the sheet.
type WriteItem struct {
	TaskID           any    `json:"taskId"` // string, or json.Number for a numeric id cell
	RowIndex         int    `json:"rowIndex"`
	VerificationDate string `json:"verificationDate"`
	Remarks          string `json:"remarks"`
}

// TaskRef returns the task id as the sheet holds it: a json.Number when the cell was
// numeric, so it is sent back as a JSON number, and the plain string otherwise.
func TaskRef(id string, numeric bool) any {
	if numeric && id != "" {
		return json.Number(id)
	}
	return id
}

// WriteResult is the endpoint's reply to a write.
type WriteResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
