// Package classify turns fetched sheet rows into tasks and sorts them into the
// pending and history views.
package classify

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harrisonrobin/reverify/pkg/model"
	"github.com/harrisonrobin/reverify/pkg/sheet"
	"github.com/harrisonrobin/reverify/pkg/util"
)

// RoleAdmin sees every row regardless of assignee.
const RoleAdmin = "admin"

const unassigned = "Unassigned"

// rowNamespace seeds the name-based ids of rows that have no task id.
var rowNamespace = uuid.MustParse("6f1c2b7e-3d0a-4c55-9a57-0b8f1e2d4c61")

// Viewer is the person the views are built for.
type Viewer struct {
	Name string
	Role string
}

func (v Viewer) Privileged() bool {
	return v.Role == RoleAdmin
}

// CanSee reports whether a row assigned to assignee is visible to v.
func (v Viewer) CanSee(assignee string) bool {
	if v.Privileged() {
		return true
	}
	if assignee == "" {
		assignee = unassigned
	}
	return strings.EqualFold(assignee, v.Name)
}

// Options tune Classify.
type Options struct {
	// Location is used when a date cell carries a time of day. Defaults to time.Local.
	Location *time.Location
}

// Classify maps one row to a task and its bucket. Rows the viewer may not see, or whose
// marker columns do not form a pending or history row, come back as model.Excluded.
func Classify(row sheet.Row, viewer Viewer, opts Options) (model.Task, model.Bucket) {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}

	if !viewer.CanSee(CellString(row.Cell(int(model.ColAssignee)))) {
		return model.Task{}, model.Excluded
	}

	task := model.Task{RowIndex: row.Position + 1}
	for i, spec := range model.Schema {
		v := CellString(row.Cell(i))
		if spec.Date {
			v = util.NormalizeDateIn(v, loc)
		}
		task.Fields[i] = v
	}
	task.TaskID = task.Get(model.ColTaskID)
	task.ID = taskID(task.TaskID, row)
	switch row.Cell(int(model.ColTaskID)).(type) {
	case json.Number, float64:
		task.NumericID = true
	}

	return task, bucketOf(row)
}

func bucketOf(row sheet.Row) model.Bucket {
	planned := !util.IsBlank(row.Cell(int(model.ColPlannedDate)))
	marker := !util.IsBlank(row.Cell(int(model.ColMarker)))
	verified := !util.IsBlank(row.Cell(int(model.ColVerificationDate)))

	switch {
	case planned && marker && !verified:
		return model.Pending
	case planned && marker && verified:
		return model.History
	default:
		return model.Excluded
	}
}

func taskID(id string, row sheet.Row) string {
	rowIndex := row.Position + 1
	if id != "" {
		return fmt.Sprintf("task_%s_%d", id, rowIndex)
	}

	var b strings.Builder
	for i, c := range row.Cells {
		if i > 0 {
			b.WriteByte(0x1f)
		}
		b.WriteString(CellString(c))
	}
	sum := uuid.NewSHA1(rowNamespace, []byte(b.String()))
	hex := strings.ReplaceAll(sum.String(), "-", "")
	return fmt.Sprintf("row_%d_%s", rowIndex, hex[:13])
}

// CellString renders a cell value as text. nil becomes "".
func CellString(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	case json.Number:
		return c.String()
	case float64:
		return strconv.FormatFloat(c, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(c)
	default:
		return fmt.Sprint(c)
	}
}

// Result is a classified fetch cycle.
type Result struct {
	Pending  []model.Task
	History  []model.Task
	Excluded int
}

// ClassifyTable classifies every row of a table, keeping sheet order within each bucket.
func ClassifyTable(table *sheet.Table, viewer Viewer, opts Options) Result {
	var res Result
	for _, row := range table.Rows {
		task, bucket := Classify(row, viewer, opts)
		switch bucket {
		case model.Pending:
			res.Pending = append(res.Pending, task)
		case model.History:
			res.History = append(res.History, task)
		default:
			res.Excluded++
		}
	}
	return res
}
