package classify

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrisonrobin/reverify/pkg/model"
	"github.com/harrisonrobin/reverify/pkg/sheet"
)

var utc = Options{Location: time.UTC}

// newRow builds a 20-cell row with the given overrides.
func newRow(pos int, cells map[model.Column]any) sheet.Row {
	vals := make([]any, model.NumColumns)
	for i := range vals {
		vals[i] = ""
	}
	for c, v := range cells {
		vals[c] = v
	}
	return sheet.Row{Position: pos, Cells: vals}
}

func TestClassify_Buckets(t *testing.T) {
	admin := Viewer{Name: "root", Role: RoleAdmin}

	tests := []struct {
		name  string
		cells map[model.Column]any
		want  model.Bucket
	}{
		{
			name:  "planned and marker without verification is pending",
			cells: map[model.Column]any{model.ColPlannedDate: "10/01/2025", model.ColMarker: "Yes"},
			want:  model.Pending,
		},
		{
			name:  "verification date moves row to history",
			cells: map[model.Column]any{model.ColPlannedDate: "10/01/2025", model.ColMarker: "Yes", model.ColVerificationDate: "12/01/2025"},
			want:  model.History,
		},
		{
			name:  "missing planned date is excluded",
			cells: map[model.Column]any{model.ColMarker: "Yes"},
			want:  model.Excluded,
		},
		{
			name:  "whitespace marker counts as empty",
			cells: map[model.Column]any{model.ColPlannedDate: "10/01/2025", model.ColMarker: "   "},
			want:  model.Excluded,
		},
		{
			name:  "numeric zero marker is not empty",
			cells: map[model.Column]any{model.ColPlannedDate: "10/01/2025", model.ColMarker: json.Number("0")},
			want:  model.Pending,
		},
		{
			name:  "null verification is empty",
			cells: map[model.Column]any{model.ColPlannedDate: "10/01/2025", model.ColMarker: "x", model.ColVerificationDate: nil},
			want:  model.Pending,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, got := Classify(newRow(1, tt.cells), admin, utc)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassify_AssigneeGating(t *testing.T) {
	alice := Viewer{Name: "alice", Role: "user"}
	base := map[model.Column]any{model.ColPlannedDate: "10/01/2025", model.ColMarker: "Yes"}

	withAssignee := func(name string) sheet.Row {
		cells := map[model.Column]any{model.ColAssignee: name}
		for k, v := range base {
			cells[k] = v
		}
		return newRow(1, cells)
	}

	_, bucket := Classify(withAssignee("Bob"), alice, utc)
	assert.Equal(t, model.Excluded, bucket)

	_, bucket = Classify(withAssignee("BOB"), alice, utc)
	assert.Equal(t, model.Excluded, bucket)

	_, bucket = Classify(withAssignee("ALICE"), alice, utc)
	assert.Equal(t, model.Pending, bucket)

	_, bucket = Classify(withAssignee("Bob"), Viewer{Name: "alice", Role: RoleAdmin}, utc)
	assert.Equal(t, model.Pending, bucket, "admin bypasses assignee check")

	_, bucket = Classify(withAssignee(""), Viewer{Name: "", Role: ""}, utc)
	assert.Equal(t, model.Excluded, bucket, "empty viewer does not match unassigned rows")
}

func TestClassify_Fields(t *testing.T) {
	row := newRow(4, map[model.Column]any{
		model.ColTaskID:      json.Number("101"),
		model.ColAssignee:    "Alice",
		model.ColStartDate:   "Date(2024,2,5)",
		model.ColPlannedDate: "2024-03-10",
		model.ColMarker:      true,
		model.ColRemarks:     nil,
	})

	task, bucket := Classify(row, Viewer{Name: "alice"}, utc)
	require.Equal(t, model.Pending, bucket)

	assert.Equal(t, "task_101_5", task.ID)
	assert.Equal(t, 5, task.RowIndex)
	assert.Equal(t, "101", task.TaskID)
	assert.True(t, task.NumericID, "numeric id cell is remembered")
	assert.Equal(t, "05/03/2024", task.Get(model.ColStartDate))
	assert.Equal(t, "10/03/2024", task.Get(model.ColPlannedDate))
	assert.Equal(t, "true", task.Get(model.ColMarker))
	assert.Equal(t, "", task.Get(model.ColRemarks))
	assert.Equal(t, "", task.Get(model.ColVerificationDate))
}

func TestClassify_ShortRowDefaultsToEmpty(t *testing.T) {
	row := sheet.Row{Position: 1, Cells: []any{"ts", "T-1"}}

	task, bucket := Classify(row, Viewer{Role: RoleAdmin}, utc)
	assert.Equal(t, model.Excluded, bucket)
	assert.Equal(t, "T-1", task.TaskID)
	assert.False(t, task.NumericID)
	for c := model.ColDepartment; int(c) < model.NumColumns; c++ {
		assert.Empty(t, task.Get(c), "column %s", c)
	}
}

func TestClassify_FallbackIDIsDeterministic(t *testing.T) {
	cells := map[model.Column]any{model.ColDescription: "no id", model.ColPlannedDate: "10/01/2025", model.ColMarker: "x"}
	admin := Viewer{Role: RoleAdmin}

	a, _ := Classify(newRow(2, cells), admin, utc)
	b, _ := Classify(newRow(2, cells), admin, utc)
	c, _ := Classify(newRow(3, cells), admin, utc)

	assert.Equal(t, a.ID, b.ID)
	assert.NotEqual(t, a.ID, c.ID)
	assert.Regexp(t, `^row_3_[0-9a-f]{13}$`, a.ID)
	assert.Empty(t, a.TaskID)
}

func TestClassifyTable(t *testing.T) {
	table := &sheet.Table{Rows: []sheet.Row{
		newRow(1, map[model.Column]any{model.ColTaskID: "A", model.ColPlannedDate: "01/01/2025", model.ColMarker: "x"}),
		newRow(2, map[model.Column]any{model.ColTaskID: "B", model.ColPlannedDate: "01/01/2025", model.ColMarker: "x", model.ColVerificationDate: "02/01/2025"}),
		newRow(3, map[model.Column]any{model.ColTaskID: "C"}),
		newRow(4, map[model.Column]any{model.ColTaskID: "D", model.ColPlannedDate: "03/01/2025", model.ColMarker: "x"}),
	}}

	res := ClassifyTable(table, Viewer{Role: RoleAdmin}, utc)

	require.Len(t, res.Pending, 2)
	require.Len(t, res.History, 1)
	assert.Equal(t, 1, res.Excluded)
	assert.Equal(t, "A", res.Pending[0].TaskID)
	assert.Equal(t, "D", res.Pending[1].TaskID)
	assert.Equal(t, "B", res.History[0].TaskID)
}

func TestCellString(t *testing.T) {
	assert.Equal(t, "", CellString(nil))
	assert.Equal(t, "abc", CellString("abc"))
	assert.Equal(t, "12.5", CellString(json.Number("12.5")))
	assert.Equal(t, "3", CellString(float64(3)))
	assert.Equal(t, "false", CellString(false))
}
