package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskJSONKeys(t *testing.T) {
	task := Task{ID: "task_T-7_5", RowIndex: 5, TaskID: "T-7"}
	task.Set(ColPlannedDate, "01/10/2026")
	task.Set(ColRemarks, "ok")

	b, err := json.Marshal(task)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "task_T-7_5", m["_id"])
	assert.Equal(t, "T-7", m["_taskId"])
	assert.Equal(t, 5.0, m["_rowIndex"])
	assert.Equal(t, "01/10/2026", m["colK"])
	assert.Equal(t, "ok", m["colT"])
	assert.Len(t, m, NumColumns+3)

	var back Task
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, task, back)
}

func TestTaskValues(t *testing.T) {
	task := Task{ID: "x", RowIndex: 3, TaskID: "T"}
	task.Set(ColAssignee, "Asha")

	vals := task.Values()
	require.Len(t, vals, NumColumns+3)
	assert.Equal(t, []string{"x", "3", "T"}, vals[:3])
	assert.Equal(t, "Asha", vals[3+int(ColAssignee)])
}

func TestColumnString(t *testing.T) {
	assert.NotEmpty(t, ColVerificationDate.String())
	assert.Equal(t, "colB", Schema[ColTaskID].Key)
}
