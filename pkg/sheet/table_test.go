package sheet

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTableGviz(t *testing.T) {
	input := `{
		"table": {
			"rows": [
				{"c": [{"v": "Timestamp"}, {"v": "Task ID"}]},
				{"c": [{"v": "Date(2024,0,1)"}, {"v": 42}, null, {}, {"v": null}]},
				{"c": [{"v": "x"}, {"v": "T-2"}]}
			]
		}
	}`

	table, err := ParseTable([]byte(input))
	require.NoError(t, err)

	assert.Len(t, table.Header.Cells, 2)
	require.Len(t, table.Rows, 2)

	row := table.Rows[0]
	assert.Equal(t, 1, row.Position)
	assert.Equal(t, json.Number("42"), row.Cell(1))
	assert.Equal(t, "", row.Cell(2), "null cell reads as empty string")
	assert.Equal(t, "", row.Cell(3), "cell without v reads as empty string")
	assert.Nil(t, row.Cell(4), "v:null stays nil")
	assert.Nil(t, row.Cell(19), "out-of-range cell")
}

func TestParseTableShapes(t *testing.T) {
	tests := []struct {
		name  string
		input string
		rows  int
		first string
	}{
		{"bare array", `[["h1","h2"],["a","b"],["c","d"]]`, 2, "a"},
		{"values grid", `{"values":[["h1"],["a"],["b"],["c"]]}`, 3, "a"},
		{"unknown object", `{"foo":"bar"}`, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := ParseTable([]byte(tt.input))
			require.NoError(t, err)
			require.Len(t, table.Rows, tt.rows)
			if tt.rows > 0 {
				assert.Equal(t, tt.first, table.Rows[0].Cell(0))
			}
		})
	}
}

func TestParseTableNoise(t *testing.T) {
	input := "/*O_o*/\ngoogle.visualization.Query.setResponse({\"table\":{\"rows\":[{\"c\":[]},{\"c\":[{\"v\":\"a\"}]}]}});"

	table, err := ParseTable([]byte(input))
	require.NoError(t, err)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "a", table.Rows[0].Cell(0))
}

func TestParseTableMalformed(t *testing.T) {
	for _, input := range []string{"<html>error</html>", "{not json}", ""} {
		_, err := ParseTable([]byte(input))
		assert.ErrorIs(t, err, ErrMalformedResponse, "input %q", input)
	}
}

func TestParseTableSkipsUnknownRows(t *testing.T) {
	input := `[["header"], "oops", {"x": 1}, ["ok"]]`

	table, err := ParseTable([]byte(input))
	require.NoError(t, err)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, 3, table.Rows[0].Position, "surviving row keeps its position")
	assert.Len(t, table.Skipped, 2)
}

func TestFromValues(t *testing.T) {
	table := FromValues([][]any{
		{"Timestamp", "Task ID"},
		{"01/01/2024", "T-1"},
		{},
	})

	assert.True(t, table.NarrowHeader(20), "a 2-column header is narrow")
	require.Len(t, table.Rows, 2)
	assert.Equal(t, "T-1", table.Rows[0].Cell(1))
	assert.Equal(t, 2, table.Rows[1].Position)
}

func TestTaskRef(t *testing.T) {
	assert.Equal(t, json.Number("101"), TaskRef("101", true))
	assert.Equal(t, "101", TaskRef("101", false))
	assert.Equal(t, "", TaskRef("", true), "an empty numeric id stays a string")
}
