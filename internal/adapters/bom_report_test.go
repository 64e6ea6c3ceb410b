package adapters

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partcad/internal/types"
)

func sampleBOM() types.BOMReport {
	return types.BOMReport{
		Assembly:  "/robot:arm",
		CreatedAt: "2026-01-02T03:04:05Z",
		Entries: []types.BOMEntry{
			{Part: "/robot:screw", Count: 8},
			{Part: "/robot:bracket", Count: 2},
		},
	}
}

func TestBOMReportWriterJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "arm.bom.json")
	require.NoError(t, NewBOMReportWriter().WriteBOM(path, sampleBOM()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got struct {
		Assembly string `json:"assembly"`
		Created  string `json:"created"`
		Total    int    `json:"total"`
		Items    []struct {
			ID    string `json:"id"`
			Part  string `json:"part"`
			Count int    `json:"count"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "/robot:arm", got.Assembly)
	assert.Equal(t, "2026-01-02T03:04:05Z", got.Created)
	assert.Equal(t, 10, got.Total)
	require.Len(t, got.Items, 2)
	assert.Equal(t, "/robot:bracket", got.Items[0].Part)
	assert.Equal(t, bomItemID("/robot:bracket"), got.Items[0].ID)
	assert.NotEqual(t, got.Items[0].ID, got.Items[1].ID)
}

func TestBOMReportWriterCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arm.csv")
	require.NoError(t, NewBOMReportWriter().WriteBOM(path, sampleBOM()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	want := "part,count\n/robot:bracket,2\n/robot:screw,8\n"
	if diff := cmp.Diff(want, string(data)); diff != "" {
		t.Errorf("csv mismatch (-want +got):\n%s", diff)
	}
}

func TestBOMReportWriterRejectsEmptyInput(t *testing.T) {
	w := NewBOMReportWriter()
	require.Error(t, w.WriteBOM("", sampleBOM()))
	require.Error(t, w.WriteBOM(filepath.Join(t.TempDir(), "x.json"), types.BOMReport{}))
}
