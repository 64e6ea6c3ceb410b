package adapters

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"partcad/internal/ports"
	"partcad/internal/types"
)

// BOMReportWriter writes assembly bills of materials. A path ending in
// .csv gets `part,count` rows, anything else a JSON document.
type BOMReportWriter struct{}

func NewBOMReportWriter() BOMReportWriter {
	return BOMReportWriter{}
}

func (w BOMReportWriter) WriteBOM(path string, report types.BOMReport) error {
	if strings.TrimSpace(path) == "" {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("bom output path is empty")
	}
	if strings.TrimSpace(report.Assembly) == "" {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("bom assembly name is empty")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("failed to create bom directory").
				WithCause(err)
		}
	}
	ordered := append([]types.BOMEntry(nil), report.Entries...)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Part < ordered[j].Part
	})

	var data []byte
	var err error
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		data, err = bomCSV(ordered)
	} else {
		data, err = bomJSON(report, ordered)
	}
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to encode bom").
			WithCause(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to write bom file").
			WithCause(err)
	}
	return nil
}

func bomCSV(entries []types.BOMEntry) ([]byte, error) {
	var buf strings.Builder
	out := csv.NewWriter(&buf)
	if err := out.Write([]string{"part", "count"}); err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if err := out.Write([]string{entry.Part, strconv.Itoa(entry.Count)}); err != nil {
			return nil, err
		}
	}
	out.Flush()
	return []byte(buf.String()), out.Error()
}

func bomJSON(report types.BOMReport, entries []types.BOMEntry) ([]byte, error) {
	type bomItem struct {
		ID    string `json:"id"`
		Part  string `json:"part"`
		Count int    `json:"count"`
	}
	created := strings.TrimSpace(report.CreatedAt)
	if created == "" {
		created = time.Now().UTC().Format(time.RFC3339)
	}
	payload := struct {
		Assembly string    `json:"assembly"`
		Created  string    `json:"created"`
		Tool     string    `json:"tool"`
		Total    int       `json:"total"`
		Items    []bomItem `json:"items"`
	}{
		Assembly: report.Assembly,
		Created:  created,
		Tool:     fmt.Sprintf("partcad %s", types.ToolVersion),
		Items:    []bomItem{},
	}
	for _, entry := range entries {
		payload.Total += entry.Count
		payload.Items = append(payload.Items, bomItem{ID: bomItemID(entry.Part), Part: entry.Part, Count: entry.Count})
	}
	return json.MarshalIndent(payload, "", "  ")
}

// bomItemID is stable across runs for the same part name.
func bomItemID(part string) string {
	hash := sha256.Sum256([]byte(part))
	return "part-" + hex.EncodeToString(hash[:8])
}

var _ ports.BOMReportPort = BOMReportWriter{}
