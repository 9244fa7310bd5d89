package batch

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"

	apperrors "github.com/afwm/CCBP-pub/internal/errors"
)

// Row is one CSV record keyed by header name.
type Row map[string]string

// requiredHeaders must be present for a batch input table to be usable.
var requiredHeaders = []string{"id", "ProjectName"}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// LoadRows reads the batch input table. Files exported from
// spreadsheet tools often carry a UTF-8 BOM; it is stripped before
// parsing. Header problems are configuration errors: the job must fail
// before any project is generated.
func LoadRows(path string) ([]Row, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read csv %s: %v", apperrors.ErrConfig, path, err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: parse csv %s: %v", apperrors.ErrConfig, path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: csv %s is empty", apperrors.ErrConfig, path)
	}

	header := records[0]
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[name] = i
	}
	for _, required := range requiredHeaders {
		if _, ok := index[required]; !ok {
			return nil, fmt.Errorf("%w: csv %s is missing required column %q", apperrors.ErrConfig, path, required)
		}
	}

	rows := make([]Row, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(Row, len(header))
		for name, i := range index {
			if i < len(record) {
				row[name] = record[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
