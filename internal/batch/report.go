package batch

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// writeReport saves the list of generated project names as a
// timestamped CSV in dir and returns its path. The BOM keeps the file
// readable by the spreadsheet tools the input CSVs come from.
func writeReport(dir string, projectNames []string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create report directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, fmt.Sprintf("report_%s.csv", time.Now().Format("20060102_150405")))

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create report %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(utf8BOM); err != nil {
		return "", fmt.Errorf("write report %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write([]string{"GeneratedProjectName"}); err != nil {
		return "", fmt.Errorf("write report %s: %w", path, err)
	}
	for _, name := range projectNames {
		if err := w.Write([]string{name}); err != nil {
			return "", fmt.Errorf("write report %s: %w", path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("write report %s: %w", path, err)
	}
	return path, nil
}
