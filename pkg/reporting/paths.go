package reporting

import (
	"os"
	"path/filepath"
	"time"
)

// DefaultExportPath names a history workbook after the export time
func DefaultExportPath(now time.Time) string {
	return filepath.Join("results", "history_"+now.UTC().Format("20060102_150405")+".xlsx")
}

// EnsureDirectoryExists creates the parent directory of path
func EnsureDirectoryExists(path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		return os.MkdirAll(dir, 0755)
	}
	return nil
}
