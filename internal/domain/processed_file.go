package domain

import (
	"path/filepath"
	"time"
)

// ProcessedFile is one row of the tracking table: the named file has been loaded.
type ProcessedFile struct {
	FileName    string    `json:"file_name"`
	ProcessedAt time.Time `json:"processed_at"`
}

// FileIdentifier is the tracking key for a local file: its base name.
func FileIdentifier(localPath string) string {
	return filepath.Base(localPath)
}
