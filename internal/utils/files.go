package utils

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// WriteFileAtomic writes data via a temp file, fsync and rename so readers
// never observe a partial file
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// WriteJSONAtomic marshals v indented and writes it atomically
func WriteJSONAtomic(path string, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, b, 0o600)
}

// DayOpen returns local midnight of t in loc
func DayOpen(loc *time.Location, t time.Time) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// SameTradingDay reports whether a and b fall on the same local day in loc
func SameTradingDay(loc *time.Location, a, b time.Time) bool {
	return DayOpen(loc, a).Equal(DayOpen(loc, b))
}
