// Package fsclock normalizes filesystem timestamps to a single portable
// tick representation: integer seconds since the Unix epoch. Every
// dirtiness comparison in the core goes through this package so no
// component compares platform-defined wall-clock values directly
// (spec §4.3, §9).
package fsclock

import (
	"os"
	"time"
)

// Ticks converts a time.Time to the tick representation persisted in
// StateRecords and compared during dirty analysis.
func Ticks(t time.Time) int64 { return t.Unix() }

// Stat returns the tick-normalized modification time of path.
func Stat(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return Ticks(info.ModTime()), nil
}

// Exists reports whether path is present on disk.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
