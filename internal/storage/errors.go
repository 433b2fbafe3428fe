package storage

import "errors"

var (
	// ErrNotPaused is returned when resume or fork is pointed at a snapshot
	// whose status is not "paused".
	ErrNotPaused = errors.New("snapshot status is not paused")
	// ErrCorruptSnapshot is returned when a snapshot file cannot be decoded.
	ErrCorruptSnapshot = errors.New("snapshot file is corrupt")
)
