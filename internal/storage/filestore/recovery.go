package filestore

import (
	"fmt"
	"os"
)

// recoverFromWAL replays an append that was logged but may not have reached the table
// file: the table is cut back to its size before the append and the rows are written again.
func (s *Store) recoverFromWAL() error {
	rec, err := s.wal.pending()
	if err != nil {
		return fmt.Errorf("recovery: read journal: %w", err)
	}
	if rec == nil {
		return s.wal.reset()
	}

	path, err := s.tablePath(rec.table)
	if err != nil {
		return fmt.Errorf("recovery: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("recovery: open table %q: %w", rec.table, err)
	}
	defer f.Close()

	if err := f.Truncate(rec.baseSize); err != nil {
		return fmt.Errorf("recovery: truncate table %q: %w", rec.table, err)
	}
	if _, err := f.WriteAt(rec.payload, rec.baseSize); err != nil {
		return fmt.Errorf("recovery: replay rows into %q: %w", rec.table, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("recovery: sync table %q: %w", rec.table, err)
	}
	return s.wal.reset()
}
