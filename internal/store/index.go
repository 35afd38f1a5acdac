package store

import (
	"github.com/pkg/errors"

	"github.com/wj-modforge/modforge/internal/pathutil"
)

// IsIndexed reports whether archive hash already has a (possibly empty but
// committed) file index. A prior partial index — one that never finished
// its transaction — never reaches this state, since IndexArchive replaces
// entries transactionally.
func (s *Store) IsIndexed(hash string) (bool, error) {
	n, err := s.CountIndexed(hash)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	// An archive can legitimately have zero files; fall back to the
	// extraction-status column to distinguish "indexed, empty" from
	// "never indexed".
	a, err := s.GetArchive(hash)
	if err != nil || a == nil {
		return false, err
	}
	return a.ExtractionStatus == ExtractionExtracted || a.ExtractionStatus == ExtractionNotNeeded, nil
}

// CountIndexed returns the number of file-index rows recorded for hash.
func (s *Store) CountIndexed(hash string) (int, error) {
	return s.count(`SELECT COUNT(*) FROM archive_index WHERE archive_hash = ?`, hash)
}

// IndexArchive transactionally replaces any prior index for hash with
// entries.
func (s *Store) IndexArchive(hash string, entries []IndexEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrapf(err, "unable to begin index transaction for archive %q", hash)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM archive_index WHERE archive_hash = ?`, hash); err != nil {
		return errors.Wrapf(err, "unable to clear prior index for archive %q", hash)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO archive_index (archive_hash, original_path, normalized_path, size) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "unable to prepare index insert")
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.Exec(hash, e.OriginalPath, e.NormalizedPath, e.Size); err != nil {
			return errors.Wrapf(err, "unable to insert index entry %q for archive %q", e.OriginalPath, hash)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrapf(err, "unable to commit index for archive %q", hash)
	}
	return nil
}

// LookupIndexed resolves requestedPath (any case) against hash's file
// index, returning the original on-disk-cased in-archive path.
func (s *Store) LookupIndexed(hash, requestedPath string) (string, bool, error) {
	normalizedPath := pathutil.NormalizeForLookup(requestedPath)
	s.mu.Lock()
	defer s.mu.Unlock()

	var original string
	err := s.db.QueryRow(
		`SELECT original_path FROM archive_index WHERE archive_hash = ? AND normalized_path = ?`,
		hash, normalizedPath,
	).Scan(&original)
	if errors.Is(err, errNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "unable to look up %q in index of %q", normalizedPath, hash)
	}
	return original, true, nil
}
