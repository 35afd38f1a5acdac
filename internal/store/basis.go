package store

import (
	"os"

	"github.com/pkg/errors"

	"github.com/wj-modforge/modforge/internal/hashutil"
)

// LoadVerifiedBasis returns every patch-basis record for modlistName whose
// referenced local file still exists with matching size and quick_hash,
// keyed by basis_key. Records that fail verification are deleted rather
// than returned: the cache is an optimization, never a source of truth, and
// staleness is expected after an interrupted run.
func (s *Store) LoadVerifiedBasis(modlistName string) (map[string]PatchBasisRecord, error) {
	s.mu.Lock()
	rows, err := s.db.Query(
		`SELECT basis_key, local_output_path, size, quick_hash FROM patch_basis WHERE modlist_name = ?`,
		modlistName)
	if err != nil {
		s.mu.Unlock()
		return nil, errors.Wrap(err, "unable to query patch-basis cache")
	}

	type row struct {
		key string
		rec PatchBasisRecord
	}
	var candidates []row
	for rows.Next() {
		var r row
		var quickHash int64
		if err := rows.Scan(&r.key, &r.rec.LocalOutputPath, &r.rec.Size, &quickHash); err != nil {
			rows.Close()
			s.mu.Unlock()
			return nil, errors.Wrap(err, "unable to scan patch-basis row")
		}
		r.rec.QuickHash = uint64(quickHash)
		candidates = append(candidates, r)
	}
	rowsErr := rows.Err()
	rows.Close()
	s.mu.Unlock()
	if rowsErr != nil {
		return nil, rowsErr
	}

	verified := make(map[string]PatchBasisRecord, len(candidates))
	var stale []string
	for _, c := range candidates {
		info, err := os.Stat(c.rec.LocalOutputPath)
		if err != nil || info.Size() != c.rec.Size {
			stale = append(stale, c.key)
			continue
		}
		quick, err := hashutil.QuickHashFile(c.rec.LocalOutputPath)
		if err != nil || quick != c.rec.QuickHash {
			stale = append(stale, c.key)
			continue
		}
		verified[c.key] = c.rec
	}

	if len(stale) > 0 {
		if err := s.deleteBasisKeys(modlistName, stale); err != nil {
			return nil, err
		}
	}

	return verified, nil
}

func (s *Store) deleteBasisKeys(modlistName string, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "unable to begin stale patch-basis cleanup transaction")
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`DELETE FROM patch_basis WHERE modlist_name = ? AND basis_key = ?`)
	if err != nil {
		return errors.Wrap(err, "unable to prepare stale patch-basis delete")
	}
	defer stmt.Close()

	for _, key := range keys {
		if _, err := stmt.Exec(modlistName, key); err != nil {
			return errors.Wrapf(err, "unable to delete stale patch-basis record %q", key)
		}
	}
	return errors.Wrap(tx.Commit(), "unable to commit stale patch-basis cleanup")
}

// UpsertPatchBasis records (or replaces) the patch-basis cache entry for
// (modlistName, key).
func (s *Store) UpsertPatchBasis(modlistName, key string, rec PatchBasisRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO patch_basis (modlist_name, basis_key, local_output_path, size, quick_hash)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (modlist_name, basis_key) DO UPDATE SET
			local_output_path = excluded.local_output_path,
			size = excluded.size,
			quick_hash = excluded.quick_hash`,
		modlistName, key, rec.LocalOutputPath, rec.Size, int64(rec.QuickHash),
	)
	if err != nil {
		return errors.Wrapf(err, "unable to upsert patch-basis record %q", key)
	}
	return nil
}

// BasisKey builds the patch-basis cache key for a source path:
// archive_hash|normalized_path_in_archive[|normalized_nested_path].
func BasisKey(parts ...string) string {
	key := ""
	for i, p := range parts {
		if i > 0 {
			key += "|"
		}
		key += p
	}
	return key
}
