package store

import (
	"time"

	"github.com/pkg/errors"
)

// GetArchive looks up a single archive record by hash.
func (s *Store) GetArchive(hash string) (*Archive, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.scanArchive(s.db.QueryRow(
		`SELECT hash, name, size, state, download_status, extraction_status, local_path, cached_url, cached_url_expiry
		 FROM archives WHERE hash = ?`, hash))
	if errors.Is(err, errNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "unable to look up archive %q", hash)
	}
	return a, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) scanArchive(row rowScanner) (*Archive, error) {
	var a Archive
	err := row.Scan(&a.Hash, &a.Name, &a.Size, &a.State, &a.DownloadStatus, &a.ExtractionStatus,
		&a.LocalPath, &a.CachedURL, &a.CachedURLExpiry)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListArchivesByDownloadStatus returns every archive in the given download
// state.
func (s *Store) ListArchivesByDownloadStatus(status DownloadStatus) ([]Archive, error) {
	return s.queryArchives(
		`SELECT hash, name, size, state, download_status, extraction_status, local_path, cached_url, cached_url_expiry
		 FROM archives WHERE download_status = ?`, status)
}

// ListArchivesByExtractionStatus returns every archive in the given
// extraction state.
func (s *Store) ListArchivesByExtractionStatus(status ExtractionStatus) ([]Archive, error) {
	return s.queryArchives(
		`SELECT hash, name, size, state, download_status, extraction_status, local_path, cached_url, cached_url_expiry
		 FROM archives WHERE extraction_status = ?`, status)
}

func (s *Store) queryArchives(query string, arg interface{}) ([]Archive, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(query, arg)
	if err != nil {
		return nil, errors.Wrap(err, "unable to query archives")
	}
	defer rows.Close()

	var archives []Archive
	for rows.Next() {
		a, err := s.scanArchive(rows)
		if err != nil {
			return nil, errors.Wrap(err, "unable to scan archive row")
		}
		archives = append(archives, *a)
	}
	return archives, rows.Err()
}

// BulkGetArchives looks up every hash in hashes, returning only the ones
// found, keyed by hash.
func (s *Store) BulkGetArchives(hashes []string) (map[string]Archive, error) {
	result := make(map[string]Archive, len(hashes))
	if len(hashes) == 0 {
		return result, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	placeholders := make([]string, len(hashes))
	args := make([]interface{}, len(hashes))
	for i, h := range hashes {
		placeholders[i] = "?"
		args[i] = h
	}
	query := `SELECT hash, name, size, state, download_status, extraction_status, local_path, cached_url, cached_url_expiry
	          FROM archives WHERE hash IN (` + join(placeholders) + `)`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "unable to bulk look up archives")
	}
	defer rows.Close()

	for rows.Next() {
		a, err := s.scanArchive(rows)
		if err != nil {
			return nil, errors.Wrap(err, "unable to scan archive row")
		}
		result[a.Hash] = *a
	}
	return result, rows.Err()
}

func join(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}

// UpdateDownloadStatus sets an archive's download status and, when
// completed, its resolved local path.
func (s *Store) UpdateDownloadStatus(hash string, status DownloadStatus, localPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE archives SET download_status = ?, local_path = ? WHERE hash = ?`,
		status, localPath, hash)
	if err != nil {
		return errors.Wrapf(err, "unable to update download status for archive %q", hash)
	}
	return nil
}

// UpdateExtractionStatus sets an archive's archive-index extraction status.
func (s *Store) UpdateExtractionStatus(hash string, status ExtractionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE archives SET extraction_status = ? WHERE hash = ?`, status, hash)
	if err != nil {
		return errors.Wrapf(err, "unable to update extraction status for archive %q", hash)
	}
	return nil
}

// CacheDownloadURL records a resolved download URL with an expiry, so the
// Download Coordinator can skip re-resolving a source link that is still
// fresh on the next run.
func (s *Store) CacheDownloadURL(hash, url string, expiry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE archives SET cached_url = ?, cached_url_expiry = ? WHERE hash = ?`,
		url, expiry.Unix(), hash)
	if err != nil {
		return errors.Wrapf(err, "unable to cache download url for archive %q", hash)
	}
	return nil
}
