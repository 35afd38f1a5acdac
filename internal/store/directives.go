package store

import (
	"github.com/pkg/errors"

	"github.com/wj-modforge/modforge/internal/manifest"
)

// CountDirectivesByType returns how many directives of kind exist, in any
// status.
func (s *Store) CountDirectivesByType(kind manifest.DirectiveKind) (int, error) {
	return s.count(`SELECT COUNT(*) FROM directives WHERE kind = ?`, string(kind))
}

// CountDirectivesByStatus returns how many directives are currently in the
// given status, across all kinds.
func (s *Store) CountDirectivesByStatus(status DirectiveStatus) (int, error) {
	return s.count(`SELECT COUNT(*) FROM directives WHERE status = ?`, string(status))
}

func (s *Store) count(query string, arg interface{}) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	if err := s.db.QueryRow(query, arg).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "unable to count directives")
	}
	return n, nil
}

// ListPendingByType returns every pending directive of the given kind, for
// a phase to claim and process.
func (s *Store) ListPendingByType(kind manifest.DirectiveKind) ([]Directive, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT id, kind, destination, expected_hash, expected_size, payload, status, archive_hash, error
		 FROM directives WHERE kind = ? AND status = ?`, string(kind), string(DirectivePending))
	if err != nil {
		return nil, errors.Wrapf(err, "unable to list pending %s directives", kind)
	}
	defer rows.Close()

	var directives []Directive
	for rows.Next() {
		var d Directive
		var kindStr, statusStr string
		if err := rows.Scan(&d.ID, &kindStr, &d.Destination, &d.ExpectedHash, &d.ExpectedSize,
			&d.Payload, &statusStr, &d.ArchiveHash, &d.Error); err != nil {
			return nil, errors.Wrap(err, "unable to scan directive row")
		}
		d.Kind = manifest.DirectiveKind(kindStr)
		d.Status = DirectiveStatus(statusStr)
		directives = append(directives, d)
	}
	return directives, rows.Err()
}

// ListCompletedByType returns the narrow projection needed to re-verify
// already-completed directives of the given kind.
func (s *Store) ListCompletedByType(kind manifest.DirectiveKind) ([]CompletedDirective, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT id, destination, expected_size, expected_hash, archive_hash FROM directives WHERE kind = ? AND status = ?`,
		string(kind), string(DirectiveCompleted))
	if err != nil {
		return nil, errors.Wrapf(err, "unable to list completed %s directives", kind)
	}
	defer rows.Close()

	var out []CompletedDirective
	for rows.Next() {
		var c CompletedDirective
		if err := rows.Scan(&c.ID, &c.Destination, &c.ExpectedSize, &c.ExpectedHash, &c.ArchiveHash); err != nil {
			return nil, errors.Wrap(err, "unable to scan completed-directive row")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListAllDestinations returns every directive's declared output path,
// across every kind and status, for the cleanup phase to compare against
// what actually exists on disk.
func (s *Store) ListAllDestinations() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT destination FROM directives`)
	if err != nil {
		return nil, errors.Wrap(err, "unable to list directive destinations")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var dest string
		if err := rows.Scan(&dest); err != nil {
			return nil, errors.Wrap(err, "unable to scan destination row")
		}
		out = append(out, dest)
	}
	return out, rows.Err()
}

// MarkProcessing transitions a directive from pending to processing.
func (s *Store) MarkProcessing(id int64) error {
	return s.setStatus(id, DirectiveProcessing, "")
}

// MarkCompleted transitions a directive to completed, clearing any prior
// error text.
func (s *Store) MarkCompleted(id int64) error {
	return s.setStatus(id, DirectiveCompleted, "")
}

// MarkFailed transitions a directive to failed, recording errText.
func (s *Store) MarkFailed(id int64, errText string) error {
	return s.setStatus(id, DirectiveFailed, errText)
}

func (s *Store) setStatus(id int64, status DirectiveStatus, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE directives SET status = ?, error = ? WHERE id = ?`, string(status), errText, id)
	if err != nil {
		return errors.Wrapf(err, "unable to set directive %d to %s", id, status)
	}
	return nil
}

// RevertToPending reverts a single directive's status to pending,
// regardless of its current status. Used by the post-install verify sweep
// when a completed directive's output no longer matches its declared size
// or hash.
func (s *Store) RevertToPending(id int64) error {
	return s.setStatus(id, DirectivePending, "")
}

// ResetProcessingToPending resets every directive stuck in "processing"
// (left behind by a crash mid-phase) back to "pending", and returns how
// many rows were affected. Called once at the start of every run.
func (s *Store) ResetProcessingToPending() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE directives SET status = ? WHERE status = ?`,
		string(DirectivePending), string(DirectiveProcessing))
	if err != nil {
		return 0, errors.Wrap(err, "unable to reset processing directives to pending")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "unable to count reset directives")
	}
	return int(n), nil
}

// ResetAllForArchiveHash resets every non-completed directive sourced from
// archiveHash back to pending, used when an extraction failure means every
// directive depending on that archive must be retried (or, after a
// redownload, reattempted) on the next run.
func (s *Store) ResetAllForArchiveHash(archiveHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE directives SET status = ?, error = '' WHERE archive_hash = ? AND status != ?`,
		string(DirectivePending), archiveHash, string(DirectiveCompleted))
	if err != nil {
		return errors.Wrapf(err, "unable to reset directives for archive %q", archiveHash)
	}
	return nil
}
