package store

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/wj-modforge/modforge/internal/manifest"
)

// NeedsReimport reports whether the stored manifest fingerprint differs
// from (size, mtimeUnix), or whether no metadata row exists yet. A
// differing fingerprint means the manifest archive changed since the last
// run and every table must be wiped and re-imported before any phase runs.
func (s *Store) NeedsReimport(size, mtimeUnix int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var gotSize, gotMtime int64
	err := s.db.QueryRow(`SELECT fingerprint_size, fingerprint_mtime FROM modlist_metadata WHERE id = 1`).
		Scan(&gotSize, &gotMtime)
	if errors.Is(err, errNoRows) {
		return true, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "unable to read stored manifest fingerprint")
	}
	return gotSize != size || gotMtime != mtimeUnix, nil
}

// ImportManifest atomically replaces all existing data with the contents
// of modlist: metadata (including the new fingerprint), archives, and
// directives. It is always a full wipe-and-reinsert; callers decide
// whether to call it via NeedsReimport.
func (s *Store) ImportManifest(modlist *manifest.Modlist, fingerprintSize, fingerprintMtime int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "unable to begin import transaction")
	}
	defer tx.Rollback()

	for _, table := range []string{"modlist_metadata", "archives", "directives", "archive_index", "patch_basis"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return errors.Wrapf(err, "unable to clear table %q", table)
		}
	}

	if _, err := tx.Exec(
		`INSERT INTO modlist_metadata (id, name, version, author, game_type, manifest_version, fingerprint_size, fingerprint_mtime)
		 VALUES (1, ?, ?, ?, ?, ?, ?, ?)`,
		modlist.Name, modlist.Version, modlist.Author, modlist.GameType, modlist.ManifestVersion,
		fingerprintSize, fingerprintMtime,
	); err != nil {
		return errors.Wrap(err, "unable to insert modlist metadata")
	}

	archiveStmt, err := tx.Prepare(
		`INSERT INTO archives (hash, name, size, state, download_status, extraction_status)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "unable to prepare archive insert")
	}
	defer archiveStmt.Close()

	for _, a := range modlist.Archives {
		if _, err := archiveStmt.Exec(a.Hash, a.Name, a.Size, string(a.State), DownloadPending, ExtractionPending); err != nil {
			return errors.Wrapf(err, "unable to insert archive %q", a.Hash)
		}
	}

	directiveStmt, err := tx.Prepare(
		`INSERT INTO directives (kind, destination, expected_hash, expected_size, payload, status, archive_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "unable to prepare directive insert")
	}
	defer directiveStmt.Close()

	for _, d := range modlist.Directives {
		payload, err := json.Marshal(d.Payload)
		if err != nil {
			return errors.Wrapf(err, "unable to encode payload for directive %q", d.To)
		}
		if _, err := directiveStmt.Exec(
			string(d.Kind), d.To, d.Hash, d.Size, string(payload), DirectivePending, archiveHashOf(d),
		); err != nil {
			return errors.Wrapf(err, "unable to insert directive %q", d.To)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "unable to commit import transaction")
	}
	return nil
}

// archiveHashOf extracts the source archive hash from a directive's
// variant payload, or "" for directives with no single source archive
// (InlineFile, RemappedInlineFile, CreateBSA).
func archiveHashOf(d manifest.Directive) string {
	switch p := d.Payload.(type) {
	case manifest.FromArchiveDirective:
		return firstOf(p.ArchiveHashPath)
	case manifest.PatchedFromArchiveDirective:
		return firstOf(p.ArchiveHashPath)
	case manifest.TransformedTextureDirective:
		return firstOf(p.ArchiveHashPath)
	default:
		return ""
	}
}

func firstOf(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}
