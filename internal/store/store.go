package store

import (
	"database/sql"
	"sync"

	"github.com/golang/groupcache/lru"
	"github.com/pkg/errors"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS modlist_metadata (
	id                INTEGER PRIMARY KEY CHECK (id = 1),
	name              TEXT NOT NULL,
	version           TEXT NOT NULL,
	author            TEXT NOT NULL,
	game_type         TEXT NOT NULL,
	manifest_version  TEXT NOT NULL,
	fingerprint_size  INTEGER NOT NULL,
	fingerprint_mtime INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS archives (
	hash              TEXT PRIMARY KEY,
	name              TEXT NOT NULL,
	size              INTEGER NOT NULL,
	state             TEXT NOT NULL,
	download_status   TEXT NOT NULL,
	extraction_status TEXT NOT NULL,
	local_path        TEXT NOT NULL DEFAULT '',
	cached_url        TEXT NOT NULL DEFAULT '',
	cached_url_expiry INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS archives_download_status ON archives(download_status);
CREATE INDEX IF NOT EXISTS archives_extraction_status ON archives(extraction_status);

CREATE TABLE IF NOT EXISTS directives (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	kind          TEXT NOT NULL,
	destination   TEXT NOT NULL,
	expected_hash TEXT NOT NULL DEFAULT '',
	expected_size INTEGER NOT NULL,
	payload       TEXT NOT NULL,
	status        TEXT NOT NULL,
	archive_hash  TEXT NOT NULL DEFAULT '',
	error         TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS directives_kind_status ON directives(kind, status);
CREATE INDEX IF NOT EXISTS directives_archive_hash ON directives(archive_hash);

CREATE TABLE IF NOT EXISTS archive_index (
	archive_hash    TEXT NOT NULL,
	original_path   TEXT NOT NULL,
	normalized_path TEXT NOT NULL,
	size            INTEGER NOT NULL,
	PRIMARY KEY (archive_hash, normalized_path)
);

CREATE TABLE IF NOT EXISTS patch_basis (
	modlist_name      TEXT NOT NULL,
	basis_key         TEXT NOT NULL,
	local_output_path TEXT NOT NULL,
	size              INTEGER NOT NULL,
	quick_hash        INTEGER NOT NULL,
	PRIMARY KEY (modlist_name, basis_key)
);
`

// errNoRows aliases sql.ErrNoRows so callers elsewhere in the package can
// test for it with errors.Is without importing database/sql themselves.
var errNoRows = sql.ErrNoRows

// fullHashMemoCapacity bounds the in-memory (path, size, mtime) -> matched
// memo so a long patch phase over a huge modlist doesn't grow it unbounded.
const fullHashMemoCapacity = 4096

// Store is the single-writer relational store backing a resumable install.
// It is safe for concurrent use: every database method holds mu, so reads
// and writes alike are serialized here rather than by the caller, and
// every processor worker goroutine can call Store methods directly.
type Store struct {
	db *sql.DB
	mu sync.Mutex

	memoMu sync.Mutex
	memo   *lru.Cache
}

// Open opens or creates the store at path, ensuring its schema exists and
// configuring it for crash recovery (WAL journal, NORMAL synchronous —
// durable across a process crash, not across an OS-level power loss mid
// checkpoint, which is an acceptable tradeoff for a resumable installer).
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open store %q", path)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=30000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "unable to configure store with %q", pragma)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "unable to create store schema")
	}

	return &Store{db: db, memo: lru.New(fullHashMemoCapacity)}, nil
}

// Close releases the store's database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// MemoizeFullHashCheck records whether the file at path (identified by its
// size and modification time, which double as a cheap staleness check) was
// found to match its expected from_hash, so a repeated lookup during patch
// apply doesn't re-hash the same file.
func (s *Store) MemoizeFullHashCheck(path string, size, mtimeUnix int64, matched bool) {
	s.memoMu.Lock()
	defer s.memoMu.Unlock()
	s.memo.Add(fullHashMemoKey{path, size, mtimeUnix}, matched)
}

// FullHashCheckMemo returns a previously recorded full-hash verification
// result for (path, size, mtime), if any.
func (s *Store) FullHashCheckMemo(path string, size, mtimeUnix int64) (matched, ok bool) {
	s.memoMu.Lock()
	defer s.memoMu.Unlock()
	v, ok := s.memo.Get(fullHashMemoKey{path, size, mtimeUnix})
	if !ok {
		return false, false
	}
	return v.(bool), true
}

type fullHashMemoKey struct {
	path  string
	size  int64
	mtime int64
}
