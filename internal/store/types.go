// Package store implements the single-writer relational store that holds
// manifest metadata, source-archive records, directives with status,
// archive file indices, and the patch-basis cache. Every phase transition
// recovers from this store: a crash at any point leaves enough state behind
// that a subsequent run resumes rather than restarts.
package store

import "github.com/wj-modforge/modforge/internal/manifest"

// DownloadStatus is the lifecycle of a source archive's download.
type DownloadStatus string

const (
	DownloadPending   DownloadStatus = "pending"
	DownloadCompleted DownloadStatus = "completed"
)

// ExtractionStatus tracks whether an archive's file index has been built.
type ExtractionStatus string

const (
	ExtractionPending   ExtractionStatus = "pending"
	ExtractionExtracting ExtractionStatus = "extracting"
	ExtractionExtracted  ExtractionStatus = "extracted"
	ExtractionNotNeeded  ExtractionStatus = "not_needed"
	ExtractionFailed     ExtractionStatus = "failed"
)

// DirectiveStatus is the lifecycle state of a directive, per the state
// machine: pending -> processing -> {completed, failed}.
type DirectiveStatus string

const (
	DirectivePending    DirectiveStatus = "pending"
	DirectiveProcessing DirectiveStatus = "processing"
	DirectiveCompleted  DirectiveStatus = "completed"
	DirectiveFailed     DirectiveStatus = "failed"
)

// Archive is the persisted record of a source archive.
type Archive struct {
	Hash             string
	Name             string
	Size             int64
	State            string
	DownloadStatus   DownloadStatus
	ExtractionStatus ExtractionStatus
	LocalPath        string
	CachedURL        string
	CachedURLExpiry  int64 // Unix seconds; zero means no cached URL.
}

// Directive is the persisted record of a single manifest directive.
type Directive struct {
	ID          int64
	Kind        manifest.DirectiveKind
	Destination string
	ExpectedHash string
	ExpectedSize int64
	Payload     string // JSON-encoded variant payload.
	Status      DirectiveStatus
	ArchiveHash  string // empty for CreateBSA and directives with no single source.
	Error        string
}

// CompletedDirective is the narrow projection returned by
// ListCompletedByType: enough to verify an output without re-parsing the
// full payload.
type CompletedDirective struct {
	ID           int64
	Destination  string
	ExpectedSize int64
	ExpectedHash string
	ArchiveHash  string
}

// IndexEntry is one row of an archive's file index.
type IndexEntry struct {
	OriginalPath   string
	NormalizedPath string
	Size           int64
}

// PatchBasisRecord is a verified (or about-to-be-verified) patch basis.
type PatchBasisRecord struct {
	LocalOutputPath string
	Size            int64
	QuickHash       uint64
}
