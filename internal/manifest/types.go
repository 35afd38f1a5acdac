// Package manifest defines the JSON schema embedded in a manifest archive
// and the reader that opens that archive to pull out the modlist JSON,
// inline blobs, and delta blobs by id.
package manifest

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Modlist is the root of the parsed manifest JSON.
type Modlist struct {
	Name             string      `json:"Name"`
	Author           string      `json:"Author"`
	Description      string      `json:"Description"`
	Version          string      `json:"Version"`
	ManifestVersion  string      `json:"WabbajackVersion"`
	GameType         string      `json:"GameType"`
	Archives         []Archive   `json:"Archives"`
	Directives       []Directive `json:"Directives"`
}

// Archive is a single download record.
type Archive struct {
	Hash  string          `json:"Hash"`
	Meta  string          `json:"Meta"`
	Name  string          `json:"Name"`
	Size  int64           `json:"Size"`
	State json.RawMessage `json:"State"`
}

// DirectiveKind discriminates the six directive variants.
type DirectiveKind string

const (
	KindFromArchive         DirectiveKind = "FromArchive"
	KindPatchedFromArchive  DirectiveKind = "PatchedFromArchive"
	KindInlineFile          DirectiveKind = "InlineFile"
	KindRemappedInlineFile  DirectiveKind = "RemappedInlineFile"
	KindTransformedTexture  DirectiveKind = "TransformedTexture"
	KindCreateBSA           DirectiveKind = "CreateBSA"
)

// rawDirective is used only to sniff the discriminator before unmarshaling
// into the concrete variant type.
type rawDirective struct {
	Type string `json:"$type"`
}

// Directive is the common envelope every directive variant satisfies. The
// concrete Payload is one of the *Directive structs below.
type Directive struct {
	Kind    DirectiveKind
	To      string
	Hash    string
	Size    int64
	Payload interface{}
}

// FromArchiveDirective extracts a file directly from a source archive.
// ArchiveHashPath has length 1 (whole-file), 2 (simple in-archive path), or
// 3 (nested Bethesda archive).
type FromArchiveDirective struct {
	To              string   `json:"To"`
	Hash            string   `json:"Hash"`
	Size            int64    `json:"Size"`
	ArchiveHashPath []string `json:"ArchiveHashPath"`
}

// PatchedFromArchiveDirective extracts a basis file then applies a delta.
type PatchedFromArchiveDirective struct {
	To              string   `json:"To"`
	Hash            string   `json:"Hash"`
	Size            int64    `json:"Size"`
	ArchiveHashPath []string `json:"ArchiveHashPath"`
	FromHash        string   `json:"FromHash"`
	PatchID         string   `json:"PatchID"`
}

// InlineFileDirective writes a blob embedded directly in the manifest
// archive, named by SourceDataID.
type InlineFileDirective struct {
	To           string `json:"To"`
	Hash         string `json:"Hash"`
	Size         int64  `json:"Size"`
	SourceDataID string `json:"SourceDataID"`
}

// RemappedInlineFileDirective is an InlineFileDirective that additionally
// undergoes token substitution before being written.
type RemappedInlineFileDirective struct {
	To           string `json:"To"`
	Hash         string `json:"Hash"`
	Size         int64  `json:"Size"`
	SourceDataID string `json:"SourceDataID"`
}

// ImageState describes the target format for a TransformedTextureDirective.
type ImageState struct {
	Width     uint32 `json:"Width"`
	Height    uint32 `json:"Height"`
	Format    string `json:"Format"`
	MipLevels uint32 `json:"MipLevels"`
}

// TransformedTextureDirective decodes, resizes, and re-encodes a DDS
// texture.
type TransformedTextureDirective struct {
	To              string     `json:"To"`
	Hash            string     `json:"Hash"`
	Size            int64      `json:"Size"`
	ArchiveHashPath []string   `json:"ArchiveHashPath"`
	ImageState      ImageState `json:"ImageState"`
}

// BSAFileState is one file's placement and flags within a to-be-built
// BSA/BA2.
type BSAFileState struct {
	Path  string `json:"Path"`
	Index int    `json:"Index"`
	// DX10 holds per-chunk mip layout for BA2 texture entries; nil for
	// general-purpose (GNRL) entries.
	DX10  []DX10Chunk `json:"DX10,omitempty"`
	Flags uint32      `json:"Flags"`
}

// DX10Chunk is a single mip-chunk layout entry for a BA2 DX10 texture file.
type DX10Chunk struct {
	FullSize     uint32 `json:"FullSize"`
	StartMip     uint16 `json:"StartMip"`
	EndMip       uint16 `json:"EndMip"`
	Align        uint16 `json:"Align"`
	Compressed   bool   `json:"Compressed"`
}

// CreateBSADirective builds a Bethesda archive from files staged by earlier
// directives under TEMP_BSA_FILES/<TempID>.
type CreateBSADirective struct {
	To         string         `json:"To"`
	Hash       string         `json:"Hash"`
	TempID     string         `json:"TempID"`
	FileStates []BSAFileState `json:"FileStates"`
	// Format is "BSA" or "BA2".
	Format  string `json:"Format"`
	Version uint32 `json:"Version"`
	// BA2Type is "GNRL" or "DX10"; only meaningful when Format == "BA2".
	BA2Type       string `json:"BA2Type"`
	ArchiveFlags  uint32 `json:"ArchiveFlags"`
	FileFlags     uint32 `json:"FileFlags"`
	HasNameTable  bool   `json:"HasNameTable"`
}

// UnmarshalJSON dispatches on the $type discriminator, failing loudly for
// any variant it doesn't recognize rather than silently dropping it.
func (d *Directive) UnmarshalJSON(data []byte) error {
	var raw rawDirective
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "unable to read directive discriminator")
	}

	d.Kind = DirectiveKind(raw.Type)
	switch d.Kind {
	case KindFromArchive:
		var payload FromArchiveDirective
		if err := json.Unmarshal(data, &payload); err != nil {
			return errors.Wrap(err, "unable to decode FromArchive directive")
		}
		d.To, d.Hash, d.Size, d.Payload = payload.To, payload.Hash, payload.Size, payload
	case KindPatchedFromArchive:
		var payload PatchedFromArchiveDirective
		if err := json.Unmarshal(data, &payload); err != nil {
			return errors.Wrap(err, "unable to decode PatchedFromArchive directive")
		}
		d.To, d.Hash, d.Size, d.Payload = payload.To, payload.Hash, payload.Size, payload
	case KindInlineFile:
		var payload InlineFileDirective
		if err := json.Unmarshal(data, &payload); err != nil {
			return errors.Wrap(err, "unable to decode InlineFile directive")
		}
		d.To, d.Hash, d.Size, d.Payload = payload.To, payload.Hash, payload.Size, payload
	case KindRemappedInlineFile:
		var payload RemappedInlineFileDirective
		if err := json.Unmarshal(data, &payload); err != nil {
			return errors.Wrap(err, "unable to decode RemappedInlineFile directive")
		}
		d.To, d.Hash, d.Size, d.Payload = payload.To, payload.Hash, payload.Size, payload
	case KindTransformedTexture:
		var payload TransformedTextureDirective
		if err := json.Unmarshal(data, &payload); err != nil {
			return errors.Wrap(err, "unable to decode TransformedTexture directive")
		}
		d.To, d.Hash, d.Size, d.Payload = payload.To, payload.Hash, payload.Size, payload
	case KindCreateBSA:
		var payload CreateBSADirective
		if err := json.Unmarshal(data, &payload); err != nil {
			return errors.Wrap(err, "unable to decode CreateBSA directive")
		}
		// CreateBSA has no single declared Size; its output size is only
		// known once the archive is built.
		d.To, d.Hash, d.Size, d.Payload = payload.To, payload.Hash, 0, payload
	default:
		return errors.Errorf("unrecognized directive variant %q", raw.Type)
	}
	return nil
}
