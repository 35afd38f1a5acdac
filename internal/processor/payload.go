package processor

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/wj-modforge/modforge/internal/manifest"
	"github.com/wj-modforge/modforge/internal/store"
)

// decodeFromArchive unmarshals a stored FromArchive directive's payload.
func decodeFromArchive(d store.Directive) (manifest.FromArchiveDirective, error) {
	var payload manifest.FromArchiveDirective
	err := json.Unmarshal([]byte(d.Payload), &payload)
	return payload, errors.Wrapf(err, "unable to decode FromArchive payload for directive %d", d.ID)
}

// decodePatchedFromArchive unmarshals a stored PatchedFromArchive
// directive's payload.
func decodePatchedFromArchive(d store.Directive) (manifest.PatchedFromArchiveDirective, error) {
	var payload manifest.PatchedFromArchiveDirective
	err := json.Unmarshal([]byte(d.Payload), &payload)
	return payload, errors.Wrapf(err, "unable to decode PatchedFromArchive payload for directive %d", d.ID)
}

// decodeInlineFile unmarshals a stored InlineFile directive's payload.
func decodeInlineFile(d store.Directive) (manifest.InlineFileDirective, error) {
	var payload manifest.InlineFileDirective
	err := json.Unmarshal([]byte(d.Payload), &payload)
	return payload, errors.Wrapf(err, "unable to decode InlineFile payload for directive %d", d.ID)
}

// decodeRemappedInlineFile unmarshals a stored RemappedInlineFile
// directive's payload.
func decodeRemappedInlineFile(d store.Directive) (manifest.RemappedInlineFileDirective, error) {
	var payload manifest.RemappedInlineFileDirective
	err := json.Unmarshal([]byte(d.Payload), &payload)
	return payload, errors.Wrapf(err, "unable to decode RemappedInlineFile payload for directive %d", d.ID)
}

// decodeTransformedTexture unmarshals a stored TransformedTexture
// directive's payload.
func decodeTransformedTexture(d store.Directive) (manifest.TransformedTextureDirective, error) {
	var payload manifest.TransformedTextureDirective
	err := json.Unmarshal([]byte(d.Payload), &payload)
	return payload, errors.Wrapf(err, "unable to decode TransformedTexture payload for directive %d", d.ID)
}

// decodeCreateBSA unmarshals a stored CreateBSA directive's payload.
func decodeCreateBSA(d store.Directive) (manifest.CreateBSADirective, error) {
	var payload manifest.CreateBSADirective
	err := json.Unmarshal([]byte(d.Payload), &payload)
	return payload, errors.Wrapf(err, "unable to decode CreateBSA payload for directive %d", d.ID)
}
