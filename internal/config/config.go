// Package config reads the installer's environment-variable knobs,
// optionally loading a .env file first so a local CLI invocation or test
// run can set them without exporting shell variables.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds the four environment-variable knobs plus their defaults.
type Config struct {
	// SelectiveExtractThreshold is the maximum wanted-file count for which
	// selective extraction is attempted before falling back to a full
	// extraction of the archive.
	SelectiveExtractThreshold int
	// Solid7zSelectiveThreshold is the (lower) wanted-file count ceiling
	// applied specifically to solid 7z archives, which require scanning
	// large contiguous streams to reach any single member.
	Solid7zSelectiveThreshold int
	// PreloadPatchBlobs enables concurrently preloading delta blobs from a
	// private manifest reader during the patch phase, so the apply step
	// doesn't contend on the shared reader's mutex.
	PreloadPatchBlobs bool
	// BC1FallbackOnUnsupported, when set, substitutes a verbatim copy of the
	// source texture for any TransformedTexture directive whose target
	// pixel format has no encoder in the texture package, instead of
	// failing the directive outright.
	BC1FallbackOnUnsupported bool
}

const (
	defaultSelectiveExtractThreshold  = 25
	defaultSolid7zSelectiveThreshold  = 8
	defaultPreloadPatchBlobs          = true
	defaultBC1FallbackOnUnsupported   = true
)

// Load reads environment variables into a Config, applying defaults for any
// that are unset or unparsable. If a .env file exists in the current
// directory (or at the path named by the MODFORGE_DOTENV override), it is
// loaded first via godotenv; a missing .env file is not an error.
func Load() Config {
	dotenvPath := os.Getenv("MODFORGE_DOTENV")
	if dotenvPath == "" {
		dotenvPath = ".env"
	}
	_ = godotenv.Load(dotenvPath)

	return Config{
		SelectiveExtractThreshold: intEnv("SELECTIVE_EXTRACT_THRESHOLD", defaultSelectiveExtractThreshold),
		Solid7zSelectiveThreshold: intEnv("SOLID_7Z_SELECTIVE_THRESHOLD", defaultSolid7zSelectiveThreshold),
		PreloadPatchBlobs:         boolEnv("PRELOAD_PATCH_BLOBS", defaultPreloadPatchBlobs),
		BC1FallbackOnUnsupported:  boolEnv("BC1_FALLBACK_ON_UNSUPPORTED", defaultBC1FallbackOnUnsupported),
	}
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func boolEnv(name string, fallback bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return b
}
