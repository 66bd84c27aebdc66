package model

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// Metadata is the sidecar JSON written alongside every downloaded model
// blob: "{id}_metadata.json" per spec.md §6. It round-trips a Descriptor
// plus the download timestamp.
type Metadata struct {
	Model        Descriptor `json:"model"`
	DownloadedAt time.Time  `json:"downloadedAt"`
}

// SidecarPath returns the conventional sidecar path for a descriptor
// colocated with its blob at dir.
func SidecarPath(dir, id string) string {
	return fmt.Sprintf("%s/%s_metadata.json", dir, id)
}

// WriteMetadata serializes m as the sidecar JSON to path.
func WriteMetadata(path string, m Metadata) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("model: write metadata %q: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("model: encode metadata %q: %w", path, err)
	}
	return nil
}

// ReadMetadata parses the sidecar JSON at path.
func ReadMetadata(path string) (Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("model: read metadata %q: %w", path, err)
	}
	defer f.Close()
	return ReadMetadataFrom(f)
}

// ReadMetadataFrom parses sidecar JSON from r. Exposed separately from
// ReadMetadata so tests can supply an in-memory reader without touching the
// filesystem, matching the teacher's config.LoadFromReader split.
func ReadMetadataFrom(r io.Reader) (Metadata, error) {
	var m Metadata
	dec := json.NewDecoder(r)
	if err := dec.Decode(&m); err != nil {
		return Metadata{}, fmt.Errorf("model: decode metadata: %w", err)
	}
	return m, nil
}
