package artifact

import (
	"bytes"
	"compress/gzip"
	"encoding/gob"
	"fmt"
	"io"
	"time"

	"github.com/timebloom/backend/pkg/utils"
)

// Metadata describes an encoded artifact.
type Metadata struct {
	Name      string
	Version   int
	SavedAt   time.Time
	Samples   int
	Checksum  string
	SizeBytes int
}

type envelope struct {
	Metadata       Metadata
	CompressedData []byte
}

// Encode gob-encodes v, records a SHA-256 checksum of the raw payload and
// gzips it into a self-describing blob.
func Encode(v any, meta Metadata) ([]byte, error) {
	var raw bytes.Buffer
	if err := gob.NewEncoder(&raw).Encode(v); err != nil {
		return nil, fmt.Errorf("failed to encode artifact %s: %w", meta.Name, err)
	}

	var compressed bytes.Buffer
	gzw := gzip.NewWriter(&compressed)
	if _, err := gzw.Write(raw.Bytes()); err != nil {
		return nil, fmt.Errorf("failed to compress artifact %s: %w", meta.Name, err)
	}
	if err := gzw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize artifact %s: %w", meta.Name, err)
	}

	meta.Checksum = utils.Checksum(raw.Bytes())
	meta.SizeBytes = compressed.Len()
	if meta.SavedAt.IsZero() {
		meta.SavedAt = time.Now().UTC()
	}

	var out bytes.Buffer
	if err := gob.NewEncoder(&out).Encode(envelope{Metadata: meta, CompressedData: compressed.Bytes()}); err != nil {
		return nil, fmt.Errorf("failed to write artifact envelope %s: %w", meta.Name, err)
	}
	return out.Bytes(), nil
}

// Decode verifies blob and decodes its payload into target. Any structural
// or checksum problem is reported as ErrCorrupt.
func Decode(blob []byte, target any) (*Metadata, error) {
	var env envelope
	if err := gob.NewDecoder(bytes.NewReader(blob)).Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: read envelope: %v", ErrCorrupt, err)
	}

	gzr, err := gzip.NewReader(bytes.NewReader(env.CompressedData))
	if err != nil {
		return nil, fmt.Errorf("%w: decompress: %v", ErrCorrupt, err)
	}
	defer gzr.Close()

	raw, err := io.ReadAll(gzr)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress: %v", ErrCorrupt, err)
	}

	if sum := utils.Checksum(raw); sum != env.Metadata.Checksum {
		return nil, fmt.Errorf("%w: checksum mismatch for %s", ErrCorrupt, env.Metadata.Name)
	}

	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(target); err != nil {
		return nil, fmt.Errorf("%w: decode payload: %v", ErrCorrupt, err)
	}
	return &env.Metadata, nil
}
