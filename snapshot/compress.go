package snapshot

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
)

// Kind identifies how a snapshot blob is encoded at rest.
type Kind string

const (
	// KindGzip is the default for anything above minCompressSize.
	KindGzip Kind = "gzip"
	// KindNone stores the serialized state verbatim. Tiny states spend
	// more on gzip framing than they save.
	KindNone Kind = "none"
)

// minCompressSize is the uncompressed size below which compression is
// skipped entirely.
const minCompressSize = 1024

func compress(data []byte) ([]byte, Kind, error) {
	if len(data) < minCompressSize {
		return data, KindNone, nil
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, "", fmt.Errorf("snapshot: gzip write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, "", fmt.Errorf("snapshot: gzip close: %w", err)
	}
	return buf.Bytes(), KindGzip, nil
}

func decompress(blob []byte, kind Kind) ([]byte, error) {
	switch kind {
	case KindNone:
		return blob, nil
	case KindGzip:
		zr, err := gzip.NewReader(bytes.NewReader(blob))
		if err != nil {
			return nil, fmt.Errorf("snapshot: gzip open: %w", err)
		}
		defer zr.Close()
		data, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("snapshot: gzip read: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("snapshot: unknown compression kind %q", kind)
	}
}
