package storage

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// snapshotCodec encodes sitemap snapshots, optionally zstd-compressed.
type snapshotCodec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newSnapshotCodec() (*snapshotCodec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &snapshotCodec{encoder: enc, decoder: dec}, nil
}

func (c *snapshotCodec) encode(v any, compress bool) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	if !compress {
		return data, nil
	}
	return c.encoder.EncodeAll(data, nil), nil
}

func (c *snapshotCodec) decode(data []byte, compressed bool, v any) error {
	if compressed {
		raw, err := c.decoder.DecodeAll(data, nil)
		if err != nil {
			return fmt.Errorf("decompress snapshot: %w", err)
		}
		data = raw
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return nil
}

func (c *snapshotCodec) close() {
	c.encoder.Close()
	c.decoder.Close()
}
