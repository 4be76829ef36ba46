package events

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	cmssync "github.com/dgnsrekt/cms-sync/internal/sync"
)

// Encoder converts sync events to wire format: plain JSON, or a
// protobuf Struct compressed with Zstd.
type Encoder struct {
	zstdEncoder *zstd.Encoder
}

func NewEncoder() (*Encoder, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	return &Encoder{zstdEncoder: enc}, nil
}

func (e *Encoder) EncodeJSON(ev cmssync.Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event json: %w", err)
	}
	return data, nil
}

// EncodeProtobuf converts an event to a Zstd-compressed google.protobuf.Struct.
func (e *Encoder) EncodeProtobuf(ev cmssync.Event) ([]byte, error) {
	// 1. Flatten through JSON so the Struct carries the same field names
	jsonData, err := e.EncodeJSON(ev)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(jsonData, &fields); err != nil {
		return nil, fmt.Errorf("unmarshal event fields: %w", err)
	}

	// 2. Convert to protobuf
	pbMsg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("build struct: %w", err)
	}

	// 3. Serialize to protobuf bytes
	pbData, err := proto.Marshal(pbMsg)
	if err != nil {
		return nil, fmt.Errorf("marshal protobuf: %w", err)
	}

	// 4. Compress with Zstd
	return e.zstdEncoder.EncodeAll(pbData, nil), nil
}

// DecodeProtobuf reverses EncodeProtobuf. Subscribers written in Go use it
// to read binary frames.
func DecodeProtobuf(data []byte) (*structpb.Struct, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer dec.Close()

	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}

	var msg structpb.Struct
	if err := proto.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal protobuf: %w", err)
	}
	return &msg, nil
}

// Close releases encoder resources.
func (e *Encoder) Close() {
	if e.zstdEncoder != nil {
		e.zstdEncoder.Close()
	}
}
