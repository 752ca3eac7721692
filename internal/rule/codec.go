package rule

import (
	"encoding/json"
	"fmt"
)

// Codec converts rule values to and from their canonical byte encoding. The
// encoding must be deterministic: it is what gets digested and stored.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(raw []byte) (any, error)
}

// jsonCodec encodes values as JSON and decodes into a fresh instance
// produced by newValue. encoding/json serializes map keys sorted, which
// keeps the encoding canonical for the value shapes rules return.
type jsonCodec struct {
	newValue func() any
}

// JSONCodec returns a codec that decodes into the value produced by
// newValue, which must return a pointer.
func JSONCodec(newValue func() any) Codec {
	return &jsonCodec{newValue: newValue}
}

func (c *jsonCodec) Encode(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding rule value: %w", err)
	}
	return raw, nil
}

func (c *jsonCodec) Decode(raw []byte) (any, error) {
	v := c.newValue()
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, fmt.Errorf("decoding rule value: %w", err)
	}
	return v, nil
}

// bytesCodec passes raw bytes through unchanged.
type bytesCodec struct{}

// BytesCodec returns a codec for rules whose values already are []byte.
func BytesCodec() Codec {
	return bytesCodec{}
}

func (bytesCodec) Encode(v any) ([]byte, error) {
	raw, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("bytes codec got %T, want []byte", v)
	}
	return raw, nil
}

func (bytesCodec) Decode(raw []byte) (any, error) {
	return raw, nil
}
