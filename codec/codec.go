// Package codec turns envelopes into transport payloads and back.
//
// JSON is the default and what browsers and other WebSocket peers speak.
// Binary is a compact layout used by the framed TCP transport when both
// endpoints are this library.
package codec

import "fmt"

type CodecType byte

const (
	CodecTypeJSON   CodecType = 0
	CodecTypeBinary CodecType = 1
)

func (t CodecType) String() string {
	switch t {
	case CodecTypeJSON:
		return "json"
	case CodecTypeBinary:
		return "binary"
	}
	return fmt.Sprintf("codec(%d)", byte(t))
}

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType // 0=JSON, 1=Binary
}

// GetCodec returns a codec of the given type. reviveDates turns on ISO date
// promotion for content values (see JSONCodec).
func GetCodec(codecType CodecType, reviveDates bool) Codec {
	if codecType == CodecTypeBinary {
		return &BinaryCodec{ReviveDates: reviveDates}
	}
	return &JSONCodec{ReviveDates: reviveDates}
}

// ParseType maps a config name to a CodecType.
func ParseType(name string) (CodecType, error) {
	switch name {
	case "", "json":
		return CodecTypeJSON, nil
	case "binary":
		return CodecTypeBinary, nil
	}
	return 0, fmt.Errorf("codec: unknown codec %q", name)
}
