package codec

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"wspreset/message"
)

// BinaryCodec lays an envelope out as length-prefixed fields:
//
//	clientCommand | serverCommand | clientMessageID | serverMessageID | clientId | originSocket
//	  (each: uint16 length + bytes)
//	timestamp   int64, unix milliseconds
//	content     uint32 length + JSON bytes (length 0 = no content)
type BinaryCodec struct {
	ReviveDates bool
}

var errShortBuffer = errors.New("BinaryCodec: short buffer")

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	// v must be *Envelope
	env, ok := v.(*message.Envelope)
	if !ok {
		return nil, errors.New("BinaryCodec: v must be *message.Envelope")
	}

	var content []byte
	if env.Content != nil {
		val := env.Content
		if c.ReviveDates {
			val = renderDates(val)
		}
		raw, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("BinaryCodec: content: %w", err)
		}
		content = raw
	}

	fields := []string{env.ClientCommand, env.ServerCommand, env.ClientMessageID, env.ServerMessageID, env.ClientID, env.OriginSocket}
	size := 8 + 4 + len(content)
	for _, f := range fields {
		if len(f) > math.MaxUint16 {
			return nil, fmt.Errorf("BinaryCodec: field too long (%d bytes)", len(f))
		}
		size += 2 + len(f)
	}

	buf := make([]byte, 0, size)
	for _, f := range fields {
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(f)))
		buf = append(buf, f...)
	}
	buf = binary.BigEndian.AppendUint64(buf, uint64(env.Timestamp.UnixMilli()))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(content)))
	buf = append(buf, content...)
	return buf, nil
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	env, ok := v.(*message.Envelope)
	if !ok {
		return errors.New("BinaryCodec: v must be *message.Envelope")
	}

	r := reader{data: data}
	var fields [6]string
	for i := range fields {
		s, err := r.str()
		if err != nil {
			return err
		}
		fields[i] = s
	}
	ms, err := r.uint64()
	if err != nil {
		return err
	}
	raw, err := r.blob()
	if err != nil {
		return err
	}
	if r.off != len(data) {
		return fmt.Errorf("BinaryCodec: %d trailing bytes", len(data)-r.off)
	}

	var content any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &content); err != nil {
			return fmt.Errorf("BinaryCodec: content: %w", err)
		}
		if c.ReviveDates {
			content = reviveDates(content)
		}
	}

	*env = message.Envelope{
		Content:         content,
		ClientCommand:   fields[0],
		ServerCommand:   fields[1],
		ClientMessageID: fields[2],
		ServerMessageID: fields[3],
		ClientID:        fields[4],
		OriginSocket:    fields[5],
		Timestamp:       time.UnixMilli(int64(ms)).UTC(),
	}
	return nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

type reader struct {
	data []byte
	off  int
}

func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || r.off+n > len(r.data) {
		return nil, errShortBuffer
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) str() (string, error) {
	b, err := r.take(2)
	if err != nil {
		return "", err
	}
	s, err := r.take(int(binary.BigEndian.Uint16(b)))
	if err != nil {
		return "", err
	}
	return string(s), nil
}

func (r *reader) uint64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *reader) blob() ([]byte, error) {
	b, err := r.take(4)
	if err != nil {
		return nil, err
	}
	return r.take(int(binary.BigEndian.Uint32(b)))
}
