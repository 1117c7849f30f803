package protocol

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestEncodeDecode(t *testing.T) {
	header := Header{
		CodecType: CodecTypeJSON,
		MsgType:   MsgTypeData,
		Seq:       12345,
		BodyLen:   11,
	}
	body := []byte("hello world")

	var buf bytes.Buffer
	if err := Encode(&buf, &header, body); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if buf.Len() != HeaderSize+len(body) {
		t.Fatalf("frame size mismatch: got %d", buf.Len())
	}

	decodedHeader, decodedBody, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if *decodedHeader != header {
		t.Errorf("Header mismatch: got %+v, want %+v", *decodedHeader, header)
	}
	if !bytes.Equal(decodedBody, body) {
		t.Errorf("Body mismatch: got %s, want %s", string(decodedBody), string(body))
	}
}

func TestPingPongFrames(t *testing.T) {
	var buf bytes.Buffer
	// 心跳帧没有 body，只靠 Seq 对应 ping 和 pong
	if err := Encode(&buf, &Header{MsgType: MsgTypePing, Seq: 7}, nil); err != nil {
		t.Fatal(err)
	}
	if err := Encode(&buf, &Header{MsgType: MsgTypePong, Seq: 7}, nil); err != nil {
		t.Fatal(err)
	}

	ping, body, err := Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if ping.MsgType != MsgTypePing || ping.Seq != 7 || len(body) != 0 {
		t.Fatalf("unexpected ping frame %+v", ping)
	}
	pong, _, err := Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if pong.MsgType != MsgTypePong || pong.Seq != ping.Seq {
		t.Fatalf("pong must echo ping seq, got %+v", pong)
	}
}

func TestDecodeInvalidMagic(t *testing.T) {
	invalidHeader := []byte{0x00, 0x00, 0x00, Version, CodecTypeJSON, byte(MsgTypeData), 0x00, 0x00, 0x30, 0x39, 0x00, 0x00, 0x00, 0x0B}
	var buf bytes.Buffer
	buf.Write(invalidHeader)
	buf.Write([]byte("hello world"))

	_, _, err := Decode(&buf)
	if err == nil {
		t.Fatal("Expected error for invalid magic number, but got nil")
	}
	if !bytes.Contains([]byte(err.Error()), []byte("invalid magic number")) {
		t.Errorf("Error message should contain 'invalid magic', instead: %v", err)
	}
}

func TestDecodeInvalidVersion(t *testing.T) {
	var buf bytes.Buffer
	// 手动构造错误 Version 的帧
	buf.Write([]byte{
		MagicNumber, MagicByte2, MagicByte3,
		0xFF,
		CodecTypeJSON,
		byte(MsgTypeData),
		0, 0, 0, 1,
		0, 0, 0, 0,
	})

	_, _, err := Decode(&buf)
	if err == nil || !bytes.Contains([]byte(err.Error()), []byte("unsupported version")) {
		t.Fatalf("expect unsupported version error, got %v", err)
	}
}

func TestDecodeUnknownMsgType(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{MagicNumber, MagicByte2, MagicByte3, Version, CodecTypeJSON, 0x09, 0, 0, 0, 1, 0, 0, 0, 0})
	if _, _, err := Decode(&buf); err == nil {
		t.Fatal("expect error for unknown message type")
	}
}

func TestDecodeOversizedBody(t *testing.T) {
	frame := []byte{MagicNumber, MagicByte2, MagicByte3, Version, CodecTypeBinary, byte(MsgTypeData), 0, 0, 0, 1, 0, 0, 0, 0}
	binary.BigEndian.PutUint32(frame[10:14], MaxBodyLen+1)
	if _, _, err := Decode(bytes.NewReader(frame)); err == nil {
		t.Fatal("expect error for oversized body")
	}
}

func TestEncodeLengthMismatch(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, &Header{MsgType: MsgTypeData, BodyLen: 3}, []byte("hello")); err == nil {
		t.Fatal("expect error when BodyLen disagrees with body")
	}
	if buf.Len() != 0 {
		t.Fatal("nothing must be written on error")
	}
}

func TestDecodeLargeBody(t *testing.T) {
	var buf bytes.Buffer
	largeBody := make([]byte, 1024*1024)
	for i := range largeBody {
		largeBody[i] = byte(i % 256)
	}
	header := &Header{
		CodecType: CodecTypeBinary,
		MsgType:   MsgTypeData,
		Seq:       999,
		BodyLen:   uint32(len(largeBody)),
	}
	if err := Encode(&buf, header, largeBody); err != nil {
		t.Fatalf("Encode 失败: %v", err)
	}
	_, decodedBody, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode 失败: %v", err)
	}
	if !bytes.Equal(decodedBody, largeBody) {
		t.Errorf("大消息体内容不匹配")
	}
}
