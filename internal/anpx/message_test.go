package anpx

import (
	"bytes"
	"testing"
)

func TestMessageEncodeDecodeRoundTrip(t *testing.T) {
	msg := NewMessage(MessageTypeHTTPRequest)
	msg.Add(TagRequestID, "req-42")
	meta := HTTPMeta{Method: "GET", Path: "/hello", Headers: map[string]string{"Host": "example.com"}, Query: map[string]string{}}
	metaJSON, err := meta.toJSON()
	if err != nil {
		t.Fatalf("toJSON: %v", err)
	}
	msg.AddBytes(TagHTTPMeta, metaJSON)
	msg.AddBytes(TagHTTPBody, []byte("hello world"))

	encoded := msg.Encode()

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	reqID, ok := decoded.RequestID()
	if !ok || reqID != "req-42" {
		t.Errorf("RequestID = (%q, %v), want (req-42, true)", reqID, ok)
	}

	decodedMeta, ok, err := decoded.HTTPMeta()
	if err != nil || !ok {
		t.Fatalf("HTTPMeta: ok=%v err=%v", ok, err)
	}
	if decodedMeta.Method != "GET" || decodedMeta.Path != "/hello" {
		t.Errorf("HTTPMeta = %+v", decodedMeta)
	}

	body, ok := decoded.Body()
	if !ok || !bytes.Equal(body, []byte("hello world")) {
		t.Errorf("Body = (%q, %v)", body, ok)
	}
}

func TestDecodeBodyCRCMismatch(t *testing.T) {
	msg := NewMessage(MessageTypeHTTPRequest)
	msg.Add(TagRequestID, "req-1")
	encoded := msg.Encode()

	// Corrupt a body byte without updating body_crc.
	encoded[headerSize] ^= 0xFF

	_, err := Decode(encoded)
	var perr *ProtocolError
	if !asProtocolError(err, &perr) || perr.Code != ErrBodyCRC {
		t.Fatalf("err = %v, want ErrBodyCRC", err)
	}
}

func TestDecodeTruncatedBody(t *testing.T) {
	msg := NewMessage(MessageTypeHTTPRequest)
	msg.Add(TagRequestID, "req-1")
	encoded := msg.Encode()

	_, err := Decode(encoded[:len(encoded)-2])
	var perr *ProtocolError
	if !asProtocolError(err, &perr) || perr.Code != ErrTruncatedTLV {
		t.Fatalf("err = %v, want ErrTruncatedTLV", err)
	}
}

func TestChunkInfo(t *testing.T) {
	msg := NewMessage(MessageTypeHTTPRequest)
	msg.AddUint32(TagChunkIndex, 2)
	msg.AddUint32(TagChunkTotal, 5)
	msg.AddBytes(TagFinalChunk, []byte{0x01})

	idx, total, hasIdx, hasTotal, final := msg.ChunkInfo()
	if idx != 2 || total != 5 || !hasIdx || !hasTotal || !final {
		t.Errorf("ChunkInfo = (%d, %d, %v, %v, %v)", idx, total, hasIdx, hasTotal, final)
	}
}
