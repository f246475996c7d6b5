package anpx

import (
	"bytes"
	"testing"
)

func TestTLVFieldEncodeDecode(t *testing.T) {
	f := TLVField{Tag: TagRequestID, Value: []byte("req-1")}
	buf := f.Encode()

	decoded, next, err := decodeTLVField(buf, 0)
	if err != nil {
		t.Fatalf("decodeTLVField: %v", err)
	}
	if next != len(buf) {
		t.Errorf("next = %d, want %d", next, len(buf))
	}
	if decoded.Tag != f.Tag {
		t.Errorf("Tag = %v, want %v", decoded.Tag, f.Tag)
	}
	if !bytes.Equal(decoded.Value, f.Value) {
		t.Errorf("Value = %q, want %q", decoded.Value, f.Value)
	}
}

func TestTLVFieldUnknownTagStillDecodes(t *testing.T) {
	f := TLVField{Tag: Tag(0x7F), Value: []byte("whatever")}
	buf := f.Encode()

	decoded, _, err := decodeTLVField(buf, 0)
	if err != nil {
		t.Fatalf("decodeTLVField: %v", err)
	}
	if decoded.Tag != Tag(0x7F) {
		t.Errorf("Tag = %v, want 0x7F", decoded.Tag)
	}
}

func TestDecodeTLVFieldTruncatedHeader(t *testing.T) {
	_, _, err := decodeTLVField([]byte{0x01, 0x00}, 0)
	var perr *ProtocolError
	if !asProtocolError(err, &perr) || perr.Code != ErrTruncatedTLV {
		t.Fatalf("err = %v, want ErrTruncatedTLV", err)
	}
}

func TestDecodeTLVFieldTruncatedValue(t *testing.T) {
	buf := TLVField{Tag: TagRequestID, Value: []byte("hello")}.Encode()
	_, _, err := decodeTLVField(buf[:len(buf)-2], 0)
	var perr *ProtocolError
	if !asProtocolError(err, &perr) || perr.Code != ErrTruncatedTLV {
		t.Fatalf("err = %v, want ErrTruncatedTLV", err)
	}
}

func TestUint32RoundTrip(t *testing.T) {
	b := uint32Value(42)
	v, ok := decodeUint32(b)
	if !ok || v != 42 {
		t.Fatalf("decodeUint32 = (%d, %v), want (42, true)", v, ok)
	}
}
