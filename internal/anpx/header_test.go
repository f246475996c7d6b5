package anpx

import "testing"

func TestHeaderEncodeDecodeRoundTrip(t *testing.T) {
	h := &Header{MessageType: MessageTypeHTTPRequest, TotalLength: 100, BodyCRC: 0xdeadbeef}
	h.SetChunked(true)

	buf := h.Encode()
	if len(buf) != headerSize {
		t.Fatalf("encoded header length = %d, want %d", len(buf), headerSize)
	}

	decoded, err := DecodeHeader(buf)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if decoded.MessageType != h.MessageType {
		t.Errorf("MessageType = %v, want %v", decoded.MessageType, h.MessageType)
	}
	if !decoded.IsChunked() {
		t.Error("IsChunked = false, want true")
	}
	if decoded.TotalLength != h.TotalLength {
		t.Errorf("TotalLength = %d, want %d", decoded.TotalLength, h.TotalLength)
	}
	if decoded.BodyCRC != h.BodyCRC {
		t.Errorf("BodyCRC = %#x, want %#x", decoded.BodyCRC, h.BodyCRC)
	}
}

func TestDecodeHeaderBadMagic(t *testing.T) {
	buf := (&Header{MessageType: MessageTypeHTTPRequest}).Encode()
	buf[0] = 'X'

	_, err := DecodeHeader(buf)
	var perr *ProtocolError
	if !asProtocolError(err, &perr) || perr.Code != ErrBadMagic {
		t.Fatalf("err = %v, want ErrBadMagic", err)
	}
}

func TestDecodeHeaderCorruptedCRC(t *testing.T) {
	buf := (&Header{MessageType: MessageTypeHTTPRequest}).Encode()
	buf[13] ^= 0xFF

	_, err := DecodeHeader(buf)
	var perr *ProtocolError
	if !asProtocolError(err, &perr) || perr.Code != ErrHeaderCRC {
		t.Fatalf("err = %v, want ErrHeaderCRC", err)
	}
}

func TestDecodeHeaderTruncated(t *testing.T) {
	_, err := DecodeHeader(make([]byte, 10))
	var perr *ProtocolError
	if !asProtocolError(err, &perr) || perr.Code != ErrTruncatedHeader {
		t.Fatalf("err = %v, want ErrTruncatedHeader", err)
	}
}

func asProtocolError(err error, target **ProtocolError) bool {
	perr, ok := err.(*ProtocolError)
	if !ok {
		return false
	}
	*target = perr
	return true
}
