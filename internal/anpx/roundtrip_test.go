package anpx

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
)

// decodeAll pushes every encoded frame through Decode and, when chunked,
// the assembler, returning the final reassembled message.
func decodeAll(t *testing.T, msgs []*Message) *Message {
	t.Helper()
	asm := NewChunkAssembler()
	var final *Message
	for _, m := range msgs {
		decoded, err := Decode(m.Encode())
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if !decoded.Header.IsChunked() {
			final = decoded
			continue
		}
		id, ok := decoded.RequestID()
		if !ok {
			t.Fatal("chunk missing request id")
		}
		final, err = asm.AddChunk(id, decoded)
		if err != nil {
			t.Fatalf("AddChunk: %v", err)
		}
	}
	if final == nil {
		t.Fatal("no complete message assembled")
	}
	return final
}

func TestRequestRoundTripAcrossBodySizes(t *testing.T) {
	const chunk = 1024
	enc := NewEncoder(chunk)
	meta := HTTPMeta{
		Method:  "POST",
		Path:    "/round/trip",
		Headers: map[string]string{"content-type": "application/octet-stream"},
		Query:   map[string]string{"q": "1"},
	}

	for _, size := range []int{0, 1, chunk - 1, chunk, chunk + 1, 10 * chunk} {
		t.Run(fmt.Sprintf("size_%d", size), func(t *testing.T) {
			body := bytes.Repeat([]byte{0xAB}, size)
			msgs, err := enc.EncodeHTTPRequest("req-roundtrip", meta, body)
			if err != nil {
				t.Fatalf("EncodeHTTPRequest: %v", err)
			}

			final := decodeAll(t, msgs)
			if final.Header.MessageType != MessageTypeHTTPRequest {
				t.Errorf("type = %#x, want request", final.Header.MessageType)
			}
			id, _ := final.RequestID()
			if id != "req-roundtrip" {
				t.Errorf("request id = %q", id)
			}
			gotMeta, has, err := final.HTTPMeta()
			if err != nil || !has {
				t.Fatalf("HTTPMeta: has=%v err=%v", has, err)
			}
			if gotMeta.Method != meta.Method || gotMeta.Path != meta.Path {
				t.Errorf("meta = %+v", gotMeta)
			}
			if gotMeta.Query["q"] != "1" {
				t.Errorf("query = %v", gotMeta.Query)
			}
			gotBody, _ := final.Body()
			if !bytes.Equal(gotBody, body) {
				t.Errorf("body mismatch: got %d bytes, want %d", len(gotBody), len(body))
			}
		})
	}
}

func TestResponseRoundTripAcrossBodySizes(t *testing.T) {
	const chunk = 1024
	enc := NewEncoder(chunk)
	meta := ResponseMeta{
		Status:  200,
		Reason:  "OK",
		Headers: map[string]string{"content-type": "text/plain"},
	}

	for _, size := range []int{0, chunk - 1, chunk + 1, 10 * chunk} {
		t.Run(fmt.Sprintf("size_%d", size), func(t *testing.T) {
			body := bytes.Repeat([]byte{0x5C}, size)
			msgs, err := enc.EncodeHTTPResponse("resp-roundtrip", meta, body)
			if err != nil {
				t.Fatalf("EncodeHTTPResponse: %v", err)
			}

			final := decodeAll(t, msgs)
			gotMeta, has, err := final.ResponseMeta()
			if err != nil || !has {
				t.Fatalf("ResponseMeta: has=%v err=%v", has, err)
			}
			if gotMeta.Status != 200 || gotMeta.Reason != "OK" {
				t.Errorf("meta = %+v", gotMeta)
			}
			gotBody, _ := final.Body()
			if !bytes.Equal(gotBody, body) {
				t.Errorf("body mismatch: got %d bytes, want %d", len(gotBody), len(body))
			}
		})
	}
}

func TestDecodeRejectsSingleBitCorruption(t *testing.T) {
	msg := NewMessage(MessageTypeHTTPRequest)
	msg.Add(TagRequestID, "req-corrupt")
	msg.AddBytes(TagHTTPBody, []byte("payload-bytes"))
	frame := msg.Encode()

	cases := []struct {
		name     string
		offset   int
		wantCode ErrorCode
	}{
		{"header crc slot", 12, ErrHeaderCRC},
		{"body crc slot", 16, ErrBodyCRC},
		{"body byte", headerSize + 7, ErrBodyCRC},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			corrupted := append([]byte(nil), frame...)
			corrupted[tc.offset] ^= 0x01

			_, err := Decode(corrupted)
			var perr *ProtocolError
			if !errors.As(err, &perr) {
				t.Fatalf("err = %v, want ProtocolError", err)
			}
			if perr.Code != tc.wantCode {
				t.Errorf("code = %v, want %v", perr.Code, tc.wantCode)
			}
		})
	}
}

func TestDecodeToleratesUnknownTagInFrame(t *testing.T) {
	msg := NewMessage(MessageTypeHTTPRequest)
	msg.Add(TagRequestID, "req-unknown-tag")
	msg.AddBytes(Tag(0xEE), []byte{0xDE, 0xAD, 0xBE, 0xEF})
	msg.AddBytes(TagHTTPBody, []byte("still here"))

	decoded, err := Decode(msg.Encode())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	id, _ := decoded.RequestID()
	if id != "req-unknown-tag" {
		t.Errorf("request id = %q", id)
	}
	body, _ := decoded.Body()
	if string(body) != "still here" {
		t.Errorf("body = %q", body)
	}
}
