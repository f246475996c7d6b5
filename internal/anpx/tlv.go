package anpx

import "encoding/binary"

// Tag identifies the meaning of a TLV field's value.
type Tag uint8

const (
	TagRequestID  Tag = 0x01
	TagHTTPMeta   Tag = 0x02
	TagHTTPBody   Tag = 0x03
	TagRespMeta   Tag = 0x04
	TagChunkIndex Tag = 0x0A
	TagChunkTotal Tag = 0x0B
	TagFinalChunk Tag = 0x0C
)

// tlvHeaderSize is tag(1) + length(4).
const tlvHeaderSize = 5

// TLVField is a single tag-length-value field within a message body.
type TLVField struct {
	Tag   Tag
	Value []byte
}

// Len returns the encoded size of this field including its 5-byte header.
func (f TLVField) Len() int { return tlvHeaderSize + len(f.Value) }

// Encode serializes the field as tag(1) + length(4, big-endian) + value.
func (f TLVField) Encode() []byte {
	buf := make([]byte, tlvHeaderSize+len(f.Value))
	buf[0] = byte(f.Tag)
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(f.Value)))
	copy(buf[5:], f.Value)
	return buf
}

// decodeTLVField decodes a single field at the given offset, returning the
// field and the offset of the next field. Unknown tags are still decoded
// (never rejected) — the caller decides whether to act on them.
func decodeTLVField(data []byte, offset int) (TLVField, int, error) {
	if len(data) < offset+tlvHeaderSize {
		return TLVField{}, 0, newErr(ErrTruncatedTLV, "insufficient data for tlv header")
	}
	tag := Tag(data[offset])
	length := binary.BigEndian.Uint32(data[offset+1 : offset+5])
	end := offset + tlvHeaderSize + int(length)
	if len(data) < end {
		return TLVField{}, 0, newErr(ErrTruncatedTLV, "insufficient data for tlv value")
	}
	value := make([]byte, length)
	copy(value, data[offset+tlvHeaderSize:end])
	return TLVField{Tag: tag, Value: value}, end, nil
}

func uint32Value(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func decodeUint32(b []byte) (uint32, bool) {
	if len(b) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(b), true
}
