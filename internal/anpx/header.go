package anpx

import "encoding/binary"

// MessageType identifies the kind of payload carried in the TLV body.
type MessageType uint8

const (
	MessageTypeHTTPRequest  MessageType = 0x01
	MessageTypeHTTPResponse MessageType = 0x02
	MessageTypeError        MessageType = 0xFF
)

const (
	magic      = "ANPX"
	version    = 0x01
	headerSize = 24
	// The header CRC covers magic(4) + version(1) + msgtype(1) + flags(1) +
	// reserved(1) + total_len(4); header_crc(4) and body_crc(4) follow it.
	headerCRCRegion = 12
	flagChunked     = 0x01
)

// Header is the fixed 24-byte ANPX frame header.
type Header struct {
	MessageType MessageType
	Flags       uint8
	TotalLength uint32
	HeaderCRC   uint32
	BodyCRC     uint32
}

// IsChunked reports whether the chunked flag bit is set.
func (h *Header) IsChunked() bool { return h.Flags&flagChunked != 0 }

// SetChunked sets or clears the chunked flag bit.
func (h *Header) SetChunked(chunked bool) {
	if chunked {
		h.Flags |= flagChunked
	} else {
		h.Flags &^= flagChunked
	}
}

// Encode serializes the header to exactly 24 bytes, computing HeaderCRC over
// the first 12 bytes with the CRC field itself held at zero.
func (h *Header) Encode() []byte {
	buf := make([]byte, headerSize)
	copy(buf[0:4], magic)
	buf[4] = version
	buf[5] = byte(h.MessageType)
	buf[6] = h.Flags
	buf[7] = 0 // reserved
	binary.BigEndian.PutUint32(buf[8:12], h.TotalLength)
	binary.BigEndian.PutUint32(buf[12:16], 0) // placeholder for header_crc
	binary.BigEndian.PutUint32(buf[16:20], h.BodyCRC)

	h.HeaderCRC = checksum(buf[:headerCRCRegion])
	binary.BigEndian.PutUint32(buf[12:16], h.HeaderCRC)

	return buf
}

// DecodeHeader parses and validates a 24-byte ANPX header.
func DecodeHeader(data []byte) (*Header, error) {
	if len(data) < headerSize {
		return nil, newErr(ErrTruncatedHeader, "need 24 bytes")
	}

	if string(data[0:4]) != magic {
		return nil, newErr(ErrBadMagic, string(data[0:4]))
	}
	if data[4] != version {
		return nil, newErr(ErrUnsupportedVersion, "")
	}

	msgType := MessageType(data[5])
	flags := data[6]
	totalLen := binary.BigEndian.Uint32(data[8:12])
	headerCRC := binary.BigEndian.Uint32(data[12:16])
	bodyCRC := binary.BigEndian.Uint32(data[16:20])

	if !verifyChecksum(data[:headerCRCRegion], headerCRC) {
		return nil, newErr(ErrHeaderCRC, "")
	}

	return &Header{
		MessageType: msgType,
		Flags:       flags,
		TotalLength: totalLen,
		HeaderCRC:   headerCRC,
		BodyCRC:     bodyCRC,
	}, nil
}
