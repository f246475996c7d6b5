package anpx

import "encoding/json"

// HTTPMeta carries a forwarded HTTP request's line and headers across the
// tunnel (TagHTTPMeta, JSON-encoded).
type HTTPMeta struct {
	Method  string            `json:"method"`
	Path    string            `json:"path"`
	Headers map[string]string `json:"headers"`
	Query   map[string]string `json:"query"`
}

func (m HTTPMeta) toJSON() ([]byte, error) { return json.Marshal(m) }

func httpMetaFromJSON(b []byte) (HTTPMeta, error) {
	var m HTTPMeta
	if err := json.Unmarshal(b, &m); err != nil {
		return HTTPMeta{}, err
	}
	if m.Headers == nil {
		m.Headers = map[string]string{}
	}
	if m.Query == nil {
		m.Query = map[string]string{}
	}
	return m, nil
}

// ResponseMeta carries a backend's HTTP response line and headers back
// across the tunnel (TagRespMeta, JSON-encoded).
type ResponseMeta struct {
	Status  int               `json:"status"`
	Reason  string            `json:"reason"`
	Headers map[string]string `json:"headers"`
}

func (m ResponseMeta) toJSON() ([]byte, error) { return json.Marshal(m) }

func respMetaFromJSON(b []byte) (ResponseMeta, error) {
	var m ResponseMeta
	if err := json.Unmarshal(b, &m); err != nil {
		return ResponseMeta{}, err
	}
	if m.Headers == nil {
		m.Headers = map[string]string{}
	}
	return m, nil
}

// Message is a complete decoded (or to-be-encoded) ANPX frame: a header plus
// its ordered TLV fields.
type Message struct {
	Header *Header
	Fields []TLVField
}

// NewMessage creates an empty message of the given type with a zeroed header.
func NewMessage(msgType MessageType) *Message {
	return &Message{Header: &Header{MessageType: msgType}}
}

// Add appends a string-valued TLV field.
func (m *Message) Add(tag Tag, value string) {
	m.Fields = append(m.Fields, TLVField{Tag: tag, Value: []byte(value)})
}

// AddBytes appends an opaque-bytes TLV field.
func (m *Message) AddBytes(tag Tag, value []byte) {
	m.Fields = append(m.Fields, TLVField{Tag: tag, Value: value})
}

// AddUint32 appends a 4-byte big-endian integer TLV field.
func (m *Message) AddUint32(tag Tag, value uint32) {
	m.Fields = append(m.Fields, TLVField{Tag: tag, Value: uint32Value(value)})
}

// Field returns the first field with the given tag, if any.
func (m *Message) Field(tag Tag) (TLVField, bool) {
	for _, f := range m.Fields {
		if f.Tag == tag {
			return f, true
		}
	}
	return TLVField{}, false
}

// String returns the first field with the given tag decoded as UTF-8.
func (m *Message) String(tag Tag) (string, bool) {
	f, ok := m.Field(tag)
	if !ok {
		return "", false
	}
	return string(f.Value), true
}

// Uint32 returns the first field with the given tag decoded as a uint32.
func (m *Message) Uint32(tag Tag) (uint32, bool) {
	f, ok := m.Field(tag)
	if !ok {
		return 0, false
	}
	return decodeUint32(f.Value)
}

// RequestID returns the TagRequestID field value, if present.
func (m *Message) RequestID() (string, bool) { return m.String(TagRequestID) }

// HTTPMeta decodes the TagHTTPMeta field, if present.
func (m *Message) HTTPMeta() (HTTPMeta, bool, error) {
	f, ok := m.Field(TagHTTPMeta)
	if !ok {
		return HTTPMeta{}, false, nil
	}
	meta, err := httpMetaFromJSON(f.Value)
	return meta, true, err
}

// ResponseMeta decodes the TagRespMeta field, if present.
func (m *Message) ResponseMeta() (ResponseMeta, bool, error) {
	f, ok := m.Field(TagRespMeta)
	if !ok {
		return ResponseMeta{}, false, nil
	}
	meta, err := respMetaFromJSON(f.Value)
	return meta, true, err
}

// Body returns the TagHTTPBody field value, if present.
func (m *Message) Body() ([]byte, bool) {
	f, ok := m.Field(TagHTTPBody)
	return f.Value, ok
}

// ChunkInfo returns the chunk index and total of a chunked message, whether
// each of those fields is present, and whether the final-chunk marker is set.
func (m *Message) ChunkInfo() (idx uint32, total uint32, hasIdx, hasTotal, final bool) {
	idx, hasIdx = m.Uint32(TagChunkIndex)
	total, hasTotal = m.Uint32(TagChunkTotal)
	if f, ok := m.Field(TagFinalChunk); ok && len(f.Value) == 1 && f.Value[0] == 0x01 {
		final = true
	}
	return
}

// bodySize returns the encoded size of all TLV fields.
func (m *Message) bodySize() int {
	n := 0
	for _, f := range m.Fields {
		n += f.Len()
	}
	return n
}

// EncodeBody serializes all TLV fields in order.
func (m *Message) EncodeBody() []byte {
	buf := make([]byte, 0, m.bodySize())
	for _, f := range m.Fields {
		buf = append(buf, f.Encode()...)
	}
	return buf
}

// Encode serializes the complete message: header (with CRCs and total
// length computed from the current field set) followed by the TLV body.
func (m *Message) Encode() []byte {
	body := m.EncodeBody()
	m.Header.BodyCRC = checksum(body)
	m.Header.TotalLength = uint32(headerSize + len(body))
	headerBytes := m.Header.Encode()
	out := make([]byte, 0, len(headerBytes)+len(body))
	out = append(out, headerBytes...)
	out = append(out, body...)
	return out
}

// Decode parses a complete ANPX frame (header + TLV body) from data.
// data must contain exactly Header.TotalLength bytes, or more with the
// excess ignored by the caller's framing layer.
func Decode(data []byte) (*Message, error) {
	header, err := DecodeHeader(data)
	if err != nil {
		return nil, err
	}
	bodyLen := int(header.TotalLength) - headerSize
	if bodyLen < 0 || len(data) < headerSize+bodyLen {
		return nil, newErr(ErrTruncatedTLV, "body shorter than total_length")
	}
	body := data[headerSize : headerSize+bodyLen]
	if !verifyChecksum(body, header.BodyCRC) {
		return nil, newErr(ErrBodyCRC, "")
	}

	msg := &Message{Header: header}
	offset := 0
	for offset < len(body) {
		field, next, err := decodeTLVField(body, offset)
		if err != nil {
			return nil, err
		}
		msg.Fields = append(msg.Fields, field)
		offset = next
	}
	return msg, nil
}
