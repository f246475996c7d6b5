package anpx

import "github.com/google/uuid"

// Encoder turns HTTP request/response data into one or more ANPX messages,
// splitting into chunks once the single-message overhead would exceed
// ChunkSize.
type Encoder struct {
	ChunkSize int
}

// NewEncoder creates an encoder with the given chunk size threshold in bytes.
func NewEncoder(chunkSize int) *Encoder {
	if chunkSize <= 0 {
		chunkSize = 64 * 1024
	}
	return &Encoder{ChunkSize: chunkSize}
}

// EncodeHTTPRequest encodes an HTTP request into one or more messages. If
// requestID is empty a new UUID is generated.
func (e *Encoder) EncodeHTTPRequest(requestID string, meta HTTPMeta, body []byte) ([]*Message, error) {
	if requestID == "" {
		requestID = uuid.NewString()
	}

	metaJSON, err := meta.toJSON()
	if err != nil {
		return nil, wrapErr(ErrMissingField, "encode http_meta", err)
	}

	baseSize := tlvHeaderSize + len(requestID) +
		tlvHeaderSize + len(metaJSON) +
		tlvHeaderSize // HTTP_BODY TLV header only

	if len(body) == 0 || baseSize+len(body) <= e.ChunkSize {
		return []*Message{e.singleRequestMessage(requestID, meta, metaJSON, body)}, nil
	}
	return e.chunkedRequestMessages(requestID, meta, metaJSON, body), nil
}

// EncodeHTTPResponse encodes an HTTP response into one or more messages.
func (e *Encoder) EncodeHTTPResponse(requestID string, meta ResponseMeta, body []byte) ([]*Message, error) {
	metaJSON, err := meta.toJSON()
	if err != nil {
		return nil, wrapErr(ErrMissingField, "encode resp_meta", err)
	}

	baseSize := tlvHeaderSize + len(requestID) +
		tlvHeaderSize + len(metaJSON) +
		tlvHeaderSize

	if len(body) == 0 || baseSize+len(body) <= e.ChunkSize {
		return []*Message{e.singleResponseMessage(requestID, meta, metaJSON, body)}, nil
	}
	return e.chunkedResponseMessages(requestID, meta, metaJSON, body), nil
}

// EncodeError builds a single ERROR-type message carrying a human-readable
// message in the HTTP_BODY field.
func (e *Encoder) EncodeError(requestID, errMessage string) *Message {
	msg := NewMessage(MessageTypeError)
	if requestID != "" {
		msg.Add(TagRequestID, requestID)
	}
	msg.AddBytes(TagHTTPBody, []byte(errMessage))
	return msg
}

func (e *Encoder) singleRequestMessage(requestID string, _ HTTPMeta, metaJSON, body []byte) *Message {
	msg := NewMessage(MessageTypeHTTPRequest)
	msg.Add(TagRequestID, requestID)
	msg.AddBytes(TagHTTPMeta, metaJSON)
	if len(body) > 0 {
		msg.AddBytes(TagHTTPBody, body)
	}
	return msg
}

func (e *Encoder) singleResponseMessage(requestID string, _ ResponseMeta, metaJSON, body []byte) *Message {
	msg := NewMessage(MessageTypeHTTPResponse)
	msg.Add(TagRequestID, requestID)
	msg.AddBytes(TagRespMeta, metaJSON)
	if len(body) > 0 {
		msg.AddBytes(TagHTTPBody, body)
	}
	return msg
}

// chunkedRequestMessages splits a request body across chunks. HTTP_META
// rides the first chunk: first-chunk overhead accounts for REQUEST_ID,
// HTTP_META, CHUNK_IDX, CHUNK_TOT, FINAL_CHUNK and HTTP_BODY TLV headers,
// while later chunks only carry REQUEST_ID, CHUNK_IDX, CHUNK_TOT,
// FINAL_CHUNK and HTTP_BODY headers (no metadata).
func (e *Encoder) chunkedRequestMessages(requestID string, meta HTTPMeta, metaJSON, body []byte) []*Message {
	firstChunkOverhead := tlvHeaderSize + len(requestID) +
		tlvHeaderSize + len(metaJSON) +
		tlvHeaderSize + tlvHeaderSize + tlvHeaderSize + tlvHeaderSize

	firstChunkBodySize := e.ChunkSize - firstChunkOverhead
	if firstChunkBodySize < 0 {
		firstChunkBodySize = 0
	}

	remainingChunkSize := e.ChunkSize - (tlvHeaderSize + len(requestID) + tlvHeaderSize + tlvHeaderSize + tlvHeaderSize + tlvHeaderSize)
	if remainingChunkSize < 1 {
		remainingChunkSize = 1
	}

	var totalChunks int
	if len(body) <= firstChunkBodySize {
		totalChunks = 1
	} else {
		remaining := len(body) - firstChunkBodySize
		additional := (remaining + remainingChunkSize - 1) / remainingChunkSize
		totalChunks = 1 + additional
	}

	messages := make([]*Message, 0, totalChunks)
	offset := 0
	for idx := 0; idx < totalChunks; idx++ {
		msg := NewMessage(MessageTypeHTTPRequest)
		msg.Header.SetChunked(true)
		msg.Add(TagRequestID, requestID)
		msg.AddUint32(TagChunkIndex, uint32(idx))
		msg.AddUint32(TagChunkTotal, uint32(totalChunks))

		var chunkBodySize int
		if idx == 0 {
			msg.AddBytes(TagHTTPMeta, metaJSON)
			chunkBodySize = min(firstChunkBodySize, len(body)-offset)
		} else {
			chunkBodySize = min(remainingChunkSize, len(body)-offset)
		}

		if chunkBodySize > 0 {
			msg.AddBytes(TagHTTPBody, body[offset:offset+chunkBodySize])
			offset += chunkBodySize
		}

		if idx == totalChunks-1 {
			msg.AddBytes(TagFinalChunk, []byte{0x01})
		}

		messages = append(messages, msg)
	}
	return messages
}

// chunkedResponseMessages splits a response body across chunks. RESP_META
// rides the LAST chunk (the asymmetric counterpart of the request case),
// since the gateway only learns status/headers once the backend responds.
func (e *Encoder) chunkedResponseMessages(requestID string, meta ResponseMeta, metaJSON, body []byte) []*Message {
	lastChunkOverhead := tlvHeaderSize + len(requestID) +
		tlvHeaderSize + len(metaJSON) +
		tlvHeaderSize + tlvHeaderSize + tlvHeaderSize + tlvHeaderSize

	regularChunkSize := e.ChunkSize - (tlvHeaderSize + len(requestID) + tlvHeaderSize + tlvHeaderSize + tlvHeaderSize)
	if regularChunkSize < 1 {
		regularChunkSize = 1
	}

	lastChunkBodySize := e.ChunkSize - lastChunkOverhead
	if lastChunkBodySize < 0 {
		lastChunkBodySize = 0
	}

	var totalChunks int
	if len(body) <= lastChunkBodySize {
		totalChunks = 1
	} else {
		forRegular := len(body) - lastChunkBodySize
		regularChunks := (forRegular + regularChunkSize - 1) / regularChunkSize
		totalChunks = regularChunks + 1
	}

	messages := make([]*Message, 0, totalChunks)
	offset := 0
	for idx := 0; idx < totalChunks; idx++ {
		msg := NewMessage(MessageTypeHTTPResponse)
		msg.Header.SetChunked(true)
		msg.Add(TagRequestID, requestID)
		msg.AddUint32(TagChunkIndex, uint32(idx))
		msg.AddUint32(TagChunkTotal, uint32(totalChunks))

		var chunkBodySize int
		if idx == totalChunks-1 {
			chunkBodySize = len(body) - offset
			msg.AddBytes(TagRespMeta, metaJSON)
			msg.AddBytes(TagFinalChunk, []byte{0x01})
		} else {
			chunkBodySize = min(regularChunkSize, len(body)-offset)
		}

		if chunkBodySize > 0 {
			msg.AddBytes(TagHTTPBody, body[offset:offset+chunkBodySize])
			offset += chunkBodySize
		}

		messages = append(messages, msg)
	}
	return messages
}
