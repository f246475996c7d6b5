package anpx

import (
	"sort"
	"sync"
	"time"
)

// pendingChunks tracks the chunks received so far for one request id.
type pendingChunks struct {
	chunks    []*Message
	firstSeen time.Time
}

// ChunkAssembler reassembles chunked ANPX messages keyed by request id. A
// single assembler instance is shared by a connection's receive loop; it is
// safe for concurrent use.
type ChunkAssembler struct {
	mu      sync.Mutex
	pending map[string]*pendingChunks
}

// NewChunkAssembler creates an empty assembler.
func NewChunkAssembler() *ChunkAssembler {
	return &ChunkAssembler{pending: make(map[string]*pendingChunks)}
}

// AddChunk records one chunk belonging to requestID and, once every chunk
// has arrived, returns the fully reassembled message. Completion is decided
// by the chunk count reaching CHUNK_TOT, so chunks may arrive in any order;
// the FINAL_CHUNK marker decides only for chunks that carry no total.
// Returns (nil, nil) while more chunks are still expected.
func (a *ChunkAssembler) AddChunk(requestID string, chunk *Message) (*Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.pending[requestID]
	if !ok {
		p = &pendingChunks{firstSeen: time.Now()}
		a.pending[requestID] = p
	}

	idx, total, hasIdx, hasTotal, final := chunk.ChunkInfo()
	if !hasIdx {
		return nil, newErr(ErrMissingField, "chunk missing chunk_idx")
	}

	for _, existing := range p.chunks {
		existingIdx, _, _, _, _ := existing.ChunkInfo()
		if existingIdx == idx {
			return nil, newErr(ErrDuplicateChunk, "")
		}
	}

	p.chunks = append(p.chunks, chunk)

	complete := final
	if hasTotal {
		complete = len(p.chunks) == int(total)
	}
	if complete {
		assembled, err := assemble(p.chunks)
		delete(a.pending, requestID)
		return assembled, err
	}

	return nil, nil
}

// CleanupStale drops assemblies whose first chunk arrived more than maxAge
// ago, returning the number removed. Intended to run on a periodic backstop
// sweep so a request that never completes doesn't leak memory forever.
func (a *ChunkAssembler) CleanupStale(maxAge time.Duration) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, p := range a.pending {
		if now.Sub(p.firstSeen) > maxAge {
			delete(a.pending, id)
			removed++
		}
	}
	return removed
}

// assemble sorts chunks by index, validates the sequence is exactly
// 0..len(chunks)-1 with no gaps or duplicates, and reassembles the meta
// and body fields per message type.
func assemble(chunks []*Message) (*Message, error) {
	if len(chunks) == 0 {
		return nil, newErr(ErrMissingField, "no chunks to assemble")
	}

	sort.Slice(chunks, func(i, j int) bool {
		idxI, _, _, _, _ := chunks[i].ChunkInfo()
		idxJ, _, _, _, _ := chunks[j].ChunkInfo()
		return idxI < idxJ
	})

	for i, c := range chunks {
		idx, _, _, _, _ := c.ChunkInfo()
		if int(idx) != i {
			return nil, newErr(ErrChunkMismatch, "")
		}
	}

	switch chunks[0].Header.MessageType {
	case MessageTypeHTTPRequest:
		return assembleRequest(chunks)
	case MessageTypeHTTPResponse:
		return assembleResponse(chunks)
	default:
		return nil, newErr(ErrUnknownMessageType, "")
	}
}

func assembleRequest(chunks []*Message) (*Message, error) {
	first := chunks[0]
	requestID, ok := first.RequestID()
	if !ok {
		return nil, newErr(ErrMissingField, "first chunk missing request_id")
	}
	metaField, ok := first.Field(TagHTTPMeta)
	if !ok {
		return nil, newErr(ErrMissingField, "first chunk missing http_meta")
	}

	assembled := NewMessage(MessageTypeHTTPRequest)
	assembled.Add(TagRequestID, requestID)
	assembled.AddBytes(TagHTTPMeta, metaField.Value)

	body := concatBodies(chunks)
	if len(body) > 0 {
		assembled.AddBytes(TagHTTPBody, body)
	}
	return assembled, nil
}

func assembleResponse(chunks []*Message) (*Message, error) {
	var requestID string
	var metaValue []byte
	haveMeta := false

	for _, c := range chunks {
		if id, ok := c.RequestID(); ok {
			requestID = id
		}
		if f, ok := c.Field(TagRespMeta); ok {
			metaValue = f.Value
			haveMeta = true
		}
	}

	if requestID == "" {
		return nil, newErr(ErrMissingField, "no chunk contains request_id")
	}
	if !haveMeta {
		return nil, newErr(ErrMissingField, "no chunk contains resp_meta")
	}

	assembled := NewMessage(MessageTypeHTTPResponse)
	assembled.Add(TagRequestID, requestID)
	assembled.AddBytes(TagRespMeta, metaValue)

	body := concatBodies(chunks)
	if len(body) > 0 {
		assembled.AddBytes(TagHTTPBody, body)
	}
	return assembled, nil
}

func concatBodies(chunks []*Message) []byte {
	var out []byte
	for _, c := range chunks {
		if b, ok := c.Body(); ok {
			out = append(out, b...)
		}
	}
	return out
}
