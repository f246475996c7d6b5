package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"firestige.xyz/anpx/internal/anpx"
	"firestige.xyz/anpx/internal/registry"
)

// wsConn wraps one upgraded WebSocket connection with everything the
// message pump and write serialiser need. Decoder state (the chunk
// assembler) is per-connection, per the concurrency model's requirement
// that reads dispatch to unshared structures.
type wsConn struct {
	id        string
	conn      *websocket.Conn
	record    *registry.Connection
	writer    *writer
	assembler *anpx.ChunkAssembler

	writeMu sync.Mutex
}

// newWSConn builds the per-connection state and starts its write serialiser.
// onSendError fires from the writer goroutine when a queued frame could not
// be delivered; the gateway evicts the connection in response.
func newWSConn(id string, conn *websocket.Conn, queueDepth int, onSendError func()) *wsConn {
	c := &wsConn{
		id:        id,
		conn:      conn,
		assembler: anpx.NewChunkAssembler(),
	}
	c.writer = newWriter(queueDepth, c.writeFrame, func(error) {
		if onSendError != nil {
			onSendError()
		}
	})
	return c
}

// Close implements registry.Socket.
func (c *wsConn) Close() error {
	c.writer.Stop()
	return c.conn.Close()
}

// writeFrame is the writer goroutine's send function: one binary WebSocket
// message per ANPX frame, serialised because gorilla/websocket forbids
// concurrent writers on one connection.
func (c *wsConn) writeFrame(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (c *wsConn) writeText(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// sendControl marshals and sends one JSON control message on a text frame.
func (c *wsConn) sendControl(msg controlMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.writeText(payload)
}

// closeWith sends a close control frame with the given application code and
// reason, then closes the socket and stops the write serialiser. Used for
// handshake rejections and protocol violations; safe to combine with a
// later registry Remove (Stop and Close are idempotent enough).
func (c *wsConn) closeWith(code int, reason string) {
	c.writeMu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	c.writeMu.Unlock()
	_ = c.conn.Close()
	c.writer.Stop()
}

// Enqueue submits an ANPX frame for serialised delivery on this socket.
func (c *wsConn) Enqueue(frame []byte) error {
	return c.writer.Enqueue(frame)
}
