package gateway

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"firestige.xyz/anpx/internal/anpx"
	"firestige.xyz/anpx/internal/log"
	"firestige.xyz/anpx/internal/registry"
)

// Application close codes sent on handshake rejection or protocol
// violations. 4003 for auth failure is part of the wire contract; the
// others are in the private-use range alongside it.
const (
	closeCodeProtocolError = 4002
	closeCodeAuthFailed    = 4003
	closeCodeNoPaths       = 4004
	closeCodeCapacity      = 4009
)

// handleUpgrade is the WebSocket acceptor: upgrade, verify DID-WBA
// credentials, resolve advertised paths, register, then run the message
// pump until the socket dies.
func (g *Gateway) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	logger := log.GetLogger()

	raw, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	connID := uuid.NewString()
	ws := newWSConn(connID, raw, g.cfg.OutboundQueueDepth, func() { g.dropConn(connID) })

	authorization := r.Header.Get("Authorization")
	domain := deriveServiceDomain(r, g.cfg.DefaultDomain)

	did, err := g.verifier.Verify(r.Context(), authorization, domain)
	if err != nil {
		logger.WithError(err).WithField("domain", domain).Warn("did-wba verification failed")
		ws.closeWith(closeCodeAuthFailed, "authentication failed")
		return
	}
	if !g.allow.Allows(did) {
		logger.WithField("did", did).Warn("did not in allow list")
		ws.closeWith(closeCodeAuthFailed, "did not allowed")
		return
	}

	paths, err := g.oracle.PathsFor(r.Context(), did)
	if err != nil {
		logger.WithError(err).WithField("did", did).Error("path oracle lookup failed")
		ws.closeWith(closeCodeNoPaths, "path resolution failed")
		return
	}
	if len(paths) == 0 {
		logger.WithField("did", did).Warn("did has no advertised paths")
		ws.closeWith(closeCodeNoPaths, "no services registered for did")
		return
	}

	record, err := g.registry.Accept(connID, ws)
	if err != nil {
		var capErr registry.ErrAtCapacity
		if errors.As(err, &capErr) {
			logger.WithField("did", did).Warn("connection cap exceeded, rejecting")
			ws.closeWith(closeCodeCapacity, "gateway at connection capacity")
			return
		}
		logger.WithError(err).Error("registry accept failed")
		ws.closeWith(closeCodeCapacity, "registration failed")
		return
	}
	ws.record = record

	if err := g.registry.Authenticate(connID, did, paths); err != nil {
		logger.WithError(err).Error("registry authenticate failed")
		g.dropConn(connID)
		return
	}

	g.mu.Lock()
	g.conns[connID] = ws
	g.mu.Unlock()
	connectionsGauge.Inc()

	if err := ws.sendControl(controlMessage{Type: "connection_ready"}); err != nil {
		logger.WithError(err).Warn("failed to send connection_ready")
	}

	logger.WithFields(map[string]interface{}{
		"conn_id": connID,
		"did":     did,
		"paths":   strings.Join(paths, ","),
	}).Info("receiver connected")

	g.pump(ws)
}

// pump reads frames until the socket closes, updating activity on every
// frame. Text frames are JSON control messages; binary frames are ANPX.
// Protocol errors are fatal to the connection, nothing else is.
func (g *Gateway) pump(ws *wsConn) {
	logger := log.GetLogger().WithField("conn_id", ws.id)
	defer g.dropConn(ws.id)

	for {
		msgType, data, err := ws.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.WithError(err).Warn("receiver connection lost")
			}
			return
		}
		ws.record.Touch()

		switch msgType {
		case websocket.TextMessage:
			g.handleControl(ws, data)
		case websocket.BinaryMessage:
			if err := g.handleFrame(ws, data); err != nil {
				var perr *anpx.ProtocolError
				if errors.As(err, &perr) {
					logger.WithError(err).Error("invalid frame, closing connection")
					ws.closeWith(closeCodeProtocolError, perr.Code.String())
					return
				}
				logger.WithError(err).Warn("frame handling failed")
			}
		}
	}
}

// handleFrame decodes one binary frame, feeding chunked frames through the
// per-connection assembler, and resolves the matching pending request once
// a complete response or error message is in hand.
func (g *Gateway) handleFrame(ws *wsConn, data []byte) error {
	msg, err := anpx.Decode(data)
	if err != nil {
		return err
	}

	if msg.Header.IsChunked() {
		requestID, ok := msg.RequestID()
		if !ok {
			return anpx.NewProtocolError(anpx.ErrMissingField, "chunk missing request_id")
		}
		assembled, err := ws.assembler.AddChunk(requestID, msg)
		if err != nil {
			return err
		}
		if assembled == nil {
			return nil
		}
		msg = assembled
	}

	logger := log.GetLogger().WithField("conn_id", ws.id)

	switch msg.Header.MessageType {
	case anpx.MessageTypeHTTPResponse, anpx.MessageTypeError:
		requestID, ok := msg.RequestID()
		if !ok {
			logger.Warn("response frame without request_id dropped")
			return nil
		}
		ws.record.UntrackRequest(requestID)
		if !g.pend.Resolve(requestID, msg) {
			logger.WithField("request_id", requestID).Warn("late or unknown response dropped")
		}
	default:
		logger.WithField("type", int(msg.Header.MessageType)).Warn("unsolicited message type ignored")
	}
	return nil
}

// handleControl handles JSON control messages on text frames. Activity was
// already recorded by the pump; pings additionally get a pong echoing their
// timestamp.
func (g *Gateway) handleControl(ws *wsConn, data []byte) {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.GetLogger().WithError(err).WithField("conn_id", ws.id).Warn("malformed control message")
		return
	}
	switch msg.Type {
	case "ping":
		if err := ws.sendControl(pongMessage(msg.Timestamp)); err != nil {
			log.GetLogger().WithError(err).WithField("conn_id", ws.id).Warn("pong send failed")
		}
	case "pong", "heartbeat":
		// activity already recorded
	}
}

// deriveServiceDomain resolves the domain the DID-WBA challenge was signed
// for: first hop of X-Forwarded-Host, then Host, then the configured
// default, ports stripped throughout.
func deriveServiceDomain(r *http.Request, fallback string) string {
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if first != "" {
			return stripPort(first)
		}
	}
	if r.Host != "" {
		return stripPort(r.Host)
	}
	return fallback
}

func stripPort(hostport string) string {
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return host
	}
	return hostport
}
