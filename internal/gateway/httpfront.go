package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"firestige.xyz/anpx/internal/anpx"
	"firestige.xyz/anpx/internal/log"
	"firestige.xyz/anpx/internal/pending"
)

// reservedPaths are never routed to receivers, even if a receiver advertises
// an overlapping prefix. /health and /stats have their own handlers on the
// gateway mux; any other reserved path reaching the forwarding front gets 404.
var reservedPaths = map[string]struct{}{
	"/health":  {},
	"/stats":   {},
	"/metrics": {},
}

// handleForward is the HTTP front: deny-list filter, route, encode, dispatch
// over the selected WebSocket, await the correlated response, translate it
// back to HTTP.
func (g *Gateway) handleForward(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	g.totalRequests.Inc()
	g.activeRequests.Inc()
	defer g.activeRequests.Dec()

	logger := log.GetLogger()
	path := r.URL.Path

	status := g.forward(w, r, logger, path)
	requestDuration.Observe(time.Since(start).Seconds())
	requestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
}

// forward runs the request pipeline and returns the HTTP status that was
// written, for metrics.
func (g *Gateway) forward(w http.ResponseWriter, r *http.Request, logger log.Logger, path string) int {
	if _, reserved := reservedPaths[path]; reserved {
		writeErrorJSON(w, http.StatusNotFound, "No route found", path, "")
		return http.StatusNotFound
	}

	if g.isDenied(path) {
		logger.WithField("path", path).Warn("denied malicious path")
		writeErrorJSON(w, http.StatusForbidden, "Forbidden", path, "")
		return http.StatusForbidden
	}

	conn := g.registry.Lookup(path)
	if conn == nil {
		writeErrorJSON(w, http.StatusNotFound, "No route found", path, "")
		return http.StatusNotFound
	}

	ws, ok := g.getConn(conn.ID())
	if !ok {
		writeErrorJSON(w, http.StatusServiceUnavailable, "No receiver available", path, "")
		return http.StatusServiceUnavailable
	}

	requestID := uuid.NewString()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, g.cfg.MaxBodyBytes))
	if err != nil {
		writeErrorJSON(w, http.StatusRequestEntityTooLarge, "Request body too large", path, requestID)
		return http.StatusRequestEntityTooLarge
	}

	frames, err := g.encoder.EncodeHTTPRequest(requestID, metaFromRequest(r, path), body)
	if err != nil {
		logger.WithError(err).Error("request encode failed")
		writeErrorJSON(w, http.StatusInternalServerError, "Encoding failed", path, requestID)
		return http.StatusInternalServerError
	}

	if err := g.pend.Open(requestID, conn.ID(), g.cfg.RequestTimeout); err != nil {
		logger.WithError(err).WithField("request_id", requestID).Error("pending open failed")
		writeErrorJSON(w, http.StatusInternalServerError, "Dispatch failed", path, requestID)
		return http.StatusInternalServerError
	}
	conn.TrackRequest(requestID)
	defer conn.UntrackRequest(requestID)

	for _, frame := range frames {
		if err := ws.Enqueue(frame.Encode()); err != nil {
			g.pend.Fail(requestID, err)
			if errors.Is(err, ErrQueueFull) {
				logger.WithField("conn_id", conn.ID()).Warn("outbound queue saturated, evicting connection")
				g.dropConn(conn.ID())
			}
			// drain the rendezvous so the record is dropped
			_, _ = g.pend.Await(r.Context(), requestID)
			writeErrorJSON(w, http.StatusBadGateway, "Dispatch failed", path, requestID)
			return http.StatusBadGateway
		}
	}

	result, err := g.pend.Await(r.Context(), requestID)
	if err != nil {
		switch {
		case errors.Is(err, pending.ErrTimeout):
			writeErrorJSON(w, http.StatusGatewayTimeout, "Request timed out", path, requestID)
			return http.StatusGatewayTimeout
		case errors.Is(err, pending.ErrConnectionLost):
			writeErrorJSON(w, http.StatusBadGateway, "Receiver connection lost", path, requestID)
			return http.StatusBadGateway
		default:
			writeErrorJSON(w, http.StatusBadGateway, "Dispatch failed", path, requestID)
			return http.StatusBadGateway
		}
	}

	msg, ok := result.(*anpx.Message)
	if !ok {
		writeErrorJSON(w, http.StatusInternalServerError, "Internal error", path, requestID)
		return http.StatusInternalServerError
	}
	return writeTunnelResponse(w, logger, msg, path, requestID)
}

// writeTunnelResponse converts a decoded HTTP-response or error message into
// the HTTP reply.
func writeTunnelResponse(w http.ResponseWriter, logger log.Logger, msg *anpx.Message, path, requestID string) int {
	if msg.Header.MessageType == anpx.MessageTypeError {
		body, _ := msg.Body()
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write(body)
		return http.StatusInternalServerError
	}

	meta, has, err := msg.ResponseMeta()
	if err != nil || !has {
		logger.WithError(err).WithField("request_id", requestID).Error("response missing metadata")
		writeErrorJSON(w, http.StatusBadGateway, "Malformed receiver response", path, requestID)
		return http.StatusBadGateway
	}

	for k, v := range meta.Headers {
		// hop-by-hop headers never survive the tunnel
		switch strings.ToLower(k) {
		case "connection", "transfer-encoding", "keep-alive", "upgrade":
			continue
		}
		w.Header().Set(k, v)
	}
	status := meta.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if body, ok := msg.Body(); ok {
		_, _ = w.Write(body)
	}
	return status
}

// metaFromRequest flattens an incoming request into the wire metadata
// shape. Header names are lowercased on the wire; repeated headers and
// query parameters keep their first value.
func metaFromRequest(r *http.Request, path string) anpx.HTTPMeta {
	headers := make(map[string]string, len(r.Header))
	for k, vals := range r.Header {
		if len(vals) == 0 {
			continue
		}
		headers[strings.ToLower(k)] = vals[0]
	}
	query := make(map[string]string)
	for k, vals := range r.URL.Query() {
		if len(vals) > 0 {
			query[k] = vals[0]
		}
	}
	return anpx.HTTPMeta{
		Method:  r.Method,
		Path:    path,
		Headers: headers,
		Query:   query,
	}
}

func (g *Gateway) isDenied(path string) bool {
	for _, re := range g.denyList {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

type errorBody struct {
	Error     string `json:"error"`
	Path      string `json:"path,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func writeErrorJSON(w http.ResponseWriter, status int, msg, path, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: msg, Path: path, RequestID: requestID})
}
