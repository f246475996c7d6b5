package receiver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sourcegraph/conc"
	"go.uber.org/atomic"

	"firestige.xyz/anpx/internal/anpx"
	"firestige.xyz/anpx/internal/config"
	"firestige.xyz/anpx/internal/didauth"
	"firestige.xyz/anpx/internal/log"
)

// controlMessage is the JSON shape carried on WebSocket text frames,
// mirrored from the gateway side of the contract.
type controlMessage struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// Client dials the gateway, authenticates with DID-WBA headers, and pumps
// forwarded requests into the local application until stopped. A lost
// connection re-enters the reconnect loop with exponential backoff.
type Client struct {
	cfg      config.ReceiverConfig
	app      App
	signer   didauth.HeaderSigner
	encoder  *anpx.Encoder
	observer Observer

	mu    sync.Mutex
	state State
	conn  *websocket.Conn

	writeMu sync.Mutex

	attempts       atomic.Int64
	requestsServed atomic.Int64
	startTime      time.Time

	cancel context.CancelFunc
	bg     conc.WaitGroup
}

// New wires a receiver client. observer may be nil.
func New(cfg config.ReceiverConfig, app App, signer didauth.HeaderSigner, observer Observer) *Client {
	return &Client{
		cfg:      cfg,
		app:      app,
		signer:   signer,
		encoder:  anpx.NewEncoder(cfg.ChunkSize),
		observer: observer,
		state:    StateDisconnected,
	}
}

// Start launches the reconnect loop in the background. Non-blocking; Stop
// tears it down.
func (c *Client) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)
	c.startTime = time.Now()
	c.bg.Go(func() {
		if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.GetLogger().WithError(err).Error("receiver loop exited")
		}
	})
	return nil
}

// Stop cancels the loop and closes any live socket.
func (c *Client) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.mu.Unlock()
	c.bg.Wait()
	log.GetLogger().Info("receiver stopped")
	return nil
}

// Stats implements the daemon's StatsProvider.
func (c *Client) Stats() map[string]interface{} {
	return map[string]interface{}{
		"uptime_sec":       time.Since(c.startTime).Seconds(),
		"state":            c.State().String(),
		"gateway_url":      c.cfg.GatewayURL,
		"reconnect_total":  c.attempts.Load(),
		"requests_served":  c.requestsServed.Load(),
		"advertised_paths": c.cfg.Paths,
	}
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(to State) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.mu.Unlock()
	if from != to && c.observer != nil {
		c.observer(from, to)
	}
}

// Run is the reconnect loop: dial, pump until the socket dies, back off,
// repeat. Returns once ctx is cancelled or the attempt cap is reached.
func (c *Client) Run(ctx context.Context) error {
	logger := log.GetLogger()
	attempt := 0

	for {
		if err := ctx.Err(); err != nil {
			c.setState(StateDisconnected)
			return err
		}

		if attempt == 0 {
			c.setState(StateConnecting)
		} else {
			c.setState(StateReconnecting)
		}

		conn, err := c.dial(ctx)
		if err != nil {
			attempt++
			c.attempts.Inc()
			if c.cfg.Reconnect.MaxAttempts > 0 && attempt >= c.cfg.Reconnect.MaxAttempts {
				logger.WithError(err).WithField("attempts", attempt).Error("reconnect attempts exhausted")
				c.setState(StateFailed)
				return err
			}
			delay := backoffDelay(c.cfg.Reconnect.BaseDelay, c.cfg.Reconnect.MaxDelay, attempt-1)
			logger.WithError(err).WithFields(map[string]interface{}{
				"attempt": attempt,
				"delay":   delay.String(),
			}).Warn("gateway dial failed, backing off")
			select {
			case <-ctx.Done():
				c.setState(StateDisconnected)
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}

		attempt = 0
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.setState(StateConnected)
		logger.WithField("gateway", c.cfg.GatewayURL).Info("connected to gateway")

		c.pump(ctx, conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		if err := ctx.Err(); err != nil {
			c.setState(StateDisconnected)
			return err
		}
		logger.Warn("gateway connection lost, reconnecting")
	}
}

// dial opens the WebSocket with a freshly signed DID-WBA Authorization
// header. Every attempt re-signs: the challenge embeds a timestamp.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	authorization, err := c.signer.SignRequest(ctx, c.cfg.GatewayURL)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("Authorization", authorization)

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.cfg.GatewayURL, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// pump reads frames until the socket dies. Each decoded HTTP-request is
// served on its own goroutine so a slow backend doesn't stall the socket;
// writes are serialised through writeMu.
func (c *Client) pump(ctx context.Context, conn *websocket.Conn) {
	logger := log.GetLogger()
	assembler := anpx.NewChunkAssembler()

	pingDone := make(chan struct{})
	defer close(pingDone)
	go c.pingLoop(conn, pingDone)

	defer conn.Close()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		switch msgType {
		case websocket.TextMessage:
			c.handleControl(conn, data)
		case websocket.BinaryMessage:
			msg, err := anpx.Decode(data)
			if err != nil {
				logger.WithError(err).Error("invalid frame from gateway, closing")
				return
			}
			if msg.Header.IsChunked() {
				requestID, ok := msg.RequestID()
				if !ok {
					logger.Error("chunk missing request_id, closing")
					return
				}
				assembled, err := assembler.AddChunk(requestID, msg)
				if err != nil {
					logger.WithError(err).Error("chunk assembly failed, closing")
					return
				}
				if assembled == nil {
					continue
				}
				msg = assembled
			}
			if msg.Header.MessageType != anpx.MessageTypeHTTPRequest {
				logger.WithField("type", int(msg.Header.MessageType)).Warn("unsolicited message type ignored")
				continue
			}
			go c.handleRequest(ctx, conn, msg)
		}
	}
}

// pingLoop sends periodic text-frame pings until the pump exits.
func (c *Client) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	interval := c.cfg.PingInterval
	if interval <= 0 {
		interval = 20 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			payload, _ := json.Marshal(controlMessage{Type: "ping", Timestamp: time.Now().Unix()})
			if err := c.writeMessage(conn, websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleControl(conn *websocket.Conn, data []byte) {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.GetLogger().WithError(err).Warn("malformed control message from gateway")
		return
	}
	switch msg.Type {
	case "ping":
		payload, _ := json.Marshal(controlMessage{Type: "pong", Timestamp: msg.Timestamp})
		_ = c.writeMessage(conn, websocket.TextMessage, payload)
	case "pong", "heartbeat", "connection_ready":
		// nothing to do
	}
}

// handleRequest invokes the local application and sends the encoded
// response. A disconnect mid-request does not cancel the application; the
// response frames are simply discarded when the write fails.
func (c *Client) handleRequest(ctx context.Context, conn *websocket.Conn, msg *anpx.Message) {
	logger := log.GetLogger()

	requestID, ok := msg.RequestID()
	if !ok {
		logger.Warn("request frame without request_id dropped")
		return
	}
	meta, has, err := msg.HTTPMeta()
	if err != nil || !has {
		logger.WithError(err).WithField("request_id", requestID).Error("request missing metadata")
		c.sendError(conn, requestID, "malformed request metadata")
		return
	}
	body, _ := msg.Body()

	appCtx := ctx
	if c.cfg.BackendTimeout > 0 {
		var cancel context.CancelFunc
		appCtx, cancel = context.WithTimeout(ctx, c.cfg.BackendTimeout)
		defer cancel()
	}

	resp, err := c.app.Serve(appCtx, &Request{
		Method:  meta.Method,
		Path:    meta.Path,
		Headers: meta.Headers,
		Query:   meta.Query,
		Body:    body,
	})
	if err != nil {
		logger.WithError(err).WithField("request_id", requestID).Warn("local application failed")
		c.sendError(conn, requestID, err.Error())
		return
	}
	c.requestsServed.Inc()

	frames, err := c.encoder.EncodeHTTPResponse(requestID, anpx.ResponseMeta{
		Status:  resp.Status,
		Reason:  resp.Reason,
		Headers: resp.Headers,
	}, resp.Body)
	if err != nil {
		logger.WithError(err).WithField("request_id", requestID).Error("response encode failed")
		c.sendError(conn, requestID, "response encoding failed")
		return
	}

	for _, frame := range frames {
		if err := c.writeMessage(conn, websocket.BinaryMessage, frame.Encode()); err != nil {
			logger.WithField("request_id", requestID).Debug("response discarded, connection gone")
			return
		}
	}
}

func (c *Client) sendError(conn *websocket.Conn, requestID, message string) {
	frame := c.encoder.EncodeError(requestID, message)
	_ = c.writeMessage(conn, websocket.BinaryMessage, frame.Encode())
}

// writeMessage serialises all writes on one socket.
func (c *Client) writeMessage(conn *websocket.Conn, msgType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(msgType, data)
}
