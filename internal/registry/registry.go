// Package registry implements the gateway's connection registry: the
// authoritative record of live Receiver WebSocket connections, their
// authentication state, and their advertised path prefixes.
package registry

import (
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"

	"firestige.xyz/anpx/internal/pending"
	"firestige.xyz/anpx/internal/router"
)

// State is a connection's position in its lifecycle.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateAuthenticated
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Socket is the minimal closeable transport a connection record owns.
// gateway.wsConn implements this over a gorilla/websocket connection.
type Socket interface {
	Close() error
}

// Connection is one live Receiver's registry record.
type Connection struct {
	mu sync.RWMutex

	id           string
	socket       Socket
	did          string
	paths        []string
	createdAt    time.Time
	lastActivity time.Time
	lastPing     time.Time
	state        State
	inFlight     map[string]struct{}
}

// ID implements router.Target.
func (c *Connection) ID() string { return c.id }

// IsAuthenticated implements router.Target.
func (c *Connection) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == StateAuthenticated
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// DID returns the DID bound at authentication, or "" before that.
func (c *Connection) DID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.did
}

// Touch updates the last-activity timestamp; called on every frame received.
func (c *Connection) Touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// Pinged updates the last-ping timestamp after a ping is sent.
func (c *Connection) Pinged() {
	c.mu.Lock()
	c.lastPing = time.Now()
	c.mu.Unlock()
}

// LastActivity and LastPing report the latest recorded timestamps.
func (c *Connection) LastActivity() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActivity
}

func (c *Connection) LastPing() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastPing
}

// TrackRequest and UntrackRequest maintain the set of request ids currently
// in flight through this connection. The set is informational only:
// CancelByConnection consults the pending table, not this set, and
// InFlightCount reports its size.
func (c *Connection) TrackRequest(requestID string) {
	c.mu.Lock()
	c.inFlight[requestID] = struct{}{}
	c.mu.Unlock()
}

func (c *Connection) UntrackRequest(requestID string) {
	c.mu.Lock()
	delete(c.inFlight, requestID)
	c.mu.Unlock()
}

func (c *Connection) InFlightCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.inFlight)
}

// Registry tracks every live connection and enforces the registry→router→
// pending-table lock order on Remove.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection

	maxConnections int
	router         *router.Router
	pending        *pending.Table
}

// New creates a registry bound to the given router and pending-request
// table. maxConnections <= 0 means unbounded.
func New(r *router.Router, p *pending.Table, maxConnections int) *Registry {
	return &Registry{
		connections:    make(map[string]*Connection),
		maxConnections: maxConnections,
		router:         r,
		pending:        p,
	}
}

// ErrAtCapacity is returned by Accept when maxConnections is already reached.
type ErrAtCapacity struct{}

func (ErrAtCapacity) Error() string { return "registry: at connection capacity" }

// Accept allocates a connection record in the connected state. The caller
// assigns connID (typically uuid.NewString()) before any frame is read.
func (reg *Registry) Accept(connID string, socket Socket) (*Connection, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if reg.maxConnections > 0 && len(reg.connections) >= reg.maxConnections {
		return nil, ErrAtCapacity{}
	}

	now := time.Now()
	conn := &Connection{
		id:           connID,
		socket:       socket,
		createdAt:    now,
		lastActivity: now,
		lastPing:     now,
		state:        StateConnected,
		inFlight:     make(map[string]struct{}),
	}
	reg.connections[connID] = conn
	return conn, nil
}

// Authenticate atomically sets the DID, registers paths with the router, and
// transitions the connection to authenticated.
func (reg *Registry) Authenticate(connID, did string, paths []string) error {
	reg.mu.RLock()
	conn, ok := reg.connections[connID]
	reg.mu.RUnlock()
	if !ok {
		return &unknownConnectionError{id: connID}
	}

	conn.mu.Lock()
	conn.did = did
	conn.paths = append([]string(nil), paths...)
	conn.state = StateAuthenticated
	conn.mu.Unlock()

	for _, p := range paths {
		reg.router.AddRoute(p, conn)
	}
	return nil
}

// Lookup delegates path resolution to the router.
func (reg *Registry) Lookup(path string) *Connection {
	target := reg.router.Lookup(path)
	if target == nil {
		return nil
	}
	conn, _ := target.(*Connection)
	return conn
}

// Get returns the connection with the given id, if still registered.
func (reg *Registry) Get(connID string) (*Connection, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	conn, ok := reg.connections[connID]
	return conn, ok
}

// Remove idempotently and atomically: transitions to disconnected, removes
// all router entries owned by this connection, fails every pending request
// owned by it with a connection-lost error, and closes the socket
// tolerantly. A concurrent second Remove for the same id is a no-op.
func (reg *Registry) Remove(connID string) error {
	reg.mu.Lock()
	conn, ok := reg.connections[connID]
	if !ok {
		reg.mu.Unlock()
		return nil
	}
	delete(reg.connections, connID)
	reg.mu.Unlock()

	conn.mu.Lock()
	alreadyDisconnected := conn.state == StateDisconnected
	conn.state = StateDisconnected
	conn.mu.Unlock()
	if alreadyDisconnected {
		return nil
	}

	var errs error
	reg.router.RemoveConnection(connID)
	reg.pending.CancelByConnection(connID)

	if conn.socket != nil {
		if err := conn.socket.Close(); err != nil && !isAlreadyClosed(err) {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// HealthSweep evicts connections whose last activity exceeds
// connectionTimeout, and pings connections whose last ping exceeds
// pingInterval. A failure removing or pinging one connection does not abort
// the sweep over the rest. ping is called with the connection record for
// every connection due for a ping.
func (reg *Registry) HealthSweep(connectionTimeout, pingInterval time.Duration, ping func(conn *Connection)) {
	reg.mu.RLock()
	snapshot := make([]*Connection, 0, len(reg.connections))
	for _, c := range reg.connections {
		snapshot = append(snapshot, c)
	}
	reg.mu.RUnlock()

	now := time.Now()
	for _, conn := range snapshot {
		if now.Sub(conn.LastActivity()) > connectionTimeout {
			_ = reg.Remove(conn.id)
			continue
		}
		if now.Sub(conn.LastPing()) > pingInterval {
			ping(conn)
			conn.Pinged()
		}
	}
}

// Stats summarises the registry for the admin status command.
type Stats struct {
	TotalConnections         int
	AuthenticatedConnections int
}

func (reg *Registry) Stats() Stats {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	stats := Stats{TotalConnections: len(reg.connections)}
	for _, c := range reg.connections {
		if c.IsAuthenticated() {
			stats.AuthenticatedConnections++
		}
	}
	return stats
}

type unknownConnectionError struct{ id string }

func (e *unknownConnectionError) Error() string { return "registry: unknown connection " + e.id }

func isAlreadyClosed(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "close sent")
}
