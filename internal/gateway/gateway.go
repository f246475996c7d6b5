// Package gateway implements the public side of the tunnel: the WebSocket
// acceptor that authenticates Receiver connections, the HTTP front that
// forwards client requests over them, and the supervision sweeps that keep
// both healthy.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sourcegraph/conc"
	"go.uber.org/atomic"

	"firestige.xyz/anpx/internal/anpx"
	"firestige.xyz/anpx/internal/config"
	"firestige.xyz/anpx/internal/didauth"
	"firestige.xyz/anpx/internal/log"
	"firestige.xyz/anpx/internal/pending"
	"firestige.xyz/anpx/internal/registry"
	"firestige.xyz/anpx/internal/router"
)

// Gateway owns the registry, router, pending-request table, and the HTTP
// server carrying both the WebSocket upgrade endpoint and the forwarding
// front. Collaborators (verifier, oracle) are constructor-injected.
type Gateway struct {
	cfg config.GatewayConfig

	verifier didauth.Verifier
	oracle   didauth.PathOracle
	allow    *didauth.AllowList

	router   *router.Router
	pend     *pending.Table
	registry *registry.Registry
	encoder  *anpx.Encoder

	upgrader websocket.Upgrader
	denyList []*regexp.Regexp

	server *http.Server

	mu    sync.RWMutex
	conns map[string]*wsConn

	totalRequests  atomic.Int64
	activeRequests atomic.Int64

	startTime time.Time
	cancel    context.CancelFunc
	bg        conc.WaitGroup
}

// New wires a Gateway from its configuration and collaborators. The deny
// list patterns are compiled eagerly so a bad operator regex fails startup
// instead of the first matching request.
func New(cfg config.GatewayConfig, verifier didauth.Verifier, oracle didauth.PathOracle, allowedDIDs []string) (*Gateway, error) {
	deny := make([]*regexp.Regexp, 0, len(cfg.DenyListPatterns))
	for _, p := range cfg.DenyListPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("gateway: bad deny_list pattern %q: %w", p, err)
		}
		deny = append(deny, re)
	}

	rt := router.New()
	pt := pending.New()
	g := &Gateway{
		cfg:      cfg,
		verifier: verifier,
		oracle:   oracle,
		allow:    didauth.NewAllowList(allowedDIDs),
		router:   rt,
		pend:     pt,
		registry: registry.New(rt, pt, cfg.MaxConnections),
		encoder:  anpx.NewEncoder(cfg.ChunkSize),
		denyList: deny,
		conns:    make(map[string]*wsConn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
			// Receivers dial from private networks with no Origin header.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	return g, nil
}

// Start binds the listener and launches the supervision sweeps. Non-blocking;
// Stop shuts everything down.
func (g *Gateway) Start(ctx context.Context) error {
	logger := log.GetLogger()

	ctx, g.cancel = context.WithCancel(ctx)
	g.startTime = time.Now()

	g.server = &http.Server{
		Addr:    g.cfg.Listen,
		Handler: g.routes(),
	}

	g.bg.Go(func() {
		var err error
		if g.cfg.TLSCert != "" && g.cfg.TLSKey != "" {
			err = g.server.ListenAndServeTLS(g.cfg.TLSCert, g.cfg.TLSKey)
		} else {
			err = g.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("gateway listener failed")
		}
	})

	g.bg.Go(func() { g.healthSweepLoop(ctx) })
	g.bg.Go(func() { g.pendingSweepLoop(ctx) })

	logger.WithFields(map[string]interface{}{
		"listen":  g.cfg.Listen,
		"ws_path": g.cfg.WSPath,
	}).Info("gateway started")
	return nil
}

// Stop drains the gateway: close the listener, evict every connection, stop
// the sweeps. Safe to call once.
func (g *Gateway) Stop(ctx context.Context) error {
	var err error
	if g.server != nil {
		err = g.server.Shutdown(ctx)
	}

	g.mu.RLock()
	ids := make([]string, 0, len(g.conns))
	for id := range g.conns {
		ids = append(ids, id)
	}
	g.mu.RUnlock()
	for _, id := range ids {
		g.dropConn(id)
	}

	if g.cancel != nil {
		g.cancel()
	}
	g.bg.Wait()
	log.GetLogger().Info("gateway stopped")
	return err
}

// routes builds the gateway's HTTP surface: the WebSocket upgrade path,
// the reserved admin endpoints, and the catch-all forwarding front. The deny
// list is checked against the raw request path before the mux runs, since
// ServeMux answers a path with dot segments by redirecting to its cleaned form.
func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(g.cfg.WSPath, g.handleUpgrade)
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/stats", g.handleStatsHTTP)
	mux.HandleFunc("/", g.handleForward)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != g.cfg.WSPath && g.isDenied(r.URL.Path) {
			log.GetLogger().WithField("path", r.URL.Path).Warn("denied malicious path")
			writeErrorJSON(w, http.StatusForbidden, "Forbidden", r.URL.Path, "")
			return
		}
		mux.ServeHTTP(w, r)
	})
}

// healthSweepLoop runs the registry health sweep: evict idle connections,
// ping quiet ones, and discard stale half-assembled chunk buffers.
func (g *Gateway) healthSweepLoop(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.HealthSweep)
	defer ticker.Stop()
	logger := log.GetLogger()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.registry.HealthSweep(g.cfg.ConnectionTimeout, g.cfg.PingInterval, func(conn *registry.Connection) {
				ws, ok := g.getConn(conn.ID())
				if !ok {
					return
				}
				if err := ws.sendControl(pingMessage()); err != nil {
					logger.WithError(err).WithField("conn_id", conn.ID()).Warn("ping failed, evicting")
					g.dropConn(conn.ID())
				}
			})

			g.mu.RLock()
			snapshot := make([]*wsConn, 0, len(g.conns))
			for _, ws := range g.conns {
				snapshot = append(snapshot, ws)
			}
			g.mu.RUnlock()
			for _, ws := range snapshot {
				if n := ws.assembler.CleanupStale(g.cfg.RequestTimeout); n > 0 {
					logger.WithFields(map[string]interface{}{
						"conn_id": ws.id,
						"dropped": n,
					}).Warn("discarded stale chunk buffers")
				}
			}
		}
	}
}

// pendingSweepLoop is the age backstop over the pending-request table,
// distinct from each request's own deadline.
func (g *Gateway) pendingSweepLoop(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.PendingSweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := g.pend.SweepStale(g.cfg.PendingMaxAge); n > 0 {
				log.GetLogger().WithField("swept", n).Warn("pending-request backstop sweep fired")
			}
		}
	}
}

func (g *Gateway) getConn(connID string) (*wsConn, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ws, ok := g.conns[connID]
	return ws, ok
}

// dropConn removes a connection everywhere: the gateway's socket map and,
// through the registry, the router, the pending table, and the socket
// itself. Idempotent.
func (g *Gateway) dropConn(connID string) {
	g.mu.Lock()
	_, tracked := g.conns[connID]
	delete(g.conns, connID)
	g.mu.Unlock()

	// registry.Remove closes the socket through the connection record
	if err := g.registry.Remove(connID); err != nil {
		log.GetLogger().WithError(err).WithField("conn_id", connID).Warn("connection cleanup reported errors")
	}
	if tracked {
		connectionsGauge.Dec()
	}
}

// Stats implements the daemon's StatsProvider and backs the /stats endpoint.
func (g *Gateway) Stats() map[string]interface{} {
	regStats := g.registry.Stats()
	routeStats := g.router.Stats()
	return map[string]interface{}{
		"uptime_sec":          time.Since(g.startTime).Seconds(),
		"total_connections":   regStats.TotalConnections,
		"healthy_connections": regStats.AuthenticatedConnections,
		"total_routes":        routeStats.TotalRoutes,
		"pending_requests":    g.pend.Len(),
		"total_requests":      g.totalRequests.Load(),
		"active_requests":     g.activeRequests.Load(),
	}
}

func (g *Gateway) handleStatsHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(g.Stats())
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	regStats := g.registry.Stats()
	status := "healthy"
	payload := map[string]interface{}{
		"status":              status,
		"healthy_connections": regStats.AuthenticatedConnections,
		"total_connections":   regStats.TotalConnections,
		"pending_requests":    g.pend.Len(),
		"total_routes":        g.router.Stats().TotalRoutes,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
