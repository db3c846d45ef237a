package signaling

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/beamdrop/signaling-relay/internal/hub"
	"github.com/beamdrop/signaling-relay/internal/metrics"
	"github.com/beamdrop/signaling-relay/internal/origin"
	"github.com/beamdrop/signaling-relay/internal/protocol"
	"github.com/beamdrop/signaling-relay/internal/ratelimit"
)

const (
	DefaultIdleTimeout  = 60 * time.Second
	DefaultPingInterval = 54 * time.Second
	DefaultWriteTimeout = 10 * time.Second

	DefaultMaxMessageBytes int64 = 64 * 1024
)

// Config wires the endpoint's collaborators and per-connection limits.
type Config struct {
	Hub     *hub.Registry
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// AllowedOrigins gates the upgrade for browser clients. Empty means
	// same-host only; non-browser clients (no Origin header) always pass.
	AllowedOrigins []string

	IdleTimeout  time.Duration
	PingInterval time.Duration
	WriteTimeout time.Duration

	SendQueueSize   int
	MaxMessageBytes int64

	// MaxMessagesPerSecond bounds inbound frames per connection; 0 disables
	// the limit.
	MaxMessagesPerSecond int
}

// WebSocketServer upgrades /ws requests and runs the per-connection duplex.
type WebSocketServer struct {
	cfg      Config
	log      *slog.Logger
	metrics  *metrics.Metrics
	reg      *hub.Registry
	upgrader websocket.Upgrader
}

func NewWebSocketServer(cfg Config) *WebSocketServer {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = hub.DefaultSendQueueSize
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = DefaultMaxMessageBytes
	}

	s := &WebSocketServer{
		cfg:     cfg,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
		reg:     cfg.Hub,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *WebSocketServer) checkOrigin(r *http.Request) bool {
	header := r.Header.Get("Origin")
	if header == "" {
		// Native clients send no Origin; the check protects browsers only.
		return true
	}
	normalized, host, ok := origin.Normalize(header)
	if !ok {
		return false
	}
	return origin.Allowed(normalized, host, r.Host, s.cfg.AllowedOrigins)
}

func (s *WebSocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		s.log.Debug("websocket upgrade rejected", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	s.metrics.ConnectionsTotal.Inc()
	s.metrics.ConnectionsActive.Inc()
	defer s.metrics.ConnectionsActive.Dec()

	peer := hub.NewPeer(uuid.NewString(), clientIP(r), s.cfg.SendQueueSize)
	log := s.log.With("peer_id", peer.ID, "remote_addr", r.RemoteAddr)
	log.Info("peer connected", "ip", peer.IP)

	// Enqueued before the write pump starts, so welcome is always the first
	// frame a client sees.
	peer.TrySend(protocol.EncodeWelcome(peer.ID))

	go s.writePump(conn, peer)
	s.readPump(conn, peer, log)

	s.reg.Disconnect(peer)
	log.Info("peer disconnected")
}

// readPump owns the connection's read side and drives the registry. It
// returns when the client goes away, misbehaves, or falls idle.
func (s *WebSocketServer) readPump(conn *websocket.Conn, peer *hub.Peer, log *slog.Logger) {
	conn.SetReadLimit(s.cfg.MaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
	})

	var limiter *ratelimit.TokenBucket
	if s.cfg.MaxMessagesPerSecond > 0 {
		rate := int64(s.cfg.MaxMessagesPerSecond)
		limiter = ratelimit.NewTokenBucket(ratelimit.RealClock{}, rate, rate)
	}

	for {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("read failed", "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			writeClose(conn, websocket.CloseUnsupportedData, "expected text message")
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))

		if limiter != nil && !limiter.Allow(1) {
			log.Warn("message rate limit exceeded")
			writeClose(conn, websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		s.metrics.MessagesReceived.Inc()
		s.dispatch(peer, raw, log)
	}
}

// dispatch handles one client frame. Malformed or invalid frames are counted
// and dropped; the connection stays up.
func (s *WebSocketServer) dispatch(peer *hub.Peer, raw []byte, log *slog.Logger) {
	msg, err := protocol.Parse(raw)
	if err != nil {
		s.metrics.ProtocolErrors.Inc()
		log.Debug("dropping malformed frame", "error", err)
		return
	}
	if err := msg.Validate(); err != nil {
		s.metrics.ProtocolErrors.Inc()
		log.Debug("dropping invalid frame", "type", msg.Type, "error", err)
		return
	}

	switch msg.Type {
	case protocol.TypeRegister:
		peer.SetIdentity(msg.Name, msg.DeviceType, msg.Port)
		log.Info("peer registered", "name", msg.Name, "device_type", msg.DeviceType, "port", msg.Port)
		s.reg.Join(peer, hub.DiscoveryRoom)

	case protocol.TypeGetPeers:
		members, ok := s.reg.Peers(peer)
		if !ok {
			log.Debug("get_peers from roomless peer")
			return
		}
		peer.TrySend(protocol.EncodePeersList(members))

	case protocol.TypeJoinRoom:
		s.reg.Join(peer, msg.Room)

	case protocol.TypeLeaveRoom:
		s.reg.Leave(peer)

	default:
		if !protocol.IsRelay(msg.Type) {
			s.metrics.ProtocolErrors.Inc()
			log.Debug("dropping frame with unknown type", "type", msg.Type)
			return
		}
		if _, ok := s.reg.Relay(peer, raw); !ok {
			log.Debug("dropping relay frame from roomless peer", "type", msg.Type)
		}
	}
}

// writePump owns the connection's write side: it drains the peer's send
// queue and pings on the liveness interval. A closed queue (disconnect or
// slow-consumer eviction) ends the connection.
func (s *WebSocketServer) writePump(conn *websocket.Conn, peer *hub.Peer) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	defer conn.Close()

	for {
		select {
		case frame, ok := <-peer.Outbound():
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeClose(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}

// clientIP prefers the first X-Forwarded-For hop, for deployments behind a
// reverse proxy, and falls back to the socket address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
