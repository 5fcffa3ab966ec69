// ABOUTME: WebSocket server for agent connections and the channel Sender.
// ABOUTME: Assigns connection ids, dispatches inbound envelopes, cleans up on disconnect.

// Package transport carries the relay protocol over persistent WebSocket
// connections. Each accepted connection gets an opaque connection id that is
// valid only while the connection is open; the relay core stores it as a key
// and never interprets it.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vanogrid/slskd/internal/protocol"
	"github.com/vanogrid/slskd/internal/relay"
)

// Handler receives the lifecycle and message events read off agent
// connections. Implemented by the relay coordinator.
type Handler interface {
	OnConnect(connID string) error
	OnDisconnect(connID string)
	OnLogin(ctx context.Context, connID, agentName, response string) bool
	OnFileInfoReply(correlationID string, exists bool, length int64)
	OnUploadFailure(correlationID, reason string)
	GrantUploadToken(connID string) (string, error)
}

// agentConn is one live agent connection with its write lock.
type agentConn struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *agentConn) write(env protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Server accepts agent WebSocket connections and shuttles envelopes between
// them and the Handler. It implements relay.Sender for outbound traffic.
type Server struct {
	handler  Handler
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu    sync.RWMutex
	conns map[string]*agentConn
}

// ErrConnClosed is returned by Send when the target connection is gone.
var ErrConnClosed = errors.New("connection closed")

// NewServer creates a transport server. Attach the handler before serving.
func NewServer(logger *slog.Logger) *Server {
	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Agents are headless processes, not browsers.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.With("component", "transport"),
		conns:  make(map[string]*agentConn),
	}
}

// SetHandler attaches the event handler. Must be called before the first
// connection is accepted.
func (s *Server) SetHandler(h Handler) {
	s.handler = h
}

// Send pushes an envelope down the identified connection. Implements
// relay.Sender.
func (s *Server) Send(connID string, env protocol.Envelope) error {
	s.mu.RLock()
	c, ok := s.conns[connID]
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrConnClosed, connID)
	}
	return c.write(env)
}

// HandleAgentWS upgrades an HTTP request to the agent WebSocket channel and
// services it until disconnect.
func (s *Server) HandleAgentWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	connID := uuid.New().String()
	ac := &agentConn{id: connID, conn: conn}

	s.mu.Lock()
	s.conns[connID] = ac
	s.mu.Unlock()

	s.logger.Info("agent channel opened", "conn_id", connID, "remote", r.RemoteAddr)

	defer func() {
		s.mu.Lock()
		delete(s.conns, connID)
		s.mu.Unlock()
		s.handler.OnDisconnect(connID)
		s.logger.Info("agent channel closed", "conn_id", connID)
	}()

	if err := s.handler.OnConnect(connID); err != nil {
		s.logger.Warn("connect handling failed", "conn_id", connID, "error", err)
		return
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			s.logger.Debug("read error", "conn_id", connID, "error", err)
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			s.logger.Warn("invalid message from agent", "conn_id", connID, "error", err)
			continue
		}

		if !s.dispatch(r.Context(), ac, env) {
			return
		}
	}
}

// dispatch routes one inbound envelope. Returns false when the connection
// should be closed.
func (s *Server) dispatch(ctx context.Context, ac *agentConn, env protocol.Envelope) bool {
	switch env.Type {
	case protocol.TypeLogin:
		var login protocol.Login
		if err := env.DecodePayload(&login); err != nil {
			s.logger.Warn("malformed login", "conn_id", ac.id, "error", err)
			return false
		}
		ok := s.handler.OnLogin(ctx, ac.id, login.AgentName, login.Response)
		if err := ac.write(protocol.NewEnvelope(protocol.TypeLoginAck, protocol.LoginAck{OK: ok})); err != nil {
			return false
		}
		// A rejected handshake is terminal for this connection; the agent
		// reconnects to get a fresh challenge.
		return ok

	case protocol.TypeFileInfoReply:
		var reply protocol.FileInfoReply
		if err := env.DecodePayload(&reply); err != nil {
			s.logger.Warn("malformed file info reply", "conn_id", ac.id, "error", err)
			return true
		}
		s.handler.OnFileInfoReply(reply.CorrelationID, reply.Exists, reply.Length)
		return true

	case protocol.TypeUploadFailed:
		var failed protocol.UploadFailed
		if err := env.DecodePayload(&failed); err != nil {
			s.logger.Warn("malformed upload failure", "conn_id", ac.id, "error", err)
			return true
		}
		s.handler.OnUploadFailure(failed.CorrelationID, failed.Reason)
		return true

	case protocol.TypeUploadTokenRequest:
		token, err := s.handler.GrantUploadToken(ac.id)
		if err != nil {
			s.logger.Warn("upload token refused", "conn_id", ac.id, "error", err)
			_ = ac.write(protocol.NewEnvelope(protocol.TypeError, protocol.ErrorReply{
				Code:    "unauthorized",
				Message: "login before requesting an upload token",
			}))
			return true
		}
		if err := ac.write(protocol.NewEnvelope(protocol.TypeUploadTokenGrant, protocol.UploadTokenGrant{Token: token})); err != nil {
			return false
		}
		return true

	default:
		s.logger.Warn("unknown message type from agent", "conn_id", ac.id, "type", env.Type)
		return true
	}
}

// ConnCount returns the number of open agent channels.
func (s *Server) ConnCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

var _ relay.Sender = (*Server)(nil)
