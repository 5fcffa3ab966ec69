// ABOUTME: Orchestrates the relay handshake and request lifecycle, driven by
// ABOUTME: channel events: connect, disconnect, login, replies, and API requests.

package relay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/vanogrid/slskd/internal/protocol"
)

// Sender pushes an envelope down the channel identified by connID.
// Implemented by the transport layer.
type Sender interface {
	Send(connID string, env protocol.Envelope) error
}

// Store is what the coordinator needs from the credential store: secret
// lookup for challenge validation, audit recording, and login bookkeeping.
type Store interface {
	SecretSource
	Append(ctx context.Context, agentName, action, detail string) error
	TouchLogin(ctx context.Context, agentName string) error
}

// FileInfo is the successful value of a file-info inquiry.
type FileInfo struct {
	Exists bool  `json:"exists"`
	Length int64 `json:"length"`
}

// Options configures a Coordinator.
type Options struct {
	ChallengeTTL   time.Duration // lifetime of an issued, unanswered challenge
	RequestTimeout time.Duration // lifetime of an outstanding pending entry
	UploadTokenTTL time.Duration // lifetime of an unredeemed upload token
}

// Coordinator composes the challenge manager, connection registry, upload
// token store, and the two pending tables, and drives them from inbound
// channel events. All state is in-memory and scoped to the coordinator
// instance; construct one per server.
type Coordinator struct {
	sender     Sender
	challenges *ChallengeManager
	registry   *Registry
	tokens     *UploadTokenStore
	infos      *PendingTable[FileInfo]
	uploads    *PendingTable[*UploadStream]
	store      Store
	logger     *slog.Logger
}

// NewCoordinator wires a coordinator from its collaborators. st resolves
// provisioned agent secrets and receives audit events.
func NewCoordinator(sender Sender, st Store, opts Options, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		sender:     sender,
		challenges: NewChallengeManager(st, opts.ChallengeTTL, logger.With("component", "challenges")),
		registry:   NewRegistry(),
		tokens:     NewUploadTokenStore(opts.UploadTokenTTL),
		infos:      NewPendingTable[FileInfo](opts.RequestTimeout, logger.With("component", "pending", "table", "fileinfo")),
		uploads:    NewPendingTable[*UploadStream](opts.RequestTimeout, logger.With("component", "pending", "table", "upload")),
		store:      st,
		logger:     logger.With("component", "coordinator"),
	}
}

// OnConnect issues a challenge for the new connection and sends it down the
// channel. The connection stays untrusted until OnLogin succeeds.
func (c *Coordinator) OnConnect(connID string) error {
	token := c.challenges.Issue(connID)
	env := protocol.NewEnvelope(protocol.TypeAuthChallenge, protocol.AuthChallenge{Token: token})
	if err := c.sender.Send(connID, env); err != nil {
		c.challenges.Forget(connID)
		return fmt.Errorf("sending challenge: %w", err)
	}
	c.logger.Debug("challenge issued", "conn_id", connID)
	return nil
}

// OnLogin validates the challenge response and, on success, registers the
// connection under agentName. On failure any stray registration for the
// connection is removed defensively. Never raises; the boolean is the
// handshake outcome.
func (c *Coordinator) OnLogin(ctx context.Context, connID, agentName, response string) bool {
	if !c.challenges.Validate(ctx, connID, agentName, response) {
		c.registry.TryRemove(connID)
		c.logger.Warn("agent login rejected", "conn_id", connID, "agent", agentName)
		_ = c.store.Append(ctx, agentName, "login.rejected", "")
		return false
	}

	displaced := c.registry.Register(connID, agentName)
	if displaced != "" {
		// Last-authenticated-wins: the old connection keeps its channel but
		// can no longer receive trusted work, so fail its outstanding entries.
		c.failOutstanding(displaced)
		c.logger.Warn("agent name rebound, displacing connection",
			"agent", agentName, "old_conn_id", displaced, "conn_id", connID)
		_ = c.store.Append(ctx, agentName, "login.displaced", displaced)
	}

	c.logger.Info("agent authenticated", "agent", agentName, "conn_id", connID, "agents", c.registry.Len())
	_ = c.store.Append(ctx, agentName, "login.success", "")
	_ = c.store.TouchLogin(ctx, agentName)
	return true
}

// OnDisconnect evicts the connection from the registry, drops any unconsumed
// challenge, and fails every outstanding pending entry tied to the
// connection with ErrConnectionLost.
func (c *Coordinator) OnDisconnect(connID string) {
	c.challenges.Forget(connID)
	failed := c.failOutstanding(connID)

	if name, ok := c.registry.TryRemove(connID); ok {
		c.logger.Info("agent disconnected", "agent", name, "conn_id", connID,
			"failed_requests", failed, "agents", c.registry.Len())
	}
}

// OnFileInfoReply resolves the inquiry identified by correlationID. Unknown
// or already-resolved ids are ignored.
func (c *Coordinator) OnFileInfoReply(correlationID string, exists bool, length int64) {
	c.infos.Resolve(correlationID, FileInfo{Exists: exists, Length: length})
}

// OnUploadFailure fails the upload entry identified by correlationID with
// the agent's reported reason. Unknown ids are ignored.
func (c *Coordinator) OnUploadFailure(correlationID, reason string) {
	err := ErrUploadRejected
	if reason != "" {
		err = fmt.Errorf("%w: %s", ErrUploadRejected, reason)
	}
	c.uploads.Fail(correlationID, err)
}

// RequestFileInfo asks the agent registered under agentName whether it has
// filename. The returned future completes when the agent's reply arrives,
// the request times out, or the connection is lost; the call itself never
// blocks beyond entry creation and the channel send.
func (c *Coordinator) RequestFileInfo(agentName, filename string) (*Future[FileInfo], error) {
	connID, ok := c.registry.ConnectionFor(agentName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentOffline, agentName)
	}

	id, fut := c.infos.Create(connID)
	env := protocol.NewEnvelope(protocol.TypeFileInfoRequest, protocol.FileInfoRequest{
		Filename:      filename,
		CorrelationID: id,
	})
	if err := c.sender.Send(connID, env); err != nil {
		c.infos.Fail(id, err)
		return nil, fmt.Errorf("sending file info request: %w", err)
	}

	c.logger.Debug("file info requested", "agent", agentName, "filename", filename, "request_id", id)
	return fut, nil
}

// RequestFile asks the agent registered under agentName to push filename.
// The returned future completes with a stream handle when the agent delivers
// the file through the upload endpoint, or with an error on agent-reported
// failure, timeout, or connection loss.
func (c *Coordinator) RequestFile(agentName, filename string) (*Future[*UploadStream], error) {
	connID, ok := c.registry.ConnectionFor(agentName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentOffline, agentName)
	}

	id, fut := c.uploads.Create(connID)
	env := protocol.NewEnvelope(protocol.TypeFileRequest, protocol.FileRequest{
		Filename:      filename,
		CorrelationID: id,
	})
	if err := c.sender.Send(connID, env); err != nil {
		c.uploads.Fail(id, err)
		return nil, fmt.Errorf("sending file request: %w", err)
	}

	c.logger.Debug("file requested", "agent", agentName, "filename", filename, "request_id", id)
	return fut, nil
}

// GrantUploadToken issues a single-use upload token scoped to the agent
// authenticated on connID. Requesting a token from an unregistered
// connection is a protocol violation and surfaces as ErrUnauthorized.
func (c *Coordinator) GrantUploadToken(connID string) (string, error) {
	agentName, ok := c.registry.TryGet(connID)
	if !ok {
		return "", ErrUnauthorized
	}
	token := c.tokens.IssueFor(agentName)
	c.logger.Debug("upload token issued", "agent", agentName, "conn_id", connID)
	return token, nil
}

// RedeemUploadToken consumes token and returns the agent it was scoped to.
// Used by the upload endpoint to authorize a delivery.
func (c *Coordinator) RedeemUploadToken(token string) (string, bool) {
	return c.tokens.Redeem(token)
}

// DeliverUpload hands the inbound byte stream for correlationID to the
// waiting future and blocks until the consumer finishes reading or ctx
// expires. The body must remain readable until DeliverUpload returns.
func (c *Coordinator) DeliverUpload(ctx context.Context, agentName, correlationID, filename string, length int64, body io.Reader) error {
	stream := NewUploadStream(filename, length, body)
	if !c.uploads.Resolve(correlationID, stream) {
		return fmt.Errorf("no pending upload for id %s", correlationID)
	}

	_ = c.store.Append(ctx, agentName, "upload.delivered", filename)
	if err := stream.Wait(ctx); err != nil {
		return fmt.Errorf("consuming upload: %w", err)
	}
	return nil
}

// AgentNames returns the names of all currently authenticated agents.
func (c *Coordinator) AgentNames() []string {
	return c.registry.Names()
}

// IsOnline reports whether an agent with the given name is authenticated.
func (c *Coordinator) IsOnline(agentName string) bool {
	_, ok := c.registry.ConnectionFor(agentName)
	return ok
}

// Close stops the janitors and fails all outstanding entries. The
// coordinator must not be used afterwards.
func (c *Coordinator) Close() {
	c.infos.Close()
	c.uploads.Close()
	c.tokens.Close()
}

func (c *Coordinator) failOutstanding(connID string) int {
	n := c.infos.FailConn(connID, ErrConnectionLost)
	n += c.uploads.FailConn(connID, ErrConnectionLost)
	return n
}
