// ABOUTME: Wire protocol messages exchanged between the relay coordinator and agents.
// ABOUTME: JSON envelopes over WebSocket, discriminated by a type field.

// Package protocol defines the messages exchanged between the relay
// coordinator and its agents over the persistent WebSocket channel.
//
// All messages are JSON-encoded and share a common envelope with a "type"
// field that determines the payload structure.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message types carried in Envelope.Type.
const (
	TypeAuthChallenge      = "auth.challenge"
	TypeLogin              = "auth.login"
	TypeLoginAck           = "auth.login_ack"
	TypeFileInfoRequest    = "file.info_request"
	TypeFileInfoReply      = "file.info_reply"
	TypeFileRequest        = "file.request"
	TypeUploadFailed       = "file.upload_failed"
	TypeUploadTokenRequest = "upload_token.request"
	TypeUploadTokenGrant   = "upload_token.grant"
	TypeError              = "error"
)

// Envelope is the top-level wire format for all messages.
type Envelope struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"ts"`
	Payload   any       `json:"payload,omitempty"`
}

// NewEnvelope wraps payload in an envelope of the given type.
func NewEnvelope(msgType string, payload any) Envelope {
	return Envelope{Type: msgType, Timestamp: time.Now(), Payload: payload}
}

// DecodePayload unmarshals the envelope payload into dst. The payload
// arrives as generic JSON, so it round-trips through encoding/json.
func (e Envelope) DecodePayload(dst any) error {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decoding %s payload: %w", e.Type, err)
	}
	return nil
}

// AuthChallenge is sent by the coordinator immediately after an agent
// connects.
type AuthChallenge struct {
	Token string `json:"token"`
}

// Login is the agent's answer to the challenge.
type Login struct {
	AgentName string `json:"agent_name"`
	Response  string `json:"response"`
}

// LoginAck reports the handshake outcome to the agent.
type LoginAck struct {
	OK bool `json:"ok"`
}

// FileInfoRequest asks the agent whether it has a file and how long it is.
type FileInfoRequest struct {
	Filename      string `json:"filename"`
	CorrelationID string `json:"correlation_id"`
}

// FileInfoReply answers a FileInfoRequest out of band.
type FileInfoReply struct {
	CorrelationID string `json:"correlation_id"`
	Exists        bool   `json:"exists"`
	Length        int64  `json:"length"`
}

// FileRequest asks the agent to push a file to the coordinator's upload
// endpoint, citing the correlation id in the delivery.
type FileRequest struct {
	Filename      string `json:"filename"`
	CorrelationID string `json:"correlation_id"`
}

// UploadFailed reports that the agent could not deliver a requested file.
type UploadFailed struct {
	CorrelationID string `json:"correlation_id"`
	Reason        string `json:"reason,omitempty"`
}

// UploadTokenRequest asks the coordinator for a single-use upload token.
// Requires a completed login.
type UploadTokenRequest struct{}

// UploadTokenGrant carries the issued upload token.
type UploadTokenGrant struct {
	Token string `json:"token"`
}

// ErrorReply reports a protocol-level failure to the agent.
type ErrorReply struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
