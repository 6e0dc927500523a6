// Package ws adapts a github.com/coder/websocket connection to the
// orchestrator.ClientChannel contract: binary frames are audio, text
// frames are control/JSON.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/duplexai/duplexcore/pkg/orchestrator"
)

// Channel adapts a *websocket.Conn to orchestrator.ClientChannel, mirroring
// BaSui01-agentflow's WebSocketStreamConnection: a mutex guards writes because a
// single websocket connection doesn't support concurrent writers, and
// Close is idempotent.
type Channel struct {
	conn   *websocket.Conn
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

// heartbeatPayload is the subset of a control message this layer must
// understand on its own, so heartbeats never have to reach the
// orchestrator's run loop (§8 idempotence law).
type heartbeatPayload struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// pongPayload is the §6 reply to a heartbeat: {"type":"pong",...}.
type pongPayload struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

const (
	heartbeatType = "heartbeat"
	pongType      = "pong"
)

func NewChannel(conn *websocket.Conn, logger *zap.Logger) *Channel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Channel{conn: conn, logger: logger.With(zap.String("component", "ws_channel"))}
}

// ReadMessage blocks for the next inbound frame. Text frames are treated as
// control messages; binary frames are treated as raw PCM audio. A
// heartbeat control message is answered with a pong frame directly here
// and then transparently skipped, so it never surfaces to the caller as a
// control message the orchestrator would have to special-case.
func (c *Channel) ReadMessage(ctx context.Context) ([]byte, bool, error) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return nil, false, fmt.Errorf("websocket read: %w", err)
		}

		if typ == websocket.MessageBinary {
			return data, false, nil
		}

		var hb heartbeatPayload
		if json.Unmarshal(data, &hb) == nil && hb.Type == heartbeatType {
			pong, err := json.Marshal(pongPayload{Type: pongType, SessionID: hb.SessionID})
			if err != nil {
				c.logger.Warn("pong marshal failed", zap.Error(err))
				continue
			}
			if err := c.writeRaw(ctx, pong); err != nil {
				c.logger.Warn("pong reply failed", zap.Error(err))
			}
			continue
		}

		return data, true, nil
	}
}

// WriteEvent marshals an orchestration event as JSON and sends it as a
// text frame.
func (c *Channel) WriteEvent(ctx context.Context, event orchestrator.OrchestrationEvent) error {
	data, err := marshalOutboundEvent(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return c.writeRaw(ctx, data)
}

func (c *Channel) writeRaw(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("channel closed")
	}
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// Close closes the underlying connection. Safe to call more than once.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close(websocket.StatusNormalClosure, "session ended")
}

// outboundEvent is the wire shape of an outbound event (§6): top-level
// "type", "sessionId" and "timestamp" (Unix ms) fields, with the
// event-specific payload nested under "payload".
type outboundEvent struct {
	Type      orchestrator.OrchestrationEventType `json:"type"`
	SessionID string                              `json:"sessionId"`
	Payload   interface{}                         `json:"payload"`
	Timestamp int64                               `json:"timestamp"`
}

func marshalOutboundEvent(event orchestrator.OrchestrationEvent) ([]byte, error) {
	return json.Marshal(outboundEvent{
		Type:      event.Type,
		SessionID: event.SessionID.String(),
		Payload:   event.Payload,
		Timestamp: event.Timestamp.UnixMilli(),
	})
}
