package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/logging"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/metrics"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/protocol"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/ratelimit"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/types"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// classifyFrame buckets an inbound frame type into the message class its
// rate budget is drawn from, per the volatile/normal/critical split C1
// enforces per connection.
func classifyFrame(frameType protocol.FrameType) ratelimit.MessageClass {
	switch frameType {
	case protocol.FrameCursorUpdate:
		return ratelimit.ClassVolatile
	case protocol.FrameGraphOp, protocol.FrameAwarenessUpdate, protocol.FrameTableDragStart, protocol.FrameTableDragEnd:
		return ratelimit.ClassNormal
	case protocol.FrameRequestGraphState:
		return ratelimit.ClassCritical
	default:
		return ratelimit.ClassNormal
	}
}

// wsConnection defines the interface for WebSocket connection operations,
// kept narrow so tests can substitute a fake without opening a real socket.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// connState is the lifecycle stage of one connection.
type connState int32

const (
	stateAwaitingAuth connState = iota
	stateAuthed
	stateClosed
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 15 * time.Second
	pongWait   = 5 * time.Second
	// readDeadline must clear two missed pings plus one pong wait before
	// the connection is considered dead, so a single slow round trip
	// never trips it.
	readDeadline   = 2*pingPeriod + pongWait
	handshakeWait  = 10 * time.Second
	outboundBuffer = 256
)

// Client is one participant's WebSocket connection. It implements
// types.ClientInterface and owns the read/write pump goroutine pair for
// the socket, adapted from the teacher's transport.Client with protobuf
// framing replaced by JSON protocol.Frame and a new auth/heartbeat layer.
type Client struct {
	conn wsConnection
	room types.Roomer

	id          types.UserIDType
	displayName types.DisplayNameType

	mu         sync.RWMutex
	permission types.Permission
	state      connState

	closeOnce sync.Once

	limiter *ratelimit.MessageLimiter

	send         chan []byte
	prioritySend chan []byte
}

// newClient constructs a Client in the AwaitingAuth state. The caller
// transitions it to Authed once the handshake (token validation, Access
// Oracle check, join frame) has succeeded, then starts the pumps.
func newClient(conn wsConnection, room types.Roomer, id types.UserIDType, displayName types.DisplayNameType) *Client {
	return &Client{
		conn:         conn,
		room:         room,
		id:           id,
		displayName:  displayName,
		permission:   types.PermissionNone,
		state:        stateAwaitingAuth,
		limiter:      ratelimit.NewMessageLimiter(),
		send:         make(chan []byte, outboundBuffer),
		prioritySend: make(chan []byte, outboundBuffer),
	}
}

// --- types.ClientInterface ---

func (c *Client) GetID() types.UserIDType { return c.id }

func (c *Client) GetDisplayName() types.DisplayNameType { return c.displayName }

func (c *Client) GetPermission() types.Permission {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.permission
}

func (c *Client) SetPermission(p types.Permission) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.permission = p
}

// SendFrame encodes payload as the given frame type and queues it for
// delivery, choosing the priority channel for frame types that must not
// wait behind a backlog of routine traffic.
func (c *Client) SendFrame(frameType string, payload any) {
	frame, err := protocol.Encode(protocol.FrameType(frameType), payload)
	if err != nil {
		logging.Error(context.Background(), "failed to encode frame", zap.String("frameType", frameType), zap.Error(err))
		return
	}
	data, err := json.Marshal(frame)
	if err != nil {
		logging.Error(context.Background(), "failed to marshal frame", zap.String("frameType", frameType), zap.Error(err))
		return
	}
	c.enqueue(frame.Type, data)
}

// SendRaw queues pre-encoded bytes (an already-framed CRDT relay) on the
// normal channel.
func (c *Client) SendRaw(data []byte) {
	c.enqueue("", data)
}

func (c *Client) isPriority(frameType protocol.FrameType) bool {
	switch frameType {
	case protocol.FrameJoinResult, protocol.FrameGraphState, protocol.FrameError, protocol.FrameSnapshotRecovery:
		return true
	default:
		return false
	}
}

// enqueue places an already-encoded frame on the right outbound channel.
// Unlike the teacher's SendProto, which drops the message and logs on a
// full channel, a full channel here closes the connection: a client that
// can't keep up with its own backlog is treated as unrecoverable rather
// than silently desynced.
func (c *Client) enqueue(frameType protocol.FrameType, data []byte) {
	c.mu.RLock()
	closed := c.state == stateClosed
	c.mu.RUnlock()
	if closed {
		return
	}

	ch := c.send
	if c.isPriority(frameType) {
		ch = c.prioritySend
	}

	select {
	case ch <- data:
	default:
		logging.Warn(context.Background(), "outbound channel full, closing connection",
			zap.String("userId", string(c.id)), zap.String("frameType", string(frameType)))
		c.Disconnect()
	}
}

// Disconnect closes the underlying socket exactly once; readPump's defer
// drives the rest of teardown (room notification, metrics).
func (c *Client) Disconnect() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = stateClosed
		c.mu.Unlock()
		c.conn.Close()
	})
}

func (c *Client) setAuthed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateAwaitingAuth {
		c.state = stateAuthed
	}
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == stateClosed
}

// readPump decodes inbound frames and hands them to the room. It is
// started only after the handshake succeeds, so every frame seen here
// belongs to an already-authed connection.
func (c *Client) readPump() {
	defer func() {
		c.room.HandleClientDisconnect(c)
		c.conn.Close()
		metrics.DecConnection()
	}()

	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var frame protocol.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			logging.Warn(context.Background(), "malformed frame", zap.String("userId", string(c.id)), zap.Error(err))
			c.SendFrame(string(protocol.FrameError), protocol.ErrorPayload{
				Code: protocol.ErrorCodeMalformedFrame, Message: "could not decode frame",
			})
			continue
		}

		if frame.Type == protocol.FramePing {
			c.SendFrame(string(protocol.FramePong), nil)
			continue
		}

		class := classifyFrame(frame.Type)
		if !c.limiter.Check(class) {
			metrics.RateLimitExceeded.WithLabelValues("ws_message", string(class)).Inc()
			if class == ratelimit.ClassVolatile {
				// Volatile traffic (cursor/viewport) is shed silently - the
				// next update supersedes a dropped one, so an error frame
				// would only add noise.
				continue
			}
			c.SendFrame(string(protocol.FrameError), protocol.ErrorPayload{
				Code: protocol.ErrorCodeRateLimited, Message: "rate limit exceeded",
			})
			continue
		}

		c.room.Dispatch(context.Background(), c, string(frame.Type), frame.Payload)
	}
}

// writePump drains the priority and normal outbound channels and drives
// the heartbeat ping, mirroring the teacher's dual-channel select loop
// with an added ticker branch for the liveness check.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.prioritySend:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logging.Warn(context.Background(), "error writing priority frame", zap.Error(err))
				return
			}

		case message, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logging.Warn(context.Background(), "error writing frame", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
