package console

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/hostbooth/gatescan/internal/checkin"
	"github.com/hostbooth/gatescan/pkg/protocol"
)

// maxMessageSize bounds console frames; nothing the UI sends is large.
const maxMessageSize = 16 * 1024

const (
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
	pingInterval  = 30 * time.Second
)

// Client is a single console WebSocket connection.
type Client struct {
	id     string
	conn   *websocket.Conn
	server *Server
	send   chan []byte

	// Token bucket for manual entry submissions: a stuck keyboard or a
	// misbehaving UI must not hammer the coordinator.
	manualLimiter *rate.Limiter
}

func newClient(conn *websocket.Conn, server *Server) *Client {
	limit := rate.Limit(0)
	if server.manualRPM > 0 {
		limit = rate.Limit(float64(server.manualRPM) / 60.0)
	}
	burst := server.manualBurst
	if burst <= 0 {
		burst = 5
	}
	return &Client{
		id:            uuid.NewString(),
		conn:          conn,
		server:        server,
		send:          make(chan []byte, 64),
		manualLimiter: rate.NewLimiter(limit, burst),
	}
}

// ID returns the client's unique identifier.
func (c *Client) ID() string { return c.id }

// Run starts the read and write pumps and blocks until the connection ends.
// The server closes the send channel after unregistering the client, so no
// broadcast can race the close.
func (c *Client) Run(ctx context.Context) {
	go c.writePump()
	c.readPump(ctx)
}

// closeSend releases the write pump. Must only be called after the client
// is unregistered from the server.
func (c *Client) closeSend() {
	close(c.send)
}

func (c *Client) readPump(ctx context.Context) {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("console read error", "client", c.id, "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		c.handleFrame(ctx, data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleFrame(ctx context.Context, data []byte) {
	frameType, err := protocol.ParseFrameType(data)
	if err != nil || frameType != protocol.FrameTypeRequest {
		c.sendError("", protocol.ErrInvalidRequest, "expected a request frame")
		return
	}

	var req protocol.RequestFrame
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError("", protocol.ErrInvalidRequest, "malformed request: "+err.Error())
		return
	}

	switch req.Method {
	case protocol.MethodConnect:
		c.handleConnect(&req)

	case protocol.MethodStatusGet:
		c.sendResponse(protocol.NewOKResponse(req.ID, c.statusPayload()))

	case protocol.MethodManualEntry:
		c.handleManualEntry(ctx, &req)

	case protocol.MethodScannerStart:
		if c.server.startScanner == nil {
			c.sendError(req.ID, protocol.ErrUnavailable, "no camera configured")
			return
		}
		if err := c.server.startScanner(); err != nil {
			c.sendError(req.ID, protocol.ErrUnavailable, err.Error())
			return
		}
		c.sendResponse(protocol.NewOKResponse(req.ID, c.statusPayload()))

	case protocol.MethodScannerStop:
		if c.server.stopScanner == nil {
			c.sendError(req.ID, protocol.ErrUnavailable, "no camera configured")
			return
		}
		c.server.stopScanner()
		c.sendResponse(protocol.NewOKResponse(req.ID, c.statusPayload()))

	default:
		c.sendError(req.ID, protocol.ErrInvalidRequest, "unknown method: "+req.Method)
	}
}

// handleConnect validates the declared protocol version, if any, and
// answers with the current status snapshot.
func (c *Client) handleConnect(req *protocol.RequestFrame) {
	if len(req.Params) > 0 {
		var params protocol.ConnectParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			c.sendError(req.ID, protocol.ErrInvalidRequest, "malformed params")
			return
		}
		if params.Version != 0 && params.Version != protocol.ProtocolVersion {
			c.sendError(req.ID, protocol.ErrInvalidRequest,
				fmt.Sprintf("unsupported protocol version %d (engine speaks %d)", params.Version, protocol.ProtocolVersion))
			return
		}
	}
	c.sendResponse(protocol.NewOKResponse(req.ID, c.statusPayload()))
}

// handleManualEntry feeds a typed code through the same coordinator as the
// camera path. Manual input is always a bare token, no URL extraction.
func (c *Client) handleManualEntry(ctx context.Context, req *protocol.RequestFrame) {
	if !c.manualLimiter.Allow() {
		c.sendError(req.ID, protocol.ErrRateLimited, "too many manual entries")
		return
	}

	var params protocol.ManualEntryParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		c.sendError(req.ID, protocol.ErrInvalidRequest, "malformed params")
		return
	}

	code, err := checkin.ParseCode(params.Code)
	if err != nil {
		c.sendError(req.ID, protocol.ErrInvalidCode, "not a valid check-in code")
		return
	}

	if !c.server.coord.Submit(ctx, code, checkin.SourceManual) {
		c.sendError(req.ID, protocol.ErrBusy, "a check-in is already being processed")
		return
	}
	c.sendResponse(protocol.NewOKResponse(req.ID, map[string]bool{"accepted": true}))
}

func (c *Client) statusPayload() protocol.StatePayload {
	state, message, attendee, camera := c.server.coord.Snapshot()
	return protocol.StatePayload{
		State:    string(state),
		Message:  message,
		Attendee: attendee,
		Camera:   camera,
	}
}

func (c *Client) sendResponse(resp *protocol.ResponseFrame) {
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error("marshal console response failed", "error", err)
		return
	}
	c.enqueue(data)
}

// SendEvent queues an event frame, dropping it if the client is slow.
func (c *Client) SendEvent(event *protocol.EventFrame) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("marshal console event failed", "error", err)
		return
	}
	c.enqueue(data)
}

func (c *Client) enqueue(data []byte) {
	select {
	case c.send <- data:
	default:
		slog.Warn("console client send buffer full, dropping frame", "client", c.id)
	}
}

func (c *Client) sendError(id, code, message string) {
	c.sendResponse(protocol.NewErrorResponse(id, code, message))
}
