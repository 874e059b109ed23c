// Package hub is the telemetry and control uplink: a JSON-over-websocket
// client that authenticates against the operator hub, streams telemetry and
// signal records, and executes control commands pushed from the other side.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	authTimeout  = 5 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

// Message is the hub wire envelope.
type Message struct {
	Type    string         `json:"type"`
	ID      string         `json:"id,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// CommandHandler executes one control command and returns its result record.
// Errors are reported back to the hub as error acks.
type CommandHandler func(ctx context.Context, action string, params map[string]any) (map[string]any, error)

// Client is the hub connection. Connect must succeed before any send; the
// orchestrator's reconnect loop calls Connect again whenever IsConnected
// reports false.
type Client struct {
	url        string
	token      string
	instanceID string
	onCommand  CommandHandler
	logger     *slog.Logger

	writeMu sync.Mutex
	conn    *websocket.Conn

	connected atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New creates a disconnected client.
func New(url, token, instanceID string, onCommand CommandHandler, logger *slog.Logger) *Client {
	if instanceID == "" {
		instanceID = "bot-v2"
	}
	return &Client{
		url:        url,
		token:      token,
		instanceID: instanceID,
		onCommand:  onCommand,
		logger:     logger.With("component", "hub"),
	}
}

// Connect dials the hub, runs the auth handshake, and starts the receive and
// ping loops.
func (c *Client) Connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial hub %s: %w", c.url, err)
	}

	auth := Message{
		Type: "auth",
		ID:   "auth-" + c.instanceID,
		Payload: map[string]any{
			"token":       c.token,
			"role":        "bot",
			"instance_id": c.instanceID,
		},
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(auth); err != nil {
		conn.Close()
		return fmt.Errorf("send auth: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(authTimeout))
	var resp Message
	if err := conn.ReadJSON(&resp); err != nil {
		conn.Close()
		return fmt.Errorf("read auth response: %w", err)
	}
	if status, _ := resp.Payload["status"].(string); status != "authenticated" {
		conn.Close()
		return fmt.Errorf("hub rejected auth: %v", resp.Payload)
	}
	conn.SetReadDeadline(time.Time{})

	loopCtx, loopCancel := context.WithCancel(context.Background())
	c.writeMu.Lock()
	c.conn = conn
	c.cancel = loopCancel
	c.writeMu.Unlock()
	c.connected.Store(true)

	c.wg.Add(2)
	go c.readLoop(loopCtx, conn)
	go c.pingLoop(loopCtx, conn)

	c.logger.Info("hub connected", "url", c.url, "instance_id", c.instanceID)
	return nil
}

// Disconnect closes the connection and stops the loops.
func (c *Client) Disconnect() {
	c.writeMu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.writeMu.Unlock()
	c.connected.Store(false)
	c.wg.Wait()
	c.logger.Info("hub disconnected")
}

// IsConnected reports whether the authenticated connection is up.
func (c *Client) IsConnected() bool { return c.connected.Load() }

// SendTelemetry ships one telemetry record. Returns false when disconnected
// or the write fails; the caller just retries on the next tick.
func (c *Client) SendTelemetry(data map[string]any) bool {
	return c.send(Message{
		Type:    "telemetry",
		ID:      fmt.Sprintf("tel-%d", time.Now().Unix()),
		Payload: data,
	})
}

// SendSignal ships one signal record.
func (c *Client) SendSignal(data map[string]any) bool {
	return c.send(Message{
		Type:    "signal",
		ID:      fmt.Sprintf("sig-%d", time.Now().Unix()),
		Payload: data,
	})
}

func (c *Client) sendAck(refID, status string, result map[string]any) bool {
	if result == nil {
		result = map[string]any{}
	}
	return c.send(Message{
		Type: "ack",
		Payload: map[string]any{
			"ref_id": refID,
			"status": status,
			"result": result,
		},
	})
}

func (c *Client) send(msg Message) bool {
	if !c.connected.Load() {
		return false
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return false
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(msg); err != nil {
		c.logger.Warn("hub send failed", "type", msg.Type, "error", err)
		c.connected.Store(false)
		return false
	}
	return true
}

// readLoop executes commands and swallows telemetry acks. Any read error
// marks the client disconnected; the reconnect loop takes it from there.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer c.wg.Done()
	defer c.connected.Store(false)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("hub receive error", "error", err)
			}
			return
		}
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.logger.Warn("bad hub message", "error", err)
			continue
		}

		switch msg.Type {
		case "command":
			c.handleCommand(ctx, msg)
		case "ack":
			// Telemetry/signal acks need no action.
		default:
			c.logger.Debug("unhandled hub message", "type", msg.Type)
		}
	}
}

func (c *Client) handleCommand(ctx context.Context, msg Message) {
	if c.onCommand == nil {
		return
	}
	action, _ := msg.Payload["action"].(string)
	params, _ := msg.Payload["params"].(map[string]any)
	c.logger.Info("command received", "action", action, "id", msg.ID)

	result, err := c.onCommand(ctx, action, params)
	if err != nil {
		c.logger.Error("command failed", "action", action, "error", err)
		c.sendAck(msg.ID, "error", map[string]any{"message": err.Error()})
		return
	}
	c.sendAck(msg.ID, "success", result)
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	defer c.wg.Done()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Warn("hub ping failed", "error", err)
				c.connected.Store(false)
				return
			}
		}
	}
}
