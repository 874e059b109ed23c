// client.go implements the raw protocol client: one TLS connection, a
// reader goroutine feeding the frame decoder, a map of outstanding requests
// keyed by correlation id, and a liveness heartbeat.
//
// Responses are matched to their waiters by correlation id in wire arrival
// order; frames without a matching correlation id go to the registered
// event handler. No ordering is promised between requests and events.
package broker

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"oracle-trader/internal/wire"
)

const (
	requestTimeout    = 10 * time.Second
	heartbeatInterval = 10 * time.Second
	connectTimeout    = 15 * time.Second
	writeTimeout      = 10 * time.Second
)

// response is what a waiter receives when its correlation id completes.
type response struct {
	payloadType uint32
	payload     []byte
}

// MessageHandler receives unsolicited events by payload type.
type MessageHandler func(payloadType uint32, payload []byte)

// DisconnectHandler is invoked once per connection teardown with a reason.
type DisconnectHandler func(reason string)

// Open API endpoints by environment.
const (
	DemoHost    = "demo.ctraderapi.com"
	LiveHost    = "live.ctraderapi.com"
	DefaultPort = 5035
)

// Dialer opens the transport. Swapped out in tests and dry runs.
type Dialer func(ctx context.Context, addr string) (net.Conn, error)

// Client is the raw protocol client. It owns exactly one transport at a
// time; Connect and Disconnect are explicit, and a dropped connection is
// reported through the disconnect handler rather than retried here.
type Client struct {
	addr   string
	dial   Dialer
	logger *slog.Logger

	connMu  sync.Mutex
	conn    net.Conn
	writeMu sync.Mutex

	connected atomic.Bool

	pendingMu sync.Mutex
	pending   map[string]chan response
	nextID    atomic.Uint64

	onMessage    MessageHandler
	onDisconnect DisconnectHandler

	loopCancel context.CancelFunc
	loopWG     sync.WaitGroup
}

// NewClient creates a client for host:port. A nil dialer means TLS over TCP.
func NewClient(host string, port int, dial Dialer, logger *slog.Logger) *Client {
	if dial == nil {
		dial = tlsDialer
	}
	return &Client{
		addr:    fmt.Sprintf("%s:%d", host, port),
		dial:    dial,
		pending: make(map[string]chan response),
		logger:  logger.With("component", "broker-client"),
	}
}

func tlsDialer(ctx context.Context, addr string) (net.Conn, error) {
	d := &tls.Dialer{NetDialer: &net.Dialer{Timeout: connectTimeout}}
	return d.DialContext(ctx, "tcp", addr)
}

// SetMessageHandler registers the single unsolicited-event callback.
// Must be called before Connect.
func (c *Client) SetMessageHandler(h MessageHandler) { c.onMessage = h }

// SetDisconnectHandler registers the teardown callback. Must be called
// before Connect.
func (c *Client) SetDisconnectHandler(h DisconnectHandler) { c.onDisconnect = h }

// IsConnected reports whether the transport is up.
func (c *Client) IsConnected() bool { return c.connected.Load() }

// Connect opens the transport and starts the read and heartbeat loops.
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn != nil {
		return nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	conn, err := c.dial(dialCtx, c.addr)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrConnection, c.addr, err)
	}
	c.conn = conn
	c.connected.Store(true)

	loopCtx, loopCancel := context.WithCancel(context.Background())
	c.loopCancel = loopCancel

	c.loopWG.Add(2)
	go c.readLoop(loopCtx, conn)
	go c.heartbeatLoop(loopCtx)

	c.logger.Info("transport connected", "addr", c.addr)
	return nil
}

// Disconnect tears the transport down. Idempotent. In-flight requests fail
// with a shutdown error.
func (c *Client) Disconnect() {
	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	cancel := c.loopCancel
	c.loopCancel = nil
	c.connMu.Unlock()

	if conn == nil {
		return
	}
	c.connected.Store(false)
	if cancel != nil {
		cancel()
	}
	conn.Close()
	c.loopWG.Wait()
	c.failAllPending()
	c.logger.Info("transport disconnected")
}

// SendRequest serializes a payload, registers a waiter under a fresh
// correlation id, and blocks until the matching response, the 10 s deadline,
// or ctx cancellation.
func (c *Client) SendRequest(ctx context.Context, payloadType uint32, payload []byte) (uint32, []byte, error) {
	if !c.connected.Load() {
		return 0, nil, ErrConnection
	}

	id := fmt.Sprintf("req-%d", c.nextID.Add(1))
	ch := make(chan response, 1)

	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.write(wire.Envelope{PayloadType: payloadType, Payload: payload, ClientMsgID: id}); err != nil {
		return 0, nil, err
	}

	timer := time.NewTimer(requestTimeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return 0, nil, ErrShutdown
		}
		return resp.payloadType, resp.payload, nil
	case <-timer.C:
		return 0, nil, fmt.Errorf("%w: type %d after %s", ErrTimeout, payloadType, requestTimeout)
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

// SendCommand serializes and sends a payload without registering a waiter.
func (c *Client) SendCommand(payloadType uint32, payload []byte) error {
	if !c.connected.Load() {
		return ErrConnection
	}
	return c.write(wire.Envelope{PayloadType: payloadType, Payload: payload})
}

func (c *Client) write(env wire.Envelope) error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return ErrConnection
	}

	frame := wire.EncodeFrame(wire.MarshalEnvelope(env))

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("%w: write: %v", ErrConnection, err)
	}
	return nil
}

func (c *Client) readLoop(ctx context.Context, conn net.Conn) {
	defer c.loopWG.Done()

	var dec wire.FrameDecoder
	buf := make([]byte, 32*1024)

	for {
		n, err := conn.Read(buf)
		if err != nil {
			if ctx.Err() == nil {
				c.teardown(fmt.Sprintf("read: %v", err))
			}
			return
		}

		frames, err := dec.Feed(buf[:n])
		if err != nil {
			c.teardown(fmt.Sprintf("framing: %v", err))
			return
		}

		for _, raw := range frames {
			env, err := wire.UnmarshalEnvelope(raw)
			if err != nil {
				c.logger.Error("bad envelope, skipping frame", "error", err)
				continue
			}
			c.dispatch(env)
		}
	}
}

func (c *Client) dispatch(env wire.Envelope) {
	if env.ClientMsgID != "" {
		c.pendingMu.Lock()
		ch, ok := c.pending[env.ClientMsgID]
		if ok {
			delete(c.pending, env.ClientMsgID)
		}
		c.pendingMu.Unlock()

		if ok {
			ch <- response{payloadType: env.PayloadType, payload: env.Payload}
			return
		}
		// Late response after its waiter timed out.
		c.logger.Debug("orphan response", "type", env.PayloadType, "id", env.ClientMsgID)
		return
	}

	if env.PayloadType == wire.PayloadHeartbeatEvent {
		return
	}
	if c.onMessage != nil {
		c.onMessage(env.PayloadType, env.Payload)
	}
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	defer c.loopWG.Done()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.SendCommand(wire.PayloadHeartbeatEvent, BuildHeartbeatEvent()); err != nil {
				// Fall back to a harmless inspection request.
				if err := c.SendCommand(wire.PayloadVersionReq, BuildVersionReq()); err != nil {
					c.logger.Warn("heartbeat failed", "error", err)
				}
			}
		}
	}
}

// teardown is called from the read loop on transport failure.
func (c *Client) teardown(reason string) {
	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	cancel := c.loopCancel
	c.loopCancel = nil
	c.connMu.Unlock()

	if conn == nil {
		return
	}
	c.connected.Store(false)
	if cancel != nil {
		cancel()
	}
	conn.Close()
	c.failAllPending()

	c.logger.Warn("transport lost", "reason", reason)
	if c.onDisconnect != nil {
		c.onDisconnect(reason)
	}
}

func (c *Client) failAllPending() {
	c.pendingMu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
}
