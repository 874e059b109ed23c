package broker

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"oracle-trader/internal/wire"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeServer is the broker side of a net.Pipe. It decodes inbound frames and
// hands each envelope to the test; replies go out through send.
type fakeServer struct {
	conn net.Conn

	mu       sync.Mutex
	received []wire.Envelope
	notify   chan wire.Envelope
}

func newFakeServer(t *testing.T) (*fakeServer, Dialer) {
	t.Helper()
	clientEnd, serverEnd := net.Pipe()
	fs := &fakeServer{conn: serverEnd, notify: make(chan wire.Envelope, 16)}
	go fs.readLoop()
	t.Cleanup(func() { serverEnd.Close() })

	dial := func(ctx context.Context, addr string) (net.Conn, error) {
		return clientEnd, nil
	}
	return fs, dial
}

func (fs *fakeServer) readLoop() {
	var dec wire.FrameDecoder
	buf := make([]byte, 4096)
	for {
		n, err := fs.conn.Read(buf)
		if err != nil {
			return
		}
		frames, err := dec.Feed(buf[:n])
		if err != nil {
			return
		}
		for _, raw := range frames {
			env, err := wire.UnmarshalEnvelope(raw)
			if err != nil {
				continue
			}
			fs.mu.Lock()
			fs.received = append(fs.received, env)
			fs.mu.Unlock()
			select {
			case fs.notify <- env:
			default:
			}
		}
	}
}

func (fs *fakeServer) send(t *testing.T, env wire.Envelope) {
	t.Helper()
	if _, err := fs.conn.Write(wire.EncodeFrame(wire.MarshalEnvelope(env))); err != nil {
		t.Fatalf("server write: %v", err)
	}
}

func (fs *fakeServer) waitFor(t *testing.T, payloadType uint32) wire.Envelope {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case env := <-fs.notify:
			if env.PayloadType == payloadType {
				return env
			}
		case <-deadline:
			t.Fatalf("server never received payload type %d", payloadType)
		}
	}
}

func newTestClient(t *testing.T) (*Client, *fakeServer) {
	t.Helper()
	fs, dial := newFakeServer(t)
	c := NewClient("test.invalid", 0, dial, testLogger())
	return c, fs
}

func TestSendRequestRoundTrip(t *testing.T) {
	t.Parallel()

	c, fs := newTestClient(t)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()

	go func() {
		req := fs.waitFor(t, wire.PayloadVersionReq)
		fs.send(t, wire.Envelope{
			PayloadType: wire.PayloadVersionRes,
			Payload:     []byte{0x0a, 0x01, 0x35},
			ClientMsgID: req.ClientMsgID,
		})
	}()

	pt, payload, err := c.SendRequest(context.Background(), wire.PayloadVersionReq, BuildVersionReq())
	if err != nil {
		t.Fatalf("send request: %v", err)
	}
	if pt != wire.PayloadVersionRes {
		t.Fatalf("payload type = %d, want %d", pt, wire.PayloadVersionRes)
	}
	if len(payload) != 3 {
		t.Fatalf("payload length = %d, want 3", len(payload))
	}
}

func TestRequestsCorrelateOutOfOrder(t *testing.T) {
	t.Parallel()

	c, fs := newTestClient(t)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()

	// Hold the first request and answer the second one first.
	go func() {
		first := fs.waitFor(t, wire.PayloadTraderReq)
		second := fs.waitFor(t, wire.PayloadReconcileReq)
		fs.send(t, wire.Envelope{PayloadType: wire.PayloadReconcileRes, ClientMsgID: second.ClientMsgID})
		fs.send(t, wire.Envelope{PayloadType: wire.PayloadTraderRes, ClientMsgID: first.ClientMsgID})
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	var firstType, secondType uint32
	go func() {
		defer wg.Done()
		firstType, _, _ = c.SendRequest(context.Background(), wire.PayloadTraderReq, BuildTraderReq(1))
	}()
	time.Sleep(50 * time.Millisecond)
	go func() {
		defer wg.Done()
		secondType, _, _ = c.SendRequest(context.Background(), wire.PayloadReconcileReq, BuildReconcileReq(1))
	}()
	wg.Wait()

	if firstType != wire.PayloadTraderRes {
		t.Errorf("first response type = %d, want %d", firstType, wire.PayloadTraderRes)
	}
	if secondType != wire.PayloadReconcileRes {
		t.Errorf("second response type = %d, want %d", secondType, wire.PayloadReconcileRes)
	}
}

func TestEventDispatch(t *testing.T) {
	t.Parallel()

	c, fs := newTestClient(t)

	events := make(chan uint32, 1)
	c.SetMessageHandler(func(payloadType uint32, payload []byte) {
		events <- payloadType
	})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()

	fs.send(t, wire.Envelope{PayloadType: wire.PayloadSpotEvent, Payload: []byte{0x18, 0x01}})

	select {
	case pt := <-events:
		if pt != wire.PayloadSpotEvent {
			t.Fatalf("event type = %d, want %d", pt, wire.PayloadSpotEvent)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event never dispatched")
	}
}

func TestSendRequestContextCancelled(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, _, err := c.SendRequest(ctx, wire.PayloadTraderReq, BuildTraderReq(1))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestDisconnectFailsPending(t *testing.T) {
	t.Parallel()

	c, fs := newTestClient(t)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, _, err := c.SendRequest(context.Background(), wire.PayloadTraderReq, BuildTraderReq(1))
		errCh <- err
	}()
	fs.waitFor(t, wire.PayloadTraderReq)

	c.Disconnect()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrShutdown) {
			t.Fatalf("err = %v, want ErrShutdown", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending request never failed")
	}
	if c.IsConnected() {
		t.Fatal("still reports connected after Disconnect")
	}
}

func TestSendRequestWhileDisconnected(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t)
	_, _, err := c.SendRequest(context.Background(), wire.PayloadTraderReq, BuildTraderReq(1))
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("err = %v, want ErrConnection", err)
	}
}

func TestTransportLossInvokesDisconnectHandler(t *testing.T) {
	t.Parallel()

	c, fs := newTestClient(t)

	dropped := make(chan string, 1)
	c.SetDisconnectHandler(func(reason string) {
		dropped <- reason
	})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	fs.conn.Close()

	select {
	case <-dropped:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect handler never invoked")
	}
	if c.IsConnected() {
		t.Fatal("still reports connected after transport loss")
	}
}
