package elmax

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// pushServer serves the push websocket on a fakeAPI. The first failFirst
// upgrade attempts are refused with 503, later ones run script.
type pushServer struct {
	api      *fakeAPI
	attempts atomic.Int32
	authz    atomic.Value
}

func newPushServer(t *testing.T, failFirst int32, script func(conn *websocket.Conn)) *pushServer {
	t.Helper()
	s := &pushServer{api: newFakeAPI(t)}
	upgrader := websocket.Upgrader{}

	s.api.handle("/push", func(w http.ResponseWriter, r *http.Request) {
		s.authz.Store(r.Header.Get("Authorization"))
		if s.attempts.Add(1) <= failFirst {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		script(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	return s
}

func (s *pushServer) handler(t *testing.T, opts ...PushOption) (*PushNotificationHandler, *Client) {
	t.Helper()
	client := s.api.localClient()
	endpoint, err := client.PushEndpoint()
	if err != nil {
		t.Fatalf("PushEndpoint: %v", err)
	}
	opts = append([]PushOption{WithPushErrorWait(10 * time.Millisecond)}, opts...)
	h, err := NewPushNotificationHandler(endpoint, client, opts...)
	if err != nil {
		t.Fatalf("NewPushNotificationHandler: %v", err)
	}
	return h, client
}

func panelMessage(id string) []byte {
	return fmt.Appendf(nil, `{"centrale":%q,"release":11,"zone":[]}`, id)
}

// stateRecorder collects state transitions.
type stateRecorder struct {
	mu     sync.Mutex
	states []PushState
}

func (r *stateRecorder) record(s PushState) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *stateRecorder) snapshot() []PushState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]PushState(nil), r.states...)
}

// collector records the panel IDs of dispatched messages.
type collector struct {
	mu  sync.Mutex
	ids []string
	got chan struct{}
}

func newCollector() *collector {
	return &collector{got: make(chan struct{}, 100)}
}

func (c *collector) HandlePanelStatus(_ context.Context, status *PanelStatus) error {
	c.mu.Lock()
	c.ids = append(c.ids, status.PanelID)
	c.mu.Unlock()
	c.got <- struct{}{}
	return nil
}

func (c *collector) received() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ids...)
}

func (c *collector) wait(t *testing.T, n int) {
	t.Helper()
	for range n {
		select {
		case <-c.got:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for messages, got %v", c.received())
		}
	}
}

func waitDone(t *testing.T, h *PushNotificationHandler) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("push loop did not stop")
	}
}

func TestNewPushNotificationHandler(t *testing.T) {
	client, _ := NewClient(testUsername, testPassword)

	if _, err := NewPushNotificationHandler("", client); !errors.Is(err, ErrEmptyPushEndpoint) {
		t.Errorf("error = %v, want ErrEmptyPushEndpoint", err)
	}
	if _, err := NewPushNotificationHandler("wss://panel/push", nil); err == nil {
		t.Error("expected error for nil authenticator")
	}

	h, err := NewPushNotificationHandler("wss://panel/push", client,
		WithPushErrorWait(time.Second),
		WithPushHandshakeTimeout(2*time.Second),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.errorWait != time.Second || h.dialer.HandshakeTimeout != 2*time.Second {
		t.Errorf("options not applied: wait=%v handshake=%v", h.errorWait, h.dialer.HandshakeTimeout)
	}
	if h.State() != PushStopped {
		t.Errorf("State() = %v, want stopped", h.State())
	}
	select {
	case <-h.Done():
	default:
		t.Error("Done should be closed before Start")
	}
}

func TestPushNotificationHandler_Register(t *testing.T) {
	client, _ := NewClient(testUsername, testPassword)
	h, _ := NewPushNotificationHandler("wss://panel/push", client)

	id1 := h.Register(newCollector())
	id2 := h.RegisterFunc(func(context.Context, *PanelStatus) error { return nil })
	if id1 == 0 || id2 == 0 || id1 == id2 {
		t.Errorf("ids = %d, %d", id1, id2)
	}
	if h.Register(nil) != 0 || h.RegisterFunc(nil) != 0 {
		t.Error("nil handlers should not be registered")
	}
	if n := h.HandlerCount(); n != 2 {
		t.Errorf("HandlerCount() = %d, want 2", n)
	}

	h.Unregister(id1)
	h.Unregister(HandlerID(999))
	if n := h.HandlerCount(); n != 1 {
		t.Errorf("HandlerCount() = %d, want 1", n)
	}
}

func TestPushNotificationHandler_ReconnectThenStream(t *testing.T) {
	server := newPushServer(t, 3, func(conn *websocket.Conn) {
		for _, id := range []string{"p1", "p2", "p3"} {
			conn.WriteMessage(websocket.TextMessage, panelMessage(id))
		}
	})
	h, client := server.handler(t)

	var rec stateRecorder
	h.OnStateChange(rec.record)
	c := newCollector()
	h.Register(c)

	start := time.Now()
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	c.wait(t, 3)
	elapsed := time.Since(start)

	h.Stop()
	waitDone(t, h)

	if got := c.received(); strings.Join(got, ",") != "p1,p2,p3" {
		t.Errorf("received %v, want [p1 p2 p3] in order", got)
	}
	if elapsed < 30*time.Millisecond {
		t.Errorf("elapsed = %v, want at least three error waits", elapsed)
	}

	states := rec.snapshot()
	want := []PushState{
		PushConnecting, PushErrorBackoff,
		PushConnecting, PushErrorBackoff,
		PushConnecting, PushErrorBackoff,
		PushConnecting, PushStreaming,
	}
	if len(states) < len(want)+1 {
		t.Fatalf("states = %v", states)
	}
	for i, s := range want {
		if states[i] != s {
			t.Errorf("states[%d] = %v, want %v (all: %v)", i, states[i], s, states)
		}
	}
	if last := states[len(states)-1]; last != PushStopped {
		t.Errorf("final state = %v, want stopped", last)
	}

	// Every connection attempt logs in first.
	if n := server.api.loginCount(); n != 4 {
		t.Errorf("login count = %d, want 4", n)
	}
	if got, _ := server.authz.Load().(string); got != client.Token().Raw {
		t.Errorf("push Authorization = %q, want the bare token", got)
	}
}

func TestPushNotificationHandler_StopWhileStreaming(t *testing.T) {
	server := newPushServer(t, 0, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, panelMessage("first"))
		conn.WriteMessage(websocket.TextMessage, panelMessage("second"))
	})
	h, _ := server.handler(t)

	entered := make(chan context.Context, 1)
	release := make(chan struct{})
	var calls atomic.Int32
	h.RegisterFunc(func(ctx context.Context, status *PanelStatus) error {
		if calls.Add(1) == 1 {
			entered <- ctx
			<-release
		}
		return nil
	})

	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var handlerCtx context.Context
	select {
	case handlerCtx = <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first message was not dispatched")
	}
	if h.State() != PushStreaming {
		t.Errorf("State() = %v, want streaming", h.State())
	}

	h.Stop()
	select {
	case <-handlerCtx.Done():
	default:
		t.Error("handler context should be cancelled when Stop returns")
	}
	close(release)
	waitDone(t, h)

	if n := calls.Load(); n != 1 {
		t.Errorf("handler calls = %d, want 1", n)
	}
	if h.State() != PushStopped {
		t.Errorf("State() = %v, want stopped", h.State())
	}
}

func TestPushNotificationHandler_NoDispatchAfterStop(t *testing.T) {
	for i := range 20 {
		t.Run(fmt.Sprintf("run %d", i), func(t *testing.T) {
			server := newPushServer(t, 0, func(conn *websocket.Conn) {
				conn.WriteMessage(websocket.TextMessage, panelMessage("first"))
				conn.WriteMessage(websocket.TextMessage, panelMessage("second"))
			})
			h, _ := server.handler(t)

			entered := make(chan struct{})
			release := make(chan struct{})
			var stopped atomic.Bool
			var late atomic.Int32
			var calls atomic.Int32
			h.RegisterFunc(func(context.Context, *PanelStatus) error {
				if stopped.Load() {
					late.Add(1)
				}
				if calls.Add(1) == 1 {
					close(entered)
					<-release
				}
				return nil
			})

			if err := h.Start(context.Background()); err != nil {
				t.Fatalf("Start: %v", err)
			}
			select {
			case <-entered:
			case <-time.After(5 * time.Second):
				t.Fatal("first message was not dispatched")
			}

			// Give the reader time to queue the second message.
			time.Sleep(20 * time.Millisecond)
			h.Stop()
			stopped.Store(true)
			close(release)
			waitDone(t, h)

			if n := late.Load(); n != 0 {
				t.Errorf("dispatches after Stop returned = %d, want 0", n)
			}
			if n := calls.Load(); n != 1 {
				t.Errorf("handler calls = %d, want 1", n)
			}
		})
	}
}

func TestPushNotificationHandler_HandlerIsolation(t *testing.T) {
	server := newPushServer(t, 0, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, panelMessage("a"))
		conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		conn.WriteMessage(websocket.TextMessage, panelMessage("b"))
	})
	h, _ := server.handler(t)

	h.RegisterFunc(func(context.Context, *PanelStatus) error {
		panic("handler bug")
	})
	h.RegisterFunc(func(context.Context, *PanelStatus) error {
		return errors.New("handler failed")
	})
	c := newCollector()
	h.Register(c)

	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	c.wait(t, 2)
	h.Stop()
	waitDone(t, h)

	if got := c.received(); strings.Join(got, ",") != "a,b" {
		t.Errorf("received %v, want [a b]", got)
	}
	if n := server.attempts.Load(); n != 1 {
		t.Errorf("connection attempts = %d, want 1", n)
	}
}

func TestPushNotificationHandler_Lifecycle(t *testing.T) {
	server := newPushServer(t, 0, func(conn *websocket.Conn) {})
	h, _ := server.handler(t)

	ctx, cancel := context.WithCancel(context.Background())
	if err := h.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.Start(ctx); !errors.Is(err, ErrPushRunning) {
		t.Errorf("second Start error = %v, want ErrPushRunning", err)
	}

	// Cancelling the parent context stops the loop.
	cancel()
	waitDone(t, h)

	// The handler can be restarted after it stopped.
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	h.Stop()
	h.Stop()
	waitDone(t, h)
}

type failingAuth struct {
	calls atomic.Int32
}

func (a *failingAuth) Login(context.Context) (*Token, error) {
	a.calls.Add(1)
	return nil, ErrBadLogin
}

func TestPushNotificationHandler_LoginFailure(t *testing.T) {
	auth := &failingAuth{}
	h, err := NewPushNotificationHandler("ws://127.0.0.1:1/push", auth, WithPushErrorWait(5*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	backoffs := make(chan struct{}, 100)
	h.OnStateChange(func(s PushState) {
		if s == PushErrorBackoff {
			backoffs <- struct{}{}
		}
	})

	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for range 2 {
		select {
		case <-backoffs:
		case <-time.After(5 * time.Second):
			t.Fatal("loop did not back off after login failure")
		}
	}
	h.Stop()
	waitDone(t, h)

	if n := auth.calls.Load(); n < 2 {
		t.Errorf("login calls = %d, want at least 2", n)
	}
}

func TestPushState_String(t *testing.T) {
	tests := []struct {
		state PushState
		want  string
	}{
		{PushStopped, "stopped"},
		{PushConnecting, "connecting"},
		{PushStreaming, "streaming"},
		{PushErrorBackoff, "error_backoff"},
		{PushState(9), "PushState(9)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
