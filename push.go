package elmax

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultPushErrorWait is the wait before reconnecting after a push channel failure.
const DefaultPushErrorWait = 15 * time.Second

// PushState is the state of the push notification loop.
type PushState int32

// Push loop states.
const (
	PushStopped PushState = iota
	PushConnecting
	PushStreaming
	PushErrorBackoff
)

// String implements fmt.Stringer.
func (s PushState) String() string {
	switch s {
	case PushStopped:
		return "stopped"
	case PushConnecting:
		return "connecting"
	case PushStreaming:
		return "streaming"
	case PushErrorBackoff:
		return "error_backoff"
	}
	return fmt.Sprintf("PushState(%d)", int32(s))
}

// PushHandler receives panel snapshots from the push channel.
//
// The same *PanelStatus is passed to every handler and must not be modified.
// Errors and panics are logged and do not stop the loop.
type PushHandler interface {
	HandlePanelStatus(ctx context.Context, status *PanelStatus) error
}

// PushHandlerFunc adapts a function to PushHandler.
type PushHandlerFunc func(ctx context.Context, status *PanelStatus) error

// HandlePanelStatus calls f(ctx, status).
func (f PushHandlerFunc) HandlePanelStatus(ctx context.Context, status *PanelStatus) error {
	return f(ctx, status)
}

// HandlerID identifies a registered PushHandler.
type HandlerID uint64

// Authenticator issues tokens for the push channel. *Client implements it.
type Authenticator interface {
	Login(ctx context.Context) (*Token, error)
}

// PushOption configures a PushNotificationHandler.
type PushOption func(*PushNotificationHandler)

// WithPushErrorWait sets the wait before reconnecting after a failure.
func WithPushErrorWait(d time.Duration) PushOption {
	return func(h *PushNotificationHandler) {
		h.errorWait = d
	}
}

// WithPushLogger sets the logger of the push loop.
// Defaults to the client logger when the authenticator is a *Client.
func WithPushLogger(logger *slog.Logger) PushOption {
	return func(h *PushNotificationHandler) {
		h.logger = logger
	}
}

// WithPushTLSConfig sets the TLS configuration of the websocket dialer.
// Defaults to the client TLS configuration when the authenticator is a *Client.
func WithPushTLSConfig(cfg *tls.Config) PushOption {
	return func(h *PushNotificationHandler) {
		h.dialer.TLSClientConfig = cfg
	}
}

// WithPushHandshakeTimeout sets the websocket handshake timeout.
func WithPushHandshakeTimeout(d time.Duration) PushOption {
	return func(h *PushNotificationHandler) {
		h.dialer.HandshakeTimeout = d
	}
}

// PushNotificationHandler keeps a websocket to the panel push channel open,
// reconnecting after failures, and fans every snapshot out to the registered
// handlers.
//
// Each connection attempt logs in first so the websocket always gets a fresh
// token. Handlers are called concurrently for one message and all of them
// finish before the next message is read.
type PushNotificationHandler struct {
	endpoint  string
	auth      Authenticator
	dialer    *websocket.Dialer
	errorWait time.Duration
	logger    *slog.Logger

	mu            sync.RWMutex
	handlers      map[HandlerID]PushHandler
	onStateChange func(PushState)
	nextID        atomic.Uint64

	state atomic.Int32

	runMu    sync.Mutex
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewPushNotificationHandler creates a push handler for the given websocket
// endpoint. For a local panel the endpoint comes from Client.PushEndpoint.
func NewPushNotificationHandler(endpoint string, auth Authenticator, opts ...PushOption) (*PushNotificationHandler, error) {
	if endpoint == "" {
		return nil, ErrEmptyPushEndpoint
	}
	if auth == nil {
		return nil, fmt.Errorf("elmax: push authenticator cannot be nil")
	}

	h := &PushNotificationHandler{
		endpoint:  endpoint,
		auth:      auth,
		errorWait: DefaultPushErrorWait,
		handlers:  make(map[HandlerID]PushHandler),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: DefaultTimeout,
		},
	}
	if c, ok := auth.(*Client); ok {
		h.logger = c.logger
		h.dialer.TLSClientConfig = c.tlsConfig
	}

	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Register adds a handler and returns its ID. The handler receives messages
// starting with the next dispatch.
func (h *PushNotificationHandler) Register(handler PushHandler) HandlerID {
	if handler == nil {
		return 0
	}
	id := HandlerID(h.nextID.Add(1))
	h.mu.Lock()
	h.handlers[id] = handler
	h.mu.Unlock()
	return id
}

// RegisterFunc registers a plain function as a handler.
func (h *PushNotificationHandler) RegisterFunc(fn func(ctx context.Context, status *PanelStatus) error) HandlerID {
	if fn == nil {
		return 0
	}
	return h.Register(PushHandlerFunc(fn))
}

// Unregister removes a handler. Removing an unknown ID is a no-op.
func (h *PushNotificationHandler) Unregister(id HandlerID) {
	h.mu.Lock()
	delete(h.handlers, id)
	h.mu.Unlock()
}

// HandlerCount returns the number of registered handlers.
func (h *PushNotificationHandler) HandlerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.handlers)
}

// OnStateChange sets a callback invoked on every state transition.
// The callback runs on the loop goroutine and must not block.
func (h *PushNotificationHandler) OnStateChange(fn func(PushState)) {
	h.mu.Lock()
	h.onStateChange = fn
	h.mu.Unlock()
}

// State returns the current loop state.
func (h *PushNotificationHandler) State() PushState {
	return PushState(h.state.Load())
}

// Start runs the loop in a new goroutine until Stop is called or ctx is done.
// Returns ErrPushRunning if the loop is already running.
func (h *PushNotificationHandler) Start(ctx context.Context) error {
	h.runMu.Lock()
	defer h.runMu.Unlock()

	if h.running {
		return ErrPushRunning
	}
	h.running = true
	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.done = make(chan struct{})

	go h.loop(runCtx, cancel, h.done)
	return nil
}

// Stop signals the loop to exit. The loop context is cancelled before Stop
// returns, so messages still queued are dropped and running handlers see
// their context done.
// It does not wait for the loop; use Done for that.
func (h *PushNotificationHandler) Stop() {
	h.runMu.Lock()
	defer h.runMu.Unlock()

	if !h.running {
		return
	}
	h.cancel()
}

// Done returns a channel closed when the loop has exited.
// It is closed immediately if the loop was never started.
func (h *PushNotificationHandler) Done() <-chan struct{} {
	h.runMu.Lock()
	defer h.runMu.Unlock()

	if h.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return h.done
}

func (h *PushNotificationHandler) loop(runCtx context.Context, cancel context.CancelFunc, done chan struct{}) {
	defer cancel()

	defer func() {
		h.setState(PushStopped)
		h.runMu.Lock()
		h.running = false
		h.runMu.Unlock()
		close(done)
	}()

	for runCtx.Err() == nil {
		h.setState(PushConnecting)

		conn, err := h.connect(runCtx)
		if err == nil {
			h.setState(PushStreaming)
			h.log(runCtx, slog.LevelInfo, "push_connected", slog.String("endpoint", h.endpoint))
			err = h.stream(runCtx, conn)
			conn.Close()
		}
		if runCtx.Err() != nil {
			return
		}

		h.log(runCtx, slog.LevelError, "push_error",
			slog.String("endpoint", h.endpoint),
			slog.String("error", err.Error()),
			slog.Duration("retry_in", h.errorWait),
		)
		h.setState(PushErrorBackoff)

		timer := time.NewTimer(h.errorWait)
		select {
		case <-runCtx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (h *PushNotificationHandler) connect(ctx context.Context) (*websocket.Conn, error) {
	token, err := h.auth.Login(ctx)
	if err != nil {
		return nil, fmt.Errorf("push login: %w", err)
	}

	// The push channel takes the bare token without the scheme prefix.
	header := http.Header{}
	header.Set("Authorization", token.Raw)

	conn, resp, err := h.dialer.DialContext(ctx, h.endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("push dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("push dial: %w", err)
	}
	return conn, nil
}

// stream reads messages until ctx is done or the connection fails.
// It returns nil only when stopped.
func (h *PushNotificationHandler) stream(ctx context.Context, conn *websocket.Conn) error {
	msgs := make(chan []byte)
	errs := make(chan error, 1)

	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				errs <- err
				return
			}
			select {
			case msgs <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errs:
			return fmt.Errorf("push read: %w", err)
		case data := <-msgs:
			// Stop cancels ctx before returning, so a message queued
			// behind a stop is dropped here.
			if ctx.Err() != nil {
				return nil
			}
			h.dispatch(ctx, data)
		}
	}
}

func (h *PushNotificationHandler) dispatch(ctx context.Context, data []byte) {
	status, err := unmarshalResponse[PanelStatus](data, "push message")
	if err != nil {
		h.log(ctx, slog.LevelWarn, "push_message_invalid", slog.String("error", err.Error()))
		return
	}

	handlers := h.snapshot()
	h.log(ctx, slog.LevelDebug, "push_dispatch",
		slog.String("panel_id", status.PanelID),
		slog.Int("handlers", len(handlers)),
	)

	var wg sync.WaitGroup
	for id, handler := range handlers {
		wg.Go(func() {
			h.invoke(ctx, id, handler, status)
		})
	}
	wg.Wait()
}

func (h *PushNotificationHandler) invoke(ctx context.Context, id HandlerID, handler PushHandler, status *PanelStatus) {
	defer func() {
		if r := recover(); r != nil {
			h.log(ctx, slog.LevelError, "push_handler_panic",
				slog.Uint64("handler_id", uint64(id)),
				slog.Any("panic", r),
			)
		}
	}()

	if err := handler.HandlePanelStatus(ctx, status); err != nil {
		h.log(ctx, slog.LevelError, "push_handler_error",
			slog.Uint64("handler_id", uint64(id)),
			slog.String("error", err.Error()),
		)
	}
}

func (h *PushNotificationHandler) snapshot() map[HandlerID]PushHandler {
	h.mu.RLock()
	defer h.mu.RUnlock()

	snap := make(map[HandlerID]PushHandler, len(h.handlers))
	for id, handler := range h.handlers {
		snap[id] = handler
	}
	return snap
}

func (h *PushNotificationHandler) setState(s PushState) {
	old := PushState(h.state.Swap(int32(s)))
	if old == s {
		return
	}

	h.mu.RLock()
	fn := h.onStateChange
	h.mu.RUnlock()

	h.log(context.Background(), slog.LevelDebug, "push_state",
		slog.String("from", old.String()),
		slog.String("to", s.String()),
	)
	if fn != nil {
		fn(s)
	}
}

func (h *PushNotificationHandler) log(ctx context.Context, level slog.Level, msg string, attrs ...slog.Attr) {
	if h.logger == nil {
		return
	}
	h.logger.LogAttrs(ctx, level, msg, attrs...)
}
