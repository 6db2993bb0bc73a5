package elmax

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// WithLogger configures a structured logger for the client.
// When set, the client logs API requests, logins and command retries.
// Credentials and tokens are never logged.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
//	client, _ := elmax.NewClient("user@example.com", "secret", elmax.WithLogger(logger))
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// LoggingConfig selects the handler built by NewLogger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
	Output string `yaml:"output"` // stdout or stderr
}

// NewLogger builds a *slog.Logger from cfg. Unknown levels fall back to info
// and unknown formats to JSON.
func NewLogger(cfg LoggingConfig) *slog.Logger {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = os.Stderr
	default:
		output = os.Stdout
	}
	return newLogger(cfg, output)
}

func newLogger(cfg LoggingConfig, output io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(output, opts)
	default:
		handler = slog.NewJSONHandler(output, opts)
	}

	return slog.New(handler.WithAttrs([]slog.Attr{
		slog.String("library", "elmax-go"),
		slog.String("version", Version),
	}))
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LoggingTransport wraps an http.RoundTripper and logs requests/responses.
// Requests made by the Client are logged with secrets masked in the path.
type LoggingTransport struct {
	Base   http.RoundTripper
	Logger *slog.Logger
}

// RoundTrip implements http.RoundTripper with logging.
func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	target := req.URL.Scheme + "://" + req.URL.Host
	if p, ok := logPathFrom(req.Context()); ok {
		target += p
	} else {
		target += req.URL.Path
	}

	if t.Logger != nil {
		t.Logger.LogAttrs(req.Context(), slog.LevelDebug, "http_request",
			slog.String("method", req.Method),
			slog.String("url", target),
		)
	}

	resp, err := base.RoundTrip(req)
	duration := time.Since(start)

	if t.Logger != nil {
		if err != nil {
			t.Logger.LogAttrs(req.Context(), slog.LevelError, "http_error",
				slog.String("method", req.Method),
				slog.String("url", target),
				slog.Duration("duration", duration),
				slog.String("error", err.Error()),
			)
		} else {
			t.Logger.LogAttrs(req.Context(), statusLevel(resp.StatusCode), "http_response",
				slog.String("method", req.Method),
				slog.String("url", target),
				slog.Int("status", resp.StatusCode),
				slog.Duration("duration", duration),
			)
		}
	}

	return resp, err
}

func statusLevel(code int) slog.Level {
	switch {
	case code >= 500:
		return slog.LevelError
	case code >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelDebug
	}
}

// LogRequest logs an API request. This is the low-level logging method
// used internally and can be used for custom request logging.
func (c *Client) LogRequest(ctx context.Context, method, path, requestID string) {
	if c.logger == nil {
		return
	}
	c.logger.LogAttrs(ctx, slog.LevelDebug, "api_request",
		slog.String("method", method),
		slog.String("path", path),
		slog.String("request_id", requestID),
	)
}

// LogResponse logs an API response. This is the low-level logging method
// used internally and can be used for custom response logging.
func (c *Client) LogResponse(ctx context.Context, method, path string, statusCode int, duration time.Duration, err error) {
	if c.logger == nil {
		return
	}

	level := statusLevel(statusCode)
	if err != nil && statusCode == 0 {
		level = slog.LevelError
	}

	attrs := []slog.Attr{
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", statusCode),
		slog.Duration("duration", duration),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}

	c.logger.LogAttrs(ctx, level, "api_response", attrs...)
}

// LogCommand logs the outcome of an endpoint command.
func (c *Client) LogCommand(ctx context.Context, endpointID string, cmd Command, attempt int, err error) {
	if c.logger == nil {
		return
	}

	level := slog.LevelInfo
	attrs := []slog.Attr{
		slog.String("endpoint_id", endpointID),
		slog.String("command", string(cmd)),
		slog.Int("attempt", attempt),
	}
	if err != nil {
		level = slog.LevelError
		attrs = append(attrs, slog.String("error", err.Error()))
	}

	c.logger.LogAttrs(ctx, level, "endpoint_command", attrs...)
}

// LogPanelBusy logs a busy response to a command.
func (c *Client) LogPanelBusy(ctx context.Context, endpointID string, cmd Command, attempt, attempts int) {
	if c.logger == nil {
		return
	}
	c.logger.LogAttrs(ctx, slog.LevelWarn, "panel_busy",
		slog.String("endpoint_id", endpointID),
		slog.String("command", string(cmd)),
		slog.Int("attempt", attempt),
		slog.Int("max_attempts", attempts),
		slog.Duration("retry_in", c.busyWait),
	)
}

func (c *Client) logLogin(ctx context.Context, token *Token, err error) {
	if c.logger == nil {
		return
	}
	attrs := []slog.Attr{slog.String("mode", c.mode.String())}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		c.logger.LogAttrs(ctx, slog.LevelError, "login", attrs...)
		return
	}
	if token.HasExpiration() {
		attrs = append(attrs, slog.Time("expires_at", token.Expiration))
	}
	c.logger.LogAttrs(ctx, slog.LevelInfo, "login", attrs...)
}

func (c *Client) logTokenRefresh(ctx context.Context, level slog.Level, reason string) {
	if c.logger == nil {
		return
	}
	c.logger.LogAttrs(ctx, level, "token_refresh", slog.String("reason", reason))
}

func (c *Client) logTokenStoreError(ctx context.Context, op string, err error) {
	if c.logger == nil {
		return
	}
	c.logger.LogAttrs(ctx, slog.LevelWarn, "token_store",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
}

// NewLoggingClient creates a cloud client with request/response logging enabled.
// This is a convenience function that wraps the HTTP transport with logging.
//
// Example:
//
//	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
//	client, err := elmax.NewLoggingClient("user@example.com", "secret", logger)
func NewLoggingClient(username, password string, logger *slog.Logger, opts ...Option) (*Client, error) {
	transport := &LoggingTransport{
		Base: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
		},
		Logger: logger,
	}

	httpClient := &http.Client{
		Timeout:   DefaultTimeout,
		Transport: transport,
	}

	allOpts := append([]Option{WithHTTPClient(httpClient), WithLogger(logger)}, opts...)
	return NewClient(username, password, allOpts...)
}
