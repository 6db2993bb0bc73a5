package elmax

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const (
	// Version is the library version reported in the User-Agent header.
	Version = "0.4.0"

	// DefaultBaseURL is the Elmax cloud API base URL.
	DefaultBaseURL = "https://cloud.elmaxsrl.it/api/ext"

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 10 * time.Second

	// DefaultBusyWaitInterval is the wait between command retries while the panel is busy.
	DefaultBusyWaitInterval = 2 * time.Second

	// DefaultRetryAttempts is the number of attempts ExecuteCommand makes on a busy panel.
	DefaultRetryAttempts = 3

	// DefaultPanelPIN is the PIN used when none is supplied.
	DefaultPanelPIN = "000000"
)

// DefaultUserAgent is the User-Agent sent with every request.
var DefaultUserAgent = "elmax-go/" + Version

// Mode selects how the client reaches the control panel.
type Mode int

const (
	// ModeCloud talks to the Elmax cloud with username/password credentials.
	ModeCloud Mode = iota
	// ModeLocal talks directly to a panel on the LAN with its PIN.
	ModeLocal
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	if m == ModeLocal {
		return "local"
	}
	return "cloud"
}

// Endpoints holds the API paths, relative to the base URL.
type Endpoints struct {
	Login     string
	Devices   string
	Discovery string
	Status    string
	Command   string
}

// CloudEndpoints returns the paths of the cloud API.
func CloudEndpoints() Endpoints {
	return Endpoints{
		Login:     "/login",
		Devices:   "/devices",
		Discovery: "/discovery",
		Status:    "/status",
		Command:   "",
	}
}

// LocalEndpoints returns the paths of the panel's local API.
func LocalEndpoints() Endpoints {
	return Endpoints{
		Login:     "/login",
		Discovery: "/discovery",
		Status:    "/status",
		Command:   "/cmd/e",
	}
}

// credentials are set once at construction and never logged.
type credentials struct {
	username string
	password string
	pin      string
}

// Client is an Elmax API client.
//
// A Client is safe for concurrent use. The token is guarded by a mutex and
// concurrent refreshes are collapsed into a single login.
type Client struct {
	mode       Mode
	baseURL    string
	endpoints  Endpoints
	creds      credentials
	httpClient *http.Client
	tlsConfig  *tls.Config
	logger     *slog.Logger
	userAgent  string
	busyWait   time.Duration
	tokenStore TokenStore
	now        func() time.Time

	tokenMu    sync.RWMutex
	token      *Token
	loginGroup singleflight.Group

	panelMu      sync.RWMutex
	currentPanel string
	currentPIN   string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets a custom base URL for the API.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithEndpoints overrides the API paths.
func WithEndpoints(endpoints Endpoints) Option {
	return func(c *Client) {
		c.endpoints = endpoints
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the HTTP request timeout.
// This option can be applied in any order relative to other options.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if c.httpClient == nil {
			c.httpClient = &http.Client{}
		}
		c.httpClient.Timeout = timeout
	}
}

// WithTLSConfig sets the TLS configuration used for API requests and for the
// push notification websocket. Local panels usually need one built with
// TLSConfigFromPEM.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *Client) {
		c.tlsConfig = cfg
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(userAgent string) Option {
	return func(c *Client) {
		c.userAgent = userAgent
	}
}

// WithBusyWaitInterval sets the wait between command retries on a busy panel.
func WithBusyWaitInterval(d time.Duration) Option {
	return func(c *Client) {
		c.busyWait = d
	}
}

// WithTokenStore persists the API token across process restarts.
// A stored token that is still valid is adopted at construction.
func WithTokenStore(store TokenStore) Option {
	return func(c *Client) {
		c.tokenStore = store
	}
}

// NewClient creates a client for the Elmax cloud API.
// Returns ErrEmptyUsername or ErrEmptyPassword if a credential is missing.
func NewClient(username, password string, opts ...Option) (*Client, error) {
	if username == "" {
		return nil, ErrEmptyUsername
	}
	if password == "" {
		return nil, ErrEmptyPassword
	}

	c := newClient(ModeCloud, DefaultBaseURL, CloudEndpoints(), credentials{
		username: username,
		password: password,
	})
	if err := c.apply(opts); err != nil {
		return nil, err
	}
	return c, nil
}

// NewLocalClient creates a client that talks directly to a panel on the LAN,
// for example "https://192.168.1.139:8443/api/v2". The PIN is used to log in.
func NewLocalClient(panelURL, pin string, opts ...Option) (*Client, error) {
	if panelURL == "" {
		return nil, ErrEmptyPanelURL
	}
	if pin == "" {
		return nil, ErrEmptyPIN
	}

	c := newClient(ModeLocal, strings.TrimRight(panelURL, "/"), LocalEndpoints(), credentials{pin: pin})
	if err := c.apply(opts); err != nil {
		return nil, err
	}
	return c, nil
}

func newClient(mode Mode, baseURL string, endpoints Endpoints, creds credentials) *Client {
	return &Client{
		mode:       mode,
		baseURL:    baseURL,
		endpoints:  endpoints,
		creds:      creds,
		httpClient: defaultHTTPClient(),
		userAgent:  DefaultUserAgent,
		busyWait:   DefaultBusyWaitInterval,
		now:        time.Now,
	}
}

// defaultHTTPClient returns the default HTTP client configuration
func defaultHTTPClient() *http.Client {
	return &http.Client{
		Timeout: DefaultTimeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			DisableKeepAlives:   false,
		},
	}
}

func (c *Client) apply(opts []Option) error {
	for _, opt := range opts {
		opt(c)
	}

	if c.tlsConfig != nil {
		if err := c.applyTLSConfig(); err != nil {
			return err
		}
	}

	if c.tokenStore != nil {
		c.restoreToken(context.Background())
	}
	return nil
}

// applyTLSConfig installs the TLS config on a copy of the HTTP client and its
// transport, leaving a client passed with WithHTTPClient untouched.
func (c *Client) applyTLSConfig() error {
	hc := *c.httpClient
	switch t := hc.Transport.(type) {
	case nil:
		base := http.DefaultTransport.(*http.Transport).Clone()
		base.TLSClientConfig = c.tlsConfig
		hc.Transport = base
	case *http.Transport:
		base := t.Clone()
		base.TLSClientConfig = c.tlsConfig
		hc.Transport = base
	case *LoggingTransport:
		lt := *t
		switch b := lt.Base.(type) {
		case nil:
			base := http.DefaultTransport.(*http.Transport).Clone()
			base.TLSClientConfig = c.tlsConfig
			lt.Base = base
		case *http.Transport:
			base := b.Clone()
			base.TLSClientConfig = c.tlsConfig
			lt.Base = base
		default:
			return fmt.Errorf("%w: logging transport wraps %T", ErrTLSConfigNotApplied, lt.Base)
		}
		hc.Transport = &lt
	default:
		return fmt.Errorf("%w: transport is %T", ErrTLSConfigNotApplied, hc.Transport)
	}
	c.httpClient = &hc
	return nil
}

// Mode returns the panel access mode of the client.
func (c *Client) Mode() Mode {
	return c.mode
}

// BaseURL returns the API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// request is one HTTP call. It is built per call and never shared.
type request struct {
	method     string
	path       string
	logPath    string // path with secrets masked, empty when path has none
	body       any
	authorized bool
}

func (r request) loggable() string {
	if r.logPath != "" {
		return r.logPath
	}
	return r.path
}

// header builds a fresh header set for one request.
func (c *Client) header(requestID string, token *Token, hasBody bool) http.Header {
	h := http.Header{}
	h.Set("User-Agent", c.userAgent)
	h.Set("Accept", "application/json")
	h.Set("X-Request-ID", requestID)
	if hasBody {
		h.Set("Content-Type", "application/json")
	}
	if token != nil {
		h.Set("Authorization", token.authorization())
	}
	return h
}

// do performs an HTTP request and returns the response body.
// Non-200 responses become *APIError and transport failures become *NetworkError.
func (c *Client) do(ctx context.Context, r request) ([]byte, error) {
	if r.method != http.MethodGet && r.method != http.MethodPost {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, r.method)
	}

	var token *Token
	if r.authorized {
		token = c.currentToken()
		if token == nil {
			return nil, ErrNoToken
		}
	}

	var reqBody io.Reader
	hasBody := r.body != nil && r.method == http.MethodPost
	if hasBody {
		data, err := json.Marshal(r.body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	url := c.baseURL + r.path
	req, err := http.NewRequestWithContext(withLogPath(ctx, r.loggable()), r.method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	requestID := uuid.NewString()
	req.Header = c.header(requestID, token, hasBody)

	c.LogRequest(ctx, r.method, r.loggable(), requestID)
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		netErr := &NetworkError{Method: r.method, URL: c.baseURL + r.loggable(), Err: err}
		c.LogResponse(ctx, r.method, r.loggable(), 0, time.Since(start), netErr)
		return nil, netErr
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		netErr := &NetworkError{Method: r.method, URL: c.baseURL + r.loggable(), Err: err}
		c.LogResponse(ctx, r.method, r.loggable(), resp.StatusCode, time.Since(start), netErr)
		return nil, netErr
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Message:    truncatePreview(respBody),
			RequestID:  requestID,
		}
		c.LogResponse(ctx, r.method, r.loggable(), resp.StatusCode, time.Since(start), apiErr)
		return nil, apiErr
	}

	c.LogResponse(ctx, r.method, r.loggable(), resp.StatusCode, time.Since(start), nil)
	return respBody, nil
}

// get performs an authorized GET request.
func (c *Client) get(ctx context.Context, path, logPath string) ([]byte, error) {
	return c.do(ctx, request{method: http.MethodGet, path: path, logPath: logPath, authorized: true})
}

// post performs an authorized POST request.
func (c *Client) post(ctx context.Context, path string, body any) ([]byte, error) {
	return c.do(ctx, request{method: http.MethodPost, path: path, body: body, authorized: true})
}
