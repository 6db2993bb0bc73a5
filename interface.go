package elmax

import (
	"context"
	"time"
)

// PanelClient defines the interface for Elmax API operations.
// Client implements this interface, enabling mocking for tests.
type PanelClient interface {
	// ============================================================================
	// Authentication
	// ============================================================================

	Login(ctx context.Context) (*Token, error)
	Logout(ctx context.Context) error
	IsAuthenticated() bool
	TokenExpirationTime() int64
	AuthenticatedUsername() (string, bool)

	// ============================================================================
	// Panel Operations
	// ============================================================================

	ListControlPanels(ctx context.Context) ([]PanelEntry, error)
	GetPanelStatus(ctx context.Context, panelID, pin string) (*PanelStatus, error)
	GetEndpointStatus(ctx context.Context, endpointID string) (*EndpointStatus, error)
	SetCurrentPanel(panelID, pin string) error
	CurrentPanel() (string, bool)
	GetCurrentPanelStatus(ctx context.Context) (*PanelStatus, error)
	PushEndpoint() (string, error)

	// ============================================================================
	// Commands
	// ============================================================================

	ExecuteCommand(ctx context.Context, endpointID string, cmd Command, extra map[string]any) (map[string]any, error)
	ExecuteCommandWithRetry(ctx context.Context, endpointID string, cmd Command, extra map[string]any, attempts int) (map[string]any, error)

	// ============================================================================
	// Logging Operations
	// ============================================================================

	LogRequest(ctx context.Context, method, path, requestID string)
	LogResponse(ctx context.Context, method, path string, statusCode int, duration time.Duration, err error)
	LogCommand(ctx context.Context, endpointID string, cmd Command, attempt int, err error)
}

// Ensure Client implements PanelClient at compile time.
var _ PanelClient = (*Client)(nil)

// Ensure Client can authenticate the push channel.
var _ Authenticator = (*Client)(nil)
