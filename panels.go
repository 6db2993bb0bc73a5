package elmax

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// ListControlPanels returns the control panels available to the user.
// Only the cloud API lists panels; a local client returns ErrNotSupported.
func (c *Client) ListControlPanels(ctx context.Context) ([]PanelEntry, error) {
	if c.mode == ModeLocal {
		return nil, fmt.Errorf("%w: listing panels", ErrNotSupported)
	}
	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}

	data, err := c.get(ctx, c.endpoints.Devices, "")
	if err != nil {
		return nil, err
	}

	panels, err := unmarshalResponse[[]PanelEntry](data, "panel list")
	if err != nil {
		return nil, err
	}
	return *panels, nil
}

// GetPanelStatus returns a full snapshot of a control panel.
//
// In cloud mode panelID is required and an empty pin defaults to
// DefaultPanelPIN. A local client always reads its own panel and ignores
// both arguments. Returns ErrBadPIN if the panel refuses the PIN.
func (c *Client) GetPanelStatus(ctx context.Context, panelID, pin string) (*PanelStatus, error) {
	path, logPath := c.endpoints.Discovery, ""
	if c.mode == ModeCloud {
		if panelID == "" {
			return nil, ErrEmptyPanelID
		}
		if pin == "" {
			pin = DefaultPanelPIN
		}
		path = joinPath(c.endpoints.Discovery, panelID, pin)
		logPath = joinPath(c.endpoints.Discovery, panelID) + "/" + maskSecret(pin)
	}

	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}

	data, err := c.get(ctx, path, logPath)
	if err != nil {
		if IsForbidden(err) {
			return nil, fmt.Errorf("%w: %w", ErrBadPIN, err)
		}
		return nil, err
	}

	return unmarshalResponse[PanelStatus](data, "panel status")
}

// GetEndpointStatus returns the state of a single endpoint.
func (c *Client) GetEndpointStatus(ctx context.Context, endpointID string) (*EndpointStatus, error) {
	if endpointID == "" {
		return nil, ErrEmptyEndpointID
	}
	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}

	data, err := c.get(ctx, joinPath(c.endpoints.Status, endpointID), "")
	if err != nil {
		return nil, err
	}

	return unmarshalResponse[EndpointStatus](data, "endpoint status")
}

// SetCurrentPanel selects the panel used by GetCurrentPanelStatus.
func (c *Client) SetCurrentPanel(panelID, pin string) error {
	if c.mode == ModeCloud && panelID == "" {
		return ErrEmptyPanelID
	}
	c.panelMu.Lock()
	defer c.panelMu.Unlock()
	c.currentPanel = panelID
	c.currentPIN = pin
	return nil
}

// CurrentPanel returns the selected panel ID.
func (c *Client) CurrentPanel() (string, bool) {
	c.panelMu.RLock()
	defer c.panelMu.RUnlock()
	return c.currentPanel, c.currentPanel != ""
}

// GetCurrentPanelStatus returns the status of the selected panel.
// Returns ErrNoCurrentPanel if a cloud client has no panel selected.
func (c *Client) GetCurrentPanelStatus(ctx context.Context) (*PanelStatus, error) {
	c.panelMu.RLock()
	panelID, pin := c.currentPanel, c.currentPIN
	c.panelMu.RUnlock()

	if c.mode == ModeCloud && panelID == "" {
		return nil, ErrNoCurrentPanel
	}
	return c.GetPanelStatus(ctx, panelID, pin)
}

// PushEndpoint returns the websocket URL of a local panel's push channel,
// derived from the panel API URL. Cloud clients return ErrNotSupported.
func (c *Client) PushEndpoint() (string, error) {
	if c.mode != ModeLocal {
		return "", fmt.Errorf("%w: push endpoint discovery", ErrNotSupported)
	}
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid panel URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/push"
	return u.String(), nil
}
