package elmax

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Command is an action sent to a panel endpoint. Any non-empty string
// without a path separator is accepted so newer firmware commands can be
// sent before they get a constant here.
type Command string

// Switch commands for actuators and groups.
const (
	CommandTurnOn  Command = "on"
	CommandTurnOff Command = "off"
)

// Cover commands.
const (
	CommandCoverUp   Command = "up"
	CommandCoverDown Command = "down"
	CommandCoverStop Command = "stop"
)

// Area commands. The arm level is sent as the command and the user code
// goes in the extra payload as {"code": "..."}.
const (
	CommandArmTotally Command = "4"
	CommandArmP1P2    Command = "3"
	CommandArmP2      Command = "2"
	CommandArmP1      Command = "1"
	CommandDisarm     Command = "0"
)

// CommandSceneTrigger triggers a scene.
const CommandSceneTrigger Command = "on"

// Validate checks that the command can be used as a path segment.
func (cmd Command) Validate() error {
	if cmd == "" {
		return fmt.Errorf("%w: empty command", ErrInvalidCommand)
	}
	if strings.ContainsAny(string(cmd), "/?#") {
		return fmt.Errorf("%w: %q", ErrInvalidCommand, string(cmd))
	}
	return nil
}

// AreaCode builds the extra payload that carries a user code for area commands.
func AreaCode(code string) map[string]any {
	return map[string]any{"code": code}
}

// ExecuteCommand sends a command to an endpoint, retrying up to
// DefaultRetryAttempts times while the panel reports it is busy.
func (c *Client) ExecuteCommand(ctx context.Context, endpointID string, cmd Command, extra map[string]any) (map[string]any, error) {
	return c.ExecuteCommandWithRetry(ctx, endpointID, cmd, extra, DefaultRetryAttempts)
}

// ExecuteCommandWithRetry sends a command to an endpoint.
//
// A busy (422) response is retried after the busy wait interval, for at most
// attempts calls in total. When every attempt is busy a *PanelBusyError is
// returned, without any request being sent when attempts is below one.
// A 403 response means the code in extra was refused and returns
// ErrBadPIN. Other errors are returned immediately.
//
// The decoded response body is returned, or nil if the body is empty.
func (c *Client) ExecuteCommandWithRetry(ctx context.Context, endpointID string, cmd Command, extra map[string]any, attempts int) (map[string]any, error) {
	if endpointID == "" {
		return nil, ErrEmptyEndpointID
	}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	if attempts < 1 {
		return nil, &PanelBusyError{EndpointID: endpointID, Command: cmd, Attempts: 0}
	}
	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}

	path := c.commandPath(endpointID, cmd)
	var body any
	if extra != nil {
		body = extra
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		data, err := c.do(ctx, request{
			method:     http.MethodPost,
			path:       path,
			body:       body,
			authorized: true,
		})
		if err == nil {
			c.LogCommand(ctx, endpointID, cmd, attempt, nil)
			return decodeCommandResponse(data)
		}

		switch statusCode(err) {
		case http.StatusUnprocessableEntity:
			c.LogPanelBusy(ctx, endpointID, cmd, attempt, attempts)
			if attempt == attempts {
				continue
			}
			if err := c.sleep(ctx, c.busyWait); err != nil {
				return nil, err
			}
		case http.StatusForbidden:
			c.LogCommand(ctx, endpointID, cmd, attempt, ErrBadPIN)
			return nil, fmt.Errorf("%w: %w", ErrBadPIN, err)
		default:
			c.LogCommand(ctx, endpointID, cmd, attempt, err)
			return nil, err
		}
	}

	busy := &PanelBusyError{EndpointID: endpointID, Command: cmd, Attempts: attempts}
	c.LogCommand(ctx, endpointID, cmd, attempts, busy)
	return nil, busy
}

func (c *Client) commandPath(endpointID string, cmd Command) string {
	return joinPath(c.endpoints.Command, endpointID, string(cmd))
}

// sleep waits for d or until ctx is done.
func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func decodeCommandResponse(data []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var resp map[string]any
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: failed to parse command response: %w (body: %s)", ErrMalformedResponse, err, truncatePreview(data))
	}
	return resp, nil
}
