package elmax

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// loginResponse is the body returned by the login endpoint.
type loginResponse struct {
	Token *string `json:"token"`
}

// Login authenticates against the API and stores the returned token.
//
// Concurrent callers share a single in-flight login. Returns ErrBadLogin if
// the credentials are rejected.
func (c *Client) Login(ctx context.Context) (*Token, error) {
	v, err, _ := c.loginGroup.Do("login", func() (any, error) {
		return c.login(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Token), nil
}

func (c *Client) loginBody() map[string]string {
	if c.mode == ModeLocal {
		return map[string]string{"pin": c.creds.pin}
	}
	return map[string]string{
		"username": c.creds.username,
		"password": c.creds.password,
	}
}

func (c *Client) login(ctx context.Context) (*Token, error) {
	data, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   c.endpoints.Login,
		body:   c.loginBody(),
	})
	if err != nil {
		switch statusCode(err) {
		case http.StatusUnauthorized:
			err = ErrBadLogin
		case http.StatusForbidden:
			if c.mode == ModeLocal {
				err = ErrBadPIN
			}
		}
		c.logLogin(ctx, nil, err)
		return nil, err
	}

	// Rejected credentials may come back as an empty 200.
	if len(bytes.TrimSpace(data)) == 0 {
		c.logLogin(ctx, nil, ErrBadLogin)
		return nil, ErrBadLogin
	}

	resp, err := unmarshalResponse[loginResponse](data, "login response")
	if err != nil {
		return nil, err
	}
	if resp.Token == nil {
		return nil, fmt.Errorf("%w: missing token in login response", ErrMalformedResponse)
	}

	token, err := parseSchemeToken(*resp.Token)
	if err != nil {
		return nil, err
	}

	c.setToken(token)
	c.logLogin(ctx, token, nil)

	if c.tokenStore != nil {
		if err := c.tokenStore.SaveToken(ctx, newStoredToken(token)); err != nil {
			// The token in memory is still usable; the next login retries the save.
			c.logTokenStoreError(ctx, "save", err)
		}
	}

	return token, nil
}

// ensureToken logs in when there is no token, it has expired, or it expires
// within TokenRefreshWindow. Every protected operation calls it first.
func (c *Client) ensureToken(ctx context.Context) error {
	now := c.now()
	token := c.currentToken()

	switch {
	case token == nil:
		c.logTokenRefresh(ctx, slog.LevelWarn, "missing")
	case !token.ValidAt(now):
		c.logTokenRefresh(ctx, slog.LevelWarn, "expired")
	case token.NeedsRefreshAt(now):
		c.logTokenRefresh(ctx, slog.LevelInfo, "expiring")
	default:
		return nil
	}

	_, err := c.Login(ctx)
	return err
}

// IsAuthenticated reports whether the client holds a token that has not
// expired. An expired token is discarded.
func (c *Client) IsAuthenticated() bool {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.token == nil {
		return false
	}
	if !c.token.ValidAt(c.now()) {
		c.token = nil
		return false
	}
	return true
}

// TokenExpirationTime returns the token expiry as Unix seconds.
// It returns 0 when there is no token and -1 when the token has no exp claim.
func (c *Client) TokenExpirationTime() int64 {
	token := c.currentToken()
	if token == nil {
		return 0
	}
	if !token.HasExpiration() {
		return -1
	}
	return token.Expiration.Unix()
}

// AuthenticatedUsername returns the identity of the current token.
func (c *Client) AuthenticatedUsername() (string, bool) {
	token := c.currentToken()
	if token == nil {
		return "", false
	}
	name := token.Username()
	return name, name != ""
}

// Token returns the current token, or nil before the first login.
func (c *Client) Token() *Token {
	return c.currentToken()
}

// Logout drops the current token and removes it from the token store.
// The API has no call to revoke a token, so it stays valid server-side
// until it expires.
func (c *Client) Logout(ctx context.Context) error {
	c.setToken(nil)
	if c.tokenStore == nil {
		return nil
	}
	if err := c.tokenStore.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete stored token: %w", err)
	}
	return nil
}

func (c *Client) currentToken() *Token {
	c.tokenMu.RLock()
	defer c.tokenMu.RUnlock()
	return c.token
}

func (c *Client) setToken(t *Token) {
	c.tokenMu.Lock()
	c.token = t
	c.tokenMu.Unlock()
}

// restoreToken adopts a stored token that is still valid.
func (c *Client) restoreToken(ctx context.Context) {
	stored, err := c.tokenStore.LoadToken(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoToken) {
			c.logTokenStoreError(ctx, "load", err)
		}
		return
	}

	token, err := ParseToken(stored.Token)
	if err != nil {
		c.logTokenStoreError(ctx, "parse", err)
		return
	}
	if !token.ValidAt(c.now()) {
		return
	}
	c.setToken(token)
}
