// Package avatar drives a VTube Studio model over its public websocket API.
// The client is strictly fire-and-forget: emotion hints that cannot be
// delivered are dropped and the connection is retried in the background, so
// the conversation loop never waits on the avatar.
package avatar

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	apiName    = "VTubeStudioPublicAPI"
	apiVersion = "1.0"

	pluginName      = "aria"
	pluginDeveloper = "aria-harness"

	dialTimeout    = 5 * time.Second
	writeTimeout   = 3 * time.Second
	reconnectDelay = 10 * time.Second
)

type apiMessage struct {
	APIName     string          `json:"apiName"`
	APIVersion  string          `json:"apiVersion"`
	RequestID   string          `json:"requestID"`
	MessageType string          `json:"messageType"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// Client talks to one VTube Studio instance.
type Client struct {
	url    string
	emotes *EmoteMap
	logger *slog.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	token      string
	connected  bool
	retryAfter time.Time
}

// NewClient creates a disconnected client. Connect establishes the session.
func NewClient(url string, emotes *EmoteMap, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{url: url, emotes: emotes, logger: logger}
}

// Connect dials and authenticates. Failure is not fatal: the client stays
// usable and retries on the next hint.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.connected {
		return nil
	}
	if time.Now().Before(c.retryAfter) {
		return fmt.Errorf("avatar reconnect backoff active")
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.url, nil)
	if err != nil {
		c.retryAfter = time.Now().Add(reconnectDelay)
		return fmt.Errorf("dial vtube studio: %w", err)
	}
	c.conn = conn

	if err := c.authenticateLocked(); err != nil {
		_ = conn.Close()
		c.conn = nil
		c.retryAfter = time.Now().Add(reconnectDelay)
		return fmt.Errorf("authenticate: %w", err)
	}
	c.connected = true
	c.logger.Info("avatar connected", "url", c.url)
	return nil
}

// authenticateLocked performs the two-step token handshake.
func (c *Client) authenticateLocked() error {
	if c.token == "" {
		resp, err := c.roundTripLocked("AuthenticationTokenRequest", map[string]string{
			"pluginName":      pluginName,
			"pluginDeveloper": pluginDeveloper,
		})
		if err != nil {
			return err
		}
		var data struct {
			AuthenticationToken string `json:"authenticationToken"`
		}
		if err := json.Unmarshal(resp, &data); err != nil || data.AuthenticationToken == "" {
			return fmt.Errorf("no authentication token granted")
		}
		c.token = data.AuthenticationToken
	}

	resp, err := c.roundTripLocked("AuthenticationRequest", map[string]string{
		"pluginName":          pluginName,
		"pluginDeveloper":     pluginDeveloper,
		"authenticationToken": c.token,
	})
	if err != nil {
		return err
	}
	var data struct {
		Authenticated bool `json:"authenticated"`
	}
	if err := json.Unmarshal(resp, &data); err != nil || !data.Authenticated {
		c.token = ""
		return fmt.Errorf("authentication rejected")
	}
	return nil
}

func (c *Client) roundTripLocked(messageType string, payload any) (json.RawMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	msg := apiMessage{
		APIName:     apiName,
		APIVersion:  apiVersion,
		RequestID:   uuid.NewString(),
		MessageType: messageType,
		Data:        data,
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(msg); err != nil {
		return nil, err
	}

	_ = c.conn.SetReadDeadline(time.Now().Add(writeTimeout))
	var reply apiMessage
	if err := c.conn.ReadJSON(&reply); err != nil {
		return nil, err
	}
	if reply.MessageType == "APIError" {
		return nil, fmt.Errorf("vtube studio error: %s", string(reply.Data))
	}
	return reply.Data, nil
}

// SetEmotionHint picks a hotkey for the response text and triggers it in
// the background. Unknown emotions and delivery failures are dropped.
func (c *Client) SetEmotionHint(text string) {
	if c.emotes == nil {
		return
	}
	hotkey := c.emotes.Match(text)
	if hotkey == "" {
		return
	}
	go c.trigger(hotkey)
}

func (c *Client) trigger(hotkeyID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		if err := c.connectLocked(context.Background()); err != nil {
			c.logger.Debug("avatar unavailable, dropping hint", "hotkey", hotkeyID, "error", err)
			return
		}
	}

	_, err := c.roundTripLocked("HotkeyTriggerRequest", map[string]string{"hotkeyID": hotkeyID})
	if err != nil {
		c.logger.Warn("avatar hotkey failed, reconnecting later", "hotkey", hotkeyID, "error", err)
		_ = c.conn.Close()
		c.conn = nil
		c.connected = false
		c.retryAfter = time.Now().Add(reconnectDelay)
		return
	}
	c.logger.Debug("avatar hotkey triggered", "hotkey", hotkeyID)
}

// Close shuts the connection down.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
