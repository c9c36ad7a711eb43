package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chatrelay/internal/app"
	"chatrelay/internal/auth"
	"chatrelay/internal/config"
	"chatrelay/pkg/types"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const testSecret = "integration-secret-0123456789abcdef"

const seedYAML = `
users:
  - id: alice
    displayName: Alice
  - id: bob
    displayName: Bob
  - id: carol
    displayName: Carol
  - id: mallory
    displayName: Mallory
channels:
  - id: general
    name: general
    members: [alice, bob, carol]
blocks:
  - blocker: bob
    blocked: mallory
`

// relay is a running application plus a token minter for its secret.
type relay struct {
	app    *app.Application
	tokens *auth.JWTVerifier
}

// startRelay boots a full application on an ephemeral port with a seeded
// SQLite database. It is stopped when the test ends.
func startRelay(t *testing.T) *relay {
	t.Helper()
	dir := t.TempDir()
	seedPath := filepath.Join(dir, "seed.yaml")
	require.NoError(t, os.WriteFile(seedPath, []byte(seedYAML), 0o600))

	cfg := config.DefaultConfig()
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.Database.Path = filepath.Join(dir, "chatrelay.db")
	cfg.Database.SeedPath = seedPath
	cfg.Auth.Secret = testSecret

	application, err := app.NewApplication(cfg, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, application.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = application.Stop(ctx)
	})

	tokens, err := auth.NewJWTVerifier(cfg.Auth.Secret, cfg.Auth.Issuer, 0, nil)
	require.NoError(t, err)
	return &relay{app: application, tokens: tokens}
}

func (r *relay) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := r.tokens.GenerateToken(types.UserIdentity{ID: userID}, time.Hour)
	require.NoError(t, err)
	return token
}

func (r *relay) url(scheme, path string) string {
	return scheme + "://" + r.app.Addr() + path
}

// client is a test websocket peer.
type client struct {
	t    *testing.T
	conn *websocket.Conn
}

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// dial connects as userID and consumes the session.ready frame.
func (r *relay) dial(t *testing.T, userID string) *client {
	t.Helper()
	header := http.Header{"Authorization": []string{"Bearer " + r.token(t, userID)}}
	conn, resp, err := websocket.DefaultDialer.Dial(r.url("ws", "/ws"), header)
	require.NoError(t, err)
	resp.Body.Close()

	c := &client{t: t, conn: conn}
	t.Cleanup(func() { _ = conn.Close() })

	var ready types.SessionReady
	c.expect(types.FrameSessionReady, &ready)
	require.Equal(t, userID, ready.User.ID)
	return c
}

func (c *client) send(frameType string, payload interface{}) {
	c.t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteJSON(frame{Type: frameType, Payload: raw}))
}

// expect reads frames until one of frameType arrives, skipping others, and
// decodes its payload into v.
func (c *client) expect(frameType string, v interface{}) {
	c.t.Helper()
	c.expectMatching(frameType, v, func(json.RawMessage) bool { return true })
}

func (c *client) expectMatching(frameType string, v interface{}, match func(json.RawMessage) bool) {
	c.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		require.NoError(c.t, c.conn.SetReadDeadline(deadline))
		var f frame
		require.NoError(c.t, c.conn.ReadJSON(&f), "waiting for %s", frameType)
		if f.Type != frameType || !match(f.Payload) {
			continue
		}
		if v != nil {
			require.NoError(c.t, json.Unmarshal(f.Payload, v))
		}
		return
	}
}

// expectNone asserts no frame of frameType arrives within wait.
func (c *client) expectNone(frameType string, wait time.Duration) {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(wait)))
	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			require.True(c.t, strings.Contains(err.Error(), "timeout"), "unexpected read error: %v", err)
			return
		}
		require.NotEqual(c.t, frameType, f.Type, "unexpected %s frame", frameType)
	}
}

func (r *relay) get(t *testing.T, userID, path string, v interface{}) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, r.url("http", path), nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+r.token(t, userID))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}
