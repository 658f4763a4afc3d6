package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/pairchat/internal/auth"
	"github.com/Tyrowin/pairchat/internal/logging"
	"github.com/Tyrowin/pairchat/internal/presence"
	"github.com/Tyrowin/pairchat/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

const testOrigin = "http://localhost:8080"

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// newTestConnection builds a connection without a socket, for exercising
// the registry, presence and routing directly.
func newTestConnection(userID, username string, buffer int) *Connection {
	return &Connection{
		id:       uuid.NewString(),
		userID:   userID,
		username: username,
		send:     make(chan []byte, buffer),
		done:     make(chan struct{}),
		logger:   logging.Discard(),
	}
}

// testEnv is a hub behind a real HTTP server, backed by the memory store.
type testEnv struct {
	hub    *Hub
	store  *store.MemoryStore
	issuer *auth.JWTIssuer
	server *httptest.Server
	wsURL  string
}

// quietConfig disables heartbeats for tests that do not exercise them, so a
// client that is briefly not reading is never evicted.
func quietConfig() *Config {
	cfg := NewConfig()
	cfg.PingInterval = time.Hour
	return cfg
}

func newTestEnv(t *testing.T, cfg *Config, opts ...HubOption) *testEnv {
	t.Helper()
	return newTestEnvWithMessages(t, cfg, nil, opts...)
}

// newTestEnvWithMessages lets wrap put a different message store in front
// of the memory store. A nil wrap uses the memory store directly.
func newTestEnvWithMessages(t *testing.T, cfg *Config, wrap func(*store.MemoryStore) store.MessageStore, opts ...HubOption) *testEnv {
	t.Helper()
	if cfg == nil {
		cfg = quietConfig()
	}
	cfg.AllowedOrigins = []string{testOrigin}

	st := store.NewMemoryStore()
	var messages store.MessageStore = st
	if wrap != nil {
		messages = wrap(st)
	}
	issuer := auth.NewJWTIssuer([]byte("test-secret"), time.Hour)
	hub := NewHub(cfg, issuer, messages, append([]HubOption{WithLogger(logging.Discard())}, opts...)...)
	srv := httptest.NewServer(SetupRoutes(hub, NewAPI(hub, st, messages, issuer)))
	t.Cleanup(func() {
		_ = hub.Shutdown(2 * time.Second)
		srv.Close()
	})

	return &testEnv{
		hub:    hub,
		store:  st,
		issuer: issuer,
		server: srv,
		wsURL:  "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
	}
}

func (e *testEnv) token(t *testing.T, userID, username string) string {
	t.Helper()
	token, err := e.issuer.Issue(auth.Identity{UserID: userID, Username: username})
	require.NoError(t, err)
	return token
}

// dial opens a WebSocket carrying token as the session cookie. An empty
// token sends no cookie.
func (e *testEnv) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	ws, resp, err := dialWS(e.wsURL, testOrigin, token)
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func (e *testEnv) connect(t *testing.T, userID, username string) *websocket.Conn {
	t.Helper()
	return e.dial(t, e.token(t, userID, username))
}

func dialWS(url, origin, token string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	headers := http.Header{}
	headers.Set("Origin", origin)
	if token != "" {
		headers.Set("Cookie", (&http.Cookie{Name: defaultCookieName, Value: token}).String())
	}
	return dialer.Dial(url, headers)
}

// outFrame is any outbound frame decoded loosely.
type outFrame struct {
	Online    *[]presence.Entry `json:"online"`
	ID        string            `json:"_id"`
	Text      string            `json:"text"`
	Recipient string            `json:"recipient"`
	Sender    string            `json:"sender"`
}

func readFrame(t *testing.T, ws *websocket.Conn) outFrame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, raw, err := ws.ReadMessage()
	require.NoError(t, err)
	var f outFrame
	require.NoError(t, json.Unmarshal(raw, &f))
	return f
}

// waitForPresence reads until a presence frame lists exactly userIDs, in
// order, and returns it. Message frames read on the way are skipped.
func waitForPresence(t *testing.T, ws *websocket.Conn, userIDs ...string) []presence.Entry {
	t.Helper()
	if userIDs == nil {
		userIDs = []string{}
	}
	deadline := time.Now().Add(5 * time.Second)
	var last []string
	for time.Now().Before(deadline) {
		f := readFrame(t, ws)
		if f.Online == nil {
			continue
		}
		last = lo.Map(*f.Online, func(e presence.Entry, _ int) string { return e.UserID })
		if slices.Equal(last, userIDs) {
			return *f.Online
		}
	}
	require.Failf(t, "presence not reached", "want %v, last saw %v", userIDs, last)
	return nil
}

// waitForMessage reads until a message frame arrives.
func waitForMessage(t *testing.T, ws *websocket.Conn) outFrame {
	t.Helper()
	for {
		f := readFrame(t, ws)
		if f.Online == nil {
			return f
		}
	}
}

func sendJSON(t *testing.T, ws *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, ws.SetWriteDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, ws.WriteJSON(v))
}

// drained returns everything currently queued on c.
func drained(c *Connection) [][]byte {
	var out [][]byte
	for {
		select {
		case p := <-c.send:
			out = append(out, p)
		default:
			return out
		}
	}
}
