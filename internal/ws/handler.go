package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tapclash/backend/internal/auth"
	"github.com/tapclash/backend/internal/bot"
	"github.com/tapclash/backend/internal/config"
	"github.com/tapclash/backend/internal/matchmaking"
	"github.com/tapclash/backend/internal/session"
	"github.com/tapclash/backend/internal/settlement"
	"github.com/tapclash/backend/internal/wallet"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

const (
	writeTimeout = 10 * time.Second
	readTimeout  = 60 * time.Second
	maxFrameSize = 65536
)

// Handler owns both websocket endpoints. All cross-connection state lives
// in the shared store; Handler itself is stateless and safe for any number
// of concurrent connections across any number of server instances.
type Handler struct {
	cfg      *config.Config
	pool     *matchmaking.Pool
	sessions *session.Store
	engine   *settlement.Engine
	store    *wallet.Store
	resolver *auth.Resolver
	spawner  *bot.Spawner
}

func NewHandler(cfg *config.Config, pool *matchmaking.Pool, sessions *session.Store, engine *settlement.Engine, store *wallet.Store, resolver *auth.Resolver, spawner *bot.Spawner) *Handler {
	return &Handler{
		cfg:      cfg,
		pool:     pool,
		sessions: sessions,
		engine:   engine,
		store:    store,
		resolver: resolver,
		spawner:  spawner,
	}
}

// clientMessage is every frame a client may send on the match socket.
type clientMessage struct {
	Type       string `json:"type"`
	Score      int    `json:"score,omitempty"`
	FinalScore int    `json:"final_score,omitempty"`
}

// wsConn serializes frame writes: the listener goroutine (PONG replies)
// and the monitor loop share one underlying connection.
type wsConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func newConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws}
}

// send writes one JSON frame with a bounded deadline.
func (c *wsConn) send(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(v)
}

func (c *wsConn) sendError(message string) {
	if err := c.send(map[string]interface{}{"type": "ERROR", "message": message}); err != nil {
		log.Printf("[WS] Failed to send error frame: %v", err)
	}
}

// sendRaw delivers a pre-marshalled payload under a frame type (used for
// result replay, where the payload is stored as JSON in the session).
func (c *wsConn) sendRaw(frameType string, payload []byte) error {
	var fields map[string]interface{}
	if err := json.Unmarshal(payload, &fields); err != nil {
		return err
	}
	frame := map[string]interface{}{"type": frameType}
	for k, v := range fields {
		frame[k] = v
	}
	return c.send(frame)
}

func (c *wsConn) closeWith(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeTimeout))
	c.ws.Close()
}

func (c *wsConn) close() {
	c.ws.Close()
}
