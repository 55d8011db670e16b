package controllers

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"LimedAI/middleware"
	"LimedAI/models"
	"LimedAI/pkg/registry"
	"LimedAI/pkg/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS handled at HTTP level; allow WS here
		return true
	},
}

const (
	readLimit    = 1 << 20 // 1MB
	readDeadline = 60 * time.Second
	pingPeriod   = 30 * time.Second
	writeTimeout = 10 * time.Second
)

type inboundEnvelope struct {
	Event        string             `json:"event"`
	Content      string             `json:"content"`
	ReceiverID   uint               `json:"receiver"`
	ReceiverKind models.PartyKind   `json:"receiverKind"`
	IsAI         bool               `json:"isAI"`
	Kind         models.MessageKind `json:"messageType"`
}

type outboundEnvelope struct {
	Event   string          `json:"event"`
	Message *models.Message `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// wsConn serializes writes; the emitter and the ping ticker both write.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *wsConn) writeJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return w.conn.WriteJSON(v)
}

func (w *wsConn) ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

// ChatGateway owns the live websocket connections. It binds each socket to
// a session in the registry and delivers dispatcher output back over the
// right socket.
type ChatGateway struct {
	secret   string
	registry *registry.Registry
	log      *zap.SugaredLogger

	mu    sync.RWMutex
	conns map[string]*wsConn
}

func NewChatGateway(secret string, reg *registry.Registry, log *zap.SugaredLogger) *ChatGateway {
	return &ChatGateway{secret: secret, registry: reg, log: log, conns: make(map[string]*wsConn)}
}

// Emit delivers a persisted message to the session's socket. Unknown
// sessions are skipped: the recipient disconnected and will see the
// message when they fetch the thread.
func (g *ChatGateway) Emit(sessionID string, msg *models.Message) {
	g.mu.RLock()
	wc := g.conns[sessionID]
	g.mu.RUnlock()
	if wc == nil {
		return
	}
	if err := wc.writeJSON(outboundEnvelope{Event: "receive-message", Message: msg}); err != nil {
		g.log.Warnw("websocket write failed", "session", sessionID, "err", err)
	}
}

// ChatWS upgrades the connection and pumps inbound send-message events
// into the dispatcher. Authentication uses ?token=JWT because browser
// websocket clients cannot set headers.
func (g *ChatGateway) ChatWS(d *services.Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := strings.TrimSpace(c.Query("token"))
		if tokenStr == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"msg": "missing token query"})
			return
		}
		userID, err := middleware.ParseToken(g.secret, tokenStr)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"msg": err.Error()})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			g.log.Warnw("websocket upgrade failed", "err", err)
			return
		}
		defer conn.Close()

		conn.SetReadLimit(readLimit)
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(readDeadline))
		})

		sessionID := uuid.NewString()
		wc := &wsConn{conn: conn}
		g.mu.Lock()
		g.conns[sessionID] = wc
		g.mu.Unlock()
		g.registry.Bind(userID, sessionID)
		g.log.Infow("websocket connected", "user", userID, "session", sessionID)

		defer func() {
			g.registry.Unbind(sessionID)
			g.mu.Lock()
			delete(g.conns, sessionID)
			g.mu.Unlock()
			g.log.Infow("websocket disconnected", "user", userID, "session", sessionID)
		}()

		stop := make(chan struct{})
		defer close(stop)
		go func() {
			ticker := time.NewTicker(pingPeriod)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if err := wc.ping(); err != nil {
						return
					}
				case <-stop:
					return
				}
			}
		}()

		for {
			mt, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
				continue
			}
			var env inboundEnvelope
			if err := json.Unmarshal(raw, &env); err != nil || env.Event != "send-message" {
				_ = wc.writeJSON(outboundEnvelope{Event: "error", Error: "invalid payload"})
				continue
			}
			if !middleware.AllowMessage(userID, env.Content) {
				_ = wc.writeJSON(outboundEnvelope{Event: "error", Error: "duplicate message"})
				continue
			}
			// sender comes from the token, never from the payload
			if err := d.Dispatch(services.Inbound{
				SenderID:     userID,
				Content:      env.Content,
				ReceiverID:   env.ReceiverID,
				ReceiverKind: env.ReceiverKind,
				IsAI:         env.IsAI,
				Kind:         env.Kind,
			}); err != nil {
				_ = wc.writeJSON(outboundEnvelope{Event: "error", Error: err.Error()})
			}
		}
	}
}
