package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/4xmen/medchat/internal/apperr"
	"github.com/4xmen/medchat/internal/auth"
	"github.com/4xmen/medchat/internal/metrics"
	"github.com/4xmen/medchat/internal/models"
	"github.com/4xmen/medchat/internal/protocol"
	"github.com/4xmen/medchat/internal/ratelimit"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	eventTimeout   = 10 * time.Second
	sendBufferSize = 256
)

type SessionResolver interface {
	ResolveSession(ctx context.Context, credential string) (models.Identity, error)
}

type ChatChecker interface {
	CanChatInSubscription(ctx context.Context, userID, subscriptionID string) (bool, error)
}

// Engine is the message broadcast engine as seen by connections.
type Engine interface {
	ReplayHistory(ctx context.Context, connID, subscriptionID string) error
	Send(ctx context.Context, id models.Identity, in protocol.MessageSend) (*models.Message, error)
	Read(ctx context.Context, id models.Identity, messageID string) (*models.Message, error)
}

// Server authenticates realtime connections and dispatches their events.
type Server struct {
	registry Registry
	sessions SessionResolver
	access   ChatChecker
	engine   Engine
	limiter  ratelimit.Limiter
	log      *zap.Logger
}

type Client struct {
	id       string
	identity models.Identity
	conn     *websocket.Conn
	server   *Server
	send     chan []byte

	// guarded by the hub lock
	rooms map[string]struct{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// origin is enforced by the CORS layer in front of the API
		return true
	},
}

func NewServer(registry Registry, sessions SessionResolver, access ChatChecker, engine Engine, log *zap.Logger) *Server {
	return &Server{
		registry: registry,
		sessions: sessions,
		access:   access,
		engine:   engine,
		log:      log,
	}
}

// WithLimiter throttles handshakes per client IP.
func (s *Server) WithLimiter(l ratelimit.Limiter) *Server {
	s.limiter = l
	return s
}

func newClient(s *Server, conn *websocket.Conn, id models.Identity) *Client {
	return &Client{
		id:       uuid.NewString(),
		identity: id,
		conn:     conn,
		server:   s,
		send:     make(chan []byte, sendBufferSize),
		rooms:    make(map[string]struct{}),
	}
}

// HandleWebSocket resolves the session before upgrading. A handshake
// without a valid session is refused and no connection is registered.
func (s *Server) HandleWebSocket(c *gin.Context) {
	if s.limiter != nil {
		if ok, _ := s.limiter.Allow(c.Request.Context(), c.ClientIP(), ratelimit.RuleConnect); !ok {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": apperr.Message(apperr.ErrRateLimited)})
			return
		}
	}

	identity, err := s.sessions.ResolveSession(c.Request.Context(), auth.CredentialFromRequest(c.Request))
	if err != nil {
		c.JSON(apperr.KindOf(err).HTTPStatus(), gin.H{"error": apperr.Message(err)})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		s.log.Warn("websocket upgrade failed", zap.String("user_id", identity.UserID), zap.Error(err))
		return
	}

	client := newClient(s, conn, identity)
	s.registry.Add(client)

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		c.server.registry.Remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(protocol.MaxFrameBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.server.log.Warn("websocket read error", zap.String("conn_id", c.id), zap.Error(err))
			}
			break
		}

		c.dispatch(ctx, data)
	}
}

// dispatch handles one event. Failures become an error event to this
// connection only and never close it.
func (c *Client) dispatch(ctx context.Context, data []byte) {
	ctx, cancel := context.WithTimeout(ctx, eventTimeout)
	defer cancel()

	_, payload, err := protocol.Parse(data)
	if err != nil {
		c.sendError(err)
		return
	}

	switch p := payload.(type) {
	case *protocol.JoinRoom:
		err = c.handleJoinRoom(ctx, p)
	case *protocol.LeaveRoom:
		c.server.registry.Leave(c.id, p.SubscriptionID)
	case *protocol.MessageSend:
		_, err = c.server.engine.Send(ctx, c.identity, *p)
	case *protocol.MessageRead:
		_, err = c.server.engine.Read(ctx, c.identity, p.MessageID)
	}

	if err != nil {
		c.sendError(err)
	}
}

func (c *Client) handleJoinRoom(ctx context.Context, p *protocol.JoinRoom) error {
	ok, err := c.server.access.CanChatInSubscription(ctx, c.identity.UserID, p.SubscriptionID)
	if err != nil {
		return err
	}
	if !ok {
		metrics.RoomJoinsTotal.WithLabelValues("denied").Inc()
		return apperr.ErrSubscriptionAccess
	}

	if !c.server.registry.Join(c.id, p.SubscriptionID) {
		return nil
	}
	metrics.RoomJoinsTotal.WithLabelValues("allowed").Inc()

	c.server.registry.SendTo(c.id, protocol.NewEvent(protocol.TypeJoinedRoom, protocol.JoinedRoom{SubscriptionID: p.SubscriptionID}))
	return c.server.engine.ReplayHistory(ctx, c.id, p.SubscriptionID)
}

func (c *Client) sendError(err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.StoreUnavailable || kind == apperr.Internal {
		c.server.log.Error("realtime event failed",
			zap.String("kind", kind.String()),
			zap.String("conn_id", c.id),
			zap.String("user_id", c.identity.UserID),
			zap.Error(err))
	}
	c.server.registry.SendTo(c.id, protocol.ErrorEvent(apperr.Message(err)))
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
