package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type TokenVerifier interface {
	ParseOwner(token string) (uuid.UUID, error)
}

// Hub fans ingestion updates published on user_updates:<owner> out to that owner's sockets.
// One Redis subscription exists per owner with at least one open socket.
type Hub struct {
	mu          sync.RWMutex
	connections map[uuid.UUID][]*websocket.Conn
	redisClient *redis.Client
	tokens      TokenVerifier
	cancelFuncs map[uuid.UUID]context.CancelFunc
	log         *logrus.Logger
}

func NewHub(redisClient *redis.Client, tokens TokenVerifier, logger *logrus.Logger) *Hub {
	return &Hub{
		connections: make(map[uuid.UUID][]*websocket.Conn),
		redisClient: redisClient,
		tokens:      tokens,
		cancelFuncs: make(map[uuid.UUID]context.CancelFunc),
		log:         logger,
	}
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Browsers cannot set headers on the upgrade request, so the token rides in the query.
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ownerID, err := h.tokens.ParseOwner(tokenStr)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	h.registerConnection(ownerID, conn)

	// Keep connection alive and handle disconnect
	go func() {
		defer h.unregisterConnection(ownerID, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (h *Hub) registerConnection(ownerID uuid.UUID, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.connections[ownerID] = append(h.connections[ownerID], conn)

	if len(h.connections[ownerID]) == 1 && h.redisClient != nil {
		ctx, cancel := context.WithCancel(context.Background())
		h.cancelFuncs[ownerID] = cancel
		go h.subscribe(ctx, ownerID)
	}

	h.log.WithFields(logrus.Fields{"owner_id": ownerID, "sockets": len(h.connections[ownerID])}).Debug("websocket connected")
}

func (h *Hub) unregisterConnection(ownerID uuid.UUID, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn.Close()

	conns := h.connections[ownerID]
	for i, c := range conns {
		if c == conn {
			h.connections[ownerID] = append(conns[:i], conns[i+1:]...)
			break
		}
	}

	if len(h.connections[ownerID]) == 0 {
		delete(h.connections, ownerID)
		if cancel, ok := h.cancelFuncs[ownerID]; ok {
			cancel()
			delete(h.cancelFuncs, ownerID)
		}
	}

	h.log.WithField("owner_id", ownerID).Debug("websocket disconnected")
}

func (h *Hub) subscribe(ctx context.Context, ownerID uuid.UUID) {
	pubsub := h.redisClient.Subscribe(ctx, "user_updates:"+ownerID.String())
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.Broadcast(ownerID, []byte(msg.Payload))
		}
	}
}

// Broadcast writes data to every open socket of the owner.
func (h *Hub) Broadcast(ownerID uuid.UUID, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, conn := range h.connections[ownerID] {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.log.WithError(err).WithField("owner_id", ownerID).Debug("websocket write failed")
		}
	}
}

// Close cancels every subscription and closes open sockets.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ownerID, cancel := range h.cancelFuncs {
		cancel()
		delete(h.cancelFuncs, ownerID)
	}
	for ownerID, conns := range h.connections {
		for _, c := range conns {
			c.Close()
		}
		delete(h.connections, ownerID)
	}
}
