package broker

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ClientMsg é o protocolo de controle do assinante
type ClientMsg struct {
	Type    string `json:"type"` // subscribe:match | unsubscribe:match | subscribe:user | ping
	MatchID string `json:"matchId,omitempty"`
}

const sendBuffer = 64

// wsSession implementa Session sobre gorilla/websocket.
// Uma única goroutine de escrita drena o canal out, preservando FIFO.
type wsSession struct {
	id     string
	userID string
	conn   *websocket.Conn
	out    chan []byte
	done   chan struct{}
	once   sync.Once
}

func (s *wsSession) ID() string     { return s.id }
func (s *wsSession) UserID() string { return s.userID }

// Send enfileira sem bloquear; canal cheio devolve false (backpressure)
func (s *wsSession) Send(msg []byte) bool {
	select {
	case <-s.done:
		return false
	case s.out <- msg:
		return true
	default:
		return false
	}
}

func (s *wsSession) Close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *wsSession) writePump() {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.Close()
				return
			}
		}
	}
}

// WSHandler gerencia o ciclo de vida das conexões WebSocket do broker.
// A identidade do usuário chega no header X-User-ID, injetado pela camada de
// autenticação a montante.
type WSHandler struct {
	log      *zap.Logger
	hub      *Hub
	upgrader websocket.Upgrader
}

func NewWSHandler(log *zap.Logger, hub *Hub, allowOrigin func(r *http.Request) bool) *WSHandler {
	return &WSHandler{
		log:      log,
		hub:      hub,
		upgrader: websocket.Upgrader{CheckOrigin: allowOrigin},
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s := &wsSession{
		id:     uuid.NewString(),
		userID: r.Header.Get("X-User-ID"),
		conn:   conn,
		out:    make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}

	h.hub.Register(s)
	go s.writePump()

	defer func() {
		h.hub.Unregister(s.ID())
		s.Close()
	}()

	for {
		var msg ClientMsg
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case "subscribe:match":
			if msg.MatchID != "" {
				h.hub.SubscribeMatch(s, msg.MatchID)
			}
		case "unsubscribe:match":
			if msg.MatchID != "" {
				h.hub.UnsubscribeMatch(s, msg.MatchID)
			}
		case "subscribe:user":
			if err := h.hub.SubscribeUser(s); err != nil {
				// respostas de controle passam pelo mesmo canal de escrita
				s.Send([]byte(`{"type":"error","error":"forbidden"}`))
			}
		case "ping":
			s.Send([]byte(`{"type":"pong"}`))
		}
	}
}
