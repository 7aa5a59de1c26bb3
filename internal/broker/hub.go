package broker

import (
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/radieske/bet-core-engine/internal/shared/metrics"
	"github.com/radieske/bet-core-engine/pkg/contracts/events"
	"github.com/radieske/bet-core-engine/pkg/contracts/topics"
)

// ErrForbiddenTopic: sessão tentou assinar tópico de outro usuário
var ErrForbiddenTopic = errors.New("forbidden topic")

// Session abstrai o transporte de uma conexão assinante (WebSocket em
// produção, fake nos testes). Send não pode bloquear: retornar false sinaliza
// backpressure e derruba a sessão. Entrega é at-most-once, sem replay;
// cliente reconectando faz ressincronização completa.
type Session interface {
	ID() string
	UserID() string
	Send(msg []byte) bool
	Close()
}

// Hub mapeia tópicos (match:<id>, user:<id>) para sessões assinantes.
// A entrega por tópico é FIFO em relação à ordem de publicação; entre tópicos
// distintos não há garantia de ordem.
type Hub struct {
	log *zap.Logger

	mu       sync.RWMutex
	subs     map[string]map[string]Session // topic -> sessionID -> session
	sessions map[string]Session
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		log:      log,
		subs:     make(map[string]map[string]Session),
		sessions: make(map[string]Session),
	}
}

func (h *Hub) Register(s Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[s.ID()] = s
	metrics.WSConnections.Inc()
}

// Unregister remove a sessão de todas as assinaturas
func (h *Hub) Unregister(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(sessionID)
}

func (h *Hub) dropLocked(sessionID string) {
	if _, ok := h.sessions[sessionID]; !ok {
		return
	}
	delete(h.sessions, sessionID)
	for topic, set := range h.subs {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(h.subs, topic)
		}
	}
	metrics.WSConnections.Dec()
}

func (h *Hub) SubscribeMatch(s Session, matchID string) {
	h.subscribe(s, topics.Match(matchID))
}

func (h *Hub) UnsubscribeMatch(s Session, matchID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	topic := topics.Match(matchID)
	if set, ok := h.subs[topic]; ok {
		delete(set, s.ID())
		if len(set) == 0 {
			delete(h.subs, topic)
		}
	}
}

// SubscribeUser assina o tópico do próprio usuário autenticado da sessão.
// Sessão sem identidade não pode assinar tópico de carteira.
func (h *Hub) SubscribeUser(s Session) error {
	if s.UserID() == "" {
		return ErrForbiddenTopic
	}
	h.subscribe(s, topics.User(s.UserID()))
	return nil
}

func (h *Hub) subscribe(s Session, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[s.ID()]; !ok {
		return // sessão já caiu
	}
	if _, ok := h.subs[topic]; !ok {
		h.subs[topic] = make(map[string]Session)
	}
	h.subs[topic][s.ID()] = s
}

// Publish entrega o envelope a todos os assinantes do tópico.
// Sessão lenta é derrubada na hora: a publicação nunca bloqueia.
func (h *Hub) Publish(ev events.Broadcast) {
	msg, err := json.Marshal(ev)
	if err != nil {
		h.log.Warn("broadcast marshal", zap.Error(err))
		return
	}

	h.mu.RLock()
	set := h.subs[ev.Topic]
	targets := make([]Session, 0, len(set))
	for _, s := range set {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	var dropped []string
	for _, s := range targets {
		if !s.Send(msg) {
			dropped = append(dropped, s.ID())
			continue
		}
		metrics.WSEventsSent.Inc()
	}

	for _, id := range dropped {
		h.log.Warn("session dropped on backpressure", zap.String("session_id", id))
		metrics.WSDroppedSessions.Inc()
		h.mu.Lock()
		if s, ok := h.sessions[id]; ok {
			h.dropLocked(id)
			s.Close()
		}
		h.mu.Unlock()
	}
}
