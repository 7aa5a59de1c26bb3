package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/bet-core-engine/pkg/contracts/events"
	"github.com/radieske/bet-core-engine/pkg/contracts/topics"
)

// fakeSession implementa Session sem transporte real
type fakeSession struct {
	id       string
	userID   string
	capacity int // 0 = ilimitado
	msgs     [][]byte
	closed   bool
}

func (s *fakeSession) ID() string     { return s.id }
func (s *fakeSession) UserID() string { return s.userID }
func (s *fakeSession) Close()         { s.closed = true }

func (s *fakeSession) Send(msg []byte) bool {
	if s.capacity > 0 && len(s.msgs) >= s.capacity {
		return false
	}
	s.msgs = append(s.msgs, msg)
	return true
}

func (s *fakeSession) decoded(t *testing.T) []events.Broadcast {
	t.Helper()
	out := make([]events.Broadcast, 0, len(s.msgs))
	for _, m := range s.msgs {
		var ev events.Broadcast
		require.NoError(t, json.Unmarshal(m, &ev))
		out = append(out, ev)
	}
	return out
}

func mustBroadcast(t *testing.T, topic, typ string, payload any) events.Broadcast {
	t.Helper()
	ev, err := events.NewBroadcast(topic, typ, payload)
	require.NoError(t, err)
	return ev
}

func TestHubDeliversOnlyToTopicSubscribers(t *testing.T) {
	hub := NewHub(zap.NewNop())

	s1 := &fakeSession{id: "S1"}
	s2 := &fakeSession{id: "S2"}
	hub.Register(s1)
	hub.Register(s2)
	hub.SubscribeMatch(s1, "MATCH_001")
	hub.SubscribeMatch(s2, "MATCH_002")

	hub.Publish(mustBroadcast(t, topics.Match("MATCH_001"), events.TypeMatchScore, map[string]int{"home": 1}))

	assert.Len(t, s1.msgs, 1)
	assert.Empty(t, s2.msgs)
}

func TestHubPreservesPublishOrderPerTopic(t *testing.T) {
	hub := NewHub(zap.NewNop())

	s := &fakeSession{id: "S1"}
	hub.Register(s)
	hub.SubscribeMatch(s, "MATCH_001")

	for i := 0; i < 10; i++ {
		hub.Publish(mustBroadcast(t, topics.Match("MATCH_001"), events.TypeMatchBall, map[string]int{"seq": i}))
	}

	evs := s.decoded(t)
	require.Len(t, evs, 10)
	for i, ev := range evs {
		var p struct {
			Seq int `json:"seq"`
		}
		require.NoError(t, json.Unmarshal(ev.Payload, &p))
		assert.Equal(t, i, p.Seq)
	}
}

func TestHubUserTopicRequiresIdentity(t *testing.T) {
	hub := NewHub(zap.NewNop())

	anon := &fakeSession{id: "S1"}
	hub.Register(anon)
	assert.ErrorIs(t, hub.SubscribeUser(anon), ErrForbiddenTopic)

	authed := &fakeSession{id: "S2", userID: "USER_001"}
	hub.Register(authed)
	require.NoError(t, hub.SubscribeUser(authed))

	hub.Publish(mustBroadcast(t, topics.User("USER_001"), events.TypeWalletUpdate, events.WalletUpdate{UserID: "USER_001"}))

	assert.Len(t, authed.msgs, 1)
	assert.Empty(t, anon.msgs)
}

// eventos de carteira de um usuário nunca chegam à sessão de outro
func TestHubUserTopicIsolation(t *testing.T) {
	hub := NewHub(zap.NewNop())

	alice := &fakeSession{id: "S1", userID: "USER_001"}
	bruno := &fakeSession{id: "S2", userID: "USER_002"}
	hub.Register(alice)
	hub.Register(bruno)
	require.NoError(t, hub.SubscribeUser(alice))
	require.NoError(t, hub.SubscribeUser(bruno))

	hub.Publish(mustBroadcast(t, topics.User("USER_001"), events.TypeBetSettled, events.BetSettled{UserID: "USER_001"}))

	assert.Len(t, alice.msgs, 1)
	assert.Empty(t, bruno.msgs)
}

// sessão lenta é derrubada na hora: entrega at-most-once, sem replay
func TestHubDropsSlowSession(t *testing.T) {
	hub := NewHub(zap.NewNop())

	slow := &fakeSession{id: "S1", capacity: 2}
	fast := &fakeSession{id: "S2"}
	hub.Register(slow)
	hub.Register(fast)
	hub.SubscribeMatch(slow, "MATCH_001")
	hub.SubscribeMatch(fast, "MATCH_001")

	for i := 0; i < 5; i++ {
		hub.Publish(mustBroadcast(t, topics.Match("MATCH_001"), events.TypeMatchBall, map[string]int{"seq": i}))
	}

	assert.True(t, slow.closed)
	assert.Len(t, slow.msgs, 2)
	assert.Len(t, fast.msgs, 5)

	// a sessão derrubada saiu de todas as assinaturas
	hub.Publish(mustBroadcast(t, topics.Match("MATCH_001"), events.TypeMatchBall, map[string]int{"seq": 99}))
	assert.Len(t, slow.msgs, 2)
	assert.Len(t, fast.msgs, 6)
}

func TestHubUnregisterRemovesAllSubscriptions(t *testing.T) {
	hub := NewHub(zap.NewNop())

	s := &fakeSession{id: "S1", userID: "USER_001"}
	hub.Register(s)
	hub.SubscribeMatch(s, "MATCH_001")
	require.NoError(t, hub.SubscribeUser(s))

	hub.Unregister(s.ID())

	hub.Publish(mustBroadcast(t, topics.Match("MATCH_001"), events.TypeMatchScore, nil))
	hub.Publish(mustBroadcast(t, topics.User("USER_001"), events.TypeWalletUpdate, nil))
	assert.Empty(t, s.msgs)
}

func TestHubUnsubscribeMatch(t *testing.T) {
	hub := NewHub(zap.NewNop())

	s := &fakeSession{id: "S1"}
	hub.Register(s)
	hub.SubscribeMatch(s, "MATCH_001")
	hub.UnsubscribeMatch(s, "MATCH_001")

	hub.Publish(mustBroadcast(t, topics.Match("MATCH_001"), events.TypeMatchScore, nil))
	assert.Empty(t, s.msgs)
}

func TestHubPublisherDeliversLocally(t *testing.T) {
	hub := NewHub(zap.NewNop())
	s := &fakeSession{id: "S1"}
	hub.Register(s)
	hub.SubscribeMatch(s, "MATCH_001")

	p := &HubPublisher{Hub: hub}
	p.Broadcast(context.Background(), mustBroadcast(t, topics.Match("MATCH_001"), events.TypeMarketsUpdate, nil))

	require.Len(t, s.msgs, 1)
	assert.Contains(t, string(s.msgs[0]), fmt.Sprintf("%q", events.TypeMarketsUpdate))
}
