package server

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/boardgo/server/internal/protocol"
)

// seat is one claimed player slot. Seats survive disconnects; the conn
// pointer is nil while the player is away and the reconnect token lets
// them reclaim the same seat.
type seat struct {
	playerID string
	nickname string
	token    string
	ready    bool
	c        *conn
}

// SessionManager owns the seat table and the conn-to-player binding.
// It is confined to the session goroutine, so no locking.
type SessionManager struct {
	seats map[string]*seat
	order []string
	conns map[*conn]string
	log   *zap.Logger
}

func NewSessionManager(log *zap.Logger) *SessionManager {
	return &SessionManager{
		seats: make(map[string]*seat),
		conns: make(map[*conn]string),
		log:   log,
	}
}

// Register claims a new seat and mints its reconnect token.
func (m *SessionManager) Register(playerID, nickname string, c *conn) *seat {
	st := &seat{
		playerID: playerID,
		nickname: nickname,
		token:    uuid.NewString(),
		c:        c,
	}
	m.seats[playerID] = st
	m.order = append(m.order, playerID)
	m.conns[c] = playerID
	return st
}

// Bind attaches a connection to an existing seat, displacing any stale
// connection still bound to it.
func (m *SessionManager) Bind(st *seat, c *conn) {
	if st.c != nil && st.c != c {
		delete(m.conns, st.c)
		st.c.close()
	}
	st.c = c
	m.conns[c] = st.playerID
}

// Unbind detaches a closed connection. The seat stays; ok reports whether
// the connection was bound to one.
func (m *SessionManager) Unbind(c *conn) (playerID string, ok bool) {
	playerID, ok = m.conns[c]
	if !ok {
		return "", false
	}
	delete(m.conns, c)
	if st := m.seats[playerID]; st != nil && st.c == c {
		st.c = nil
	}
	return playerID, true
}

// Remove drops a seat entirely. Used for lobby-phase LEAVE only; in-game
// seats are kept so the player order stays intact.
func (m *SessionManager) Remove(playerID string) {
	st, ok := m.seats[playerID]
	if !ok {
		return
	}
	if st.c != nil {
		delete(m.conns, st.c)
	}
	delete(m.seats, playerID)
	for i, id := range m.order {
		if id == playerID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

func (m *SessionManager) Seat(playerID string) (*seat, bool) {
	st, ok := m.seats[playerID]
	return st, ok
}

func (m *SessionManager) PlayerFor(c *conn) (string, bool) {
	id, ok := m.conns[c]
	return id, ok
}

// ByToken resolves a reconnect token to its seat.
func (m *SessionManager) ByToken(token string) (*seat, bool) {
	if token == "" {
		return nil, false
	}
	for _, st := range m.seats {
		if st.token == token {
			return st, true
		}
	}
	return nil, false
}

// NicknameTaken reports whether another seat already uses nickname.
func (m *SessionManager) NicknameTaken(nickname, exceptPlayerID string) bool {
	for _, st := range m.seats {
		if st.playerID != exceptPlayerID && st.nickname == nickname {
			return true
		}
	}
	return false
}

// Reclaim refreshes a seat for a tokenless rejoin: readiness is
// revoked and the nickname replaced. The seat keeps its token, no new
// one is minted.
func (m *SessionManager) Reclaim(st *seat, nickname string) {
	st.nickname = nickname
	st.ready = false
}

func (m *SessionManager) SetReady(playerID string, ready bool) bool {
	st, ok := m.seats[playerID]
	if !ok {
		return false
	}
	st.ready = ready
	return true
}

func (m *SessionManager) Count() int { return len(m.seats) }

// Order returns the seats in join order.
func (m *SessionManager) Order() []string {
	return append([]string(nil), m.order...)
}

// ConnectedOrder returns only the currently connected seats, in join
// order. Game start builds the player order from this.
func (m *SessionManager) ConnectedOrder() []string {
	ids := make([]string, 0, len(m.order))
	for _, id := range m.order {
		if m.seats[id].c != nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// CanStart is the lobby gate: at least one connected seat, and every
// connected seat ready. Disconnected seats do not block the start.
func (m *SessionManager) CanStart() bool {
	connected := 0
	for _, st := range m.seats {
		if st.c == nil {
			continue
		}
		connected++
		if !st.ready {
			return false
		}
	}
	return connected > 0
}

// LobbyState builds the snapshot broadcast after lobby mutations.
// Disconnected seats stay listed so rejoining players see their slot.
func (m *SessionManager) LobbyState() protocol.LobbyStatePayload {
	players := make([]protocol.LobbyPlayer, 0, len(m.order))
	for _, id := range m.order {
		st := m.seats[id]
		players = append(players, protocol.LobbyPlayer{
			PlayerID:    st.playerID,
			Nickname:    st.nickname,
			IsReady:     st.ready,
			IsConnected: st.c != nil,
		})
	}
	return protocol.LobbyStatePayload{Players: players, CanStart: m.CanStart()}
}

// Send delivers a frame to one player if they are connected.
func (m *SessionManager) Send(playerID string, frame []byte) bool {
	st, ok := m.seats[playerID]
	if !ok || st.c == nil {
		return false
	}
	return st.c.send(frame)
}

// Broadcast delivers a frame to every connected seat.
func (m *SessionManager) Broadcast(frame []byte) {
	for _, id := range m.order {
		if st := m.seats[id]; st.c != nil {
			st.c.send(frame)
		}
	}
}
