package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// MaxLogEntries bounds the in-memory audit log. Appending past the bound
// evicts the oldest entries.
const MaxLogEntries = 50

// TurnStep marks where inside a turn the active player is.
type TurnStep string

const (
	StepStart TurnStep = "START"
	StepMain  TurnStep = "MAIN"
	StepEnd   TurnStep = "END"
)

// PlayerState is one seat's snapshot inside the session. The seat itself
// lives in the SessionManager; this copy is hydrated at game start and
// updated on connection transitions.
type PlayerState struct {
	PlayerID       string `json:"playerId"`
	Nickname       string `json:"nickname"`
	IsConnected    bool   `json:"isConnected"`
	IsReady        bool   `json:"isReady"`
	ReconnectToken string `json:"reconnectToken"`
}

// TurnState tracks whose turn it is. Nil while in the lobby.
type TurnState struct {
	Round               int      `json:"round"`
	TurnIndex           int      `json:"turnIndex"`
	ActivePlayerID      string   `json:"activePlayerId"`
	Step                TurnStep `json:"step"`
	ActionCountThisTurn int      `json:"actionCountThisTurn"`
}

// GameState is the rules-pack-owned payload. The session core never
// interprets Data; only the active pack reads and writes it.
type GameState struct {
	GameID         string         `json:"gameId"`
	Turn           int            `json:"turn"`
	ActivePlayerID string         `json:"activePlayerId"`
	Data           map[string]any `json:"data"`
}

// LogEntry is one line of the bounded audit log.
type LogEntry struct {
	EventType   string `json:"eventType"`
	Description string `json:"description"`
	Timestamp   int64  `json:"timestamp"`
}

// State is the authoritative session snapshot. All mutation helpers
// return a new value; the previous snapshot stays valid for readers that
// captured it.
type State struct {
	SessionID   string                 `json:"sessionId"`
	Phase       Phase                  `json:"phase"`
	Players     map[string]PlayerState `json:"players"`
	PlayerOrder []string               `json:"playerOrder"`
	TurnState   *TurnState             `json:"turnState"`
	GameState   *GameState             `json:"gameState"`
	Log         []LogEntry             `json:"log"`
	Version     int64                  `json:"version"`
}

// New creates a fresh lobby-phase session.
func New(sessionID string) State {
	return State{
		SessionID: sessionID,
		Phase:     PhaseLobby,
		Players:   map[string]PlayerState{},
	}
}

// Clone deep-copies the snapshot. GameState.Data is copied one level
// deep plus nested maps/slices, which covers everything rules packs
// store there.
func (s State) Clone() State {
	out := s
	out.Players = make(map[string]PlayerState, len(s.Players))
	for id, p := range s.Players {
		out.Players[id] = p
	}
	out.PlayerOrder = append([]string(nil), s.PlayerOrder...)
	out.Log = append([]LogEntry(nil), s.Log...)
	if s.TurnState != nil {
		ts := *s.TurnState
		out.TurnState = &ts
	}
	if s.GameState != nil {
		gs := *s.GameState
		gs.Data = cloneValue(s.GameState.Data).(map[string]any)
		out.GameState = &gs
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = cloneValue(e)
		}
		return m
	case []any:
		l := make([]any, len(t))
		for i, e := range t {
			l[i] = cloneValue(e)
		}
		return l
	case []string:
		return append([]string(nil), t...)
	case map[string][]string:
		m := make(map[string][]string, len(t))
		for k, e := range t {
			m[k] = append([]string(nil), e...)
		}
		return m
	case map[string]int:
		m := make(map[string]int, len(t))
		for k, e := range t {
			m[k] = e
		}
		return m
	default:
		return v
	}
}

// AddLog appends an audit entry, trims to MaxLogEntries, and bumps the
// version. Every semantic mutation funnels through here exactly once,
// which is what keeps the version strictly monotonic.
func (s State) AddLog(eventType, description string) State {
	out := s.Clone()
	out.Log = append(out.Log, LogEntry{
		EventType:   eventType,
		Description: description,
		Timestamp:   time.Now().UnixMilli(),
	})
	if n := len(out.Log); n > MaxLogEntries {
		out.Log = append([]LogEntry(nil), out.Log[n-MaxLogEntries:]...)
	}
	out.Version++
	return out
}

// WithPlayer replaces one seat snapshot without a version bump; callers
// pair it with AddLog when the change is an observable transition.
func (s State) WithPlayer(p PlayerState) State {
	out := s.Clone()
	out.Players[p.PlayerID] = p
	return out
}

// WithConnected flips a seat's connected flag. No-op clone if the seat
// is unknown.
func (s State) WithConnected(playerID string, connected bool) State {
	out := s.Clone()
	if p, ok := out.Players[playerID]; ok {
		p.IsConnected = connected
		out.Players[playerID] = p
	}
	return out
}

// RecentLog returns up to n of the newest log entries, oldest first.
func (s State) RecentLog(n int) []LogEntry {
	if n <= 0 || len(s.Log) == 0 {
		return nil
	}
	if len(s.Log) < n {
		n = len(s.Log)
	}
	return append([]LogEntry(nil), s.Log[len(s.Log)-n:]...)
}

// Validate checks the structural invariants that must hold whenever the
// session is in game: every ordered id has a seat, and the active player
// matches the turn index.
func (s State) Validate() error {
	if s.Phase != PhaseInGame {
		return nil
	}
	if s.TurnState == nil {
		return fmt.Errorf("session %s: in game without turn state", s.SessionID)
	}
	if len(s.PlayerOrder) == 0 {
		return fmt.Errorf("session %s: in game with empty player order", s.SessionID)
	}
	for _, id := range s.PlayerOrder {
		if _, ok := s.Players[id]; !ok {
			return fmt.Errorf("session %s: ordered player %s has no seat", s.SessionID, id)
		}
	}
	idx := s.TurnState.TurnIndex
	if idx < 0 || idx >= len(s.PlayerOrder) {
		return fmt.Errorf("session %s: turn index %d out of range", s.SessionID, idx)
	}
	if s.PlayerOrder[idx] != s.TurnState.ActivePlayerID {
		return fmt.Errorf("session %s: active player %s does not match order slot %d",
			s.SessionID, s.TurnState.ActivePlayerID, idx)
	}
	return nil
}

// ToJSON serializes the snapshot for persistence.
func (s State) ToJSON() ([]byte, error) {
	return json.Marshal(s)
}

// FromJSON restores a snapshot. Phase strings outside the closed set
// fail here rather than producing a corrupt state.
func FromJSON(data []byte) (State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("decode session state: %w", err)
	}
	if s.Players == nil {
		s.Players = map[string]PlayerState{}
	}
	return s, nil
}
