package protocol

import (
	"encoding/json"
)

// Rejection codes carried by ACTION_REJECTED. These are the only values
// ever emitted by the action pipeline.
const (
	RejectDuplicateAction = "DUPLICATE_ACTION"
	RejectPhaseMismatch   = "PHASE_MISMATCH"
	RejectNotYourTurn     = "NOT_YOUR_TURN"
	RejectInvalidAction   = "INVALID_ACTION"
)

// JOIN_ROOM_ACK failure codes.
const (
	AckRoomFull      = "ROOM_FULL"
	AckInvalidToken  = "INVALID_TOKEN" // defined on the wire, never emitted
	AckNicknameTaken = "NICKNAME_TAKEN"
)

// JoinPayload is sent by a client to claim or reclaim a seat.
type JoinPayload struct {
	PlayerID       string `json:"playerId"`
	Event          string `json:"event"`
	DisplayName    string `json:"displayName,omitempty"`
	ReconnectToken string `json:"reconnectToken,omitempty"`
}

// LeavePayload is sent by a client to give up its seat, and broadcast by
// the server to the remaining players.
type LeavePayload struct {
	PlayerID string `json:"playerId"`
	Event    string `json:"event"`
}

// JoinRoomAckPayload answers a JOIN. On success PlayerID carries the
// resolved id (which may differ from the presented one after a token
// reconnect) and ReconnectToken the seat's stable token.
type JoinRoomAckPayload struct {
	Success        bool   `json:"success"`
	PlayerID       string `json:"playerId,omitempty"`
	ReconnectToken string `json:"reconnectToken,omitempty"`
	ErrorCode      string `json:"errorCode,omitempty"`
	ErrorMessage   string `json:"errorMessage,omitempty"`
}

// SetReadyPayload toggles the lobby ready flag.
type SetReadyPayload struct {
	PlayerID string `json:"playerId"`
	IsReady  bool   `json:"isReady"`
}

// LobbyPlayer is one seat in a LOBBY_STATE snapshot. Disconnected seats
// stay in the snapshot with IsConnected=false.
type LobbyPlayer struct {
	PlayerID    string `json:"playerId"`
	Nickname    string `json:"nickname"`
	IsReady     bool   `json:"isReady"`
	IsConnected bool   `json:"isConnected"`
}

// LobbyStatePayload is broadcast after every lobby-shaped mutation.
type LobbyStatePayload struct {
	Players  []LobbyPlayer `json:"players"`
	CanStart bool          `json:"canStart"`
}

// ActionPayload carries an in-game action. ClientActionID, when present,
// feeds the idempotency cache.
type ActionPayload struct {
	PlayerID       string         `json:"playerId"`
	ActionType     string         `json:"actionType"`
	Data           map[string]any `json:"data"`
	ClientActionID string         `json:"clientActionId,omitempty"`
}

// ActionRejectedPayload answers the sender of a refused action.
type ActionRejectedPayload struct {
	Reason         string `json:"reason"`
	Code           string `json:"code"`
	ClientActionID string `json:"clientActionId,omitempty"`
}

// BoardViewPayload wraps the public snapshot broadcast to every
// connection after an in-game mutation.
type BoardViewPayload struct {
	BoardView map[string]any `json:"boardView"`
}

// PlayerViewPayload wraps the private snapshot sent to one player.
type PlayerViewPayload struct {
	PlayerView map[string]any `json:"playerView"`
}

// PingPayload / PongPayload carry the client-driven heartbeat. The server
// echoes the timestamp untouched.
type PingPayload struct {
	Timestamp int64 `json:"timestamp"`
}

type PongPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// ErrorPayload reports malformed frames and lobby-phase soft failures.
type ErrorPayload struct {
	Reason string `json:"reason"`
}

// StateUpdatePayload is the legacy whole-state broadcast. It remains in
// the closed type set for wire compatibility but is never emitted.
type StateUpdatePayload struct {
	State       map[string]any `json:"state"`
	TriggeredBy string         `json:"triggeredBy,omitempty"`
}

// StartGamePayload asks the server to start the game with the given pack.
type StartGamePayload struct {
	PackID string `json:"packId,omitempty"`
}

// DecodePayload unmarshals env.Payload into the schema for env.Type and
// validates required fields. A shape mismatch yields a *DecodeError.
func DecodePayload[T any](env *Envelope) (*T, error) {
	if len(env.Payload) == 0 {
		return nil, &DecodeError{Reason: "missing payload"}
	}
	var p T
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, &DecodeError{Reason: "payload shape mismatch for " + string(env.Type)}
	}
	return &p, nil
}

// Validate checks the per-type required fields that JSON decoding alone
// cannot enforce.
func (p *JoinPayload) Validate() error {
	if p.PlayerID == "" {
		return &DecodeError{Reason: "JOIN requires playerId"}
	}
	if p.Event != "join" {
		return &DecodeError{Reason: `JOIN requires event "join"`}
	}
	return nil
}

func (p *LeavePayload) Validate() error {
	if p.PlayerID == "" {
		return &DecodeError{Reason: "LEAVE requires playerId"}
	}
	if p.Event != "leave" {
		return &DecodeError{Reason: `LEAVE requires event "leave"`}
	}
	return nil
}

func (p *SetReadyPayload) Validate() error {
	if p.PlayerID == "" {
		return &DecodeError{Reason: "SET_READY requires playerId"}
	}
	return nil
}

func (p *ActionPayload) Validate() error {
	if p.PlayerID == "" {
		return &DecodeError{Reason: "ACTION requires playerId"}
	}
	if p.ActionType == "" {
		return &DecodeError{Reason: "ACTION requires actionType"}
	}
	return nil
}
