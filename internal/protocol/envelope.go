package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType is the wire discriminator of an envelope. The set is closed:
// decoding a frame with any other type fails.
type MessageType string

const (
	MsgAction         MessageType = "ACTION"
	MsgStateUpdate    MessageType = "STATE_UPDATE"
	MsgJoin           MessageType = "JOIN"
	MsgLeave          MessageType = "LEAVE"
	MsgError          MessageType = "ERROR"
	MsgJoinRoomAck    MessageType = "JOIN_ROOM_ACK"
	MsgLobbyState     MessageType = "LOBBY_STATE"
	MsgSetReady       MessageType = "SET_READY"
	MsgPing           MessageType = "PING"
	MsgPong           MessageType = "PONG"
	MsgPlayerView     MessageType = "PLAYER_VIEW"
	MsgBoardView      MessageType = "BOARD_VIEW"
	MsgActionRejected MessageType = "ACTION_REJECTED"
	MsgStartGame      MessageType = "START_GAME"
)

var knownTypes = map[MessageType]bool{
	MsgAction: true, MsgStateUpdate: true, MsgJoin: true, MsgLeave: true,
	MsgError: true, MsgJoinRoomAck: true, MsgLobbyState: true,
	MsgSetReady: true, MsgPing: true, MsgPong: true, MsgPlayerView: true,
	MsgBoardView: true, MsgActionRejected: true, MsgStartGame: true,
}

// Envelope is the outer frame: {"type": ..., "payload": {...}, "timestamp": ms}.
// Payload is kept raw here; per-type decoding happens at dispatch.
type Envelope struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

// DecodeError reports a malformed inbound frame. The server answers these
// with an ERROR envelope and keeps the connection open.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string { return "invalid frame: " + e.Reason }

// Decode parses an envelope and validates its type against the closed set.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &DecodeError{Reason: fmt.Sprintf("malformed JSON: %v", err)}
	}
	if env.Type == "" {
		return nil, &DecodeError{Reason: "missing type"}
	}
	if !knownTypes[env.Type] {
		return nil, &DecodeError{Reason: fmt.Sprintf("unknown type %q", env.Type)}
	}
	return &env, nil
}

// Encode wraps a payload in an envelope stamped with the current wall clock
// in milliseconds and serializes it.
func Encode(typ MessageType, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	env := Envelope{
		Type:      typ,
		Payload:   raw,
		Timestamp: time.Now().UnixMilli(),
	}
	return json.Marshal(env)
}

// MustEncode is Encode for payloads that cannot fail to marshal
// (plain structs of strings, numbers and bools). It panics otherwise.
func MustEncode(typ MessageType, payload any) []byte {
	data, err := Encode(typ, payload)
	if err != nil {
		panic(err)
	}
	return data
}
