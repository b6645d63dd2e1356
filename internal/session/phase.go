package session

import (
	"encoding/json"
	"fmt"
)

// Phase is the room lifecycle state. Transitions happen only through
// explicit server operations; there is no implicit decay.
type Phase string

const (
	PhaseLobby    Phase = "LOBBY"
	PhaseInGame   Phase = "IN_GAME"
	PhaseRoundEnd Phase = "ROUND_END"
	PhaseFinished Phase = "FINISHED"
)

// ParsePhase validates a wire string. Unknown values are a format error,
// not a silent default.
func ParsePhase(s string) (Phase, error) {
	switch Phase(s) {
	case PhaseLobby, PhaseInGame, PhaseRoundEnd, PhaseFinished:
		return Phase(s), nil
	}
	return "", fmt.Errorf("unknown session phase %q", s)
}

func (p Phase) String() string { return string(p) }

func (p Phase) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(p))
}

func (p *Phase) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParsePhase(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
