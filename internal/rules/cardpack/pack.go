// Package cardpack is the reference rules pack: a shuffled deck dealt
// into per-player hands, a shared discard pile, and a score per card
// played. It exists to exercise every seam of the rules contract, not to
// be a deep game.
package cardpack

import (
	"fmt"
	"math/rand"

	"github.com/boardgo/server/internal/rules"
	"github.com/boardgo/server/internal/session"
)

// Action types understood by the pack.
const (
	ActionPlayCard = "PLAY_CARD"
	ActionDrawCard = "DRAW_CARD"
	ActionEndTurn  = "END_TURN"
)

// GameState.Data keys. Kept stable because persisted sessions serialize
// these verbatim.
const (
	keyHands    = "hands"
	keyDeck     = "deck"
	keyDiscard  = "discardPile"
	keyScores   = "scores"
	keyPlayers  = "playerIds"
	keyHandSize = "handSize"
)

// Pack implements rules.Pack. A zero seed shuffles from the shared
// non-deterministic source; tests inject a fixed seed.
type Pack struct {
	def  Definition
	seed int64
}

func New(def Definition, seed int64) *Pack {
	return &Pack{def: def, seed: seed}
}

func (p *Pack) PackID() string { return p.def.PackID }

func (p *Pack) shuffledDeck() []string {
	deck := p.def.BuildDeck()
	if p.seed != 0 {
		rng := rand.New(rand.NewSource(p.seed))
		rng.Shuffle(len(deck), func(i, j int) { deck[i], deck[j] = deck[j], deck[i] })
	} else {
		rand.Shuffle(len(deck), func(i, j int) { deck[i], deck[j] = deck[j], deck[i] })
	}
	return deck
}

// CreateInitialGameState deals HandSize cards to each ordered player,
// starts round 1 with the first ordered player active, and moves the
// session into game.
func (p *Pack) CreateInitialGameState(s session.State) (session.State, error) {
	if len(s.PlayerOrder) == 0 {
		return s, fmt.Errorf("cannot start %s with no players", p.def.PackID)
	}
	if need := len(s.PlayerOrder) * p.def.HandSize; need > p.def.DeckSize() {
		return s, fmt.Errorf("deck of %d cannot deal %d cards", p.def.DeckSize(), need)
	}

	deck := p.shuffledDeck()
	hands := make(map[string][]string, len(s.PlayerOrder))
	scores := make(map[string]int, len(s.PlayerOrder))
	for _, id := range s.PlayerOrder {
		hands[id] = append([]string(nil), deck[:p.def.HandSize]...)
		deck = deck[p.def.HandSize:]
		scores[id] = 0
	}

	out := s.Clone()
	out.Phase = session.PhaseInGame
	out.GameState = &session.GameState{
		GameID:         s.SessionID,
		Turn:           1,
		ActivePlayerID: s.PlayerOrder[0],
		Data: map[string]any{
			keyHands:    hands,
			keyDeck:     deck,
			keyDiscard:  []string{},
			keyScores:   scores,
			keyPlayers:  append([]string(nil), s.PlayerOrder...),
			keyHandSize: p.def.HandSize,
		},
	}
	out.TurnState = &session.TurnState{
		Round:               1,
		TurnIndex:           0,
		ActivePlayerID:      s.PlayerOrder[0],
		Step:                session.StepMain,
		ActionCountThisTurn: 0,
	}
	return out.AddLog("GAME_START", fmt.Sprintf("%s started with %d players", p.def.PackID, len(s.PlayerOrder))), nil
}

// GetAllowedActions emits one PLAY_CARD entry per card in the active
// player's hand, DRAW_CARD while the deck holds cards, and END_TURN.
// Everyone else gets nothing.
func (p *Pack) GetAllowedActions(s session.State, playerID string) []rules.AllowedAction {
	if s.Phase != session.PhaseInGame || s.TurnState == nil || s.TurnState.ActivePlayerID != playerID {
		return nil
	}
	hands, deck, _ := unpackData(s)

	var actions []rules.AllowedAction
	for _, cardID := range hands[playerID] {
		actions = append(actions, rules.AllowedAction{
			ActionType: ActionPlayCard,
			Label:      "Play " + cardID,
			Params:     map[string]any{"cardId": cardID},
		})
	}
	if len(deck) > 0 {
		actions = append(actions, rules.AllowedAction{
			ActionType: ActionDrawCard,
			Label:      "Draw a card",
		})
	}
	actions = append(actions, rules.AllowedAction{
		ActionType: ActionEndTurn,
		Label:      "End turn",
	})
	return actions
}

// ApplyAction mutates a cloned snapshot. Invalid submissions that slip
// past the allowed-list match leave the state untouched and error out.
func (p *Pack) ApplyAction(s session.State, playerID string, action rules.Action) (session.State, error) {
	switch action.Type {
	case ActionPlayCard:
		cardID, _ := action.Data["cardId"].(string)
		return p.applyPlayCard(s, playerID, cardID)
	case ActionDrawCard:
		return p.applyDrawCard(s, playerID)
	case ActionEndTurn:
		return p.applyEndTurn(s, playerID)
	}
	return s, fmt.Errorf("%s: unknown action %q", p.def.PackID, action.Type)
}

func (p *Pack) applyPlayCard(s session.State, playerID, cardID string) (session.State, error) {
	out := s.Clone()
	hands, _, data := unpackData(out)
	hand := hands[playerID]

	idx := -1
	for i, c := range hand {
		if c == cardID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return s, fmt.Errorf("card %q is not in %s's hand", cardID, playerID)
	}

	hands[playerID] = append(hand[:idx:idx], hand[idx+1:]...)
	data[keyDiscard] = append(data[keyDiscard].([]string), cardID)
	scores := data[keyScores].(map[string]int)
	scores[playerID]++
	out.TurnState.ActionCountThisTurn++
	return out.AddLog("CARD_PLAYED", fmt.Sprintf("%s played %s", playerID, cardID)), nil
}

func (p *Pack) applyDrawCard(s session.State, playerID string) (session.State, error) {
	out := s.Clone()
	hands, deck, data := unpackData(out)
	if len(deck) == 0 {
		return s, fmt.Errorf("deck is empty")
	}
	drawn := deck[0]
	data[keyDeck] = append([]string(nil), deck[1:]...)
	hands[playerID] = append(hands[playerID], drawn)
	out.TurnState.ActionCountThisTurn++
	return out.AddLog("CARD_DRAWN", fmt.Sprintf("%s drew a card", playerID)), nil
}

func (p *Pack) applyEndTurn(s session.State, playerID string) (session.State, error) {
	out := s.Clone()
	ts := out.TurnState
	ts.TurnIndex = (ts.TurnIndex + 1) % len(out.PlayerOrder)
	if ts.TurnIndex == 0 {
		ts.Round++
	}
	ts.ActivePlayerID = out.PlayerOrder[ts.TurnIndex]
	ts.ActionCountThisTurn = 0
	out.GameState.ActivePlayerID = ts.ActivePlayerID
	out.GameState.Turn++
	return out.AddLog("TURN_ENDED", fmt.Sprintf("%s ended the turn; %s is up", playerID, ts.ActivePlayerID)), nil
}

// CheckGameEnd ends the game when the deck runs dry or the round budget
// is spent. Winners are everyone tied at the top score.
func (p *Pack) CheckGameEnd(s session.State) rules.EndResult {
	if s.Phase != session.PhaseInGame || s.GameState == nil || s.TurnState == nil {
		return rules.EndResult{}
	}
	_, deck, data := unpackData(s)
	if len(deck) > 0 && s.TurnState.Round <= p.def.MaxRounds {
		return rules.EndResult{}
	}

	scores := data[keyScores].(map[string]int)
	best := -1
	for _, v := range scores {
		if v > best {
			best = v
		}
	}
	var winners []string
	for _, id := range s.PlayerOrder {
		if scores[id] == best {
			winners = append(winners, id)
		}
	}
	return rules.EndResult{Ended: true, WinnerIDs: winners}
}

// BuildBoardView is the public snapshot: counts and tails only, never a
// hands key.
func (p *Pack) BuildBoardView(s session.State) map[string]any {
	view := map[string]any{
		"phase":   s.Phase.String(),
		"version": s.Version,
	}
	if s.TurnState != nil {
		view["turnState"] = turnStateView(s.TurnState)
	} else {
		view["turnState"] = nil
	}
	if s.GameState == nil {
		return view
	}
	_, deck, data := unpackData(s)
	discard := data[keyDiscard].([]string)
	tail := discard
	if len(tail) > 5 {
		tail = tail[len(tail)-5:]
	}
	view["scores"] = data[keyScores]
	view["deckRemaining"] = len(deck)
	view["discardPile"] = append(make([]string, 0, len(tail)), tail...)
	view["log"] = logView(s.RecentLog(10))
	return view
}

// BuildPlayerView carries the recipient's hand and allowed actions plus
// the public data. Nothing from any other player's hand appears here.
func (p *Pack) BuildPlayerView(s session.State, playerID string) map[string]any {
	view := map[string]any{
		"phase":    s.Phase.String(),
		"playerId": playerID,
		"version":  s.Version,
	}
	if s.TurnState != nil {
		view["turnState"] = turnStateView(s.TurnState)
	} else {
		view["turnState"] = nil
	}
	if s.GameState != nil {
		hands, _, data := unpackData(s)
		// Empty hands still marshal as a JSON list, never null.
		view["hand"] = append(make([]string, 0, len(hands[playerID])), hands[playerID]...)
		view["scores"] = data[keyScores]
	} else {
		view["hand"] = []string{}
	}
	view["allowedActions"] = allowedActionsView(p.GetAllowedActions(s, playerID))
	return view
}

// unpackData pulls the typed collections back out of the opaque data
// map. Callers only reach it with a GameState this pack created.
func unpackData(s session.State) (hands map[string][]string, deck []string, data map[string]any) {
	data = s.GameState.Data
	hands = data[keyHands].(map[string][]string)
	deck = data[keyDeck].([]string)
	return hands, deck, data
}

func turnStateView(ts *session.TurnState) map[string]any {
	return map[string]any{
		"round":               ts.Round,
		"turnIndex":           ts.TurnIndex,
		"activePlayerId":      ts.ActivePlayerID,
		"step":                string(ts.Step),
		"actionCountThisTurn": ts.ActionCountThisTurn,
	}
}

func logView(entries []session.LogEntry) []map[string]any {
	out := make([]map[string]any, len(entries))
	for i, e := range entries {
		out[i] = map[string]any{
			"eventType":   e.EventType,
			"description": e.Description,
			"timestamp":   e.Timestamp,
		}
	}
	return out
}

func allowedActionsView(actions []rules.AllowedAction) []map[string]any {
	out := make([]map[string]any, 0, len(actions))
	for _, a := range actions {
		entry := map[string]any{
			"actionType": a.ActionType,
			"label":      a.Label,
		}
		if a.Params != nil {
			entry["params"] = a.Params
		}
		out = append(out, entry)
	}
	return out
}
