// Package rules defines the contract between the session core and game
// packs. Packs are pure: they neither retain mutable state nor observe
// time, so the server can call them from its session goroutine without
// any coordination.
package rules

import (
	"github.com/boardgo/server/internal/session"
)

// Action is a player's submitted move, already envelope-decoded.
type Action struct {
	Type string
	Data map[string]any
}

// AllowedAction is a pre-validated move the active player may submit
// verbatim. The server matches submissions against this list before
// letting a pack apply anything.
type AllowedAction struct {
	ActionType string         `json:"actionType"`
	Label      string         `json:"label"`
	Params     map[string]any `json:"params"`
}

// EndResult is the outcome of a game-end check.
type EndResult struct {
	Ended     bool
	WinnerIDs []string
}

// Pack is one game's rules. Implementations must treat the session
// snapshot as immutable and return fresh values.
//
// BuildBoardView must never carry per-player private data; the player's
// hand belongs exclusively to BuildPlayerView.
type Pack interface {
	PackID() string

	// CreateInitialGameState transitions a lobby session into game,
	// populating GameState, TurnState and bumping the version.
	CreateInitialGameState(s session.State) (session.State, error)

	// GetAllowedActions lists the moves playerID may make right now.
	// Empty unless the session is in game and playerID is active.
	GetAllowedActions(s session.State, playerID string) []AllowedAction

	// ApplyAction applies a move the server has already matched against
	// the allowed list. The returned snapshot carries a bumped version.
	ApplyAction(s session.State, playerID string, action Action) (session.State, error)

	// CheckGameEnd reports whether the game is over and who won.
	CheckGameEnd(s session.State) EndResult

	// BuildBoardView builds the public snapshot broadcast to everyone.
	BuildBoardView(s session.State) map[string]any

	// BuildPlayerView builds playerID's private snapshot: their hand,
	// their allowed actions, plus data already public on the board.
	BuildPlayerView(s session.State, playerID string) map[string]any
}
