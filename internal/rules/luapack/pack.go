package luapack

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/boardgo/server/internal/rules"
	"github.com/boardgo/server/internal/session"
)

// Pack adapts one registered Lua script to rules.Pack. The script owns
// the opaque data table; phases, turn order and versioning stay on the
// Go side so every pack gets them for free.
//
// Script contract (all callbacks receive plain tables):
//
//	initial_data(player_ids)                         -> data
//	allowed_actions(data, player_id, turn)           -> { {action_type, label, params?}, ... }
//	apply_action(data, player_id, type, adata, turn) -> { data=..., log=..., advance_turn=bool }
//	check_game_end(data, turn)                       -> { ended=bool, winners={...} }
//	board_view(data)                                 -> table (no private data)
//	player_view(data, player_id)                     -> table
type Pack struct {
	engine *Engine
	id     string
	tbl    *lua.LTable
}

func (p *Pack) PackID() string { return p.id }

func (p *Pack) fn(name string) lua.LValue { return p.tbl.RawGetString(name) }

func (p *Pack) turnArg(ts *session.TurnState) lua.LValue {
	if ts == nil {
		return lua.LNil
	}
	return p.engine.goToLua(map[string]any{
		"round":         ts.Round,
		"turn_index":    ts.TurnIndex,
		"active_player": ts.ActivePlayerID,
		"action_count":  ts.ActionCountThisTurn,
	})
}

func (p *Pack) CreateInitialGameState(s session.State) (session.State, error) {
	if len(s.PlayerOrder) == 0 {
		return s, fmt.Errorf("cannot start %s with no players", p.id)
	}
	ret, err := p.engine.call(p.fn("initial_data"), p.engine.goToLua(s.PlayerOrder))
	if err != nil {
		return s, fmt.Errorf("lua pack %s initial_data: %w", p.id, err)
	}
	data, ok := luaToGo(ret).(map[string]any)
	if !ok {
		return s, fmt.Errorf("lua pack %s initial_data: expected a table", p.id)
	}

	out := s.Clone()
	out.Phase = session.PhaseInGame
	out.GameState = &session.GameState{
		GameID:         s.SessionID,
		Turn:           1,
		ActivePlayerID: s.PlayerOrder[0],
		Data:           data,
	}
	out.TurnState = &session.TurnState{
		Round:               1,
		TurnIndex:           0,
		ActivePlayerID:      s.PlayerOrder[0],
		Step:                session.StepMain,
		ActionCountThisTurn: 0,
	}
	return out.AddLog("GAME_START", fmt.Sprintf("%s started with %d players", p.id, len(s.PlayerOrder))), nil
}

func (p *Pack) GetAllowedActions(s session.State, playerID string) []rules.AllowedAction {
	if s.Phase != session.PhaseInGame || s.TurnState == nil || s.TurnState.ActivePlayerID != playerID {
		return nil
	}
	ret, err := p.engine.call(p.fn("allowed_actions"),
		p.engine.goToLua(s.GameState.Data),
		lua.LString(playerID),
		p.turnArg(s.TurnState),
	)
	if err != nil {
		p.engine.log.Error("lua allowed_actions failed", zap.String("pack", p.id), zap.Error(err))
		return nil
	}
	list, _ := luaToGo(ret).([]any)
	var actions []rules.AllowedAction
	for _, el := range list {
		entry, ok := el.(map[string]any)
		if !ok {
			continue
		}
		a := rules.AllowedAction{}
		a.ActionType, _ = entry["action_type"].(string)
		a.Label, _ = entry["label"].(string)
		if params, ok := entry["params"].(map[string]any); ok {
			a.Params = params
		}
		if a.ActionType != "" {
			actions = append(actions, a)
		}
	}
	return actions
}

func (p *Pack) ApplyAction(s session.State, playerID string, action rules.Action) (session.State, error) {
	ret, err := p.engine.call(p.fn("apply_action"),
		p.engine.goToLua(s.GameState.Data),
		lua.LString(playerID),
		lua.LString(action.Type),
		p.engine.goToLua(action.Data),
		p.turnArg(s.TurnState),
	)
	if err != nil {
		return s, fmt.Errorf("lua pack %s apply_action: %w", p.id, err)
	}
	result, ok := luaToGo(ret).(map[string]any)
	if !ok {
		return s, fmt.Errorf("lua pack %s apply_action: expected a result table", p.id)
	}
	data, ok := result["data"].(map[string]any)
	if !ok {
		return s, fmt.Errorf("lua pack %s apply_action: result.data missing", p.id)
	}

	out := s.Clone()
	out.GameState.Data = data
	advance, _ := result["advance_turn"].(bool)
	if advance {
		ts := out.TurnState
		ts.TurnIndex = (ts.TurnIndex + 1) % len(out.PlayerOrder)
		if ts.TurnIndex == 0 {
			ts.Round++
		}
		ts.ActivePlayerID = out.PlayerOrder[ts.TurnIndex]
		ts.ActionCountThisTurn = 0
		out.GameState.ActivePlayerID = ts.ActivePlayerID
		out.GameState.Turn++
	} else {
		out.TurnState.ActionCountThisTurn++
	}

	desc, _ := result["log"].(string)
	if desc == "" {
		desc = fmt.Sprintf("%s performed %s", playerID, action.Type)
	}
	return out.AddLog("ACTION", desc), nil
}

func (p *Pack) CheckGameEnd(s session.State) rules.EndResult {
	if s.Phase != session.PhaseInGame || s.GameState == nil {
		return rules.EndResult{}
	}
	ret, err := p.engine.call(p.fn("check_game_end"),
		p.engine.goToLua(s.GameState.Data),
		p.turnArg(s.TurnState),
	)
	if err != nil {
		p.engine.log.Error("lua check_game_end failed", zap.String("pack", p.id), zap.Error(err))
		return rules.EndResult{}
	}
	result, _ := luaToGo(ret).(map[string]any)
	res := rules.EndResult{}
	res.Ended, _ = result["ended"].(bool)
	if winners, ok := result["winners"].([]any); ok {
		for _, w := range winners {
			if id, ok := w.(string); ok {
				res.WinnerIDs = append(res.WinnerIDs, id)
			}
		}
	}
	return res
}

func (p *Pack) BuildBoardView(s session.State) map[string]any {
	view := p.scriptView("board_view", s, "")
	view["phase"] = s.Phase.String()
	view["version"] = s.Version
	view["turnState"] = turnStateView(s.TurnState)
	view["log"] = logView(s.RecentLog(10))
	return view
}

func (p *Pack) BuildPlayerView(s session.State, playerID string) map[string]any {
	view := p.scriptView("player_view", s, playerID)
	view["phase"] = s.Phase.String()
	view["playerId"] = playerID
	view["version"] = s.Version
	view["turnState"] = turnStateView(s.TurnState)
	allowed := p.GetAllowedActions(s, playerID)
	actions := make([]map[string]any, 0, len(allowed))
	for _, a := range allowed {
		entry := map[string]any{"actionType": a.ActionType, "label": a.Label}
		if a.Params != nil {
			entry["params"] = a.Params
		}
		actions = append(actions, entry)
	}
	view["allowedActions"] = actions
	return view
}

func (p *Pack) scriptView(name string, s session.State, playerID string) map[string]any {
	if s.GameState == nil {
		return map[string]any{}
	}
	args := []lua.LValue{p.engine.goToLua(s.GameState.Data)}
	if playerID != "" {
		args = append(args, lua.LString(playerID))
	}
	ret, err := p.engine.call(p.fn(name), args...)
	if err != nil {
		p.engine.log.Error("lua view builder failed", zap.String("pack", p.id), zap.Error(err))
		return map[string]any{}
	}
	view, ok := luaToGo(ret).(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return view
}

func turnStateView(ts *session.TurnState) any {
	if ts == nil {
		return nil
	}
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
