package server

import (
	"fmt"
	"reflect"
	"strings"

	"go.uber.org/zap"

	"github.com/boardgo/server/internal/protocol"
	"github.com/boardgo/server/internal/rules"
	"github.com/boardgo/server/internal/session"
)

// handleFrame decodes one inbound frame and routes it. Malformed frames
// get an ERROR reply; the connection stays open.
func (s *GameServer) handleFrame(c *conn, data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		s.sendError(c, err.Error())
		return
	}

	switch env.Type {
	case protocol.MsgJoin:
		s.handleJoin(c, env)
	case protocol.MsgLeave:
		s.handleLeave(c, env)
	case protocol.MsgSetReady:
		s.handleSetReady(c, env)
	case protocol.MsgPing:
		s.handlePing(c, env)
	case protocol.MsgStartGame:
		s.handleStartGame(c, env)
	case protocol.MsgAction:
		s.handleAction(c, env)
	default:
		// Server-to-client types arriving inbound.
		s.sendError(c, fmt.Sprintf("unexpected client frame %s", env.Type))
	}
}

func (s *GameServer) sendError(c *conn, reason string) {
	c.send(protocol.MustEncode(protocol.MsgError, protocol.ErrorPayload{Reason: reason}))
}

func (s *GameServer) ackJoin(c *conn, p protocol.JoinRoomAckPayload) {
	c.send(protocol.MustEncode(protocol.MsgJoinRoomAck, p))
}

func (s *GameServer) broadcastLobby() {
	s.mgr.Broadcast(protocol.MustEncode(protocol.MsgLobbyState, s.mgr.LobbyState()))
}

// handleJoin resolves a seat for the connection. Only a valid
// reconnect token reclaims a seat as-is; everything else takes the
// fresh-join path, where a known player id keeps its seat and token
// but re-enters unready under the presented nickname.
func (s *GameServer) handleJoin(c *conn, env *protocol.Envelope) {
	p, err := protocol.DecodePayload[protocol.JoinPayload](env)
	if err == nil {
		err = p.Validate()
	}
	if err != nil {
		s.sendError(c, err.Error())
		return
	}

	if st, ok := s.mgr.ByToken(p.ReconnectToken); ok {
		s.reconnect(c, st)
		return
	}

	nickname := p.DisplayName
	if nickname == "" {
		nickname = p.PlayerID
	}

	// An unknown token falls through to a fresh join rather than a
	// rejection; the seat it pointed at is gone, not the room. A known
	// player id without a token is a fresh claim of the same seat:
	// readiness resets and the nickname updates, the token survives.
	if st, ok := s.mgr.Seat(p.PlayerID); ok {
		if s.cfg.Room.UniqueNicknames && s.mgr.NicknameTaken(nickname, p.PlayerID) {
			s.ackJoin(c, protocol.JoinRoomAckPayload{
				Success:      false,
				ErrorCode:    protocol.AckNicknameTaken,
				ErrorMessage: fmt.Sprintf("nickname %q is taken", nickname),
			})
			return
		}
		s.mgr.Reclaim(st, nickname)
		s.reconnect(c, st)
		return
	}

	if s.state.Phase != session.PhaseLobby {
		s.ackJoin(c, protocol.JoinRoomAckPayload{
			Success:      false,
			ErrorCode:    protocol.AckRoomFull,
			ErrorMessage: "game already in progress",
		})
		return
	}
	if s.mgr.Count() >= s.cfg.Room.MaxPlayers {
		s.ackJoin(c, protocol.JoinRoomAckPayload{
			Success:      false,
			ErrorCode:    protocol.AckRoomFull,
			ErrorMessage: fmt.Sprintf("room holds at most %d players", s.cfg.Room.MaxPlayers),
		})
		return
	}

	if s.cfg.Room.UniqueNicknames && s.mgr.NicknameTaken(nickname, p.PlayerID) {
		s.ackJoin(c, protocol.JoinRoomAckPayload{
			Success:      false,
			ErrorCode:    protocol.AckNicknameTaken,
			ErrorMessage: fmt.Sprintf("nickname %q is taken", nickname),
		})
		return
	}

	st := s.mgr.Register(p.PlayerID, nickname, c)
	s.log.Info("player joined",
		zap.String("player", st.playerID),
		zap.String("nickname", st.nickname))

	s.ackJoin(c, protocol.JoinRoomAckPayload{
		Success:        true,
		PlayerID:       st.playerID,
		ReconnectToken: st.token,
	})
	s.broadcastLobby()
}

// reconnect rebinds a connection to its surviving seat. The ack carries
// the seat's player id, which wins over whatever id the client presented.
func (s *GameServer) reconnect(c *conn, st *seat) {
	s.mgr.Bind(st, c)
	s.log.Info("player reconnected", zap.String("player", st.playerID))

	s.ackJoin(c, protocol.JoinRoomAckPayload{
		Success:        true,
		PlayerID:       st.playerID,
		ReconnectToken: st.token,
	})

	if s.state.Phase != session.PhaseLobby {
		s.state = s.state.WithConnected(st.playerID, true).
			AddLog("PLAYER_RECONNECTED", fmt.Sprintf("%s reconnected", st.nickname))
		if s.activePack != nil {
			c.send(protocol.MustEncode(protocol.MsgBoardView, protocol.BoardViewPayload{
				BoardView: s.activePack.BuildBoardView(s.state),
			}))
			c.send(protocol.MustEncode(protocol.MsgPlayerView, protocol.PlayerViewPayload{
				PlayerView: s.activePack.BuildPlayerView(s.state, st.playerID),
			}))
		}
		s.saveAsync(s.state)
	}
	s.broadcastLobby()
}

// handleClosed is the orphan cleanup path: the socket died without a
// LEAVE. The seat survives so the player can reclaim it.
func (s *GameServer) handleClosed(c *conn) {
	playerID, ok := s.mgr.Unbind(c)
	if !ok {
		return
	}
	s.log.Info("player disconnected", zap.String("player", playerID))

	if s.state.Phase != session.PhaseLobby {
		st, _ := s.mgr.Seat(playerID)
		name := playerID
		if st != nil {
			name = st.nickname
		}
		s.state = s.state.WithConnected(playerID, false).
			AddLog("PLAYER_DISCONNECTED", fmt.Sprintf("%s disconnected", name))
		s.saveAsync(s.state)
	}
	// Surface the offline badge regardless of phase.
	s.broadcastLobby()
}

// handleLeave gives up a seat deliberately. In the lobby the seat is
// removed; in game it is kept disconnected so the turn order stays valid.
func (s *GameServer) handleLeave(c *conn, env *protocol.Envelope) {
	p, err := protocol.DecodePayload[protocol.LeavePayload](env)
	if err == nil {
		err = p.Validate()
	}
	if err != nil {
		s.sendError(c, err.Error())
		return
	}
	if bound, ok := s.mgr.PlayerFor(c); ok && bound != p.PlayerID {
		s.sendError(c, "LEAVE playerId does not match this connection")
		return
	}
	st, ok := s.mgr.Seat(p.PlayerID)
	if !ok {
		s.sendError(c, fmt.Sprintf("unknown player %q", p.PlayerID))
		return
	}

	s.log.Info("player left", zap.String("player", p.PlayerID))
	s.mgr.Unbind(c)

	if s.state.Phase == session.PhaseLobby {
		s.mgr.Remove(p.PlayerID)
		s.mgr.Broadcast(protocol.MustEncode(protocol.MsgLeave, protocol.LeavePayload{
			PlayerID: p.PlayerID,
			Event:    "leave",
		}))
		s.broadcastLobby()
	} else {
		s.state = s.state.WithConnected(p.PlayerID, false).
			AddLog("PLAYER_LEFT", fmt.Sprintf("%s left the game", st.nickname))
		s.mgr.Broadcast(protocol.MustEncode(protocol.MsgLeave, protocol.LeavePayload{
			PlayerID: p.PlayerID,
			Event:    "leave",
		}))
		s.saveAsync(s.state)
	}
	c.close()
}

func (s *GameServer) handleSetReady(c *conn, env *protocol.Envelope) {
	p, err := protocol.DecodePayload[protocol.SetReadyPayload](env)
	if err == nil {
		err = p.Validate()
	}
	if err != nil {
		s.sendError(c, err.Error())
		return
	}
	if s.state.Phase != session.PhaseLobby {
		s.sendError(c, "SET_READY outside lobby")
		return
	}
	if !s.mgr.SetReady(p.PlayerID, p.IsReady) {
		s.sendError(c, fmt.Sprintf("unknown player %q", p.PlayerID))
		return
	}
	s.broadcastLobby()
}

// handlePing echoes the client timestamp back to the sender only.
func (s *GameServer) handlePing(c *conn, env *protocol.Envelope) {
	p, err := protocol.DecodePayload[protocol.PingPayload](env)
	if err != nil {
		s.sendError(c, err.Error())
		return
	}
	c.send(protocol.MustEncode(protocol.MsgPong, protocol.PongPayload{Timestamp: p.Timestamp}))
}

func (s *GameServer) handleStartGame(c *conn, env *protocol.Envelope) {
	var packID string
	if len(env.Payload) > 0 {
		p, err := protocol.DecodePayload[protocol.StartGamePayload](env)
		if err != nil {
			s.sendError(c, err.Error())
			return
		}
		packID = p.PackID
	}
	if err := s.startGame(packID); err != nil {
		s.sendError(c, err.Error())
	}
}

// StartGame begins the game from outside the session goroutine, for the
// board UI. It blocks until the session goroutine has processed it.
func (s *GameServer) StartGame(packID string) error {
	errc := make(chan error, 1)
	s.enqueue(command{fn: func() { errc <- s.startGame(packID) }})
	return <-errc
}

func (s *GameServer) startGame(packID string) error {
	if s.state.Phase != session.PhaseLobby {
		return fmt.Errorf("cannot start: session is %s", s.state.Phase)
	}
	// Ready flags are an advisory lobby signal; the only hard
	// precondition is somebody being there to play.
	if len(s.mgr.ConnectedOrder()) == 0 {
		return fmt.Errorf("cannot start: no connected players")
	}
	if packID == "" {
		packID = s.cfg.Game.DefaultPack
	}
	pack, _ := s.packs.Get(packID)
	if pack == nil {
		return fmt.Errorf("no rules pack available")
	}

	// Hydrate the connected seats into the session snapshot; from here
	// on the state carries the authoritative roster.
	st := s.state.Clone()
	st.PlayerOrder = s.mgr.ConnectedOrder()
	for _, id := range st.PlayerOrder {
		sp, _ := s.mgr.Seat(id)
		st.Players[id] = session.PlayerState{
			PlayerID:       sp.playerID,
			Nickname:       sp.nickname,
			IsConnected:    sp.c != nil,
			IsReady:        sp.ready,
			ReconnectToken: sp.token,
		}
	}

	next, err := pack.CreateInitialGameState(st)
	if err != nil {
		return fmt.Errorf("start %s: %w", pack.PackID(), err)
	}
	if err := next.Validate(); err != nil {
		s.log.Error("pack produced inconsistent state", zap.Error(err))
		return fmt.Errorf("start %s: inconsistent initial state", pack.PackID())
	}

	s.state = next
	s.activePack = pack
	s.cache.Clear()
	s.log.Info("game started",
		zap.String("pack", pack.PackID()),
		zap.Int("players", len(next.PlayerOrder)))

	s.broadcastViews()
	s.saveAsync(s.state)
	return nil
}

// handleAction runs the validation pipeline for one submitted move.
// Order matters: duplicate, then phase, then turn, then the allowed
// list. The cache records the action id only once it is known valid, so
// a rejected submission can be corrected and resent under the same id.
func (s *GameServer) handleAction(c *conn, env *protocol.Envelope) {
	p, err := protocol.DecodePayload[protocol.ActionPayload](env)
	if err == nil {
		err = p.Validate()
	}
	if err != nil {
		s.sendError(c, err.Error())
		return
	}

	reject := func(code, reason string) {
		c.send(protocol.MustEncode(protocol.MsgActionRejected, protocol.ActionRejectedPayload{
			Reason:         reason,
			Code:           code,
			ClientActionID: p.ClientActionID,
		}))
	}

	if s.cache.Contains(p.ClientActionID) {
		reject(protocol.RejectDuplicateAction, "action already processed")
		return
	}
	if s.state.Phase != session.PhaseInGame {
		reject(protocol.RejectPhaseMismatch,
			fmt.Sprintf("session is in %s phase", s.state.Phase))
		return
	}
	if s.state.TurnState == nil || s.state.TurnState.ActivePlayerID != p.PlayerID {
		reject(protocol.RejectNotYourTurn, "it is not your turn")
		return
	}

	allowed := s.activePack.GetAllowedActions(s.state, p.PlayerID)
	if !matchAllowed(allowed, p.ActionType, p.Data) {
		reject(protocol.RejectInvalidAction,
			fmt.Sprintf("%s is not an allowed action right now", p.ActionType))
		return
	}

	s.cache.Add(p.ClientActionID)

	next, err := s.activePack.ApplyAction(s.state, p.PlayerID, rules.Action{
		Type: p.ActionType,
		Data: p.Data,
	})
	if err != nil {
		reject(protocol.RejectInvalidAction, err.Error())
		return
	}
	if err := next.Validate(); err != nil {
		s.log.Error("pack produced inconsistent state", zap.Error(err))
		reject(protocol.RejectInvalidAction, "action could not be applied")
		return
	}

	if res := s.activePack.CheckGameEnd(next); res.Ended {
		ended := next.Clone()
		ended.Phase = session.PhaseFinished
		next = ended.AddLog("GAME_END",
			fmt.Sprintf("game over, winners: %s", strings.Join(res.WinnerIDs, ", ")))
		s.log.Info("game finished", zap.Strings("winners", res.WinnerIDs))
	}

	s.state = next
	s.broadcastViews()
	s.saveAsync(s.state)
}

// broadcastViews fans out the public board snapshot to everyone, then a
// private view to each seat. Hands never ride the broadcast.
func (s *GameServer) broadcastViews() {
	if s.activePack == nil {
		return
	}
	s.mgr.Broadcast(protocol.MustEncode(protocol.MsgBoardView, protocol.BoardViewPayload{
		BoardView: s.activePack.BuildBoardView(s.state),
	}))
	for _, id := range s.state.PlayerOrder {
		s.mgr.Send(id, protocol.MustEncode(protocol.MsgPlayerView, protocol.PlayerViewPayload{
			PlayerView: s.activePack.BuildPlayerView(s.state, id),
		}))
	}
}

// matchAllowed checks a submission against the allowed list. An entry
// with params only matches when the submission's data carries the same
// values, so a made-up card id fails here before any pack code runs.
func matchAllowed(allowed []rules.AllowedAction, actionType string, data map[string]any) bool {
	for _, a := range allowed {
		if a.ActionType != actionType {
			continue
		}
		if paramsMatch(a.Params, data) {
			return true
		}
	}
	return false
}

func paramsMatch(params, data map[string]any) bool {
	for k, want := range params {
		if !reflect.DeepEqual(data[k], want) {
			return false
		}
	}
	return true
}
