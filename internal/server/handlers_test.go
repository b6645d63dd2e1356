package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/boardgo/server/internal/config"
	"github.com/boardgo/server/internal/persist"
	"github.com/boardgo/server/internal/protocol"
	"github.com/boardgo/server/internal/rules"
	"github.com/boardgo/server/internal/rules/cardpack"
	"github.com/boardgo/server/internal/session"
)

// Handler tests drive the session loop synchronously: frames go in via
// handleFrame, replies come out of each conn's buffered out channel.

func newTestServer(t *testing.T, mut ...func(*config.Config)) *GameServer {
	t.Helper()
	cfg := config.Defaults()
	for _, f := range mut {
		f(cfg)
	}
	reg := rules.NewRegistry(zap.NewNop())
	reg.Register(cardpack.New(cardpack.DefaultDefinition(), 42))
	return New(Deps{Cfg: cfg, Log: zap.NewNop(), Packs: reg})
}

// recvType pops pending frames until one of the wanted type appears.
func recvType(t *testing.T, c *conn, typ protocol.MessageType) *protocol.Envelope {
	t.Helper()
	for {
		select {
		case frame := <-c.out:
			env, err := protocol.Decode(frame)
			require.NoError(t, err)
			if env.Type == typ {
				return env
			}
		default:
			t.Fatalf("no pending %s frame", typ)
			return nil
		}
	}
}

func recvPayload[T any](t *testing.T, c *conn, typ protocol.MessageType) *T {
	t.Helper()
	env := recvType(t, c, typ)
	p, err := protocol.DecodePayload[T](env)
	require.NoError(t, err)
	return p
}

func drainConn(c *conn) {
	for {
		select {
		case <-c.out:
		default:
			return
		}
	}
}

func sendJoin(s *GameServer, c *conn, playerID, name, token string) {
	s.handleFrame(c, protocol.MustEncode(protocol.MsgJoin, protocol.JoinPayload{
		PlayerID:       playerID,
		Event:          "join",
		DisplayName:    name,
		ReconnectToken: token,
	}))
}

func sendReady(s *GameServer, c *conn, playerID string) {
	s.handleFrame(c, protocol.MustEncode(protocol.MsgSetReady, protocol.SetReadyPayload{
		PlayerID: playerID,
		IsReady:  true,
	}))
}

func sendAction(s *GameServer, c *conn, playerID, actionType, actionID string, data map[string]any) {
	s.handleFrame(c, protocol.MustEncode(protocol.MsgAction, protocol.ActionPayload{
		PlayerID:       playerID,
		ActionType:     actionType,
		Data:           data,
		ClientActionID: actionID,
	}))
}

// twoPlayerGame joins p1 and p2, readies both, and starts the default
// pack. p1 is the active player.
func twoPlayerGame(t *testing.T, s *GameServer) (c1, c2 *conn) {
	t.Helper()
	c1, c2 = testConn(), testConn()
	sendJoin(s, c1, "p1", "alice", "")
	sendJoin(s, c2, "p2", "bob", "")
	sendReady(s, c1, "p1")
	sendReady(s, c2, "p2")
	drainConn(c1)
	drainConn(c2)
	s.handleFrame(c1, protocol.MustEncode(protocol.MsgStartGame, protocol.StartGamePayload{}))
	return c1, c2
}

func TestJoinAckAndLobbyBroadcast(t *testing.T) {
	s := newTestServer(t)
	c1 := testConn()
	sendJoin(s, c1, "p1", "alice", "")

	ack := recvPayload[protocol.JoinRoomAckPayload](t, c1, protocol.MsgJoinRoomAck)
	require.True(t, ack.Success)
	assert.Equal(t, "p1", ack.PlayerID)
	assert.NotEmpty(t, ack.ReconnectToken)

	lobby := recvPayload[protocol.LobbyStatePayload](t, c1, protocol.MsgLobbyState)
	require.Len(t, lobby.Players, 1)
	assert.Equal(t, "alice", lobby.Players[0].Nickname)
	assert.False(t, lobby.CanStart)
}

func TestJoinRejectsDuplicateNickname(t *testing.T) {
	s := newTestServer(t)
	c1, c2 := testConn(), testConn()
	sendJoin(s, c1, "p1", "alice", "")
	sendJoin(s, c2, "p2", "alice", "")

	ack := recvPayload[protocol.JoinRoomAckPayload](t, c2, protocol.MsgJoinRoomAck)
	require.False(t, ack.Success)
	assert.Equal(t, protocol.AckNicknameTaken, ack.ErrorCode)
}

func TestJoinRejectsFullRoom(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) { cfg.Room.MaxPlayers = 1 })
	c1, c2 := testConn(), testConn()
	sendJoin(s, c1, "p1", "alice", "")
	sendJoin(s, c2, "p2", "bob", "")

	ack := recvPayload[protocol.JoinRoomAckPayload](t, c2, protocol.MsgJoinRoomAck)
	require.False(t, ack.Success)
	assert.Equal(t, protocol.AckRoomFull, ack.ErrorCode)
}

func TestUnknownReconnectTokenFallsBackToFreshJoin(t *testing.T) {
	s := newTestServer(t)
	c1 := testConn()
	sendJoin(s, c1, "p1", "alice", "token-from-another-life")

	ack := recvPayload[protocol.JoinRoomAckPayload](t, c1, protocol.MsgJoinRoomAck)
	require.True(t, ack.Success)
	assert.Equal(t, "p1", ack.PlayerID)
	assert.NotEqual(t, "token-from-another-life", ack.ReconnectToken)
}

func TestReadyGatesCanStart(t *testing.T) {
	s := newTestServer(t)
	c1, c2 := testConn(), testConn()
	sendJoin(s, c1, "p1", "alice", "")
	sendJoin(s, c2, "p2", "bob", "")
	sendReady(s, c1, "p1")
	drainConn(c1)
	sendReady(s, c2, "p2")

	lobby := recvPayload[protocol.LobbyStatePayload](t, c1, protocol.MsgLobbyState)
	assert.True(t, lobby.CanStart)
}

func TestPingEchoesToSenderOnly(t *testing.T) {
	s := newTestServer(t)
	c1, c2 := testConn(), testConn()
	sendJoin(s, c1, "p1", "alice", "")
	sendJoin(s, c2, "p2", "bob", "")
	drainConn(c1)
	drainConn(c2)

	s.handleFrame(c1, protocol.MustEncode(protocol.MsgPing, protocol.PingPayload{Timestamp: 99}))

	pong := recvPayload[protocol.PongPayload](t, c1, protocol.MsgPong)
	assert.Equal(t, int64(99), pong.Timestamp)
	assert.Empty(t, c2.out, "heartbeat is never broadcast")
}

func TestMalformedFrameKeepsConnectionOpen(t *testing.T) {
	s := newTestServer(t)
	c1 := testConn()
	sendJoin(s, c1, "p1", "alice", "")
	drainConn(c1)

	s.handleFrame(c1, []byte(`{"type":`))
	errp := recvPayload[protocol.ErrorPayload](t, c1, protocol.MsgError)
	assert.Contains(t, errp.Reason, "invalid frame")

	// The same connection still works.
	s.handleFrame(c1, protocol.MustEncode(protocol.MsgPing, protocol.PingPayload{Timestamp: 1}))
	recvType(t, c1, protocol.MsgPong)
}

func TestActionInLobbyIsPhaseMismatch(t *testing.T) {
	s := newTestServer(t)
	c1 := testConn()
	sendJoin(s, c1, "p1", "alice", "")
	drainConn(c1)

	sendAction(s, c1, "p1", cardpack.ActionEndTurn, "a1", nil)
	rej := recvPayload[protocol.ActionRejectedPayload](t, c1, protocol.MsgActionRejected)
	assert.Equal(t, protocol.RejectPhaseMismatch, rej.Code)
	assert.Equal(t, "a1", rej.ClientActionID)
}

func TestStartGameNeedsConnectedPlayer(t *testing.T) {
	s := newTestServer(t)
	c1 := testConn()

	s.handleFrame(c1, protocol.MustEncode(protocol.MsgStartGame, protocol.StartGamePayload{}))
	errp := recvPayload[protocol.ErrorPayload](t, c1, protocol.MsgError)
	assert.Contains(t, errp.Reason, "cannot start")
}

func TestStartGameDoesNotWaitForReady(t *testing.T) {
	s := newTestServer(t)
	c1 := testConn()
	sendJoin(s, c1, "p1", "alice", "")
	drainConn(c1)

	// Ready flags only feed the lobby's canStart signal; the start
	// trigger itself needs a connected seat, nothing more.
	s.handleFrame(c1, protocol.MustEncode(protocol.MsgStartGame, protocol.StartGamePayload{}))
	recvType(t, c1, protocol.MsgBoardView)
	assert.Equal(t, session.PhaseInGame, s.state.Phase)
}

func TestStartGameFansOutViews(t *testing.T) {
	s := newTestServer(t)
	c1, c2 := twoPlayerGame(t, s)

	board := recvPayload[protocol.BoardViewPayload](t, c1, protocol.MsgBoardView)
	assert.NotContains(t, board.BoardView, "hands")
	assert.Equal(t, "IN_GAME", board.BoardView["phase"])

	view1 := recvPayload[protocol.PlayerViewPayload](t, c1, protocol.MsgPlayerView)
	hand1 := view1.PlayerView["hand"].([]any)
	assert.Len(t, hand1, 5)
	assert.NotEmpty(t, view1.PlayerView["allowedActions"])

	view2 := recvPayload[protocol.PlayerViewPayload](t, c2, protocol.MsgPlayerView)
	hand2 := view2.PlayerView["hand"].([]any)
	assert.Len(t, hand2, 5)
	assert.NotEqual(t, hand1, hand2)
	assert.Empty(t, view2.PlayerView["allowedActions"], "inactive player has no moves")

	assert.Equal(t, session.PhaseInGame, s.state.Phase)
	require.NoError(t, s.state.Validate())
}

func TestActionNotYourTurn(t *testing.T) {
	s := newTestServer(t)
	_, c2 := twoPlayerGame(t, s)
	drainConn(c2)
	before := s.state.Version

	sendAction(s, c2, "p2", cardpack.ActionEndTurn, "a1", nil)
	rej := recvPayload[protocol.ActionRejectedPayload](t, c2, protocol.MsgActionRejected)
	assert.Equal(t, protocol.RejectNotYourTurn, rej.Code)
	assert.Equal(t, before, s.state.Version, "rejected actions never touch the state")
}

func TestActionWithInvalidCard(t *testing.T) {
	s := newTestServer(t)
	c1, _ := twoPlayerGame(t, s)
	drainConn(c1)
	before := s.state.Version

	sendAction(s, c1, "p1", cardpack.ActionPlayCard, "a1", map[string]any{"cardId": "joker-0"})
	rej := recvPayload[protocol.ActionRejectedPayload](t, c1, protocol.MsgActionRejected)
	assert.Equal(t, protocol.RejectInvalidAction, rej.Code)
	assert.Equal(t, before, s.state.Version)
}

func TestActionAppliedAndDuplicateRejected(t *testing.T) {
	s := newTestServer(t)
	c1, c2 := twoPlayerGame(t, s)
	view := recvPayload[protocol.PlayerViewPayload](t, c1, protocol.MsgPlayerView)
	card := view.PlayerView["hand"].([]any)[0].(string)
	drainConn(c1)
	drainConn(c2)
	before := s.state.Version

	sendAction(s, c1, "p1", cardpack.ActionPlayCard, "act-1", map[string]any{"cardId": card})

	board := recvPayload[protocol.BoardViewPayload](t, c1, protocol.MsgBoardView)
	assert.Greater(t, int64(board.BoardView["version"].(float64)), before)
	recvType(t, c2, protocol.MsgBoardView)

	next := recvPayload[protocol.PlayerViewPayload](t, c1, protocol.MsgPlayerView)
	assert.Len(t, next.PlayerView["hand"].([]any), 4)
	drainConn(c1)

	// Same clientActionId again: rejected, state untouched.
	after := s.state.Version
	sendAction(s, c1, "p1", cardpack.ActionPlayCard, "act-1", map[string]any{"cardId": card})
	rej := recvPayload[protocol.ActionRejectedPayload](t, c1, protocol.MsgActionRejected)
	assert.Equal(t, protocol.RejectDuplicateAction, rej.Code)
	assert.Equal(t, after, s.state.Version)
}

func TestRejectedActionIDCanBeRetried(t *testing.T) {
	s := newTestServer(t)
	c1, _ := twoPlayerGame(t, s)
	view := recvPayload[protocol.PlayerViewPayload](t, c1, protocol.MsgPlayerView)
	card := view.PlayerView["hand"].([]any)[0].(string)
	drainConn(c1)

	// A rejected submission does not burn its action id.
	sendAction(s, c1, "p1", cardpack.ActionPlayCard, "act-1", map[string]any{"cardId": "joker-0"})
	recvType(t, c1, protocol.MsgActionRejected)

	sendAction(s, c1, "p1", cardpack.ActionPlayCard, "act-1", map[string]any{"cardId": card})
	recvType(t, c1, protocol.MsgBoardView)
}

func TestReconnectReclaimsSeatByToken(t *testing.T) {
	s := newTestServer(t)
	c1 := testConn()
	sendJoin(s, c1, "p1", "alice", "")
	ack := recvPayload[protocol.JoinRoomAckPayload](t, c1, protocol.MsgJoinRoomAck)

	s.handleClosed(c1)

	c2 := testConn()
	sendJoin(s, c2, "some-new-device-id", "", ack.ReconnectToken)
	ack2 := recvPayload[protocol.JoinRoomAckPayload](t, c2, protocol.MsgJoinRoomAck)
	require.True(t, ack2.Success)
	assert.Equal(t, "p1", ack2.PlayerID, "token wins over the presented id")
	assert.Equal(t, ack.ReconnectToken, ack2.ReconnectToken)
	assert.Equal(t, 1, s.mgr.Count())
}

func TestTokenlessRejoinResetsSeat(t *testing.T) {
	s := newTestServer(t)
	c1 := testConn()
	sendJoin(s, c1, "p1", "alice", "")
	ack := recvPayload[protocol.JoinRoomAckPayload](t, c1, protocol.MsgJoinRoomAck)
	sendReady(s, c1, "p1")
	s.handleClosed(c1)

	// The app restarted and lost its token. The id keeps the seat and
	// token, but readiness is gone and the new nickname sticks.
	c2 := testConn()
	sendJoin(s, c2, "p1", "alicia", "")
	ack2 := recvPayload[protocol.JoinRoomAckPayload](t, c2, protocol.MsgJoinRoomAck)
	require.True(t, ack2.Success)
	assert.Equal(t, "p1", ack2.PlayerID)
	assert.Equal(t, ack.ReconnectToken, ack2.ReconnectToken, "no new token minted")

	lobby := recvPayload[protocol.LobbyStatePayload](t, c2, protocol.MsgLobbyState)
	require.Len(t, lobby.Players, 1)
	assert.Equal(t, "alicia", lobby.Players[0].Nickname)
	assert.False(t, lobby.Players[0].IsReady, "rejoining revokes ready")
	assert.False(t, lobby.CanStart)
	assert.Equal(t, 1, s.mgr.Count())
}

func TestTokenlessRejoinChecksNickname(t *testing.T) {
	s := newTestServer(t)
	c1, c2 := testConn(), testConn()
	sendJoin(s, c1, "p1", "alice", "")
	sendJoin(s, c2, "p2", "bob", "")
	s.handleClosed(c1)

	c3 := testConn()
	sendJoin(s, c3, "p1", "bob", "")
	ack := recvPayload[protocol.JoinRoomAckPayload](t, c3, protocol.MsgJoinRoomAck)
	require.False(t, ack.Success)
	assert.Equal(t, protocol.AckNicknameTaken, ack.ErrorCode)
}

func TestReconnectDuringGameGetsViews(t *testing.T) {
	s := newTestServer(t)
	c1, _ := twoPlayerGame(t, s)
	seat, ok := s.mgr.Seat("p1")
	require.True(t, ok)
	token := seat.token
	s.handleClosed(c1)

	c3 := testConn()
	sendJoin(s, c3, "p1", "alice", token)
	ack2 := recvPayload[protocol.JoinRoomAckPayload](t, c3, protocol.MsgJoinRoomAck)
	require.True(t, ack2.Success)

	recvType(t, c3, protocol.MsgBoardView)
	view := recvPayload[protocol.PlayerViewPayload](t, c3, protocol.MsgPlayerView)
	assert.Len(t, view.PlayerView["hand"].([]any), 5, "seat and hand survived the drop")
}

func TestJoinWhileInGameIsRejected(t *testing.T) {
	s := newTestServer(t)
	twoPlayerGame(t, s)

	c3 := testConn()
	sendJoin(s, c3, "p3", "carol", "")
	ack := recvPayload[protocol.JoinRoomAckPayload](t, c3, protocol.MsgJoinRoomAck)
	require.False(t, ack.Success)
	assert.Equal(t, protocol.AckRoomFull, ack.ErrorCode)
}

func TestLeaveInLobbyFreesSeat(t *testing.T) {
	s := newTestServer(t)
	c1, c2 := testConn(), testConn()
	sendJoin(s, c1, "p1", "alice", "")
	sendJoin(s, c2, "p2", "bob", "")
	drainConn(c1)
	drainConn(c2)

	s.handleFrame(c2, protocol.MustEncode(protocol.MsgLeave, protocol.LeavePayload{
		PlayerID: "p2", Event: "leave",
	}))

	leave := recvPayload[protocol.LeavePayload](t, c1, protocol.MsgLeave)
	assert.Equal(t, "p2", leave.PlayerID)
	lobby := recvPayload[protocol.LobbyStatePayload](t, c1, protocol.MsgLobbyState)
	require.Len(t, lobby.Players, 1)
	assert.Equal(t, 1, s.mgr.Count())
}

func TestSaveAfterAcceptedAction(t *testing.T) {
	store := persist.NewMemoryStore()
	cfg := config.Defaults()
	reg := rules.NewRegistry(zap.NewNop())
	reg.Register(cardpack.New(cardpack.DefaultDefinition(), 42))
	s := New(Deps{Cfg: cfg, Log: zap.NewNop(), Packs: reg, Store: store})

	c1, _ := twoPlayerGame(t, s)
	drainConn(c1)
	sendAction(s, c1, "p1", cardpack.ActionEndTurn, "a1", nil)

	require.Eventually(t, func() bool {
		saved, err := store.Load(nil, cfg.Server.SessionID)
		return err == nil && saved != nil && saved.Version >= s.state.Version
	}, 2*time.Second, 10*time.Millisecond)
}
