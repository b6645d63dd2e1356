// Package server is the board device's coordination core: one websocket
// endpoint, one goroutine owning all session state, and per-connection
// pump goroutines feeding it through a command queue.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/boardgo/server/internal/config"
	"github.com/boardgo/server/internal/persist"
	"github.com/boardgo/server/internal/rules"
	"github.com/boardgo/server/internal/session"
)

const saveTimeout = 5 * time.Second

// command is one unit of work for the session goroutine: a raw inbound
// frame, a connection-closed notification, or a scheduled function from
// outside the loop.
type command struct {
	c      *conn
	data   []byte
	closed bool
	fn     func()
}

// Deps carries everything the server needs. Store may be nil; the server
// then runs without persistence.
type Deps struct {
	Cfg   *config.Config
	Log   *zap.Logger
	Packs *rules.Registry
	Store persist.Store
}

// GameServer hosts one session. All fields below cmds are owned by the
// run goroutine; nothing else may touch them.
type GameServer struct {
	cfg   *config.Config
	log   *zap.Logger
	packs *rules.Registry
	store persist.Store

	upgrader websocket.Upgrader
	ln       net.Listener
	httpSrv  *http.Server

	cmds chan command

	mgr        *SessionManager
	state      session.State
	activePack rules.Pack
	cache      *actionCache
}

func New(deps Deps) *GameServer {
	s := &GameServer{
		cfg:   deps.Cfg,
		log:   deps.Log,
		packs: deps.Packs,
		store: deps.Store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// LAN-local deployment; player devices connect from file://
			// or app webviews with no meaningful origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		cmds:  make(chan command, deps.Cfg.Network.CommandQueue),
		mgr:   NewSessionManager(deps.Log),
		state: session.New(deps.Cfg.Server.SessionID),
		cache: newActionCache(1000),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	s.httpSrv = &http.Server{Handler: mux}
	return s
}

// Listen binds the configured address. With port 0 the OS picks one;
// Port reports the result for the discovery beacon.
func (s *GameServer) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Network.BindAddress)
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.cfg.Network.BindAddress, err)
	}
	s.ln = ln
	s.log.Info("listening",
		zap.String("addr", ln.Addr().String()),
		zap.String("session", s.state.SessionID))
	return nil
}

func (s *GameServer) Port() int {
	if s.ln == nil {
		return 0
	}
	return s.ln.Addr().(*net.TCPAddr).Port
}

// Run serves until ctx is cancelled. The session goroutine runs inline;
// the HTTP acceptor runs beside it.
func (s *GameServer) Run(ctx context.Context) error {
	if s.ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := s.httpSrv.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	for {
		select {
		case <-ctx.Done():
			shutCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			s.httpSrv.Shutdown(shutCtx)
			return nil
		case err := <-serveErr:
			return err
		case cmd := <-s.cmds:
			s.dispatch(cmd)
		}
	}
}

func (s *GameServer) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", zap.Error(err))
		return
	}
	c := newConn(ws, s.cfg.Network.OutQueueSize, s.log)
	go c.writePump(s.cfg.Network.WriteTimeout)
	go c.readPump(s)
}

// enqueue hands a command to the session goroutine. Blocking here only
// stalls the one reader goroutine that produced the command.
func (s *GameServer) enqueue(cmd command) {
	s.cmds <- cmd
}

// dispatch routes one command, recovering from handler panics so a bad
// frame cannot take the whole table down.
func (s *GameServer) dispatch(cmd command) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("handler panic",
				zap.Any("panic", r),
				zap.Stack("stack"))
			if cmd.c != nil {
				cmd.c.close()
			}
		}
	}()

	if cmd.fn != nil {
		cmd.fn()
		return
	}
	if cmd.closed {
		s.handleClosed(cmd.c)
		return
	}
	s.handleFrame(cmd.c, cmd.data)
}

// saveAsync persists the current snapshot without blocking the session
// goroutine. Failures are logged and swallowed; gameplay never waits on
// the database.
func (s *GameServer) saveAsync(snapshot session.State) {
	if s.store == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		if err := s.store.Save(ctx, snapshot); err != nil {
			s.log.Warn("session save failed",
				zap.String("session", snapshot.SessionID),
				zap.Int64("version", snapshot.Version),
				zap.Error(err))
		}
	}()
}
