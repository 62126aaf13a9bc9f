package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/holdemlab/dealerd/pkg/logging"
)

// Config configures the connection server.
type Config struct {
	Addr           string
	ActionTimeout  time.Duration
	ReconnectGrace time.Duration
	StorePath      string
	AutoStart      bool

	LogBackend *logging.LogBackend
}

// Server accepts websocket connections, feeds their frames to the
// bridge and serves the small HTTP surface.
type Server struct {
	log      slog.Logger
	cfg      Config
	sessions *SessionManager
	bridge   *Bridge
	store    Store
	router   *gin.Engine
	upgrader websocket.Upgrader
	started  time.Time
}

// New wires the full server: store probe, session manager, seat
// registry and one engine per directory table.
func New(cfg Config) *Server {
	log := cfg.LogBackend.Logger("SRVR")
	store := OpenStore(cfg.StorePath, cfg.LogBackend.Logger("STOR"))
	sessions := NewSessionManager(store, cfg.ReconnectGrace, cfg.LogBackend.Logger("SESS"))
	bridge := NewBridge(BridgeConfig{
		Sessions:      sessions,
		Registry:      NewSeatRegistry(),
		Store:         store,
		Directory:     DefaultDirectory(),
		ActionTimeout: cfg.ActionTimeout,
		AutoStart:     cfg.AutoStart,
		Log:           cfg.LogBackend.Logger("BRDG"),
	})

	s := &Server{
		log:      log,
		cfg:      cfg,
		sessions: sessions,
		bridge:   bridge,
		store:    store,
		started:  time.Now(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.router = s.buildRouter()
	return s
}

// Bridge exposes the bridge, mainly for tests.
func (s *Server) Bridge() *Bridge { return s.bridge }

// Sessions exposes the session manager, mainly for tests.
func (s *Server) Sessions() *SessionManager { return s.sessions }

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"timestamp":   time.Now().UTC().Format(time.RFC3339),
			"connections": s.sessions.Count(),
			"tables":      s.bridge.TableCount(),
		})
	})
	r.GET("/api/tables", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"tables": s.bridge.Lobby()})
	})
	r.GET("/ws", s.handleWS)
	return r
}

// Run serves until ctx is cancelled, then drains and closes engines.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Addr, Handler: s.router}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.log.Infof("listening on %s", s.cfg.Addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.bridge.Close()
	return err
}

func (s *Server) handleWS(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Errorf("websocket upgrade: %v", err)
		return
	}
	conn := newWSConn(ws)
	sess := s.sessions.Create(conn)
	s.log.Debugf("session %s connected from %s", sess.ID, ws.RemoteAddr())
	s.bridge.send(sess, EvtSession, SessionPayload{SessionID: sess.ID})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			break
		}
		var cmd Command
		if err := json.Unmarshal(raw, &cmd); err != nil || cmd.Type == "" {
			s.bridge.sendError(sess, CodeBadMessage, "frames must be single JSON command objects")
			continue
		}
		if cmd.Type == CmdReattach {
			if resumed := s.reattach(sess, cmd, conn); resumed != nil {
				sess = resumed
			}
			continue
		}
		s.bridge.HandleCommand(sess, cmd)
	}

	s.log.Debugf("session %s disconnected", sess.ID)
	conn.Close()
	s.bridge.HandleDisconnect(sess, conn)
}

// reattach swaps this connection onto a prior session. The fresh
// session minted at connect time is discarded in its favor.
func (s *Server) reattach(sess *Session, cmd Command, conn *wsConn) *Session {
	if cmd.SessionID == "" {
		s.bridge.sendError(sess, CodeCommandFailed, "REATTACH requires sessionId")
		return nil
	}
	resumed, err := s.sessions.Reattach(cmd.SessionID, conn)
	if err != nil {
		s.log.Debugf("session %s: reattach: %v", sess.ID, err)
		s.bridge.sendError(sess, CodeCommandFailed, err.Error())
		return nil
	}
	if resumed != sess {
		// The placeholder minted at connect time is superseded.
		s.sessions.Drop(sess)
	}
	s.bridge.send(resumed, EvtSession, SessionPayload{SessionID: resumed.ID, UserID: resumed.UserID})
	if resumed.RoomID != "" {
		if eng, ok := s.bridge.engineFor(resumed.RoomID); ok {
			s.bridge.sendSnapshot(resumed, eng.Snapshot())
		}
	}
	return resumed
}

// wsConn adapts a gorilla websocket to the Conn contract with a
// per-connection writer goroutine, so broadcasts reach the client in
// emission order without blocking the engine loop.
type wsConn struct {
	ws   *websocket.Conn
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func newWSConn(ws *websocket.Conn) *wsConn {
	c := &wsConn{
		ws:   ws,
		out:  make(chan []byte, 256),
		done: make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

func (c *wsConn) writeLoop() {
	for {
		select {
		case msg := <-c.out:
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *wsConn) Send(frame []byte) error {
	select {
	case c.out <- frame:
		return nil
	case <-c.done:
		return websocket.ErrCloseSent
	default:
		// A client that cannot drain its queue is effectively gone.
		c.Close()
		return websocket.ErrCloseSent
	}
}

func (c *wsConn) Close() error {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
	return nil
}
