package bridge

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/srg/hearlink/internal/events"
	"github.com/srg/hearlink/internal/groutine"
	"github.com/srg/hearlink/internal/session"
)

const (
	// pushBufferSize bounds the per-client push queue. A client that
	// cannot keep up loses the oldest events; its reconciliation poll
	// recovers the state.
	pushBufferSize = 256

	writeTimeout = 10 * time.Second
)

// Server accepts mirror connections and bridges them onto the session.
type Server struct {
	sess     *session.Session
	logger   *logrus.Logger
	upgrader websocket.Upgrader
}

// NewServer creates a bridge server over sess.
func NewServer(sess *session.Session, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	return &Server{
		sess:   sess,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Host and presentation process run on the same machine; the
			// endpoint binds to loopback so any origin is acceptable.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP handler exposing the /ws endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

// Serve listens on addr until ctx is canceled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{Handler: s.Handler()}

	groutine.Go(ctx, "bridge-shutdown", func(ctx context.Context) {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})

	s.logger.WithField("addr", ln.Addr().String()).Info("Bridge listening")

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleWS upgrades one mirror connection and runs its pumps.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).WithField("remote_addr", r.RemoteAddr).Error("Failed to upgrade to WebSocket")
		return
	}

	s.logger.WithField("remote_addr", r.RemoteAddr).Info("Mirror connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	defer conn.Close()

	// Push queue: overwrite-oldest, never blocks the bus.
	pushes := events.NewRingChannel[Message](pushBufferSize)
	subs := s.sess.Bus().SubscribeAll(func(ev events.Event) {
		pushes.ForceSend(EventMessage(ev))
	})
	defer func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	}()

	// Results are request/response and must not be dropped, so they get
	// their own buffered channel with blocking sends.
	results := make(chan Message, 16)

	groutine.Go(ctx, "bridge-writer", func(ctx context.Context) {
		s.writePump(ctx, conn, results, pushes)
	})

	s.readPump(ctx, cancel, conn, results)

	s.logger.WithField("remote_addr", r.RemoteAddr).Info("Mirror disconnected")
}

// readPump reads command envelopes until the connection drops, answering
// each on its own goroutine so a blocking connect does not stall other
// commands.
func (s *Server) readPump(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, results chan<- Message) {
	defer cancel()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.WithError(err).Warn("Mirror connection read error")
			}
			return
		}

		if msg.Type != TypeCommand {
			s.logger.WithField("type", msg.Type).Warn("Ignoring non-command envelope")
			continue
		}

		cmd := msg
		groutine.Go(ctx, "bridge-cmd-"+cmd.Channel, func(ctx context.Context) {
			reply := s.dispatch(ctx, cmd)
			select {
			case results <- reply:
			case <-ctx.Done():
			}
		})
	}
}

// writePump is the single writer for one connection, serializing results
// and pushes.
func (s *Server) writePump(ctx context.Context, conn *websocket.Conn, results <-chan Message, pushes *events.RingChannel[Message]) {
	for {
		var (
			msg Message
			ok  bool
		)
		select {
		case <-ctx.Done():
			return
		case msg, ok = <-results:
		case msg, ok = <-pushes.C():
		}
		if !ok {
			return
		}

		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			s.logger.WithError(err).Debug("Mirror connection write failed")
			return
		}
	}
}

// dispatch executes one command against the session and builds the reply.
func (s *Server) dispatch(ctx context.Context, cmd Message) Message {
	reply := Message{Type: TypeResult, ID: cmd.ID, Channel: cmd.Channel}

	switch cmd.Channel {
	case CmdStartScan:
		if err := s.sess.StartScan(); err != nil {
			reply.Result = &Result{Error: err.Error()}
		} else {
			reply.Result = &Result{Success: true, Message: "scan started"}
		}

	case CmdStopScan:
		s.sess.StopScan()
		reply.Result = &Result{Success: true, Message: "scan stopped"}

	case CmdGetDevices:
		reply.Result = &Result{Success: true}
		reply.Devices = s.sess.Devices()

	case CmdConnect:
		if err := s.sess.Connect(ctx, cmd.DeviceID); err != nil {
			reply.Result = &Result{Error: err.Error()}
		} else {
			reply.Result = &Result{Success: true, Message: "connected"}
		}

	case CmdDisconnect:
		if err := s.sess.Disconnect(ctx, cmd.DeviceID); err != nil {
			reply.Result = &Result{Error: err.Error()}
		} else {
			reply.Result = &Result{Success: true, Message: "disconnected"}
		}

	default:
		s.logger.WithField("channel", cmd.Channel).Warn("Unknown command")
		reply.Result = &Result{Error: "unknown command: " + cmd.Channel}
	}

	return reply
}
