// Package observer serves portal views to viewers over websocket.
package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"voxelportals.ai/internal/protocol"
	"voxelportals.ai/internal/transport/batch"
)

// Hooks connect the server to the simulation. Join, Move and Leave must not
// block.
type Hooks struct {
	Welcome func(viewer uuid.UUID, world string) (protocol.WelcomeMsg, bool)
	Join    func(viewer uuid.UUID, world string)
	Move    func(viewer uuid.UUID, eye mgl64.Vec3, refresh bool)
	Leave   func(viewer uuid.UUID)
}

type Options struct {
	SectionsPerSecond float64
	Burst             int
	LoopbackOnly      bool
}

type Server struct {
	hooks Hooks
	hub   *batch.Hub
	opts  Options
	log   *zap.Logger

	upgrader websocket.Upgrader
}

func NewServer(hooks Hooks, hub *batch.Hub, opts Options, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		hooks: hooks,
		hub:   hub,
		opts:  opts,
		log:   log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}

func writeError(conn *websocket.Conn, code, msg string) {
	b, _ := json.Marshal(protocol.ErrorMsg{Type: protocol.TypeError, Code: code, Message: msg})
	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = conn.WriteMessage(websocket.TextMessage, b)
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if s.opts.LoopbackOnly && !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send VIEW first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var view protocol.ViewMsg
		if err := json.Unmarshal(raw, &view); err != nil || view.Type != protocol.TypeView || view.ProtocolVersion != protocol.Version {
			writeError(conn, protocol.ErrProtoBadRequest, "expected VIEW")
			closeWith(conn, websocket.ClosePolicyViolation, "expected VIEW")
			return
		}
		viewer := uuid.New()
		if view.ViewerID != "" {
			if viewer, err = uuid.Parse(view.ViewerID); err != nil {
				writeError(conn, protocol.ErrProtoBadRequest, "bad viewer_id")
				closeWith(conn, websocket.ClosePolicyViolation, "bad viewer_id")
				return
			}
		}
		welcome, ok := s.hooks.Welcome(viewer, view.World)
		if !ok {
			writeError(conn, protocol.ErrWorldNotFound, fmt.Sprintf("unknown world %q", view.World))
			closeWith(conn, websocket.CloseNormalClosure, "unknown world")
			return
		}
		b, err := json.Marshal(welcome)
		if err != nil {
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			return
		}

		log := s.log.With(zap.Stringer("viewer", viewer), zap.String("world", view.World))
		dataOut := make(chan []byte, 4096)
		sink := func(m protocol.BlockBatchMsg) error {
			b, err := json.Marshal(m)
			if err != nil {
				return err
			}
			select {
			case dataOut <- b:
				return nil
			default:
				return fmt.Errorf("viewer %s: send queue full", viewer)
			}
		}
		var limiter *rate.Limiter
		if s.opts.SectionsPerSecond > 0 {
			limiter = rate.NewLimiter(rate.Limit(s.opts.SectionsPerSecond), max(s.opts.Burst, 1))
		}
		s.hub.Add(viewer, batch.New(sink, limiter, log))
		s.hooks.Join(viewer, view.World)
		log.Info("viewer connected")
		defer func() {
			s.hooks.Leave(viewer)
			s.hub.Remove(viewer)
			log.Info("viewer disconnected")
		}()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-dataOut:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: MOVE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, raw, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var mv protocol.MoveMsg
			if err := json.Unmarshal(raw, &mv); err != nil || mv.Type != protocol.TypeMove {
				continue
			}
			s.hooks.Move(viewer, mgl64.Vec3{mv.Pos[0], mv.Pos[1], mv.Pos[2]}, mv.Refresh)
		}

		cancel()
		closeWith(conn, websocket.CloseNormalClosure, "bye")

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
