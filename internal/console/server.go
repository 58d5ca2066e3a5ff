// Package console is the operator-facing surface of the scanning engine:
// a WebSocket endpoint streaming status events to front-of-house displays
// and accepting manual code entry, plus a styled terminal status line for
// the host running the scanner.
package console

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hostbooth/gatescan/internal/bus"
	"github.com/hostbooth/gatescan/internal/checkin"
	"github.com/hostbooth/gatescan/internal/config"
	"github.com/hostbooth/gatescan/pkg/protocol"
)

// Server accepts console WebSocket connections and fans status events out
// to them.
type Server struct {
	addr        string
	manualRPM   int
	manualBurst int
	coord       *checkin.Coordinator
	statusBus   *bus.StatusBus
	upgrader    websocket.Upgrader

	// Engine hooks for scanner.start / scanner.stop. Either may be nil
	// when the engine runs without a camera.
	startScanner func() error
	stopScanner  func()

	engineCtx context.Context

	mu      sync.Mutex
	clients map[string]*Client
}

// NewServer creates a console server.
func NewServer(cfg config.ConsoleConfig, coord *checkin.Coordinator, statusBus *bus.StatusBus) *Server {
	return &Server{
		addr:        cfg.Listen,
		manualRPM:   cfg.ManualRPM,
		manualBurst: cfg.ManualBurst,
		coord:       coord,
		statusBus:   statusBus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The console is bound to loopback by default; the UI is
			// served from the local app shell.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[string]*Client),
	}
}

// SetScannerHooks wires the scanner.start/scanner.stop methods to the engine.
func (s *Server) SetScannerHooks(start func() error, stop func()) {
	s.startScanner = start
	s.stopScanner = stop
}

// Run serves the console until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.engineCtx = ctx

	s.statusBus.Subscribe("console", s.onStatusEvent)
	defer s.statusBus.Unsubscribe("console")

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)

	srv := &http.Server{Addr: s.addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	slog.Info("console listening", "addr", s.addr)

	select {
	case <-ctx.Done():
		s.broadcast(protocol.NewEvent(protocol.EventShutdown, nil))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("console upgrade failed", "error", err)
		return
	}

	client := newClient(conn, s)

	s.mu.Lock()
	s.clients[client.ID()] = client
	s.mu.Unlock()

	slog.Info("console client connected", "client", client.ID())

	client.Run(s.engineCtx)

	s.mu.Lock()
	delete(s.clients, client.ID())
	s.mu.Unlock()
	client.closeSend()

	slog.Info("console client disconnected", "client", client.ID())
}

// onStatusEvent converts bus events into protocol frames for all clients.
func (s *Server) onStatusEvent(ev bus.Event) {
	frame := eventFrame(ev)
	if frame == nil {
		return
	}
	s.broadcast(frame)
}

func (s *Server) broadcast(frame *protocol.EventFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, client := range s.clients {
		client.SendEvent(frame)
	}
}

// eventFrame maps a status event onto the wire format.
func eventFrame(ev bus.Event) *protocol.EventFrame {
	var frame *protocol.EventFrame
	switch ev.Type {
	case bus.EventStateChanged:
		frame = protocol.NewEvent(protocol.EventStateChanged, protocol.StatePayload{
			State:    ev.State,
			Message:  ev.Message,
			Attendee: ev.Attendee,
			Camera:   ev.Camera,
		})
	case bus.EventScanDecoded:
		frame = protocol.NewEvent(protocol.EventScanDecoded, map[string]string{
			"payload": ev.Payload,
		})
	case bus.EventCheckinResult:
		frame = protocol.NewEvent(protocol.EventCheckinResult, protocol.CheckinResultPayload{
			OK:       ev.OK,
			Code:     ev.Code,
			Attendee: ev.Attendee,
			Reason:   ev.Reason,
			Source:   ev.Source,
		})
	default:
		return nil
	}
	frame.Seq = ev.Seq
	return frame
}
