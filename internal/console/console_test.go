package console

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hostbooth/gatescan/internal/bus"
	"github.com/hostbooth/gatescan/internal/checkin"
	"github.com/hostbooth/gatescan/internal/config"
	"github.com/hostbooth/gatescan/pkg/protocol"
)

// blockingRedeemer holds every redemption open until release is closed.
type blockingRedeemer struct {
	release chan struct{}
}

func (r *blockingRedeemer) Redeem(ctx context.Context, code checkin.Code) (*checkin.RedeemResult, error) {
	select {
	case <-r.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &checkin.RedeemResult{AttendeeName: "Ana"}, nil
}

// dialConsole wires a server around a fresh coordinator and returns a
// connected WebSocket client.
func dialConsole(t *testing.T, cfg config.ConsoleConfig, r checkin.Redeemer) *websocket.Conn {
	t.Helper()

	statusBus := bus.New()
	coord := checkin.NewCoordinator(r, statusBus, 50*time.Millisecond, 50*time.Millisecond)
	t.Cleanup(coord.Close)

	s := NewServer(cfg, coord, statusBus)
	s.engineCtx = context.Background()

	srv := httptest.NewServer(http.HandlerFunc(s.handleWS))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial console: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func defaultConsoleConfig() config.ConsoleConfig {
	return config.ConsoleConfig{ManualRPM: 6000, ManualBurst: 5}
}

func sendRequest(t *testing.T, conn *websocket.Conn, id, method string, params interface{}) {
	t.Helper()
	frame := protocol.RequestFrame{Type: protocol.FrameTypeRequest, ID: id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			t.Fatalf("marshal params: %v", err)
		}
		frame.Params = raw
	}
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("write request: %v", err)
	}
}

// readResponse reads frames until the response matching id arrives,
// skipping any interleaved events.
func readResponse(t *testing.T, conn *websocket.Conn, id string) protocol.ResponseFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var res protocol.ResponseFrame
		if err := conn.ReadJSON(&res); err != nil {
			t.Fatalf("read response: %v", err)
		}
		if res.Type == protocol.FrameTypeResponse && res.ID == id {
			return res
		}
	}
}

func requireErrorCode(t *testing.T, res protocol.ResponseFrame, code string) {
	t.Helper()
	if res.OK {
		t.Fatalf("request succeeded, want error %s", code)
	}
	if res.Error == nil || res.Error.Code != code {
		t.Fatalf("error = %+v, want code %s", res.Error, code)
	}
}

func TestConsole_ConnectReturnsStatus(t *testing.T) {
	conn := dialConsole(t, defaultConsoleConfig(), &blockingRedeemer{release: make(chan struct{})})

	sendRequest(t, conn, "r1", protocol.MethodConnect, protocol.ConnectParams{Version: protocol.ProtocolVersion})
	res := readResponse(t, conn, "r1")
	if !res.OK {
		t.Fatalf("connect failed: %+v", res.Error)
	}

	payload, ok := res.Payload.(map[string]interface{})
	if !ok {
		t.Fatalf("payload = %T, want object", res.Payload)
	}
	if payload["state"] != "idle" {
		t.Errorf("state = %v, want idle", payload["state"])
	}
}

func TestConsole_ConnectRejectsVersionMismatch(t *testing.T) {
	conn := dialConsole(t, defaultConsoleConfig(), &blockingRedeemer{release: make(chan struct{})})

	sendRequest(t, conn, "r1", protocol.MethodConnect, protocol.ConnectParams{Version: 99})
	requireErrorCode(t, readResponse(t, conn, "r1"), protocol.ErrInvalidRequest)
}

func TestConsole_ManualEntryInvalidCode(t *testing.T) {
	conn := dialConsole(t, defaultConsoleConfig(), &blockingRedeemer{release: make(chan struct{})})

	// Too short, and a URL: manual input is bare tokens only.
	for i, code := range []string{"ab", "https://party.tw/checkin?code=H7K2P9"} {
		id := "r" + string(rune('1'+i))
		sendRequest(t, conn, id, protocol.MethodManualEntry, protocol.ManualEntryParams{Code: code})
		requireErrorCode(t, readResponse(t, conn, id), protocol.ErrInvalidCode)
	}
}

func TestConsole_ManualEntryBusyWhileInFlight(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	conn := dialConsole(t, defaultConsoleConfig(), &blockingRedeemer{release: release})

	sendRequest(t, conn, "r1", protocol.MethodManualEntry, protocol.ManualEntryParams{Code: "AB12CD"})
	if res := readResponse(t, conn, "r1"); !res.OK {
		t.Fatalf("first manual entry rejected: %+v", res.Error)
	}

	// The first redemption is still held open; a second entry is dropped.
	sendRequest(t, conn, "r2", protocol.MethodManualEntry, protocol.ManualEntryParams{Code: "XY9Z"})
	requireErrorCode(t, readResponse(t, conn, "r2"), protocol.ErrBusy)
}

func TestConsole_ManualEntryRateLimited(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	// One token per second, burst of one: the second rapid entry is shed
	// before it ever reaches the coordinator.
	conn := dialConsole(t, config.ConsoleConfig{ManualRPM: 60, ManualBurst: 1}, &blockingRedeemer{release: release})

	sendRequest(t, conn, "r1", protocol.MethodManualEntry, protocol.ManualEntryParams{Code: "AB12CD"})
	if res := readResponse(t, conn, "r1"); !res.OK {
		t.Fatalf("first manual entry rejected: %+v", res.Error)
	}

	sendRequest(t, conn, "r2", protocol.MethodManualEntry, protocol.ManualEntryParams{Code: "XY9Z"})
	requireErrorCode(t, readResponse(t, conn, "r2"), protocol.ErrRateLimited)
}

func TestConsole_UnknownMethod(t *testing.T) {
	conn := dialConsole(t, defaultConsoleConfig(), &blockingRedeemer{release: make(chan struct{})})

	sendRequest(t, conn, "r1", "no.such.method", nil)
	requireErrorCode(t, readResponse(t, conn, "r1"), protocol.ErrInvalidRequest)
}
