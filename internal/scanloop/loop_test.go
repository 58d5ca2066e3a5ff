package scanloop

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hostbooth/gatescan/internal/bus"
	"github.com/hostbooth/gatescan/internal/camera"
	"github.com/hostbooth/gatescan/internal/checkin"
	"github.com/hostbooth/gatescan/internal/decode"
	"github.com/hostbooth/gatescan/internal/haptics"
)

const testFPS = 200

// scriptSource hands out one synthetic frame per queued payload; the paired
// decoder returns the payload for the frame it grabbed.
type scriptSource struct {
	mu       sync.Mutex
	payloads []string
	served   int
	seq      uint64
	closed   bool
}

func (s *scriptSource) push(payloads ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, payloads...)
}

func (s *scriptSource) Grab(after uint64) (camera.Frame, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.served >= len(s.payloads) {
		return camera.Frame{}, after, false
	}
	s.served++
	s.seq++
	return camera.Frame{Image: image.NewRGBA(image.Rect(0, 0, 1, 1)), CapturedAt: time.Now()}, s.seq, true
}

func (s *scriptSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *scriptSource) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *scriptSource) servedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.served
}

// decoderFor returns a DecodeFunc yielding the source's payload for each
// grabbed frame, in order. An empty payload means "no code this frame".
func decoderFor(s *scriptSource) DecodeFunc {
	var n atomic.Int32
	return func(image.Image) (decode.Result, bool) {
		i := int(n.Add(1)) - 1
		s.mu.Lock()
		defer s.mu.Unlock()
		if i >= len(s.payloads) || s.payloads[i] == "" {
			return decode.Result{}, false
		}
		return decode.Result{Payload: s.payloads[i]}, true
	}
}

// fakeCoord records submitted codes and exposes a settable state.
type fakeCoord struct {
	mu    sync.Mutex
	codes []checkin.Code
	state atomic.Value // checkin.State
}

func newFakeCoord() *fakeCoord {
	f := &fakeCoord{}
	f.state.Store(checkin.StateScanning)
	return f
}

func (f *fakeCoord) Submit(ctx context.Context, code checkin.Code, source checkin.Source) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes = append(f.codes, code)
	return true
}

func (f *fakeCoord) State() checkin.State {
	return f.state.Load().(checkin.State)
}

func (f *fakeCoord) submitted() []checkin.Code {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]checkin.Code(nil), f.codes...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

func newTestController(src *scriptSource, coord *fakeCoord) *Controller {
	return New(src, coord, bus.New(), haptics.Noop(), decoderFor(src), testFPS, 0)
}

func TestLoop_DuplicateSuppression(t *testing.T) {
	src := &scriptSource{}
	src.push("AB12CD", "AB12CD")
	coord := newFakeCoord()

	ctl := newTestController(src, coord)
	ctl.Start(context.Background())
	defer ctl.Stop()

	waitFor(t, func() bool { return src.servedCount() == 2 })
	time.Sleep(20 * time.Millisecond) // let trailing ticks settle

	if got := coord.submitted(); len(got) != 1 {
		t.Fatalf("coordinator triggered %d times, want exactly 1 (%v)", len(got), got)
	}
}

func TestLoop_DistinctPayloadsTriggerTwice(t *testing.T) {
	src := &scriptSource{}
	src.push("AB12CD", "XY9Z")
	coord := newFakeCoord()

	ctl := newTestController(src, coord)
	ctl.Start(context.Background())
	defer ctl.Stop()

	waitFor(t, func() bool { return len(coord.submitted()) == 2 })

	got := coord.submitted()
	if got[0] != "AB12CD" || got[1] != "XY9Z" {
		t.Errorf("submitted = %v, want [AB12CD XY9Z]", got)
	}
}

func TestLoop_SuppressionResetAllowsRescan(t *testing.T) {
	src := &scriptSource{}
	src.push("AB12CD")
	coord := newFakeCoord()

	ctl := newTestController(src, coord)
	ctl.Start(context.Background())
	defer ctl.Stop()

	waitFor(t, func() bool { return len(coord.submitted()) == 1 })

	// Same badge again without a reset: suppressed.
	src.push("AB12CD")
	waitFor(t, func() bool { return src.servedCount() == 2 })
	time.Sleep(20 * time.Millisecond)
	if len(coord.submitted()) != 1 {
		t.Fatal("duplicate payload was not suppressed")
	}

	// After the coordinator returns to ready the same badge scans again.
	ctl.ResetSuppression()
	src.push("AB12CD")
	waitFor(t, func() bool { return len(coord.submitted()) == 2 })
}

func TestLoop_InvalidPayloadNotForwarded(t *testing.T) {
	src := &scriptSource{}
	src.push("WIFI:S:venue;P:pass;;", "https://example.com/r/WAYTOOLONGSEGMENT")
	coord := newFakeCoord()

	ctl := newTestController(src, coord)
	ctl.Start(context.Background())
	defer ctl.Stop()

	waitFor(t, func() bool { return src.servedCount() == 2 })
	time.Sleep(20 * time.Millisecond)

	if got := coord.submitted(); len(got) != 0 {
		t.Errorf("invalid payloads reached the coordinator: %v", got)
	}
}

func TestLoop_URLPayloadNormalized(t *testing.T) {
	src := &scriptSource{}
	src.push("https://party.tw/checkin?code=H7K2P9")
	coord := newFakeCoord()

	ctl := newTestController(src, coord)
	ctl.Start(context.Background())
	defer ctl.Stop()

	waitFor(t, func() bool { return len(coord.submitted()) == 1 })
	if got := coord.submitted()[0]; got != "H7K2P9" {
		t.Errorf("submitted %q, want H7K2P9", got)
	}
}

func TestLoop_PausesWhileProcessing(t *testing.T) {
	src := &scriptSource{}
	src.push("AB12CD")
	coord := newFakeCoord()
	coord.state.Store(checkin.StateProcessing)

	ctl := newTestController(src, coord)
	ctl.Start(context.Background())
	defer ctl.Stop()

	time.Sleep(50 * time.Millisecond)
	if src.servedCount() != 0 {
		t.Fatal("loop grabbed frames while a check-in was processing")
	}

	// Back to scanning: the loop resumes acting on frames.
	coord.state.Store(checkin.StateScanning)
	waitFor(t, func() bool { return len(coord.submitted()) == 1 })
}

func TestLoop_StopReleasesStream(t *testing.T) {
	src := &scriptSource{}
	src.push("AB12CD")
	coord := newFakeCoord()

	ctl := newTestController(src, coord)
	ctl.Start(context.Background())

	waitFor(t, func() bool { return len(coord.submitted()) == 1 })
	ctl.Stop()

	if !src.Stopped() {
		t.Error("stream not released after Stop")
	}

	// No further decode ticks after stop.
	served := src.servedCount()
	src.push("XY9Z")
	time.Sleep(50 * time.Millisecond)
	if src.servedCount() != served {
		t.Error("loop kept grabbing frames after Stop")
	}
}

func TestLoop_StreamEndSelfStops(t *testing.T) {
	src := &scriptSource{}
	coord := newFakeCoord()

	ctl := newTestController(src, coord)
	var ended atomic.Bool
	ctl.OnStreamEnd(func() { ended.Store(true) })
	ctl.Start(context.Background())

	// The stream dies underneath the loop.
	src.Close()
	waitFor(t, func() bool { return ended.Load() })

	// The controller released its own context; Stop returns promptly
	// instead of waiting on a loop that already exited.
	done := make(chan struct{})
	go func() {
		ctl.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked after the stream ended")
	}
}

func TestLoop_ContextCancelReleasesStream(t *testing.T) {
	src := &scriptSource{}
	coord := newFakeCoord()

	ctx, cancel := context.WithCancel(context.Background())
	ctl := newTestController(src, coord)
	ctl.Start(ctx)

	cancel()
	waitFor(t, func() bool { return src.Stopped() })
}
