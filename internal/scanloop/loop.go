// Package scanloop drives the continuous capture → decode → normalize
// pipeline while the camera is active, and owns the duplicate-suppression
// window for raw decoded payloads.
package scanloop

import (
	"context"
	"image"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/hostbooth/gatescan/internal/bus"
	"github.com/hostbooth/gatescan/internal/camera"
	"github.com/hostbooth/gatescan/internal/checkin"
	"github.com/hostbooth/gatescan/internal/decode"
	"github.com/hostbooth/gatescan/internal/haptics"
)

// DecodeFunc decodes one frame. Injected so tests can feed synthetic
// payloads without staging real QR imagery.
type DecodeFunc func(image.Image) (decode.Result, bool)

// Submitter is the coordinator surface the loop depends on.
type Submitter interface {
	Submit(ctx context.Context, code checkin.Code, source checkin.Source) bool
	State() checkin.State
}

// Controller runs the scan loop: paced ticks pull the freshest camera frame,
// decode it, suppress duplicate payloads, and hand valid codes to the
// coordinator. The loop never terminates itself on a failed decode; decode
// misses are the dominant per-frame outcome and stay silent.
type Controller struct {
	src         camera.Source
	coord       Submitter
	statusBus   *bus.StatusBus
	haptic      haptics.Pulser
	decode      DecodeFunc
	fps         int
	onStreamEnd func()

	mu          sync.Mutex
	running     bool
	cancel      context.CancelFunc
	done        chan struct{}
	lastPayload string

	// touched only by the loop goroutine
	lastSeq uint64
}

// New creates a controller. fps bounds the tick rate; dec may be nil to use
// a default QR decoder sized by maxDecodeWidth.
func New(src camera.Source, coord Submitter, statusBus *bus.StatusBus, haptic haptics.Pulser, dec DecodeFunc, fps, maxDecodeWidth int) *Controller {
	if dec == nil {
		d := decode.New(maxDecodeWidth)
		dec = d.DecodeFrame
	}
	if fps <= 0 {
		fps = 30
	}
	if haptic == nil {
		haptic = haptics.Noop()
	}
	return &Controller{
		src:       src,
		coord:     coord,
		statusBus: statusBus,
		haptic:    haptic,
		decode:    dec,
		fps:       fps,
	}
}

// OnStreamEnd registers a callback fired once if the camera stream dies
// underneath the loop. The controller has already stopped itself when the
// callback runs. Must be set before Start.
func (c *Controller) OnStreamEnd(fn func()) {
	c.onStreamEnd = fn
}

// Start begins the loop. The cancellation handle is captured here and
// invoked on every stop path; Stop and parent context cancellation both
// resolve the race between "stop requested" and "tick already scheduled".
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true

	go c.loop(loopCtx)
	slog.Info("scan loop started", "fps", c.fps)
}

// Stop cancels the loop and waits for the current tick to finish. The
// camera stream is released by the loop on its way out, so every exit path
// (explicit stop or context teardown) drops the tracks.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	cancel()
	<-done
	slog.Info("scan loop stopped")
}

// ResetSuppression clears the duplicate-suppression marker so the same
// badge can be deliberately rescanned. The coordinator calls this on every
// return to a scanning-ready state.
func (c *Controller) ResetSuppression() {
	c.mu.Lock()
	c.lastPayload = ""
	c.mu.Unlock()
}

func (c *Controller) loop(ctx context.Context) {
	defer close(c.done)
	defer c.src.Close()

	limiter := rate.NewLimiter(rate.Limit(c.fps), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		if stop := c.tick(ctx); stop {
			c.selfStop()
			if c.onStreamEnd != nil {
				c.onStreamEnd()
			}
			return
		}
	}
}

// selfStop releases the loop context when the stream dies underneath the
// loop, so the controller is fully stopped without an external Stop call.
func (c *Controller) selfStop() {
	c.mu.Lock()
	running := c.running
	c.running = false
	cancel := c.cancel
	c.mu.Unlock()

	if running {
		cancel()
	}
}

// tick runs one capture → decode → normalize pass. Returns true only when
// the stream has terminally ended.
func (c *Controller) tick(ctx context.Context) bool {
	// While a check-in is processing or a result is on display, keep
	// ticking but act on nothing.
	if c.coord.State() != checkin.StateScanning {
		return false
	}

	frame, seq, ok := c.src.Grab(c.lastSeq)
	if !ok {
		if c.src.Stopped() {
			slog.Warn("camera stream ended, scan loop exiting")
			return true
		}
		// No fresh frame this tick; reschedule.
		return false
	}
	c.lastSeq = seq

	result, found := c.decode(frame.Image)
	if !found {
		return false
	}

	// Payload-level duplicate suppression: an identical raw payload on
	// consecutive frames is the common case while a badge sits in frame.
	c.mu.Lock()
	if result.Payload == c.lastPayload {
		c.mu.Unlock()
		return false
	}
	c.lastPayload = result.Payload
	c.mu.Unlock()

	// Acknowledge the decode itself, not the redemption outcome.
	c.haptic.Pulse()
	c.statusBus.Publish(bus.Event{Type: bus.EventScanDecoded, Payload: result.Payload})

	code, err := checkin.Normalize(result.Payload)
	if err != nil {
		slog.Debug("decoded payload is not a check-in code", "payload", result.Payload)
		return false
	}

	c.coord.Submit(ctx, code, checkin.SourceScan)
	return false
}
