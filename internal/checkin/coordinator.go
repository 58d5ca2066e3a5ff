package checkin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hostbooth/gatescan/internal/bus"
)

// State is the coordinator's visible state. Exactly one instance is live at
// a time; mutated only by the coordinator, read by the presentation layer.
type State string

const (
	// StateIdle: camera off, no pending result. Manual entry still works.
	StateIdle State = "idle"
	// StateScanning: camera on, awaiting a valid decode.
	StateScanning State = "scanning"
	// StateProcessing: one redemption request in flight.
	StateProcessing State = "processing"
	// StateSuccess: redemption confirmed; auto-reverts.
	StateSuccess State = "success"
	// StateError: redemption rejected or failed; auto-reverts.
	StateError State = "error"
)

// Source identifies where a check-in attempt came from.
type Source string

const (
	SourceScan   Source = "scan"
	SourceManual Source = "manual"
)

// Operator-facing display strings. The deployment runs zh-TW front of house.
const (
	successMessageFormat = "✓ %s 簽到成功！"
	genericFailure       = "簽到失敗，請稍後再試"
)

// Coordinator is the single authority over check-in attempts, whether
// sourced from the scan loop or manual entry.
//
// It enforces the single-flight invariant: at most one redemption request is
// outstanding at any time, guarded by an atomic flag checked before issuing
// a new request. Later arrivals while one is in flight are dropped, never
// queued: ignoring the badge still in frame beats double-submitting it.
type Coordinator struct {
	statusBus   *bus.StatusBus
	successHold time.Duration
	errorHold   time.Duration

	inFlight atomic.Bool

	mu           sync.Mutex
	redeemer     Redeemer
	state        State
	message      string
	attendee     string
	cameraActive bool
	revertTimer  *time.Timer
	onReady      func() // clears the scan loop's duplicate suppression
}

// NewCoordinator creates a coordinator in the idle state.
func NewCoordinator(redeemer Redeemer, statusBus *bus.StatusBus, successHold, errorHold time.Duration) *Coordinator {
	return &Coordinator{
		statusBus:   statusBus,
		successHold: successHold,
		errorHold:   errorHold,
		redeemer:    redeemer,
		state:       StateIdle,
	}
}

// SetReadyHook registers the callback invoked whenever the coordinator
// returns to a scanning-ready state (and immediately on success), so the
// same badge can be deliberately rescanned later.
func (c *Coordinator) SetReadyHook(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReady = fn
}

// SetRedeemer swaps the redemption client (config hot reload).
func (c *Coordinator) SetRedeemer(r Redeemer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.redeemer = r
}

// SetCameraActive records whether the camera pipeline is live and moves
// between idle and scanning accordingly. Terminal-looking states are left
// alone; their revert lands on the right side based on this flag.
func (c *Coordinator) SetCameraActive(active bool) {
	c.mu.Lock()
	c.cameraActive = active
	var ev *bus.Event
	switch {
	case active && c.state == StateIdle:
		ev = c.setStateLocked(StateScanning, "", "")
	case !active && c.state == StateScanning:
		ev = c.setStateLocked(StateIdle, "", "")
	}
	c.mu.Unlock()
	c.publish(ev)
}

// State returns the current visible state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns the current state for presentation.
func (c *Coordinator) Snapshot() (state State, message, attendee string, cameraActive bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.message, c.attendee, c.cameraActive
}

// Submit hands a normalized code to the coordinator. Returns false when the
// attempt was dropped: a redemption already in flight, or a result still on
// display. The redemption itself runs asynchronously; ctx bounds its
// lifetime (typically the engine context).
func (c *Coordinator) Submit(ctx context.Context, code Code, source Source) bool {
	if !c.inFlight.CompareAndSwap(false, true) {
		slog.Debug("check-in dropped: redemption in flight", "code", code, "source", source)
		return false
	}

	c.mu.Lock()
	if c.state != StateScanning && c.state != StateIdle {
		c.mu.Unlock()
		c.inFlight.Store(false)
		slog.Debug("check-in dropped: result on display", "code", code, "source", source)
		return false
	}
	redeemer := c.redeemer
	ev := c.setStateLocked(StateProcessing, "", "")
	c.mu.Unlock()
	c.publish(ev)

	attemptID := uuid.NewString()
	slog.Info("redeeming check-in code", "code", code, "source", source, "attempt", attemptID)

	go c.redeem(ctx, redeemer, code, source)
	return true
}

func (c *Coordinator) redeem(ctx context.Context, redeemer Redeemer, code Code, source Source) {
	result, err := redeemer.Redeem(ctx, code)

	// Order matters: the guard clears only once the terminal state is
	// recorded, so a concurrent Submit cannot slip in between.
	c.mu.Lock()
	var ev *bus.Event
	var onReady func()
	resultEv := bus.Event{Type: bus.EventCheckinResult, Code: string(code), Source: string(source)}

	if err != nil {
		reason := genericFailure
		var rerr *RedemptionError
		if errors.As(err, &rerr) {
			reason = rerr.Reason
		} else {
			slog.Warn("redemption transport failure", "code", code, "error", err)
		}
		ev = c.setStateLocked(StateError, reason, "")
		resultEv.Reason = reason
		c.scheduleRevertLocked(c.errorHold)
	} else {
		ev = c.setStateLocked(StateSuccess, fmt.Sprintf(successMessageFormat, result.AttendeeName), result.AttendeeName)
		resultEv.OK = true
		resultEv.Attendee = result.AttendeeName
		// Clear suppression right away so the loop is ready for a fresh
		// decode the moment scanning resumes.
		onReady = c.onReady
		c.scheduleRevertLocked(c.successHold)
	}
	c.inFlight.Store(false)
	c.mu.Unlock()

	c.publish(ev)
	c.statusBus.Publish(resultEv)
	if onReady != nil {
		onReady()
	}
}

// revertToReady moves a terminal-looking state back to scanning (camera
// active) or idle, and re-arms duplicate suppression.
func (c *Coordinator) revertToReady() {
	c.mu.Lock()
	if c.state != StateSuccess && c.state != StateError {
		c.mu.Unlock()
		return
	}
	next := StateIdle
	if c.cameraActive {
		next = StateScanning
	}
	ev := c.setStateLocked(next, "", "")
	onReady := c.onReady
	c.mu.Unlock()

	c.publish(ev)
	if onReady != nil {
		onReady()
	}
}

// Close cancels any pending revert timer.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.revertTimer != nil {
		c.revertTimer.Stop()
		c.revertTimer = nil
	}
}

// setStateLocked records a transition and builds the event to broadcast.
// Must be called with c.mu held; the caller publishes after unlocking.
func (c *Coordinator) setStateLocked(next State, message, attendee string) *bus.Event {
	if c.state == next && c.message == message {
		return nil
	}
	slog.Debug("state transition", "from", c.state, "to", next)
	c.state = next
	c.message = message
	c.attendee = attendee
	return &bus.Event{
		Type:     bus.EventStateChanged,
		State:    string(next),
		Message:  message,
		Attendee: attendee,
		Camera:   c.cameraActive,
	}
}

// scheduleRevertLocked arms the auto-revert timer. Must be called with
// c.mu held.
func (c *Coordinator) scheduleRevertLocked(hold time.Duration) {
	if c.revertTimer != nil {
		c.revertTimer.Stop()
	}
	c.revertTimer = time.AfterFunc(hold, c.revertToReady)
}

func (c *Coordinator) publish(ev *bus.Event) {
	if ev != nil {
		c.statusBus.Publish(*ev)
	}
}
