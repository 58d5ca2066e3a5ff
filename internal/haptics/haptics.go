// Package haptics triggers a short vibration pulse as scan-acknowledgment
// feedback. Support is probed at startup; absence is a silent no-op, and
// call sites never need to care which variant they hold.
package haptics

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

// pulseLength is the single-pulse duration fired on every fresh decode.
const pulseLength = 50 * time.Millisecond

// Pulser fires a short haptic pulse. Pulse never blocks and never fails
// visibly; feedback is best-effort by definition.
type Pulser interface {
	Pulse()
}

// vibratorNodes are the sysfs timed-output nodes handheld scanner hardware
// exposes, in probe order.
var vibratorNodes = []string{
	"/sys/class/timed_output/vibrator/enable",
	"/sys/class/leds/vibrator/duration",
}

// Detect probes for haptic support. The second return is false when the
// device has none; the returned Pulser is then a no-op and safe to use.
func Detect() (Pulser, bool) {
	for _, node := range vibratorNodes {
		if _, err := os.Stat(node); err == nil {
			slog.Info("haptics available", "node", node)
			return &sysfsPulser{node: node}, true
		}
	}
	slog.Debug("haptics unsupported on this device")
	return noopPulser{}, false
}

// Noop returns a Pulser that does nothing, for tests and headless runs.
func Noop() Pulser { return noopPulser{} }

type noopPulser struct{}

func (noopPulser) Pulse() {}

type sysfsPulser struct {
	node string
}

func (p *sysfsPulser) Pulse() {
	ms := strconv.FormatInt(pulseLength.Milliseconds(), 10)
	if err := os.WriteFile(p.node, []byte(ms), 0o200); err != nil {
		slog.Debug("haptic pulse failed", "node", p.node, "error", err)
	}
}
