package console

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/hostbooth/gatescan/internal/bus"
)

// Terminal styles for the local operator line. Color and iconography are
// how outcomes are told apart at a glance across the door.
var (
	styleIdle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleScanning   = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	styleProcessing = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	styleSuccess    = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	styleError      = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	styleDim        = lipgloss.NewStyle().Faint(true)
)

// Renderer prints coordinator state transitions as a styled status line on
// the terminal running the scanner.
type Renderer struct{}

// NewRenderer creates a terminal renderer and subscribes it to the bus.
func NewRenderer(statusBus *bus.StatusBus) *Renderer {
	r := &Renderer{}
	statusBus.Subscribe("terminal", r.onEvent)
	return r
}

func (r *Renderer) onEvent(ev bus.Event) {
	switch ev.Type {
	case bus.EventStateChanged:
		fmt.Println(renderState(ev))
	case bus.EventScanDecoded:
		fmt.Println(styleDim.Render("· decoded " + truncate(ev.Payload, 48)))
	}
}

func renderState(ev bus.Event) string {
	switch ev.State {
	case "idle":
		return styleIdle.Render("○ idle (camera off, manual entry available)")
	case "scanning":
		return styleScanning.Render("◉ scanning…")
	case "processing":
		return styleProcessing.Render("… checking in")
	case "success":
		return styleSuccess.Render(ev.Message)
	case "error":
		return styleError.Render("✗ " + ev.Message)
	default:
		return ev.State
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
