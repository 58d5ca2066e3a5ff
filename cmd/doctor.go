package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/hostbooth/gatescan/internal/camera"
	"github.com/hostbooth/gatescan/internal/config"
	"github.com/hostbooth/gatescan/internal/haptics"
)

var (
	checkPass = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render("ok")
	checkWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Render("n/a")
	checkFail = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Render("FAIL")
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Probe camera, haptics, and API reachability",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flagConfig)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			// Camera: acquire and release without consuming frames.
			if cfg.Camera.StreamURL == "" {
				report("camera", checkWarn, "no stream_url configured (manual entry only)")
			} else if err := camera.Probe(ctx, cfg.Camera.StreamURL); err != nil {
				report("camera", checkFail, err.Error())
			} else {
				report("camera", checkPass, cfg.Camera.StreamURL)
			}

			// Haptics: best-effort capability probe.
			if _, ok := haptics.Detect(); ok {
				report("haptics", checkPass, "vibration pulse available")
			} else {
				report("haptics", checkWarn, "unsupported, pulses are a no-op")
			}

			// API: any HTTP response means the endpoint is up.
			if cfg.API.BaseURL == "" {
				report("api", checkFail, "api.base_url not configured")
			} else {
				client := &http.Client{Timeout: 5 * time.Second}
				req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.API.BaseURL, nil)
				if err != nil {
					report("api", checkFail, err.Error())
				} else if resp, err := client.Do(req); err != nil {
					report("api", checkFail, err.Error())
				} else {
					resp.Body.Close()
					report("api", checkPass, fmt.Sprintf("%s (%s)", cfg.API.BaseURL, resp.Status))
				}
			}

			if cfg.Event.ID == "" {
				report("event", checkFail, "event.id not configured")
			} else {
				report("event", checkPass, cfg.Event.ID)
			}

			return nil
		},
	}
}

func report(name, status, detail string) {
	fmt.Printf("%-8s %s  %s\n", name, status, detail)
}
