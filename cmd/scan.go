package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hostbooth/gatescan/internal/bus"
	"github.com/hostbooth/gatescan/internal/camera"
	"github.com/hostbooth/gatescan/internal/checkin"
	"github.com/hostbooth/gatescan/internal/config"
	"github.com/hostbooth/gatescan/internal/console"
	"github.com/hostbooth/gatescan/internal/haptics"
	"github.com/hostbooth/gatescan/internal/scanloop"
)

func scanCmd() *cobra.Command {
	var noCamera bool

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run the check-in scanning engine",
		Long: "Runs the scanning engine: camera decode loop, check-in coordinator,\n" +
			"and the operator console WebSocket endpoint. Degrades to manual-entry\n" +
			"only when the camera cannot be acquired.",
		RunE: func(*cobra.Command, []string) error {
			return runScan(noCamera)
		},
	}

	cmd.Flags().BoolVar(&noCamera, "no-camera", false, "skip camera acquisition, manual entry only")
	return cmd
}

// engine holds the live wiring for one scan session lifetime. The scan loop
// controller is per-camera-session: stopping the scanner tears it down and
// a retry builds a fresh one.
type engine struct {
	ctx       context.Context
	cfg       *config.Config
	coord     *checkin.Coordinator
	statusBus *bus.StatusBus
	pulser    haptics.Pulser

	mu         sync.Mutex
	controller *scanloop.Controller
}

func runScan(noCamera bool) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	if cfg.Event.ID == "" {
		return fmt.Errorf("no event configured: set event.id in %s", flagConfig)
	}
	if cfg.API.BaseURL == "" {
		return fmt.Errorf("no redemption endpoint configured: set api.base_url in %s", flagConfig)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	statusBus := bus.New()
	console.NewRenderer(statusBus)

	coord := checkin.NewCoordinator(
		checkin.NewAPIRedeemer(cfg.API, cfg.Event.ID),
		statusBus,
		cfg.Scanner.SuccessHold(),
		cfg.Scanner.ErrorHold(),
	)
	defer coord.Close()

	pulser, hasHaptics := haptics.Detect()
	slog.Info("engine starting", "event", cfg.Event.ID, "haptics", hasHaptics)

	g, gctx := errgroup.WithContext(ctx)

	e := &engine{
		ctx:       gctx,
		cfg:       cfg,
		coord:     coord,
		statusBus: statusBus,
		pulser:    pulser,
	}

	consoleSrv := console.NewServer(cfg.Console, coord, statusBus)
	if cfg.Camera.StreamURL != "" && !noCamera {
		consoleSrv.SetScannerHooks(e.startScanner, e.stopScanner)
	}

	// Config hot reload: endpoint or token changes mid-shift swap the
	// redemption client without restarting.
	if watcher, werr := config.NewWatcher(flagConfig); werr == nil {
		watcher.OnChange(func(next *config.Config) {
			coord.SetRedeemer(checkin.NewAPIRedeemer(next.API, next.Event.ID))
		})
		if werr := watcher.Start(); werr == nil {
			defer watcher.Stop()
		}
	}

	g.Go(func() error { return consoleSrv.Run(gctx) })

	// Initial camera acquisition. Failure is fatal to the scanning path
	// only: the engine keeps running with manual entry as the only input,
	// and the operator can retry via scanner.start.
	if cfg.Camera.StreamURL != "" && !noCamera {
		if err := e.startScanner(); err != nil {
			slog.Error("camera unavailable, manual entry only", "error", err)
		}
	} else {
		slog.Info("running without camera, manual entry only")
	}

	g.Go(func() error {
		<-gctx.Done()
		e.stopScanner()
		return nil
	})

	return g.Wait()
}

// startScanner opens a fresh camera session and starts the decode loop.
func (e *engine) startScanner() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.controller != nil {
		return nil // already scanning
	}

	src, err := camera.Open(e.ctx, e.cfg.Camera.StreamURL, e.cfg.Camera.Width, e.cfg.Camera.Height)
	if err != nil {
		return err
	}

	ctl := scanloop.New(src, e.coord, e.statusBus, e.pulser, nil, e.cfg.Scanner.FPS, e.cfg.Scanner.MaxDecodeWidth)
	ctl.OnStreamEnd(e.onStreamEnd)
	e.coord.SetReadyHook(ctl.ResetSuppression)

	ctl.Start(e.ctx)
	e.controller = ctl
	e.coord.SetCameraActive(true)
	return nil
}

// stopScanner tears down the active camera session, releasing the stream.
func (e *engine) stopScanner() {
	e.mu.Lock()
	ctl := e.controller
	e.controller = nil
	e.mu.Unlock()

	if ctl == nil {
		return
	}
	ctl.Stop()
	e.coord.SetCameraActive(false)
}

// onStreamEnd fires from the loop goroutine when the camera dies mid-session.
func (e *engine) onStreamEnd() {
	e.mu.Lock()
	e.controller = nil
	e.mu.Unlock()
	e.coord.SetCameraActive(false)
}
