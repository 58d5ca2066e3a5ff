// Package camera provides the live video source for the scan loop.
//
// A Source hands out the most recent captured frame; the scan loop polls it
// once per tick and skips the tick when no fresh frame has arrived. The
// concrete implementation streams MJPEG over HTTP (multipart/x-mixed-replace),
// the format webcam daemons and IP cameras serve.
package camera

import (
	"errors"
	"image"
	"time"
)

var (
	// ErrUnavailable means the camera could not be acquired: no device,
	// endpoint unreachable, or the endpoint does not serve a video stream.
	// Fatal to the scanning path only; manual entry remains available.
	ErrUnavailable = errors.New("camera unavailable")

	// ErrStopped means the stream has ended and no further frames will arrive.
	ErrStopped = errors.New("camera stream stopped")
)

// Frame is one captured still image.
type Frame struct {
	Image      image.Image
	CapturedAt time.Time
}

// Source is an exclusively owned live video source.
//
// Grab returns the latest frame when one newer than afterSeq has arrived,
// together with its sequence number. It never blocks; a tick with no fresh
// frame simply returns ok=false.
//
// Close releases every resource held for the stream (the Go analogue of
// stopping all media tracks) and must be called on every exit path.
type Source interface {
	Grab(afterSeq uint64) (frame Frame, seq uint64, ok bool)
	Close() error
	Stopped() bool
}
