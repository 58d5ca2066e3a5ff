package camera

import (
	"context"
	"fmt"
	"image/jpeg"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// headerTimeout bounds how long camera acquisition may take before the
// source is declared unavailable.
const headerTimeout = 5 * time.Second

// Stream is an MJPEG-over-HTTP camera source.
//
// A background reader decodes JPEG parts off the multipart stream into a
// single latest-frame slot; old frames are overwritten, never queued, so a
// slow consumer always sees the current view.
type Stream struct {
	cancel context.CancelFunc
	body   io.ReadCloser
	done   chan struct{}

	mu      sync.Mutex
	latest  Frame
	seq     uint64
	lastErr error

	closeOnce sync.Once
}

// Open acquires the camera stream. The returned Stream owns the connection
// exclusively until Close. ctx bounds acquisition only; the stream itself
// lives until Close is called.
func Open(ctx context.Context, streamURL string, width, height int) (*Stream, error) {
	if streamURL == "" {
		return nil, fmt.Errorf("%w: no stream URL configured", ErrUnavailable)
	}

	reqURL, err := withResolutionHint(streamURL, width, height)
	if err != nil {
		return nil, fmt.Errorf("%w: bad stream URL: %v", ErrUnavailable, err)
	}

	streamCtx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, reqURL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	client := &http.Client{
		Transport: &http.Transport{ResponseHeaderTimeout: headerTimeout},
	}

	// Abort acquisition if the caller gives up before headers arrive.
	acquireDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-acquireDone:
		}
	}()

	resp, err := client.Do(req)
	close(acquireDone)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	boundary, err := streamBoundary(resp)
	if err != nil {
		resp.Body.Close()
		cancel()
		return nil, err
	}

	s := &Stream{
		cancel: cancel,
		body:   resp.Body,
		done:   make(chan struct{}),
	}

	go s.readLoop(boundary)

	slog.Info("camera stream opened", "url", streamURL)
	return s, nil
}

// Grab returns the latest frame if one newer than afterSeq has arrived.
func (s *Stream) Grab(afterSeq uint64) (Frame, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seq == 0 || s.seq <= afterSeq {
		return Frame{}, afterSeq, false
	}
	return s.latest, s.seq, true
}

// Close releases the stream and waits for the reader to exit.
// Safe to call multiple times and from any goroutine.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.body.Close()
		<-s.done
		slog.Info("camera stream closed")
	})
	return nil
}

// Stopped reports whether the stream has ended (closed or failed).
func (s *Stream) Stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Err returns the terminal stream error, if any, once stopped.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Stream) readLoop(boundary string) {
	defer close(s.done)

	reader := multipart.NewReader(s.body, boundary)
	for {
		part, err := reader.NextPart()
		if err != nil {
			if err != io.EOF {
				s.setErr(fmt.Errorf("%w: %v", ErrStopped, err))
				slog.Warn("camera stream read failed", "error", err)
			} else {
				s.setErr(ErrStopped)
			}
			return
		}

		img, err := jpeg.Decode(part)
		// Drain the part so the multipart reader can advance.
		io.Copy(io.Discard, part)
		part.Close()
		if err != nil {
			// A torn frame is not fatal; keep reading.
			slog.Debug("camera frame decode failed", "error", err)
			continue
		}

		s.mu.Lock()
		s.latest = Frame{Image: img, CapturedAt: time.Now()}
		s.seq++
		s.mu.Unlock()
	}
}

func (s *Stream) setErr(err error) {
	s.mu.Lock()
	if s.lastErr == nil {
		s.lastErr = err
	}
	s.mu.Unlock()
}

// streamBoundary validates the response and extracts the multipart boundary.
func streamBoundary(resp *http.Response) (string, error) {
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: camera endpoint returned %s", ErrUnavailable, resp.Status)
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return "", fmt.Errorf("%w: bad content type: %v", ErrUnavailable, err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return "", fmt.Errorf("%w: endpoint is not an MJPEG stream (got %s)", ErrUnavailable, mediaType)
	}
	boundary := params["boundary"]
	if boundary == "" {
		return "", fmt.Errorf("%w: MJPEG stream missing boundary", ErrUnavailable)
	}
	return boundary, nil
}

// withResolutionHint appends preferred-resolution query hints for sources
// that honor them (mjpg-streamer style). Zero values leave the URL untouched.
func withResolutionHint(streamURL string, width, height int) (string, error) {
	if width <= 0 && height <= 0 {
		return streamURL, nil
	}
	u, err := url.Parse(streamURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	if width > 0 && q.Get("width") == "" {
		q.Set("width", strconv.Itoa(width))
	}
	if height > 0 && q.Get("height") == "" {
		q.Set("height", strconv.Itoa(height))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Probe checks whether the camera endpoint is reachable and serves a
// multipart stream, without consuming frames.
func Probe(ctx context.Context, streamURL string) error {
	s, err := Open(ctx, streamURL, 0, 0)
	if err != nil {
		return err
	}
	return s.Close()
}
