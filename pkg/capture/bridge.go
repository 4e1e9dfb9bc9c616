// Package capture turns a callback-driven camera into a blocking call that
// returns the photo bytes or an error.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrCaptureInProgress is returned when a capture is requested while
	// another one on the same bridge has not completed
	ErrCaptureInProgress = errors.New("capture: another capture is in progress")
	// ErrCaptureFailed wraps the error reported by the camera
	ErrCaptureFailed = errors.New("capture: camera reported an error")
	// ErrNoImageData is returned when the camera delivers no bytes
	ErrNoImageData = errors.New("capture: no image data")
)

// Delegate receives the outcome of a single CapturePhoto call
type Delegate func(data []byte, err error)

// Camera is the hardware collaborator. CapturePhoto must return promptly and
// call deliver later, possibly from another goroutine.
type Camera interface {
	SupportsRotationAngle(angle int) bool
	SetRotationAngle(angle int)
	CapturePhoto(deliver Delegate)
}

// OrientationSource reports the current device orientation
type OrientationSource interface {
	Orientation() Orientation
}

type outcome struct {
	data []byte
	err  error
}

// request is the delivery target of one Capture call
type request struct {
	done     chan outcome
	consumed bool
}

// Bridge serialises captures on one camera
type Bridge struct {
	camera      Camera
	orientation OrientationSource

	mu      sync.Mutex
	pending *request
}

// NewBridge creates a bridge. A nil orientation source behaves as Unknown.
func NewBridge(camera Camera, orientation OrientationSource) *Bridge {
	if orientation == nil {
		orientation = StaticOrientation(OrientationUnknown)
	}
	return &Bridge{camera: camera, orientation: orientation}
}

// Capture takes one photo. It returns ErrCaptureInProgress without touching
// the camera if another capture is pending, and ctx.Err() if ctx ends first;
// a photo delivered after that is dropped.
func (b *Bridge) Capture(ctx context.Context) ([]byte, error) {
	b.mu.Lock()
	if b.pending != nil {
		b.mu.Unlock()
		return nil, ErrCaptureInProgress
	}
	req := &request{done: make(chan outcome, 1)}
	b.pending = req
	b.mu.Unlock()

	angle := b.orientation.Orientation().RotationAngle()
	if b.camera.SupportsRotationAngle(angle) {
		b.camera.SetRotationAngle(angle)
	}

	b.camera.CapturePhoto(func(data []byte, err error) {
		b.deliver(req, data, err)
	})

	select {
	case out := <-req.done:
		return out.data, out.err
	case <-ctx.Done():
		b.abandon(req)
		return nil, ctx.Err()
	}
}

// Pending reports whether a capture is outstanding
func (b *Bridge) Pending() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending != nil
}

// deliver resolves req exactly once and frees the slot in the same critical section
func (b *Bridge) deliver(req *request, data []byte, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if req.consumed {
		return
	}
	req.consumed = true
	if b.pending == req {
		b.pending = nil
	}

	var out outcome
	switch {
	case err != nil:
		out.err = fmt.Errorf("%w: %w", ErrCaptureFailed, err)
	case len(data) == 0:
		out.err = ErrNoImageData
	default:
		out.data = data
	}
	req.done <- out
}

func (b *Bridge) abandon(req *request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	req.consumed = true
	if b.pending == req {
		b.pending = nil
	}
}
