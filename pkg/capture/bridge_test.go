package capture

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeCamera hands every delegate to the test instead of firing it
type fakeCamera struct {
	mu        sync.Mutex
	supported map[int]bool
	angles    []int
	shots     chan Delegate
}

func newFakeCamera(supported ...int) *fakeCamera {
	c := &fakeCamera{supported: map[int]bool{}, shots: make(chan Delegate, 4)}
	for _, a := range supported {
		c.supported[a] = true
	}
	return c
}

func (c *fakeCamera) SupportsRotationAngle(angle int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.supported[angle]
}

func (c *fakeCamera) SetRotationAngle(angle int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.angles = append(c.angles, angle)
}

func (c *fakeCamera) CapturePhoto(deliver Delegate) {
	c.shots <- deliver
}

func (c *fakeCamera) appliedAngles() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.angles...)
}

type captureResult struct {
	data []byte
	err  error
}

func startCapture(ctx context.Context, b *Bridge) <-chan captureResult {
	ch := make(chan captureResult, 1)
	go func() {
		data, err := b.Capture(ctx)
		ch <- captureResult{data, err}
	}()
	return ch
}

func waitShot(t *testing.T, cam *fakeCamera) Delegate {
	t.Helper()
	select {
	case d := <-cam.shots:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("camera was never triggered")
		return nil
	}
}

func waitResult(t *testing.T, ch <-chan captureResult) captureResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("capture did not return")
		return captureResult{}
	}
}

func TestCapture_DeliversPhoto(t *testing.T) {
	cam := newFakeCamera(90)
	b := NewBridge(cam, StaticOrientation(OrientationPortrait))

	res := startCapture(context.Background(), b)
	waitShot(t, cam)([]byte("jpeg"), nil)

	r := waitResult(t, res)
	require.NoError(t, r.err)
	assert.Equal(t, []byte("jpeg"), r.data)
	assert.False(t, b.Pending())
	assert.Equal(t, []int{90}, cam.appliedAngles())
}

func TestCapture_SecondCaptureWhilePending(t *testing.T) {
	cam := newFakeCamera()
	b := NewBridge(cam, nil)

	first := startCapture(context.Background(), b)
	deliver := waitShot(t, cam)
	require.True(t, b.Pending())

	_, err := b.Capture(context.Background())
	assert.ErrorIs(t, err, ErrCaptureInProgress)

	// The rejected call never reached the camera
	select {
	case <-cam.shots:
		t.Fatal("second capture triggered the camera")
	default:
	}

	deliver([]byte("first"), nil)
	r := waitResult(t, first)
	require.NoError(t, r.err)
	assert.Equal(t, []byte("first"), r.data)
}

func TestCapture_RepeatedDeliveryIgnored(t *testing.T) {
	cam := newFakeCamera()
	b := NewBridge(cam, nil)

	first := startCapture(context.Background(), b)
	deliverFirst := waitShot(t, cam)
	deliverFirst([]byte("one"), nil)
	assert.Equal(t, []byte("one"), waitResult(t, first).data)

	second := startCapture(context.Background(), b)
	deliverSecond := waitShot(t, cam)

	// A late repeat from the first request must not resolve the second one
	deliverFirst([]byte("stale"), nil)
	assert.True(t, b.Pending())

	deliverSecond([]byte("two"), nil)
	deliverSecond([]byte("two again"), nil)
	assert.Equal(t, []byte("two"), waitResult(t, second).data)
}

func TestCapture_AbandonedDeliveryDropped(t *testing.T) {
	cam := newFakeCamera()
	b := NewBridge(cam, nil)

	ctx, cancel := context.WithCancel(context.Background())
	abandoned := startCapture(ctx, b)
	deliverAbandoned := waitShot(t, cam)

	cancel()
	r := waitResult(t, abandoned)
	assert.ErrorIs(t, r.err, context.Canceled)
	assert.False(t, b.Pending())

	next := startCapture(context.Background(), b)
	deliverNext := waitShot(t, cam)

	deliverAbandoned([]byte("late"), nil)
	deliverNext([]byte("fresh"), nil)

	r = waitResult(t, next)
	require.NoError(t, r.err)
	assert.Equal(t, []byte("fresh"), r.data)
}

func TestCapture_Failures(t *testing.T) {
	cause := errors.New("sensor timeout")

	tests := []struct {
		name    string
		data    []byte
		err     error
		wantErr error
	}{
		{"camera error", nil, cause, ErrCaptureFailed},
		{"empty data", nil, nil, ErrNoImageData},
		{"zero length data", []byte{}, nil, ErrNoImageData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cam := newFakeCamera()
			b := NewBridge(cam, nil)

			res := startCapture(context.Background(), b)
			waitShot(t, cam)(tt.data, tt.err)

			r := waitResult(t, res)
			assert.Nil(t, r.data)
			assert.ErrorIs(t, r.err, tt.wantErr)
			if tt.err != nil {
				assert.ErrorIs(t, r.err, tt.err)
			}
			assert.False(t, b.Pending())
		})
	}
}

func TestCapture_SynchronousCamera(t *testing.T) {
	b := NewBridge(syncCamera{data: []byte("now")}, nil)

	data, err := b.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("now"), data)
}

type syncCamera struct{ data []byte }

func (syncCamera) SupportsRotationAngle(int) bool  { return false }
func (syncCamera) SetRotationAngle(int)            {}
func (c syncCamera) CapturePhoto(deliver Delegate) { deliver(c.data, nil) }

func TestCapture_RotationAngles(t *testing.T) {
	tests := []struct {
		orientation Orientation
		want        int
	}{
		{OrientationPortrait, 90},
		{OrientationPortraitUpsideDown, 270},
		{OrientationLandscapeLeft, 0},
		{OrientationLandscapeRight, 180},
		{OrientationUnknown, 90},
		{OrientationFaceUp, 90},
		{OrientationFaceDown, 90},
	}

	for _, tt := range tests {
		t.Run(tt.orientation.String(), func(t *testing.T) {
			cam := newFakeCamera(0, 90, 180, 270)
			b := NewBridge(cam, StaticOrientation(tt.orientation))

			res := startCapture(context.Background(), b)
			waitShot(t, cam)([]byte("x"), nil)
			waitResult(t, res)

			assert.Equal(t, []int{tt.want}, cam.appliedAngles())
		})
	}
}

func TestCapture_UnsupportedAngleNotApplied(t *testing.T) {
	cam := newFakeCamera(90)
	b := NewBridge(cam, StaticOrientation(OrientationLandscapeRight))

	res := startCapture(context.Background(), b)
	waitShot(t, cam)([]byte("x"), nil)
	waitResult(t, res)

	assert.Empty(t, cam.appliedAngles())
}

func TestParseOrientation(t *testing.T) {
	o, err := ParseOrientation(" Landscape-Left ")
	require.NoError(t, err)
	assert.Equal(t, OrientationLandscapeLeft, o)

	o, err = ParseOrientation("")
	require.NoError(t, err)
	assert.Equal(t, OrientationUnknown, o)

	_, err = ParseOrientation("sideways")
	assert.Error(t, err)
}

func TestCommandCamera(t *testing.T) {
	t.Run("rotation substituted", func(t *testing.T) {
		cam, err := NewCommandCamera("echo rot="+RotationPlaceholder, time.Second*5)
		require.NoError(t, err)

		b := NewBridge(cam, StaticOrientation(OrientationLandscapeRight))
		data, err := b.Capture(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "rot=180", strings.TrimSpace(string(data)))
	})

	t.Run("command fails", func(t *testing.T) {
		cam, err := NewCommandCamera("false", time.Second*5)
		require.NoError(t, err)

		_, err = NewBridge(cam, nil).Capture(context.Background())
		assert.ErrorIs(t, err, ErrCaptureFailed)
	})

	t.Run("no output", func(t *testing.T) {
		cam, err := NewCommandCamera("true", time.Second*5)
		require.NoError(t, err)

		_, err = NewBridge(cam, nil).Capture(context.Background())
		assert.ErrorIs(t, err, ErrNoImageData)
	})

	t.Run("empty command", func(t *testing.T) {
		_, err := NewCommandCamera("   ", 0)
		assert.Error(t, err)
	})
}
