package source_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kitchenflow/kitchenflow-backend/internal/capture/domain"
	"github.com/kitchenflow/kitchenflow-backend/internal/capture/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	frame  source.Frame
	err    error
	closes atomic.Int32
}

func (s *fakeStream) Still(ctx context.Context, quality float64) (source.Frame, error) {
	if s.err != nil {
		return source.Frame{}, s.err
	}
	return s.frame, nil
}

func (s *fakeStream) Close() error {
	s.closes.Add(1)
	return nil
}

// fakeDevice hands out a fresh stream per Open. When gate is set, Open blocks
// until the gate is closed and then returns the stream regardless of ctx.
type fakeDevice struct {
	frame   source.Frame
	openErr error
	gate    chan struct{}

	mu      sync.Mutex
	streams []*fakeStream
}

func (d *fakeDevice) Name() string { return "pass-cam" }

func (d *fakeDevice) Open(ctx context.Context) (source.Stream, error) {
	if d.gate != nil {
		<-d.gate
	}
	if d.openErr != nil {
		return nil, d.openErr
	}
	s := &fakeStream{frame: d.frame}
	d.mu.Lock()
	d.streams = append(d.streams, s)
	d.mu.Unlock()
	return s, nil
}

func (d *fakeDevice) opened() []*fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeStream(nil), d.streams...)
}

func TestDeviceSource_AcquireAndRelease(t *testing.T) {
	dev := &fakeDevice{frame: source.Frame{Data: pngBytes(t, 6, 4), Encoding: "image/png"}}
	src := source.NewDeviceSource(dev, testPolicy, 0.8)

	_, err := src.Acquire(context.Background())
	assert.ErrorIs(t, err, domain.ErrDeviceUnavailable)

	require.NoError(t, src.Open(context.Background()))
	require.NoError(t, src.Open(context.Background()))
	assert.True(t, src.IsOpen())
	require.Len(t, dev.opened(), 1)

	first, err := src.Acquire(context.Background())
	require.NoError(t, err)
	second, err := src.Acquire(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "image/png", first.Encoding)
	assert.Equal(t, 6, first.Width)
	assert.Regexp(t, `^pass-cam-\d{8}-\d{6}-001\.png$`, first.SourceName)
	assert.Regexp(t, `-002\.png$`, second.SourceName)

	require.NoError(t, src.Release())
	require.NoError(t, src.Release())
	assert.False(t, src.IsOpen())
	assert.Equal(t, int32(1), dev.opened()[0].closes.Load())
}

func TestDeviceSource_ReopenAfterRelease(t *testing.T) {
	dev := &fakeDevice{frame: source.Frame{Data: pngBytes(t, 2, 2)}}
	src := source.NewDeviceSource(dev, testPolicy, 1)

	require.NoError(t, src.Open(context.Background()))
	require.NoError(t, src.Release())
	require.NoError(t, src.Open(context.Background()))

	_, err := src.Acquire(context.Background())
	require.NoError(t, err)

	streams := dev.opened()
	require.Len(t, streams, 2)
	assert.Equal(t, int32(1), streams[0].closes.Load())
	assert.Equal(t, int32(0), streams[1].closes.Load())
}

func TestDeviceSource_PermissionDenied(t *testing.T) {
	dev := &fakeDevice{openErr: source.ErrPermissionDenied}
	src := source.NewDeviceSource(dev, testPolicy, 1)

	err := src.Open(context.Background())
	assert.ErrorIs(t, err, domain.ErrDeviceUnavailable)
	assert.ErrorIs(t, err, source.ErrPermissionDenied)
	assert.False(t, src.IsOpen())
}

func TestDeviceSource_CancelledOpenClosesLateStream(t *testing.T) {
	dev := &fakeDevice{gate: make(chan struct{})}
	src := source.NewDeviceSource(dev, testPolicy, 1)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- src.Open(ctx) }()

	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, domain.ErrDeviceUnavailable)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Open did not return after cancellation")
	}
	assert.False(t, src.IsOpen())

	// the device grants access after the caller gave up
	close(dev.gate)

	require.Eventually(t, func() bool {
		streams := dev.opened()
		return len(streams) == 1 && streams[0].closes.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), dev.opened()[0].closes.Load())
}

func TestDeviceSource_StillFailure(t *testing.T) {
	dev := &fakeDevice{}
	src := source.NewDeviceSource(dev, testPolicy, 1)
	require.NoError(t, src.Open(context.Background()))

	dev.opened()[0].err = errors.New("sensor fault")

	_, err := src.Acquire(context.Background())
	assert.ErrorIs(t, err, domain.ErrDeviceUnavailable)
}

func TestDeviceSource_RejectsUnacceptedFrame(t *testing.T) {
	dev := &fakeDevice{frame: source.Frame{Data: []byte("not an image at all")}}
	src := source.NewDeviceSource(dev, testPolicy, 1)
	require.NoError(t, src.Open(context.Background()))

	_, err := src.Acquire(context.Background())
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)
}
