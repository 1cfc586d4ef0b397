package source

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kitchenflow/kitchenflow-backend/internal/capture/domain"
)

// ErrPermissionDenied is returned by devices when the OS or the camera
// refuses access.
var ErrPermissionDenied = errors.New("camera permission denied")

// Frame is one still read from a device stream.
type Frame struct {
	Data     []byte
	Encoding string
}

// Stream is an open device. Close must be called exactly once.
type Stream interface {
	Still(ctx context.Context, quality float64) (Frame, error)
	Close() error
}

// Device opens streams. Open may block while permission is negotiated and
// must honor ctx.
type Device interface {
	Name() string
	Open(ctx context.Context) (Stream, error)
}

// DeviceSource holds at most one open stream of a device. Every stream it
// obtains is closed exactly once: by Release, or immediately when Open fails
// or is cancelled, even if the device hands the stream over late.
type DeviceSource struct {
	device  Device
	policy  Policy
	quality float64
	now     func() time.Time

	mu     sync.Mutex
	stream Stream
	seq    int
}

// NewDeviceSource wraps device. quality is passed to every still (0 to 1).
func NewDeviceSource(device Device, policy Policy, quality float64) *DeviceSource {
	return &DeviceSource{
		device:  device,
		policy:  policy,
		quality: quality,
		now:     time.Now,
	}
}

type openResult struct {
	stream Stream
	err    error
}

// Open acquires the device. Opening an already open source is a no-op.
func (d *DeviceSource) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stream != nil {
		return nil
	}

	done := make(chan openResult, 1)
	go func() {
		stream, err := d.device.Open(ctx)
		done <- openResult{stream: stream, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			closeQuietly(res.stream)
			return domain.DeviceUnavailable(res.err)
		}
		if res.stream == nil {
			return domain.DeviceUnavailable(fmt.Errorf("%s returned no stream", d.device.Name()))
		}
		if err := ctx.Err(); err != nil {
			closeQuietly(res.stream)
			return domain.DeviceUnavailable(err)
		}
		d.stream = res.stream
		return nil

	case <-ctx.Done():
		go func() {
			closeQuietly((<-done).stream)
		}()
		return domain.DeviceUnavailable(ctx.Err())
	}
}

// Acquire takes one still from the open stream.
func (d *DeviceSource) Acquire(ctx context.Context) (domain.Capture, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stream == nil {
		return domain.Capture{}, domain.DeviceUnavailable(fmt.Errorf("%s is not open", d.device.Name()))
	}

	frame, err := d.stream.Still(ctx, d.quality)
	if err != nil {
		return domain.Capture{}, domain.DeviceUnavailable(err)
	}

	encoding, cfg, err := d.policy.check(frame.Data)
	if err != nil {
		return domain.Capture{}, err
	}

	d.seq++
	name := fmt.Sprintf("%s-%s-%03d%s",
		d.device.Name(), d.now().UTC().Format("20060102-150405"), d.seq, extension(encoding))

	return domain.Capture{
		Payload:    frame.Data,
		Encoding:   encoding,
		SourceName: name,
		SizeBytes:  int64(len(frame.Data)),
		Width:      cfg.Width,
		Height:     cfg.Height,
	}, nil
}

// Release closes the open stream, if any. The source can be opened again.
func (d *DeviceSource) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stream == nil {
		return nil
	}
	stream := d.stream
	d.stream = nil

	if err := stream.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", d.device.Name(), err)
	}
	return nil
}

// IsOpen reports whether a stream is held.
func (d *DeviceSource) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stream != nil
}

func closeQuietly(s Stream) {
	if s != nil {
		_ = s.Close()
	}
}
