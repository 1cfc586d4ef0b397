package source

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// maxFrameBytes caps a single camera response
const maxFrameBytes = 64 << 20

// SnapshotDevice is a network kitchen camera that serves its current frame
// as a still image over HTTP.
type SnapshotDevice struct {
	name     string
	endpoint string
	username string
	password string
	client   *http.Client
}

// NewSnapshotDevice creates a device for the camera at endpoint. Basic auth
// is sent when username is set.
func NewSnapshotDevice(name, endpoint, username, password string, timeout time.Duration) *SnapshotDevice {
	return &SnapshotDevice{
		name:     name,
		endpoint: endpoint,
		username: username,
		password: password,
		client:   &http.Client{Timeout: timeout},
	}
}

// Name returns the label used in generated file names.
func (d *SnapshotDevice) Name() string {
	return d.name
}

// Open checks that the camera answers and grants access.
func (d *SnapshotDevice) Open(ctx context.Context) (Stream, error) {
	resp, err := d.get(ctx, nil)
	if err != nil {
		return nil, err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxFrameBytes))
	resp.Body.Close()

	return &snapshotStream{device: d}, nil
}

// get performs a snapshot request and maps access failures.
func (d *SnapshotDevice) get(ctx context.Context, query url.Values) (*http.Response, error) {
	target := d.endpoint
	if len(query) > 0 {
		u, err := url.Parse(d.endpoint)
		if err != nil {
			return nil, fmt.Errorf("invalid snapshot url: %w", err)
		}
		q := u.Query()
		for k, v := range query {
			q[k] = v
		}
		u.RawQuery = q.Encode()
		target = u.String()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build snapshot request: %w", err)
	}
	if d.username != "" {
		req.SetBasicAuth(d.username, d.password)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("camera %s unreachable: %w", d.name, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return nil, ErrPermissionDenied
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		resp.Body.Close()
		return nil, fmt.Errorf("camera %s responded with status %d", d.name, resp.StatusCode)
	}
	return resp, nil
}

type snapshotStream struct {
	device *SnapshotDevice

	mu     sync.Mutex
	closed bool
}

// Still fetches the current frame. Frames that are not JPEG are re-encoded
// to JPEG at the requested quality.
func (s *snapshotStream) Still(ctx context.Context, quality float64) (Frame, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return Frame{}, fmt.Errorf("camera %s stream is closed", s.device.name)
	}

	q := jpegQuality(quality)
	resp, err := s.device.get(ctx, url.Values{"quality": []string{strconv.Itoa(q)}})
	if err != nil {
		return Frame{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFrameBytes))
	if err != nil {
		return Frame{}, fmt.Errorf("failed to read frame: %w", err)
	}

	if mimetype.Detect(data).Is("image/jpeg") {
		return Frame{Data: data, Encoding: "image/jpeg"}, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Frame{}, fmt.Errorf("camera %s sent an undecodable frame: %w", s.device.name, err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
		return Frame{}, fmt.Errorf("failed to encode frame: %w", err)
	}
	return Frame{Data: buf.Bytes(), Encoding: "image/jpeg"}, nil
}

func (s *snapshotStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("camera %s stream already closed", s.device.name)
	}
	s.closed = true
	return nil
}

// jpegQuality maps 0..1 onto the 1..100 JPEG scale.
func jpegQuality(quality float64) int {
	q := int(math.Round(quality * 100))
	if q < 1 {
		return 1
	}
	if q > 100 {
		return 100
	}
	return q
}
