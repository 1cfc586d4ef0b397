package service_test

import (
	"bytes"
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/kitchenflow/kitchenflow-backend/internal/capture/domain"
	"github.com/kitchenflow/kitchenflow-backend/internal/capture/events"
	"github.com/kitchenflow/kitchenflow-backend/internal/capture/repository"
	"github.com/kitchenflow/kitchenflow-backend/internal/capture/service"
	"github.com/kitchenflow/kitchenflow-backend/internal/capture/source"
	"github.com/kitchenflow/kitchenflow-backend/pkg/config"
	"github.com/kitchenflow/kitchenflow-backend/pkg/database"
	"github.com/kitchenflow/kitchenflow-backend/pkg/errors"
	"github.com/kitchenflow/kitchenflow-backend/pkg/logger"
	"github.com/kitchenflow/kitchenflow-backend/pkg/messaging"
	"github.com/kitchenflow/kitchenflow-backend/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	device *fakeDevice
}

func (s *fakeStream) Still(ctx context.Context, quality float64) (source.Frame, error) {
	return source.Frame{Data: s.device.frame, Encoding: "image/png"}, nil
}

func (s *fakeStream) Close() error {
	s.device.mu.Lock()
	defer s.device.mu.Unlock()
	s.device.closes++
	return nil
}

type fakeDevice struct {
	frame   []byte
	openErr error

	mu     sync.Mutex
	opens  int
	closes int
}

func (d *fakeDevice) Name() string { return "pass-cam" }

func (d *fakeDevice) Open(ctx context.Context) (source.Stream, error) {
	if d.openErr != nil {
		return nil, d.openErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opens++
	return &fakeStream{device: d}, nil
}

func (d *fakeDevice) counts() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens, d.closes
}

type failingBlobs struct {
	repository.BlobStore
	deleted []string
}

func (f *failingBlobs) Put(ctx context.Context, key string, data []byte, contentType string) error {
	return stderrors.New("bucket unreachable")
}

func (f *failingBlobs) DeletePrefix(ctx context.Context, prefix string) error {
	f.deleted = append(f.deleted, prefix)
	return nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc       *service.CaptureService
	db        *database.DB
	blobs     *repository.DBBlobStore
	publisher *testutil.MockPublisher
	device    *fakeDevice
	clock     *clock
}

func captureConfig() config.CaptureConfig {
	return config.CaptureConfig{
		MaxPhotos:         5,
		MaxSizeBytes:      1 << 20,
		AcceptedEncodings: []string{"image/jpeg", "image/png"},
		CaptureQuality:    0.8,
		OverflowPolicy:    config.OverflowEvictOldest,
		SessionTTL:        30 * time.Minute,
		CommitTimeout:     5 * time.Second,
	}
}

func newFixture(t *testing.T, mutate func(*service.Options)) *fixture {
	t.Helper()

	db, err := database.New(&config.DatabaseConfig{Driver: config.DriverSQLite, Path: ":memory:"}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, repository.EnsureSchema(context.Background(), db))

	f := &fixture{
		db:        db,
		blobs:     repository.NewDBBlobStore(db),
		publisher: testutil.NewMockPublisher(),
		device:    &fakeDevice{frame: testutil.PNG(t, 32, 24)},
		clock:     &clock{now: time.Date(2024, 5, 2, 14, 30, 0, 0, time.UTC)},
	}

	opts := service.Options{
		Capture:    captureConfig(),
		NewDevice:  func(slotID string) source.Device { return f.device },
		Repository: repository.NewEvidenceRepository(db),
		Blobs:      f.blobs,
		Events:     events.NewCaptureEventPublisherWith(f.publisher, logger.Nop()),
		Logger:     logger.Nop(),
		Now:        f.clock.Now,
	}
	if mutate != nil {
		mutate(&opts)
	}
	f.svc = service.NewCaptureService(opts)
	return f
}

func (f *fixture) eventsOfType(eventType string) int {
	n := 0
	for _, e := range f.publisher.Events() {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

func TestCaptureService_UploadReviewCommit(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	sess, err := f.svc.Open(ctx, "restaurant-1", "slot-1", false)
	require.NoError(t, err)

	content := testutil.PNG(t, 40, 30)
	photo, err := f.svc.ImportPhoto(ctx, "restaurant-1", sess.ID(), "counter.png", bytes.NewReader(content), int64(len(content)))
	require.NoError(t, err)
	assert.Equal(t, "image/png", photo.Encoding)
	assert.Equal(t, 40, photo.Width)

	notes := "clean counter"
	v, err := f.svc.SetVerification(ctx, "restaurant-1", sess.ID(), photo.ID, domain.StatusApproved, &notes, "chef-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, v.Status)

	// the same decision again is not a new review
	_, err = f.svc.SetVerification(ctx, "restaurant-1", sess.ID(), photo.ID, domain.StatusApproved, &notes, "chef-2")
	require.NoError(t, err)
	assert.Equal(t, 1, f.eventsOfType(messaging.EventPhotoReviewed))

	set, err := f.svc.Commit(ctx, "restaurant-1", sess.ID(), "chef-1")
	require.NoError(t, err)
	require.Len(t, set.Photos, 1)
	assert.Equal(t, "chef-1", set.CommittedBy)
	assert.Equal(t, 1, f.eventsOfType(messaging.EventEvidenceCommitted))

	_, err = f.svc.Get("restaurant-1", sess.ID())
	assert.True(t, errors.Is(err, errors.ErrNotFound), "committed sessions are forgotten")

	loaded, err := f.svc.LoadEvidence(ctx, "restaurant-1", "slot-1")
	require.NoError(t, err)
	assert.Equal(t, set.ID, loaded.ID)
	require.Len(t, loaded.Photos, 1)
	assert.Equal(t, domain.StatusApproved, loaded.Photos[0].Verification.Status)

	data, encoding, err := f.svc.EvidenceContent(ctx, "restaurant-1", "slot-1", photo.ID)
	require.NoError(t, err)
	assert.Equal(t, content, data)
	assert.Equal(t, "image/png", encoding)

	_, _, err = f.svc.EvidenceContent(ctx, "restaurant-1", "slot-1", "unknown")
	assert.True(t, stderrors.Is(err, domain.ErrPhotoNotFound))
}

func TestCaptureService_ConcurrentIdenticalReviewsPublishOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	sess, err := f.svc.Open(ctx, "restaurant-1", "slot-1", false)
	require.NoError(t, err)
	content := testutil.PNG(t, 16, 16)
	photo, err := f.svc.ImportPhoto(ctx, "restaurant-1", sess.ID(), "sink.png", bytes.NewReader(content), int64(len(content)))
	require.NoError(t, err)

	notes := "sink scrubbed"
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.SetVerification(ctx, "restaurant-1", sess.ID(), photo.ID, domain.StatusApproved, &notes, "chef-1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.eventsOfType(messaging.EventPhotoReviewed))
}

func TestCaptureService_DeviceCaptureReplacesEvidence(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	commit := func() domain.EvidenceSet {
		sess, err := f.svc.Open(ctx, "restaurant-1", "slot-1", true)
		require.NoError(t, err)
		_, err = sess.CapturePhoto(ctx)
		require.NoError(t, err)
		set, err := f.svc.Commit(ctx, "restaurant-1", sess.ID(), "chef-1")
		require.NoError(t, err)
		return set
	}

	first := commit()
	second := commit()

	opens, closes := f.device.counts()
	assert.Equal(t, 2, opens)
	assert.Equal(t, 2, closes, "commit releases the camera")

	_, err := f.blobs.Get(ctx, repository.BlobKey("restaurant-1", "slot-1", first.ID, first.Photos[0].ID))
	assert.ErrorIs(t, err, repository.ErrBlobNotFound, "replaced evidence blobs are deleted")

	_, err = f.blobs.Get(ctx, repository.BlobKey("restaurant-1", "slot-1", second.ID, second.Photos[0].ID))
	assert.NoError(t, err)
}

func TestCaptureService_OneOpenSessionPerSlot(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.svc.Open(ctx, "restaurant-1", "slot-1", false)
	require.NoError(t, err)

	_, err = f.svc.Open(ctx, "restaurant-1", "slot-1", false)
	assert.True(t, errors.Is(err, errors.ErrConflict))

	_, err = f.svc.Open(ctx, "restaurant-2", "slot-1", false)
	assert.NoError(t, err, "slots are per tenant")

	require.NoError(t, f.svc.Discard("restaurant-1", first.ID()))
	_, err = f.svc.Open(ctx, "restaurant-1", "slot-1", false)
	assert.NoError(t, err, "a discarded session frees the slot")
}

func TestCaptureService_TenantIsolation(t *testing.T) {
	f := newFixture(t, nil)

	sess, err := f.svc.Open(context.Background(), "restaurant-1", "slot-1", false)
	require.NoError(t, err)

	_, err = f.svc.Get("restaurant-2", sess.ID())
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	assert.True(t, errors.Is(f.svc.Discard("restaurant-2", sess.ID()), errors.ErrNotFound))
}

func TestCaptureService_DeviceUnavailable(t *testing.T) {
	t.Run("no camera configured", func(t *testing.T) {
		f := newFixture(t, func(o *service.Options) { o.NewDevice = nil })

		_, err := f.svc.Open(context.Background(), "restaurant-1", "slot-1", true)
		assert.True(t, stderrors.Is(err, domain.ErrDeviceUnavailable))
		assert.Equal(t, 0, f.svc.Count())
	})

	t.Run("permission denied frees the slot", func(t *testing.T) {
		f := newFixture(t, nil)
		f.device.openErr = source.ErrPermissionDenied

		_, err := f.svc.Open(context.Background(), "restaurant-1", "slot-1", true)
		assert.True(t, stderrors.Is(err, domain.ErrDeviceUnavailable))
		assert.Equal(t, 0, f.svc.Count())

		f.device.openErr = nil
		_, err = f.svc.Open(context.Background(), "restaurant-1", "slot-1", true)
		assert.NoError(t, err)
	})
}

func TestCaptureService_FailedPersistKeepsSessionOpen(t *testing.T) {
	blobs := &failingBlobs{}
	f := newFixture(t, func(o *service.Options) { o.Blobs = blobs })
	ctx := context.Background()

	sess, err := f.svc.Open(ctx, "restaurant-1", "slot-1", true)
	require.NoError(t, err)
	_, err = sess.CapturePhoto(ctx)
	require.NoError(t, err)

	_, err = f.svc.Commit(ctx, "restaurant-1", sess.ID(), "chef-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket unreachable")
	require.Len(t, blobs.deleted, 1, "partial uploads are cleaned up")

	assert.False(t, sess.Closed())
	photos, err := sess.Photos()
	require.NoError(t, err)
	assert.Len(t, photos, 1)
	assert.Equal(t, 0, f.eventsOfType(messaging.EventEvidenceCommitted))

	_, err = f.svc.LoadEvidence(ctx, "restaurant-1", "slot-1")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestCaptureService_Reap(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	idle, err := f.svc.Open(ctx, "restaurant-1", "slot-1", true)
	require.NoError(t, err)

	f.clock.Advance(20 * time.Minute)
	busy, err := f.svc.Open(ctx, "restaurant-1", "slot-2", false)
	require.NoError(t, err)

	assert.Equal(t, 0, f.svc.Reap(f.clock.Now()))

	f.clock.Advance(15 * time.Minute)
	assert.Equal(t, 1, f.svc.Reap(f.clock.Now()))

	assert.True(t, idle.Closed())
	assert.False(t, busy.Closed())
	_, closes := f.device.counts()
	assert.Equal(t, 1, closes, "reaping releases the camera")

	_, err = f.svc.Get("restaurant-1", idle.ID())
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	assert.Equal(t, 1, f.svc.Count())
}

func TestCaptureService_DiscardSlot(t *testing.T) {
	f := newFixture(t, nil)

	found, err := f.svc.DiscardSlot("restaurant-1", "slot-1")
	require.NoError(t, err)
	assert.False(t, found)

	sess, err := f.svc.Open(context.Background(), "restaurant-1", "slot-1", true)
	require.NoError(t, err)

	found, err = f.svc.DiscardSlot("restaurant-1", "slot-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, sess.Closed())
	assert.Equal(t, 0, f.svc.Count())
}

func TestCaptureService_Shutdown(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Open(context.Background(), "restaurant-1", "slot-1", true)
	require.NoError(t, err)

	f.svc.Shutdown()

	opens, closes := f.device.counts()
	assert.Equal(t, opens, closes)
	assert.Equal(t, 0, f.svc.Count())
}

func TestSessionReaper_StartStop(t *testing.T) {
	f := newFixture(t, nil)

	r := service.NewSessionReaper(f.svc, 10*time.Millisecond, logger.Nop())
	r.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	r.Stop()
}
