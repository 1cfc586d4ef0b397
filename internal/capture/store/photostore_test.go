package store_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/kitchenflow/kitchenflow-backend/internal/capture/domain"
	"github.com/kitchenflow/kitchenflow-backend/internal/capture/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("p%d", n)
	}
}

func capture(name string, size int64) domain.Capture {
	return domain.Capture{
		Payload:    []byte(name),
		Encoding:   "image/jpeg",
		SourceName: name,
		SizeBytes:  size,
	}
}

func ids(photos []domain.Photo) []string {
	out := make([]string, len(photos))
	for i, p := range photos {
		out[i] = p.ID
	}
	return out
}

func TestInsert_AssignsIdentity(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	s := store.New(store.Options{
		MaxPhotos:    5,
		MaxSizeBytes: 100,
		Now:          func() time.Time { return fixed },
		NewID:        sequentialIDs(),
	})

	p, err := s.Insert(capture("photo-001.jpg", 42))
	require.NoError(t, err)

	assert.Equal(t, "p1", p.ID)
	assert.Equal(t, fixed, p.CapturedAt)
	assert.Equal(t, "photo-001.jpg", p.SourceName)
	assert.Equal(t, int64(42), p.SizeBytes)
	assert.Equal(t, domain.StatusPending, p.Verification.Status)
	assert.Nil(t, p.Verification.Notes)
	assert.NotNil(t, p.Annotations)
	assert.Empty(t, p.Annotations)
}

func TestInsert_SizeDefaultsToPayloadLength(t *testing.T) {
	s := store.New(store.Options{MaxPhotos: 1, MaxSizeBytes: 100})

	p, err := s.Insert(domain.Capture{Payload: []byte("12345"), SourceName: "x"})
	require.NoError(t, err)
	assert.Equal(t, int64(5), p.SizeBytes)
}

func TestInsert_EvictsOldestAtCapacity(t *testing.T) {
	var evicted []string
	s := store.New(store.Options{
		MaxPhotos:    5,
		MaxSizeBytes: 100,
		NewID:        sequentialIDs(),
		OnEvict:      func(p domain.Photo) { evicted = append(evicted, p.ID) },
	})

	for i := 1; i <= 5; i++ {
		_, err := s.Insert(capture(fmt.Sprintf("p%d", i), 10))
		require.NoError(t, err)
	}
	require.Equal(t, []string{"p1", "p2", "p3", "p4", "p5"}, ids(s.All()))

	_, err := s.Insert(capture("p6", 10))
	require.NoError(t, err)

	assert.Equal(t, []string{"p2", "p3", "p4", "p5", "p6"}, ids(s.All()))
	assert.Equal(t, 5, s.Len())
	assert.Equal(t, []string{"p1"}, evicted)
}

func TestInsert_RejectPolicy(t *testing.T) {
	s := store.New(store.Options{MaxPhotos: 2, MaxSizeBytes: 100, RejectWhenFull: true, NewID: sequentialIDs()})

	_, err := s.Insert(capture("a", 1))
	require.NoError(t, err)
	_, err = s.Insert(capture("b", 1))
	require.NoError(t, err)

	_, err = s.Insert(capture("c", 1))
	assert.ErrorIs(t, err, domain.ErrStoreFull)
	assert.Equal(t, []string{"p1", "p2"}, ids(s.All()))
}

func TestInsert_TooLargeLeavesStoreUnchanged(t *testing.T) {
	s := store.New(store.Options{MaxPhotos: 3, MaxSizeBytes: 100, NewID: sequentialIDs()})
	_, err := s.Insert(capture("ok", 100))
	require.NoError(t, err)
	before := s.All()

	_, err = s.Insert(capture("big", 101))

	assert.ErrorIs(t, err, domain.ErrFileTooLarge)
	assert.Equal(t, before, s.All())
}

func TestRemove(t *testing.T) {
	s := store.New(store.Options{MaxPhotos: 3, MaxSizeBytes: 100, NewID: sequentialIDs()})
	for _, name := range []string{"a", "b", "c"} {
		_, err := s.Insert(capture(name, 1))
		require.NoError(t, err)
	}

	assert.True(t, s.Remove("p2"))
	assert.Equal(t, []string{"p1", "p3"}, ids(s.All()))

	assert.False(t, s.Remove("missing"))
	assert.Equal(t, []string{"p1", "p3"}, ids(s.All()))
	assert.False(t, s.Contains("p2"))
}

func TestGet_ReturnsIsolatedCopy(t *testing.T) {
	s := store.New(store.Options{MaxPhotos: 1, MaxSizeBytes: 100, NewID: sequentialIDs()})
	_, err := s.Insert(capture("a", 1))
	require.NoError(t, err)

	p, ok := s.Get("p1")
	require.True(t, ok)
	p.Payload[0] = 'z'
	p.SourceName = "tampered"

	again, _ := s.Get("p1")
	assert.Equal(t, byte('a'), again.Payload[0])
	assert.Equal(t, "a", again.SourceName)

	_, ok = s.Get("missing")
	assert.False(t, ok)
}

func TestUpdates(t *testing.T) {
	s := store.New(store.Options{MaxPhotos: 1, MaxSizeBytes: 100, NewID: sequentialIDs()})
	_, err := s.Insert(capture("a", 1))
	require.NoError(t, err)

	anns := []domain.Annotation{{ID: "a1", Kind: domain.KindText, Text: "wipe here"}}
	require.NoError(t, s.UpdateAnnotations("p1", anns))
	notes := "looks fine"
	require.NoError(t, s.UpdateVerification("p1", domain.Verification{Status: domain.StatusApproved, Notes: &notes}))

	p, _ := s.Get("p1")
	assert.Equal(t, anns, p.Annotations)
	assert.Equal(t, domain.StatusApproved, p.Verification.Status)
	assert.Equal(t, "looks fine", *p.Verification.Notes)

	assert.ErrorIs(t, s.UpdateAnnotations("nope", nil), domain.ErrPhotoNotFound)
	assert.ErrorIs(t, s.UpdateVerification("nope", domain.NewVerification()), domain.ErrPhotoNotFound)
}
