package artifact

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timebloom/backend/pkg/retry"
)

type payload struct {
	Weights []float64
	Label   string
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Load(ctx, ModelName)
	assert.ErrorIs(t, err, ErrNotFound)

	blob := []byte{1, 2, 3}
	require.NoError(t, s.Save(ctx, ModelName, blob))
	blob[0] = 9

	got, err := s.Load(ctx, ModelName)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got, "stored blob is isolated from caller mutations")

	require.NoError(t, s.Save(ctx, ModelName, []byte{4}))
	got, err = s.Load(ctx, ModelName)
	require.NoError(t, err)
	assert.Equal(t, []byte{4}, got)
}

func TestCodec_RoundTrip(t *testing.T) {
	in := payload{Weights: []float64{0.1, 0.2, 0.3}, Label: "forest"}
	blob, err := Encode(in, Metadata{Name: ModelName, Version: 4, Samples: 12})
	require.NoError(t, err)

	var out payload
	meta, err := Decode(blob, &out)
	require.NoError(t, err)

	assert.Equal(t, in, out)
	assert.Equal(t, ModelName, meta.Name)
	assert.Equal(t, 4, meta.Version)
	assert.Equal(t, 12, meta.Samples)
	assert.NotEmpty(t, meta.Checksum)
	assert.False(t, meta.SavedAt.IsZero())
}

func TestCodec_RejectsGarbageAndTampering(t *testing.T) {
	var out payload
	_, err := Decode([]byte("definitely not gob"), &out)
	assert.ErrorIs(t, err, ErrCorrupt)

	blob, err := Encode(payload{Label: "x"}, Metadata{Name: ScalerName})
	require.NoError(t, err)

	tampered := append([]byte(nil), blob...)
	tampered[len(tampered)-3] ^= 0xFF
	_, err = Decode(tampered, &out)
	assert.ErrorIs(t, err, ErrCorrupt)
}

type flakyStore struct {
	mu       sync.Mutex
	failures int
	calls    int
	inner    *MemoryStore
}

func (f *flakyStore) Save(ctx context.Context, name string, blob []byte) error {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mu.Unlock()
	if fail {
		return errors.New("connection reset")
	}
	return f.inner.Save(ctx, name, blob)
}

func (f *flakyStore) Load(ctx context.Context, name string) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mu.Unlock()
	if fail {
		return nil, errors.New("connection reset")
	}
	return f.inner.Load(ctx, name)
}

func fastRetry(attempts int) retry.Config {
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = attempts
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = time.Millisecond
	cfg.JitterFraction = 0
	return cfg
}

func TestResilient_RetriesTransientFailures(t *testing.T) {
	backend := &flakyStore{failures: 2, inner: NewMemoryStore()}
	r := NewResilient(backend, ResilientConfig{Name: "test-retry", Retry: fastRetry(3)})

	require.NoError(t, r.Save(context.Background(), ModelName, []byte("m")))
	assert.Equal(t, 3, backend.calls)

	got, err := r.Load(context.Background(), ModelName)
	require.NoError(t, err)
	assert.Equal(t, []byte("m"), got)
}

func TestResilient_NotFoundIsNotRetriedOrCounted(t *testing.T) {
	backend := &flakyStore{inner: NewMemoryStore()}
	r := NewResilient(backend, ResilientConfig{Name: "test-notfound", FailureThreshold: 1, Retry: fastRetry(3)})

	for i := 0; i < 5; i++ {
		_, err := r.Load(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	}
	assert.Equal(t, 5, backend.calls)
	assert.Equal(t, gobreaker.StateClosed, r.State())
}

func TestResilient_BreakerOpens(t *testing.T) {
	backend := &flakyStore{failures: 100, inner: NewMemoryStore()}
	r := NewResilient(backend, ResilientConfig{
		Name:             "test-open",
		FailureThreshold: 2,
		OpenTimeout:      time.Minute,
		Retry:            fastRetry(1),
	})

	ctx := context.Background()
	assert.Error(t, r.Save(ctx, ModelName, nil))
	assert.Error(t, r.Save(ctx, ModelName, nil))
	assert.Equal(t, gobreaker.StateOpen, r.State())

	err := r.Save(ctx, ModelName, nil)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, backend.calls, "open breaker short-circuits the backend")
}
