package modelstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/airwatch/internal/tsmodel"
)

type fakeSource struct {
	mu       sync.Mutex
	payloads map[string][]byte
	calls    atomic.Int32
	gate     map[string]chan struct{}
	started  chan string
	err      error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		payloads: make(map[string][]byte),
		gate:     make(map[string]chan struct{}),
		started:  make(chan string, 16),
	}
}

func (f *fakeSource) LoadModelArtifact(city, version string) ([]byte, error) {
	f.calls.Add(1)
	k := city + "@" + version
	f.started <- k
	f.mu.Lock()
	gate := f.gate[k]
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.payloads[k], nil
}

func artifact(t *testing.T, city string, regressors ...string) []byte {
	t.Helper()
	a := tsmodel.Artifact{
		City:             city,
		Version:          "v1",
		LastTrainingDate: "2025-01-10",
		Trend:            tsmodel.Trend{Intercept: 100},
		Sigma:            5,
	}
	for _, r := range regressors {
		a.Regressors = append(a.Regressors, tsmodel.Regressor{Name: r, Coef: 1, Std: 1})
	}
	data, err := json.Marshal(a)
	require.NoError(t, err)
	return data
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoad_CachesInstance(t *testing.T) {
	src := newFakeSource()
	src.payloads["delhi@v1"] = artifact(t, "Delhi", "temperature")
	s := New(src, nil, quietLogger())

	first, err := s.Load(context.Background(), "Delhi", "v1")
	require.NoError(t, err)
	second, err := s.Load(context.Background(), " delhi", "v1")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), src.calls.Load(), "second load must not touch storage")
	assert.Equal(t, 1, s.Len())
}

func TestLoad_NotFound(t *testing.T) {
	s := New(newFakeSource(), nil, quietLogger())

	_, err := s.Load(context.Background(), "Nowhere", "v1")
	assert.ErrorIs(t, err, ErrModelNotFound)
	assert.Zero(t, s.Len())
}

func TestLoad_DecodeFailure(t *testing.T) {
	src := newFakeSource()
	src.payloads["delhi@v1"] = []byte("{broken")
	s := New(src, nil, quietLogger())

	_, err := s.Load(context.Background(), "Delhi", "v1")
	assert.ErrorIs(t, err, ErrModelLoad)
	assert.NotErrorIs(t, err, ErrModelNotFound)
}

func TestLoad_SourceFailure(t *testing.T) {
	src := newFakeSource()
	src.err = errors.New("disk on fire")
	s := New(src, nil, quietLogger())

	_, err := s.Load(context.Background(), "Delhi", "v1")
	assert.ErrorIs(t, err, ErrModelLoad)
	assert.ErrorIs(t, err, src.err)
}

func TestLoad_RegressorMismatchIsLoggedNotFatal(t *testing.T) {
	src := newFakeSource()
	src.payloads["delhi@v1"] = artifact(t, "Delhi", "humidity")
	var buf bytes.Buffer
	s := New(src, []string{"temperature"}, slog.New(slog.NewTextHandler(&buf, nil)))

	m, err := s.Load(context.Background(), "Delhi", "v1")
	require.NoError(t, err)
	assert.Equal(t, []string{"humidity"}, m.RegressorNames())
	assert.Contains(t, buf.String(), "regressor mismatch")
}

func TestLoad_ConcurrentSameCityLoadsOnce(t *testing.T) {
	src := newFakeSource()
	src.payloads["delhi@v1"] = artifact(t, "Delhi")
	release := make(chan struct{})
	src.gate["delhi@v1"] = release
	s := New(src, nil, quietLogger())

	const n = 8
	results := make([]*tsmodel.Model, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, err := s.Load(context.Background(), "Delhi", "v1")
			assert.NoError(t, err)
			results[i] = m
		}(i)
	}

	<-src.started
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), src.calls.Load())
	for _, m := range results {
		assert.Same(t, results[0], m)
	}
}

func TestLoad_DifferentCitiesDoNotBlock(t *testing.T) {
	src := newFakeSource()
	src.payloads["delhi@v1"] = artifact(t, "Delhi")
	src.payloads["mumbai@v1"] = artifact(t, "Mumbai")
	release := make(chan struct{})
	src.gate["delhi@v1"] = release
	s := New(src, nil, quietLogger())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := s.Load(context.Background(), "Delhi", "v1")
		assert.NoError(t, err)
	}()
	require.Equal(t, "delhi@v1", <-src.started)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	m, err := s.Load(ctx, "Mumbai", "v1")
	require.NoError(t, err)
	assert.Equal(t, "Mumbai", m.City())

	close(release)
	<-done
}

func TestLoad_ContextCancelled(t *testing.T) {
	src := newFakeSource()
	src.payloads["delhi@v1"] = artifact(t, "Delhi")
	release := make(chan struct{})
	src.gate["delhi@v1"] = release
	s := New(src, nil, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := s.Load(ctx, "Delhi", "v1")
		errc <- err
	}()
	<-src.started
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
	close(release)
}

func TestInvalidate(t *testing.T) {
	src := newFakeSource()
	src.payloads["delhi@v1"] = artifact(t, "Delhi")
	s := New(src, nil, quietLogger())

	_, err := s.Load(context.Background(), "Delhi", "v1")
	require.NoError(t, err)
	s.Invalidate("DELHI", "v1")
	assert.Zero(t, s.Len())

	_, err = s.Load(context.Background(), "Delhi", "v1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.calls.Load())

	s.InvalidateAll()
	assert.Zero(t, s.Len())
}
