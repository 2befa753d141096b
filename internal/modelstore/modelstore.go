// Package modelstore loads fitted forecasting models and caches them per
// (city, version) for the life of the process.
package modelstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lox/airwatch/internal/metrics"
	"github.com/lox/airwatch/internal/store"
	"github.com/lox/airwatch/internal/tsmodel"
)

var (
	ErrModelNotFound = errors.New("model not found")
	ErrModelLoad     = errors.New("model load failed")
)

// ArtifactSource reads serialized models. A nil payload with a nil error
// means no artifact exists.
type ArtifactSource interface {
	LoadModelArtifact(city, version string) ([]byte, error)
}

type key struct {
	city    string
	version string
}

func (k key) String() string { return k.city + "@" + k.version }

// Store is safe for concurrent use. Concurrent first loads of one key share a
// single read; loads of different keys proceed independently.
type Store struct {
	source     ArtifactSource
	configured []string
	logger     *slog.Logger

	mu     sync.RWMutex
	models map[key]*tsmodel.Model
	group  singleflight.Group
}

// New returns an empty cache over source. configured lists the regressors
// the deployment expects; a model fit with different ones is logged, and the
// model's own list wins.
func New(source ArtifactSource, configured []string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		source:     source,
		configured: append([]string(nil), configured...),
		logger:     logger,
		models:     make(map[key]*tsmodel.Model),
	}
}

// Load returns the cached model for (city, version), reading it from the
// source on first use.
func (s *Store) Load(ctx context.Context, city, version string) (*tsmodel.Model, error) {
	k := key{city: store.NormalizeCity(city), version: version}

	if m := s.cached(k); m != nil {
		metrics.ModelCacheTotal.WithLabelValues("hit").Inc()
		return m, nil
	}
	metrics.ModelCacheTotal.WithLabelValues("miss").Inc()

	ch := s.group.DoChan(k.String(), func() (any, error) {
		if m := s.cached(k); m != nil {
			return m, nil
		}
		m, err := s.read(k)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.models[k] = m
		s.mu.Unlock()
		return m, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*tsmodel.Model), nil
	}
}

// Invalidate evicts one cached model.
func (s *Store) Invalidate(city, version string) {
	s.mu.Lock()
	delete(s.models, key{city: store.NormalizeCity(city), version: version})
	s.mu.Unlock()
}

func (s *Store) InvalidateAll() {
	s.mu.Lock()
	s.models = make(map[key]*tsmodel.Model)
	s.mu.Unlock()
}

// Len reports the number of cached models.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.models)
}

func (s *Store) cached(k key) *tsmodel.Model {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.models[k]
}

func (s *Store) read(k key) (*tsmodel.Model, error) {
	start := time.Now()
	payload, err := s.source.LoadModelArtifact(k.city, k.version)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrModelLoad, k, err)
	}
	if payload == nil {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, k)
	}

	m, err := tsmodel.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrModelLoad, k, err)
	}
	metrics.ModelLoadDuration.Observe(time.Since(start).Seconds())

	if len(s.configured) > 0 && !sameSet(s.configured, m.RegressorNames()) {
		s.logger.Warn("modelstore: regressor mismatch, using model's own",
			"model", k.String(),
			"configured", s.configured,
			"model_regressors", m.RegressorNames())
	}
	s.logger.Info("modelstore: loaded model",
		"model", k.String(),
		"last_training_date", m.LastTrainingDate().Format("2006-01-02"),
		"regressors", len(m.RegressorNames()))
	return m, nil
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	a = slices.Clone(a)
	b = slices.Clone(b)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}
