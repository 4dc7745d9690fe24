package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	loudness "loudness-monitor/internal/loudness/domain"
)

// Store is an in-memory stream registry and measurement log for demo/testing.
// It implements StreamRepository, MeasurementRepository and Transactor.
type Store struct {
	mu           sync.RWMutex
	streams      []loudness.Stream
	byURL        map[string]loudness.StreamID
	measurements []loudness.Measurement
	keys         map[loudness.Key]struct{}
	nextStream   loudness.StreamID
	nextID       int64
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		byURL: make(map[string]loudness.StreamID),
		keys:  make(map[loudness.Key]struct{}),
	}
}

// List returns streams ordered by id.
func (s *Store) List(ctx context.Context) ([]loudness.Stream, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]loudness.Stream, len(s.streams))
	copy(out, s.streams)
	return out, nil
}

// Upsert registers a stream by mcast_url or refreshes the existing one.
func (s *Store) Upsert(ctx context.Context, stream loudness.Stream) (loudness.StreamID, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked(stream)
}

func (s *Store) upsertLocked(stream loudness.Stream) (loudness.StreamID, error) {
	if err := stream.Validate(); err != nil {
		return 0, err
	}
	url := strings.TrimSpace(stream.McastURL)
	if id, ok := s.byURL[url]; ok {
		for i := range s.streams {
			if s.streams[i].ID == id {
				s.streams[i].Name = stream.Name
				s.streams[i].Node = stream.Node
				s.streams[i].Profile = stream.Profile
			}
		}
		return id, nil
	}
	s.nextStream++
	stream.ID = s.nextStream
	stream.McastURL = url
	s.streams = append(s.streams, stream)
	s.byURL[url] = stream.ID
	return stream.ID, nil
}

// Insert appends a measurement; a duplicate (stream_id, timestamp) is ignored.
func (s *Store) Insert(ctx context.Context, m loudness.Measurement) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(m)
}

func (s *Store) insertLocked(m loudness.Measurement) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if !s.hasStreamLocked(m.StreamID) {
		return loudness.WrapStore("measurements.insert", errors.New("unknown stream_id"))
	}
	m.Timestamp = m.Timestamp.UTC()
	if _, dup := s.keys[m.Key()]; dup {
		return nil
	}
	s.nextID++
	m.ID = s.nextID
	s.keys[m.Key()] = struct{}{}

	idx := sort.Search(len(s.measurements), func(i int) bool {
		return lessMeasurement(m, s.measurements[i])
	})
	s.measurements = append(s.measurements, loudness.Measurement{})
	copy(s.measurements[idx+1:], s.measurements[idx:])
	s.measurements[idx] = m
	return nil
}

func (s *Store) hasStreamLocked(id loudness.StreamID) bool {
	for _, stream := range s.streams {
		if stream.ID == id {
			return true
		}
	}
	return false
}

// Select returns measurements matching the query.
func (s *Store) Select(ctx context.Context, q loudness.MeasurementQuery) ([]loudness.Measurement, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]loudness.Measurement, 0)
	visit := func(m loudness.Measurement) bool {
		if !matchQuery(m, q) {
			return true
		}
		matches = append(matches, m)
		return q.Limit <= 0 || len(matches) < q.Limit
	}

	if q.Order == loudness.OrderDesc {
		for i := len(s.measurements) - 1; i >= 0; i-- {
			if !visit(s.measurements[i]) {
				break
			}
		}
		return matches, nil
	}
	for _, m := range s.measurements {
		if !visit(m) {
			break
		}
	}
	return matches, nil
}

// WithinTx applies fn atomically: on error every change made by fn is discarded.
func (s *Store) WithinTx(ctx context.Context, fn func(streams loudness.StreamRepository, measurements loudness.MeasurementRepository) error) error {
	_ = ctx
	if fn == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.snapshotLocked()
	tx := &txStore{store: s}
	if err := fn(tx, tx); err != nil {
		s.restoreLocked(snapshot)
		return err
	}
	return nil
}

type storeSnapshot struct {
	streams      []loudness.Stream
	byURL        map[string]loudness.StreamID
	measurements []loudness.Measurement
	keys         map[loudness.Key]struct{}
	nextStream   loudness.StreamID
	nextID       int64
}

func (s *Store) snapshotLocked() storeSnapshot {
	snap := storeSnapshot{
		streams:      append([]loudness.Stream(nil), s.streams...),
		byURL:        make(map[string]loudness.StreamID, len(s.byURL)),
		measurements: append([]loudness.Measurement(nil), s.measurements...),
		keys:         make(map[loudness.Key]struct{}, len(s.keys)),
		nextStream:   s.nextStream,
		nextID:       s.nextID,
	}
	for k, v := range s.byURL {
		snap.byURL[k] = v
	}
	for k := range s.keys {
		snap.keys[k] = struct{}{}
	}
	return snap
}

func (s *Store) restoreLocked(snap storeSnapshot) {
	s.streams = snap.streams
	s.byURL = snap.byURL
	s.measurements = snap.measurements
	s.keys = snap.keys
	s.nextStream = snap.nextStream
	s.nextID = snap.nextID
}

// txStore exposes the locked store to a WithinTx callback.
type txStore struct {
	store *Store
}

func (t *txStore) List(ctx context.Context) ([]loudness.Stream, error) {
	_ = ctx
	out := make([]loudness.Stream, len(t.store.streams))
	copy(out, t.store.streams)
	return out, nil
}

func (t *txStore) Upsert(ctx context.Context, stream loudness.Stream) (loudness.StreamID, error) {
	_ = ctx
	return t.store.upsertLocked(stream)
}

func (t *txStore) Insert(ctx context.Context, m loudness.Measurement) error {
	_ = ctx
	return t.store.insertLocked(m)
}

func (t *txStore) Select(ctx context.Context, q loudness.MeasurementQuery) ([]loudness.Measurement, error) {
	_ = ctx
	out := make([]loudness.Measurement, 0)
	for _, m := range t.store.measurements {
		if matchQuery(m, q) {
			out = append(out, m)
		}
	}
	if q.Order == loudness.OrderDesc {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func matchQuery(m loudness.Measurement, q loudness.MeasurementQuery) bool {
	if !q.From.IsZero() && m.Timestamp.Before(q.From) {
		return false
	}
	if !q.Until.IsZero() && !m.Timestamp.Before(q.Until) {
		return false
	}
	if !q.After.IsZero() && !m.Timestamp.After(q.After) {
		return false
	}
	if q.StreamID != 0 && m.StreamID != q.StreamID {
		return false
	}
	if q.Status != "" && m.Status != q.Status {
		return false
	}
	if q.Cursor != nil && !lessMeasurement(loudness.Measurement{Timestamp: q.Cursor.Timestamp, ID: q.Cursor.ID}, m) {
		return false
	}
	return true
}

func lessMeasurement(a, b loudness.Measurement) bool {
	if a.Timestamp.Equal(b.Timestamp) {
		return a.ID < b.ID
	}
	return a.Timestamp.Before(b.Timestamp)
}
