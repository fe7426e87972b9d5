package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-memory implementation of Store.
// This is intended for testing and dry runs. Production should use PostgresStore.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
}

type memState struct {
	pollutants    []Pollutant
	stations      []Station
	readings      map[ReadingKey]Reading
	nextStationID int64
	nextReadingID int64
}

func (s *memState) clone() *memState {
	cpy := &memState{
		pollutants:    append([]Pollutant(nil), s.pollutants...),
		stations:      append([]Station(nil), s.stations...),
		readings:      make(map[ReadingKey]Reading, len(s.readings)),
		nextStationID: s.nextStationID,
		nextReadingID: s.nextReadingID,
	}
	for k, v := range s.readings {
		cpy.readings[k] = v
	}
	return cpy
}

// NewMemoryStore creates an in-memory store seeded with pollutants, or with
// DefaultPollutants when none are given.
func NewMemoryStore(pollutants ...Pollutant) *MemoryStore {
	if len(pollutants) == 0 {
		pollutants = DefaultPollutants
	}
	st := &memState{
		readings:      make(map[ReadingKey]Reading),
		nextStationID: 1,
		nextReadingID: 1,
	}
	for i, p := range pollutants {
		p.ID = int64(i + 1)
		st.pollutants = append(st.pollutants, p)
	}
	return &MemoryStore{state: st}
}

// Begin implements Store. Transactions work on a private copy that replaces
// the store's state on commit; the last commit wins.
func (m *MemoryStore) Begin(_ context.Context) (Tx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &memTx{store: m, state: m.state.clone()}, nil
}

// Ping implements Store.
func (m *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	return nil
}

// Stations returns a copy of the committed stations.
func (m *MemoryStore) Stations() []Station {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Station(nil), m.state.stations...)
}

// Readings returns the committed readings ordered by id.
func (m *MemoryStore) Readings() []Reading {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Reading, 0, len(m.state.readings))
	for _, r := range m.state.readings {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type memTx struct {
	store  *MemoryStore
	parent *memTx
	state  *memState
	done   bool
}

func (t *memTx) Pollutants(_ context.Context) ([]Pollutant, error) {
	if t.done {
		return nil, ErrTxDone
	}
	return append([]Pollutant(nil), t.state.pollutants...), nil
}

func (t *memTx) Stations(_ context.Context) ([]Station, error) {
	if t.done {
		return nil, ErrTxDone
	}
	return append([]Station(nil), t.state.stations...), nil
}

func (t *memTx) FindStationByName(_ context.Context, name string) (Station, error) {
	if t.done {
		return Station{}, ErrTxDone
	}
	for _, s := range t.state.stations {
		if s.Name == name {
			return s, nil
		}
	}
	return Station{}, ErrStationNotFound
}

func (t *memTx) CreateStation(_ context.Context, s Station) (Station, error) {
	if t.done {
		return Station{}, ErrTxDone
	}
	if s.Name == "" {
		return Station{}, fmt.Errorf("%w: station name is required", ErrConstraint)
	}
	s.ID = t.state.nextStationID
	t.state.nextStationID++
	t.state.stations = append(t.state.stations, s)
	return s, nil
}

func (t *memTx) ReadingExists(_ context.Context, key ReadingKey) (bool, error) {
	if t.done {
		return false, ErrTxDone
	}
	key.Datetime = key.Datetime.UTC()
	_, ok := t.state.readings[key]
	return ok, nil
}

func (t *memTx) InsertReading(_ context.Context, r Reading) (int64, error) {
	if t.done {
		return 0, ErrTxDone
	}
	if !t.hasStation(r.StationID) {
		return 0, fmt.Errorf("%w: station %d does not exist", ErrConstraint, r.StationID)
	}
	if !t.hasPollutant(r.PollutantID) {
		return 0, fmt.Errorf("%w: pollutant %d does not exist", ErrConstraint, r.PollutantID)
	}

	r.Datetime = r.Datetime.UTC()
	r.ID = t.state.nextReadingID
	t.state.nextReadingID++
	t.state.readings[r.ReadingKey] = r
	return r.ID, nil
}

func (t *memTx) hasStation(id int64) bool {
	for _, s := range t.state.stations {
		if s.ID == id {
			return true
		}
	}
	return false
}

func (t *memTx) hasPollutant(id int64) bool {
	for _, p := range t.state.pollutants {
		if p.ID == id {
			return true
		}
	}
	return false
}

func (t *memTx) Begin(_ context.Context) (Tx, error) {
	if t.done {
		return nil, ErrTxDone
	}
	return &memTx{store: t.store, parent: t, state: t.state.clone()}, nil
}

func (t *memTx) Commit(_ context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true

	if t.parent != nil {
		t.parent.state = t.state
		return nil
	}

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.state = t.state
	return nil
}

func (t *memTx) Rollback(_ context.Context) error {
	t.done = true
	return nil
}
