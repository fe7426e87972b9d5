package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqplatform/ingestion/internal/store"
)

// testStoreContract exercises behavior every Store implementation must share.
func testStoreContract(t *testing.T, open func(t *testing.T) store.Store) {
	ctx := context.Background()
	ts := time.Date(2019, 10, 2, 0, 0, 0, 0, time.UTC)

	pollutantID := func(t *testing.T, tx store.Tx, name string) int64 {
		t.Helper()
		pollutants, err := tx.Pollutants(ctx)
		require.NoError(t, err)
		for _, p := range pollutants {
			if p.Name == name {
				return p.ID
			}
		}
		t.Fatalf("pollutant %s not seeded", name)
		return 0
	}

	t.Run("seeded catalog", func(t *testing.T) {
		s := open(t)
		tx, err := s.Begin(ctx)
		require.NoError(t, err)
		defer tx.Rollback(ctx)

		pollutants, err := tx.Pollutants(ctx)
		require.NoError(t, err)
		names := make([]string, 0, len(pollutants))
		for _, p := range pollutants {
			names = append(names, p.Name)
		}
		assert.ElementsMatch(t, []string{"PM2.5", "PM10", "O3", "NO2", "SO2", "CO"}, names)
		assert.NoError(t, s.Ping(ctx))
	})

	t.Run("create and find station", func(t *testing.T) {
		s := open(t)
		tx, err := s.Begin(ctx)
		require.NoError(t, err)

		created, err := tx.CreateStation(ctx, store.Station{
			Name: "Carvajal", Latitude: 4.5953, Longitude: -74.1488, City: "Bogotá", Country: "Colombia",
		})
		require.NoError(t, err)
		assert.NotZero(t, created.ID)

		found, err := tx.FindStationByName(ctx, "Carvajal")
		require.NoError(t, err)
		assert.Equal(t, created, found)

		_, err = tx.FindStationByName(ctx, "carvajal")
		assert.ErrorIs(t, err, store.ErrStationNotFound)

		require.NoError(t, tx.Commit(ctx))

		tx, err = s.Begin(ctx)
		require.NoError(t, err)
		defer tx.Rollback(ctx)
		stations, err := tx.Stations(ctx)
		require.NoError(t, err)
		require.Len(t, stations, 1)
		assert.Equal(t, "Bogotá", stations[0].City)
	})

	t.Run("inserted readings are visible within the transaction", func(t *testing.T) {
		s := open(t)
		tx, err := s.Begin(ctx)
		require.NoError(t, err)
		defer tx.Rollback(ctx)

		st, err := tx.CreateStation(ctx, store.Station{Name: "Suba", City: "Bogotá", Country: "Colombia"})
		require.NoError(t, err)

		key := store.ReadingKey{StationID: st.ID, PollutantID: pollutantID(t, tx, "PM2.5"), Datetime: ts}
		exists, err := tx.ReadingExists(ctx, key)
		require.NoError(t, err)
		assert.False(t, exists)

		aqi := 63
		id, err := tx.InsertReading(ctx, store.Reading{ReadingKey: key, Value: 18, AQI: &aqi})
		require.NoError(t, err)
		assert.NotZero(t, id)

		exists, err = tx.ReadingExists(ctx, key)
		require.NoError(t, err)
		assert.True(t, exists)

		other := key
		other.Datetime = ts.Add(time.Hour)
		exists, err = tx.ReadingExists(ctx, other)
		require.NoError(t, err)
		assert.False(t, exists)

		_, err = tx.InsertReading(ctx, store.Reading{
			ReadingKey: store.ReadingKey{StationID: st.ID, PollutantID: pollutantID(t, tx, "O3"), Datetime: ts},
			Value:      4,
		})
		require.NoError(t, err)
	})

	t.Run("rollback discards writes", func(t *testing.T) {
		s := open(t)
		tx, err := s.Begin(ctx)
		require.NoError(t, err)
		_, err = tx.CreateStation(ctx, store.Station{Name: "Las Ferias", City: "Bogotá", Country: "Colombia"})
		require.NoError(t, err)
		require.NoError(t, tx.Rollback(ctx))

		tx, err = s.Begin(ctx)
		require.NoError(t, err)
		defer tx.Rollback(ctx)
		_, err = tx.FindStationByName(ctx, "Las Ferias")
		assert.ErrorIs(t, err, store.ErrStationNotFound)
	})

	t.Run("savepoints", func(t *testing.T) {
		s := open(t)
		tx, err := s.Begin(ctx)
		require.NoError(t, err)

		kept, err := tx.Begin(ctx)
		require.NoError(t, err)
		_, err = kept.CreateStation(ctx, store.Station{Name: "Kept", City: "A", Country: "B"})
		require.NoError(t, err)
		require.NoError(t, kept.Commit(ctx))

		dropped, err := tx.Begin(ctx)
		require.NoError(t, err)
		_, err = dropped.CreateStation(ctx, store.Station{Name: "Dropped", City: "A", Country: "B"})
		require.NoError(t, err)
		require.NoError(t, dropped.Rollback(ctx))

		require.NoError(t, tx.Commit(ctx))

		tx, err = s.Begin(ctx)
		require.NoError(t, err)
		defer tx.Rollback(ctx)
		_, err = tx.FindStationByName(ctx, "Kept")
		assert.NoError(t, err)
		_, err = tx.FindStationByName(ctx, "Dropped")
		assert.ErrorIs(t, err, store.ErrStationNotFound)
	})

	t.Run("foreign key violation is a constraint error", func(t *testing.T) {
		s := open(t)
		tx, err := s.Begin(ctx)
		require.NoError(t, err)
		defer tx.Rollback(ctx)

		_, err = tx.InsertReading(ctx, store.Reading{
			ReadingKey: store.ReadingKey{StationID: 9999, PollutantID: pollutantID(t, tx, "PM2.5"), Datetime: ts},
			Value:      1,
		})
		assert.ErrorIs(t, err, store.ErrConstraint)
	})

	t.Run("empty station name is a constraint error", func(t *testing.T) {
		s := open(t)
		tx, err := s.Begin(ctx)
		require.NoError(t, err)
		defer tx.Rollback(ctx)

		_, err = tx.CreateStation(ctx, store.Station{City: "Bogotá", Country: "Colombia"})
		assert.ErrorIs(t, err, store.ErrConstraint)
	})

	t.Run("finished transaction", func(t *testing.T) {
		s := open(t)
		tx, err := s.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.Commit(ctx))

		assert.NoError(t, tx.Rollback(ctx), "rollback after commit is a no-op")
		assert.Error(t, tx.Commit(ctx))
	})
}
