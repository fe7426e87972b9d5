package ingestion

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/aqplatform/ingestion/internal/airquality"
	"github.com/aqplatform/ingestion/internal/store"
)

// stationIndex resolves readings to station ids for the duration of one run.
// byName is authoritative: an external id hit is only used while the station
// it points at still carries the reading's name.
type stationIndex struct {
	byExternal map[string]int64
	byName     map[string]int64
	names      map[int64]string
}

func newStationIndex(stations []store.Station) *stationIndex {
	ix := &stationIndex{
		byExternal: make(map[string]int64),
		byName:     make(map[string]int64, len(stations)),
		names:      make(map[int64]string, len(stations)),
	}
	for _, s := range stations {
		// Stations are ordered by id, so the oldest of same-named rows wins,
		// matching FindStationByName.
		if _, ok := ix.byName[s.Name]; !ok {
			ix.byName[s.Name] = s.ID
		}
		ix.names[s.ID] = s.Name
	}
	return ix
}

func (ix *stationIndex) clone() *stationIndex {
	return &stationIndex{
		byExternal: maps.Clone(ix.byExternal),
		byName:     maps.Clone(ix.byName),
		names:      maps.Clone(ix.names),
	}
}

func (ix *stationIndex) lookup(externalID, name string) (int64, bool) {
	if externalID != "" {
		if id, ok := ix.byExternal[externalID]; ok && ix.names[id] == name {
			return id, true
		}
	}
	id, ok := ix.byName[name]
	if ok && externalID != "" {
		ix.byExternal[externalID] = id
	}
	return id, ok
}

func (ix *stationIndex) put(externalID string, s store.Station) {
	if _, ok := ix.byName[s.Name]; !ok {
		ix.byName[s.Name] = s.ID
	}
	ix.names[s.ID] = s.Name
	if externalID != "" {
		ix.byExternal[externalID] = s.ID
	}
}

// resolve returns the station id for r, looking it up by name in the store
// and creating it when no station has that name.
func (ix *stationIndex) resolve(ctx context.Context, tx store.Tx, r airquality.NormalizedReading) (id int64, created bool, err error) {
	if id, ok := ix.lookup(r.ExternalStationID, r.StationName); ok {
		return id, false, nil
	}

	st, err := tx.FindStationByName(ctx, r.StationName)
	switch {
	case err == nil:
		ix.put(r.ExternalStationID, st)
		return st.ID, false, nil
	case !errors.Is(err, store.ErrStationNotFound):
		return 0, false, fmt.Errorf("find station %q: %w", r.StationName, err)
	}

	st, err = tx.CreateStation(ctx, stationFromReading(r))
	if err != nil {
		return 0, false, fmt.Errorf("create station %q: %w", r.StationName, err)
	}
	ix.put(r.ExternalStationID, st)
	return st.ID, true, nil
}

// stationFromReading builds the row for a new station. The station table has
// no nullable coordinates, so readings without them place the station at 0,0;
// realtime runs skip such stations when building their query.
func stationFromReading(r airquality.NormalizedReading) store.Station {
	s := store.Station{
		Name:    r.StationName,
		City:    r.City,
		Country: r.Country,
	}
	if r.Latitude != nil {
		s.Latitude = *r.Latitude
	}
	if r.Longitude != nil {
		s.Longitude = *r.Longitude
	}
	return s
}

// pollutantIndex maps canonical pollutant codes to catalog ids. The catalog
// is read-only to ingestion.
type pollutantIndex map[string]int64

func newPollutantIndex(pollutants []store.Pollutant) pollutantIndex {
	ix := make(pollutantIndex, len(pollutants))
	for _, p := range pollutants {
		ix[p.Name] = p.ID
	}
	return ix
}
