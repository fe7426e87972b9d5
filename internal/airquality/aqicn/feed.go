package aqicn

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/text/cases"

	"github.com/aqplatform/ingestion/internal/airquality"
)

// feedCodes maps the iaqi keys of a feed to pollutant codes, in emission order.
var feedCodes = []struct {
	key  string
	code airquality.Pollutant
}{
	{"pm25", airquality.PollutantPM25},
	{"pm10", airquality.PollutantPM10},
	{"o3", airquality.PollutantO3},
	{"no2", airquality.PollutantNO2},
	{"so2", airquality.PollutantSO2},
	{"co", airquality.PollutantCO},
}

// stationAliases reconciles AQICN station names with the names stations were
// registered under from the historical archive. Checked in order.
var stationAliases = []struct {
	source, canonical string
}{
	{"Carvajal - Sevillana", "Carvajal"},
	{"Carvajal-Sevillana", "Carvajal"},
	{"Centro de Alto Rendimiento", "Centro de Alto Rendimiento"},
	{"Las Ferias", "Las Ferias"},
	{"Puente Aranda", "Puente Aranda"},
	{"Suba", "Suba"},
}

type feed struct {
	Idx  flexString `json:"idx"`
	AQI  flexString `json:"aqi"`
	City struct {
		Name string    `json:"name"`
		Geo  []float64 `json:"geo"`
	} `json:"city"`
	Time struct {
		ISO string `json:"iso"`
	} `json:"time"`
	IAQI map[string]struct {
		V *float64 `json:"v"`
	} `json:"iaqi"`
}

// Coordinate is a latitude/longitude pair for a geo feed query.
type Coordinate struct {
	Lat float64
	Lon float64
}

// Query selects which feeds Fetch polls.
type Query struct {
	Cities      []string
	Coordinates []Coordinate
}

// Empty reports whether the query selects nothing.
func (q Query) Empty() bool {
	return len(q.Cities) == 0 && len(q.Coordinates) == 0
}

// FetchCity returns the readings of the station AQICN associates with city.
func (c *Client) FetchCity(ctx context.Context, city string) ([]airquality.NormalizedReading, error) {
	return c.fetchFeed(ctx, "/feed/"+url.PathEscape(city)+"/")
}

// FetchGeo returns the readings of the station nearest to lat, lon.
func (c *Client) FetchGeo(ctx context.Context, lat, lon float64) ([]airquality.NormalizedReading, error) {
	geo := "geo:" + strconv.FormatFloat(lat, 'f', -1, 64) + ";" + strconv.FormatFloat(lon, 'f', -1, 64)
	return c.fetchFeed(ctx, "/feed/"+geo+"/")
}

// Fetch polls every city and then every coordinate in q, one request at a
// time. A failed request is logged and contributes no readings; only context
// cancellation stops the pass early.
func (c *Client) Fetch(ctx context.Context, q Query) ([]airquality.NormalizedReading, error) {
	var readings []airquality.NormalizedReading

	for _, city := range q.Cities {
		if err := ctx.Err(); err != nil {
			return readings, err
		}
		got, err := c.FetchCity(ctx, city)
		if err != nil {
			c.logger.Error().Err(err).Str("city", city).Msg("city feed failed")
			continue
		}
		c.logger.Info().Str("city", city).Int("readings", len(got)).Msg("city feed fetched")
		readings = append(readings, got...)
	}

	for _, pt := range q.Coordinates {
		if err := ctx.Err(); err != nil {
			return readings, err
		}
		got, err := c.FetchGeo(ctx, pt.Lat, pt.Lon)
		if err != nil {
			c.logger.Error().Err(err).Float64("lat", pt.Lat).Float64("lon", pt.Lon).Msg("geo feed failed")
			continue
		}
		c.logger.Info().Float64("lat", pt.Lat).Float64("lon", pt.Lon).Int("readings", len(got)).Msg("geo feed fetched")
		readings = append(readings, got...)
	}

	return readings, nil
}

func (c *Client) fetchFeed(ctx context.Context, path string) ([]airquality.NormalizedReading, error) {
	data, err := c.get(ctx, path, nil)
	if err != nil {
		return nil, err
	}

	var f feed
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}
	return c.parseFeed(&f)
}

// parseFeed turns one station feed into a reading per reported pollutant. The
// iaqi "v" values are sub-indices, not concentrations; they are stored as both
// the value and the AQI.
func (c *Client) parseFeed(f *feed) ([]airquality.NormalizedReading, error) {
	station, city, country := splitCityName(f.City.Name)
	name := c.cleanStationName(station)

	var lat, lon *float64
	if len(f.City.Geo) > 0 {
		lat = airquality.Float(f.City.Geo[0])
	}
	if len(f.City.Geo) > 1 {
		lon = airquality.Float(f.City.Geo[1])
	}

	externalID := f.Idx.String()
	if externalID == "" {
		externalID = "unknown"
	}

	ts := c.clock.Now().UTC()
	if f.Time.ISO == "" {
		c.logger.Warn().Str("station", name).Msg("feed has no timestamp, using current time")
	} else {
		parsed, err := airquality.NormalizeTimestamp(f.Time.ISO, "")
		if err != nil {
			return nil, err
		}
		ts = parsed
	}

	var readings []airquality.NormalizedReading
	for _, fc := range feedCodes {
		sample, ok := f.IAQI[fc.key]
		if !ok || sample.V == nil {
			continue
		}

		v := *sample.V
		reading, err := airquality.NewReading(airquality.NormalizedReading{
			ExternalStationID: externalID,
			StationName:       name,
			City:              city,
			Country:           country,
			Latitude:          lat,
			Longitude:         lon,
			PollutantCode:     fc.code,
			Unit:              airquality.StandardUnit(fc.code),
			Value:             v,
			AQI:               airquality.Int(int(v)),
			TimestampUTC:      ts,
		})
		if err != nil {
			c.logger.Warn().Err(err).Str("station", name).Str("pollutant", string(fc.code)).Msg("feed reading rejected")
			continue
		}
		readings = append(readings, reading)
	}

	if len(readings) == 0 {
		c.logger.Warn().Str("station", name).Msg("feed has no pollutant readings")
	}

	return readings, nil
}

// splitCityName splits AQICN's "Station, City, Country" display name. Two
// parts are read as "City, Country"; anything else keeps the raw name.
func splitCityName(raw string) (station, city, country string) {
	if raw == "" {
		raw = "Unknown Station"
	}
	parts := strings.Split(raw, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	switch {
	case len(parts) >= 3:
		return parts[0], parts[1], parts[2]
	case len(parts) == 2:
		return parts[0], parts[0], parts[1]
	default:
		return raw, "Unknown", "Unknown"
	}
}

// cleanStationName maps name onto a known station name when either contains
// the other, ignoring case. Unmatched names pass through trimmed.
func (c *Client) cleanStationName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return name
	}

	fold := cases.Fold()
	folded := fold.String(name)
	for _, alias := range stationAliases {
		source := fold.String(alias.source)
		if strings.Contains(folded, source) || strings.Contains(source, folded) {
			c.logger.Debug().Str("source", name).Str("station", alias.canonical).Msg("station name matched")
			return alias.canonical
		}
	}
	return name
}

// Source binds a query to the client as an airquality.Source.
func (c *Client) Source(q Query) airquality.Source {
	return &querySource{client: c, query: q}
}

type querySource struct {
	client *Client
	query  Query
}

func (s *querySource) Name() string {
	return ProviderName
}

func (s *querySource) FetchReadings(ctx context.Context) ([]airquality.NormalizedReading, error) {
	return s.client.Fetch(ctx, s.query)
}
