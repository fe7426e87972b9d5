// Package aqicn provides a client for the World Air Quality Index (AQICN/WAQI)
// API and an airquality.Source over its current-conditions feeds.
package aqicn

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/aqplatform/ingestion/internal/provider/resilience"
)

const (
	// DefaultBaseURL is the public AQICN API.
	DefaultBaseURL = "https://api.waqi.info"

	// ProviderName identifies this provider in the resilience registry.
	ProviderName = "aqicn"

	maxResponseBytes = 1 << 20
)

var (
	// ErrMissingToken is returned when no API token is configured.
	ErrMissingToken = errors.New("aqicn api token not configured")

	// ErrAPIStatus is returned when the API answers with a status other than "ok".
	ErrAPIStatus = errors.New("aqicn api error")

	// ErrHTTPStatus is returned for non-2xx HTTP responses.
	ErrHTTPStatus = errors.New("aqicn unexpected http status")
)

// ClientConfig holds configuration for the AQICN client.
type ClientConfig struct {
	// Token is the API token. Required.
	Token string

	// BaseURL defaults to DefaultBaseURL.
	BaseURL string

	// Timeout for individual requests (default: 10s). Ignored when HTTPClient is set.
	Timeout time.Duration

	// HTTPClient executes requests. If nil, a resilient client is created.
	HTTPClient HTTPDoer

	// Registry receives the default client's health, when set.
	Registry *resilience.Registry

	// Clock stamps readings whose feed carries no timestamp.
	Clock clockwork.Clock

	Logger zerolog.Logger
}

// HTTPDoer abstracts HTTP request execution.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is an AQICN API client.
type Client struct {
	baseURL    string
	token      string
	httpClient HTTPDoer
	clock      clockwork.Clock
	logger     zerolog.Logger
}

// NewClient creates a new AQICN client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, ErrMissingToken
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		httpClient = resilience.NewClient(resilience.ClientConfig{
			Name:            ProviderName,
			Timeout:         timeout,
			MaxRetries:      2,
			InitialInterval: 250 * time.Millisecond,
			MaxInterval:     2 * time.Second,
			Registry:        cfg.Registry,
			Logger:          cfg.Logger,
		})
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      cfg.Token,
		httpClient: httpClient,
		clock:      clock,
		logger:     cfg.Logger.With().Str("adapter", ProviderName).Logger(),
	}, nil
}

// envelope is the outer shape of every AQICN response. Data holds an error
// message instead of a payload when Status is not "ok".
type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

// get performs a GET against path and returns the payload of an "ok" response.
func (c *Client) get(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("token", c.token)
	endpoint := c.baseURL + path + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %d from %s", ErrHTTPStatus, resp.StatusCode, path)
	}

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", path, err)
	}
	if env.Status != "ok" {
		return nil, fmt.Errorf("%w: %s: %s", ErrAPIStatus, env.Status, apiMessage(env.Data))
	}
	return env.Data, nil
}

func apiMessage(data json.RawMessage) string {
	var msg string
	if err := json.Unmarshal(data, &msg); err == nil {
		return msg
	}
	return string(bytes.TrimSpace(data))
}

// SearchResult is one station returned by the search endpoint.
type SearchResult struct {
	UID     flexString `json:"uid"`
	AQI     flexString `json:"aqi"`
	Station struct {
		Name string    `json:"name"`
		Geo  []float64 `json:"geo"`
		URL  string    `json:"url"`
	} `json:"station"`
	Time struct {
		Stime string `json:"stime"`
		TZ    string `json:"tz"`
	} `json:"time"`
}

// SearchStations looks up stations whose name matches keyword.
func (c *Client) SearchStations(ctx context.Context, keyword string) ([]SearchResult, error) {
	data, err := c.get(ctx, "/search/", url.Values{"keyword": {keyword}})
	if err != nil {
		return nil, err
	}

	var results []SearchResult
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("decode search results: %w", err)
	}

	c.logger.Info().
		Str("keyword", keyword).
		Int("stations", len(results)).
		Msg("station search complete")

	return results, nil
}

// flexString decodes a JSON string or number into its textual form. AQICN
// reports ids and indices as either, and "-" when a value is unavailable.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*f = flexString(n.String())
	return nil
}

// Int returns the value as an integer, if it is one.
func (f flexString) Int() (int, bool) {
	v, err := strconv.ParseFloat(string(f), 64)
	if err != nil {
		return 0, false
	}
	return int(v), true
}

func (f flexString) String() string {
	return string(f)
}
