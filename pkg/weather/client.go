// Package weather is the HTTP client for the current-conditions upstream
// (Open-Meteo). It only translates one coordinate lookup into a
// model.WeatherSample; caching, concurrency limits and fallbacks live in the
// weather service.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shiva/tailwind/internal/model"
)

const (
	defaultBaseURL = "https://api.open-meteo.com"

	// Connection pool settings
	maxIdleConns        = 20
	maxConnsPerHost     = 10
	idleConnTimeout     = 90 * time.Second
	tlsHandshakeTimeout = 10 * time.Second

	// WindThresholdKmh is the 10 m wind speed at which clear skies count as windy.
	WindThresholdKmh = 30.0
)

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithBaseURLOption sets the base URL.
func WithBaseURLOption(u string) ClientOption {
	return func(c *Client) { c.baseURL = u }
}

// WithNow overrides the clock used to stamp samples.
func WithNow(now func() time.Time) ClientOption {
	return func(c *Client) { c.now = now }
}

// Client fetches current conditions for a single coordinate.
type Client struct {
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

// NewClient creates an Open-Meteo client with connection pooling.
func NewClient(opts ...ClientOption) *Client {
	transport := &http.Transport{
		MaxIdleConns:        maxIdleConns,
		MaxConnsPerHost:     maxConnsPerHost,
		IdleConnTimeout:     idleConnTimeout,
		TLSHandshakeTimeout: tlsHandshakeTimeout,
	}

	c := &Client{
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout:   10 * time.Second,
			Transport: transport,
		},
		now: time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithBaseURL overrides the API endpoint (useful for testing).
func (c *Client) WithBaseURL(u string) *Client {
	c.baseURL = u
	return c
}

// currentResponse mirrors the JSON shape returned by /v1/forecast?current=...
type currentResponse struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Current   struct {
		Time             string  `json:"time"`
		WeatherCode      int     `json:"weather_code"`
		Precipitation    float64 `json:"precipitation"`
		WindSpeed10m     float64 `json:"wind_speed_10m"`
		WindDirection10m float64 `json:"wind_direction_10m"`
	} `json:"current"`
}

// Fetch retrieves current conditions at loc.
func (c *Client) Fetch(ctx context.Context, loc model.GeoPoint) (model.WeatherSample, error) {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(loc.Lat, 'f', 4, 64))
	q.Set("longitude", strconv.FormatFloat(loc.Lon, 'f', 4, 64))
	q.Set("current", "weather_code,precipitation,wind_speed_10m,wind_direction_10m")
	q.Set("wind_speed_unit", "kmh")
	endpoint := fmt.Sprintf("%s/v1/forecast?%s", c.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return model.WeatherSample{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.WeatherSample{}, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.WeatherSample{}, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.WeatherSample{}, fmt.Errorf("reading body: %w", err)
	}

	var raw currentResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return model.WeatherSample{}, fmt.Errorf("parsing response: %w", err)
	}

	return toSample(raw, loc, c.now()), nil
}

// ---------------------------------------------------------------------------
// WMO code mapping
// ---------------------------------------------------------------------------

// codeIntensity gives the base intensity for precipitation-type WMO codes.
var codeIntensity = map[int]float64{
	51: 0.2, 53: 0.3, 55: 0.4, // drizzle
	56: 0.4, 57: 0.5, // freezing drizzle
	61: 0.3, 63: 0.5, 65: 0.8, // rain
	66: 0.5, 67: 0.8, // freezing rain
	71: 0.3, 73: 0.5, 75: 0.7, 77: 0.3, // snow
	80: 0.4, 81: 0.6, 82: 0.9, // showers
	85: 0.5, 86: 0.7, // snow showers
	95: 0.7, 96: 0.85, 99: 1.0, // thunderstorm
}

func isStorm(code int) bool { return code >= 95 && code <= 99 }

func isPrecipitation(code int) bool {
	_, ok := codeIntensity[code]
	return ok && !isStorm(code)
}

func toSample(raw currentResponse, loc model.GeoPoint, observedAt time.Time) model.WeatherSample {
	cur := raw.Current
	s := model.WeatherSample{
		Location:         loc,
		ObservedAt:       observedAt,
		WindDirectionDeg: cur.WindDirection10m,
	}

	switch {
	case isStorm(cur.WeatherCode):
		s.Kind = model.WeatherStorm
		s.Intensity = codeIntensity[cur.WeatherCode]
	case isPrecipitation(cur.WeatherCode):
		s.Kind = model.WeatherRain
		s.Intensity = math.Max(codeIntensity[cur.WeatherCode], math.Min(1, cur.Precipitation/10))
	case cur.WindSpeed10m >= WindThresholdKmh:
		s.Kind = model.WeatherWind
		s.Intensity = math.Min(1, cur.WindSpeed10m/80)
	default:
		s.Kind = model.WeatherClear
	}

	s.SpeedModifier = SpeedModifier(s.Kind, s.Intensity)
	return s
}

// SpeedModifier returns the base speed multiplier for a condition. Rain and
// storms always slow a flight; wind is stored as its full tailwind value.
func SpeedModifier(kind model.WeatherKind, intensity float64) float64 {
	intensity = math.Max(0, math.Min(1, intensity))
	switch kind {
	case model.WeatherRain:
		return 1 - 0.3*intensity
	case model.WeatherStorm:
		return math.Max(0.5, 1-0.5*intensity)
	case model.WeatherWind:
		return 1 + 0.25*intensity
	default:
		return 1.0
	}
}

// Clear synthesizes the neutral sample used whenever the upstream fails.
func Clear(loc model.GeoPoint, at time.Time) model.WeatherSample {
	return model.WeatherSample{
		Kind:          model.WeatherClear,
		Intensity:     0,
		SpeedModifier: 1.0,
		Location:      loc,
		ObservedAt:    at,
	}
}
