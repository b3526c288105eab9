package executor

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"agentmux/internal/logging"
	"agentmux/internal/types"
)

// =============================================================================
// DOMAIN API EXECUTORS
// =============================================================================
//
// WEATHER, FINANCE, and ROUTING tasks call free, keyless HTTP APIs. Base URLs
// are injectable so tests hit httptest servers. The decomposer normalizes
// queries before they arrive (city names and tickers in English, routes as
// "X to Y"); the extractors here only strip the residue of unplanned queries.

// getJSON fetches a URL and decodes the JSON body into out.
func getJSON(ctx context.Context, client *http.Client, rawURL string, timeout time.Duration, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Geocoding (shared by weather and routing)
// -----------------------------------------------------------------------------

type geoPlace struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Country   string  `json:"country"`
}

func (p geoPlace) Label() string {
	if p.Country == "" {
		return p.Name
	}
	return p.Name + ", " + p.Country
}

// geocode resolves a place name to coordinates via an open-meteo-style
// geocoding endpoint.
func geocode(ctx context.Context, client *http.Client, baseURL, place string, timeout time.Duration) (geoPlace, error) {
	var payload struct {
		Results []geoPlace `json:"results"`
	}
	u := fmt.Sprintf("%s?name=%s&count=1&language=en&format=json", baseURL, url.QueryEscape(place))
	if err := getJSON(ctx, client, u, timeout, &payload); err != nil {
		return geoPlace{}, fmt.Errorf("geocode %q: %w", place, err)
	}
	if len(payload.Results) == 0 {
		return geoPlace{}, fmt.Errorf("geocode %q: location not found", place)
	}
	return payload.Results[0], nil
}

// -----------------------------------------------------------------------------
// Weather
// -----------------------------------------------------------------------------

// WeatherConfig configures the weather executor.
type WeatherConfig struct {
	GeocodeURL  string
	ForecastURL string
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// DefaultWeatherConfig points at open-meteo (no API key).
func DefaultWeatherConfig() WeatherConfig {
	return WeatherConfig{
		GeocodeURL:  "https://geocoding-api.open-meteo.com/v1/search",
		ForecastURL: "https://api.open-meteo.com/v1/forecast",
		Timeout:     15 * time.Second,
	}
}

// WeatherExecutor answers WEATHER tasks: geocode the city, fetch current
// conditions, format a one-line report.
type WeatherExecutor struct {
	config WeatherConfig
}

// NewWeatherExecutor creates a weather executor, filling config defaults.
func NewWeatherExecutor(config WeatherConfig) *WeatherExecutor {
	def := DefaultWeatherConfig()
	if config.GeocodeURL == "" {
		config.GeocodeURL = def.GeocodeURL
	}
	if config.ForecastURL == "" {
		config.ForecastURL = def.ForecastURL
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	return &WeatherExecutor{config: config}
}

func (e *WeatherExecutor) Name() string { return "weather_api" }

func (e *WeatherExecutor) Execute(ctx context.Context, query string, taskCtx map[string]any) (any, error) {
	city := extractPlace(query)
	if city == "" {
		return nil, fmt.Errorf("weather: %w: no location in %q", types.ErrInvalidQuery, truncateRunes(query, 80))
	}

	client := clientOrDefault(e.config.HTTPClient)
	place, err := geocode(ctx, client, e.config.GeocodeURL, city, e.config.Timeout)
	if err != nil {
		return nil, fmt.Errorf("weather: %w", err)
	}

	var payload struct {
		Current struct {
			Temperature float64 `json:"temperature_2m"`
			Humidity    float64 `json:"relative_humidity_2m"`
			WindSpeed   float64 `json:"wind_speed_10m"`
			WeatherCode int     `json:"weather_code"`
		} `json:"current"`
		CurrentUnits struct {
			Temperature string `json:"temperature_2m"`
			WindSpeed   string `json:"wind_speed_10m"`
		} `json:"current_units"`
	}
	u := fmt.Sprintf("%s?latitude=%.4f&longitude=%.4f&current=temperature_2m,relative_humidity_2m,wind_speed_10m,weather_code",
		e.config.ForecastURL, place.Latitude, place.Longitude)
	if err := getJSON(ctx, client, u, e.config.Timeout, &payload); err != nil {
		return nil, fmt.Errorf("weather forecast for %s: %w", place.Label(), err)
	}

	tempUnit := payload.CurrentUnits.Temperature
	if tempUnit == "" {
		tempUnit = "°C"
	}
	windUnit := payload.CurrentUnits.WindSpeed
	if windUnit == "" {
		windUnit = "km/h"
	}

	report := fmt.Sprintf("Current weather in %s: %.1f%s, %s, humidity %.0f%%, wind %.1f %s",
		place.Label(), payload.Current.Temperature, tempUnit,
		weatherCodeText(payload.Current.WeatherCode),
		payload.Current.Humidity, payload.Current.WindSpeed, windUnit)
	logging.Executor("Weather report for %s", place.Label())
	return report, nil
}

// weatherCodeText translates WMO weather interpretation codes.
func weatherCodeText(code int) string {
	switch code {
	case 0:
		return "clear sky"
	case 1:
		return "mainly clear"
	case 2:
		return "partly cloudy"
	case 3:
		return "overcast"
	case 45, 48:
		return "fog"
	case 51, 53, 55, 56, 57:
		return "drizzle"
	case 61, 63, 65, 66, 67:
		return "rain"
	case 71, 73, 75, 77:
		return "snow"
	case 80, 81, 82:
		return "rain showers"
	case 85, 86:
		return "snow showers"
	case 95, 96, 99:
		return "thunderstorm"
	default:
		return fmt.Sprintf("unknown conditions (code %d)", code)
	}
}

// placePrefixes and placeSuffixes are residue around a location in queries
// the planner did not normalize.
var placePrefixes = []string{
	"what's the weather in", "what is the weather in", "weather forecast for",
	"weather in", "weather for", "weather at", "forecast for", "forecast in",
	"weather",
}

var placeSuffixes = []string{"today", "tomorrow", "right now", "now", "this week"}

// extractPlace strips question scaffolding around a location.
func extractPlace(query string) string {
	q := strings.TrimSpace(strings.TrimRight(strings.TrimSpace(query), "?!.？！。"))
	lower := strings.ToLower(q)
	for _, p := range placePrefixes {
		if strings.HasPrefix(lower, p) {
			q = strings.TrimSpace(q[len(p):])
			lower = strings.ToLower(q)
			break
		}
	}
	for _, s := range placeSuffixes {
		if strings.HasSuffix(lower, s) {
			q = strings.TrimSpace(q[:len(q)-len(s)])
			lower = strings.ToLower(q)
		}
	}
	return q
}

// -----------------------------------------------------------------------------
// Stock quotes
// -----------------------------------------------------------------------------

// StockConfig configures the stock quote executor.
type StockConfig struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// DefaultStockConfig points at stooq's CSV quote endpoint (no API key).
func DefaultStockConfig() StockConfig {
	return StockConfig{
		BaseURL: "https://stooq.com/q/l/",
		Timeout: 15 * time.Second,
	}
}

// StockExecutor answers FINANCE tasks with a delayed quote.
type StockExecutor struct {
	config StockConfig
}

// NewStockExecutor creates a stock executor, filling config defaults.
func NewStockExecutor(config StockConfig) *StockExecutor {
	def := DefaultStockConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	return &StockExecutor{config: config}
}

func (e *StockExecutor) Name() string { return "stock_api" }

func (e *StockExecutor) Execute(ctx context.Context, query string, taskCtx map[string]any) (any, error) {
	ticker, err := extractTicker(query)
	if err != nil {
		return nil, fmt.Errorf("stock: %w", err)
	}
	symbol := stooqSymbol(ticker)

	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	u := fmt.Sprintf("%s?s=%s&f=sd2t2ohlcv&h&e=csv", e.config.BaseURL, url.QueryEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("stock: build request: %w", err)
	}
	resp, err := clientOrDefault(e.config.HTTPClient).Do(req)
	if err != nil {
		return nil, fmt.Errorf("stock quote %s: %w", symbol, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stock quote %s: HTTP %d", symbol, resp.StatusCode)
	}

	rows, err := csv.NewReader(io.LimitReader(resp.Body, 1<<20)).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("stock quote %s: parse csv: %w", symbol, err)
	}
	// Header row + one quote row: Symbol,Date,Time,Open,High,Low,Close,Volume.
	if len(rows) < 2 || len(rows[1]) < 8 {
		return nil, fmt.Errorf("stock quote %s: unexpected csv shape", symbol)
	}
	quote := rows[1]
	if quote[6] == "N/D" {
		return nil, fmt.Errorf("stock quote %s: no data for symbol", symbol)
	}

	report := fmt.Sprintf("%s quote (%s %s): open %s, high %s, low %s, close %s, volume %s",
		strings.ToUpper(quote[0]), quote[1], quote[2], quote[3], quote[4], quote[5], quote[6], quote[7])
	logging.Executor("Stock quote for %s", symbol)
	return report, nil
}

var tickerPattern = regexp.MustCompile(`^[A-Z0-9]{1,8}([.\-][A-Z0-9]{1,4})?$|^\^[A-Z0-9]{1,8}$`)

// extractTicker finds the symbol in a query. Single-token queries pass
// through as-is; longer ones must contain an uppercase ticker-shaped token.
func extractTicker(query string) (string, error) {
	fields := strings.Fields(strings.TrimSpace(query))
	if len(fields) == 0 {
		return "", fmt.Errorf("%w: empty query", types.ErrInvalidQuery)
	}
	if len(fields) == 1 {
		return strings.TrimPrefix(strings.Trim(fields[0], "?!.,"), "$"), nil
	}
	for _, f := range fields {
		tok := strings.TrimPrefix(strings.Trim(f, "?!.,"), "$")
		if tickerPattern.MatchString(tok) {
			return tok, nil
		}
	}
	return "", fmt.Errorf("%w: no ticker symbol in %q", types.ErrInvalidQuery, truncateRunes(query, 80))
}

// stooqSymbol lowercases and defaults bare symbols to the .us market suffix.
func stooqSymbol(ticker string) string {
	s := strings.ToLower(ticker)
	if !strings.Contains(s, ".") && !strings.HasPrefix(s, "^") {
		s += ".us"
	}
	return s
}

// -----------------------------------------------------------------------------
// Routing
// -----------------------------------------------------------------------------

// RouteConfig configures the routing executor.
type RouteConfig struct {
	OSRMBaseURL string
	GeocodeURL  string
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// DefaultRouteConfig points at the public OSRM demo server and open-meteo
// geocoding (both keyless).
func DefaultRouteConfig() RouteConfig {
	return RouteConfig{
		OSRMBaseURL: "https://router.project-osrm.org",
		GeocodeURL:  "https://geocoding-api.open-meteo.com/v1/search",
		Timeout:     20 * time.Second,
	}
}

// RouteExecutor answers ROUTING tasks: parse "X to Y", geocode both ends,
// ask OSRM for a driving route.
type RouteExecutor struct {
	config RouteConfig
}

// NewRouteExecutor creates a routing executor, filling config defaults.
func NewRouteExecutor(config RouteConfig) *RouteExecutor {
	def := DefaultRouteConfig()
	if config.OSRMBaseURL == "" {
		config.OSRMBaseURL = def.OSRMBaseURL
	}
	if config.GeocodeURL == "" {
		config.GeocodeURL = def.GeocodeURL
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	return &RouteExecutor{config: config}
}

func (e *RouteExecutor) Name() string { return "routing_api" }

func (e *RouteExecutor) Execute(ctx context.Context, query string, taskCtx map[string]any) (any, error) {
	origin, dest, err := parseRouteEndpoints(query)
	if err != nil {
		return nil, fmt.Errorf("routing: %w", err)
	}

	client := clientOrDefault(e.config.HTTPClient)
	from, err := geocode(ctx, client, e.config.GeocodeURL, origin, e.config.Timeout)
	if err != nil {
		return nil, fmt.Errorf("routing: %w", err)
	}
	to, err := geocode(ctx, client, e.config.GeocodeURL, dest, e.config.Timeout)
	if err != nil {
		return nil, fmt.Errorf("routing: %w", err)
	}

	var payload struct {
		Code   string `json:"code"`
		Routes []struct {
			Distance float64 `json:"distance"` // meters
			Duration float64 `json:"duration"` // seconds
		} `json:"routes"`
	}
	u := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=false",
		e.config.OSRMBaseURL, from.Longitude, from.Latitude, to.Longitude, to.Latitude)
	if err := getJSON(ctx, client, u, e.config.Timeout, &payload); err != nil {
		return nil, fmt.Errorf("routing %s -> %s: %w", from.Label(), to.Label(), err)
	}
	if payload.Code != "Ok" || len(payload.Routes) == 0 {
		return nil, fmt.Errorf("routing %s -> %s: no route found (code %q)", from.Label(), to.Label(), payload.Code)
	}

	route := payload.Routes[0]
	report := fmt.Sprintf("Driving route from %s to %s: %.1f km, about %s",
		from.Label(), to.Label(), route.Distance/1000, formatTravelTime(route.Duration))
	logging.Executor("Route %s -> %s", from.Label(), to.Label())
	return report, nil
}

var routePrefixes = []string{
	"how do i get from", "how to get from", "directions from", "navigate from",
	"route from", "driving route from", "driving from", "from",
}

var toSeparator = regexp.MustCompile(`(?i)\s+to\s+`)

// parseRouteEndpoints splits an "X to Y" query into origin and destination.
func parseRouteEndpoints(query string) (origin, dest string, err error) {
	q := strings.TrimSpace(strings.TrimRight(strings.TrimSpace(query), "?!.？！。"))
	lower := strings.ToLower(q)
	for _, p := range routePrefixes {
		if strings.HasPrefix(lower, p+" ") || lower == p {
			q = strings.TrimSpace(q[len(p):])
			break
		}
	}

	parts := toSeparator.Split(q, 2)
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
		return "", "", fmt.Errorf("%w: expected \"origin to destination\", got %q", types.ErrInvalidQuery, truncateRunes(query, 80))
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), nil
}

// formatTravelTime renders seconds as a compact duration.
func formatTravelTime(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second))
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh%02dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm", m)
	default:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
}
