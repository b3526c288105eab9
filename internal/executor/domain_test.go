package executor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"agentmux/internal/types"
)

// =============================================================================
// WEATHER
// =============================================================================

func weatherTestServer(t *testing.T, geocodeBody, forecastBody string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/geocode", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, geocodeBody)
	})
	mux.HandleFunc("/forecast", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, forecastBody)
	})
	return httptest.NewServer(mux)
}

func TestWeatherExecutor_ReportsCurrentConditions(t *testing.T) {
	var gotName, gotLat, gotLon string
	mux := http.NewServeMux()
	mux.HandleFunc("/geocode", func(w http.ResponseWriter, r *http.Request) {
		gotName = r.URL.Query().Get("name")
		fmt.Fprint(w, `{"results":[{"name":"Beijing","latitude":39.9042,"longitude":116.4074,"country":"China"}]}`)
	})
	mux.HandleFunc("/forecast", func(w http.ResponseWriter, r *http.Request) {
		gotLat = r.URL.Query().Get("latitude")
		gotLon = r.URL.Query().Get("longitude")
		fmt.Fprint(w, `{
			"current":{"temperature_2m":24.3,"relative_humidity_2m":62,"wind_speed_10m":8.4,"weather_code":0},
			"current_units":{"temperature_2m":"°C","wind_speed_10m":"km/h"}
		}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	exec := NewWeatherExecutor(WeatherConfig{
		GeocodeURL:  srv.URL + "/geocode",
		ForecastURL: srv.URL + "/forecast",
	})
	out, err := exec.Execute(context.Background(), "what's the weather in Beijing today?", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if gotName != "Beijing" {
		t.Errorf("geocode received name=%q, want Beijing", gotName)
	}
	if gotLat != "39.9042" || gotLon != "116.4074" {
		t.Errorf("forecast received lat=%q lon=%q", gotLat, gotLon)
	}

	report, ok := out.(string)
	if !ok {
		t.Fatalf("result type = %T, want string", out)
	}
	for _, want := range []string{"Beijing, China", "24.3°C", "clear sky", "humidity 62%", "wind 8.4 km/h"} {
		if !strings.Contains(report, want) {
			t.Errorf("report %q missing %q", report, want)
		}
	}
}

func TestWeatherExecutor_LocationNotFound(t *testing.T) {
	srv := weatherTestServer(t, `{"results":[]}`, `{}`)
	defer srv.Close()

	exec := NewWeatherExecutor(WeatherConfig{
		GeocodeURL:  srv.URL + "/geocode",
		ForecastURL: srv.URL + "/forecast",
	})
	_, err := exec.Execute(context.Background(), "weather in Atlantis", nil)
	if err == nil || !strings.Contains(err.Error(), "location not found") {
		t.Fatalf("err = %v, want location not found", err)
	}
}

func TestWeatherExecutor_RejectsQueryWithoutLocation(t *testing.T) {
	exec := NewWeatherExecutor(WeatherConfig{})
	_, err := exec.Execute(context.Background(), "weather", nil)
	if !errors.Is(err, types.ErrInvalidQuery) {
		t.Fatalf("err = %v, want ErrInvalidQuery", err)
	}
}

func TestExtractPlace(t *testing.T) {
	cases := []struct {
		query string
		want  string
	}{
		{"what's the weather in Beijing today?", "Beijing"},
		{"Weather forecast for New York", "New York"},
		{"weather in San Francisco right now", "San Francisco"},
		{"Tokyo", "Tokyo"},
		{"weather", ""},
	}
	for _, tc := range cases {
		if got := extractPlace(tc.query); got != tc.want {
			t.Errorf("extractPlace(%q) = %q, want %q", tc.query, got, tc.want)
		}
	}
}

func TestWeatherCodeText(t *testing.T) {
	if got := weatherCodeText(61); got != "rain" {
		t.Errorf("code 61 = %q, want rain", got)
	}
	if got := weatherCodeText(95); got != "thunderstorm" {
		t.Errorf("code 95 = %q, want thunderstorm", got)
	}
	if got := weatherCodeText(42); !strings.Contains(got, "42") {
		t.Errorf("unknown code should echo the number, got %q", got)
	}
}

// =============================================================================
// STOCK QUOTES
// =============================================================================

func TestStockExecutor_FormatsQuote(t *testing.T) {
	var gotSymbol, gotFormat string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSymbol = r.URL.Query().Get("s")
		gotFormat = r.URL.Query().Get("f")
		fmt.Fprint(w, "Symbol,Date,Time,Open,High,Low,Close,Volume\nAAPL.US,2026-08-22,22:00:08,226.17,229.09,225.41,227.76,42519041\n")
	}))
	defer srv.Close()

	exec := NewStockExecutor(StockConfig{BaseURL: srv.URL})
	out, err := exec.Execute(context.Background(), "stock price of AAPL", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if gotSymbol != "aapl.us" {
		t.Errorf("quote endpoint received s=%q, want aapl.us", gotSymbol)
	}
	if gotFormat != "sd2t2ohlcv" {
		t.Errorf("quote endpoint received f=%q", gotFormat)
	}

	report, ok := out.(string)
	if !ok {
		t.Fatalf("result type = %T, want string", out)
	}
	for _, want := range []string{"AAPL.US quote", "2026-08-22", "open 226.17", "close 227.76", "volume 42519041"} {
		if !strings.Contains(report, want) {
			t.Errorf("report %q missing %q", report, want)
		}
	}
}

func TestStockExecutor_NoDataForSymbol(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "Symbol,Date,Time,Open,High,Low,Close,Volume\nBOGUS.US,N/D,N/D,N/D,N/D,N/D,N/D,N/D\n")
	}))
	defer srv.Close()

	exec := NewStockExecutor(StockConfig{BaseURL: srv.URL})
	_, err := exec.Execute(context.Background(), "BOGUS", nil)
	if err == nil || !strings.Contains(err.Error(), "no data for symbol") {
		t.Fatalf("err = %v, want no data for symbol", err)
	}
}

func TestExtractTicker(t *testing.T) {
	cases := []struct {
		query   string
		want    string
		wantErr bool
	}{
		{query: "AAPL", want: "AAPL"},
		{query: "$TSLA today", want: "TSLA"},
		{query: "stock price of AAPL", want: "AAPL"},
		{query: "600519.SS", want: "600519.SS"},
		{query: "what is ^SPX at", want: "^SPX"},
		{query: "price of tesla", wantErr: true},
		{query: "   ", wantErr: true},
	}
	for _, tc := range cases {
		got, err := extractTicker(tc.query)
		if tc.wantErr {
			if !errors.Is(err, types.ErrInvalidQuery) {
				t.Errorf("extractTicker(%q) err = %v, want ErrInvalidQuery", tc.query, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("extractTicker(%q): %v", tc.query, err)
			continue
		}
		if got != tc.want {
			t.Errorf("extractTicker(%q) = %q, want %q", tc.query, got, tc.want)
		}
	}
}

func TestStooqSymbol(t *testing.T) {
	cases := map[string]string{
		"AAPL":      "aapl.us",
		"600519.SS": "600519.ss",
		"^SPX":      "^spx",
		"BRK-B":     "brk-b.us",
	}
	for in, want := range cases {
		if got := stooqSymbol(in); got != want {
			t.Errorf("stooqSymbol(%q) = %q, want %q", in, got, want)
		}
	}
}

// =============================================================================
// ROUTING
// =============================================================================

func TestRouteExecutor_ReportsDrivingRoute(t *testing.T) {
	var gotRoutePath string
	mux := http.NewServeMux()
	mux.HandleFunc("/geocode", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("name") {
		case "Beijing":
			fmt.Fprint(w, `{"results":[{"name":"Beijing","latitude":39.9042,"longitude":116.4074,"country":"China"}]}`)
		case "Shanghai":
			fmt.Fprint(w, `{"results":[{"name":"Shanghai","latitude":31.2304,"longitude":121.4737,"country":"China"}]}`)
		default:
			fmt.Fprint(w, `{"results":[]}`)
		}
	})
	mux.HandleFunc("/route/v1/driving/", func(w http.ResponseWriter, r *http.Request) {
		gotRoutePath = r.URL.Path
		fmt.Fprint(w, `{"code":"Ok","routes":[{"distance":1213900,"duration":40740}]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	exec := NewRouteExecutor(RouteConfig{
		OSRMBaseURL: srv.URL,
		GeocodeURL:  srv.URL + "/geocode",
	})
	out, err := exec.Execute(context.Background(), "How do I get from Beijing to Shanghai?", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	// OSRM wants lon,lat pairs.
	if !strings.Contains(gotRoutePath, "116.407400,39.904200;121.473700,31.230400") {
		t.Errorf("route path = %q, want lon,lat;lon,lat coordinates", gotRoutePath)
	}

	report, ok := out.(string)
	if !ok {
		t.Fatalf("result type = %T, want string", out)
	}
	for _, want := range []string{"Beijing, China", "Shanghai, China", "1213.9 km", "11h19m"} {
		if !strings.Contains(report, want) {
			t.Errorf("report %q missing %q", report, want)
		}
	}
}

func TestRouteExecutor_NoRouteFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/geocode", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results":[{"name":"Somewhere","latitude":1,"longitude":2,"country":"Nowhere"}]}`)
	})
	mux.HandleFunc("/route/v1/driving/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":"NoRoute","routes":[]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	exec := NewRouteExecutor(RouteConfig{OSRMBaseURL: srv.URL, GeocodeURL: srv.URL + "/geocode"})
	_, err := exec.Execute(context.Background(), "A to B", nil)
	if err == nil || !strings.Contains(err.Error(), "no route found") {
		t.Fatalf("err = %v, want no route found", err)
	}
}

func TestParseRouteEndpoints(t *testing.T) {
	cases := []struct {
		query        string
		origin, dest string
		wantErr      bool
	}{
		{query: "Beijing to Shanghai", origin: "Beijing", dest: "Shanghai"},
		{query: "route from Beijing to Shanghai", origin: "Beijing", dest: "Shanghai"},
		{query: "How do I get from New York to Boston?", origin: "New York", dest: "Boston"},
		{query: "driving from Paris to Lyon", origin: "Paris", dest: "Lyon"},
		{query: "just one place", wantErr: true},
		{query: "to Shanghai", wantErr: true},
	}
	for _, tc := range cases {
		origin, dest, err := parseRouteEndpoints(tc.query)
		if tc.wantErr {
			if !errors.Is(err, types.ErrInvalidQuery) {
				t.Errorf("parseRouteEndpoints(%q) err = %v, want ErrInvalidQuery", tc.query, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseRouteEndpoints(%q): %v", tc.query, err)
			continue
		}
		if origin != tc.origin || dest != tc.dest {
			t.Errorf("parseRouteEndpoints(%q) = %q -> %q, want %q -> %q", tc.query, origin, dest, tc.origin, tc.dest)
		}
	}
}

func TestFormatTravelTime(t *testing.T) {
	cases := map[float64]string{
		40740: "11h19m",
		3600:  "1h00m",
		2520:  "42m",
		45:    "45s",
		0:     "0s",
	}
	for seconds, want := range cases {
		if got := formatTravelTime(seconds); got != want {
			t.Errorf("formatTravelTime(%v) = %q, want %q", seconds, got, want)
		}
	}
}
