package external

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"smartdelay/internal/types"
)

// openMeteoAPIBase is the public Open-Meteo forecast API.
const openMeteoAPIBase = "https://api.open-meteo.com"

// openMeteoHourlyVars are the hourly fields requested from the forecast API.
const openMeteoHourlyVars = "temperature_2m,precipitation,wind_speed_10m,weather_code"

// severeWeatherCodes maps WMO weather codes to the alert names attached to a
// forecast sample. Open-Meteo has no alert feed, so the codes for
// thunderstorms and the heavy end of rain/snow/showers stand in for alerts.
var severeWeatherCodes = map[int]string{
	65: "heavy_rain",
	75: "heavy_snow",
	82: "violent_rain_showers",
	86: "heavy_snow_showers",
	95: "thunderstorm",
	96: "thunderstorm_hail",
	99: "thunderstorm_heavy_hail",
}

// OpenMeteoConfig holds the configuration for creating an OpenMeteoClient.
type OpenMeteoConfig struct {
	BaseURL string // Override for testing; defaults to openMeteoAPIBase
	Logger  *slog.Logger
}

// openMeteoResponse is the subset of the /v1/forecast response we read.
// Values may be null for hours the model does not cover.
type openMeteoResponse struct {
	Hourly struct {
		Time          []int64    `json:"time"`
		Temperature2m []*float64 `json:"temperature_2m"`
		Precipitation []*float64 `json:"precipitation"`
		WindSpeed10m  []*float64 `json:"wind_speed_10m"`
		WeatherCode   []*int     `json:"weather_code"`
	} `json:"hourly"`
}

// OpenMeteoClient implements the scheduler's forecast source against the
// Open-Meteo hourly forecast API.
type OpenMeteoClient struct {
	base    *BaseClient
	baseURL string
	logger  *slog.Logger
}

// NewOpenMeteoClient creates a client with the default retry policy.
func NewOpenMeteoClient(httpClient *http.Client, cfg OpenMeteoConfig) *OpenMeteoClient {
	base := NewBaseClient(httpClient, "open-meteo", DefaultRetryPolicy(), "SmartDelay/1.0")
	return NewOpenMeteoClientWithBase(base, cfg)
}

// NewOpenMeteoClientWithBase creates a client around a pre-configured
// BaseClient (tests disable retries this way).
func NewOpenMeteoClientWithBase(base *BaseClient, cfg OpenMeteoConfig) *OpenMeteoClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = openMeteoAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenMeteoClient{
		base:    base,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

// GetHourlyForecast returns up to hours hourly samples for the point,
// starting at the current hour, in UTC. An empty slice with a nil error
// means the source had no data; it is not a failure.
func (c *OpenMeteoClient) GetHourlyForecast(ctx context.Context, lat, lon float64, hours int) ([]types.ForecastSample, error) {
	if hours <= 0 {
		return nil, nil
	}

	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(lat, 'f', 4, 64))
	q.Set("longitude", strconv.FormatFloat(lon, 'f', 4, 64))
	q.Set("hourly", openMeteoHourlyVars)
	q.Set("forecast_hours", strconv.Itoa(hours))
	q.Set("wind_speed_unit", "kmh")
	q.Set("precipitation_unit", "mm")
	q.Set("timeformat", "unixtime")
	q.Set("timezone", "GMT")

	reqURL := c.baseURL + "/v1/forecast?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create forecast request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open-meteo GetHourlyForecast: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeUpstreamForecast,
			fmt.Sprintf("open-meteo returned %d", resp.StatusCode),
			nil,
			map[string]any{"status": resp.StatusCode},
		)
	}

	var body openMeteoResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamForecast, "failed to decode open-meteo response", err)
	}

	samples := toSamples(body)
	c.logger.DebugContext(ctx, "forecast fetched",
		"lat", lat,
		"lon", lon,
		"samples", len(samples),
	)
	return samples, nil
}

// toSamples zips the column arrays into samples, skipping hours where any
// required value is null and truncating to the shortest column.
func toSamples(body openMeteoResponse) []types.ForecastSample {
	h := body.Hourly
	n := min(len(h.Time), len(h.Temperature2m), len(h.Precipitation), len(h.WindSpeed10m))

	samples := make([]types.ForecastSample, 0, n)
	for i := 0; i < n; i++ {
		if h.Temperature2m[i] == nil || h.Precipitation[i] == nil || h.WindSpeed10m[i] == nil {
			continue
		}
		s := types.ForecastSample{
			Time:     time.Unix(h.Time[i], 0).UTC(),
			TempC:    *h.Temperature2m[i],
			PrecipMM: *h.Precipitation[i],
			WindKPH:  *h.WindSpeed10m[i],
		}
		if i < len(h.WeatherCode) && h.WeatherCode[i] != nil {
			if alert, ok := severeWeatherCodes[*h.WeatherCode[i]]; ok {
				s.SevereAlerts = []string{alert}
			}
		}
		samples = append(samples, s)
	}
	return samples
}
