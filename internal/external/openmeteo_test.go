package external

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartdelay/internal/types"
)

func newTestOpenMeteo(t *testing.T, handler http.HandlerFunc) *OpenMeteoClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	base := NewBaseClient(&http.Client{Timeout: 5 * time.Second}, "open-meteo-test", NoRetryPolicy(), "", WithSleepFunc(noopSleep))
	return NewOpenMeteoClientWithBase(base, OpenMeteoConfig{BaseURL: server.URL})
}

func TestOpenMeteo_GetHourlyForecast(t *testing.T) {
	client := newTestOpenMeteo(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/forecast", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "47.6062", q.Get("latitude"))
		assert.Equal(t, "-122.3321", q.Get("longitude"))
		assert.Equal(t, "3", q.Get("forecast_hours"))
		assert.Equal(t, "unixtime", q.Get("timeformat"))
		assert.Equal(t, openMeteoHourlyVars, q.Get("hourly"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"hourly":{
			"time":[1772352000,1772355600,1772359200],
			"temperature_2m":[4.5,null,-12.0],
			"precipitation":[0.0,1.0,8.2],
			"wind_speed_10m":[12.0,30.0,55.5],
			"weather_code":[3,61,95]
		}}`))
	})

	samples, err := client.GetHourlyForecast(context.Background(), 47.6062, -122.3321, 3)
	require.NoError(t, err)
	require.Len(t, samples, 2, "hour with a null value is skipped")

	assert.Equal(t, time.Unix(1772352000, 0).UTC(), samples[0].Time)
	assert.Equal(t, 4.5, samples[0].TempC)
	assert.Empty(t, samples[0].SevereAlerts)

	assert.Equal(t, 55.5, samples[1].WindKPH)
	assert.Equal(t, 8.2, samples[1].PrecipMM)
	assert.Equal(t, []string{"thunderstorm"}, samples[1].SevereAlerts)
}

func TestOpenMeteo_EmptyHourlyIsNoData(t *testing.T) {
	client := newTestOpenMeteo(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"hourly":{"time":[],"temperature_2m":[],"precipitation":[],"wind_speed_10m":[]}}`))
	})

	samples, err := client.GetHourlyForecast(context.Background(), 1, 2, 6)
	require.NoError(t, err)
	assert.Empty(t, samples)
}

func TestOpenMeteo_ZeroHoursSkipsRequest(t *testing.T) {
	client := newTestOpenMeteo(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	samples, err := client.GetHourlyForecast(context.Background(), 1, 2, 0)
	require.NoError(t, err)
	assert.Nil(t, samples)
}

func TestOpenMeteo_ErrorStatuses(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		code   types.ErrorCode
	}{
		{"bad request", http.StatusBadRequest, `{"error":true,"reason":"bad lat"}`, types.ErrCodeUpstreamForecast},
		{"server error", http.StatusInternalServerError, ``, types.ErrCodeUpstreamUnavailable},
		{"malformed json", http.StatusOK, `{"hourly":`, types.ErrCodeUpstreamForecast},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestOpenMeteo(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := client.GetHourlyForecast(context.Background(), 1, 2, 6)
			require.Error(t, err)
			assert.Equal(t, tt.code, types.CodeOf(err))
			assert.True(t, types.CodeOf(err).IsTransient())
		})
	}
}
