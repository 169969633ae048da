package weather

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/LeonardoBeccarini/smartfarm/internal/model/messages"
	"github.com/LeonardoBeccarini/smartfarm/internal/upstream"
)

var ErrNoForecast = errors.New("no daily forecast")

const dailyVariables = "temperature_2m_max,temperature_2m_min,uv_index_max,precipitation_sum"

var dailyNames = strings.Split(dailyVariables, ",")

type dailyResp struct {
	Daily struct {
		Time          []string   `json:"time"`
		TempMax       []*float64 `json:"temperature_2m_max"`
		TempMin       []*float64 `json:"temperature_2m_min"`
		UVIndexMax    []*float64 `json:"uv_index_max"`
		Precipitation []*float64 `json:"precipitation_sum"`
	} `json:"daily"`
}

// Client reads the daily outlook for one location from Open-Meteo.
type Client struct {
	up        *upstream.Upstream
	latitude  float64
	longitude float64
	loc       *time.Location
}

func NewClient(up *upstream.Upstream, latitude, longitude float64, loc *time.Location) *Client {
	if loc == nil {
		loc = time.Local
	}
	return &Client{up: up, latitude: latitude, longitude: longitude, loc: loc}
}

func (c *Client) forecastPath() string {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(c.latitude, 'f', 4, 64))
	q.Set("longitude", strconv.FormatFloat(c.longitude, 'f', 4, 64))
	q.Set("daily", dailyVariables)
	q.Set("timezone", c.loc.String())
	q.Set("forecast_days", "1")
	return "/forecast?" + q.Encode()
}

// Forecast returns today's outlook in the configured timezone.
func (c *Client) Forecast(ctx context.Context) (messages.WeatherForecast, error) {
	var out dailyResp
	if err := c.up.GetJSON(ctx, c.forecastPath(), &out); err != nil {
		return messages.WeatherForecast{}, fmt.Errorf("weather forecast: %w", err)
	}
	d := out.Daily
	if len(d.Time) == 0 {
		return messages.WeatherForecast{}, ErrNoForecast
	}
	date, err := time.ParseInLocation("2006-01-02", d.Time[0], c.loc)
	if err != nil {
		return messages.WeatherForecast{}, fmt.Errorf("weather forecast date %q: %w", d.Time[0], err)
	}
	vals := make([]float64, 4)
	for i, series := range [][]*float64{d.TempMax, d.TempMin, d.UVIndexMax, d.Precipitation} {
		if len(series) == 0 || series[0] == nil {
			return messages.WeatherForecast{}, fmt.Errorf("%w: missing %s", ErrNoForecast, dailyNames[i])
		}
		vals[i] = *series[0]
	}
	return messages.WeatherForecast{
		Date:          date,
		TempMax:       vals[0],
		TempMin:       vals[1],
		UVIndexMax:    vals[2],
		Precipitation: vals[3],
	}, nil
}

// FormatForecast renders the synopsis line used in reports.
func FormatForecast(f messages.WeatherForecast) string {
	return fmt.Sprintf("Forecast for %s: %.1f°C to %.1f°C, %.1f mm precipitation, max UV index %.1f.",
		f.Date.Format("Monday, 02 January 2006"), f.TempMin, f.TempMax, f.Precipitation, f.UVIndexMax)
}

func (c *Client) SummarizeWeather(ctx context.Context) (string, error) {
	f, err := c.Forecast(ctx)
	if err != nil {
		return "", err
	}
	return FormatForecast(f), nil
}
