package messages

import "time"

// WeatherForecast is the daily outlook used in reports and the weather log.
type WeatherForecast struct {
	Date          time.Time `json:"date"`
	TempMax       float64   `json:"temp_max"`
	TempMin       float64   `json:"temp_min"`
	UVIndexMax    float64   `json:"uv_index_max"`
	Precipitation float64   `json:"precipitation_sum"`
}
