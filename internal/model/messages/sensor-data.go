package messages

// SensorPayload is the JSON published by the node on the data topic.
// pH and TDS messages carry "type"; DHT22 messages carry no type, only temperature and humidity.
type SensorPayload struct {
	Type        string   `json:"type,omitempty"`
	Value       *float64 `json:"value,omitempty"`
	PH          *float64 `json:"ph,omitempty"`
	CompPH      *float64 `json:"comp_ph,omitempty"`
	TDS         *float64 `json:"tds,omitempty"`
	CompTDS     *float64 `json:"comp_tds,omitempty"`
	Temp        *float64 `json:"temp,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
}
