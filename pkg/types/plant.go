package types

import (
	"encoding/json"
	"strconv"
)

// PlantDetails is the portal's per-site detail record. Some deployments
// include a powerflow sub-object here as well as on the dedicated powerflow
// endpoint.
type PlantDetails struct {
	Info      PlantInfo      `json:"info"`
	KPI       PlantKPI       `json:"kpi"`
	SOC       []BatteryState `json:"soc"`
	Powerflow *Powerflow     `json:"powerflow"`
}

// PlantInfo carries station metadata. TimeSpan is the portal's timezone
// offset convention where a negative value means UTC plus that many hours.
type PlantInfo struct {
	StationName     string   `json:"stationname"`
	Address         string   `json:"address"`
	StationType     string   `json:"powerstation_type"`
	Status          *int     `json:"status"`
	Capacity        *float64 `json:"capacity"`
	BatteryCapacity *float64 `json:"battery_capacity"`
	LocalDate       string   `json:"local_date"`
	TimeSpan        *float64 `json:"time_span"`
}

// PlantKPI carries the portal's income figures for a site.
type PlantKPI struct {
	DayIncome   *float64 `json:"day_income"`
	TotalIncome *float64 `json:"total_income"`
	Currency    string   `json:"currency"`
}

// BatteryState is one battery's entry from the detail record. Power is the
// state-of-charge percentage despite the portal's field name.
type BatteryState struct {
	Serial string          `json:"sn"`
	Power  *float64        `json:"power"`
	Status *int            `json:"status"`
	Local  json.RawMessage `json:"local"`
}

// Powerflow holds the instantaneous power readings at poll time. The portal
// misspells the battery key but some firmware versions send the corrected
// spelling, so both are decoded.
type Powerflow struct {
	PV         PowerString `json:"pv"`
	Battery    PowerString `json:"bettery"` // misspelled by the portal
	BatteryAlt PowerString `json:"battery"`
	Load       PowerString `json:"load"`
	Grid       PowerString `json:"grid"`
}

// BatteryReading returns whichever battery field the portal populated.
func (p Powerflow) BatteryReading() PowerString {
	if p.Battery != "" {
		return p.Battery
	}
	return p.BatteryAlt
}

// PowerString is a power reading as the portal reports it: either a bare
// number or a string like "582.0W" or "1.5kW". Empty means not reported.
type PowerString string

func (p *PowerString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*p = PowerString(s)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*p = PowerString(strconv.FormatFloat(f, 'f', -1, 64))
	return nil
}
