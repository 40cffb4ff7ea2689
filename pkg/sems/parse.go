package sems

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lgesmon/lgesmon/pkg/types"
)

var powerRE = regexp.MustCompile(`(?i)^\s*(-?[0-9.]+)\s*(kW|W)?\s*$`)

// ParsePower converts a portal power reading like "582.0W", "-1252.0W" or
// "1.5kW" to watts. Bare numbers are taken as watts. Returns nil for
// anything unparseable.
func ParsePower(v types.PowerString) *float64 {
	m := powerRE.FindStringSubmatch(string(v))
	if m == nil {
		return nil
	}
	f, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil
	}
	if strings.EqualFold(m[2], "kW") {
		f *= 1000
	}
	return &f
}

// StatusString maps the portal's numeric station status to a name. Unknown
// codes and a missing status both map to "unknown".
func StatusString(code *int) string {
	if code == nil {
		return "unknown"
	}
	switch *code {
	case -1:
		return "error"
	case 0:
		return "offline"
	case 1:
		return "online"
	case 2:
		return "waiting"
	}
	return "unknown"
}

// BatteryIcon returns the icon tier for a state-of-charge percentage.
func BatteryIcon(soc *float64) string {
	if soc == nil {
		return "mdi:battery-unknown"
	}
	switch {
	case *soc >= 95:
		return "mdi:battery"
	case *soc >= 85:
		return "mdi:battery-90"
	case *soc >= 75:
		return "mdi:battery-80"
	case *soc >= 65:
		return "mdi:battery-70"
	case *soc >= 55:
		return "mdi:battery-60"
	case *soc >= 45:
		return "mdi:battery-50"
	case *soc >= 35:
		return "mdi:battery-40"
	case *soc >= 25:
		return "mdi:battery-30"
	case *soc >= 15:
		return "mdi:battery-20"
	case *soc >= 5:
		return "mdi:battery-10"
	}
	return "mdi:battery-outline"
}

// BatteryFlowIcon returns the icon for a battery power reading in watts,
// where positive means discharging.
func BatteryFlowIcon(watts *float64) string {
	if watts == nil {
		return "mdi:battery"
	}
	if *watts > 0 {
		return "mdi:battery-arrow-down"
	}
	if *watts < 0 {
		return "mdi:battery-arrow-up"
	}
	return "mdi:battery"
}

// GridFlowIcon returns the icon for a grid power reading in watts, where
// positive means importing from the grid.
func GridFlowIcon(watts *float64) string {
	if watts == nil {
		return "mdi:transmission-tower"
	}
	if *watts > 0 {
		return "mdi:transmission-tower-import"
	}
	if *watts < 0 {
		return "mdi:transmission-tower-export"
	}
	return "mdi:transmission-tower"
}

// DisplayName picks a human name for a site: the address if set, then the
// station name, then a generated name from the id.
func DisplayName(det *types.PlantDetails, siteID string) string {
	if det != nil {
		if det.Info.Address != "" {
			return det.Info.Address
		}
		if det.Info.StationName != "" {
			return det.Info.StationName
		}
	}
	short := siteID
	if len(short) > 8 {
		short = short[:8]
	}
	return "LGES Station " + short
}

// LastUpdate converts the detail record's local_date into an absolute time
// using the portal's time_span offset convention, where a negative span
// means UTC plus that many hours. Returns nil when the portal did not report
// a date or it cannot be parsed.
func LastUpdate(info types.PlantInfo) *time.Time {
	if info.LocalDate == "" {
		return nil
	}
	loc := time.UTC
	if info.TimeSpan != nil {
		loc = time.FixedZone("site", int(-*info.TimeSpan*3600))
	}
	t, err := time.ParseInLocation("2006-01-02 15:04:05", info.LocalDate, loc)
	if err != nil {
		return nil
	}
	return &t
}
