package mqtt

import (
	"fmt"
	"strings"
	"time"

	"github.com/lgesmon/lgesmon/pkg/sems"
	"github.com/lgesmon/lgesmon/pkg/types"
)

// SensorDef describes one per-site sensor for Home Assistant discovery.
type SensorDef struct {
	Key         string
	Name        string
	Unit        string
	DeviceClass string
	StateClass  string
	Icon        string
}

type energyField struct {
	key   string
	name  string
	value func(types.ModelData) *float64
}

var energyFields = []energyField{
	{"generation", "Generation", func(m types.ModelData) *float64 { return m.Sum }},
	{"grid_import", "Grid Import", func(m types.ModelData) *float64 { return m.Buy }},
	{"grid_export", "Grid Export", func(m types.ModelData) *float64 { return m.Sell }},
	{"self_use", "Self Use", func(m types.ModelData) *float64 { return m.SelfUseOfPV }},
	{"battery_charge", "Battery Charge", func(m types.ModelData) *float64 { return m.Charge }},
	{"battery_discharge", "Battery Discharge", func(m types.ModelData) *float64 { return m.Discharge }},
	{"consumption", "Consumption", func(m types.ModelData) *float64 { return m.ConsumptionOfLoad }},
}

type windowDef struct {
	window types.EnergyWindow
	key    string
	name   string
}

var windowDefs = []windowDef{
	{types.WindowDay, "day", "Daily"},
	{types.WindowMonth, "month", "Monthly"},
	{types.WindowYear, "year", "Yearly"},
	{types.WindowAllTime, "all_time", "All-Time"},
}

// batteryKey names one battery's sensor. The serial keeps topics stable if
// the portal reorders the list; the index is the fallback for batteries
// reported without one.
func batteryKey(i int, serial string) string {
	if serial == "" {
		return fmt.Sprintf("battery_%d", i+1)
	}
	return "battery_" + strings.ToLower(serial)
}

func batteryName(i int, serial string) string {
	if serial == "" {
		return fmt.Sprintf("Battery %d", i+1)
	}
	tail := serial
	if len(tail) > 8 {
		tail = tail[len(tail)-8:]
	}
	return fmt.Sprintf("Battery %d (%s)", i+1, tail)
}

// siteSensors returns the full sensor set published for one site. Most of
// the set is fixed but the per-battery sensors depend on what the detail
// record reported.
func siteSensors(snap types.Snapshot) []SensorDef {
	defs := []SensorDef{
		{"solar_power", "Solar Power", "W", "power", "measurement", "mdi:solar-power"},
		{"battery_power", "Battery Power", "W", "power", "measurement", "mdi:battery"},
		{"load_power", "Load Power", "W", "power", "measurement", "mdi:home-lightning-bolt"},
		{"grid_power", "Grid Power", "W", "power", "measurement", "mdi:transmission-tower"},
		{"battery_soc", "Battery", "%", "battery", "measurement", ""},
		{"solar_capacity", "Solar Capacity", "kW", "power", "", "mdi:solar-panel-large"},
		{"battery_capacity", "Battery Capacity", "kWh", "energy_storage", "", "mdi:battery-high"},
		{"status", "Status", "", "", "", "mdi:information-outline"},
		{"day_income", "Daily Income", "", "monetary", "total", "mdi:cash"},
		{"total_income", "Total Income", "", "monetary", "total", "mdi:cash-multiple"},
		{"last_update", "Last Update", "", "timestamp", "", ""},
	}
	if det := snap.Details; det != nil {
		for i, bat := range det.SOC {
			defs = append(defs, SensorDef{
				Key:         batteryKey(i, bat.Serial),
				Name:        batteryName(i, bat.Serial),
				Unit:        "%",
				DeviceClass: "battery",
				StateClass:  "measurement",
			})
		}
	}
	for _, w := range windowDefs {
		for _, f := range energyFields {
			defs = append(defs, SensorDef{
				Key:         w.key + "_" + f.key,
				Name:        w.name + " " + f.name,
				Unit:        "kWh",
				DeviceClass: "energy",
				StateClass:  "total_increasing",
			})
		}
	}
	// derived lifetime totals that combine the all-time baseline with today's
	// partial figures
	for _, f := range energyFields {
		defs = append(defs, SensorDef{
			Key:         "total_" + f.key,
			Name:        "Total " + f.name,
			Unit:        "kWh",
			DeviceClass: "energy",
			StateClass:  "total_increasing",
		})
	}
	return defs
}

// siteStateValues flattens one snapshot into sensor key to value. Absent
// readings are left out entirely rather than sent as zero.
func siteStateValues(snap types.Snapshot) map[string]interface{} {
	vals := make(map[string]interface{})

	if pf := snap.Powerflow; pf != nil {
		if v := sems.ParsePower(pf.PV); v != nil {
			vals["solar_power"] = *v
		}
		battery := sems.ParsePower(pf.BatteryReading())
		if battery != nil {
			vals["battery_power"] = *battery
		}
		vals["battery_flow_icon"] = sems.BatteryFlowIcon(battery)
		if v := sems.ParsePower(pf.Load); v != nil {
			vals["load_power"] = *v
		}
		grid := sems.ParsePower(pf.Grid)
		if grid != nil {
			vals["grid_power"] = *grid
		}
		vals["grid_flow_icon"] = sems.GridFlowIcon(grid)
	}

	if det := snap.Details; det != nil {
		vals["status"] = sems.StatusString(det.Info.Status)
		if len(det.SOC) > 0 {
			soc := det.SOC[0].Power
			if soc != nil {
				vals["battery_soc"] = *soc
			}
			vals["battery_icon"] = sems.BatteryIcon(soc)
		}
		for i, bat := range det.SOC {
			if bat.Power != nil {
				vals[batteryKey(i, bat.Serial)] = *bat.Power
			}
		}
		if det.Info.Capacity != nil {
			vals["solar_capacity"] = *det.Info.Capacity
		}
		if det.Info.BatteryCapacity != nil {
			vals["battery_capacity"] = *det.Info.BatteryCapacity
		}
		if det.KPI.DayIncome != nil {
			vals["day_income"] = *det.KPI.DayIncome
		}
		if det.KPI.TotalIncome != nil {
			vals["total_income"] = *det.KPI.TotalIncome
		}
		currency := det.KPI.Currency
		if currency == "" {
			currency = "AUD"
		}
		vals["currency"] = currency
		if t := sems.LastUpdate(det.Info); t != nil {
			vals["last_update"] = t.Format(time.RFC3339)
		}
	} else {
		vals["status"] = sems.StatusString(nil)
	}

	for _, w := range windowDefs {
		md := snap.Energy.Window(w.window)
		for _, f := range energyFields {
			if v := f.value(md); v != nil {
				vals[w.key+"_"+f.key] = *v
			}
		}
	}

	derived := types.AllTimeTotals(snap.Energy.AllTime, snap.Energy.Day)
	for _, f := range energyFields {
		if v := f.value(derived); v != nil {
			vals["total_"+f.key] = *v
		}
	}

	return vals
}
