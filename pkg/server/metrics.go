package server

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lgesmon/lgesmon/pkg/sems"
	"github.com/lgesmon/lgesmon/pkg/types"
)

// collector exposes the latest poll cycle as Prometheus metrics. Values are
// read at scrape time so a scrape never triggers a portal request.
type collector struct {
	source Source

	power           *prometheus.Desc
	batterySOC      *prometheus.Desc
	energy          *prometheus.Desc
	status          *prometheus.Desc
	income          *prometheus.Desc
	solarCapacity   *prometheus.Desc
	batteryCapacity *prometheus.Desc
	lastPoll        *prometheus.Desc
	authFailures    *prometheus.Desc
	persistent      *prometheus.Desc
}

func newCollector(src Source) *collector {
	return &collector{
		source: src,
		power: prometheus.NewDesc(
			"lgesmon_power_watts",
			"Instantaneous power reading, positive battery means discharging and positive grid means importing",
			[]string{"site", "flow"}, nil,
		),
		batterySOC: prometheus.NewDesc(
			"lgesmon_battery_soc_percent",
			"Battery state of charge",
			[]string{"site", "serial"}, nil,
		),
		energy: prometheus.NewDesc(
			"lgesmon_energy_kwh",
			"Aggregate energy total for a window",
			[]string{"site", "window", "field"}, nil,
		),
		status: prometheus.NewDesc(
			"lgesmon_site_status",
			"Portal station status code (-1 error, 0 offline, 1 online, 2 waiting)",
			[]string{"site", "status"}, nil,
		),
		income: prometheus.NewDesc(
			"lgesmon_income",
			"Portal-reported income in the site currency",
			[]string{"site", "window", "currency"}, nil,
		),
		solarCapacity: prometheus.NewDesc(
			"lgesmon_solar_capacity_kw",
			"Installed solar capacity",
			[]string{"site"}, nil,
		),
		batteryCapacity: prometheus.NewDesc(
			"lgesmon_battery_capacity_kwh",
			"Installed battery capacity",
			[]string{"site"}, nil,
		),
		lastPoll: prometheus.NewDesc(
			"lgesmon_last_poll_timestamp_seconds",
			"When the last successful poll cycle finished",
			nil, nil,
		),
		authFailures: prometheus.NewDesc(
			"lgesmon_auth_failures",
			"Consecutive poll cycles that failed authentication",
			nil, nil,
		),
		persistent: prometheus.NewDesc(
			"lgesmon_auth_failure_persistent",
			"1 when authentication has failed enough consecutive cycles to be persistent",
			nil, nil,
		),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.power
	ch <- c.batterySOC
	ch <- c.energy
	ch <- c.status
	ch <- c.income
	ch <- c.solarCapacity
	ch <- c.batteryCapacity
	ch <- c.lastPoll
	ch <- c.authFailures
	ch <- c.persistent
}

var energyMetricFields = []struct {
	name  string
	value func(types.ModelData) *float64
}{
	{"generation", func(m types.ModelData) *float64 { return m.Sum }},
	{"grid_import", func(m types.ModelData) *float64 { return m.Buy }},
	{"grid_export", func(m types.ModelData) *float64 { return m.Sell }},
	{"self_use", func(m types.ModelData) *float64 { return m.SelfUseOfPV }},
	{"battery_charge", func(m types.ModelData) *float64 { return m.Charge }},
	{"battery_discharge", func(m types.ModelData) *float64 { return m.Discharge }},
	{"consumption", func(m types.ModelData) *float64 { return m.ConsumptionOfLoad }},
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.authFailures, prometheus.GaugeValue, float64(c.source.AuthFailures()))
	persistent := 0.0
	if c.source.Persistent() {
		persistent = 1
	}
	ch <- prometheus.MustNewConstMetric(c.persistent, prometheus.GaugeValue, persistent)
	if last := c.source.LastSuccess(); !last.IsZero() {
		ch <- prometheus.MustNewConstMetric(c.lastPoll, prometheus.GaugeValue, float64(last.Unix()))
	}

	for id, snap := range c.source.Latest() {
		if pf := snap.Powerflow; pf != nil {
			flows := map[string]*float64{
				"solar":   sems.ParsePower(pf.PV),
				"battery": sems.ParsePower(pf.BatteryReading()),
				"load":    sems.ParsePower(pf.Load),
				"grid":    sems.ParsePower(pf.Grid),
			}
			for flow, v := range flows {
				if v == nil {
					continue
				}
				ch <- prometheus.MustNewConstMetric(c.power, prometheus.GaugeValue, *v, id, flow)
			}
		}

		if det := snap.Details; det != nil {
			code := 0.0
			if det.Info.Status != nil {
				code = float64(*det.Info.Status)
			}
			ch <- prometheus.MustNewConstMetric(c.status, prometheus.GaugeValue, code, id, sems.StatusString(det.Info.Status))

			for _, bat := range det.SOC {
				if bat.Power == nil {
					continue
				}
				ch <- prometheus.MustNewConstMetric(c.batterySOC, prometheus.GaugeValue, *bat.Power, id, bat.Serial)
			}

			if det.Info.Capacity != nil {
				ch <- prometheus.MustNewConstMetric(c.solarCapacity, prometheus.GaugeValue, *det.Info.Capacity, id)
			}
			if det.Info.BatteryCapacity != nil {
				ch <- prometheus.MustNewConstMetric(c.batteryCapacity, prometheus.GaugeValue, *det.Info.BatteryCapacity, id)
			}

			currency := det.KPI.Currency
			if currency == "" {
				currency = "AUD"
			}
			if det.KPI.DayIncome != nil {
				ch <- prometheus.MustNewConstMetric(c.income, prometheus.GaugeValue, *det.KPI.DayIncome, id, "day", currency)
			}
			if det.KPI.TotalIncome != nil {
				ch <- prometheus.MustNewConstMetric(c.income, prometheus.GaugeValue, *det.KPI.TotalIncome, id, "total", currency)
			}
		}

		for _, w := range types.Windows {
			md := snap.Energy.Window(w)
			for _, f := range energyMetricFields {
				if v := f.value(md); v != nil {
					ch <- prometheus.MustNewConstMetric(c.energy, prometheus.GaugeValue, *v, id, w.String(), f.name)
				}
			}
		}
		lifetime := types.AllTimeTotals(snap.Energy.AllTime, snap.Energy.Day)
		for _, f := range energyMetricFields {
			if v := f.value(lifetime); v != nil {
				ch <- prometheus.MustNewConstMetric(c.energy, prometheus.GaugeValue, *v, id, "lifetime", f.name)
			}
		}
	}
}
