package types

// EnergyWindow is one of the four aggregate time windows the portal's chart
// endpoint can report.
type EnergyWindow int

const (
	WindowDay EnergyWindow = iota
	WindowMonth
	WindowYear
	WindowAllTime
)

// Windows lists every window in the order they're fetched each cycle.
var Windows = []EnergyWindow{WindowDay, WindowMonth, WindowYear, WindowAllTime}

// RangeCode returns the range value the chart endpoint expects for this
// window.
func (w EnergyWindow) RangeCode() string {
	switch w {
	case WindowDay:
		return "2"
	case WindowMonth:
		return "3"
	case WindowYear:
		return "4"
	case WindowAllTime:
		return "1"
	}
	return ""
}

func (w EnergyWindow) String() string {
	switch w {
	case WindowDay:
		return "day"
	case WindowMonth:
		return "month"
	case WindowYear:
		return "year"
	case WindowAllTime:
		return "allTime"
	}
	return "unknown"
}

// ModelData is the portal's aggregate energy-statistics record for one
// window. All fields are optional: nil means the portal did not report the
// value, which is distinct from zero.
type ModelData struct {
	Sum               *float64 `json:"sum"`
	Buy               *float64 `json:"buy"`
	Sell              *float64 `json:"sell"`
	SelfUseOfPV       *float64 `json:"selfUseOfPv"`
	Charge            *float64 `json:"charge"`
	Discharge         *float64 `json:"disCharge"` // misspelled by the portal
	ConsumptionOfLoad *float64 `json:"consumptionOfLoad"`
}

// EnergyByWindow holds the four per-window aggregate records of one snapshot.
type EnergyByWindow struct {
	Day     ModelData
	Month   ModelData
	Year    ModelData
	AllTime ModelData
}

// Window returns the record for the given window.
func (e EnergyByWindow) Window(w EnergyWindow) ModelData {
	switch w {
	case WindowDay:
		return e.Day
	case WindowMonth:
		return e.Month
	case WindowYear:
		return e.Year
	case WindowAllTime:
		return e.AllTime
	}
	return ModelData{}
}

// Set stores the record for the given window.
func (e *EnergyByWindow) Set(w EnergyWindow, d ModelData) {
	switch w {
	case WindowDay:
		e.Day = d
	case WindowMonth:
		e.Month = d
	case WindowYear:
		e.Year = d
	case WindowAllTime:
		e.AllTime = d
	}
}

// AllTimeTotals combines the all-time aggregate with the current day's
// partial total. The portal only rolls the day into the all-time record once
// daily so the live total is the sum of both. A field absent from the
// all-time record stays absent in the result, never zero.
func AllTimeTotals(allTime, day ModelData) ModelData {
	return ModelData{
		Sum:               addOptional(allTime.Sum, day.Sum),
		Buy:               addOptional(allTime.Buy, day.Buy),
		Sell:              addOptional(allTime.Sell, day.Sell),
		SelfUseOfPV:       addOptional(allTime.SelfUseOfPV, day.SelfUseOfPV),
		Charge:            addOptional(allTime.Charge, day.Charge),
		Discharge:         addOptional(allTime.Discharge, day.Discharge),
		ConsumptionOfLoad: addOptional(allTime.ConsumptionOfLoad, day.ConsumptionOfLoad),
	}
}

func addOptional(base, extra *float64) *float64 {
	if base == nil {
		return nil
	}
	v := *base
	if extra != nil {
		v += *extra
	}
	return &v
}
