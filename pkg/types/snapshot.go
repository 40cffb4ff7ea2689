package types

// Snapshot is one site's fully-assembled reading for a poll cycle. It is
// immutable once built and replaced wholesale on the next cycle.
type Snapshot struct {
	SiteID    string
	Details   *PlantDetails
	Powerflow *Powerflow
	Energy    EnergyByWindow
}
