package sems

import (
	"testing"
	"time"

	"github.com/lgesmon/lgesmon/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fptr(f float64) *float64 { return &f }
func iptr(i int) *int         { return &i }

func TestParsePower(t *testing.T) {
	tests := []struct {
		in   types.PowerString
		want *float64
	}{
		{"582.0W", fptr(582)},
		{"-1252.0W", fptr(-1252)},
		{"1.5kW", fptr(1500)},
		{"1.5KW", fptr(1500)},
		{"582", fptr(582)},
		{"250", fptr(250)},
		{"0W", fptr(0)},
		{"garbage", nil},
		{"", nil},
	}
	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			got := ParsePower(tt.in)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, *tt.want, *got)
		})
	}
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "error", StatusString(iptr(-1)))
	assert.Equal(t, "offline", StatusString(iptr(0)))
	assert.Equal(t, "online", StatusString(iptr(1)))
	assert.Equal(t, "waiting", StatusString(iptr(2)))
	assert.Equal(t, "unknown", StatusString(iptr(99)))
	assert.Equal(t, "unknown", StatusString(nil))
}

func TestBatteryIcon(t *testing.T) {
	tests := []struct {
		soc  *float64
		want string
	}{
		{nil, "mdi:battery-unknown"},
		{fptr(100), "mdi:battery"},
		{fptr(95), "mdi:battery"},
		{fptr(90), "mdi:battery-90"},
		{fptr(70), "mdi:battery-70"},
		{fptr(50), "mdi:battery-50"},
		{fptr(20), "mdi:battery-20"},
		{fptr(5), "mdi:battery-10"},
		{fptr(2), "mdi:battery-outline"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BatteryIcon(tt.soc))
	}
}

func TestFlowIcons(t *testing.T) {
	assert.Equal(t, "mdi:battery-arrow-down", BatteryFlowIcon(fptr(500)))
	assert.Equal(t, "mdi:battery-arrow-up", BatteryFlowIcon(fptr(-500)))
	assert.Equal(t, "mdi:battery", BatteryFlowIcon(fptr(0)))
	assert.Equal(t, "mdi:battery", BatteryFlowIcon(nil))

	assert.Equal(t, "mdi:transmission-tower-import", GridFlowIcon(fptr(250)))
	assert.Equal(t, "mdi:transmission-tower-export", GridFlowIcon(fptr(-250)))
	assert.Equal(t, "mdi:transmission-tower", GridFlowIcon(fptr(0)))
	assert.Equal(t, "mdi:transmission-tower", GridFlowIcon(nil))
}

func TestDisplayName(t *testing.T) {
	det := &types.PlantDetails{}
	det.Info.Address = "1 Example St"
	det.Info.StationName = "Home"
	assert.Equal(t, "1 Example St", DisplayName(det, "abcdefgh1234"))

	det.Info.Address = ""
	assert.Equal(t, "Home", DisplayName(det, "abcdefgh1234"))

	det.Info.StationName = ""
	assert.Equal(t, "LGES Station abcdefgh", DisplayName(det, "abcdefgh1234"))
	assert.Equal(t, "LGES Station abc", DisplayName(nil, "abc"))
}

func TestLastUpdate(t *testing.T) {
	info := types.PlantInfo{
		LocalDate: "2025-03-05 14:30:00",
		TimeSpan:  fptr(-10), // UTC+10
	}
	got := LastUpdate(info)
	require.NotNil(t, got)
	assert.Equal(t, "2025-03-05T14:30:00+10:00", got.Format(time.RFC3339))

	assert.Nil(t, LastUpdate(types.PlantInfo{}))
	assert.Nil(t, LastUpdate(types.PlantInfo{LocalDate: "not a date"}))
}

func TestAllTimeTotals(t *testing.T) {
	t.Run("sums with day", func(t *testing.T) {
		got := types.AllTimeTotals(
			types.ModelData{Sum: fptr(100)},
			types.ModelData{Sum: fptr(5)},
		)
		require.NotNil(t, got.Sum)
		assert.Equal(t, float64(105), *got.Sum)
	})

	t.Run("day absent", func(t *testing.T) {
		got := types.AllTimeTotals(
			types.ModelData{Sum: fptr(100)},
			types.ModelData{},
		)
		require.NotNil(t, got.Sum)
		assert.Equal(t, float64(100), *got.Sum)
	})

	t.Run("all-time absent", func(t *testing.T) {
		got := types.AllTimeTotals(
			types.ModelData{},
			types.ModelData{Sum: fptr(5)},
		)
		assert.Nil(t, got.Sum, "absent all-time stays absent, never zero")
	})

	t.Run("per field", func(t *testing.T) {
		got := types.AllTimeTotals(
			types.ModelData{Buy: fptr(10), Discharge: fptr(20)},
			types.ModelData{Buy: fptr(1), Sell: fptr(2)},
		)
		require.NotNil(t, got.Buy)
		assert.Equal(t, float64(11), *got.Buy)
		require.NotNil(t, got.Discharge)
		assert.Equal(t, float64(20), *got.Discharge)
		assert.Nil(t, got.Sell)
	})
}
