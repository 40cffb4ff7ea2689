package sems

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lgesmon/lgesmon/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(ts *httptest.Server) *Client {
	return &Client{
		client:  ts.Client(),
		creds:   types.Credentials{Account: "user@example.com", Password: "pass"},
		apiBase: ts.URL + "/api/",
	}
}

func writeEnvelope(w http.ResponseWriter, data interface{}) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"hasError": false,
		"msg":      "",
		"data":     data,
	})
}

func writeError(w http.ResponseWriter, msg string) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"hasError": true,
		"msg":      msg,
	})
}

func loginHandler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "user@example.com", body["account"])
		assert.Equal(t, "pass", body["pwd"])
		assert.Equal(t, float64(0), body["agreement_agreement"])
		assert.Equal(t, false, body["is_local"])

		// the login request must carry the well-known empty token
		raw, err := base64.StdEncoding.DecodeString(r.Header.Get("token"))
		require.NoError(t, err)
		var tok types.SessionToken
		require.NoError(t, json.Unmarshal(raw, &tok))
		assert.Equal(t, types.EmptyToken(), tok)

		writeEnvelope(w, map[string]interface{}{
			"uid":       "uid-1",
			"timestamp": 1234,
			"token":     "tok-1",
		})
	}
}

func TestClient(t *testing.T) {
	t.Run("Login Flow", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/api/v2/common/crosslogin" {
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
				assert.Equal(t, acceptHeader, r.Header.Get("Accept"))
				assert.Equal(t, "4", r.Header.Get("neutral"))
				loginHandler(t)(w, r)
				return
			}
			http.Error(w, "not found: "+r.URL.Path, 404)
		}))
		defer ts.Close()

		c := testClient(ts)
		require.NoError(t, c.authenticate(context.Background()))

		require.NotNil(t, c.token)
		assert.Equal(t, "uid-1", c.token.UID)
		assert.Equal(t, int64(1234), c.token.Timestamp)
		assert.Equal(t, "tok-1", c.token.Token)
		// missing sub-fields are defaulted, not rejected
		assert.Equal(t, "web", c.token.Client)
		assert.Equal(t, "en", c.token.Language)
	})

	t.Run("Login Failure", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, "bad credentials")
		}))
		defer ts.Close()

		c := testClient(ts)
		c.token = &types.SessionToken{Token: "stale"}
		err := c.authenticate(context.Background())
		require.Error(t, err)

		var authErr *AuthError
		require.ErrorAs(t, err, &authErr)
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "bad credentials", apiErr.Msg)
		assert.Nil(t, c.token, "failed login must clear the token")
	})

	t.Run("API Redirect", func(t *testing.T) {
		redirected := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/api/PowerStation/GetPowerStationIdByOwner" {
				writeEnvelope(w, "site-1")
				return
			}
			http.Error(w, "not found: "+r.URL.Path, 404)
		}))
		defer redirected.Close()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/api/v2/common/crosslogin" {
				json.NewEncoder(w).Encode(map[string]interface{}{
					"hasError": false,
					"data":     map[string]interface{}{"uid": "u", "token": "t"},
					"api":      redirected.URL + "/api/",
				})
				return
			}
			http.Error(w, "should have moved to the redirected origin", 500)
		}))
		defer ts.Close()

		c := testClient(ts)
		sites, err := c.ListSites(context.Background())
		require.NoError(t, err)
		require.Len(t, sites, 1)
		assert.Equal(t, "site-1", sites[0].ID)
		assert.Equal(t, redirected.URL+"/api/", c.apiBase)
	})

	t.Run("Session Retry", func(t *testing.T) {
		var logins, rejects int
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/api/v2/common/crosslogin":
				logins++
				writeEnvelope(w, map[string]interface{}{"uid": "u", "token": "t"})
			case "/api/PowerStation/GetPowerStationIdByOwner":
				if rejects == 0 {
					rejects++
					writeError(w, "token expired")
					return
				}
				writeEnvelope(w, "site-1")
			default:
				http.Error(w, "not found: "+r.URL.Path, 404)
			}
		}))
		defer ts.Close()

		c := testClient(ts)
		c.token = &types.SessionToken{Token: "stale"}

		sites, err := c.ListSites(context.Background())
		require.NoError(t, err)
		require.Len(t, sites, 1)
		assert.Equal(t, 1, logins, "a rejected session triggers exactly one fresh login")
	})

	t.Run("Transport Failure", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "gateway timeout", http.StatusGatewayTimeout)
		}))
		defer ts.Close()

		c := testClient(ts)
		c.token = &types.SessionToken{Token: "t"}
		_, err := c.ListSites(context.Background())
		var terr *TransportError
		require.ErrorAs(t, err, &terr)
	})
}

func TestParseSiteList(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		data string
		want []types.Site
	}{
		{
			name: "single string id",
			data: `"abc"`,
			want: []types.Site{{ID: "abc"}},
		},
		{
			name: "list of records",
			data: `[{"id":"a"},{"id":"b"}]`,
			want: []types.Site{
				{ID: "a", Extra: map[string]interface{}{}},
				{ID: "b", Extra: map[string]interface{}{}},
			},
		},
		{
			name: "single record",
			data: `{"id":"a","x":1}`,
			want: []types.Site{{ID: "a", Extra: map[string]interface{}{"x": float64(1)}}},
		},
		{
			name: "null",
			data: `null`,
			want: nil,
		},
		{
			name: "number",
			data: `42`,
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseSiteList(ctx, json.RawMessage(tt.data))
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("keyed by id", func(t *testing.T) {
		got := parseSiteList(ctx, json.RawMessage(`{"a":{"x":1},"b":{"x":2}}`))
		require.Len(t, got, 2)
		byID := map[string]types.Site{}
		for _, s := range got {
			byID[s.ID] = s
		}
		assert.Equal(t, map[string]interface{}{"x": float64(1)}, byID["a"].Extra)
		assert.Equal(t, map[string]interface{}{"x": float64(2)}, byID["b"].Extra)
	})

	t.Run("numeric id", func(t *testing.T) {
		got := parseSiteList(ctx, json.RawMessage(`[{"id":12345678}]`))
		require.Len(t, got, 1)
		assert.Equal(t, "12345678", got[0].ID)
	})
}

func fakePortal(t *testing.T, failDetail map[string]bool) *httptest.Server {
	details := map[string]interface{}{
		"info": map[string]interface{}{
			"stationname": "Home",
			"local_date":  "2025-03-05 14:30:00",
			"status":      1,
		},
		"kpi": map[string]interface{}{"day_income": 1.25, "currency": "AUD"},
		"soc": []map[string]interface{}{{"sn": "BAT1", "power": 88.0, "status": 1}},
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		switch r.URL.Path {
		case "/api/v2/common/crosslogin":
			writeEnvelope(w, map[string]interface{}{"uid": "u", "token": "t"})
		case "/api/PowerStation/GetPowerStationIdByOwner":
			writeEnvelope(w, []map[string]interface{}{{"id": "site-1"}, {"id": "site-2"}})
		case "/api/v3/PowerStation/GetPlantDetailByPowerstationId":
			id, _ := body["PowerStationId"].(string)
			// both casings must be present
			assert.Equal(t, body["PowerStationId"], body["powerstation_id"])
			if failDetail[id] {
				writeError(w, "station under maintenance")
				return
			}
			writeEnvelope(w, details)
		case "/api/v2/PowerStation/GetPowerflow":
			writeEnvelope(w, map[string]interface{}{
				"powerflow": map[string]interface{}{
					"pv":      "582.0W",
					"bettery": "-1252.0W",
					"load":    "1.5kW",
					"grid":    250.0,
				},
			})
		case "/api/v2/Charts/GetChartByPlant":
			// the chart must be keyed by the site's local date
			assert.Equal(t, "2025-03-05", body["Date"])
			assert.Equal(t, "7", body["ChartIndexId"])
			assert.Equal(t, false, body["IsDetailFull"])
			var sum float64
			switch body["Range"] {
			case "2":
				sum = 5
			case "3":
				sum = 50
			case "4":
				sum = 500
			case "1":
				sum = 5000
			default:
				t.Errorf("unexpected range %v", body["Range"])
			}
			writeEnvelope(w, map[string]interface{}{
				"modelData": map[string]interface{}{"sum": sum, "buy": sum / 2},
			})
		default:
			http.Error(w, "not found: "+r.URL.Path, 404)
		}
	}))
}

func TestSnapshot(t *testing.T) {
	ts := fakePortal(t, nil)
	defer ts.Close()

	c := testClient(ts)
	snap, err := c.Snapshot(context.Background(), "site-1")
	require.NoError(t, err)

	assert.Equal(t, "site-1", snap.SiteID)
	require.NotNil(t, snap.Details)
	assert.Equal(t, "Home", snap.Details.Info.StationName)
	require.NotNil(t, snap.Details.Info.Status)
	assert.Equal(t, 1, *snap.Details.Info.Status)

	require.NotNil(t, snap.Powerflow)
	assert.Equal(t, types.PowerString("582.0W"), snap.Powerflow.PV)
	assert.Equal(t, types.PowerString("-1252.0W"), snap.Powerflow.BatteryReading())
	// numeric readings are normalized to strings on decode
	assert.Equal(t, types.PowerString("250"), snap.Powerflow.Grid)

	require.NotNil(t, snap.Energy.Day.Sum)
	assert.Equal(t, float64(5), *snap.Energy.Day.Sum)
	require.NotNil(t, snap.Energy.Month.Sum)
	assert.Equal(t, float64(50), *snap.Energy.Month.Sum)
	require.NotNil(t, snap.Energy.Year.Sum)
	assert.Equal(t, float64(500), *snap.Energy.Year.Sum)
	require.NotNil(t, snap.Energy.AllTime.Sum)
	assert.Equal(t, float64(5000), *snap.Energy.AllTime.Sum)
	assert.Nil(t, snap.Energy.Day.Sell, "unreported fields stay absent")
}

func TestAllSnapshots(t *testing.T) {
	t.Run("partial failure", func(t *testing.T) {
		ts := fakePortal(t, map[string]bool{"site-2": true})
		defer ts.Close()

		c := testClient(ts)
		snaps, err := c.AllSnapshots(context.Background())
		require.NoError(t, err, "one failing site must not fail the pass")
		require.Len(t, snaps, 1)
		_, ok := snaps["site-1"]
		assert.True(t, ok)
	})

	t.Run("all sites", func(t *testing.T) {
		ts := fakePortal(t, nil)
		defer ts.Close()

		c := testClient(ts)
		snaps, err := c.AllSnapshots(context.Background())
		require.NoError(t, err)
		assert.Len(t, snaps, 2)
	})

	t.Run("auth failure aborts", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, "bad credentials")
		}))
		defer ts.Close()

		c := testClient(ts)
		_, err := c.AllSnapshots(context.Background())
		var authErr *AuthError
		require.True(t, errors.As(err, &authErr))
	})
}
