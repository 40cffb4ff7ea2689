package sems

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lgesmon/lgesmon/pkg/common"
	"github.com/lgesmon/lgesmon/pkg/log"
	"github.com/lgesmon/lgesmon/pkg/types"
)

const (
	loginPath      = "v2/common/crosslogin"
	stationsPath   = "PowerStation/GetPowerStationIdByOwner"
	detailsPath    = "v3/PowerStation/GetPlantDetailByPowerstationId"
	powerflowPath  = "v2/PowerStation/GetPowerflow"
	chartPath      = "v2/Charts/GetChartByPlant"
	powerChartPath = "v2/Charts/GetPlantPowerChart"
)

// DefaultAPIBase is the portal origin used when none is configured. Logins
// may redirect the session to a different regional origin.
const DefaultAPIBase = "https://au.semsportal.com/api/"

const (
	// the portal rejects requests without a browser user-agent
	portalUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	acceptHeader    = "application/json, text/javascript, */*; q=0.01"

	// chart index for the energy statistics series
	chartIndexEnergy = "7"
)

// Client talks to the SEMS portal for one account. All exported methods are
// safe for concurrent use, though calls for the same account are serialized
// because the portal's session model is not known to be concurrency-safe.
type Client struct {
	client  *http.Client
	creds   types.Credentials
	mu      sync.Mutex
	apiBase string
	token   *types.SessionToken
}

// New returns a Client for the given account. An empty apiBase uses the
// default portal origin.
func New(creds types.Credentials, apiBase string, timeout time.Duration) *Client {
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	return &Client{
		client:  common.HTTPClient(timeout, portalUserAgent),
		creds:   creds,
		apiBase: apiBase,
	}
}

// portalResponse is the envelope every endpoint wraps its payload in. The
// login endpoint may additionally send a replacement api origin.
type portalResponse struct {
	HasError bool            `json:"hasError"`
	Msg      string          `json:"msg"`
	Data     json.RawMessage `json:"data"`
	API      string          `json:"api"`
}

// post issues one POST to the given endpoint and decodes the envelope. The
// token header carries the live session token when authenticated, otherwise
// the well-known empty token. Must be called with c.mu held.
func (c *Client) post(ctx context.Context, endpoint string, data interface{}, authenticated bool) (*portalResponse, error) {
	u, err := url.JoinPath(c.apiBase, endpoint)
	if err != nil {
		return nil, err
	}

	if data == nil {
		data = struct{}{}
	}
	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	tok := types.EmptyToken()
	if authenticated && c.token != nil {
		tok = *c.token
	}
	tokenHeader, err := EncodeToken(tok)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("token", tokenHeader)
	req.Header.Set("neutral", "4")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	var pr portalResponse
	if err := json.Unmarshal(respBody, &pr); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decode portal response", slog.Any("error", err), slog.String("body", string(respBody)))
		return nil, &TransportError{Err: err}
	}

	if pr.HasError {
		log.Ctx(ctx).ErrorContext(ctx, "portal api error", slog.String("endpoint", endpoint), slog.String("msg", pr.Msg))
		return nil, &APIError{Msg: pr.Msg}
	}
	return &pr, nil
}

// authenticate logs in and stores the session token. Any APIError from the
// portal is translated to an AuthError and the token is cleared. Must be
// called with c.mu held.
func (c *Client) authenticate(ctx context.Context) error {
	log.Ctx(ctx).DebugContext(ctx, "logging in to portal", slog.String("account", c.creds.Account))

	data := map[string]interface{}{
		"account":             c.creds.Account,
		"pwd":                 c.creds.Password,
		"agreement_agreement": 0, // yes, this is what the portal expects
		"is_local":            false,
	}

	pr, err := c.post(ctx, loginPath, data, false)
	if err != nil {
		c.token = nil
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			log.Ctx(ctx).ErrorContext(ctx, "portal login failed", slog.String("msg", apiErr.Msg))
			return &AuthError{Err: apiErr}
		}
		return err
	}

	var tok types.SessionToken
	if len(pr.Data) > 0 {
		if err := json.Unmarshal(pr.Data, &tok); err != nil {
			c.token = nil
			return &TransportError{Err: fmt.Errorf("failed to decode login data: %w", err)}
		}
	}
	// the portal sometimes omits these, default them rather than failing
	if tok.Client == "" {
		tok.Client = "web"
	}
	if tok.Language == "" {
		tok.Language = "en"
	}
	c.token = &tok

	if pr.API != "" && pr.API != c.apiBase {
		log.Ctx(ctx).InfoContext(ctx, "portal redirected api origin", slog.String("api", pr.API))
		c.apiBase = pr.API
	}

	log.Ctx(ctx).DebugContext(ctx, "portal login success", slog.String("uid", tok.UID))
	return nil
}

// ensureAuthenticated logs in only if there is no session token. Must be
// called with c.mu held.
func (c *Client) ensureAuthenticated(ctx context.Context) error {
	if c.token != nil {
		return nil
	}
	return c.authenticate(ctx)
}

// authedPost issues an authenticated POST, logging in first if needed. The
// portal reports expired sessions as an application error rather than a 401,
// so on the first APIError the token is dropped and the request retried once
// after a fresh login. Must be called with c.mu held.
func (c *Client) authedPost(ctx context.Context, endpoint string, data interface{}) (json.RawMessage, error) {
	// we try up to 2 times because we might have an expired token
	for i := 0; i < 2; i++ {
		if err := c.ensureAuthenticated(ctx); err != nil {
			return nil, err
		}

		pr, err := c.post(ctx, endpoint, data, true)
		if err != nil {
			var apiErr *APIError
			if i == 0 && errors.As(err, &apiErr) {
				log.Ctx(ctx).DebugContext(ctx, "portal rejected session, re-authenticating", slog.String("msg", apiErr.Msg))
				c.token = nil
				continue
			}
			return nil, err
		}
		return pr.Data, nil
	}
	return nil, nil
}

// Invalidate drops the session token so the next request logs in again.
func (c *Client) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = nil
}

// ListSites returns the sites visible to the account, logging in first if
// needed.
func (c *Client) ListSites(ctx context.Context) ([]types.Site, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listSites(ctx)
}

func (c *Client) listSites(ctx context.Context) ([]types.Site, error) {
	data, err := c.authedPost(ctx, stationsPath, struct{}{})
	if err != nil {
		return nil, err
	}
	return parseSiteList(ctx, data), nil
}

// parseSiteList normalizes the several shapes the stations endpoint is known
// to return: a bare id string, a list of site records, a single site record,
// or a mapping of id to record. Anything else yields no sites and a warning.
func parseSiteList(ctx context.Context, data json.RawMessage) []types.Site {
	var raw interface{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &raw); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "unparseable station data", slog.Any("error", err))
			return nil
		}
	}

	switch v := raw.(type) {
	case string:
		return []types.Site{{ID: v}}
	case []interface{}:
		sites := make([]types.Site, 0, len(v))
		for _, el := range v {
			switch rec := el.(type) {
			case string:
				sites = append(sites, types.Site{ID: rec})
			case map[string]interface{}:
				site := siteFromRecord(rec)
				if site.ID == "" {
					log.Ctx(ctx).WarnContext(ctx, "station record without id", slog.Any("record", rec))
					continue
				}
				sites = append(sites, site)
			default:
				log.Ctx(ctx).WarnContext(ctx, "unexpected station element", slog.Any("element", el))
			}
		}
		return sites
	case map[string]interface{}:
		if _, ok := v["id"]; ok {
			return []types.Site{siteFromRecord(v)}
		}
		sites := make([]types.Site, 0, len(v))
		for id, val := range v {
			site := types.Site{ID: id}
			if fields, ok := val.(map[string]interface{}); ok {
				site.Extra = fields
			}
			sites = append(sites, site)
		}
		return sites
	default:
		log.Ctx(ctx).WarnContext(ctx, "unexpected station data shape", slog.Any("data", raw))
		return nil
	}
}

func siteFromRecord(rec map[string]interface{}) types.Site {
	site := types.Site{Extra: make(map[string]interface{}, len(rec))}
	for k, v := range rec {
		if k == "id" {
			site.ID = stringID(v)
			continue
		}
		site.Extra[k] = v
	}
	return site
}

func stringID(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

// PlantDetails fetches the detail record for one site.
func (c *Client) PlantDetails(ctx context.Context, siteID string) (*types.PlantDetails, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.plantDetails(ctx, siteID)
}

func (c *Client) plantDetails(ctx context.Context, siteID string) (*types.PlantDetails, error) {
	// both casings are sent because different portal versions expect different
	// ones
	data, err := c.authedPost(ctx, detailsPath, map[string]interface{}{
		"PowerStationId":  siteID,
		"powerstation_id": siteID,
	})
	if err != nil {
		return nil, err
	}
	var det types.PlantDetails
	if err := json.Unmarshal(data, &det); err != nil {
		return nil, &TransportError{Err: fmt.Errorf("failed to decode plant details: %w", err)}
	}
	return &det, nil
}

type powerflowResult struct {
	Powerflow *types.Powerflow `json:"powerflow"`
}

// Powerflow fetches the instantaneous power readings for one site. Returns
// nil when the portal omits the powerflow block.
func (c *Client) Powerflow(ctx context.Context, siteID string) (*types.Powerflow, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.powerflow(ctx, siteID)
}

func (c *Client) powerflow(ctx context.Context, siteID string) (*types.Powerflow, error) {
	data, err := c.authedPost(ctx, powerflowPath, map[string]interface{}{
		"PowerStationId":  siteID,
		"powerstation_id": siteID,
	})
	if err != nil {
		return nil, err
	}
	var res powerflowResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, &TransportError{Err: fmt.Errorf("failed to decode powerflow: %w", err)}
	}
	return res.Powerflow, nil
}

type chartResult struct {
	ModelData types.ModelData `json:"modelData"`
}

// EnergyStats fetches the aggregate energy record for one site and window.
// The date must be in the site's own timezone to avoid off-by-one-day totals.
func (c *Client) EnergyStats(ctx context.Context, siteID, date string, w types.EnergyWindow) (types.ModelData, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.energyStats(ctx, siteID, date, w)
}

func (c *Client) energyStats(ctx context.Context, siteID, date string, w types.EnergyWindow) (types.ModelData, error) {
	data, err := c.authedPost(ctx, chartPath, map[string]interface{}{
		"Id":           siteID,
		"Date":         date,
		"Range":        w.RangeCode(),
		"ChartIndexId": chartIndexEnergy,
		"IsDetailFull": false,
	})
	if err != nil {
		return types.ModelData{}, err
	}
	var res chartResult
	if err := json.Unmarshal(data, &res); err != nil {
		return types.ModelData{}, &TransportError{Err: fmt.Errorf("failed to decode chart data: %w", err)}
	}
	return res.ModelData, nil
}

// PowerChart fetches the intraday power curve for one site. It is not part
// of the poll cycle but is exposed for ad-hoc inspection.
func (c *Client) PowerChart(ctx context.Context, siteID, date string) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// this endpoint uses the older snake_case body
	return c.authedPost(ctx, powerChartPath, map[string]interface{}{
		"id":          siteID,
		"date":        date,
		"full_script": false,
	})
}

// Snapshot fetches one site's full reading: details, powerflow and the four
// energy windows keyed by the site's local date.
func (c *Client) Snapshot(ctx context.Context, siteID string) (types.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot(ctx, siteID)
}

func (c *Client) snapshot(ctx context.Context, siteID string) (types.Snapshot, error) {
	det, err := c.plantDetails(ctx, siteID)
	if err != nil {
		return types.Snapshot{}, err
	}

	// the charts are keyed by the site's own calendar date, not ours
	date := strings.SplitN(det.Info.LocalDate, " ", 2)[0]
	if date == "" {
		date = time.Now().Format("2006-01-02")
		log.Ctx(ctx).WarnContext(ctx, "no local_date in plant details, using server date", slog.String("siteID", siteID), slog.String("date", date))
	}

	pf, err := c.powerflow(ctx, siteID)
	if err != nil {
		return types.Snapshot{}, err
	}
	if pf == nil {
		pf = det.Powerflow
	}

	var energy types.EnergyByWindow
	for _, w := range types.Windows {
		md, err := c.energyStats(ctx, siteID, date, w)
		if err != nil {
			return types.Snapshot{}, err
		}
		energy.Set(w, md)
	}

	return types.Snapshot{
		SiteID:    siteID,
		Details:   det,
		Powerflow: pf,
		Energy:    energy,
	}, nil
}

// AllSnapshots enumerates the account's sites and fetches each one's
// snapshot sequentially. A site that fails is logged and left out of the
// result rather than failing the whole pass, except for authentication
// failures which abort the remaining work.
func (c *Client) AllSnapshots(ctx context.Context) (map[string]types.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sites, err := c.listSites(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]types.Snapshot, len(sites))
	for _, site := range sites {
		if site.ID == "" {
			continue
		}
		snap, err := c.snapshot(ctx, site.ID)
		if err != nil {
			var authErr *AuthError
			if errors.As(err, &authErr) {
				return nil, err
			}
			log.Ctx(ctx).WarnContext(ctx, "skipping site for this cycle", slog.String("siteID", site.ID), slog.Any("error", err))
			continue
		}
		out[site.ID] = snap
	}
	return out, nil
}
