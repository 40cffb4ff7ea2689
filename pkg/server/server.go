package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/levenlabs/go-lflag"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lgesmon/lgesmon/pkg/log"
	"github.com/lgesmon/lgesmon/pkg/sems"
	"github.com/lgesmon/lgesmon/pkg/types"
)

// Source is the poller surface the server reads. It never blocks on the
// portal; everything comes from the latest completed cycle.
type Source interface {
	Latest() map[string]types.Snapshot
	LastSuccess() time.Time
	AuthFailures() int
	Persistent() bool
}

// Server exposes the poller's state over HTTP: a JSON status endpoint,
// Prometheus metrics and a health check.
type Server struct {
	source     Source
	listenAddr string
	httpServer *http.Server
	registry   *prometheus.Registry
}

// Configured initializes the Server with dependencies. It uses lflag to
// register command-line flags for configuration.
func Configured(src Source) *Server {
	srv := New(src)

	// get the port from PORT when running in a container platform
	port := os.Getenv("PORT")
	if port == "" {
		// otherwise default to 8080
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
	})

	return srv
}

// New returns a Server reading from the given source.
func New(src Source) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(newCollector(src))
	return &Server{
		source:   src,
		registry: registry,
	}
}

func (s *Server) setupHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", s.handleHealthz)
	return gziphandler.GzipHandler(mux)
}

// Run starts the HTTP server and blocks until the context is canceled or an
// error occurs. It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capture server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		// Context canceled, shut down gracefully
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

type batteryStatus struct {
	Serial string   `json:"serial"`
	SOC    *float64 `json:"soc,omitempty"`
	Status *int     `json:"status,omitempty"`
}

type siteStatus struct {
	Name               string          `json:"name"`
	Status             string          `json:"status"`
	StationType        string          `json:"stationType,omitempty"`
	SolarW             *float64        `json:"solarW,omitempty"`
	BatteryW           *float64        `json:"batteryW,omitempty"`
	LoadW              *float64        `json:"loadW,omitempty"`
	GridW              *float64        `json:"gridW,omitempty"`
	BatterySOC         *float64        `json:"batterySOC,omitempty"`
	SolarCapacityKW    *float64        `json:"solarCapacityKW,omitempty"`
	BatteryCapacityKWh *float64        `json:"batteryCapacityKWh,omitempty"`
	Batteries          []batteryStatus `json:"batteries,omitempty"`
	LastUpdate         *time.Time      `json:"lastUpdate,omitempty"`
	Day                types.ModelData `json:"day"`
	Month              types.ModelData `json:"month"`
	Year               types.ModelData `json:"year"`
	AllTime            types.ModelData `json:"allTime"`
	Lifetime           types.ModelData `json:"lifetime"`
}

type statusResponse struct {
	LastPoll              time.Time             `json:"lastPoll"`
	AuthFailures          int                   `json:"authFailures"`
	PersistentAuthFailure bool                  `json:"persistentAuthFailure"`
	Sites                 map[string]siteStatus `json:"sites"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snaps := s.source.Latest()
	resp := statusResponse{
		LastPoll:              s.source.LastSuccess(),
		AuthFailures:          s.source.AuthFailures(),
		PersistentAuthFailure: s.source.Persistent(),
		Sites:                 make(map[string]siteStatus, len(snaps)),
	}

	for id, snap := range snaps {
		st := siteStatus{
			Name:     sems.DisplayName(snap.Details, id),
			Status:   sems.StatusString(nil),
			Day:      snap.Energy.Day,
			Month:    snap.Energy.Month,
			Year:     snap.Energy.Year,
			AllTime:  snap.Energy.AllTime,
			Lifetime: types.AllTimeTotals(snap.Energy.AllTime, snap.Energy.Day),
		}
		if pf := snap.Powerflow; pf != nil {
			st.SolarW = sems.ParsePower(pf.PV)
			st.BatteryW = sems.ParsePower(pf.BatteryReading())
			st.LoadW = sems.ParsePower(pf.Load)
			st.GridW = sems.ParsePower(pf.Grid)
		}
		if det := snap.Details; det != nil {
			st.Status = sems.StatusString(det.Info.Status)
			st.StationType = det.Info.StationType
			st.SolarCapacityKW = det.Info.Capacity
			st.BatteryCapacityKWh = det.Info.BatteryCapacity
			if len(det.SOC) > 0 {
				st.BatterySOC = det.SOC[0].Power
			}
			for _, bat := range det.SOC {
				st.Batteries = append(st.Batteries, batteryStatus{
					Serial: bat.Serial,
					SOC:    bat.Power,
					Status: bat.Status,
				})
			}
			st.LastUpdate = sems.LastUpdate(det.Info)
		}
		resp.Sites[id] = st
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Ctx(r.Context()).WarnContext(r.Context(), "failed to write status response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	// persistent auth failure means we're up but useless, surface it
	if s.source.Persistent() {
		writeJSONError(w, "authentication persistently failing", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}
