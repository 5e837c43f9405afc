// Package api serves the race commands, the live session state and the race
// archive over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/racelog/internal/httputil"
	"github.com/banshee-data/racelog/internal/monitoring"
	"github.com/banshee-data/racelog/internal/race"
	"github.com/banshee-data/racelog/internal/security"
	"github.com/banshee-data/racelog/internal/session"
	"github.com/banshee-data/racelog/internal/units"
	"github.com/banshee-data/racelog/internal/version"
)

// RecordReader returns the stored JSON record of a race.
type RecordReader interface {
	RaceRecord(ctx context.Context, startTime int64) ([]byte, error)
}

// Options configures a Server.
type Options struct {
	Manager *session.Manager
	// Records backs the record download. Without it the endpoint is not
	// registered.
	Records RecordReader
	// Hub backs the live stream. Without it the endpoint is not registered.
	Hub *LiveHub
	// Units is the default unit system for display strings.
	Units string
	// Location is the zone start and end times are rendered in.
	Location *time.Location
}

type Server struct {
	manager *session.Manager
	records RecordReader
	hub     *LiveHub
	units   string
	loc     *time.Location
}

func NewServer(opts Options) *Server {
	s := &Server{
		manager: opts.Manager,
		records: opts.Records,
		hub:     opts.Hub,
		units:   opts.Units,
		loc:     opts.Location,
	}
	if !units.IsValid(s.units) {
		s.units = units.Metric
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	return s
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/race/start", s.startRace)
	mux.HandleFunc("/api/race/lap", s.newLap)
	mux.HandleFunc("/api/race/end", s.endRace)
	mux.HandleFunc("/api/race/discard", s.discardRace)
	mux.HandleFunc("/api/live", s.showLive)
	if s.hub != nil {
		mux.Handle("/api/live/stream", s.hub)
	}
	mux.HandleFunc("/api/races", s.listRaces)
	mux.HandleFunc("/api/races/latest", s.showLatestRace)
	mux.HandleFunc("/api/races/{start}", s.showRace)
	if s.records != nil {
		mux.HandleFunc("/api/races/{start}/record", s.downloadRecord)
	}
	mux.HandleFunc("/api/config", s.showConfig)
	return mux
}

// writeError maps session and archive errors onto status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrRaceActive),
		errors.Is(err, session.ErrNoActiveRace),
		errors.Is(err, race.ErrRaceFinished):
		httputil.Conflict(w, err.Error())
	case errors.Is(err, session.ErrInvalidName):
		httputil.BadRequest(w, fmt.Sprintf("race name must be at least %d characters", session.MinNameLength))
	case errors.Is(err, race.ErrRaceNotFound):
		httputil.NotFound(w, err.Error())
	default:
		monitoring.Logf("%s %s: %v", r.Method, r.URL.Path, err)
		httputil.InternalServerError(w, err.Error())
	}
}

// unitsFor returns the unit system for r: the units query parameter when
// present, the configured system otherwise.
func (s *Server) unitsFor(r *http.Request) (string, error) {
	u := r.URL.Query().Get("units")
	if u == "" {
		return s.units, nil
	}
	if !units.IsValid(u) {
		return "", fmt.Errorf("invalid units %q, must be one of: %s", u, units.GetValidSystemsString())
	}
	return u, nil
}

func startParam(r *http.Request) (int64, error) {
	raw := r.PathValue("start")
	start, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || start <= 0 {
		return 0, fmt.Errorf("invalid race start time %q", raw)
	}
	return start, nil
}

func (s *Server) startRace(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	state, err := s.manager.Start(r.Context(), r.FormValue("name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, newLiveView(state, s.units))
}

func (s *Server) newLap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if err := s.manager.NewRound(); err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSONOK(w, newLiveView(s.manager.Current(), s.units))
}

func (s *Server) endRace(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	finished, err := s.manager.End(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSONOK(w, newRaceDetail(finished, s.units, s.loc))
}

func (s *Server) discardRace(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if err := s.manager.Discard(); err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSONOK(w, newLiveView(s.manager.Current(), s.units))
}

func (s *Server) showLive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	system, err := s.unitsFor(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, newLiveView(s.manager.Current(), system))
}

func (s *Server) listRaces(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	system, err := s.unitsFor(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	races, err := s.manager.History(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	views := make([]RaceView, 0, len(races))
	for _, rc := range races {
		views = append(views, newRaceView(rc, system, s.loc))
	}
	httputil.WriteJSONOK(w, views)
}

func (s *Server) showLatestRace(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	system, err := s.unitsFor(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	latest, err := s.manager.Latest(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSONOK(w, newRaceView(latest, system, s.loc))
}

func (s *Server) showRace(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	start, err := startParam(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	system, err := s.unitsFor(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	rc, err := s.manager.Race(r.Context(), start)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSONOK(w, newRaceDetail(rc, system, s.loc))
}

func (s *Server) downloadRecord(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	start, err := startParam(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	data, err := s.records.RaceRecord(r.Context(), start)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rc, err := race.Decode(data)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	filename := security.RaceExportName(rc.Name(), rc.StartTime())
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		monitoring.Logf("write record %d: %v", start, err)
	}
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"units":      s.units,
		"validUnits": units.ValidSystems,
		"timezone":   s.loc.String(),
		"version":    version.Version,
	})
}
