package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/racelog/internal/httputil"
	"github.com/banshee-data/racelog/internal/monitoring"
	"github.com/banshee-data/racelog/internal/session"
	"github.com/banshee-data/racelog/internal/testutil"
	"github.com/banshee-data/racelog/internal/timeutil"
	"github.com/banshee-data/racelog/internal/units"
)

const testStart = 1700000000 // 14.11.2023 22:13 UTC

type testEnv struct {
	server  *Server
	mux     *http.ServeMux
	manager *session.Manager
	archive *testutil.MemoryArchive
	hub     *LiveHub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Cleanup(monitoring.SetLogger(nil))

	archive := testutil.NewMemoryArchive()
	hub := NewLiveHub()
	t.Cleanup(hub.Close)
	manager := session.NewManager(archive, session.ManagerOptions{
		View:  hub,
		Clock: timeutil.NewMockClockUnix(testStart + 3600),
	})
	t.Cleanup(func() { _ = manager.Discard() })

	server := NewServer(Options{
		Manager:  manager,
		Records:  archive,
		Hub:      hub,
		Units:    units.Metric,
		Location: time.UTC,
	})
	return &testEnv{server: server, mux: server.ServeMux(), manager: manager, archive: archive, hub: hub}
}

func (e *testEnv) do(t *testing.T, method, target string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

// seed archives two races: "Morning" with two laps and "Evening" an hour
// later with a single fix.
func (e *testEnv) seed(t *testing.T) {
	t.Helper()
	testutil.NewRace(t, "Morning", testStart).
		Fixes(
			testutil.Fix{Longitude: 13.400, Latitude: 52.500, Speed: 10, GForce: 0.5, Tilt: 12},
			testutil.Fix{Longitude: 13.401, Latitude: 52.500, Speed: 20, GForce: 1.25, Tilt: 30},
		).
		Lap().
		End(e.archive)
	testutil.NewRace(t, "Evening", testStart+3600).
		Fixes(testutil.Fix{Longitude: 13.4, Latitude: 52.5, Speed: 5}).
		End(e.archive)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode body %q: %v", rec.Body.String(), err)
	}
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body httputil.ErrorBody
	decodeBody(t, rec, &body)
	return body.Error
}

// liveBody mirrors the live view with the phase as its text form.
type liveBody struct {
	SessionID string `json:"sessionId"`
	Phase     string `json:"phase"`
	Name      string `json:"name"`
	Rounds    int    `json:"rounds"`
	SpeedText string `json:"speedText"`
}

func TestRaceLifecycle(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/api/race/start", url.Values{"name": {"Test Run"}})
	testutil.AssertJSON(t, rec, http.StatusCreated)
	var started liveBody
	decodeBody(t, rec, &started)
	if started.Phase != "racing" || started.Name != "Test Run" || started.SessionID == "" {
		t.Fatalf("unexpected start state: %+v", started)
	}
	if started.SpeedText != "0 km/h" {
		t.Errorf("SpeedText = %q, want %q", started.SpeedText, "0 km/h")
	}

	rec = e.do(t, http.MethodPost, "/api/race/start", url.Values{"name": {"Second"}})
	testutil.AssertStatusCode(t, rec.Code, http.StatusConflict)

	rec = e.do(t, http.MethodPost, "/api/race/lap", nil)
	testutil.AssertJSON(t, rec, http.StatusOK)
	var lapped liveBody
	decodeBody(t, rec, &lapped)
	if lapped.Rounds != 2 {
		t.Errorf("Rounds = %d, want 2", lapped.Rounds)
	}

	rec = e.do(t, http.MethodGet, "/api/live", nil)
	testutil.AssertJSON(t, rec, http.StatusOK)
	var live liveBody
	decodeBody(t, rec, &live)
	if live.SessionID != started.SessionID {
		t.Errorf("SessionID = %q, want %q", live.SessionID, started.SessionID)
	}

	rec = e.do(t, http.MethodPost, "/api/race/end", nil)
	testutil.AssertJSON(t, rec, http.StatusOK)
	var detail RaceDetail
	decodeBody(t, rec, &detail)
	if detail.Name != "Test Run" || len(detail.Laps) != 2 {
		t.Fatalf("unexpected end detail: %+v", detail)
	}
	if e.archive.Len() != 1 {
		t.Errorf("archive has %d races, want 1", e.archive.Len())
	}
	if e.manager.Phase() != session.NotRacing {
		t.Errorf("Phase = %v, want NotRacing", e.manager.Phase())
	}

	for _, path := range []string{"/api/race/lap", "/api/race/end", "/api/race/discard"} {
		rec = e.do(t, http.MethodPost, path, nil)
		testutil.AssertStatusCode(t, rec.Code, http.StatusConflict)
	}

	rec = e.do(t, http.MethodGet, "/api/live", nil)
	var idle liveBody
	decodeBody(t, rec, &idle)
	if idle.Phase != "not_racing" || idle.SessionID != "" || idle.Name != "" {
		t.Errorf("idle live state = %+v", idle)
	}
}

func TestStartRace_InvalidName(t *testing.T) {
	e := newTestEnv(t)
	for _, name := range []string{"", "ab", "   ab   "} {
		rec := e.do(t, http.MethodPost, "/api/race/start", url.Values{"name": {name}})
		testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
		if msg := errorMessage(t, rec); !strings.Contains(msg, "at least 3") {
			t.Errorf("name %q: error = %q", name, msg)
		}
	}
	if e.manager.Phase() != session.NotRacing {
		t.Error("a rejected start must not start a race")
	}
}

func TestEndRace_SaveFailureKeepsRace(t *testing.T) {
	e := newTestEnv(t)
	e.do(t, http.MethodPost, "/api/race/start", url.Values{"name": {"Wet Track"}})

	e.archive.SaveErr = errors.New("disk full")
	rec := e.do(t, http.MethodPost, "/api/race/end", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusInternalServerError)
	if msg := errorMessage(t, rec); !strings.Contains(msg, "disk full") {
		t.Errorf("error = %q, want it to mention the save failure", msg)
	}
	if e.manager.Phase() != session.Racing {
		t.Fatal("a failed save must keep the race")
	}

	e.archive.SaveErr = nil
	rec = e.do(t, http.MethodPost, "/api/race/end", nil)
	testutil.AssertJSON(t, rec, http.StatusOK)
	if e.archive.Len() != 1 {
		t.Errorf("archive has %d races after retry, want 1", e.archive.Len())
	}
}

func TestDiscardRace(t *testing.T) {
	e := newTestEnv(t)
	e.do(t, http.MethodPost, "/api/race/start", url.Values{"name": {"Shakedown"}})

	rec := e.do(t, http.MethodPost, "/api/race/discard", nil)
	testutil.AssertJSON(t, rec, http.StatusOK)
	if e.manager.Phase() != session.NotRacing {
		t.Error("discard should return to NotRacing")
	}
	if e.archive.Len() != 0 {
		t.Error("a discarded race must not be archived")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	e := newTestEnv(t)
	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/race/start"},
		{http.MethodGet, "/api/race/lap"},
		{http.MethodGet, "/api/race/end"},
		{http.MethodGet, "/api/race/discard"},
		{http.MethodPost, "/api/live"},
		{http.MethodPost, "/api/live/stream"},
		{http.MethodPost, "/api/races"},
		{http.MethodDelete, "/api/races/latest"},
		{http.MethodPut, "/api/races/1700000000"},
		{http.MethodPost, "/api/races/1700000000/record"},
		{http.MethodPost, "/api/config"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := e.do(t, tt.method, tt.path, nil)
			testutil.AssertJSON(t, rec, http.StatusMethodNotAllowed)
		})
	}
}

func TestListRaces(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/api/races", nil)
	testutil.AssertJSON(t, rec, http.StatusOK)
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("empty archive body = %q, want []", rec.Body.String())
	}

	e.seed(t)
	rec = e.do(t, http.MethodGet, "/api/races", nil)
	testutil.AssertJSON(t, rec, http.StatusOK)
	var views []RaceView
	decodeBody(t, rec, &views)

	var names []string
	for _, v := range views {
		names = append(names, v.Name)
	}
	if diff := cmp.Diff([]string{"Evening", "Morning"}, names); diff != "" {
		t.Fatalf("history order mismatch (-want +got):\n%s", diff)
	}

	want := &Display{
		Units:            units.Metric,
		Start:            "14.11.2023 22:13",
		End:              "22:13",
		Distance:         views[1].Display.Distance,
		AverageSpeed:     "54 km/h",
		MaximumSpeed:     "72 km/h",
		MaxTilt:          "30°",
		MaximumForce:     "1.25 g",
		FastestRoundTime: "0:01",
	}
	if diff := cmp.Diff(want, views[1].Display); diff != "" {
		t.Errorf("display mismatch (-want +got):\n%s", diff)
	}
	if !strings.HasSuffix(views[1].Display.Distance, " km") {
		t.Errorf("Distance = %q, want km", views[1].Display.Distance)
	}
	if views[1].MaximumSpeed != 20 {
		t.Errorf("MaximumSpeed = %v, want SI value 20", views[1].MaximumSpeed)
	}
}

func TestListRaces_Units(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t)

	rec := e.do(t, http.MethodGet, "/api/races?units=imperial", nil)
	testutil.AssertJSON(t, rec, http.StatusOK)
	var views []RaceView
	decodeBody(t, rec, &views)
	if got := views[1].Display.MaximumSpeed; got != "45 mph" {
		t.Errorf("MaximumSpeed = %q, want %q", got, "45 mph")
	}
	if got := views[1].Display.Distance; !strings.HasSuffix(got, " mi") {
		t.Errorf("Distance = %q, want miles", got)
	}

	rec = e.do(t, http.MethodGet, "/api/races?units=furlongs", nil)
	testutil.AssertJSON(t, rec, http.StatusBadRequest)
	if msg := errorMessage(t, rec); !strings.Contains(msg, "metric, imperial") {
		t.Errorf("error = %q, want the valid systems listed", msg)
	}
}

func TestListRaces_CorruptRecord(t *testing.T) {
	e := newTestEnv(t)
	e.archive.PutRecord(testStart, []byte(`{"name":"broken"}`))

	rec := e.do(t, http.MethodGet, "/api/races", nil)
	testutil.AssertJSON(t, rec, http.StatusInternalServerError)
}

func TestLatestRace(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/api/races/latest", nil)
	testutil.AssertJSON(t, rec, http.StatusNotFound)

	e.seed(t)
	rec = e.do(t, http.MethodGet, "/api/races/latest", nil)
	testutil.AssertJSON(t, rec, http.StatusOK)
	var view RaceView
	decodeBody(t, rec, &view)
	if view.Name != "Evening" || view.StartTime != testStart+3600 {
		t.Errorf("latest = %s at %d, want Evening", view.Name, view.StartTime)
	}
}

func TestShowRace(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t)

	rec := e.do(t, http.MethodGet, "/api/races/1700000000", nil)
	testutil.AssertJSON(t, rec, http.StatusOK)
	var detail RaceDetail
	decodeBody(t, rec, &detail)

	if detail.Name != "Morning" {
		t.Errorf("Name = %q, want Morning", detail.Name)
	}
	var laps []string
	for _, l := range detail.Laps {
		laps = append(laps, l.DurationText)
	}
	if diff := cmp.Diff([]string{"0:02", "0:01"}, laps); diff != "" {
		t.Errorf("lap times mismatch (-want +got):\n%s", diff)
	}
	if len(detail.Path) != 2 || detail.Path[1].Longitude != 13.401 {
		t.Errorf("Path = %+v", detail.Path)
	}
}

func TestShowRace_Errors(t *testing.T) {
	e := newTestEnv(t)
	e.archive.PutRecord(42, []byte(`not json`))

	tests := []struct {
		path string
		want int
	}{
		{"/api/races/abc", http.StatusBadRequest},
		{"/api/races/-5", http.StatusBadRequest},
		{"/api/races/1700000000", http.StatusNotFound},
		{"/api/races/1700000000?units=bogus", http.StatusBadRequest},
		{"/api/races/42", http.StatusInternalServerError},
		{"/api/races/abc/record", http.StatusBadRequest},
		{"/api/races/1700000000/record", http.StatusNotFound},
		{"/api/races/42/record", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := e.do(t, http.MethodGet, tt.path, nil)
			testutil.AssertJSON(t, rec, tt.want)
		})
	}
}

func TestDownloadRecord(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t)

	rec := e.do(t, http.MethodGet, "/api/races/1700000000/record", nil)
	testutil.AssertJSON(t, rec, http.StatusOK)

	want, err := e.archive.RaceRecord(t.Context(), testStart)
	testutil.AssertNoError(t, err)
	if diff := cmp.Diff(string(want), rec.Body.String()); diff != "" {
		t.Errorf("record body mismatch (-want +got):\n%s", diff)
	}
	if got := rec.Header().Get("Content-Disposition"); got != `attachment; filename="1700000000-Morning.json"` {
		t.Errorf("Content-Disposition = %q", got)
	}
}

func TestOptionalRoutes(t *testing.T) {
	t.Cleanup(monitoring.SetLogger(nil))
	manager := session.NewManager(testutil.NewMemoryArchive(), session.ManagerOptions{})
	mux := NewServer(Options{Manager: manager}).ServeMux()

	for _, path := range []string{"/api/live/stream", "/api/races/1700000000/record"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
	}
}

func TestShowConfig(t *testing.T) {
	t.Cleanup(monitoring.SetLogger(nil))
	manager := session.NewManager(testutil.NewMemoryArchive(), session.ManagerOptions{})
	server := NewServer(Options{Manager: manager, Units: "furlongs"})

	rec := httptest.NewRecorder()
	server.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/config", nil))
	testutil.AssertJSON(t, rec, http.StatusOK)

	var body struct {
		Units      string   `json:"units"`
		ValidUnits []string `json:"validUnits"`
		Timezone   string   `json:"timezone"`
		Version    string   `json:"version"`
	}
	decodeBody(t, rec, &body)
	if body.Units != units.Metric {
		t.Errorf("an invalid configured system should fall back to metric, got %q", body.Units)
	}
	if diff := cmp.Diff(units.ValidSystems, body.ValidUnits); diff != "" {
		t.Errorf("validUnits mismatch (-want +got):\n%s", diff)
	}
	if body.Timezone != "Local" || body.Version == "" {
		t.Errorf("unexpected config %+v", body)
	}
}
