package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"traincommander/internal/catalog"
	"traincommander/internal/config"
	"traincommander/internal/feed"
	"traincommander/internal/train"
)

// 2025-09-30 20:10 UTC is minute 1210; local midnight is minute 180, so the
// offsets below spawn at 1205, 1220 and 1300.
var testNow = time.Unix(1759262400, 0).UTC().Add(10 * time.Minute)

const testFeed = `{"categories":[{"name":"World bosses","tracks":[{"name":"Bosses","schedules":[
	{"name":"recent","copy_text":"[&wp0]","offset":1025},
	{"name":"soon","copy_text":"[&wp1]","offset":1040},
	{"name":"later","copy_text":"[&wp2]","offset":1120}
]}]}]}`

type staticSource string

func (s staticSource) Fetch(context.Context) (feed.FetchResult, error) {
	return feed.FetchResult{Body: []byte(s)}, nil
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	cat := catalog.New(staticSource(testFeed), catalog.WithClock(func() time.Time { return testNow }))
	t.Cleanup(cat.Close)
	if err := cat.Apply([]byte(testFeed)); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	mgr := train.NewManager(train.NewStore(afero.NewMemMapFs(), "/data/trains.json"))
	return NewServer(cfg, cat, mgr)
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

type eventsBody struct {
	Generation uint64 `json:"generation"`
	Events     []struct {
		Definition struct {
			Name string `json:"name"`
		} `json:"definition"`
		MinutesUntilSpawn int       `json:"minutes_until_spawn"`
		SpawnMinuteUTC    int       `json:"spawn_minute_utc"`
		SpawnAt           time.Time `json:"spawn_at"`
	} `json:"events"`
	Window *windowRange `json:"window"`
}

func TestHealthAndBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "user", Password: "secret"}
	h := newTestServer(t, cfg).Handler()

	if rec := do(t, h, http.MethodGet, "/health", ""); rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("health = %d %q", rec.Code, rec.Body.String())
	}

	rec := do(t, h, http.MethodGet, "/api/status", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("WWW-Authenticate"), "Basic") {
		t.Fatal("missing WWW-Authenticate header")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.SetBasicAuth("user", "wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.SetBasicAuth("user", "secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d", rec.Code)
	}
	st := decode[catalog.Status](t, rec)
	if st.Generation != 1 || st.EventCount != 3 {
		t.Fatalf("status = %+v", st)
	}
}

func TestUpcomingEndpoint(t *testing.T) {
	h := newTestServer(t, nil).Handler()

	rec := do(t, h, http.MethodGet, "/api/events/upcoming?limit=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decode[eventsBody](t, rec)
	if len(body.Events) != 2 {
		t.Fatalf("events = %d, want 2", len(body.Events))
	}
	if body.Events[0].Definition.Name != "recent" || body.Events[0].MinutesUntilSpawn != -5 {
		t.Fatalf("first = %+v", body.Events[0])
	}
	if want := testNow.Add(10 * time.Minute); !body.Events[1].SpawnAt.Equal(want) {
		t.Fatalf("spawn_at = %s, want %s", body.Events[1].SpawnAt, want)
	}
	if body.Window != nil {
		t.Fatal("upcoming should not report a window")
	}

	all := decode[eventsBody](t, do(t, h, http.MethodGet, "/api/events/upcoming?limit=0", ""))
	if len(all.Events) != 3 {
		t.Fatalf("limit=0 events = %d, want 3", len(all.Events))
	}

	if rec := do(t, h, http.MethodGet, "/api/events/upcoming?limit=-1", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("negative limit = %d, want 400", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/events/upcoming", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST upcoming = %d, want 405", rec.Code)
	}
}

func TestRangeEndpoint(t *testing.T) {
	h := newTestServer(t, nil).Handler()

	body := decode[eventsBody](t, do(t, h, http.MethodGet, "/api/events/range", ""))
	if len(body.Events) != 3 || body.Window == nil || body.Window.Min != -15 || body.Window.Max != 120 {
		t.Fatalf("default window = %+v, %d events", body.Window, len(body.Events))
	}

	narrow := decode[eventsBody](t, do(t, h, http.MethodGet, "/api/events/range?min=0&max=60", ""))
	if len(narrow.Events) != 1 || narrow.Events[0].Definition.Name != "soon" {
		t.Fatalf("narrow window = %+v", narrow.Events)
	}

	for _, q := range []string{"min=5&max=1", "min=abc", "max=1.5"} {
		if rec := do(t, h, http.MethodGet, "/api/events/range?"+q, ""); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s = %d, want 400", q, rec.Code)
		}
	}
}

func TestCalendarEndpoint(t *testing.T) {
	h := newTestServer(t, nil).Handler()

	rec := do(t, h, http.MethodGet, "/api/events/calendar.ics?min=0&max=120", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
		t.Fatalf("content type = %q", ct)
	}
	out := rec.Body.String()
	if !strings.Contains(out, "BEGIN:VCALENDAR") || !strings.Contains(out, "SUMMARY:soon") || !strings.Contains(out, "SUMMARY:later") {
		t.Fatalf("calendar body:\n%s", out)
	}
	if strings.Contains(out, "SUMMARY:recent") {
		t.Fatal("occurrence outside the window exported")
	}
}

func TestRefreshEndpoint(t *testing.T) {
	h := newTestServer(t, nil).Handler()

	rec := do(t, h, http.MethodPost, "/api/refresh?wait=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[refreshResponse](t, rec)
	if !resp.Started || resp.Status.Generation != 2 || resp.Status.Fetching {
		t.Fatalf("refresh = %+v", resp)
	}
}

func TestTrainWorkflow(t *testing.T) {
	h := newTestServer(t, nil).Handler()

	rec := do(t, h, http.MethodPost, "/api/trains", `{"name":"Run","author":"Taimi"}`)
	if rec.Code != http.StatusCreated || decode[indexResponse](t, rec).Index != 0 {
		t.Fatalf("create = %d %s", rec.Code, rec.Body.String())
	}

	if rec := do(t, h, http.MethodPost, "/api/trains/active/steps", `{"event":"soon","minutes_until_spawn":10}`); rec.Code != http.StatusConflict {
		t.Fatalf("append without active train = %d, want 409", rec.Code)
	}

	rec = do(t, h, http.MethodPost, "/api/trains/0/activate", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("activate = %d", rec.Code)
	}
	if ov := decode[overlayResponse](t, rec); ov.Active {
		t.Fatal("a train without steps has no overlay")
	}
	if rec := do(t, h, http.MethodPost, "/api/trains/7/activate", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("activate missing train = %d, want 404", rec.Code)
	}
	_ = do(t, h, http.MethodPost, "/api/trains/0/activate", "")

	rec = do(t, h, http.MethodPost, "/api/trains/active/steps", `{"event":"soon","minutes_until_spawn":10}`)
	if rec.Code != http.StatusCreated || decode[indexResponse](t, rec).Index != 0 {
		t.Fatalf("append = %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(t, h, http.MethodPost, "/api/trains/active/steps", `{"event":"soon","minutes_until_spawn":11}`); rec.Code != http.StatusNotFound {
		t.Fatalf("append unknown occurrence = %d, want 404", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/trains/active/steps", `{"event":`); rec.Code != http.StatusBadRequest {
		t.Fatalf("append bad JSON = %d, want 400", rec.Code)
	}

	ov := decode[overlayResponse](t, do(t, h, http.MethodGet, "/api/overlay", ""))
	if !ov.Active || ov.Step.Title != "soon" || ov.Step.SpawnMinuteUTC != 1220 || ov.Broadcast == "" {
		t.Fatalf("overlay = %+v", ov)
	}
	if ov.Countdown == nil || ov.Countdown.Seconds != 600 || ov.Countdown.State != train.CountdownScheduled {
		t.Fatalf("countdown = %+v", ov.Countdown)
	}

	_ = do(t, h, http.MethodPost, "/api/trains/active/steps", `{"event":"later","minutes_until_spawn":90}`)
	if rec := do(t, h, http.MethodPost, "/api/trains/active/steps/1/move?dir=up", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("move = %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(t, h, http.MethodPost, "/api/trains/active/steps/0/move?dir=up", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("move first step up = %d, want 404", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/trains/active/steps/0/move?dir=left", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("move bad dir = %d, want 400", rec.Code)
	}

	list := decode[trainsResponse](t, do(t, h, http.MethodGet, "/api/trains", ""))
	if len(list.Trains) != 1 || list.ActiveIndex != 0 || list.CurrentStep != 1 {
		t.Fatalf("trains = %+v", list)
	}
	if steps := list.Trains[0].Steps; len(steps) != 2 || steps[0].Title != "later" || steps[1].Title != "soon" {
		t.Fatalf("steps after move = %+v", steps)
	}

	ov = decode[overlayResponse](t, do(t, h, http.MethodPost, "/api/overlay/prev", ""))
	if ov.StepIndex != 0 || ov.Step.Title != "later" {
		t.Fatalf("prev = %+v", ov)
	}
	ov = decode[overlayResponse](t, do(t, h, http.MethodPost, "/api/overlay/next", ""))
	if ov.StepIndex != 1 {
		t.Fatalf("next = %+v", ov)
	}

	if rec := do(t, h, http.MethodDelete, "/api/trains/active/steps/0", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete step = %d", rec.Code)
	}

	exp := decode[exportResponse](t, do(t, h, http.MethodGet, "/api/trains/0/export", ""))
	if exp.Code == "" {
		t.Fatal("empty share code")
	}
	rec = do(t, h, http.MethodPost, "/api/trains/import", exp.Code)
	if rec.Code != http.StatusCreated || decode[indexResponse](t, rec).Index != 1 {
		t.Fatalf("import = %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(t, h, http.MethodPost, "/api/trains/import", "definitely not base64!"); rec.Code != http.StatusBadRequest {
		t.Fatalf("import garbage = %d, want 400", rec.Code)
	}

	if rec := do(t, h, http.MethodDelete, "/api/trains/5", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("delete missing = %d, want 404", rec.Code)
	}
	if rec := do(t, h, http.MethodDelete, "/api/trains/x", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("delete bad index = %d, want 400", rec.Code)
	}
	if rec := do(t, h, http.MethodDelete, "/api/trains/0", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete active = %d", rec.Code)
	}
	if ov := decode[overlayResponse](t, do(t, h, http.MethodGet, "/api/overlay", "")); ov.Active {
		t.Fatal("deleting the active train should clear the overlay")
	}
	if rec := do(t, h, http.MethodDelete, "/api/trains/active/steps/0", ""); rec.Code != http.StatusConflict {
		t.Fatalf("delete step without active train = %d, want 409", rec.Code)
	}
}
