// Package web exposes the event schedule and the checklist manager over a
// JSON HTTP API.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"traincommander/internal/catalog"
	"traincommander/internal/config"
	"traincommander/internal/ics"
	appLog "traincommander/internal/log"
	"traincommander/internal/model"
	"traincommander/internal/train"
)

const maxBodyBytes = 1 << 20

// Server provides HTTP APIs for the event catalog and the trains.
type Server struct {
	cfg     *config.Config
	catalog *catalog.Catalog
	trains  *train.Manager
	mux     *http.ServeMux
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, cat *catalog.Catalog, trains *train.Manager) *Server {
	s := &Server{
		cfg:     cfg,
		catalog: cat,
		trains:  trains,
		mux:     http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="TrainCommander", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)

	s.mux.HandleFunc("GET /api/events/upcoming", s.handleUpcoming)
	s.mux.HandleFunc("GET /api/events/range", s.handleRange)
	s.mux.HandleFunc("GET /api/events/calendar.ics", s.handleCalendar)

	s.mux.HandleFunc("GET /api/trains", s.handleListTrains)
	s.mux.HandleFunc("POST /api/trains", s.handleCreateTrain)
	s.mux.HandleFunc("POST /api/trains/import", s.handleImportTrain)
	s.mux.HandleFunc("DELETE /api/trains/{index}", s.handleDeleteTrain)
	s.mux.HandleFunc("POST /api/trains/{index}/activate", s.handleActivateTrain)
	s.mux.HandleFunc("GET /api/trains/{index}/export", s.handleExportTrain)

	s.mux.HandleFunc("POST /api/trains/active/steps", s.handleAppendEvent)
	s.mux.HandleFunc("DELETE /api/trains/active/steps/{step}", s.handleDeleteStep)
	s.mux.HandleFunc("POST /api/trains/active/steps/{step}/move", s.handleMoveStep)

	s.mux.HandleFunc("GET /api/overlay", s.handleOverlay)
	s.mux.HandleFunc("POST /api/overlay/next", s.handleOverlayStep(s.trains.NextStep))
	s.mux.HandleFunc("POST /api/overlay/prev", s.handleOverlayStep(s.trains.PrevStep))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.catalog.Status())
}

type refreshResponse struct {
	Started bool           `json:"started"`
	Status  catalog.Status `json:"status"`
}

// handleRefresh starts a feed refresh. With ?wait=1 it blocks until the
// refresh finished or the client went away.
//
// POST /api/refresh?wait=1
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	// The fetch outlives the request.
	done, started := s.catalog.Refresh(context.WithoutCancel(r.Context()))

	if r.URL.Query().Get("wait") == "1" {
		select {
		case <-done:
		case <-r.Context().Done():
			return
		}
		writeJSON(w, http.StatusOK, refreshResponse{Started: started, Status: s.catalog.Status()})
		return
	}
	writeJSON(w, http.StatusAccepted, refreshResponse{Started: started, Status: s.catalog.Status()})
}

type eventsResponse struct {
	Generation uint64       `json:"generation"`
	Now        time.Time    `json:"now"`
	Events     []eventDTO   `json:"events"`
	Window     *windowRange `json:"window,omitempty"`
}

type windowRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

type eventDTO struct {
	model.UpcomingEvent
	SpawnAt time.Time `json:"spawn_at"`
}

func (s *Server) buildEvents(events []model.UpcomingEvent, now time.Time) eventsResponse {
	resp := eventsResponse{
		Generation: s.catalog.Status().Generation,
		Now:        now.UTC(),
		Events:     make([]eventDTO, 0, len(events)),
	}
	for _, ev := range events {
		resp.Events = append(resp.Events, eventDTO{UpcomingEvent: ev, SpawnAt: ics.SpawnInstant(ev, now)})
	}
	return resp
}

// handleUpcoming returns the next occurrence of every event.
//
// GET /api/events/upcoming?limit=10 (limit=0 means all)
func (s *Server) handleUpcoming(w http.ResponseWriter, r *http.Request) {
	limit := parseIntDefault(r.URL.Query().Get("limit"), s.cfg.UpcomingLimit)
	if limit < 0 {
		writeError(w, http.StatusBadRequest, "limit must not be negative")
		return
	}
	now := s.catalog.Now()
	writeJSON(w, http.StatusOK, s.buildEvents(s.catalog.GetUpcomingEvents(limit), now))
}

// handleRange returns every occurrence inside a minute window around now.
//
// GET /api/events/range?min=-15&max=120
func (s *Server) handleRange(w http.ResponseWriter, r *http.Request) {
	minOffset, maxOffset, ok := s.window(w, r)
	if !ok {
		return
	}
	now := s.catalog.Now()
	resp := s.buildEvents(s.catalog.GetEventsInRange(minOffset, maxOffset), now)
	resp.Window = &windowRange{Min: minOffset, Max: maxOffset}
	writeJSON(w, http.StatusOK, resp)
}

// handleCalendar renders the same window as iCalendar.
//
// GET /api/events/calendar.ics?min=-15&max=120
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	minOffset, maxOffset, ok := s.window(w, r)
	if !ok {
		return
	}
	now := s.catalog.Now()
	body := ics.Export(s.catalog.GetEventsInRange(minOffset, maxOffset), now)

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, body)
}

func (s *Server) window(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	q := r.URL.Query()
	minOffset, err := parseIntParam(q.Get("min"), s.cfg.Timeline.MinOffset)
	if err != nil {
		writeError(w, http.StatusBadRequest, "min must be an integer")
		return 0, 0, false
	}
	maxOffset, err := parseIntParam(q.Get("max"), s.cfg.Timeline.MaxOffset)
	if err != nil {
		writeError(w, http.StatusBadRequest, "max must be an integer")
		return 0, 0, false
	}
	if minOffset > maxOffset {
		writeError(w, http.StatusBadRequest, "min must not exceed max")
		return 0, 0, false
	}
	return minOffset, maxOffset, true
}

type trainsResponse struct {
	Trains      []model.TrainTemplate `json:"trains"`
	ActiveIndex int                   `json:"active_index"`
	CurrentStep int                   `json:"current_step"`
}

func (s *Server) handleListTrains(w http.ResponseWriter, _ *http.Request) {
	trains, active, step := s.trains.View()
	writeJSON(w, http.StatusOK, trainsResponse{
		Trains:      trains,
		ActiveIndex: active,
		CurrentStep: step,
	})
}

type createTrainRequest struct {
	Name   string `json:"name"`
	Author string `json:"author"`
}

type indexResponse struct {
	Index int `json:"index"`
}

// POST /api/trains {"name": "...", "author": "..."}
func (s *Server) handleCreateTrain(w http.ResponseWriter, r *http.Request) {
	var req createTrainRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	idx, err := s.trains.AddTrain(model.TrainTemplate{Name: req.Name, Author: req.Author})
	if err != nil {
		writeTrainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, indexResponse{Index: idx})
}

// POST /api/trains/import with the share code as the request body.
func (s *Server) handleImportTrain(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	idx, err := s.trains.Import(string(body))
	if err != nil {
		writeTrainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, indexResponse{Index: idx})
}

func (s *Server) handleDeleteTrain(w http.ResponseWriter, r *http.Request) {
	idx, ok := pathIndex(w, r, "index")
	if !ok {
		return
	}
	if err := s.trains.DeleteTrain(idx); err != nil {
		writeTrainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleActivateTrain(w http.ResponseWriter, r *http.Request) {
	idx, ok := pathIndex(w, r, "index")
	if !ok {
		return
	}
	if err := s.trains.SetActive(idx); err != nil {
		writeTrainError(w, err)
		return
	}
	s.writeOverlay(w)
}

type exportResponse struct {
	Code string `json:"code"`
}

func (s *Server) handleExportTrain(w http.ResponseWriter, r *http.Request) {
	idx, ok := pathIndex(w, r, "index")
	if !ok {
		return
	}
	code, err := s.trains.Export(idx)
	if err != nil {
		writeTrainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exportResponse{Code: code})
}

type appendEventRequest struct {
	Event             string `json:"event"`
	MinutesUntilSpawn int    `json:"minutes_until_spawn"`
}

// handleAppendEvent snapshots one occurrence into the active train. The
// occurrence is looked up in the configured timeline window first and then
// among the upcoming events.
//
// POST /api/trains/active/steps {"event": "Tequatl Rising", "minutes_until_spawn": 12}
func (s *Server) handleAppendEvent(w http.ResponseWriter, r *http.Request) {
	var req appendEventRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ev, found := findOccurrence(s.catalog.GetEventsInRange(s.cfg.Timeline.MinOffset, s.cfg.Timeline.MaxOffset), req)
	if !found {
		ev, found = findOccurrence(s.catalog.GetUpcomingEvents(0), req)
	}
	if !found {
		writeError(w, http.StatusNotFound, "no such occurrence")
		return
	}

	idx, err := s.trains.AppendEvent(ev)
	if err != nil {
		writeTrainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, indexResponse{Index: idx})
}

func findOccurrence(events []model.UpcomingEvent, req appendEventRequest) (model.UpcomingEvent, bool) {
	for _, ev := range events {
		if ev.Definition.Name == req.Event && ev.MinutesUntilSpawn == req.MinutesUntilSpawn {
			return ev, true
		}
	}
	return model.UpcomingEvent{}, false
}

func (s *Server) handleDeleteStep(w http.ResponseWriter, r *http.Request) {
	step, ok := pathIndex(w, r, "step")
	if !ok {
		return
	}
	_, active, found := s.trains.Active()
	if !found {
		writeTrainError(w, train.ErrNoActiveTrain)
		return
	}
	if err := s.trains.DeleteStep(active, step); err != nil {
		writeTrainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/trains/active/steps/{step}/move?dir=up|down
func (s *Server) handleMoveStep(w http.ResponseWriter, r *http.Request) {
	step, ok := pathIndex(w, r, "step")
	if !ok {
		return
	}
	var delta int
	switch r.URL.Query().Get("dir") {
	case "up":
		delta = -1
	case "down":
		delta = 1
	default:
		writeError(w, http.StatusBadRequest, "dir must be up or down")
		return
	}

	_, active, found := s.trains.Active()
	if !found {
		writeTrainError(w, train.ErrNoActiveTrain)
		return
	}
	if err := s.trains.MoveStep(active, step, delta); err != nil {
		writeTrainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type overlayResponse struct {
	Active bool `json:"active"`
	*train.Overlay
}

func (s *Server) handleOverlay(w http.ResponseWriter, _ *http.Request) {
	s.writeOverlay(w)
}

func (s *Server) handleOverlayStep(move func() int) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		move()
		s.writeOverlay(w)
	}
}

func (s *Server) writeOverlay(w http.ResponseWriter) {
	ov, ok := s.trains.Overlay(s.catalog.Now())
	if !ok {
		writeJSON(w, http.StatusOK, overlayResponse{})
		return
	}
	writeJSON(w, http.StatusOK, overlayResponse{Active: true, Overlay: &ov})
}

func writeTrainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, train.ErrIndexOutOfRange):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, train.ErrNoActiveTrain):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, train.ErrInvalidShareCode):
		writeError(w, http.StatusBadRequest, "invalid share code")
	default:
		appLog.Error("api train operation failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func pathIndex(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	n, err := strconv.Atoi(r.PathValue(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, name+" must be an integer")
		return 0, false
	}
	return n, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func parseIntDefault(s string, def int) int {
	n, err := parseIntParam(s, def)
	if err != nil {
		return def
	}
	return n
}

func parseIntParam(s string, def int) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
