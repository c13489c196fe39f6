package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"remindcal/internal/config"
	appLog "remindcal/internal/log"
	"remindcal/internal/lunar"
	"remindcal/internal/notify"
	"remindcal/internal/orchestrator"
	"remindcal/internal/store"
)

// Service is the part of the orchestrator the HTTP API drives.
type Service interface {
	Snapshot(ctx context.Context) ([]orchestrator.ScheduleStatus, error)
	Status() orchestrator.ServiceStatus
	RunImmediateCheck(ctx context.Context) orchestrator.TickResult
	RearmAll(ctx context.Context) (int, error)
	SendTestNotification(ctx context.Context) error
	SetEnabled(ctx context.Context, on bool)
}

// Refresher re-reads schedule sources on demand (the ICS store).
type Refresher interface {
	Refresh(ctx context.Context) ([]store.Change, error)
}

// Server provides HTTP APIs for reminder status and manual actions.
type Server struct {
	cfg     *config.Config
	svc     Service
	lunar   *lunar.Converter
	refresh Refresher
	loc     *time.Location
	mux     *http.ServeMux

	// In-memory cache for /api/schedules responses. Status pages poll;
	// the snapshot reads the ledger for every schedule.
	schedulesMu    sync.RWMutex
	schedulesCache *schedulesCache
}

// NewServer constructs a new Server. refresh may be nil when no ICS
// sources are configured.
func NewServer(cfg *config.Config, svc Service, conv *lunar.Converter, refresh Refresher) *Server {
	if conv == nil {
		conv = lunar.NewConverter(cfg.Lunar.MinYear, cfg.Lunar.MaxYear)
	}
	s := &Server{
		cfg:     cfg,
		svc:     svc,
		lunar:   conv,
		refresh: refresh,
		loc:     resolveLocationOrLocal(cfg.Timezone),
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
	// 빈 사용자명 또는 비밀번호가 설정된 경우에는 비활성화로 취급한다.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// /health 는 항상 무인증으로 노출한다.
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="remindcal", charset="UTF-8"`)
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
	s.mux.HandleFunc("GET /api/schedules", s.handleSchedules)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("POST /api/check", s.handleCheck)
	s.mux.HandleFunc("POST /api/rearm", s.handleRearm)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	s.mux.HandleFunc("PUT /api/enabled", s.handleEnabled)
	s.mux.HandleFunc("GET /api/lunar", s.handleLunar)
	s.mux.HandleFunc("POST /api/test-notification", s.handleTestNotification)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// schedulesResponse is the JSON response shape for /api/schedules.
type schedulesResponse struct {
	Schedules       []orchestrator.ScheduleStatus `json:"schedules"`
	Partial         bool                          `json:"partial"`
	Service         orchestrator.ServiceStatus    `json:"service"`
	DisplayTimeZone string                        `json:"display_timezone"`
	GeneratedAt     time.Time                     `json:"generated_at"`
}

// schedulesCache holds a cached /api/schedules response and its timestamp.
type schedulesCache struct {
	resp      schedulesResponse
	updatedAt time.Time
}

const schedulesCacheTTL = 2 * time.Second

// handleSchedules returns the reminder state of every schedule.
//
// GET /api/schedules
//   - 스토어를 읽을 수 없으면 503
//   - 일부만 읽힌 경우 partial=true 와 함께 읽힌 항목만 반환
func (s *Server) handleSchedules(w http.ResponseWriter, r *http.Request) {
	s.schedulesMu.RLock()
	sc := s.schedulesCache
	s.schedulesMu.RUnlock()
	if sc != nil && time.Since(sc.updatedAt) < schedulesCacheTTL {
		writeJSON(w, http.StatusOK, sc.resp)
		return
	}

	list, err := s.svc.Snapshot(r.Context())
	partial := errors.Is(err, store.ErrPartial)
	if err != nil && !partial {
		appLog.Error("api schedules: snapshot failed", err)
		writeError(w, http.StatusServiceUnavailable, "schedules unavailable")
		return
	}
	if list == nil {
		list = []orchestrator.ScheduleStatus{}
	}

	resp := schedulesResponse{
		Schedules:       list,
		Partial:         partial,
		Service:         s.svc.Status(),
		DisplayTimeZone: s.loc.String(),
		GeneratedAt:     time.Now().In(s.loc),
	}

	s.schedulesMu.Lock()
	s.schedulesCache = &schedulesCache{resp: resp, updatedAt: time.Now()}
	s.schedulesMu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) invalidateSchedules() {
	s.schedulesMu.Lock()
	s.schedulesCache = nil
	s.schedulesMu.Unlock()
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Status())
}

// handleCheck runs an immediate tick and returns its summary. The tick
// outlives a client that disconnects mid-request.
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	res := s.svc.RunImmediateCheck(context.WithoutCancel(r.Context()))
	s.invalidateSchedules()
	writeJSON(w, http.StatusOK, res)
}

type rearmResponse struct {
	Armed int `json:"armed"`
}

// handleRearm cancels and re-arms every wake, e.g. after the host clock or
// zone was changed.
//
// POST /api/rearm
//   - 스토어를 읽을 수 없으면 503
func (s *Server) handleRearm(w http.ResponseWriter, r *http.Request) {
	n, err := s.svc.RearmAll(context.WithoutCancel(r.Context()))
	if err != nil {
		appLog.Error("api rearm failed", err)
		writeError(w, http.StatusServiceUnavailable, "rearm failed")
		return
	}
	writeJSON(w, http.StatusOK, rearmResponse{Armed: n})
}

type refreshResponse struct {
	Changes int    `json:"changes"`
	Partial bool   `json:"partial"`
	Error   string `json:"error,omitempty"`
}

// handleRefresh re-fetches the ICS subscriptions.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.refresh == nil {
		writeJSON(w, http.StatusOK, refreshResponse{})
		return
	}

	changes, err := s.refresh.Refresh(r.Context())
	s.invalidateSchedules()
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, refreshResponse{Changes: len(changes)})
	case errors.Is(err, store.ErrPartial):
		writeJSON(w, http.StatusOK, refreshResponse{Changes: len(changes), Partial: true, Error: err.Error()})
	default:
		appLog.Error("api refresh failed", err)
		writeError(w, http.StatusBadGateway, "refresh failed")
	}
}

type enabledRequest struct {
	Enabled *bool `json:"enabled"`
}

// handleEnabled flips the master reminder switch.
//
// PUT /api/enabled {"enabled": true}
func (s *Server) handleEnabled(w http.ResponseWriter, r *http.Request) {
	var req enabledRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil || req.Enabled == nil {
		writeError(w, http.StatusBadRequest, `body must be {"enabled": true|false}`)
		return
	}
	s.svc.SetEnabled(r.Context(), *req.Enabled)
	s.invalidateSchedules()
	writeJSON(w, http.StatusOK, s.svc.Status())
}

// lunarResponse is the JSON response shape for /api/lunar.
type lunarResponse struct {
	Date         string `json:"date"`
	Year         int    `json:"lunar_year"`
	Month        int    `json:"lunar_month"`
	Day          int    `json:"lunar_day"`
	IsLeapMonth  bool   `json:"is_leap_month"`
	SolarTerm    string `json:"solar_term,omitempty"`
	Text         string `json:"text"`
	TextWithYear string `json:"text_with_year"`
	Animal       string `json:"animal"`
}

// handleLunar converts a Gregorian date.
//
// GET /api/lunar?date=2024-02-10
//   - date 가 없으면 오늘(설정된 타임존 기준)
//   - 지원 범위를 벗어나면 422
func (s *Server) handleLunar(w http.ResponseWriter, r *http.Request) {
	var day time.Time
	if v := r.URL.Query().Get("date"); v != "" {
		d, err := time.ParseInLocation(time.DateOnly, v, s.loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		day = d
	} else {
		day = time.Now().In(s.loc)
	}

	d, err := s.lunar.ToLunar(day)
	if err != nil {
		if errors.Is(err, lunar.ErrOutOfRange) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "conversion failed")
		return
	}

	writeJSON(w, http.StatusOK, lunarResponse{
		Date:         day.Format(time.DateOnly),
		Year:         d.Year,
		Month:        d.Month,
		Day:          d.Day,
		IsLeapMonth:  d.IsLeapMonth,
		SolarTerm:    d.SolarTerm,
		Text:         s.lunar.Format(day),
		TextWithYear: s.lunar.FormatWithYear(day),
		Animal:       lunar.Animal(d.Year),
	})
}

// handleTestNotification shows the fixed test notification. A withheld
// notification permission is reported as 403.
func (s *Server) handleTestNotification(w http.ResponseWriter, r *http.Request) {
	err := s.svc.SendTestNotification(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"sent": true})
	case errors.Is(err, notify.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, "notification permission denied")
	default:
		writeError(w, http.StatusInternalServerError, "notification failed")
	}
}

func resolveLocationOrLocal(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
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
