// Package api is the management surface for tooling: REST endpoints over
// the manager, a websocket lifecycle event feed, and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/odvcencio/cardhost/pkg/descriptor"
	apperrors "github.com/odvcencio/cardhost/pkg/errors"
	"github.com/odvcencio/cardhost/pkg/instance"
	"github.com/odvcencio/cardhost/pkg/logging"
	"github.com/odvcencio/cardhost/pkg/manager"
	"github.com/odvcencio/cardhost/pkg/storage"
	"github.com/odvcencio/cardhost/pkg/telemetry"
)

// Config wires the server's collaborators. Manager and Apps are required.
type Config struct {
	Bind    string
	Manager *manager.Manager
	Apps    *descriptor.Registry
	Store   *storage.Store
	Metrics *telemetry.Metrics
	Log     *logging.Logger

	// LaunchRate caps launches per second through the API; zero means the
	// default of 5/s with bursts of 10.
	LaunchRate rate.Limit
}

// Server serves the management API.
type Server struct {
	config  Config
	router  *chi.Mux
	limiter *rate.Limiter
	prom    *promBridge

	mu      sync.Mutex
	httpSrv *http.Server
}

// NewServer builds the server and its routes.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Manager == nil || cfg.Apps == nil {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput, "manager and app registry are required")
	}
	limit := cfg.LaunchRate
	if limit == 0 {
		limit = rate.Limit(5)
	}
	s := &Server{
		config:  cfg,
		limiter: rate.NewLimiter(limit, 10),
		prom:    newPromBridge(cfg.Metrics),
	}
	s.router = s.buildRouter()
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe runs the server until the listener fails or Shutdown is
// called.
func (s *Server) ListenAndServe() error {
	srv := &http.Server{
		Addr:              s.config.Bind,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.mu.Lock()
	s.httpSrv = srv
	s.mu.Unlock()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) buildRouter() *chi.Mux {
	router := chi.NewRouter()

	router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/apps", s.handleListApps)
		r.Post("/apps/{appID}/launch", s.handleLaunch)
		r.Get("/instances", s.handleListInstances)
		r.Get("/instances/{instanceID}", s.handleGetInstance)
		r.Post("/instances/{instanceID}/relaunch", s.handleRelaunch)
		r.Post("/instances/{instanceID}/focus", s.handleFocus)
		r.Delete("/instances/{instanceID}", s.handleDestroy)
		r.Get("/history", s.handleHistory)
		r.Get("/events", s.handleEvents)
	})
	router.Get("/metrics", s.prom.handler().ServeHTTP)

	return router
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

type appSummary struct {
	ID       string `json:"id"`
	Title    string `json:"title,omitempty"`
	Icon     string `json:"icon,omitempty"`
	URL      string `json:"url"`
	Headless bool   `json:"headless"`
}

func (s *Server) handleListApps(w http.ResponseWriter, _ *http.Request) {
	apps := s.config.Apps.List()
	summaries := make([]appSummary, 0, len(apps))
	for _, desc := range apps {
		summaries = append(summaries, appSummary{
			ID:       desc.ID,
			Title:    desc.Title,
			Icon:     desc.IconURL(),
			URL:      desc.EntryPointURL(),
			Headless: desc.Headless(),
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"apps": summaries})
}

type launchRequest struct {
	Parameters string `json:"parameters"`
}

type instanceSummary struct {
	InstanceID string `json:"instanceId"`
	AppID      string `json:"appId"`
	ProcessID  string `json:"processId"`
	URL        string `json:"url"`
	Parameters string `json:"parameters,omitempty"`
	Ready      bool   `json:"ready"`
	Headless   bool   `json:"headless"`
	ActivityID int    `json:"activityId"`
}

func summarize(inst *instance.Instance) instanceSummary {
	return instanceSummary{
		InstanceID: inst.InstanceID(),
		AppID:      inst.AppID(),
		ProcessID:  inst.ProcessID(),
		URL:        inst.URL(),
		Parameters: inst.Parameters(),
		Ready:      inst.Ready(),
		Headless:   inst.Headless(),
		ActivityID: inst.ActivityID(),
	}
}

func (s *Server) handleLaunch(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		respondError(w, http.StatusTooManyRequests, errors.New("launch rate exceeded"))
		return
	}

	var req launchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	inst, err := s.config.Manager.Launch(r.Context(), chi.URLParam(r, "appID"), req.Parameters)
	if err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	respondJSON(w, http.StatusCreated, summarize(inst))
}

func (s *Server) handleListInstances(w http.ResponseWriter, _ *http.Request) {
	live := s.config.Manager.List()
	summaries := make([]instanceSummary, 0, len(live))
	for _, inst := range live {
		summaries = append(summaries, summarize(inst))
	}
	respondJSON(w, http.StatusOK, map[string]any{"instances": summaries})
}

func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.config.Manager.Get(chi.URLParam(r, "instanceID"))
	if !ok {
		respondError(w, http.StatusNotFound, errors.New("instance not found"))
		return
	}
	respondJSON(w, http.StatusOK, summarize(inst))
}

func (s *Server) handleRelaunch(w http.ResponseWriter, r *http.Request) {
	var req launchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.config.Manager.Relaunch(r.Context(), chi.URLParam(r, "instanceID"), req.Parameters); err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "relaunched"})
}

type focusRequest struct {
	Focus bool `json:"focus"`
}

func (s *Server) handleFocus(w http.ResponseWriter, r *http.Request) {
	var req focusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.config.Manager.SetFocus(r.Context(), chi.URLParam(r, "instanceID"), req.Focus); err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDestroy(w http.ResponseWriter, r *http.Request) {
	if err := s.config.Manager.Destroy(r.Context(), chi.URLParam(r, "instanceID")); err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "destroyed"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.config.Store == nil {
		respondError(w, http.StatusServiceUnavailable, errors.New("history unavailable"))
		return
	}
	limit := parseIntDefault(r.URL.Query().Get("limit"), 50)
	records, err := s.config.Store.RecentLaunches(r.URL.Query().Get("app"), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if records == nil {
		records = []storage.LaunchRecord{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"launches": records})
}

func statusFor(err error) int {
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeInstanceNotFound, apperrors.ErrCodeDescriptorNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeInstanceDuplicate:
		return http.StatusConflict
	case apperrors.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case apperrors.ErrCodeInstanceDestroyed, apperrors.ErrCodeWindowClosed:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]string{"error": err.Error()})
}

func parseIntDefault(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
