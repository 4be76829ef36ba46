package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	"go.uber.org/zap"

	cmsapi "github.com/dgnsrekt/cms-sync/internal/api"
	"github.com/dgnsrekt/cms-sync/internal/storage"
	cmssync "github.com/dgnsrekt/cms-sync/internal/sync"
)

// StateReader is the read side of storage.Store.
type StateReader interface {
	GetSyncState(ctx context.Context, languageCode string) (storage.SyncState, bool, error)
	ListSyncStates(ctx context.Context) (map[string]storage.SyncState, error)
	GetSitemap(ctx context.Context, channelName, languageCode string) (cmsapi.Sitemap, error)
}

// Subscribers reports how many event subscribers are connected.
type Subscribers interface {
	ClientCount() int
}

type Server struct {
	store       StateReader
	runs        *RunManager
	subscribers Subscribers
	runCtx      context.Context
	startedAt   time.Time
	logger      *zap.Logger
}

// NewServer builds the API handlers. runCtx bounds background runs started
// through POST /v1/sync; subscribers may be nil.
func NewServer(runCtx context.Context, store StateReader, runs *RunManager, subscribers Subscribers, logger *zap.Logger) *Server {
	return &Server{
		store:       store,
		runs:        runs,
		subscribers: subscribers,
		runCtx:      runCtx,
		startedAt:   time.Now(),
		logger:      logger,
	}
}

type healthResponse struct {
	Status      string   `json:"status"`
	UptimeSec   int64    `json:"uptime_sec"`
	SyncRunning bool     `json:"sync_running"`
	Subscribers int      `json:"subscribers"`
	LastRun     *LastRun `json:"last_run,omitempty"`
}

func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:      "ok",
		UptimeSec:   int64(time.Since(s.startedAt).Seconds()),
		SyncRunning: s.runs.Running(),
	}
	if s.subscribers != nil {
		resp.Subscribers = s.subscribers.ClientCount()
	}
	if last, ok := s.runs.Last(); ok {
		resp.LastRun = &last
	}
	writeJSON(w, http.StatusOK, resp)
}

type syncStateResponse struct {
	Language  string `json:"language"`
	ItemToken int64  `json:"itemToken"`
	PageToken int64  `json:"pageToken"`
}

type syncStatesResponse struct {
	Count  int                          `json:"count"`
	States map[string]syncStateResponse `json:"states"`
}

func (s *Server) ListSyncStates(w http.ResponseWriter, r *http.Request) {
	states, err := s.store.ListSyncStates(r.Context())
	if err != nil {
		s.logger.Error("listing sync states", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list sync states")
		return
	}

	resp := syncStatesResponse{Count: len(states), States: make(map[string]syncStateResponse, len(states))}
	for lang, st := range states {
		resp.States[lang] = syncStateResponse{Language: lang, ItemToken: st.ItemToken, PageToken: st.PageToken}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) GetSyncState(w http.ResponseWriter, r *http.Request) {
	var language string
	if err := bindPathParam(r, "language", &language); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	st, found, err := s.store.GetSyncState(r.Context(), language)
	if err != nil {
		s.logger.Error("reading sync state", zap.String("language", language), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read sync state")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "no sync state for "+language)
		return
	}
	writeJSON(w, http.StatusOK, syncStateResponse{Language: language, ItemToken: st.ItemToken, PageToken: st.PageToken})
}

func (s *Server) GetSitemap(w http.ResponseWriter, r *http.Request) {
	var channel, language string
	if err := bindPathParam(r, "channel", &channel); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := bindPathParam(r, "language", &language); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sitemap, err := s.store.GetSitemap(r.Context(), channel, language)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no sitemap for "+channel+"/"+language)
		return
	}
	if err != nil {
		s.logger.Error("reading sitemap", zap.String("channel", channel), zap.String("language", language), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read sitemap")
		return
	}
	writeJSON(w, http.StatusOK, sitemap)
}

func (s *Server) TriggerSync(w http.ResponseWriter, r *http.Request) {
	var wait bool
	if err := runtime.BindQueryParameter("form", true, false, "wait", r.URL.Query(), &wait); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !wait {
		if err := s.runs.Start(s.runCtx); err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
		return
	}

	result, err := s.runs.RunNow(r.Context())
	switch {
	case errors.Is(err, cmssync.ErrRunInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, result)
	}
}

func bindPathParam(r *http.Request, name string, dest *string) error {
	return runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), dest,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
