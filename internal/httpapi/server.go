// Package httpapi serves a read-only view of pollers and their run records.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hamed0406/opswatch/internal/domain"
	apimw "github.com/hamed0406/opswatch/internal/httpapi/middleware"
	"github.com/hamed0406/opswatch/internal/repo"
	"github.com/hamed0406/opswatch/internal/scheduler"
)

// ErrUnknownPoller is returned by Registry.Tick for names it does not know.
var ErrUnknownPoller = errors.New("unknown poller")

// Registry is the set of running pollers.
type Registry interface {
	Statuses() []scheduler.Status
	Tick(ctx context.Context, name string) (domain.RunRecord, error)
}

type Server struct {
	Logger  *zap.Logger
	Records repo.RecordStore
	Pollers Registry
	Metrics http.Handler // served on /metrics when set
}

func NewServer(l *zap.Logger, records repo.RecordStore, pollers Registry, metrics http.Handler) *Server {
	if l == nil {
		l = zap.NewNop()
	}
	return &Server{Logger: l, Records: records, Pollers: pollers, Metrics: metrics}
}

// Router builds the handler. /healthz and /metrics are open; /api requires a public or
// admin key when any key is configured, and triggering a tick requires an admin key.
func (s *Server) Router(keys apimw.Keys, publicRPM, publicBurst int) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.AllowAll().Handler)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if s.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(apimw.RateLimit(publicRPM, publicBurst))
		r.Use(apimw.RequireAny(keys))

		r.Get("/pollers", s.handleListPollers)
		r.Get("/pollers/{name}", s.handleGetPoller)
		r.With(apimw.RequireAdmin(keys)).Post("/pollers/{name}/tick", s.handleTick)

		r.Get("/records/latest", s.handleLatest)
		r.Get("/records", s.handleListRecords)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleListPollers(w http.ResponseWriter, r *http.Request) {
	if s.Pollers == nil {
		writeJSON(w, http.StatusOK, []scheduler.Status{})
		return
	}
	writeJSON(w, http.StatusOK, s.Pollers.Statuses())
}

func (s *Server) handleGetPoller(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if s.Pollers != nil {
		for _, st := range s.Pollers.Statuses() {
			if st.Name == name {
				writeJSON(w, http.StatusOK, st)
				return
			}
		}
	}
	writeError(w, http.StatusNotFound, "unknown poller")
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if s.Pollers == nil {
		writeError(w, http.StatusNotFound, "unknown poller")
		return
	}
	// The tick outlives a client that hangs up; its record is still emitted.
	rec, err := s.Pollers.Tick(context.WithoutCancel(r.Context()), name)
	switch {
	case errors.Is(err, ErrUnknownPoller):
		writeError(w, http.StatusNotFound, "unknown poller")
		return
	case err != nil:
		s.Logger.Warn("api_tick_error", zap.String("poller", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "tick failed")
		return
	}
	s.Logger.Info("api_tick",
		zap.String("poller", name),
		zap.String("record_id", rec.ID),
		zap.String("verdict", rec.Verdict.String()),
	)
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	recs, err := s.Records.Latest(r.Context())
	if err != nil {
		s.Logger.Warn("api_latest_error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "latest error")
		return
	}
	if recs == nil {
		recs = []domain.RunRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	q := repo.Query{Poller: r.URL.Query().Get("poller")}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		q.Limit = n
	}
	recs, err := s.Records.List(r.Context(), q)
	if err != nil {
		s.Logger.Warn("api_list_error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list error")
		return
	}
	if recs == nil {
		recs = []domain.RunRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}
