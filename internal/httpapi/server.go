package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/ipbeep/attendance/internal/attend/remote"
	"github.com/ipbeep/attendance/internal/attend/service"
	"github.com/ipbeep/attendance/internal/attend/store"
	"github.com/ipbeep/attendance/internal/attend/types"
)

type Dependencies struct {
	Logger        *log.Logger
	Addr          string
	Coordinator   *service.Coordinator
	Registrations store.RegistrationStore
}

type Server struct {
	httpServer    *http.Server
	logger        *log.Logger
	mux           *http.ServeMux
	coordinator   *service.Coordinator
	registrations store.RegistrationStore
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()

	s := &Server{
		logger:        d.Logger,
		mux:           mux,
		coordinator:   d.Coordinator,
		registrations: d.Registrations,
	}

	mux.HandleFunc("POST /v1/session/start", s.handleSessionStart)
	mux.HandleFunc("POST /v1/session/face", s.handleBeginFacePhase)
	mux.HandleFunc("POST /v1/session/end", s.handleSessionEnd)
	mux.HandleFunc("GET /v1/session", s.handleSessionStatus)
	mux.HandleFunc("POST /v1/config/fetch", s.handleConfigFetch)
	mux.HandleFunc("POST /v1/registrations", s.handleEnroll)
	mux.HandleFunc("GET /v1/registrations", s.handleListRegistrations)
	mux.HandleFunc("POST /v1/portal/start", s.handlePortalStart)
	mux.HandleFunc("POST /v1/portal/stop", s.handlePortalStop)
	mux.HandleFunc("GET /v1/connected.json", s.handleConnected)
	mux.HandleFunc("GET /v1/recognized.json", s.handleRecognized)
	mux.HandleFunc("GET /v1/video_feed", s.handleVideoFeed)

	handler := loggingMiddleware(d.Logger, mux)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ── Session control ──────────────────────────────────────────────────────────

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	if err := s.coordinator.StartSession(r.Context()); err != nil {
		s.writeTransitionError(w, "start_session", err)
		return
	}
	writeJSON(w, http.StatusOK, s.coordinator.Status())
}

func (s *Server) handleBeginFacePhase(w http.ResponseWriter, r *http.Request) {
	if err := s.coordinator.BeginFacePhase(r.Context()); err != nil {
		s.writeTransitionError(w, "begin_face_phase", err)
		return
	}
	writeJSON(w, http.StatusOK, s.coordinator.Status())
}

func (s *Server) handleSessionEnd(w http.ResponseWriter, r *http.Request) {
	if err := s.coordinator.EndSession(r.Context()); err != nil {
		s.writeTransitionError(w, "end_session", err)
		return
	}
	writeJSON(w, http.StatusOK, s.coordinator.Status())
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coordinator.Status())
}

func (s *Server) handleConfigFetch(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.coordinator.FetchConfig(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, remote.ErrConfigNotFound):
			writeError(w, http.StatusNotFound, "config_not_found", "no session config published")
		case errors.Is(err, service.ErrConfigUnavailable):
			writeError(w, http.StatusServiceUnavailable, "config_unavailable", "remote configuration is not reachable")
		default:
			s.logger.Printf("config fetch error: %v", err)
			writeError(w, http.StatusBadGateway, "config_fetch_failed", "could not load session config")
		}
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// ── Enrollment ───────────────────────────────────────────────────────────────

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	if s.registrations == nil {
		writeError(w, http.StatusNotImplemented, "enrollment_disabled", "no registration store configured")
		return
	}

	var reg types.Registration
	if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "request body is not valid JSON")
		return
	}
	if reg.StudentID == "" || reg.Name == "" || reg.MAC == "" {
		writeError(w, http.StatusBadRequest, "missing_fields", "student_id, name and mac are required")
		return
	}
	if reg.RegisteredAt.IsZero() {
		reg.RegisteredAt = time.Now().UTC()
	}

	replace := r.URL.Query().Get("replace") == "true"
	if err := s.registrations.Enroll(r.Context(), reg, replace); err != nil {
		if errors.Is(err, store.ErrDuplicateRegistration) {
			writeError(w, http.StatusConflict, "duplicate_registration", "student id or device already enrolled")
			return
		}
		s.logger.Printf("enroll error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not store registration")
		return
	}
	writeJSON(w, http.StatusCreated, reg)
}

func (s *Server) handleListRegistrations(w http.ResponseWriter, r *http.Request) {
	if s.registrations == nil {
		writeError(w, http.StatusNotImplemented, "enrollment_disabled", "no registration store configured")
		return
	}

	regs, err := s.registrations.List(r.Context())
	if err != nil {
		s.logger.Printf("list registrations error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not list registrations")
		return
	}
	if regs == nil {
		regs = []types.Registration{}
	}
	writeJSON(w, http.StatusOK, regs)
}

// ── Portal ───────────────────────────────────────────────────────────────────

func (s *Server) handlePortalStart(w http.ResponseWriter, r *http.Request) {
	if err := s.coordinator.StartPortal(); err != nil {
		s.writeTransitionError(w, "start_portal", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"running": s.coordinator.PortalRunning()})
}

func (s *Server) handlePortalStop(w http.ResponseWriter, r *http.Request) {
	if err := s.coordinator.StopPortal(); err != nil {
		s.writeTransitionError(w, "stop_portal", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"running": s.coordinator.PortalRunning()})
}

// ── Live status ──────────────────────────────────────────────────────────────

func (s *Server) handleConnected(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coordinator.Connected(r.Context()))
}

func (s *Server) handleRecognized(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coordinator.Recognized())
}

// handleVideoFeed streams the annotated preview as MJPEG until the client
// disconnects or no preview is available for a while.
func (s *Server) handleVideoFeed(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer cannot stream")
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.WriteHeader(http.StatusOK)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	misses := 0
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		frame, ok := s.coordinator.PreviewJPEG()
		if !ok {
			// No face phase running, or camera degraded.  Give up after
			// a few seconds so clients can retry cleanly.
			if misses++; misses > 50 {
				return
			}
			continue
		}
		misses = 0

		if _, err := w.Write([]byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")); err != nil {
			return
		}
		if _, err := w.Write(frame); err != nil {
			return
		}
		if _, err := w.Write([]byte("\r\n")); err != nil {
			return
		}
		flusher.Flush()
	}
}

// ── Error mapping ────────────────────────────────────────────────────────────

func (s *Server) writeTransitionError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, service.ErrConfigUnavailable):
		writeError(w, http.StatusServiceUnavailable, "config_unavailable", err.Error())
	case errors.Is(err, service.ErrPortalDisabled):
		writeError(w, http.StatusNotImplemented, "portal_disabled", err.Error())
	default:
		s.logger.Printf("%s error: %v", op, err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
	}
}
