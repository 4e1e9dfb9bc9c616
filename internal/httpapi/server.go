package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	insectid "github.com/menta2k/insect-identifier"
	"github.com/menta2k/insect-identifier/internal/metrics"
	"github.com/menta2k/insect-identifier/pkg/analysis"
	"github.com/menta2k/insect-identifier/pkg/types"
)

// MaxImageBytes bounds an uploaded photo
const MaxImageBytes = 20 << 20

// DefaultAttemptTTL is how long an attempt stays addressable
const DefaultAttemptTTL = 10 * time.Minute

var (
	errNotFound       = errors.New("not found")
	errEmptyBody      = errors.New("request body must contain an image")
	errNotDismissible = errors.New("attempt is still loading")
)

// attempt is one identification running in the background
type attempt struct {
	ID         string
	RecordID   string
	controller *analysis.Controller
	cancel     context.CancelFunc

	mu            sync.Mutex
	savedRecordID string
	finished      bool
}

// finish marks the attempt done. Analyze returns only after the saved
// callback ran, so a finished attempt already knows its record.
func (a *attempt) finish() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.finished = true
}

// state is the controller state, held at Loading until the attempt has
// finished so Success is never reported before its record exists
func (a *attempt) state() analysis.State {
	st := a.controller.State()
	a.mu.Lock()
	defer a.mu.Unlock()
	if st.Terminal() && !a.finished {
		return analysis.Loading()
	}
	return st
}

func (a *attempt) setSavedRecord(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.savedRecordID = id
}

func (a *attempt) recordID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.savedRecordID != "" {
		return a.savedRecordID
	}
	return a.RecordID
}

// Server exposes an Identifier over HTTP
type Server struct {
	id       *insectid.Identifier
	attempts *cache.Cache
	router   chi.Router
	wg       sync.WaitGroup
}

// NewServer creates the API. Attempts expire ttl after creation; expiry and
// dismissal cancel any request still in flight.
func NewServer(id *insectid.Identifier, ttl time.Duration) *Server {
	if ttl <= 0 {
		ttl = DefaultAttemptTTL
	}
	s := &Server{
		id:       id,
		attempts: cache.New(ttl, ttl/2),
	}
	s.attempts.OnEvicted(func(key string, v interface{}) {
		if a, ok := v.(*attempt); ok {
			a.cancel()
			log.WithField("attempt", key).Debug("httpapi: attempt released")
		}
	})

	metrics.Register()
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(requestLogger)
	mux.Use(middleware.Recoverer)

	mux.Get("/health", s.wrap(s.handleHealth))
	mux.Method(http.MethodGet, "/metrics", promhttp.Handler())

	mux.Route("/v1", func(rt chi.Router) {
		rt.Post("/attempts", s.wrap(s.handleCreateAttempt))
		rt.Get("/attempts/{id}", s.wrap(s.handleGetAttempt))
		rt.Delete("/attempts/{id}", s.wrap(s.handleDismissAttempt))

		rt.Get("/records", s.wrap(s.handleListRecords))
		rt.Delete("/records", s.wrap(s.handleClearRecords))
		rt.Get("/records/{id}", s.wrap(s.handleGetRecord))
		rt.Delete("/records/{id}", s.wrap(s.handleDeleteRecord))
		rt.Get("/records/{id}/image", s.wrap(s.handleRecordImage))
		rt.Post("/records/{id}/attempts", s.wrap(s.handleRecordAttempt))
	})
	return mux
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close cancels every attempt and waits for their goroutines
func (s *Server) Close() {
	for key := range s.attempts.Items() {
		s.attempts.Delete(key)
	}
	s.wg.Wait()
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (s *Server) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}

		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, errNotFound), errors.Is(err, insectid.ErrRecordNotFound):
			status = http.StatusNotFound
		case errors.Is(err, errNotDismissible), errors.Is(err, insectid.ErrNoImage):
			status = http.StatusConflict
		case errors.Is(err, errEmptyBody):
			status = http.StatusBadRequest
		default:
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				status = http.StatusRequestEntityTooLarge
			}
		}

		if status == http.StatusInternalServerError {
			log.WithError(err).WithField("path", req.URL.Path).Error("httpapi: request failed")
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
	}
}

// attemptView is the JSON form of an attempt
type attemptView struct {
	ID                string                `json:"id"`
	State             analysis.Status       `json:"state"`
	Result            *types.AnalysisResult `json:"result,omitempty"`
	Message           string                `json:"message,omitempty"`
	ErrorKind         string                `json:"error_kind,omitempty"`
	RecordID          string                `json:"record_id,omitempty"`
	ShouldShowLoading bool                  `json:"should_show_loading"`
	CanDismiss        bool                  `json:"can_dismiss"`
}

func viewOf(a *attempt) attemptView {
	st := a.state()
	v := attemptView{
		ID:                a.ID,
		State:             st.Status,
		Result:            st.Result,
		Message:           st.Message,
		RecordID:          a.recordID(),
		ShouldShowLoading: st.ShouldShowLoading(),
		CanDismiss:        st.CanDismiss(),
	}
	if st.Status == analysis.StatusError {
		v.ErrorKind = st.Kind.String()
	}
	return v
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) error {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"version":  insectid.Version,
		"records":  s.id.Store().Len(),
		"attempts": s.attempts.ItemCount(),
	})
	return nil
}

// POST /v1/attempts
// Body: raw image bytes
func (s *Server) handleCreateAttempt(w http.ResponseWriter, req *http.Request) error {
	image, err := io.ReadAll(http.MaxBytesReader(w, req.Body, MaxImageBytes))
	if err != nil {
		return err
	}
	if len(image) == 0 {
		return errEmptyBody
	}

	a := &attempt{ID: uuid.NewString()}
	a.controller = s.id.NewCaptureControllerWithRecord(image, func(r types.CapturedRecord) {
		a.setSavedRecord(r.ID)
	})
	s.start(a, image)

	writeJSON(w, http.StatusAccepted, viewOf(a))
	return nil
}

// POST /v1/records/{id}/attempts
func (s *Server) handleRecordAttempt(w http.ResponseWriter, req *http.Request) error {
	recordID := chi.URLParam(req, "id")
	controller, image, err := s.id.RecordController(recordID)
	if err != nil {
		return err
	}

	a := &attempt{ID: uuid.NewString(), RecordID: recordID, controller: controller}
	s.start(a, image)

	writeJSON(w, http.StatusAccepted, viewOf(a))
	return nil
}

// start registers a and runs its analysis in the background. The request
// context is not used: the attempt outlives the POST.
func (s *Server) start(a *attempt, image []byte) {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	s.attempts.SetDefault(a.ID, a)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		state := a.controller.Analyze(ctx, image)
		a.finish()
		log.WithFields(log.Fields{
			"attempt": a.ID,
			"state":   state.String(),
		}).Info("httpapi: attempt finished")
	}()
}

func (s *Server) lookup(req *http.Request) (*attempt, error) {
	id := chi.URLParam(req, "id")
	v, ok := s.attempts.Get(id)
	if !ok {
		return nil, fmt.Errorf("attempt %s: %w", id, errNotFound)
	}
	return v.(*attempt), nil
}

// GET /v1/attempts/{id}
func (s *Server) handleGetAttempt(w http.ResponseWriter, req *http.Request) error {
	a, err := s.lookup(req)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, viewOf(a))
	return nil
}

// DELETE /v1/attempts/{id}
func (s *Server) handleDismissAttempt(w http.ResponseWriter, req *http.Request) error {
	a, err := s.lookup(req)
	if err != nil {
		return err
	}
	if !a.state().CanDismiss() {
		return errNotDismissible
	}
	s.attempts.Delete(a.ID)
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// GET /v1/records
func (s *Server) handleListRecords(w http.ResponseWriter, _ *http.Request) error {
	writeJSON(w, http.StatusOK, s.id.Store().List())
	return nil
}

// GET /v1/records/{id}
func (s *Server) handleGetRecord(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "id")
	record, ok := s.id.Store().Get(id)
	if !ok {
		return fmt.Errorf("record %s: %w", id, errNotFound)
	}
	writeJSON(w, http.StatusOK, record)
	return nil
}

// GET /v1/records/{id}/image
func (s *Server) handleRecordImage(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "id")
	record, ok := s.id.Store().Get(id)
	if !ok || !record.HasImage() {
		return fmt.Errorf("image for %s: %w", id, errNotFound)
	}
	w.Header().Set("Content-Type", "image/jpeg")
	http.ServeFile(w, req, record.ImagePath)
	return nil
}

// DELETE /v1/records/{id}
func (s *Server) handleDeleteRecord(w http.ResponseWriter, req *http.Request) error {
	if err := s.id.RemoveRecord(req.Context(), chi.URLParam(req, "id")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// DELETE /v1/records
func (s *Server) handleClearRecords(w http.ResponseWriter, req *http.Request) error {
	if err := s.id.ClearRecords(req.Context()); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("httpapi: failed to write response")
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.WithFields(log.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"duration":   time.Since(start).String(),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("httpapi: request")
	})
}
