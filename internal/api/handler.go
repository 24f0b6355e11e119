// Package api provides HTTP handlers for the tutor API.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/haeun-dev/suneung-tutor/internal/chat"
	"github.com/haeun-dev/suneung-tutor/internal/domain"
	"github.com/haeun-dev/suneung-tutor/internal/kvstore"
	"github.com/haeun-dev/suneung-tutor/internal/records"
)

// maxRequestBodySize is the maximum allowed request body size (64KB). Chat
// messages and score forms are small; anything larger is abuse.
const maxRequestBodySize = 64 << 10

// Handler provides the HTTP surface over the session manager and record store.
type Handler struct {
	sessions *chat.Manager
	store    *records.Store
	db       *kvstore.DB

	allowedOrigin string
	isDev         bool
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(sessions *chat.Manager, store *records.Store, db *kvstore.DB, allowedOrigin string, isDev bool) *Handler {
	return &Handler{
		sessions:      sessions,
		store:         store,
		db:            db,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// Routes mounts all API routes on the router.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/health", h.HandleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/subjects", h.HandleListSubjects)
		r.Route("/chat/{subjectID}", func(r chi.Router) {
			r.Post("/setup", h.HandleChatSetup)
			r.Post("/messages", h.HandleChatSend)
			r.Get("/history", h.HandleChatHistory)
			r.Get("/ws", h.HandleChatStream)
		})
		r.Get("/records", h.HandleListRecords)
		r.Post("/records", h.HandleAddRecord)
		r.Delete("/records/{id}", h.HandleDeleteRecord)
		r.Get("/records/ws", h.HandleRecordStream)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// HandleHealth handles GET /health.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		Error(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleListSubjects handles GET /api/subjects.
func (h *Handler) HandleListSubjects(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, domain.Subjects)
}

func (h *Handler) subjectFromRequest(w http.ResponseWriter, r *http.Request) (domain.Subject, bool) {
	id := chi.URLParam(r, "subjectID")
	subject, ok := domain.SubjectByID(id)
	if !ok {
		Error(w, http.StatusNotFound, "unknown subject")
		return domain.Subject{}, false
	}
	return subject, true
}

// HandleChatSetup handles POST /api/chat/{subjectID}/setup. It (re)initializes
// the subject's session: history resets to the greeting and the system prompt
// is rebuilt.
func (h *Handler) HandleChatSetup(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.subjectFromRequest(w, r)
	if !ok {
		return
	}
	session := h.sessions.Session(subject.ID)
	session.Setup(subject)
	JSON(w, http.StatusOK, session.History())
}

type sendMessageRequest struct {
	Message string `json:"message"`
}

// HandleChatSend handles POST /api/chat/{subjectID}/messages. The call blocks
// for the full model round trip and returns the updated history; gateway
// failures surface only as the substituted assistant message.
func (h *Handler) HandleChatSend(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.subjectFromRequest(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session := h.sessions.Session(subject.ID)
	session.Send(r.Context(), req.Message)
	JSON(w, http.StatusOK, session.History())
}

// HandleChatHistory handles GET /api/chat/{subjectID}/history.
func (h *Handler) HandleChatHistory(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.subjectFromRequest(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, h.sessions.Session(subject.ID).History())
}

type recordsResponse struct {
	Records []domain.ScoreRecord `json:"records"`
	Stats   records.Stats        `json:"stats"`
	Periods []string             `json:"periods"`
}

// HandleListRecords handles GET /api/records. Records come back in display
// order with derived statistics.
func (h *Handler) HandleListRecords(w http.ResponseWriter, _ *http.Request) {
	snapshot := h.store.Snapshot()
	JSON(w, http.StatusOK, recordsResponse{
		Records: records.SortForDisplay(snapshot),
		Stats:   records.Statistics(snapshot),
		Periods: records.ExamPeriods(),
	})
}

// HandleAddRecord handles POST /api/records.
func (h *Handler) HandleAddRecord(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var in records.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := h.store.Add(r.Context(), in)
	switch {
	case errors.Is(err, records.ErrIncompleteGrades):
		Error(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, records.ErrDuplicatePeriod):
		Error(w, http.StatusConflict, err.Error())
	case err != nil:
		Error(w, http.StatusInternalServerError, "failed to persist record")
	default:
		JSON(w, http.StatusCreated, rec)
	}
}

// HandleDeleteRecord handles DELETE /api/records/{id}. Deleting an unknown id
// still returns 204; delete is idempotent.
func (h *Handler) HandleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.Delete(r.Context(), id); err != nil {
		Error(w, http.StatusInternalServerError, "failed to persist deletion")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
