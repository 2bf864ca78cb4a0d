// Package server exposes documents and chat over HTTP. Callers are
// identified by the X-User-ID header.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"study-rag/internal/models"
	"study-rag/internal/rag"
	"study-rag/internal/study"
)

const (
	UserHeader     = "X-User-ID"
	multipartSlack = 1 << 20
)

type DocumentService interface {
	Upload(ctx context.Context, userID, filename string, data []byte) (*models.Document, error)
	List(ctx context.Context, userID string) ([]models.Document, error)
	Get(ctx context.Context, id, userID string) (*models.Document, error)
	Status(ctx context.Context, id, userID string) (*models.DocumentStatus, error)
	Delete(ctx context.Context, id, userID string) error
}

type ChatService interface {
	Ask(ctx context.Context, req rag.Request) (*rag.Response, error)
	ListSessions(ctx context.Context, userID string) ([]models.ChatSession, error)
	GetSession(ctx context.Context, id, userID string) (*rag.SessionDetail, error)
}

type StudyService interface {
	GenerateQuiz(ctx context.Context, req study.QuizRequest) (*study.Quiz, error)
	GenerateNotes(ctx context.Context, req study.NotesRequest) (*study.Notes, error)
}

type Server struct {
	docs          DocumentService
	chat          ChatService
	study         StudyService
	maxUploadSize int64
	mux           *http.ServeMux
}

func New(docs DocumentService, chat ChatService, studies StudyService, maxUploadSize int64) *Server {
	s := &Server{docs: docs, chat: chat, study: studies, maxUploadSize: maxUploadSize, mux: http.NewServeMux()}

	s.mux.HandleFunc("GET /healthz", s.health)

	s.mux.HandleFunc("POST /api/documents/upload", s.withUser(s.uploadDocument))
	s.mux.HandleFunc("GET /api/documents", s.withUser(s.listDocuments))
	s.mux.HandleFunc("GET /api/documents/{id}", s.withUser(s.getDocument))
	s.mux.HandleFunc("GET /api/documents/{id}/status", s.withUser(s.documentStatus))
	s.mux.HandleFunc("DELETE /api/documents/{id}", s.withUser(s.deleteDocument))

	s.mux.HandleFunc("POST /api/chat/query", s.withUser(s.query))
	s.mux.HandleFunc("GET /api/chat/sessions", s.withUser(s.listSessions))
	s.mux.HandleFunc("GET /api/chat/sessions/{id}", s.withUser(s.getSession))

	s.mux.HandleFunc("POST /api/quiz/generate", s.withUser(s.generateQuiz))
	s.mux.HandleFunc("POST /api/notes/generate", s.withUser(s.generateNotes))
	return s
}

func (s *Server) Handler() http.Handler {
	return logRequests(s.mux)
}

type userHandler func(w http.ResponseWriter, r *http.Request, userID string)

func (s *Server) withUser(h userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(UserHeader)
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "missing "+UserHeader+" header")
			return
		}
		h(w, r, userID)
	}
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) uploadDocument(w http.ResponseWriter, r *http.Request, userID string) {
	if s.maxUploadSize > 0 {
		if r.ContentLength > s.maxUploadSize+multipartSlack {
			writeError(w, http.StatusRequestEntityTooLarge, models.ErrFileTooLarge.Error())
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadSize+multipartSlack)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, models.ErrFileTooLarge.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "missing multipart field \"file\"")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}
	doc, err := s.docs.Upload(r.Context(), userID, header.Filename, data)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request, userID string) {
	docs, err := s.docs.List(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if docs == nil {
		docs = []models.Document{}
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) getDocument(w http.ResponseWriter, r *http.Request, userID string) {
	doc, err := s.docs.Get(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) documentStatus(w http.ResponseWriter, r *http.Request, userID string) {
	st, err := s.docs.Status(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) deleteDocument(w http.ResponseWriter, r *http.Request, userID string) {
	if err := s.docs.Delete(r.Context(), r.PathValue("id"), userID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Document deleted successfully"})
}

func (s *Server) query(w http.ResponseWriter, r *http.Request, userID string) {
	var req rag.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.UserID = userID

	resp, err := s.chat.Ask(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request, userID string) {
	sessions, err := s.chat.ListSessions(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if sessions == nil {
		sessions = []models.ChatSession{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request, userID string) {
	detail, err := s.chat.GetSession(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) generateQuiz(w http.ResponseWriter, r *http.Request, userID string) {
	var req study.QuizRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.UserID = userID

	quiz, err := s.study.GenerateQuiz(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}

func (s *Server) generateNotes(w http.ResponseWriter, r *http.Request, userID string) {
	var req study.NotesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.UserID = userID

	notes, err := s.study.GenerateNotes(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, notes)
}

// statusFor maps service errors to a status code and a message safe to show callers.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrUnsupportedFile),
		errors.Is(err, models.ErrEmptyDocument),
		errors.Is(err, models.ErrInvalidRequest),
		errors.Is(err, rag.ErrEmptyMessage):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, models.ErrDocumentNotReady):
		return http.StatusConflict, err.Error()
	case errors.Is(err, study.ErrMalformedQuiz):
		return http.StatusBadGateway, study.ErrMalformedQuiz.Error()
	case errors.Is(err, models.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge, err.Error()
	case errors.Is(err, models.ErrDocumentNotFound),
		errors.Is(err, models.ErrSessionNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, models.ErrQuestionNotProcessed):
		return http.StatusInternalServerError, models.ErrQuestionNotProcessed.Error()
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	code, msg := statusFor(err)
	if code >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", code).Msg("Request failed")
	}
	writeError(w, code, msg)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"detail": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}
