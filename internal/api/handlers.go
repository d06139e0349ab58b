package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/sells-group/urban-recommender/internal/fetcher"
	"github.com/sells-group/urban-recommender/internal/indicator"
	"github.com/sells-group/urban-recommender/internal/recommender"
	"github.com/sells-group/urban-recommender/internal/store"
)

// payload is the request body of /fit and /recommend.
type payload struct {
	Data []map[string]any `json:"data"`
}

type fitResponse struct {
	*recommender.FitSummary
	ModelID string `json:"model_id,omitempty"`
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": ServiceName,
		"version": ServiceVersion,
	})
}

func (s *Server) handleFit(w http.ResponseWriter, r *http.Request) {
	if !s.fitLimiter.Allow() {
		w.Header().Set("Retry-After", "1")
		s.writeError(w, r, http.StatusTooManyRequests, errors.New("fit rate limit exceeded"))
		return
	}

	t, ok := s.decodeTable(w, r)
	if !ok {
		return
	}

	summary, rec, err := s.engine.FitRecord(t)
	if err != nil {
		s.writeError(w, r, statusFor(err), err)
		return
	}

	resp := fitResponse{FitSummary: summary}
	if s.store != nil {
		if info, err := s.store.SaveModel(r.Context(), rec); err != nil {
			zap.L().Error("api: save fitted model failed",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.Error(err),
			)
		} else {
			resp.ModelID = info.ID
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	t, ok := s.decodeTable(w, r)
	if !ok {
		return
	}

	res, err := s.engine.Transform(t)
	if err != nil {
		s.writeError(w, r, statusFor(err), err)
		return
	}

	if detail, _ := strconv.ParseBool(r.URL.Query().Get("detail")); !detail {
		res.Scores = nil
		res.Loadings = nil
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	info, err := s.engine.Model()
	if err != nil {
		s.writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w, r) {
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, r, http.StatusUnprocessableEntity, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	models, err := s.store.ListModels(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, statusFor(err), err)
		return
	}
	if models == nil {
		models = []store.ModelInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w, r) {
		return
	}
	m, err := s.store.GetModel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, m.ModelInfo)
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w, r) {
		return
	}
	id := chi.URLParam(r, "id")
	m, err := s.store.GetModel(r.Context(), id)
	if err != nil {
		s.writeError(w, r, statusFor(err), err)
		return
	}
	if err := s.engine.Load(m.Record); err != nil {
		s.writeError(w, r, statusFor(err), err)
		return
	}

	zap.L().Info("api: activated stored model", zap.String("model_id", id))
	info, err := s.engine.Model()
	if err != nil {
		s.writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) requireStore(w http.ResponseWriter, r *http.Request) bool {
	if s.store == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, errors.New("no model store configured"))
		return false
	}
	return true
}

// decodeTable reads a size-limited {"data": [...]} body. It writes the error
// response itself and reports whether decoding succeeded.
func (s *Server) decodeTable(w http.ResponseWriter, r *http.Request) (*indicator.Table, bool) {
	body := http.MaxBytesReader(w, r.Body, s.maxBody)
	var p payload
	if err := json.NewDecoder(body).Decode(&p); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, r, http.StatusRequestEntityTooLarge, errors.New("request body too large"))
			return nil, false
		}
		s.writeError(w, r, http.StatusUnprocessableEntity, errors.New("invalid request body: "+err.Error()))
		return nil, false
	}
	if p.Data == nil {
		s.writeError(w, r, http.StatusUnprocessableEntity, errors.New(`"data" is required`))
		return nil, false
	}
	return fetcher.TableFromRecords(p.Data, s.idColumn), true
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case recommender.IsUnfitted(err):
		return http.StatusConflict
	case recommender.IsConfigurationError(err), recommender.IsValidation(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		zap.L().Error("api: request failed",
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	writeJSON(w, status, errorResponse{
		Error:     err.Error(),
		RequestID: middleware.GetReqID(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: encode response", zap.Error(err))
	}
}
