package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"winpredict/internal/champions"
	"winpredict/internal/model"
	"winpredict/internal/predict"
)

// DraftRequest carries champion names for both sides, one to five each
type DraftRequest struct {
	Blue []string `json:"blue" validate:"required,min=1,max=5,dive,required"`
	Red  []string `json:"red" validate:"required,min=1,max=5,dive,required"`
}

type errorBody struct {
	Error       string   `json:"error"`
	Query       string   `json:"query,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
	Fields      []string `json:"fields,omitempty"`
}

// Health reports whether any model is loaded
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	models := h.registry().Models()
	status, code := "ok", http.StatusOK
	if len(models) == 0 {
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	families := make([]string, len(models))
	for i, m := range models {
		families[i] = m.Family
	}
	h.jsonResponse(w, code, map[string]interface{}{
		"status":    status,
		"models":    families,
		"timestamp": time.Now().UTC(),
	})
}

// Models lists loaded artifacts and their metadata
func (h *Handler) Models(w http.ResponseWriter, r *http.Request) {
	models := h.registry().Models()
	if models == nil {
		models = []predict.ModelInfo{}
	}
	h.jsonResponse(w, http.StatusOK, map[string]interface{}{"models": models})
}

func (h *Handler) PredictDraft(w http.ResponseWriter, r *http.Request) {
	var req DraftRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.registry().Draft()
	if err != nil {
		h.writeError(w, err)
		return
	}
	res, err := p.Predict(req.Blue, req.Red)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonResponse(w, http.StatusOK, res)
}

func (h *Handler) PredictSnapshot(w http.ResponseWriter, r *http.Request) {
	var req predict.SnapshotInput
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.registry().Snapshot()
	if err != nil {
		h.writeError(w, err)
		return
	}
	res, err := p.Predict(req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonResponse(w, http.StatusOK, res)
}

func (h *Handler) PredictGameState(w http.ResponseWriter, r *http.Request) {
	var req predict.GameState
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.registry().GameState()
	if err != nil {
		h.writeError(w, err)
		return
	}
	res, err := p.Predict(req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonResponse(w, http.StatusOK, res)
}

func (h *Handler) registry() *predict.Registry {
	if h.models == nil {
		return nil
	}
	return h.models.Get()
}

// decode reads and validates a JSON body. On failure it writes the response
// and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.errorResponse(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		h.errorResponse(w, http.StatusBadRequest, "failed to read body")
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		h.errorResponse(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		h.writeError(w, err)
		return false
	}
	return true
}

// writeError maps domain errors onto status codes
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var (
		unknown    *champions.UnknownNameError
		missing    *predict.MissingFeatureError
		mismatch   *predict.MinuteMismatchError
		validation validator.ValidationErrors
	)

	switch {
	case errors.As(err, &unknown):
		h.jsonResponse(w, http.StatusBadRequest, errorBody{
			Error:       err.Error(),
			Query:       unknown.Query,
			Suggestions: unknown.Suggestions,
		})
	case errors.As(err, &validation):
		fields := make([]string, len(validation))
		for i, fe := range validation {
			fields[i] = fmt.Sprintf("%s: failed %s", fe.Namespace(), fe.Tag())
		}
		h.jsonResponse(w, http.StatusBadRequest, errorBody{Error: "validation failed", Fields: fields})
	case errors.Is(err, champions.ErrEmptyName), errors.Is(err, predict.ErrTeamSize):
		h.errorResponse(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &missing), errors.As(err, &mismatch),
		errors.Is(err, predict.ErrVectorLength), errors.Is(err, model.ErrFeatureCount):
		h.errorResponse(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, predict.ErrModelUnavailable):
		h.errorResponse(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.Errorw("prediction failed", "error", err)
		h.errorResponse(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warnw("failed to encode response", "error", err)
	}
}

func (h *Handler) errorResponse(w http.ResponseWriter, status int, message string) {
	h.jsonResponse(w, status, errorBody{Error: message})
}
