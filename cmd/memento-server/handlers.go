package main

import (
	"net/http"

	"github.com/openclaw/memento/internal/engine"
	"github.com/openclaw/memento/internal/models"
	"github.com/openclaw/memento/internal/querypipeline"
)

type handlers struct {
	engine *engine.Engine
}

type rememberRequest struct {
	Text       string   `json:"text"`
	Collection string   `json:"collection"`
	Importance float64  `json:"importance"`
	Source     string   `json:"source"`
	SessionID  string   `json:"session_id"`
	Tags       []string `json:"tags"`
}

// remember handles POST /remember.
func (h *handlers) remember(w http.ResponseWriter, r *http.Request) {
	var req rememberRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	id, err := h.engine.Remember(r.Context(), req.Text, models.RememberOptions{
		Collection: req.Collection,
		Importance: req.Importance,
		Source:     req.Source,
		SessionID:  req.SessionID,
		Tags:       req.Tags,
	})
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

type recallRequest struct {
	Query      string         `json:"query"`
	Collection string         `json:"collection"`
	TopK       int            `json:"topk"`
	Filters    map[string]any `json:"filters"`
	TimeoutMS  int64          `json:"timeout_ms"`
}

// recall handles POST /recall.
func (h *handlers) recall(w http.ResponseWriter, r *http.Request) {
	var req recallRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	filters, err := querypipeline.ParseFilters(req.Filters)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	results, err := h.engine.Recall(r.Context(), req.Query, models.RecallOptions{
		Collection: req.Collection,
		TopK:       req.TopK,
		Filters:    filters,
		TimeoutMS:  req.TimeoutMS,
	})
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// stats handles GET /stats.
func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	s, err := h.engine.Stats()
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// health handles GET /health.
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
