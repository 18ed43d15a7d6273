package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/felixtosh/taxtool/internal/dto"
	"github.com/felixtosh/taxtool/internal/errs"
	"github.com/felixtosh/taxtool/internal/middleware"
	"github.com/felixtosh/taxtool/internal/models"
	"github.com/felixtosh/taxtool/internal/response"
)

type QueueService interface {
	TriggerSearch(ctx context.Context, uid string, req dto.TriggerSearchRequest, trigger string) (*models.QueueItem, error)
	Resume(ctx context.Context, uid, itemID string) (*models.QueueItem, error)
}

type SearchService interface {
	History(ctx context.Context, uid, txID string) ([]*models.SearchRecord, error)
}

type searchHandlers struct {
	ResponseHandler response.ResponseHandler
	QueueSvc        QueueService
	SearchSvc       SearchService
}

func NewSearchHandlers(deps *Deps) *searchHandlers {
	return &searchHandlers{
		ResponseHandler: deps.ResponseHandler,
		QueueSvc:        deps.QueueSvc,
		SearchSvc:       deps.SearchSvc,
	}
}

func (h *searchHandlers) SearchRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Trigger)
	r.Get("/history", h.History)
	r.Post("/{queueItemId}/resume", h.Resume)
	return r
}

func (h *searchHandlers) Trigger(w http.ResponseWriter, r *http.Request) {
	var body dto.TriggerSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.ResponseHandler.HandleError(w, r, errs.NewValidationError("invalid request body"))
		return
	}
	if body.Scope == "" {
		body.Scope = models.ScopeAllIncomplete
	}

	uid := middleware.UID(r.Context())
	item, err := h.QueueSvc.TriggerSearch(r.Context(), uid, body, models.TriggerManual)
	if err != nil {
		h.ResponseHandler.HandleError(w, r, err)
		return
	}

	h.ResponseHandler.WriteSuccess(w, http.StatusAccepted, dto.TriggerSearchResponse{QueueItemID: item.QueueItemID})
}

func (h *searchHandlers) History(w http.ResponseWriter, r *http.Request) {
	txID := r.URL.Query().Get("transactionId")
	if txID == "" {
		h.ResponseHandler.HandleError(w, r, errs.NewValidationError("transactionId query parameter is required"))
		return
	}

	uid := middleware.UID(r.Context())
	records, err := h.SearchSvc.History(r.Context(), uid, txID)
	if err != nil {
		h.ResponseHandler.HandleError(w, r, err)
		return
	}

	h.ResponseHandler.WriteSuccess(w, http.StatusOK, records)
}

func (h *searchHandlers) Resume(w http.ResponseWriter, r *http.Request) {
	uid := middleware.UID(r.Context())
	itemID := chi.URLParam(r, "queueItemId")

	item, err := h.QueueSvc.Resume(r.Context(), uid, itemID)
	if err != nil {
		h.ResponseHandler.HandleError(w, r, err)
		return
	}

	h.ResponseHandler.WriteSuccess(w, http.StatusOK, item)
}
