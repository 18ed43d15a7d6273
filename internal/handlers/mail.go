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

type MailAccountService interface {
	List(ctx context.Context, uid string) ([]*models.MailAccount, error)
	Connect(ctx context.Context, uid string, req dto.ConnectMailAccountRequest) (*models.MailAccount, error)
	Disconnect(ctx context.Context, uid, accountID string) error
	Pause(ctx context.Context, uid, accountID string) error
	Resume(ctx context.Context, uid, accountID string) error
}

type mailHandlers struct {
	ResponseHandler response.ResponseHandler
	MailSvc         MailAccountService
}

func NewMailHandlers(deps *Deps) *mailHandlers {
	return &mailHandlers{
		ResponseHandler: deps.ResponseHandler,
		MailSvc:         deps.MailSvc,
	}
}

func (h *mailHandlers) MailRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Connect)
	r.Delete("/{accountId}", h.Disconnect)
	r.Post("/{accountId}/pause", h.Pause)
	r.Post("/{accountId}/resume", h.Resume)
	return r
}

func (h *mailHandlers) List(w http.ResponseWriter, r *http.Request) {
	uid := middleware.UID(r.Context())
	accounts, err := h.MailSvc.List(r.Context(), uid)
	if err != nil {
		h.ResponseHandler.HandleError(w, r, err)
		return
	}
	h.ResponseHandler.WriteSuccess(w, http.StatusOK, accounts)
}

func (h *mailHandlers) Connect(w http.ResponseWriter, r *http.Request) {
	var body dto.ConnectMailAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.ResponseHandler.HandleError(w, r, errs.NewValidationError("invalid request body"))
		return
	}

	uid := middleware.UID(r.Context())
	acct, err := h.MailSvc.Connect(r.Context(), uid, body)
	if err != nil {
		h.ResponseHandler.HandleError(w, r, err)
		return
	}

	h.ResponseHandler.WriteSuccess(w, http.StatusCreated, acct)
}

func (h *mailHandlers) Disconnect(w http.ResponseWriter, r *http.Request) {
	uid := middleware.UID(r.Context())
	accountID := chi.URLParam(r, "accountId")

	if err := h.MailSvc.Disconnect(r.Context(), uid, accountID); err != nil {
		h.ResponseHandler.HandleError(w, r, err)
		return
	}
	h.ResponseHandler.WriteSuccess(w, http.StatusOK, nil)
}

func (h *mailHandlers) Pause(w http.ResponseWriter, r *http.Request) {
	uid := middleware.UID(r.Context())
	accountID := chi.URLParam(r, "accountId")

	if err := h.MailSvc.Pause(r.Context(), uid, accountID); err != nil {
		h.ResponseHandler.HandleError(w, r, err)
		return
	}
	h.ResponseHandler.WriteSuccess(w, http.StatusOK, nil)
}

func (h *mailHandlers) Resume(w http.ResponseWriter, r *http.Request) {
	uid := middleware.UID(r.Context())
	accountID := chi.URLParam(r, "accountId")

	if err := h.MailSvc.Resume(r.Context(), uid, accountID); err != nil {
		h.ResponseHandler.HandleError(w, r, err)
		return
	}
	h.ResponseHandler.WriteSuccess(w, http.StatusOK, nil)
}
