package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/felixtosh/taxtool/internal/dto"
	"github.com/felixtosh/taxtool/internal/errs"
	"github.com/felixtosh/taxtool/internal/models"
	"github.com/felixtosh/taxtool/internal/response"
)

// hookHandlers serves machine-to-machine callbacks. These run outside
// the Firebase auth middleware: callers authenticate with the shared
// hook key instead and name the user explicitly.
type hookHandlers struct {
	ResponseHandler response.ResponseHandler
	QueueSvc        QueueService
	HookKey         string
}

func NewHookHandlers(deps *Deps) *hookHandlers {
	return &hookHandlers{
		ResponseHandler: deps.ResponseHandler,
		QueueSvc:        deps.QueueSvc,
		HookKey:         deps.MailHookKey,
	}
}

func (h *hookHandlers) HookRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/mail", h.MailSync)
	return r
}

// MailSync queues a full incomplete-transaction sweep after a mailbox
// sync reported new messages.
func (h *hookHandlers) MailSync(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("X-Hook-Key")
	if h.HookKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(h.HookKey)) != 1 {
		h.ResponseHandler.WriteError(w, r, http.StatusUnauthorized, "unauthorized", "invalid hook key")
		return
	}

	var body struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" {
		h.ResponseHandler.HandleError(w, r, errs.NewValidationError("userId is required"))
		return
	}

	item, err := h.QueueSvc.TriggerSearch(r.Context(), body.UserID, dto.TriggerSearchRequest{
		Scope: models.ScopeAllIncomplete,
	}, models.TriggerGmailSync)
	if err != nil {
		h.ResponseHandler.HandleError(w, r, err)
		return
	}

	h.ResponseHandler.WriteSuccess(w, http.StatusAccepted, dto.TriggerSearchResponse{QueueItemID: item.QueueItemID})
}
