package handler

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"replyflow/internal/httputil"
	"replyflow/internal/model"
	"replyflow/internal/service"
)

type AccountHandler struct {
	accountService *service.AccountService
}

func NewAccountHandler(accountService *service.AccountService) *AccountHandler {
	return &AccountHandler{
		accountService: accountService,
	}
}

// List handles GET /accounts
func (h *AccountHandler) List(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.accountService.List(r.Context())
	if err != nil {
		log.Printf("[ERROR] List accounts handler: %v", err)
		httputil.WriteInternalError(w, "Failed to list accounts")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"accounts": accounts,
	})
}

// Get handles GET /accounts/:id
func (h *AccountHandler) Get(w http.ResponseWriter, r *http.Request) {
	accountPK, ok := accountIDParam(w, r)
	if !ok {
		return
	}

	account, err := h.accountService.Get(r.Context(), accountPK)
	if err != nil {
		if errors.Is(err, model.ErrAccountNotFound) {
			httputil.WriteNotFound(w, "Account not found")
			return
		}
		log.Printf("[ERROR] Get account handler: account=%d err=%v", accountPK, err)
		httputil.WriteInternalError(w, "Failed to get account")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, account)
}

// Enable handles POST /accounts/:id/enable
func (h *AccountHandler) Enable(w http.ResponseWriter, r *http.Request) {
	accountPK, ok := accountIDParam(w, r)
	if !ok {
		return
	}

	if err := h.accountService.Enable(r.Context(), accountPK); err != nil {
		if errors.Is(err, model.ErrAccountNotFound) {
			httputil.WriteNotFound(w, "Account not found")
			return
		}
		log.Printf("[ERROR] Enable account handler: account=%d err=%v", accountPK, err)
		httputil.WriteInternalError(w, "Failed to enable account")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Account enabled",
	})
}

// Disable handles POST /accounts/:id/disable
func (h *AccountHandler) Disable(w http.ResponseWriter, r *http.Request) {
	accountPK, ok := accountIDParam(w, r)
	if !ok {
		return
	}

	if err := h.accountService.Disable(r.Context(), accountPK); err != nil {
		if errors.Is(err, model.ErrAccountNotFound) {
			httputil.WriteNotFound(w, "Account not found")
			return
		}
		log.Printf("[ERROR] Disable account handler: account=%d err=%v", accountPK, err)
		httputil.WriteInternalError(w, "Failed to disable account")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Account disabled",
	})
}

// RunNow handles POST /accounts/:id/run
// Triggers an immediate processing run and returns its summary.
func (h *AccountHandler) RunNow(w http.ResponseWriter, r *http.Request) {
	accountPK, ok := accountIDParam(w, r)
	if !ok {
		return
	}

	summary, err := h.accountService.RunNow(r.Context(), accountPK)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrAccountNotFound):
			httputil.WriteNotFound(w, "Account not found")
		case errors.Is(err, model.ErrAccountDisabled):
			httputil.WriteConflict(w, "Account is disabled")
		case errors.Is(err, model.ErrRunAlreadyInProgress):
			httputil.WriteConflict(w, "A run is already in progress for this account")
		case errors.Is(err, model.ErrAuthFailed):
			// The account was auto-disabled; the summary still reflects
			// what happened before the failure.
			httputil.WriteJSON(w, http.StatusOK, summary)
		default:
			log.Printf("[ERROR] RunNow handler: account=%d err=%v", accountPK, err)
			httputil.WriteInternalError(w, "Run failed")
		}
		return
	}

	httputil.WriteJSON(w, http.StatusOK, summary)
}

// ListComments handles GET /accounts/:id/comments?status=&cursor=&limit=
func (h *AccountHandler) ListComments(w http.ResponseWriter, r *http.Request) {
	accountPK, ok := accountIDParam(w, r)
	if !ok {
		return
	}

	var status *model.CommentStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := model.CommentStatus(raw)
		switch s {
		case model.StatusNew, model.StatusReplyPending, model.StatusReplied,
			model.StatusSkipped, model.StatusFailed:
			status = &s
		default:
			httputil.WriteBadRequest(w, "Invalid status filter")
			return
		}
	}

	var cursor *string
	if raw := r.URL.Query().Get("cursor"); raw != "" {
		cursor = &raw
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			httputil.WriteBadRequest(w, "Limit must be between 1 and 100")
			return
		}
		limit = n
	}

	page, err := h.accountService.ListComments(r.Context(), accountPK, status, cursor, limit)
	if err != nil {
		if errors.Is(err, model.ErrAccountNotFound) {
			httputil.WriteNotFound(w, "Account not found")
			return
		}
		log.Printf("[ERROR] ListComments handler: account=%d err=%v", accountPK, err)
		httputil.WriteInternalError(w, "Failed to list comments")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, page)
}

// Activity handles GET /accounts/:id/activity?limit=
func (h *AccountHandler) Activity(w http.ResponseWriter, r *http.Request) {
	accountPK, ok := accountIDParam(w, r)
	if !ok {
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 200 {
			httputil.WriteBadRequest(w, "Limit must be between 1 and 200")
			return
		}
		limit = n
	}

	entries, err := h.accountService.RecentActivity(r.Context(), accountPK, limit)
	if err != nil {
		if errors.Is(err, model.ErrAccountNotFound) {
			httputil.WriteNotFound(w, "Account not found")
			return
		}
		log.Printf("[ERROR] Activity handler: account=%d err=%v", accountPK, err)
		httputil.WriteInternalError(w, "Failed to load activity")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"activity": entries,
	})
}

// accountIDParam parses the :id URL parameter, writing a 400 on failure.
func accountIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		httputil.WriteBadRequest(w, "Invalid account ID")
		return 0, false
	}
	return id, true
}
