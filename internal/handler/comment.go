package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"replyflow/internal/httputil"
	"replyflow/internal/model"
	"replyflow/internal/service"
)

type CommentHandler struct {
	engagementService *service.EngagementService
}

func NewCommentHandler(engagementService *service.EngagementService) *CommentHandler {
	return &CommentHandler{
		engagementService: engagementService,
	}
}

// Reply handles POST /comments/:id/reply
// Posts operator-written text as the reply to a comment.
func (h *CommentHandler) Reply(w http.ResponseWriter, r *http.Request) {
	commentID, ok := commentIDParam(w, r)
	if !ok {
		return
	}

	var req model.ManualReplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "Invalid request body")
		return
	}

	comment, err := h.engagementService.ManualReply(r.Context(), commentID, req)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrCommentNotFound):
			httputil.WriteNotFound(w, "Comment not found")
		case errors.Is(err, model.ErrContentRequired):
			httputil.WriteBadRequest(w, "Reply text is required")
		case errors.Is(err, model.ErrContentTooLong):
			httputil.WriteBadRequest(w, "Reply text too long")
		case errors.Is(err, model.ErrReplyExists):
			httputil.WriteConflict(w, "Comment already has a reply")
		case errors.Is(err, model.ErrAlreadyClaimed):
			httputil.WriteConflict(w, "Comment is being processed by a run")
		case errors.Is(err, model.ErrInvalidStateTransition):
			httputil.WriteConflict(w, "Comment is in a terminal state")
		case errors.Is(err, model.ErrRateLimited):
			httputil.WriteTooManyRequests(w, "Platform rate limit exceeded, try again later")
		case errors.Is(err, model.ErrAuthFailed):
			httputil.WriteConflict(w, "Platform credentials rejected, account disabled")
		default:
			log.Printf("[ERROR] Manual reply handler: comment=%d err=%v", commentID, err)
			httputil.WriteInternalError(w, "Failed to post reply")
		}
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, comment)
}

// Skip handles POST /comments/:id/skip
// Marks a comment as deliberately unanswered.
func (h *CommentHandler) Skip(w http.ResponseWriter, r *http.Request) {
	commentID, ok := commentIDParam(w, r)
	if !ok {
		return
	}

	var req model.SkipCommentRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.WriteBadRequest(w, "Invalid request body")
			return
		}
	}

	comment, err := h.engagementService.ManualSkip(r.Context(), commentID, req)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrCommentNotFound):
			httputil.WriteNotFound(w, "Comment not found")
		case errors.Is(err, model.ErrAlreadyClaimed):
			httputil.WriteConflict(w, "Comment is being processed by a run")
		case errors.Is(err, model.ErrInvalidStateTransition):
			httputil.WriteConflict(w, "Comment is in a terminal state")
		default:
			log.Printf("[ERROR] Skip comment handler: comment=%d err=%v", commentID, err)
			httputil.WriteInternalError(w, "Failed to skip comment")
		}
		return
	}

	httputil.WriteJSON(w, http.StatusOK, comment)
}

// commentIDParam parses the :id URL parameter, writing a 400 on failure.
func commentIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		httputil.WriteBadRequest(w, "Invalid comment ID")
		return 0, false
	}
	return id, true
}
