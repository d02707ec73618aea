package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"replyflow/internal/cache"
	"replyflow/internal/queue"
)

// Handler processes activity events from the queue and maintains the
// per-account recent-activity feeds.
type Handler struct {
	activity cache.ActivityCache
}

// NewHandler creates a new event handler.
func NewHandler(activity cache.ActivityCache) *Handler {
	return &Handler{activity: activity}
}

// HandleEvent routes an event to the appropriate handler based on type.
func (h *Handler) HandleEvent(ctx context.Context, event queue.ActivityEvent) error {
	startTime := time.Now()
	var err error

	switch event.Type {
	case queue.EventRunCompleted, queue.EventReplyPosted, queue.EventAuthFailure:
		err = h.handleActivity(ctx, event)
	default:
		log.Printf("[Worker] Unknown event type: %s", event.Type)
		return fmt.Errorf("unknown event type: %s", event.Type)
	}

	if err != nil {
		log.Printf("[Worker] HandleEvent FAILED: type=%s duration=%v err=%v",
			event.Type, time.Since(startTime), err)
		return err
	}

	log.Printf("[Worker] HandleEvent OK: type=%s duration=%v", event.Type, time.Since(startTime))
	return nil
}

// handleActivity appends the event to the account's activity feed.
func (h *Handler) handleActivity(ctx context.Context, event queue.ActivityEvent) error {
	if event.AccountPK == 0 {
		log.Printf("[Worker] Activity event without account, dropping: type=%s", event.Type)
		return nil
	}

	entry := cache.Entry{
		Type:      event.Type,
		Timestamp: event.Timestamp,
		RunID:     event.RunID,
		Posted:    event.Posted,
		Skipped:   event.Skipped,
		Failed:    event.Failed,
		Deferred:  event.Deferred,
		CommentID: event.CommentID,
		ReplyText: event.ReplyText,
		Error:     event.Error,
	}

	if err := h.activity.Add(ctx, event.AccountPK, entry); err != nil {
		return fmt.Errorf("add activity entry: %w", err)
	}

	return nil
}
