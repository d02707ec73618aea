package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"replyflow/internal/model"
)

// Event types for the activity stream
const (
	EventRunCompleted = "run_completed"
	EventReplyPosted  = "reply_posted"
	EventAuthFailure  = "auth_failure"
)

// Stream names
const (
	StreamActivity = "stream:activity"
)

// Consumer group name for activity workers
const (
	ConsumerGroupActivity = "activity_workers"
)

// ActivityEvent is one entry on the activity stream. All pipeline events
// share this structure; unused fields are omitted per type.
type ActivityEvent struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`

	AccountPK int64  `json:"account_pk,omitempty"`
	Platform  string `json:"platform,omitempty"`
	AccountID string `json:"account_id,omitempty"`

	// Run events
	RunID    string `json:"run_id,omitempty"`
	Posted   int    `json:"posted,omitempty"`
	Skipped  int    `json:"skipped,omitempty"`
	Failed   int    `json:"failed,omitempty"`
	Deferred int    `json:"deferred,omitempty"`

	// Reply events
	CommentID int64  `json:"comment_id,omitempty"`
	ReplyText string `json:"reply_text,omitempty"`

	// Operator-visible errors (auth failures)
	Error string `json:"error,omitempty"`
}

// NewRunCompletedEvent records a finished processor run with its counts.
func NewRunCompletedEvent(summary model.RunSummary) ActivityEvent {
	return ActivityEvent{
		Type:      EventRunCompleted,
		Timestamp: time.Now().Unix(),
		AccountPK: summary.AccountPK,
		Platform:  string(summary.Platform),
		AccountID: summary.AccountID,
		RunID:     summary.RunID,
		Posted:    summary.Posted,
		Skipped:   summary.Skipped,
		Failed:    summary.Failed,
		Deferred:  summary.Deferred,
		Error:     summary.LastError,
	}
}

// NewReplyPostedEvent records one reply delivered to a platform.
func NewReplyPostedEvent(account *model.Account, commentID int64, text string) ActivityEvent {
	return ActivityEvent{
		Type:      EventReplyPosted,
		Timestamp: time.Now().Unix(),
		AccountPK: account.ID,
		Platform:  string(account.Platform),
		AccountID: account.AccountID,
		CommentID: commentID,
		ReplyText: text,
	}
}

// NewAuthFailureEvent surfaces an account that was auto-disabled because
// its credentials stopped working.
func NewAuthFailureEvent(account *model.Account, cause error) ActivityEvent {
	return ActivityEvent{
		Type:      EventAuthFailure,
		Timestamp: time.Now().Unix(),
		AccountPK: account.ID,
		Platform:  string(account.Platform),
		AccountID: account.AccountID,
		Error:     cause.Error(),
	}
}

// ToMap converts the event to a map for Redis XADD.
// Redis Streams store field-value pairs, so we serialize to JSON in a "data" field.
func (e ActivityEvent) ToMap() (map[string]interface{}, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return map[string]interface{}{
		"type": e.Type,
		"data": string(data),
	}, nil
}

// ParseActivityEvent parses an ActivityEvent from Redis stream message values.
func ParseActivityEvent(values map[string]interface{}) (ActivityEvent, error) {
	data, ok := values["data"].(string)
	if !ok {
		return ActivityEvent{}, fmt.Errorf("missing or invalid 'data' field")
	}

	var event ActivityEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return ActivityEvent{}, fmt.Errorf("unmarshal event: %w", err)
	}
	return event, nil
}
