package shared

import (
	"strconv"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types published after a conversation mutation is persisted.
const (
	// Enrollment events
	EventUserEnrolled  EventType = "enrollment.user_enrolled"
	EventTariffChanged EventType = "enrollment.tariff_changed"

	// Progress events
	EventModuleCompleted EventType = "progress.module_completed"

	// Submission events
	EventHomeworkSubmitted EventType = "submission.homework_submitted"
	EventFeedbackSubmitted EventType = "submission.feedback_submitted"
	EventHomeworkReviewed  EventType = "submission.homework_reviewed"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	AggregateId string    `json:"aggregate_id"`
	Version     int       `json:"version"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

func userAggregate(id UserID) string {
	return strconv.FormatInt(int64(id), 10)
}

// ═══════════════════════════════════════════════════════════════════════════
// Enrollment Events
// ═══════════════════════════════════════════════════════════════════════════

// UserEnrolledEvent is emitted when a code is redeemed for the first time.
type UserEnrolledEvent struct {
	BaseEvent
	UserID   UserID `json:"user_id"`
	Username string `json:"username"`
	Tariff   string `json:"tariff"`
}

// Payload implements Event interface.
func (e UserEnrolledEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":  int64(e.UserID),
		"username": e.Username,
		"tariff":   e.Tariff,
	}
}

// NewUserEnrolledEvent creates a new UserEnrolledEvent.
func NewUserEnrolledEvent(userID UserID, username, tariff string) UserEnrolledEvent {
	return UserEnrolledEvent{
		BaseEvent: NewBaseEvent(EventUserEnrolled, userAggregate(userID)),
		UserID:    userID,
		Username:  username,
		Tariff:    tariff,
	}
}

// TariffChangedEvent is emitted when an enrolled user redeems another code.
type TariffChangedEvent struct {
	BaseEvent
	UserID    UserID `json:"user_id"`
	OldTariff string `json:"old_tariff"`
	NewTariff string `json:"new_tariff"`
}

// Payload implements Event interface.
func (e TariffChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":    int64(e.UserID),
		"old_tariff": e.OldTariff,
		"new_tariff": e.NewTariff,
	}
}

// NewTariffChangedEvent creates a new TariffChangedEvent.
func NewTariffChangedEvent(userID UserID, oldTariff, newTariff string) TariffChangedEvent {
	return TariffChangedEvent{
		BaseEvent: NewBaseEvent(EventTariffChanged, userAggregate(userID)),
		UserID:    userID,
		OldTariff: oldTariff,
		NewTariff: newTariff,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Progress Events
// ═══════════════════════════════════════════════════════════════════════════

// ModuleCompletedEvent is emitted when a user marks a module as done.
type ModuleCompletedEvent struct {
	BaseEvent
	UserID   UserID   `json:"user_id"`
	ModuleID ModuleID `json:"module_id"`
}

// Payload implements Event interface.
func (e ModuleCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":   int64(e.UserID),
		"module_id": int(e.ModuleID),
	}
}

// NewModuleCompletedEvent creates a new ModuleCompletedEvent.
func NewModuleCompletedEvent(userID UserID, moduleID ModuleID) ModuleCompletedEvent {
	return ModuleCompletedEvent{
		BaseEvent: NewBaseEvent(EventModuleCompleted, userAggregate(userID)),
		UserID:    userID,
		ModuleID:  moduleID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Submission Events
// ═══════════════════════════════════════════════════════════════════════════

// HomeworkSubmittedEvent is emitted after a homework submission is stored.
type HomeworkSubmittedEvent struct {
	BaseEvent
	UserID       UserID   `json:"user_id"`
	ModuleID     ModuleID `json:"module_id"`
	SubmissionID int64    `json:"submission_id"`
}

// Payload implements Event interface.
func (e HomeworkSubmittedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":       int64(e.UserID),
		"module_id":     int(e.ModuleID),
		"submission_id": e.SubmissionID,
	}
}

// NewHomeworkSubmittedEvent creates a new HomeworkSubmittedEvent.
func NewHomeworkSubmittedEvent(userID UserID, moduleID ModuleID, submissionID int64) HomeworkSubmittedEvent {
	return HomeworkSubmittedEvent{
		BaseEvent:    NewBaseEvent(EventHomeworkSubmitted, userAggregate(userID)),
		UserID:       userID,
		ModuleID:     moduleID,
		SubmissionID: submissionID,
	}
}

// FeedbackSubmittedEvent is emitted after a feedback message is stored.
// Operators are notified from its handler.
type FeedbackSubmittedEvent struct {
	BaseEvent
	UserID     UserID `json:"user_id"`
	FeedbackID int64  `json:"feedback_id"`
	Body       string `json:"body"`
}

// Payload implements Event interface.
func (e FeedbackSubmittedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":     int64(e.UserID),
		"feedback_id": e.FeedbackID,
		"body":        e.Body,
	}
}

// NewFeedbackSubmittedEvent creates a new FeedbackSubmittedEvent.
func NewFeedbackSubmittedEvent(userID UserID, feedbackID int64, body string) FeedbackSubmittedEvent {
	return FeedbackSubmittedEvent{
		BaseEvent:  NewBaseEvent(EventFeedbackSubmitted, userAggregate(userID)),
		UserID:     userID,
		FeedbackID: feedbackID,
		Body:       body,
	}
}

// HomeworkReviewedEvent is emitted when a curator answers a submission.
type HomeworkReviewedEvent struct {
	BaseEvent
	UserID       UserID   `json:"user_id"`
	ModuleID     ModuleID `json:"module_id"`
	SubmissionID int64    `json:"submission_id"`
	Review       string   `json:"review"`
}

// Payload implements Event interface.
func (e HomeworkReviewedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":       int64(e.UserID),
		"module_id":     int(e.ModuleID),
		"submission_id": e.SubmissionID,
		"review":        e.Review,
	}
}

// NewHomeworkReviewedEvent creates a new HomeworkReviewedEvent.
func NewHomeworkReviewedEvent(userID UserID, moduleID ModuleID, submissionID int64, review string) HomeworkReviewedEvent {
	return HomeworkReviewedEvent{
		BaseEvent:    NewBaseEvent(EventHomeworkReviewed, userAggregate(userID)),
		UserID:       userID,
		ModuleID:     moduleID,
		SubmissionID: submissionID,
		Review:       review,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Bus contracts
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
