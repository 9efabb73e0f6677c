// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types - these drive the event-driven architecture.
// Each event represents something significant that happened in the domain.
// The out-of-scope notification layer subscribes to the bus and turns
// them into chat messages.
const (
	// Goal events
	EventSolveRecorded  EventType = "goal.solve_recorded"
	EventGoalConfigured EventType = "goal.configured"
	EventGoalAchieved   EventType = "goal.achieved"
	EventGoalMissed     EventType = "goal.missed"
	EventReminderDue    EventType = "goal.reminder_due"

	// Streak events
	EventStreakExtended  EventType = "streak.extended"
	EventStreakBroken    EventType = "streak.broken"
	EventStreakMilestone EventType = "streak.milestone_reached"
	EventRewardClaimed   EventType = "streak.reward_claimed"

	// Contest events
	EventContestCreated EventType = "contest.created"
	EventContestStarted EventType = "contest.started"
	EventContestEnded   EventType = "contest.ended"
	EventContestJoined  EventType = "contest.joined"
	EventContestLeft    EventType = "contest.left"
	EventContestScored  EventType = "contest.scored"

	// System events
	EventSyncCompleted EventType = "system.sync_completed"
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
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
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

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Goal Events
// ═══════════════════════════════════════════════════════════════════════════

// SolveRecordedEvent is emitted when an accepted submission is credited.
type SolveRecordedEvent struct {
	BaseEvent
	UserID      int64  `json:"user_id"`
	ProblemID   string `json:"problem_id"`
	Rating      int    `json:"rating"`
	SolvedToday int    `json:"solved_today"`
}

// Payload implements Event interface.
func (e SolveRecordedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":      e.UserID,
		"problem_id":   e.ProblemID,
		"rating":       e.Rating,
		"solved_today": e.SolvedToday,
	}
}

// NewSolveRecordedEvent creates a new SolveRecordedEvent.
func NewSolveRecordedEvent(userID UserID, problemID string, rating, solvedToday int) SolveRecordedEvent {
	return SolveRecordedEvent{
		BaseEvent:   NewBaseEvent(EventSolveRecorded, userID.String()),
		UserID:      userID.Int64(),
		ProblemID:   problemID,
		Rating:      rating,
		SolvedToday: solvedToday,
	}
}

// GoalOutcomeEvent is emitted at a daily rollover for both met and missed goals.
type GoalOutcomeEvent struct {
	BaseEvent
	UserID   int64  `json:"user_id"`
	Date     string `json:"date"`
	Target   int    `json:"target"`
	Achieved int    `json:"achieved"`
	Streak   int    `json:"streak"`
}

// Payload implements Event interface.
func (e GoalOutcomeEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":  e.UserID,
		"date":     e.Date,
		"target":   e.Target,
		"achieved": e.Achieved,
		"streak":   e.Streak,
	}
}

// NewGoalOutcomeEvent creates a goal.achieved or goal.missed event.
func NewGoalOutcomeEvent(userID UserID, met bool, date time.Time, target, achieved, streak int) GoalOutcomeEvent {
	eventType := EventGoalAchieved
	if !met {
		eventType = EventGoalMissed
	}
	return GoalOutcomeEvent{
		BaseEvent: NewBaseEvent(eventType, userID.String()),
		UserID:    userID.Int64(),
		Date:      date.Format("2006-01-02"),
		Target:    target,
		Achieved:  achieved,
		Streak:    streak,
	}
}

// ReminderDueEvent is emitted when a user with an unmet daily goal hits
// their configured reminder time.
type ReminderDueEvent struct {
	BaseEvent
	UserID    int64 `json:"user_id"`
	Remaining int   `json:"remaining"`
	Target    int   `json:"target"`
}

// Payload implements Event interface.
func (e ReminderDueEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":   e.UserID,
		"remaining": e.Remaining,
		"target":    e.Target,
	}
}

// NewReminderDueEvent creates a new ReminderDueEvent.
func NewReminderDueEvent(userID UserID, remaining, target int) ReminderDueEvent {
	return ReminderDueEvent{
		BaseEvent: NewBaseEvent(EventReminderDue, userID.String()),
		UserID:    userID.Int64(),
		Remaining: remaining,
		Target:    target,
	}
}

// GoalConfiguredEvent is emitted when a user sets or changes period goals.
type GoalConfiguredEvent struct {
	BaseEvent
	UserID  int64 `json:"user_id"`
	Daily   int   `json:"daily"`
	Weekly  int   `json:"weekly"`
	Monthly int   `json:"monthly"`
}

// Payload implements Event interface.
func (e GoalConfiguredEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id": e.UserID,
		"daily":   e.Daily,
		"weekly":  e.Weekly,
		"monthly": e.Monthly,
	}
}

// NewGoalConfiguredEvent creates a new GoalConfiguredEvent.
func NewGoalConfiguredEvent(userID UserID, daily, weekly, monthly int) GoalConfiguredEvent {
	return GoalConfiguredEvent{
		BaseEvent: NewBaseEvent(EventGoalConfigured, userID.String()),
		UserID:    userID.Int64(),
		Daily:     daily,
		Weekly:    weekly,
		Monthly:   monthly,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Streak Events
// ═══════════════════════════════════════════════════════════════════════════

// StreakChangedEvent is emitted when a streak is extended or broken.
type StreakChangedEvent struct {
	BaseEvent
	UserID         int64 `json:"user_id"`
	Streak         int   `json:"streak"`
	BestStreak     int   `json:"best_streak"`
	PreviousStreak int   `json:"previous_streak"`
	Penalties      int   `json:"penalties"`
}

// Payload implements Event interface.
func (e StreakChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":         e.UserID,
		"streak":          e.Streak,
		"best_streak":     e.BestStreak,
		"previous_streak": e.PreviousStreak,
		"penalties":       e.Penalties,
	}
}

// NewStreakExtendedEvent creates a streak.extended event.
func NewStreakExtendedEvent(userID UserID, streak, bestStreak int) StreakChangedEvent {
	return StreakChangedEvent{
		BaseEvent:      NewBaseEvent(EventStreakExtended, userID.String()),
		UserID:         userID.Int64(),
		Streak:         streak,
		BestStreak:     bestStreak,
		PreviousStreak: streak - 1,
	}
}

// NewStreakBrokenEvent creates a streak.broken event.
func NewStreakBrokenEvent(userID UserID, previousStreak, bestStreak, penalties int) StreakChangedEvent {
	return StreakChangedEvent{
		BaseEvent:      NewBaseEvent(EventStreakBroken, userID.String()),
		UserID:         userID.Int64(),
		Streak:         0,
		BestStreak:     bestStreak,
		PreviousStreak: previousStreak,
		Penalties:      penalties,
	}
}

// StreakMilestoneEvent is emitted when a streak first reaches a reward milestone.
type StreakMilestoneEvent struct {
	BaseEvent
	UserID       int64  `json:"user_id"`
	StreakLength int    `json:"streak_length"`
	RewardType   string `json:"reward_type"`
	RewardValue  int    `json:"reward_value"`
}

// Payload implements Event interface.
func (e StreakMilestoneEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":       e.UserID,
		"streak_length": e.StreakLength,
		"reward_type":   e.RewardType,
		"reward_value":  e.RewardValue,
	}
}

// NewStreakMilestoneEvent creates a new StreakMilestoneEvent.
func NewStreakMilestoneEvent(userID UserID, streakLength int, rewardType string, rewardValue int) StreakMilestoneEvent {
	return StreakMilestoneEvent{
		BaseEvent:    NewBaseEvent(EventStreakMilestone, userID.String()),
		UserID:       userID.Int64(),
		StreakLength: streakLength,
		RewardType:   rewardType,
		RewardValue:  rewardValue,
	}
}

// RewardClaimedEvent is emitted when a streak reward is claimed.
type RewardClaimedEvent struct {
	BaseEvent
	UserID       int64  `json:"user_id"`
	StreakLength int    `json:"streak_length"`
	RewardType   string `json:"reward_type"`
	RewardValue  int    `json:"reward_value"`
}

// Payload implements Event interface.
func (e RewardClaimedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":       e.UserID,
		"streak_length": e.StreakLength,
		"reward_type":   e.RewardType,
		"reward_value":  e.RewardValue,
	}
}

// NewRewardClaimedEvent creates a new RewardClaimedEvent.
func NewRewardClaimedEvent(userID UserID, streakLength int, rewardType string, rewardValue int) RewardClaimedEvent {
	return RewardClaimedEvent{
		BaseEvent:    NewBaseEvent(EventRewardClaimed, userID.String()),
		UserID:       userID.Int64(),
		StreakLength: streakLength,
		RewardType:   rewardType,
		RewardValue:  rewardValue,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Contest Events
// ═══════════════════════════════════════════════════════════════════════════

// ContestLifecycleEvent is emitted on contest state transitions.
type ContestLifecycleEvent struct {
	BaseEvent
	ContestID string `json:"contest_id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	UserID    int64  `json:"user_id,omitempty"` // joining/leaving user, if applicable
}

// Payload implements Event interface.
func (e ContestLifecycleEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"contest_id": e.ContestID,
		"name":       e.Name,
		"status":     e.Status,
		"user_id":    e.UserID,
	}
}

// NewContestLifecycleEvent creates a contest event of the given type.
func NewContestLifecycleEvent(eventType EventType, contestID, name, status string) ContestLifecycleEvent {
	return ContestLifecycleEvent{
		BaseEvent: NewBaseEvent(eventType, contestID),
		ContestID: contestID,
		Name:      name,
		Status:    status,
	}
}

// WithUser attaches the acting user to the event.
func (e ContestLifecycleEvent) WithUser(userID UserID) ContestLifecycleEvent {
	e.UserID = userID.Int64()
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// System Events
// ═══════════════════════════════════════════════════════════════════════════

// SyncCompletedEvent is emitted when a polling cycle finishes.
type SyncCompletedEvent struct {
	BaseEvent
	UsersPolled  int           `json:"users_polled"`
	EventsFound  int           `json:"events_found"`
	FailedUsers  int           `json:"failed_users"`
	SyncDuration time.Duration `json:"sync_duration"`
}

// Payload implements Event interface.
func (e SyncCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"users_polled":  e.UsersPolled,
		"events_found":  e.EventsFound,
		"failed_users":  e.FailedUsers,
		"sync_duration": e.SyncDuration.String(),
	}
}

// NewSyncCompletedEvent creates a new SyncCompletedEvent.
func NewSyncCompletedEvent(usersPolled, eventsFound, failedUsers int, duration time.Duration) SyncCompletedEvent {
	return SyncCompletedEvent{
		BaseEvent:    NewBaseEvent(EventSyncCompleted, "sync"),
		UsersPolled:  usersPolled,
		EventsFound:  eventsFound,
		FailedUsers:  failedUsers,
		SyncDuration: duration,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

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
