// Package store persists users, calls, transcriptions, and check-in
// schedules for the bridge. Two implementations are provided: an
// in-process Memory store and a pgx-backed Postgres store.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("store: not found")

// Call status values.
const (
	CallStatusInitiated  = "initiated"
	CallStatusInProgress = "in-progress"
	CallStatusCompleted  = "completed"
	CallStatusFailed     = "failed"
)

// User is a person the assistant calls, keyed by phone number.
type User struct {
	ID              string
	PhoneNumber     string
	Name            string
	RecoveryProgram string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Call is one outbound call. CallSID is assigned once the telephony
// dial succeeds; EndedAt and DurationSeconds are set when it finishes.
type Call struct {
	ID              string
	UserID          string
	CallSID         string
	CallType        string
	Status          string
	StartedAt       time.Time
	EndedAt         *time.Time
	DurationSeconds *int
	CreatedAt       time.Time
}

// Transcription is the saved transcript of a call.
type Transcription struct {
	ID        string
	CallID    string
	Content   string
	CreatedAt time.Time
}

// Schedule is a recurring check-in call.
type Schedule struct {
	ID         string
	UserID     string
	DaysOfWeek []string
	TimeOfDay  string
	Timezone   string
	Active     bool
	CreatedAt  time.Time
}

// Store is the persistence boundary of the bridge.
type Store interface {
	// EnsureUser returns the user with the given phone number, creating
	// a minimal record on first contact.
	EnsureUser(ctx context.Context, phoneNumber string) (User, error)

	CreateCall(ctx context.Context, userID, callType string) (Call, error)
	SetCallDialSID(ctx context.Context, callID, sid string) error
	SetCallStatus(ctx context.Context, callID, status string) error
	GetCall(ctx context.Context, callID string) (Call, error)
	GetCallBySID(ctx context.Context, sid string) (Call, error)
	// FinishCall marks the call ended and records its duration.
	FinishCall(ctx context.Context, callID, status string) error

	SaveTranscription(ctx context.Context, callID, content string) (Transcription, error)
	GetTranscriptionByCall(ctx context.Context, callID string) (Transcription, error)

	CreateSchedule(ctx context.Context, s Schedule) (Schedule, error)
	ActiveSchedules(ctx context.Context) ([]Schedule, error)

	Close()
}
