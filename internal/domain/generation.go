package domain

import "time"

// Status enumerates generation lifecycle states.
type Status string

const (
	// StatusUploading marks a row created before its input assets finished
	// uploading.
	StatusUploading Status = "uploading"
	// StatusPending marks a row whose inputs are present and which is
	// waiting to be claimed by a worker.
	StatusPending Status = "pending"
	// StatusProcessing marks a row owned by exactly one worker run.
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status is a final state. There is no
// transition out of a terminal state; cancellation is modeled as row
// deletion, not a status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether moving from s to next is a legal step of
// the lifecycle machine.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusUploading:
		return next == StatusProcessing || next == StatusPending || next == StatusFailed
	case StatusPending:
		return next == StatusProcessing || next == StatusFailed
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// Generation is one motion-swap request and its persisted lifecycle record.
type Generation struct {
	ID                string
	UserID            string
	Email             string
	VideoURL          string
	CharacterImageURL string
	CharacterName     string
	ResultKey         string
	Status            Status
	RunToken          string
	Error             *ErrorEnvelope
	SendEmail         bool
	CreatedAt         time.Time
	CompletedAt       *time.Time
}

// CheckInvariants verifies the row-level consistency rules that every store
// mutation must preserve. It is used by tests and by the in-memory fakes.
func (g *Generation) CheckInvariants() error {
	if g.ID == "" {
		return ErrInvalidInput
	}
	if g.UserID == "" {
		return ErrInvalidInput
	}
	if (g.ResultKey != "") != (g.Status == StatusCompleted) {
		return ErrInvariantViolated
	}
	if (g.Error != nil) != (g.Status == StatusFailed) {
		return ErrInvariantViolated
	}
	if g.Status.Terminal() && g.CompletedAt == nil {
		return ErrInvariantViolated
	}
	return nil
}
