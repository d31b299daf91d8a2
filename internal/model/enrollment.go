package model

import (
	"time"

	"github.com/google/uuid"
)

// EnrollmentState is the lifecycle state of a lead's progress through a
// campaign.
type EnrollmentState string

const (
	// EnrollmentPending means the enrollment has never been claimed;
	// step 0 is the next step to attempt.
	EnrollmentPending EnrollmentState = "pending"
	// EnrollmentActive means a worker holds the claim and is executing.
	EnrollmentActive EnrollmentState = "active"
	// EnrollmentWaiting means the next step is scheduled for NextDueAt.
	EnrollmentWaiting EnrollmentState = "waiting"
	// EnrollmentCompleted means every step ran or was skipped.
	EnrollmentCompleted EnrollmentState = "completed"
	// EnrollmentFailed means a step failed permanently or exhausted retries.
	EnrollmentFailed EnrollmentState = "failed"
	// EnrollmentStopped means a stop condition (reply, unsubscribe) fired.
	EnrollmentStopped EnrollmentState = "stopped"
)

// Terminal reports whether the state admits no further transitions.
func (s EnrollmentState) Terminal() bool {
	switch s {
	case EnrollmentCompleted, EnrollmentFailed, EnrollmentStopped:
		return true
	}
	return false
}

// Enrollment tracks one lead's progress through one campaign. It is owned
// exclusively by the scheduler/executor pair; all writes go through the
// store, and the claim transition is a conditional update.
type Enrollment struct {
	ID         string `json:"id"`
	LeadID     string `json:"lead_id"`
	CampaignID string `json:"campaign_id"`

	// CurrentStepIndex is the next step to attempt, 0-based. A pending
	// enrollment sits at index 0.
	CurrentStepIndex int             `json:"current_step_index"`
	State            EnrollmentState `json:"state"`
	NextDueAt        time.Time       `json:"next_due_at"`

	// AttemptCount counts tries of the current step; reset on advance.
	AttemptCount int    `json:"attempt_count"`
	LastError    string `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEnrollment builds a pending enrollment at step 0, due immediately.
func NewEnrollment(leadID, campaignID string, now time.Time) *Enrollment {
	return &Enrollment{
		ID:         uuid.New().String(),
		LeadID:     leadID,
		CampaignID: campaignID,
		State:      EnrollmentPending,
		NextDueAt:  now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// SentMessage is the durable log entry for one delivered outreach message.
type SentMessage struct {
	ID           string    `json:"id"`
	EnrollmentID string    `json:"enrollment_id"`
	LeadID       string    `json:"lead_id"`
	CampaignID   string    `json:"campaign_id"`
	StepIndex    int       `json:"step_index"`
	Channel      string    `json:"channel"`
	Recipient    string    `json:"recipient"`
	Subject      string    `json:"subject,omitempty"`
	SentAt       time.Time `json:"sent_at"`
}
