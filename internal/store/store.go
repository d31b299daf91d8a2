// Package store defines the durable persistence interface for the engine
// and its SQLite and Postgres implementations. All campaign progress flows
// through here; the enrollment claim is the single serialization point and
// must be a conditional update, never read-then-write.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-engine/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = eris.New("store: not found")

// ErrAlreadyExists is returned by RegisterFingerprint when another lead
// already owns the fingerprint. Callers recover by merging into the
// existing lead.
var ErrAlreadyExists = eris.New("store: already exists")

// EnrollmentFilter specifies criteria for listing enrollments.
type EnrollmentFilter struct {
	CampaignID string                `json:"campaign_id,omitempty"`
	LeadID     string                `json:"lead_id,omitempty"`
	State      model.EnrollmentState `json:"state,omitempty"`
	Limit      int                   `json:"limit,omitempty"`
}

// Store is the persistence interface for leads, campaigns, and enrollments.
type Store interface {
	// Leads
	CreateLead(ctx context.Context, l *model.Lead) error
	UpdateLead(ctx context.Context, l *model.Lead) error
	GetLead(ctx context.Context, id string) (*model.Lead, error)
	// DeleteLead removes a lead that lost the fingerprint registration
	// race before anything else referenced it. Deleting a missing lead
	// is not an error.
	DeleteLead(ctx context.Context, id string) error

	// Fingerprint registry. RegisterFingerprint is atomic
	// compare-and-set: it fails with ErrAlreadyExists when the
	// fingerprint is already bound to a different lead.
	ResolveFingerprint(ctx context.Context, fingerprint string) (string, error)
	RegisterFingerprint(ctx context.Context, fingerprint, leadID string) error
	ReleaseFingerprint(ctx context.Context, fingerprint string) error

	// Campaigns
	PutCampaign(ctx context.Context, c *model.Campaign) error
	GetCampaign(ctx context.Context, id string) (*model.Campaign, error)
	ListCampaigns(ctx context.Context) ([]model.Campaign, error)
	SetCampaignPaused(ctx context.Context, id string, paused bool) error

	// Enrollments
	CreateEnrollment(ctx context.Context, e *model.Enrollment) error
	UpdateEnrollment(ctx context.Context, e *model.Enrollment) error
	GetEnrollment(ctx context.Context, id string) (*model.Enrollment, error)
	ListEnrollments(ctx context.Context, filter EnrollmentFilter) ([]model.Enrollment, error)

	// DueEnrollments returns claimable enrollments (pending or waiting,
	// next_due_at <= now, campaign not paused) ordered by next_due_at
	// ascending then lead score descending.
	DueEnrollments(ctx context.Context, now time.Time, limit int) ([]model.Enrollment, error)

	// ClaimEnrollment transitions pending/waiting -> active as a single
	// conditional update. Returns false when the enrollment was already
	// taken by another worker; that is not an error.
	ClaimEnrollment(ctx context.Context, id string, now time.Time) (bool, error)

	// RequeueStaleClaims returns active enrollments whose claim went
	// stale (updated_at before cutoff) to the waiting state, due at now.
	// A worker that dies between claim and release leaves its enrollment
	// active; without this sweep nothing would ever pick it up again.
	RequeueStaleClaims(ctx context.Context, cutoff, now time.Time) (int, error)

	// CountEnrollments aggregates enrollment states for one campaign.
	CountEnrollments(ctx context.Context, campaignID string) (map[model.EnrollmentState]int, error)

	// Message log
	RecordMessage(ctx context.Context, m *model.SentMessage) error
	ListMessages(ctx context.Context, enrollmentID string) ([]model.SentMessage, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
