package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/outreach-engine/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id          TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL DEFAULT '',
	attributes  TEXT NOT NULL DEFAULT '{}',
	score       REAL NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS fingerprints (
	fingerprint TEXT PRIMARY KEY,
	lead_id     TEXT NOT NULL REFERENCES leads(id)
);

CREATE TABLE IF NOT EXISTS campaigns (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	version    INTEGER NOT NULL DEFAULT 1,
	steps      TEXT NOT NULL,
	paused     INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS enrollments (
	id                 TEXT PRIMARY KEY,
	lead_id            TEXT NOT NULL REFERENCES leads(id),
	campaign_id        TEXT NOT NULL REFERENCES campaigns(id),
	current_step_index INTEGER NOT NULL DEFAULT 0,
	state              TEXT NOT NULL DEFAULT 'pending',
	next_due_at        DATETIME NOT NULL,
	attempt_count      INTEGER NOT NULL DEFAULT 0,
	last_error         TEXT NOT NULL DEFAULT '',
	created_at         DATETIME NOT NULL,
	updated_at         DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id            TEXT PRIMARY KEY,
	enrollment_id TEXT NOT NULL REFERENCES enrollments(id),
	lead_id       TEXT NOT NULL,
	campaign_id   TEXT NOT NULL,
	step_index    INTEGER NOT NULL,
	channel       TEXT NOT NULL,
	recipient     TEXT NOT NULL,
	subject       TEXT NOT NULL DEFAULT '',
	sent_at       DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_enrollments_due ON enrollments(state, next_due_at);
CREATE INDEX IF NOT EXISTS idx_enrollments_campaign ON enrollments(campaign_id);
CREATE INDEX IF NOT EXISTS idx_enrollments_lead ON enrollments(lead_id);
CREATE INDEX IF NOT EXISTS idx_messages_enrollment ON messages(enrollment_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Leads

func (s *SQLiteStore) CreateLead(ctx context.Context, l *model.Lead) error {
	attrsJSON, err := json.Marshal(l.Attributes)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal attributes")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO leads (id, fingerprint, attributes, score, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		l.ID, l.Fingerprint, string(attrsJSON), l.Score, l.CreatedAt, l.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert lead %s", l.ID)
}

func (s *SQLiteStore) UpdateLead(ctx context.Context, l *model.Lead) error {
	attrsJSON, err := json.Marshal(l.Attributes)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal attributes")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET fingerprint = ?, attributes = ?, score = ?, updated_at = ? WHERE id = ?`,
		l.Fingerprint, string(attrsJSON), l.Score, l.UpdatedAt, l.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update lead %s", l.ID)
	}
	return checkRowsAffected(res, "lead", l.ID)
}

func (s *SQLiteStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, fingerprint, attributes, score, created_at, updated_at FROM leads WHERE id = ?`,
		id,
	)
	var l model.Lead
	var attrsJSON string
	err := row.Scan(&l.ID, &l.Fingerprint, &attrsJSON, &l.Score, &l.CreatedAt, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "lead %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan lead")
	}
	if err := json.Unmarshal([]byte(attrsJSON), &l.Attributes); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal attributes")
	}
	return &l, nil
}

func (s *SQLiteStore) DeleteLead(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM leads WHERE id = ?`, id)
	return eris.Wrapf(err, "sqlite: delete lead %s", id)
}

// Fingerprints

func (s *SQLiteStore) ResolveFingerprint(ctx context.Context, fingerprint string) (string, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT lead_id FROM fingerprints WHERE fingerprint = ?`, fingerprint,
	)
	var leadID string
	err := row.Scan(&leadID)
	if err == sql.ErrNoRows {
		return "", eris.Wrapf(ErrNotFound, "fingerprint %s", fingerprint)
	}
	if err != nil {
		return "", eris.Wrap(err, "sqlite: resolve fingerprint")
	}
	return leadID, nil
}

func (s *SQLiteStore) RegisterFingerprint(ctx context.Context, fingerprint, leadID string) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO fingerprints (fingerprint, lead_id) VALUES (?, ?)
		 ON CONFLICT(fingerprint) DO NOTHING`,
		fingerprint, leadID,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: register fingerprint")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 1 {
		return nil
	}

	// Lost the insert race (or re-registering). Registering the same
	// lead twice is idempotent; a different lead is the dedup signal.
	existing, err := s.ResolveFingerprint(ctx, fingerprint)
	if err != nil {
		return err
	}
	if existing == leadID {
		return nil
	}
	return eris.Wrapf(ErrAlreadyExists, "fingerprint %s bound to lead %s", fingerprint, existing)
}

func (s *SQLiteStore) ReleaseFingerprint(ctx context.Context, fingerprint string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM fingerprints WHERE fingerprint = ?`, fingerprint,
	)
	return eris.Wrap(err, "sqlite: release fingerprint")
}

// Campaigns

func (s *SQLiteStore) PutCampaign(ctx context.Context, c *model.Campaign) error {
	stepsJSON, err := json.Marshal(c.Steps)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal steps")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO campaigns (id, name, version, steps, paused, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		c.ID, c.Name, c.Version, string(stepsJSON), boolToInt(c.Paused), c.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: put campaign %s", c.ID)
}

func (s *SQLiteStore) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, version, steps, paused, created_at FROM campaigns WHERE id = ?`, id,
	)
	return scanCampaign(row)
}

func (s *SQLiteStore) ListCampaigns(ctx context.Context) ([]model.Campaign, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, version, steps, paused, created_at FROM campaigns ORDER BY name, version`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list campaigns")
	}
	defer rows.Close()

	var campaigns []model.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, *c)
	}
	return campaigns, eris.Wrap(rows.Err(), "sqlite: list campaigns iterate")
}

func (s *SQLiteStore) SetCampaignPaused(ctx context.Context, id string, paused bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET paused = ? WHERE id = ?`, boolToInt(paused), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set campaign paused %s", id)
	}
	return checkRowsAffected(res, "campaign", id)
}

// Enrollments

func (s *SQLiteStore) CreateEnrollment(ctx context.Context, e *model.Enrollment) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO enrollments
		 (id, lead_id, campaign_id, current_step_index, state, next_due_at, attempt_count, last_error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.LeadID, e.CampaignID, e.CurrentStepIndex, string(e.State),
		e.NextDueAt, e.AttemptCount, e.LastError, e.CreatedAt, e.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert enrollment %s", e.ID)
}

func (s *SQLiteStore) UpdateEnrollment(ctx context.Context, e *model.Enrollment) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE enrollments SET current_step_index = ?, state = ?, next_due_at = ?,
		 attempt_count = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		e.CurrentStepIndex, string(e.State), e.NextDueAt,
		e.AttemptCount, e.LastError, e.UpdatedAt, e.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update enrollment %s", e.ID)
	}
	return checkRowsAffected(res, "enrollment", e.ID)
}

func (s *SQLiteStore) GetEnrollment(ctx context.Context, id string) (*model.Enrollment, error) {
	row := s.db.QueryRowContext(ctx,
		enrollmentColumns+` FROM enrollments WHERE id = ?`, id,
	)
	e, err := scanEnrollment(row)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "enrollment %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan enrollment")
	}
	return e, nil
}

func (s *SQLiteStore) ListEnrollments(ctx context.Context, filter EnrollmentFilter) ([]model.Enrollment, error) {
	query := enrollmentColumns + ` FROM enrollments WHERE 1=1`
	var args []any

	if filter.CampaignID != "" {
		query += ` AND campaign_id = ?`
		args = append(args, filter.CampaignID)
	}
	if filter.LeadID != "" {
		query += ` AND lead_id = ?`
		args = append(args, filter.LeadID)
	}
	if filter.State != "" {
		query += ` AND state = ?`
		args = append(args, string(filter.State))
	}
	query += ` ORDER BY created_at`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	return s.queryEnrollments(ctx, query, args...)
}

func (s *SQLiteStore) DueEnrollments(ctx context.Context, now time.Time, limit int) ([]model.Enrollment, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT e.id, e.lead_id, e.campaign_id, e.current_step_index, e.state,
		e.next_due_at, e.attempt_count, e.last_error, e.created_at, e.updated_at
		FROM enrollments e
		JOIN campaigns c ON c.id = e.campaign_id
		JOIN leads l ON l.id = e.lead_id
		WHERE e.state IN ('pending', 'waiting') AND e.next_due_at <= ? AND c.paused = 0
		ORDER BY e.next_due_at ASC, l.score DESC
		LIMIT ?`
	return s.queryEnrollments(ctx, query, now, limit)
}

func (s *SQLiteStore) ClaimEnrollment(ctx context.Context, id string, now time.Time) (bool, error) {
	// Single conditional update: the sole at-most-one-in-flight guard.
	res, err := s.db.ExecContext(ctx,
		`UPDATE enrollments SET state = 'active', updated_at = ?
		 WHERE id = ? AND state IN ('pending', 'waiting')`,
		now, id,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: claim enrollment %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) RequeueStaleClaims(ctx context.Context, cutoff, now time.Time) (int, error) {
	// An active enrollment not touched since the cutoff belongs to a
	// worker that died between claim and release. Put it back in the
	// queue for immediate pickup.
	res, err := s.db.ExecContext(ctx,
		`UPDATE enrollments SET state = 'waiting', next_due_at = ?, updated_at = ?
		 WHERE state = 'active' AND updated_at < ?`,
		now, now, cutoff,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: requeue stale claims")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	return int(n), nil
}

func (s *SQLiteStore) CountEnrollments(ctx context.Context, campaignID string) (map[model.EnrollmentState]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT state, COUNT(*) FROM enrollments WHERE campaign_id = ? GROUP BY state`,
		campaignID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count enrollments")
	}
	defer rows.Close()

	counts := make(map[model.EnrollmentState]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan count")
		}
		counts[model.EnrollmentState(state)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: count enrollments iterate")
}

// Message log

func (s *SQLiteStore) RecordMessage(ctx context.Context, m *model.SentMessage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, enrollment_id, lead_id, campaign_id, step_index, channel, recipient, subject, sent_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.EnrollmentID, m.LeadID, m.CampaignID, m.StepIndex, m.Channel, m.Recipient, m.Subject, m.SentAt,
	)
	return eris.Wrap(err, "sqlite: record message")
}

func (s *SQLiteStore) ListMessages(ctx context.Context, enrollmentID string) ([]model.SentMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, enrollment_id, lead_id, campaign_id, step_index, channel, recipient, subject, sent_at
		 FROM messages WHERE enrollment_id = ? ORDER BY sent_at`,
		enrollmentID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list messages")
	}
	defer rows.Close()

	var msgs []model.SentMessage
	for rows.Next() {
		var m model.SentMessage
		if err := rows.Scan(&m.ID, &m.EnrollmentID, &m.LeadID, &m.CampaignID,
			&m.StepIndex, &m.Channel, &m.Recipient, &m.Subject, &m.SentAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan message")
		}
		msgs = append(msgs, m)
	}
	return msgs, eris.Wrap(rows.Err(), "sqlite: list messages iterate")
}

// helpers

const enrollmentColumns = `SELECT id, lead_id, campaign_id, current_step_index, state,
	next_due_at, attempt_count, last_error, created_at, updated_at`

func (s *SQLiteStore) queryEnrollments(ctx context.Context, query string, args ...any) ([]model.Enrollment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query enrollments")
	}
	defer rows.Close()

	var enrollments []model.Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan enrollment")
		}
		enrollments = append(enrollments, *e)
	}
	return enrollments, eris.Wrap(rows.Err(), "sqlite: enrollments iterate")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanEnrollment(row scannable) (*model.Enrollment, error) {
	var e model.Enrollment
	var state string
	err := row.Scan(&e.ID, &e.LeadID, &e.CampaignID, &e.CurrentStepIndex, &state,
		&e.NextDueAt, &e.AttemptCount, &e.LastError, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.State = model.EnrollmentState(state)
	return &e, nil
}

func scanCampaign(row scannable) (*model.Campaign, error) {
	var c model.Campaign
	var stepsJSON string
	var paused int
	err := row.Scan(&c.ID, &c.Name, &c.Version, &stepsJSON, &paused, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "campaign")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan campaign")
	}
	if err := json.Unmarshal([]byte(stepsJSON), &c.Steps); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal steps")
	}
	c.Paused = paused != 0
	return &c, nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
