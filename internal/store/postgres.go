package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-engine/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it
// for unit tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id          TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL DEFAULT '',
	attributes  JSONB NOT NULL DEFAULT '{}',
	score       DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS fingerprints (
	fingerprint TEXT PRIMARY KEY,
	lead_id     TEXT NOT NULL REFERENCES leads(id)
);

CREATE TABLE IF NOT EXISTS campaigns (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	version    INTEGER NOT NULL DEFAULT 1,
	steps      JSONB NOT NULL,
	paused     BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS enrollments (
	id                 TEXT PRIMARY KEY,
	lead_id            TEXT NOT NULL REFERENCES leads(id),
	campaign_id        TEXT NOT NULL REFERENCES campaigns(id),
	current_step_index INTEGER NOT NULL DEFAULT 0,
	state              TEXT NOT NULL DEFAULT 'pending',
	next_due_at        TIMESTAMPTZ NOT NULL,
	attempt_count      INTEGER NOT NULL DEFAULT 0,
	last_error         TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL
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
	sent_at       TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_enrollments_due ON enrollments(state, next_due_at);
CREATE INDEX IF NOT EXISTS idx_enrollments_campaign ON enrollments(campaign_id);
CREATE INDEX IF NOT EXISTS idx_enrollments_lead ON enrollments(lead_id);
CREATE INDEX IF NOT EXISTS idx_messages_enrollment ON messages(enrollment_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Leads

func (s *PostgresStore) CreateLead(ctx context.Context, l *model.Lead) error {
	attrsJSON, err := json.Marshal(l.Attributes)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal attributes")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO leads (id, fingerprint, attributes, score, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		l.ID, l.Fingerprint, attrsJSON, l.Score, l.CreatedAt, l.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: insert lead %s", l.ID)
}

func (s *PostgresStore) UpdateLead(ctx context.Context, l *model.Lead) error {
	attrsJSON, err := json.Marshal(l.Attributes)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal attributes")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET fingerprint = $1, attributes = $2, score = $3, updated_at = $4 WHERE id = $5`,
		l.Fingerprint, attrsJSON, l.Score, l.UpdatedAt, l.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update lead %s", l.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "lead %s", l.ID)
	}
	return nil
}

func (s *PostgresStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, fingerprint, attributes, score, created_at, updated_at FROM leads WHERE id = $1`,
		id,
	)
	var l model.Lead
	var attrsJSON []byte
	err := row.Scan(&l.ID, &l.Fingerprint, &attrsJSON, &l.Score, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "lead %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan lead")
	}
	if err := json.Unmarshal(attrsJSON, &l.Attributes); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal attributes")
	}
	return &l, nil
}

func (s *PostgresStore) DeleteLead(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM leads WHERE id = $1`, id)
	return eris.Wrapf(err, "postgres: delete lead %s", id)
}

// Fingerprints

func (s *PostgresStore) ResolveFingerprint(ctx context.Context, fingerprint string) (string, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT lead_id FROM fingerprints WHERE fingerprint = $1`, fingerprint,
	)
	var leadID string
	err := row.Scan(&leadID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", eris.Wrapf(ErrNotFound, "fingerprint %s", fingerprint)
	}
	if err != nil {
		return "", eris.Wrap(err, "postgres: resolve fingerprint")
	}
	return leadID, nil
}

func (s *PostgresStore) RegisterFingerprint(ctx context.Context, fingerprint, leadID string) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO fingerprints (fingerprint, lead_id) VALUES ($1, $2)
		 ON CONFLICT (fingerprint) DO NOTHING`,
		fingerprint, leadID,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: register fingerprint")
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	existing, err := s.ResolveFingerprint(ctx, fingerprint)
	if err != nil {
		return err
	}
	if existing == leadID {
		return nil
	}
	return eris.Wrapf(ErrAlreadyExists, "fingerprint %s bound to lead %s", fingerprint, existing)
}

func (s *PostgresStore) ReleaseFingerprint(ctx context.Context, fingerprint string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM fingerprints WHERE fingerprint = $1`, fingerprint,
	)
	return eris.Wrap(err, "postgres: release fingerprint")
}

// Campaigns

func (s *PostgresStore) PutCampaign(ctx context.Context, c *model.Campaign) error {
	stepsJSON, err := json.Marshal(c.Steps)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal steps")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO campaigns (id, name, version, steps, paused, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO NOTHING`,
		c.ID, c.Name, c.Version, stepsJSON, c.Paused, c.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: put campaign %s", c.ID)
}

func (s *PostgresStore) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, version, steps, paused, created_at FROM campaigns WHERE id = $1`, id,
	)
	return scanCampaignPg(row)
}

func (s *PostgresStore) ListCampaigns(ctx context.Context) ([]model.Campaign, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, version, steps, paused, created_at FROM campaigns ORDER BY name, version`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list campaigns")
	}
	defer rows.Close()

	var campaigns []model.Campaign
	for rows.Next() {
		c, err := scanCampaignPg(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, *c)
	}
	return campaigns, eris.Wrap(rows.Err(), "postgres: list campaigns iterate")
}

func (s *PostgresStore) SetCampaignPaused(ctx context.Context, id string, paused bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE campaigns SET paused = $1 WHERE id = $2`, paused, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set campaign paused %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "campaign %s", id)
	}
	return nil
}

// Enrollments

func (s *PostgresStore) CreateEnrollment(ctx context.Context, e *model.Enrollment) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO enrollments
		 (id, lead_id, campaign_id, current_step_index, state, next_due_at, attempt_count, last_error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.LeadID, e.CampaignID, e.CurrentStepIndex, string(e.State),
		e.NextDueAt, e.AttemptCount, e.LastError, e.CreatedAt, e.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: insert enrollment %s", e.ID)
}

func (s *PostgresStore) UpdateEnrollment(ctx context.Context, e *model.Enrollment) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE enrollments SET current_step_index = $1, state = $2, next_due_at = $3,
		 attempt_count = $4, last_error = $5, updated_at = $6 WHERE id = $7`,
		e.CurrentStepIndex, string(e.State), e.NextDueAt,
		e.AttemptCount, e.LastError, e.UpdatedAt, e.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update enrollment %s", e.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "enrollment %s", e.ID)
	}
	return nil
}

func (s *PostgresStore) GetEnrollment(ctx context.Context, id string) (*model.Enrollment, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, lead_id, campaign_id, current_step_index, state, next_due_at,
		 attempt_count, last_error, created_at, updated_at FROM enrollments WHERE id = $1`,
		id,
	)
	e, err := scanEnrollment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "enrollment %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan enrollment")
	}
	return e, nil
}

func (s *PostgresStore) ListEnrollments(ctx context.Context, filter EnrollmentFilter) ([]model.Enrollment, error) {
	query := `SELECT id, lead_id, campaign_id, current_step_index, state, next_due_at,
		attempt_count, last_error, created_at, updated_at FROM enrollments WHERE 1=1`
	var args []any

	if filter.CampaignID != "" {
		args = append(args, filter.CampaignID)
		query += ` AND campaign_id = $` + itoa(len(args))
	}
	if filter.LeadID != "" {
		args = append(args, filter.LeadID)
		query += ` AND lead_id = $` + itoa(len(args))
	}
	if filter.State != "" {
		args = append(args, string(filter.State))
		query += ` AND state = $` + itoa(len(args))
	}
	query += ` ORDER BY created_at`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + itoa(len(args))

	return s.queryEnrollments(ctx, query, args...)
}

func (s *PostgresStore) DueEnrollments(ctx context.Context, now time.Time, limit int) ([]model.Enrollment, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT e.id, e.lead_id, e.campaign_id, e.current_step_index, e.state,
		e.next_due_at, e.attempt_count, e.last_error, e.created_at, e.updated_at
		FROM enrollments e
		JOIN campaigns c ON c.id = e.campaign_id
		JOIN leads l ON l.id = e.lead_id
		WHERE e.state IN ('pending', 'waiting') AND e.next_due_at <= $1 AND NOT c.paused
		ORDER BY e.next_due_at ASC, l.score DESC
		LIMIT $2`
	return s.queryEnrollments(ctx, query, now, limit)
}

func (s *PostgresStore) ClaimEnrollment(ctx context.Context, id string, now time.Time) (bool, error) {
	// Single conditional update: the sole at-most-one-in-flight guard.
	tag, err := s.pool.Exec(ctx,
		`UPDATE enrollments SET state = 'active', updated_at = $1
		 WHERE id = $2 AND state IN ('pending', 'waiting')`,
		now, id,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: claim enrollment %s", id)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) RequeueStaleClaims(ctx context.Context, cutoff, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE enrollments SET state = 'waiting', next_due_at = $1, updated_at = $2
		 WHERE state = 'active' AND updated_at < $3`,
		now, now, cutoff,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: requeue stale claims")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) CountEnrollments(ctx context.Context, campaignID string) (map[model.EnrollmentState]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT state, COUNT(*) FROM enrollments WHERE campaign_id = $1 GROUP BY state`,
		campaignID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count enrollments")
	}
	defer rows.Close()

	counts := make(map[model.EnrollmentState]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan count")
		}
		counts[model.EnrollmentState(state)] = n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: count enrollments iterate")
}

// Message log

func (s *PostgresStore) RecordMessage(ctx context.Context, m *model.SentMessage) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (id, enrollment_id, lead_id, campaign_id, step_index, channel, recipient, subject, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.EnrollmentID, m.LeadID, m.CampaignID, m.StepIndex, m.Channel, m.Recipient, m.Subject, m.SentAt,
	)
	return eris.Wrap(err, "postgres: record message")
}

func (s *PostgresStore) ListMessages(ctx context.Context, enrollmentID string) ([]model.SentMessage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, enrollment_id, lead_id, campaign_id, step_index, channel, recipient, subject, sent_at
		 FROM messages WHERE enrollment_id = $1 ORDER BY sent_at`,
		enrollmentID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list messages")
	}
	defer rows.Close()

	var msgs []model.SentMessage
	for rows.Next() {
		var m model.SentMessage
		if err := rows.Scan(&m.ID, &m.EnrollmentID, &m.LeadID, &m.CampaignID,
			&m.StepIndex, &m.Channel, &m.Recipient, &m.Subject, &m.SentAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan message")
		}
		msgs = append(msgs, m)
	}
	return msgs, eris.Wrap(rows.Err(), "postgres: list messages iterate")
}

// helpers

func (s *PostgresStore) queryEnrollments(ctx context.Context, query string, args ...any) ([]model.Enrollment, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query enrollments")
	}
	defer rows.Close()

	var enrollments []model.Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan enrollment")
		}
		enrollments = append(enrollments, *e)
	}
	return enrollments, eris.Wrap(rows.Err(), "postgres: enrollments iterate")
}

func scanCampaignPg(row scannable) (*model.Campaign, error) {
	var c model.Campaign
	var stepsJSON []byte
	err := row.Scan(&c.ID, &c.Name, &c.Version, &stepsJSON, &c.Paused, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "campaign")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan campaign")
	}
	if err := json.Unmarshal(stepsJSON, &c.Steps); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal steps")
	}
	return &c, nil
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
