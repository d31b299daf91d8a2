// Package scheduler polls the store for due enrollments, claims them,
// and hands their current step to the executor. The claim is a single
// conditional update in the store; two pollers racing for the same
// enrollment means exactly one wins and the other moves on.
package scheduler

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/outreach-engine/internal/campaign"
	"github.com/sells-group/outreach-engine/internal/executor"
	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/store"
)

// Config tunes the polling loop.
type Config struct {
	// PollInterval is the sleep between empty polls.
	PollInterval time.Duration
	// BatchSize caps how many due enrollments one poll picks up.
	BatchSize int
	// Workers is the number of concurrent step executions per batch.
	Workers int
	// StopFields are lead fields that halt an enrollment when truthy.
	StopFields []string
	// ClaimLease bounds how long a claim may sit active before a poll
	// requeues it. Covers workers that die between claim and release.
	ClaimLease time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 15 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.StopFields == nil {
		c.StopFields = campaign.DefaultStopFields
	}
	if c.ClaimLease <= 0 {
		c.ClaimLease = 10 * time.Minute
	}
	return c
}

// Scheduler drives enrollments through their campaigns.
type Scheduler struct {
	store store.Store
	exec  *executor.Executor
	cfg   Config
	now   func() time.Time
}

func New(s store.Store, exec *executor.Executor, cfg Config) *Scheduler {
	return &Scheduler{
		store: s,
		exec:  exec,
		cfg:   cfg.withDefaults(),
		now:   time.Now,
	}
}

// WithNow overrides the clock. Test hook.
func (s *Scheduler) WithNow(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Run polls until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		n, err := s.PollDue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			zap.L().Error("poll failed", zap.Error(err))
		} else if n > 0 {
			// Drain without sleeping while there is work.
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// PollDue fetches one batch of due enrollments and processes them on a
// bounded worker pool. Returns how many enrollments were claimed.
func (s *Scheduler) PollDue(ctx context.Context) (int, error) {
	now := s.now()
	requeued, err := s.store.RequeueStaleClaims(ctx, now.Add(-s.cfg.ClaimLease), now)
	if err != nil {
		return 0, eris.Wrap(err, "scheduler: requeue stale claims")
	}
	if requeued > 0 {
		zap.L().Warn("requeued stale claims", zap.Int("count", requeued))
	}

	due, err := s.store.DueEnrollments(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return 0, eris.Wrap(err, "scheduler: list due enrollments")
	}
	if len(due) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	claimed := make(chan int, len(due))
	for i := range due {
		enr := &due[i]
		g.Go(func() error {
			ok, err := s.processOne(gctx, enr)
			if err != nil {
				zap.L().Error("process enrollment",
					zap.String("enrollment_id", enr.ID),
					zap.Error(err))
			}
			if ok {
				claimed <- 1
			}
			return nil
		})
	}
	_ = g.Wait()
	close(claimed)
	n := 0
	for range claimed {
		n++
	}
	return n, nil
}

// processOne claims and runs a single due enrollment. The returned bool
// reports whether this poller won the claim.
func (s *Scheduler) processOne(ctx context.Context, enr *model.Enrollment) (bool, error) {
	lead, err := s.store.GetLead(ctx, enr.LeadID)
	if err != nil {
		return false, eris.Wrap(err, "scheduler: load lead")
	}
	camp, err := s.store.GetCampaign(ctx, enr.CampaignID)
	if err != nil {
		return false, eris.Wrap(err, "scheduler: load campaign")
	}

	won, err := s.store.ClaimEnrollment(ctx, enr.ID, s.now())
	if err != nil {
		return false, eris.Wrap(err, "scheduler: claim")
	}
	if !won {
		// Another poller got there first. Not an error.
		return false, nil
	}
	enr.State = model.EnrollmentActive

	if reason := campaign.StopReason(lead, s.cfg.StopFields); reason != "" {
		return true, s.stop(ctx, enr, reason)
	}

	if done, err := s.skipUnmet(ctx, enr, lead, camp); done || err != nil {
		return true, err
	}

	_, err = s.exec.Execute(ctx, enr, lead, camp)
	return true, err
}

// skipUnmet advances past consecutive steps whose conditions do not hold
// on the lead. Skipping never invokes an adapter; a chain that runs off
// the end of the campaign completes the enrollment. Returns true when the
// enrollment reached a terminal state without executing anything.
func (s *Scheduler) skipUnmet(ctx context.Context, enr *model.Enrollment, lead *model.Lead, camp *model.Campaign) (bool, error) {
	skipped := 0
	for {
		step := camp.StepAt(enr.CurrentStepIndex)
		if step == nil {
			enr.State = model.EnrollmentCompleted
			enr.NextDueAt = time.Time{}
			enr.UpdatedAt = s.now()
			if err := s.store.UpdateEnrollment(ctx, enr); err != nil {
				return true, eris.Wrap(err, "scheduler: persist completion")
			}
			if skipped > 0 {
				zap.L().Info("enrollment completed after skips",
					zap.String("enrollment_id", enr.ID),
					zap.Int("skipped", skipped))
			}
			return true, nil
		}
		ok, err := campaign.Evaluate(step.Condition, lead)
		if err != nil {
			// A condition that cannot be evaluated is a campaign
			// definition defect, not a skip.
			enr.State = model.EnrollmentFailed
			enr.LastError = err.Error()
			enr.NextDueAt = time.Time{}
			enr.UpdatedAt = s.now()
			if uerr := s.store.UpdateEnrollment(ctx, enr); uerr != nil {
				return true, eris.Wrap(uerr, "scheduler: persist condition failure")
			}
			return true, nil
		}
		if ok {
			return false, nil
		}
		zap.L().Debug("step skipped",
			zap.String("enrollment_id", enr.ID),
			zap.String("step", step.Name))
		enr.CurrentStepIndex++
		enr.AttemptCount = 0
		enr.LastError = ""
		skipped++
	}
}

func (s *Scheduler) stop(ctx context.Context, enr *model.Enrollment, reason string) error {
	enr.State = model.EnrollmentStopped
	enr.LastError = reason
	enr.NextDueAt = time.Time{}
	enr.UpdatedAt = s.now()
	if err := s.store.UpdateEnrollment(ctx, enr); err != nil {
		return eris.Wrap(err, "scheduler: persist stop")
	}
	zap.L().Info("enrollment stopped",
		zap.String("enrollment_id", enr.ID),
		zap.String("reason", reason))
	return nil
}

// Enroll creates a new enrollment for a lead in a campaign. The first
// step becomes due immediately plus its own configured delay.
func Enroll(ctx context.Context, s store.Store, leadID, campaignID string, now time.Time) (*model.Enrollment, error) {
	camp, err := s.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, eris.Wrap(err, "scheduler: enroll")
	}
	if len(camp.Steps) == 0 {
		return nil, eris.Errorf("scheduler: campaign %s has no steps", campaignID)
	}
	existing, err := s.ListEnrollments(ctx, store.EnrollmentFilter{LeadID: leadID, CampaignID: campaignID})
	if err != nil {
		return nil, eris.Wrap(err, "scheduler: enroll")
	}
	for _, e := range existing {
		if !e.State.Terminal() {
			return nil, eris.Errorf("scheduler: lead %s already enrolled in campaign %s", leadID, campaignID)
		}
	}
	enr := model.NewEnrollment(leadID, campaignID, now)
	enr.NextDueAt = now.Add(camp.Steps[0].DelayAfterPrevious)
	if err := s.CreateEnrollment(ctx, enr); err != nil {
		return nil, eris.Wrap(err, "scheduler: enroll")
	}
	return enr, nil
}
