// Package executor dispatches a single campaign step for a claimed
// enrollment and persists the resulting state transition. It owns the
// outcome taxonomy: a step either succeeds, fails transiently (and is
// rescheduled through backoff), or fails permanently (and fails the
// enrollment with the reason retained).
package executor

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-engine/internal/adapter"
	"github.com/sells-group/outreach-engine/internal/campaign"
	"github.com/sells-group/outreach-engine/internal/dedupe"
	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/resilience"
	"github.com/sells-group/outreach-engine/internal/store"
)

// Outcome classifies one step attempt.
type Outcome int

const (
	// OutcomeSuccess advances the enrollment to the next step.
	OutcomeSuccess Outcome = iota
	// OutcomeTransient reschedules the step through backoff.
	OutcomeTransient
	// OutcomePermanent fails the enrollment.
	OutcomePermanent
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransient:
		return "transient"
	case OutcomePermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Executor runs one step at a time against an already claimed enrollment.
// All of its collaborators are safe for concurrent use, so a single
// Executor is shared by every scheduler worker.
type Executor struct {
	store    store.Store
	registry *Registry
	limiters *ChannelLimiters
	breakers *resilience.ChannelBreakers
	backoff  *resilience.Backoff
	dedupe   *dedupe.Index
	timeout  time.Duration
	fallback campaign.Fallbacks
	now      func() time.Time
}

// New wires an Executor. A zero timeout defaults to 30s per dispatch.
func New(s store.Store, reg *Registry, lim *ChannelLimiters, brk *resilience.ChannelBreakers, bo *resilience.Backoff, idx *dedupe.Index, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Executor{
		store:    s,
		registry: reg,
		limiters: lim,
		breakers: brk,
		backoff:  bo,
		dedupe:   idx,
		timeout:  timeout,
		fallback: campaign.DefaultFallbacks(),
		now:      time.Now,
	}
}

// WithNow overrides the clock. Test hook.
func (x *Executor) WithNow(now func() time.Time) *Executor {
	x.now = now
	return x
}

// WithFallbacks overrides the template fallback values.
func (x *Executor) WithFallbacks(f campaign.Fallbacks) *Executor {
	x.fallback = f
	return x
}

// Execute runs the enrollment's current step and persists the transition.
// The enrollment must already be claimed (state active). The returned
// Outcome reflects the attempt; the persisted enrollment state reflects
// where it landed (waiting, completed, failed).
func (x *Executor) Execute(ctx context.Context, enr *model.Enrollment, lead *model.Lead, camp *model.Campaign) (Outcome, error) {
	step := camp.StepAt(enr.CurrentStepIndex)
	if step == nil {
		return x.complete(ctx, enr)
	}

	err := x.dispatch(ctx, step, lead)
	if err == nil {
		return x.succeed(ctx, enr, lead, camp, step)
	}

	if isPermanent(err) {
		return x.failPermanent(ctx, enr, err)
	}
	return x.retryTransient(ctx, enr, step, err)
}

// dispatch routes the step to its adapter through the channel limiter and
// circuit breaker. Enrich and scrape steps fold their observations back
// into the lead before returning.
func (x *Executor) dispatch(ctx context.Context, step *model.Step, lead *model.Lead) error {
	switch step.Action {
	case model.ActionSend:
		return x.dispatchSend(ctx, step, lead)
	case model.ActionScrape:
		return x.dispatchScrape(ctx, step, lead)
	case model.ActionEnrich:
		return x.dispatchEnrich(ctx, step, lead)
	default:
		return eris.Errorf("executor: unknown step action %q", step.Action)
	}
}

func (x *Executor) dispatchSend(ctx context.Context, step *model.Step, lead *model.Lead) error {
	recipient := lead.StringValue("email")
	if !validRecipient(recipient) {
		return adapter.Reject("no valid email on lead")
	}
	if verified, ok := lead.Value("email_verified").(bool); ok && !verified {
		return adapter.Reject("email failed verification")
	}
	if !x.limiters.Allow(step.Channel) {
		return eris.Wrap(adapter.ErrRateLimited, "executor: channel "+step.Channel)
	}
	sender, err := x.registry.Sender(step.Channel)
	if err != nil {
		return err
	}
	msg := adapter.OutboundMessage{
		Channel:   step.Channel,
		Recipient: recipient,
		Subject:   campaign.Render(step.Subject, lead, x.fallback),
		Body:      campaign.Render(step.Body, lead, x.fallback),
	}
	return x.breakers.Get(step.Channel).Execute(ctx, func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, x.timeout)
		defer cancel()
		return sender.Send(cctx, msg)
	})
}

func (x *Executor) dispatchScrape(ctx context.Context, step *model.Step, lead *model.Lead) error {
	scraper, err := x.registry.Scraper(step.Provider)
	if err != nil {
		return err
	}
	target := campaign.Render(step.Target, lead, x.fallback)
	if target == "" {
		target = lead.StringValue("website")
	}
	if target == "" {
		return eris.New("executor: scrape step has no target and lead has no website")
	}
	if !x.limiters.Allow("scrape") {
		return eris.Wrap(adapter.ErrRateLimited, "executor: channel scrape")
	}
	var obs *model.Observation
	err = x.breakers.Get("scrape").Execute(ctx, func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, x.timeout)
		defer cancel()
		var serr error
		obs, serr = scraper.Scrape(cctx, target)
		return serr
	})
	if err != nil {
		return err
	}
	return x.fold(ctx, lead, obs)
}

func (x *Executor) dispatchEnrich(ctx context.Context, step *model.Step, lead *model.Lead) error {
	hints := adapter.IdentityHints{
		LeadID:  lead.ID,
		Email:   lead.StringValue("email"),
		Name:    lead.StringValue("name"),
		Website: lead.StringValue("website"),
		City:    lead.StringValue("city"),
		State:   lead.StringValue("state"),
	}
	enrichers := x.registry.Enrichers()
	if len(enrichers) == 0 {
		return eris.New("executor: no enrichers registered")
	}
	if !x.limiters.Allow("enrich") {
		return eris.Wrap(adapter.ErrRateLimited, "executor: channel enrich")
	}

	var observations []model.Observation
	var lastErr error
	for _, e := range enrichers {
		if step.Provider != "" && e.Name() != step.Provider {
			continue
		}
		var obs *model.Observation
		err := x.breakers.Get("enrich:" + e.Name()).Execute(ctx, func(ctx context.Context) error {
			cctx, cancel := context.WithTimeout(ctx, x.timeout)
			defer cancel()
			var eerr error
			obs, eerr = e.Enrich(cctx, hints)
			return eerr
		})
		if err != nil {
			// A provider with no record for the lead is not a step
			// failure when another provider may still answer.
			if errors.Is(err, adapter.ErrNotFound) && step.Provider == "" {
				continue
			}
			lastErr = err
			continue
		}
		if obs != nil {
			observations = append(observations, *obs)
		}
	}
	if len(observations) == 0 {
		if lastErr != nil {
			return lastErr
		}
		return eris.Wrap(adapter.ErrNotFound, "executor: enrich")
	}
	merged, err := x.dedupe.MergeInto(ctx, lead.ID, observations)
	if err != nil {
		return eris.Wrap(err, "executor: merge enrichment")
	}
	*lead = *merged
	return nil
}

// fold merges a single observation into the lead through the dedupe
// index so reconciliation and rescoring apply.
func (x *Executor) fold(ctx context.Context, lead *model.Lead, obs *model.Observation) error {
	if obs == nil || len(obs.Fields) == 0 {
		return nil
	}
	merged, err := x.dedupe.MergeInto(ctx, lead.ID, []model.Observation{*obs})
	if err != nil {
		return eris.Wrap(err, "executor: merge scrape")
	}
	*lead = *merged
	return nil
}

func (x *Executor) succeed(ctx context.Context, enr *model.Enrollment, lead *model.Lead, camp *model.Campaign, step *model.Step) (Outcome, error) {
	now := x.now()
	if step.Action == model.ActionSend {
		msg := &model.SentMessage{
			ID:           uuid.New().String(),
			EnrollmentID: enr.ID,
			LeadID:       lead.ID,
			CampaignID:   camp.ID,
			StepIndex:    enr.CurrentStepIndex,
			Channel:      step.Channel,
			Recipient:    lead.StringValue("email"),
			Subject:      campaign.Render(step.Subject, lead, x.fallback),
			SentAt:       now,
		}
		if err := x.store.RecordMessage(ctx, msg); err != nil {
			zap.L().Error("record sent message",
				zap.String("enrollment_id", enr.ID),
				zap.Error(err))
		}
	}

	enr.AttemptCount = 0
	enr.LastError = ""
	enr.CurrentStepIndex++
	enr.UpdatedAt = now

	next := camp.StepAt(enr.CurrentStepIndex)
	if next == nil {
		enr.State = model.EnrollmentCompleted
		enr.NextDueAt = time.Time{}
	} else {
		enr.State = model.EnrollmentWaiting
		enr.NextDueAt = now.Add(next.DelayAfterPrevious)
	}
	if err := x.store.UpdateEnrollment(ctx, enr); err != nil {
		return OutcomeSuccess, eris.Wrap(err, "executor: persist success")
	}
	zap.L().Info("step succeeded",
		zap.String("enrollment_id", enr.ID),
		zap.String("step", step.Name),
		zap.String("state", string(enr.State)))
	return OutcomeSuccess, nil
}

func (x *Executor) complete(ctx context.Context, enr *model.Enrollment) (Outcome, error) {
	enr.State = model.EnrollmentCompleted
	enr.NextDueAt = time.Time{}
	enr.UpdatedAt = x.now()
	if err := x.store.UpdateEnrollment(ctx, enr); err != nil {
		return OutcomeSuccess, eris.Wrap(err, "executor: persist completion")
	}
	return OutcomeSuccess, nil
}

func (x *Executor) retryTransient(ctx context.Context, enr *model.Enrollment, step *model.Step, cause error) (Outcome, error) {
	enr.AttemptCount++
	enr.LastError = cause.Error()
	enr.UpdatedAt = x.now()

	decision := x.backoff.OnTransientFailure(enr.AttemptCount, step.MaxAttempts)
	if !decision.Retry {
		enr.State = model.EnrollmentFailed
		enr.NextDueAt = time.Time{}
		if err := x.store.UpdateEnrollment(ctx, enr); err != nil {
			return OutcomeTransient, eris.Wrap(err, "executor: persist exhaustion")
		}
		zap.L().Warn("step retries exhausted",
			zap.String("enrollment_id", enr.ID),
			zap.String("step", step.Name),
			zap.Int("attempts", enr.AttemptCount),
			zap.Error(cause))
		return OutcomeTransient, nil
	}

	enr.State = model.EnrollmentWaiting
	enr.NextDueAt = decision.At
	if err := x.store.UpdateEnrollment(ctx, enr); err != nil {
		return OutcomeTransient, eris.Wrap(err, "executor: persist retry")
	}
	zap.L().Info("step rescheduled",
		zap.String("enrollment_id", enr.ID),
		zap.String("step", step.Name),
		zap.Int("attempt", enr.AttemptCount),
		zap.Time("next_due_at", enr.NextDueAt),
		zap.Error(cause))
	return OutcomeTransient, nil
}

func (x *Executor) failPermanent(ctx context.Context, enr *model.Enrollment, cause error) (Outcome, error) {
	enr.State = model.EnrollmentFailed
	enr.LastError = cause.Error()
	enr.NextDueAt = time.Time{}
	enr.UpdatedAt = x.now()
	if err := x.store.UpdateEnrollment(ctx, enr); err != nil {
		return OutcomePermanent, eris.Wrap(err, "executor: persist failure")
	}
	zap.L().Warn("step failed permanently",
		zap.String("enrollment_id", enr.ID),
		zap.Error(cause))
	return OutcomePermanent, nil
}

// isPermanent classifies a dispatch error. Anything not recognizably
// transient fails the enrollment rather than burning retries on it.
func isPermanent(err error) bool {
	var rej *adapter.RejectedError
	if errors.As(err, &rej) {
		return true
	}
	if errors.Is(err, adapter.ErrBlocked) || errors.Is(err, adapter.ErrNotFound) {
		return true
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return false
	}
	return !resilience.IsTransient(err)
}

// validRecipient is a cheap structural check; real verification happens
// at ingest time and is recorded on the lead.
func validRecipient(email string) bool {
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 {
		return false
	}
	domain := email[at+1:]
	return strings.Contains(domain, ".") && !strings.ContainsAny(email, " \t\n")
}
