package executor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-engine/internal/adapter"
	"github.com/sells-group/outreach-engine/internal/dedupe"
	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/reconcile"
	"github.com/sells-group/outreach-engine/internal/resilience"
	"github.com/sells-group/outreach-engine/internal/score"
	"github.com/sells-group/outreach-engine/internal/store"
	"github.com/sells-group/outreach-engine/pkg/mailer"
)

var execNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type execEnv struct {
	store    *store.SQLiteStore
	recorder *mailer.Recorder
	registry *Registry
	exec     *Executor
}

func newExecEnv(t *testing.T) *execEnv {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	clock := func() time.Time { return execNow }
	scorer := score.New(score.DefaultConfig()).WithNow(clock)
	rec := reconcile.New([]string{"manual", "import", "hunter", "scrape"}, scorer).WithNow(clock)
	idx := dedupe.NewIndex(s, rec).WithNow(clock)

	recorder := mailer.NewRecorder()
	registry := NewRegistry()
	registry.RegisterSender("email", recorder)

	lim := NewChannelLimiters(nil, RateConfig{PerMinute: 60000, Burst: 1000})
	brk := resilience.NewChannelBreakers(resilience.CircuitConfig{FailureThreshold: 1000})
	bo := resilience.NewBackoff(resilience.BackoffConfig{}).WithNow(clock)

	return &execEnv{
		store:    s,
		recorder: recorder,
		registry: registry,
		exec:     New(s, registry, lim, brk, bo, idx, 0).WithNow(clock),
	}
}

func (e *execEnv) seedLead(t *testing.T, fields map[string]any) *model.Lead {
	t.Helper()
	l := model.NewLead("lead-1", execNow)
	for k, v := range fields {
		l.Attributes[k] = model.Attribute{
			Active: model.AttributeValue{Value: v, Source: "import", Confidence: 0.8, ObservedAt: execNow},
		}
	}
	l.Fingerprint = model.Fingerprint(l)
	require.NoError(t, e.store.CreateLead(context.Background(), l))
	if l.Fingerprint != "" {
		require.NoError(t, e.store.RegisterFingerprint(context.Background(), l.Fingerprint, l.ID))
	}
	return l
}

func (e *execEnv) seedCampaign(t *testing.T, steps []model.Step) *model.Campaign {
	t.Helper()
	c := &model.Campaign{ID: "camp-1", Name: "outreach", Version: 1, Steps: steps, CreatedAt: execNow}
	require.NoError(t, e.store.PutCampaign(context.Background(), c))
	return c
}

func (e *execEnv) seedActive(t *testing.T, stepIndex int) *model.Enrollment {
	t.Helper()
	enr := &model.Enrollment{
		ID: "enr-1", LeadID: "lead-1", CampaignID: "camp-1",
		CurrentStepIndex: stepIndex, State: model.EnrollmentActive,
		NextDueAt: execNow, CreatedAt: execNow, UpdatedAt: execNow,
	}
	require.NoError(t, e.store.CreateEnrollment(context.Background(), enr))
	return enr
}

func twoSendSteps() []model.Step {
	return []model.Step{
		{Name: "intro", Action: model.ActionSend, Channel: "email",
			Subject: "Hello {{name}}", Body: "Hi {{first_name}},"},
		{Name: "followup", Action: model.ActionSend, Channel: "email",
			Subject: "Following up", Body: "Bump", DelayAfterPrevious: 72 * time.Hour},
	}
}

func TestExecute_SendAdvancesToWaiting(t *testing.T) {
	env := newExecEnv(t)
	ctx := context.Background()
	lead := env.seedLead(t, map[string]any{"email": "jo@acme.com", "name": "Acme LLC"})
	camp := env.seedCampaign(t, twoSendSteps())
	enr := env.seedActive(t, 0)

	outcome, err := env.exec.Execute(ctx, enr, lead, camp)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, outcome)
	assert.Equal(t, model.EnrollmentWaiting, enr.State)
	assert.Equal(t, 1, enr.CurrentStepIndex)
	assert.Equal(t, execNow.Add(72*time.Hour), enr.NextDueAt)
	assert.Zero(t, enr.AttemptCount)

	sent := env.recorder.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "jo@acme.com", sent[0].Recipient)
	assert.Equal(t, "Hello Acme LLC", sent[0].Subject)

	msgs, err := env.store.ListMessages(ctx, enr.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, 0, msgs[0].StepIndex)
}

func TestExecute_LastStepCompletes(t *testing.T) {
	env := newExecEnv(t)
	lead := env.seedLead(t, map[string]any{"email": "jo@acme.com"})
	camp := env.seedCampaign(t, twoSendSteps())
	enr := env.seedActive(t, 1)

	outcome, err := env.exec.Execute(context.Background(), enr, lead, camp)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, outcome)
	assert.Equal(t, model.EnrollmentCompleted, enr.State)
	assert.Equal(t, 2, enr.CurrentStepIndex)
}

func TestExecute_StepIndexPastEndCompletes(t *testing.T) {
	env := newExecEnv(t)
	lead := env.seedLead(t, map[string]any{"email": "jo@acme.com"})
	camp := env.seedCampaign(t, twoSendSteps())
	enr := env.seedActive(t, 5)

	outcome, err := env.exec.Execute(context.Background(), enr, lead, camp)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, outcome)
	assert.Equal(t, model.EnrollmentCompleted, enr.State)
	assert.Empty(t, env.recorder.Sent())
}

func TestExecute_TransientReschedules(t *testing.T) {
	env := newExecEnv(t)
	lead := env.seedLead(t, map[string]any{"email": "jo@acme.com"})
	camp := env.seedCampaign(t, twoSendSteps())
	enr := env.seedActive(t, 0)
	env.recorder.Fail = resilience.NewTransientError(eris.New("smtp timeout"), 0)

	outcome, err := env.exec.Execute(context.Background(), enr, lead, camp)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTransient, outcome)
	assert.Equal(t, model.EnrollmentWaiting, enr.State)
	assert.Equal(t, 0, enr.CurrentStepIndex)
	assert.Equal(t, 1, enr.AttemptCount)
	assert.Contains(t, enr.LastError, "smtp timeout")
	// Zero jitter: first retry lands exactly one initial interval out.
	assert.Equal(t, execNow.Add(time.Minute), enr.NextDueAt)
}

func TestExecute_TransientExhaustionFails(t *testing.T) {
	env := newExecEnv(t)
	lead := env.seedLead(t, map[string]any{"email": "jo@acme.com"})
	steps := twoSendSteps()
	steps[0].MaxAttempts = 2
	camp := env.seedCampaign(t, steps)
	enr := env.seedActive(t, 0)
	enr.AttemptCount = 1
	require.NoError(t, env.store.UpdateEnrollment(context.Background(), enr))
	env.recorder.Fail = adapter.ErrProviderUnavailable

	outcome, err := env.exec.Execute(context.Background(), enr, lead, camp)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTransient, outcome)
	assert.Equal(t, model.EnrollmentFailed, enr.State)
	assert.Equal(t, 2, enr.AttemptCount)
}

func TestExecute_PermanentRejectionFails(t *testing.T) {
	env := newExecEnv(t)
	lead := env.seedLead(t, map[string]any{"email": "jo@acme.com"})
	camp := env.seedCampaign(t, twoSendSteps())
	enr := env.seedActive(t, 0)
	env.recorder.Fail = adapter.Reject("mailbox does not exist")

	outcome, err := env.exec.Execute(context.Background(), enr, lead, camp)
	require.NoError(t, err)
	assert.Equal(t, OutcomePermanent, outcome)
	assert.Equal(t, model.EnrollmentFailed, enr.State)
	assert.Contains(t, enr.LastError, "mailbox does not exist")
}

func TestExecute_NoValidEmailFails(t *testing.T) {
	env := newExecEnv(t)
	lead := env.seedLead(t, map[string]any{"name": "Acme LLC"})
	camp := env.seedCampaign(t, twoSendSteps())
	enr := env.seedActive(t, 0)

	outcome, err := env.exec.Execute(context.Background(), enr, lead, camp)
	require.NoError(t, err)
	assert.Equal(t, OutcomePermanent, outcome)
	assert.Equal(t, model.EnrollmentFailed, enr.State)
	assert.Contains(t, enr.LastError, "no valid email")
	assert.Empty(t, env.recorder.Sent())
}

func TestExecute_UnverifiedEmailFails(t *testing.T) {
	env := newExecEnv(t)
	lead := env.seedLead(t, map[string]any{"email": "jo@acme.com", "email_verified": false})
	camp := env.seedCampaign(t, twoSendSteps())
	enr := env.seedActive(t, 0)

	outcome, err := env.exec.Execute(context.Background(), enr, lead, camp)
	require.NoError(t, err)
	assert.Equal(t, OutcomePermanent, outcome)
	assert.Contains(t, enr.LastError, "verification")
}

func TestExecute_RateLimitedIsTransient(t *testing.T) {
	env := newExecEnv(t)
	// Burst of one token and a negligible refill rate: the second
	// dispatch on the channel is rejected locally.
	env.exec.limiters = NewChannelLimiters(
		map[string]RateConfig{"email": {PerMinute: 0.0001, Burst: 1}},
		RateConfig{},
	)
	lead := env.seedLead(t, map[string]any{"email": "jo@acme.com"})
	camp := env.seedCampaign(t, twoSendSteps())
	enr := env.seedActive(t, 0)

	outcome, err := env.exec.Execute(context.Background(), enr, lead, camp)
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, outcome)

	outcome, err = env.exec.Execute(context.Background(), enr, lead, camp)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTransient, outcome)
	assert.Equal(t, model.EnrollmentWaiting, enr.State)
	assert.Contains(t, enr.LastError, "rate limited")
}

type fakeEnricher struct {
	name string
	obs  *model.Observation
	err  error
}

func (f *fakeEnricher) Name() string { return f.name }

func (f *fakeEnricher) Enrich(_ context.Context, _ adapter.IdentityHints) (*model.Observation, error) {
	return f.obs, f.err
}

func TestExecute_EnrichFoldsObservation(t *testing.T) {
	env := newExecEnv(t)
	env.registry.RegisterEnricher(&fakeEnricher{
		name: "hunter",
		obs: &model.Observation{
			Source: "hunter", ObservedAt: execNow, Confidence: 0.8,
			Fields: map[string]any{"city": "Austin", "phone": "555-0100"},
		},
	})
	lead := env.seedLead(t, map[string]any{"email": "jo@acme.com"})
	camp := env.seedCampaign(t, []model.Step{
		{Name: "enrich", Action: model.ActionEnrich},
		{Name: "intro", Action: model.ActionSend, Channel: "email", Body: "hi", DelayAfterPrevious: time.Hour},
	})
	enr := env.seedActive(t, 0)

	outcome, err := env.exec.Execute(context.Background(), enr, lead, camp)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, outcome)
	assert.Equal(t, "Austin", lead.StringValue("city"))
	assert.Equal(t, model.EnrollmentWaiting, enr.State)

	stored, err := env.store.GetLead(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, "555-0100", stored.StringValue("phone"))
}

func TestExecute_EnrichNotFoundIsPermanent(t *testing.T) {
	env := newExecEnv(t)
	env.registry.RegisterEnricher(&fakeEnricher{name: "hunter", err: adapter.ErrNotFound})
	lead := env.seedLead(t, map[string]any{"email": "jo@acme.com"})
	camp := env.seedCampaign(t, []model.Step{{Name: "enrich", Action: model.ActionEnrich}})
	enr := env.seedActive(t, 0)

	outcome, err := env.exec.Execute(context.Background(), enr, lead, camp)
	require.NoError(t, err)
	assert.Equal(t, OutcomePermanent, outcome)
	assert.Equal(t, model.EnrollmentFailed, enr.State)
}

type fakeScraper struct {
	name   string
	obs    *model.Observation
	err    error
	target string
}

func (f *fakeScraper) Name() string { return f.name }

func (f *fakeScraper) Scrape(_ context.Context, target string) (*model.Observation, error) {
	f.target = target
	return f.obs, f.err
}

func TestExecute_ScrapeFoldsObservation(t *testing.T) {
	env := newExecEnv(t)
	scraper := &fakeScraper{
		name: "web",
		obs: &model.Observation{
			Source: "scrape", ObservedAt: execNow, Confidence: 0.5,
			Fields: map[string]any{"phone": "555-0199"},
		},
	}
	env.registry.RegisterScraper(scraper)
	lead := env.seedLead(t, map[string]any{"email": "jo@acme.com", "website": "https://acme.com"})
	camp := env.seedCampaign(t, []model.Step{{Name: "scrape", Action: model.ActionScrape}})
	enr := env.seedActive(t, 0)

	outcome, err := env.exec.Execute(context.Background(), enr, lead, camp)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, outcome)
	assert.Equal(t, "https://acme.com", scraper.target)
	assert.Equal(t, "555-0199", lead.StringValue("phone"))
	assert.Equal(t, model.EnrollmentCompleted, enr.State)
}

func TestExecute_ScrapeProviderStepUsesLeadWebsite(t *testing.T) {
	env := newExecEnv(t)
	scraper := &fakeScraper{
		name: "web",
		obs:  &model.Observation{Source: "scrape", ObservedAt: execNow, Confidence: 0.5},
	}
	env.registry.RegisterScraper(scraper)
	env.registry.RegisterScraper(&fakeScraper{name: "maps"})
	lead := env.seedLead(t, map[string]any{"email": "jo@acme.com", "website": "https://acme.com"})
	camp := env.seedCampaign(t, []model.Step{
		{Name: "scrape", Action: model.ActionScrape, Provider: "web"},
	})
	enr := env.seedActive(t, 0)

	outcome, err := env.exec.Execute(context.Background(), enr, lead, camp)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, outcome)
	// The provider name selects the scraper; the page it fetches is the
	// lead's website, not the provider name.
	assert.Equal(t, "https://acme.com", scraper.target)
}

func TestExecute_ScrapeRendersTargetTemplate(t *testing.T) {
	env := newExecEnv(t)
	scraper := &fakeScraper{
		name: "web",
		obs:  &model.Observation{Source: "scrape", ObservedAt: execNow, Confidence: 0.5},
	}
	env.registry.RegisterScraper(scraper)
	lead := env.seedLead(t, map[string]any{"email": "jo@acme.com", "website": "https://acme.com"})
	camp := env.seedCampaign(t, []model.Step{
		{Name: "scrape", Action: model.ActionScrape, Target: "{{website}}/contact"},
	})
	enr := env.seedActive(t, 0)

	outcome, err := env.exec.Execute(context.Background(), enr, lead, camp)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, outcome)
	assert.Equal(t, "https://acme.com/contact", scraper.target)
}

func TestExecute_ScrapeWithoutTargetOrWebsiteFails(t *testing.T) {
	env := newExecEnv(t)
	scraper := &fakeScraper{name: "web"}
	env.registry.RegisterScraper(scraper)
	lead := env.seedLead(t, map[string]any{"email": "jo@acme.com"})
	camp := env.seedCampaign(t, []model.Step{{Name: "scrape", Action: model.ActionScrape}})
	enr := env.seedActive(t, 0)

	outcome, err := env.exec.Execute(context.Background(), enr, lead, camp)
	require.NoError(t, err)
	assert.Equal(t, OutcomePermanent, outcome)
	assert.Equal(t, model.EnrollmentFailed, enr.State)
	assert.Contains(t, enr.LastError, "no target")
	assert.Empty(t, scraper.target)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "success", OutcomeSuccess.String())
	assert.Equal(t, "transient", OutcomeTransient.String())
	assert.Equal(t, "permanent", OutcomePermanent.String())
	assert.Equal(t, "unknown", Outcome(9).String())
}
