// Package dedupe guarantees at most one lead per identity fingerprint.
// Fingerprints are exact normalized keys; fuzzy matching is a pluggable
// pre-step that produces the fingerprint, not a concern here.
package dedupe

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/reconcile"
	"github.com/sells-group/outreach-engine/internal/store"
)

// Index resolves fingerprints to canonical lead IDs and admits new
// observations, merging into an existing lead when the fingerprint is
// already taken.
type Index struct {
	store      store.Store
	reconciler *reconcile.Reconciler
	now        func() time.Time
}

// NewIndex creates a dedup index over the given store.
func NewIndex(s store.Store, r *reconcile.Reconciler) *Index {
	return &Index{store: s, reconciler: r, now: time.Now}
}

// WithNow fixes the clock for testing.
func (i *Index) WithNow(now func() time.Time) *Index {
	i.now = now
	return i
}

// Resolve returns the canonical lead ID for a fingerprint, or
// store.ErrNotFound.
func (i *Index) Resolve(ctx context.Context, fingerprint string) (string, error) {
	return i.store.ResolveFingerprint(ctx, fingerprint)
}

// Register atomically binds a fingerprint to a lead ID. Returns
// store.ErrAlreadyExists when the fingerprint belongs to another lead;
// the caller merges into that lead instead of creating a new one.
func (i *Index) Register(ctx context.Context, fingerprint, leadID string) error {
	return i.store.RegisterFingerprint(ctx, fingerprint, leadID)
}

// Admit reconciles observations into the canonical lead for their
// identity, creating the lead if the fingerprint is new. Returns the lead
// and whether it was newly created. Losing a registration race is
// recovered by merging into the winner's lead.
func (i *Index) Admit(ctx context.Context, observations []model.Observation) (*model.Lead, bool, error) {
	draft, err := i.reconciler.Reconcile(nil, observations)
	if err != nil {
		return nil, false, err
	}
	if draft.Fingerprint == "" {
		return nil, false, eris.New("dedupe: observations carry no identity fields")
	}

	existingID, err := i.Resolve(ctx, draft.Fingerprint)
	switch {
	case err == nil:
		lead, err := i.MergeInto(ctx, existingID, observations)
		return lead, false, err
	case errors.Is(err, store.ErrNotFound):
		// fall through to create
	default:
		return nil, false, err
	}

	draft.ID = uuid.New().String()
	if err := i.store.CreateLead(ctx, draft); err != nil {
		return nil, false, err
	}

	if err := i.Register(ctx, draft.Fingerprint, draft.ID); err != nil {
		if !errors.Is(err, store.ErrAlreadyExists) {
			return nil, false, err
		}
		// Another worker registered the fingerprint between our resolve
		// and register. Merge into the winner and discard our draft so
		// the fingerprint keeps exactly one lead behind it.
		winnerID, rerr := i.Resolve(ctx, draft.Fingerprint)
		if rerr != nil {
			return nil, false, rerr
		}
		if derr := i.store.DeleteLead(ctx, draft.ID); derr != nil {
			zap.L().Warn("dedupe: delete losing draft lead",
				zap.String("lead_id", draft.ID),
				zap.Error(derr),
			)
		}
		zap.L().Debug("dedupe: lost registration race, merging",
			zap.String("fingerprint", draft.Fingerprint),
			zap.String("winner", winnerID),
		)
		lead, merr := i.MergeInto(ctx, winnerID, observations)
		return lead, false, merr
	}

	zap.L().Info("dedupe: new lead admitted",
		zap.String("lead_id", draft.ID),
		zap.String("fingerprint", draft.Fingerprint),
	)
	return draft, true, nil
}

// MergeInto loads a lead, reconciles the observations into it, and
// persists the result. An identity change re-registers the new
// fingerprint before releasing the old one.
func (i *Index) MergeInto(ctx context.Context, leadID string, observations []model.Observation) (*model.Lead, error) {
	lead, err := i.store.GetLead(ctx, leadID)
	if err != nil {
		return nil, err
	}
	oldFingerprint := lead.Fingerprint

	lead, err = i.reconciler.Reconcile(lead, observations)
	if err != nil {
		return nil, err
	}

	if lead.Fingerprint != oldFingerprint && lead.Fingerprint != "" {
		if err := i.Register(ctx, lead.Fingerprint, lead.ID); err != nil {
			return nil, eris.Wrap(err, "dedupe: re-register fingerprint")
		}
		if oldFingerprint != "" {
			if err := i.store.ReleaseFingerprint(ctx, oldFingerprint); err != nil {
				return nil, err
			}
		}
	}

	if err := i.store.UpdateLead(ctx, lead); err != nil {
		return nil, err
	}
	return lead, nil
}
