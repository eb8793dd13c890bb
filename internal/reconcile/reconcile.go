// Package reconcile diffs a session's fetched listing against the stored
// view of a source and derives lifecycle transitions.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"jobwatch/watcher-service/internal/model"
	"jobwatch/watcher-service/internal/store"
)

// Outcome summarizes one reconciliation run. Changed carries exactly the
// postings transitioned to new or updated — the matching engine's input.
// Unchanged and expired postings are not in it.
type Outcome struct {
	Changed []model.Posting
	New     int
	Updated int
	Expired int
}

// Reconciler applies listings to the store. It assumes the caller holds
// the source's session lock: reconciliations for one source never run
// concurrently.
type Reconciler struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Reconciler. A nil clock defaults to time.Now.
func New(st store.Store, logger *slog.Logger, clock func() time.Time) *Reconciler {
	if clock == nil {
		clock = time.Now
	}
	return &Reconciler{store: st, logger: logger, now: clock}
}

// Apply reconciles the canonical postings of one session against the
// source's active postings. When complete is false the listing may be
// truncated, so absence proves nothing and nothing is expired.
//
// Upserts are individually transactional: an error mid-run leaves a
// consistent prefix committed and is reported to the caller.
func (r *Reconciler) Apply(ctx context.Context, sourceID string, seen []model.Posting, complete bool) (Outcome, error) {
	known, err := r.store.ActivePostings(ctx, sourceID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load active postings for %s: %w", sourceID, err)
	}

	now := r.now().UTC()
	var out Outcome
	seenIDs := make(map[string]bool, len(seen))

	for i := range seen {
		p := seen[i]
		if seenIDs[p.ExternalID] {
			// Same key twice in one listing; first occurrence wins.
			continue
		}
		seenIDs[p.ExternalID] = true

		existing, ok := known[p.ExternalID]
		switch {
		case !ok:
			// Not in the active set. Either genuinely new or a
			// reactivation of an expired posting; both get a fresh
			// identity since the source may have reassigned the key.
			p.State = model.PostingNew
			p.FirstSeenAt = now
			p.LastSeenAt = now
			if err := r.store.UpsertPosting(ctx, &p); err != nil {
				return out, err
			}
			out.New++
			out.Changed = append(out.Changed, p)

		case existing.ContentHash != p.ContentHash:
			p.ID = existing.ID
			p.State = model.PostingUpdated
			p.FirstSeenAt = existing.FirstSeenAt
			p.LastSeenAt = now
			if err := r.store.UpsertPosting(ctx, &p); err != nil {
				return out, err
			}
			out.Updated++
			out.Changed = append(out.Changed, p)

		default:
			// Content unchanged: only the sighting timestamp advances.
			existing.State = model.PostingActive
			existing.LastSeenAt = now
			if err := r.store.UpsertPosting(ctx, &existing); err != nil {
				return out, err
			}
		}
	}

	if !complete {
		// An interrupted listing must never be used to infer absence.
		r.logger.Info("partial listing, skipping expiry",
			"source_id", sourceID, "seen", len(seen), "known", len(known))
		return out, nil
	}

	var missing []string
	for externalID := range known {
		if !seenIDs[externalID] {
			missing = append(missing, externalID)
		}
	}
	if len(missing) > 0 {
		if err := r.store.MarkExpired(ctx, sourceID, missing, now); err != nil {
			return out, err
		}
		out.Expired = len(missing)
	}
	return out, nil
}
