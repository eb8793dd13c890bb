package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"jobwatch/watcher-service/internal/model"
)

// Postgres implements Store on top of a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (s *Postgres) ActivePostings(ctx context.Context, sourceID string) (map[string]model.Posting, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, source_id, external_id, title, description, location, department,
		        employment_type, remote_type, url, posted_at, content_hash,
		        low_confidence_id, state, first_seen_at, last_seen_at, expired_at
		 FROM postings
		 WHERE source_id = $1 AND state <> 'expired'`,
		sourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("query active postings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]model.Posting)
	for rows.Next() {
		var p model.Posting
		var hash int64
		if err := rows.Scan(
			&p.ID, &p.SourceID, &p.ExternalID, &p.Title, &p.Description,
			&p.Location, &p.Department, &p.EmploymentType, &p.RemoteType,
			&p.URL, &p.PostedAt, &hash, &p.LowConfidenceID, &p.State,
			&p.FirstSeenAt, &p.LastSeenAt, &p.ExpiredAt,
		); err != nil {
			return nil, fmt.Errorf("scan posting: %w", err)
		}
		p.ContentHash = uint64(hash)
		out[p.ExternalID] = p
	}
	return out, rows.Err()
}

func (s *Postgres) UpsertPosting(ctx context.Context, p *model.Posting) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	// bigint column; the hash is stored bit-for-bit.
	err := s.pool.QueryRow(ctx,
		`INSERT INTO postings (id, source_id, external_id, title, description, location,
		                       department, employment_type, remote_type, url, posted_at,
		                       content_hash, low_confidence_id, state,
		                       first_seen_at, last_seen_at, expired_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		 ON CONFLICT (source_id, external_id) DO UPDATE SET
		   title = EXCLUDED.title,
		   description = EXCLUDED.description,
		   location = EXCLUDED.location,
		   department = EXCLUDED.department,
		   employment_type = EXCLUDED.employment_type,
		   remote_type = EXCLUDED.remote_type,
		   url = EXCLUDED.url,
		   posted_at = EXCLUDED.posted_at,
		   content_hash = EXCLUDED.content_hash,
		   low_confidence_id = EXCLUDED.low_confidence_id,
		   state = EXCLUDED.state,
		   first_seen_at = EXCLUDED.first_seen_at,
		   last_seen_at = EXCLUDED.last_seen_at,
		   expired_at = EXCLUDED.expired_at
		 RETURNING id`,
		p.ID, p.SourceID, p.ExternalID, p.Title, p.Description, p.Location,
		p.Department, p.EmploymentType, p.RemoteType, p.URL, p.PostedAt,
		int64(p.ContentHash), p.LowConfidenceID, p.State,
		p.FirstSeenAt, p.LastSeenAt, p.ExpiredAt,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("upsert posting (%s, %s): %w", p.SourceID, p.ExternalID, err)
	}
	return nil
}

func (s *Postgres) MarkExpired(ctx context.Context, sourceID string, externalIDs []string, at time.Time) error {
	if len(externalIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE postings
		 SET state = 'expired', expired_at = $3
		 WHERE source_id = $1 AND external_id = ANY($2) AND state <> 'expired'`,
		sourceID, externalIDs, at,
	)
	if err != nil {
		return fmt.Errorf("mark expired for source %s: %w", sourceID, err)
	}
	return nil
}

func (s *Postgres) CreateSession(ctx context.Context, sourceID string) (string, error) {
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO scrape_sessions (id, source_id, status, started_at, counts, errors)
		 VALUES ($1, $2, 'pending', NOW(), '{}'::jsonb, '[]'::jsonb)`,
		id, sourceID,
	)
	if err != nil {
		return "", fmt.Errorf("create session for source %s: %w", sourceID, err)
	}
	return id, nil
}

func (s *Postgres) UpdateSession(ctx context.Context, sessionID, status string, counts model.SessionCounts, errs []model.SessionError) error {
	countsJSON, err := json.Marshal(counts)
	if err != nil {
		return fmt.Errorf("marshal counts: %w", err)
	}
	if errs == nil {
		errs = []model.SessionError{}
	}
	errsJSON, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("marshal session errors: %w", err)
	}

	// Terminal rows are excluded from the UPDATE, making finished
	// sessions immutable at the storage layer.
	tag, err := s.pool.Exec(ctx,
		`UPDATE scrape_sessions
		 SET status = $2,
		     counts = $3::jsonb,
		     errors = $4::jsonb,
		     completed_at = CASE WHEN $2 IN ('completed', 'partial', 'failed') THEN NOW() ELSE completed_at END
		 WHERE id = $1 AND status NOT IN ('completed', 'partial', 'failed')`,
		sessionID, status, string(countsJSON), string(errsJSON),
	)
	if err != nil {
		return fmt.Errorf("update session %s: %w", sessionID, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM scrape_sessions WHERE id = $1)`, sessionID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check session %s: %w", sessionID, err)
		}
		if exists {
			return ErrSessionFinalized
		}
		return ErrSessionNotFound
	}
	return nil
}

func (s *Postgres) ActiveAlerts(ctx context.Context) ([]model.AlertRule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, sources, keywords, excluded_keywords, locations, departments,
		        employment_types, remote_types, posted_within_days, match_description
		 FROM alert_rules
		 WHERE is_active = true`,
	)
	if err != nil {
		return nil, fmt.Errorf("query alert_rules: %w", err)
	}
	defer rows.Close()

	var alerts []model.AlertRule
	for rows.Next() {
		var a model.AlertRule
		if err := rows.Scan(
			&a.ID, &a.Name, &a.Sources, &a.Keywords, &a.ExcludedKeywords,
			&a.Locations, &a.Departments, &a.EmploymentTypes, &a.RemoteTypes,
			&a.PostedWithinDays, &a.MatchDescription,
		); err != nil {
			return nil, fmt.Errorf("scan alert rule: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func (s *Postgres) MatchEventExists(ctx context.Context, alertID, postingID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM match_events WHERE alert_id = $1 AND posting_id = $2)`,
		alertID, postingID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("match event exists: %w", err)
	}
	return exists, nil
}

// RecordMatchEvent relies on the (alert_id, posting_id) primary key: the
// ON CONFLICT DO NOTHING makes concurrent duplicates race-safe.
func (s *Postgres) RecordMatchEvent(ctx context.Context, alertID, postingID string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO match_events (alert_id, posting_id, matched_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (alert_id, posting_id) DO NOTHING`,
		alertID, postingID, at,
	)
	if err != nil {
		return false, fmt.Errorf("record match event (%s, %s): %w", alertID, postingID, err)
	}
	return tag.RowsAffected() > 0, nil
}
