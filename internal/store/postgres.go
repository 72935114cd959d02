package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"meetinghooks/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

// Migrate applies the embedded SQL migrations that have not run yet, in name order.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version text PRIMARY KEY, applied_at timestamptz NOT NULL DEFAULT now())`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		var exists bool
		if err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version=$1)`, name).Scan(&exists); err != nil {
			return err
		}
		if exists {
			continue
		}
		body, err := migrationsFS.ReadFile(name)
		if err != nil {
			return err
		}
		tx, err := p.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, name); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// ids are uuids in Postgres; anything else cannot exist
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

const subscriptionColumns = `id::text, organization_id, url, event_types, description, secret, is_active, failure_count, last_triggered_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (model.Subscription, error) {
	var (
		s      model.Subscription
		events []byte
		last   sql.NullTime
	)
	if err := row.Scan(&s.ID, &s.OrganizationID, &s.URL, &events, &s.Description, &s.SealedSecret, &s.IsActive, &s.FailureCount, &last, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return s, ErrNotFound
		}
		return s, err
	}
	if err := json.Unmarshal(events, &s.EventTypes); err != nil {
		return s, fmt.Errorf("decode event_types: %w", err)
	}
	if last.Valid {
		t := last.Time
		s.LastTriggeredAt = &t
	}
	return s, nil
}

func (p *Postgres) CreateSubscription(ctx context.Context, sub model.Subscription) error {
	ev, err := json.Marshal(sub.EventTypes)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO webhook_subscriptions (id, organization_id, url, event_types, description, secret, is_active, failure_count, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		sub.ID, sub.OrganizationID, sub.URL, ev, sub.Description, sub.SealedSecret, sub.IsActive, sub.FailureCount, sub.CreatedAt, sub.UpdatedAt)
	return err
}

func (p *Postgres) GetSubscription(ctx context.Context, id string) (model.Subscription, error) {
	if !validID(id) {
		return model.Subscription{}, ErrNotFound
	}
	return scanSubscription(p.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM webhook_subscriptions WHERE id=$1`, id))
}

func (p *Postgres) ListSubscriptions(ctx context.Context, orgID, cursor string, limit int) ([]model.Subscription, string, error) {
	limit = clampLimit(limit)
	var (
		rows *sql.Rows
		err  error
	)
	if cursor != "" {
		if !validID(cursor) {
			return nil, "", ErrBadCursor
		}
		rows, err = p.db.QueryContext(ctx, `SELECT `+subscriptionColumns+` FROM webhook_subscriptions WHERE organization_id=$1 AND id > $2 ORDER BY id LIMIT $3`, orgID, cursor, limit+1)
	} else {
		rows, err = p.db.QueryContext(ctx, `SELECT `+subscriptionColumns+` FROM webhook_subscriptions WHERE organization_id=$1 ORDER BY id LIMIT $2`, orgID, limit+1)
	}
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.Subscription{}
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	next := ""
	if len(out) > limit {
		out = out[:limit]
		next = out[limit-1].ID
	}
	return out, next, nil
}

func (p *Postgres) FindSubscriptions(ctx context.Context, orgID, eventType string) ([]model.Subscription, error) {
	filter, err := json.Marshal([]string{eventType})
	if err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx, `SELECT `+subscriptionColumns+` FROM webhook_subscriptions
        WHERE organization_id=$1 AND is_active AND event_types @> $2::jsonb ORDER BY created_at`, orgID, string(filter))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Subscription{}
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) UpdateSubscription(ctx context.Context, sub model.Subscription) (model.Subscription, error) {
	if !validID(sub.ID) {
		return model.Subscription{}, ErrNotFound
	}
	ev, err := json.Marshal(sub.EventTypes)
	if err != nil {
		return model.Subscription{}, err
	}
	return scanSubscription(p.db.QueryRowContext(ctx, `UPDATE webhook_subscriptions SET url=$2, event_types=$3, description=$4, updated_at=now()
        WHERE id=$1 RETURNING `+subscriptionColumns, sub.ID, sub.URL, ev, sub.Description))
}

func (p *Postgres) SetSubscriptionSecret(ctx context.Context, id, sealed string) error {
	if !validID(id) {
		return ErrNotFound
	}
	res, err := p.db.ExecContext(ctx, `UPDATE webhook_subscriptions SET secret=$2, updated_at=now() WHERE id=$1`, id, sealed)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (p *Postgres) SetSubscriptionActive(ctx context.Context, id string, active bool) (model.Subscription, error) {
	if !validID(id) {
		return model.Subscription{}, ErrNotFound
	}
	return scanSubscription(p.db.QueryRowContext(ctx, `UPDATE webhook_subscriptions
        SET is_active=$2, failure_count = CASE WHEN $2 THEN 0 ELSE failure_count END, updated_at=now()
        WHERE id=$1 RETURNING `+subscriptionColumns, id, active))
}

func (p *Postgres) DeleteSubscription(ctx context.Context, orgID, id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	// jobs and attempts go with the subscription through ON DELETE CASCADE
	res, err := p.db.ExecContext(ctx, `DELETE FROM webhook_subscriptions WHERE organization_id=$1 AND id=$2`, orgID, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (p *Postgres) RecordSubscriptionSuccess(ctx context.Context, id string, at time.Time) error {
	if !validID(id) {
		return ErrNotFound
	}
	res, err := p.db.ExecContext(ctx, `UPDATE webhook_subscriptions SET failure_count=0, last_triggered_at=$2, updated_at=now() WHERE id=$1`, id, at)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (p *Postgres) RecordSubscriptionFailure(ctx context.Context, id string, threshold int) (int, bool, error) {
	if !validID(id) {
		return 0, false, ErrNotFound
	}
	var (
		count  int
		active bool
	)
	err := p.db.QueryRowContext(ctx, `UPDATE webhook_subscriptions
        SET failure_count = failure_count + 1,
            is_active = CASE WHEN failure_count + 1 > $2 THEN false ELSE is_active END,
            updated_at = now()
        WHERE id=$1 RETURNING failure_count, is_active`, id, threshold).Scan(&count, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, ErrNotFound
	}
	return count, active, err
}

func (p *Postgres) CreateJob(ctx context.Context, job model.DeliveryJob) (bool, error) {
	res, err := p.db.ExecContext(ctx, `INSERT INTO webhook_jobs (id, subscription_id, organization_id, event_id, event_type, body, attempts, state, next_attempt_at, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)
        ON CONFLICT (subscription_id, event_id) DO NOTHING`,
		job.ID, job.SubscriptionID, job.OrganizationID, job.EventID, job.EventType, job.Body, job.Attempts, string(job.State), job.NextAttemptAt, job.CreatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (p *Postgres) UpdateJob(ctx context.Context, job model.DeliveryJob) error {
	_, err := p.db.ExecContext(ctx, `UPDATE webhook_jobs SET attempts=$2, state=$3, next_attempt_at=$4, updated_at=now() WHERE id=$1`,
		job.ID, job.Attempts, string(job.State), job.NextAttemptAt)
	return err
}

func (p *Postgres) ListOpenJobs(ctx context.Context, afterID string, limit int) ([]model.DeliveryJob, error) {
	if limit <= 0 {
		limit = 500
	}
	if afterID == "" {
		afterID = uuid.Nil.String()
	}
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, subscription_id::text, organization_id, event_id, event_type, body, attempts, state, next_attempt_at, created_at, updated_at
        FROM webhook_jobs WHERE state NOT IN ('succeeded','permanently_failed','dropped') AND id > $1 ORDER BY id LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.DeliveryJob{}
	for rows.Next() {
		var (
			j     model.DeliveryJob
			state string
		)
		if err := rows.Scan(&j.ID, &j.SubscriptionID, &j.OrganizationID, &j.EventID, &j.EventType, &j.Body, &j.Attempts, &state, &j.NextAttemptAt, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, err
		}
		j.State = model.JobState(state)
		out = append(out, j)
	}
	return out, rows.Err()
}

func (p *Postgres) PurgeJobs(ctx context.Context, before time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM webhook_jobs WHERE state IN ('succeeded','permanently_failed','dropped') AND updated_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// AppendAttempt records a. Attempts for a deleted subscription are discarded,
// as an in-flight delivery may finish after the delete.
func (p *Postgres) AppendAttempt(ctx context.Context, a model.DeliveryAttempt) error {
	if !validID(a.SubscriptionID) {
		return nil
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO webhook_delivery_attempts (id, subscription_id, event_id, event_type, attempt_number, http_status, success, latency_ms, error_detail, attempted_at, next_retry_at, is_test)
        SELECT $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
        WHERE EXISTS (SELECT 1 FROM webhook_subscriptions WHERE id=$2)`,
		a.ID, a.SubscriptionID, a.EventID, a.EventType, a.AttemptNumber, a.HTTPStatus, a.Success, a.LatencyMs, a.ErrorDetail, a.AttemptedAt, a.NextRetryAt, a.IsTest)
	if isForeignKeyViolation(err) {
		// deleted between the EXISTS check and the insert
		return nil
	}
	return err
}

// SQLSTATE foreign_key_violation
const pgForeignKeyViolation = "23503"

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation
}

func (p *Postgres) ListAttempts(ctx context.Context, subscriptionID, cursor string, limit int) ([]model.DeliveryAttempt, string, error) {
	limit = clampLimit(limit)
	if !validID(subscriptionID) {
		return []model.DeliveryAttempt{}, "", nil
	}
	const cols = `id::text, subscription_id::text, event_id, event_type, attempt_number, http_status, success, latency_ms, error_detail, attempted_at, next_retry_at, is_test`
	var (
		rows *sql.Rows
		err  error
	)
	if cursor != "" {
		at, id, derr := decodeAttemptCursor(cursor)
		if derr != nil || !validID(id) {
			return nil, "", ErrBadCursor
		}
		rows, err = p.db.QueryContext(ctx, `SELECT `+cols+` FROM webhook_delivery_attempts
            WHERE subscription_id=$1 AND (attempted_at, id) < ($2, $3::uuid)
            ORDER BY attempted_at DESC, id DESC LIMIT $4`, subscriptionID, at, id, limit+1)
	} else {
		rows, err = p.db.QueryContext(ctx, `SELECT `+cols+` FROM webhook_delivery_attempts
            WHERE subscription_id=$1 ORDER BY attempted_at DESC, id DESC LIMIT $2`, subscriptionID, limit+1)
	}
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.DeliveryAttempt{}
	for rows.Next() {
		var (
			a      model.DeliveryAttempt
			status sql.NullInt64
			detail sql.NullString
			next   sql.NullTime
		)
		if err := rows.Scan(&a.ID, &a.SubscriptionID, &a.EventID, &a.EventType, &a.AttemptNumber, &status, &a.Success, &a.LatencyMs, &detail, &a.AttemptedAt, &next, &a.IsTest); err != nil {
			return nil, "", err
		}
		if status.Valid {
			v := int(status.Int64)
			a.HTTPStatus = &v
		}
		if detail.Valid {
			a.ErrorDetail = &detail.String
		}
		if next.Valid {
			a.NextRetryAt = &next.Time
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	next := ""
	if len(out) > limit {
		out = out[:limit]
		next = encodeAttemptCursor(out[limit-1])
	}
	return out, next, nil
}

func (p *Postgres) PurgeAttempts(ctx context.Context, before time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM webhook_delivery_attempts WHERE attempted_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
