// Package postgres is the pgx-backed store adapter.
//
// Schema (managed externally):
//
//	endpoints(id text pk, name text unique, url text, method text,
//	          interval_seconds int, timeout_seconds int, expected_status int,
//	          headers jsonb, body bytea, active bool,
//	          created_at timestamptz, updated_at timestamptz)
//	results(id bigserial pk, endpoint_id text, success bool, http_status int,
//	        latency_ms double precision, category text, message text,
//	        checked_at timestamptz)
//	notification_log(id bigserial pk, endpoint_id text, channel text,
//	        status text, message text, error text, sent_at timestamptz)
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hamed0406/apimonitor/internal/domain"
	"github.com/hamed0406/apimonitor/internal/repo"
)

type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func New(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{pool: pool, log: log}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// ---- EndpointStore ----

func (s *Store) Add(ctx context.Context, e *domain.Endpoint) error {
	if e.ID == "" {
		e.ID = domain.EndpointID(uuid.NewString())
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	headers, err := json.Marshal(e.Headers)
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO endpoints
		   (id, name, url, method, interval_seconds, timeout_seconds,
		    expected_status, headers, body, active, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		string(e.ID), e.Name, e.URL, e.Method,
		int(e.Interval.Seconds()), int(e.Timeout.Seconds()),
		e.ExpectedStatus, headers, e.Body, e.Active, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert endpoint: %w", err)
	}
	return nil
}

const endpointCols = `id, name, url, method, interval_seconds, timeout_seconds,
	expected_status, headers, body, active, created_at, updated_at`

func scanEndpoint(row pgx.Row) (*domain.Endpoint, error) {
	var (
		e                   domain.Endpoint
		id                  string
		intervalS, timeoutS int
		headers             []byte
	)
	err := row.Scan(&id, &e.Name, &e.URL, &e.Method, &intervalS, &timeoutS,
		&e.ExpectedStatus, &headers, &e.Body, &e.Active, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.ID = domain.EndpointID(id)
	e.Interval = time.Duration(intervalS) * time.Second
	e.Timeout = time.Duration(timeoutS) * time.Second
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &e.Headers); err != nil {
			return nil, fmt.Errorf("unmarshal headers: %w", err)
		}
	}
	return &e, nil
}

func (s *Store) Get(ctx context.Context, id domain.EndpointID) (*domain.Endpoint, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+endpointCols+` FROM endpoints WHERE id = $1`, string(id))
	e, err := scanEndpoint(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get endpoint: %w", err)
	}
	return e, nil
}

func (s *Store) list(ctx context.Context, query string) ([]domain.Endpoint, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}
	defer rows.Close()

	var out []domain.Endpoint
	for rows.Next() {
		e, err := scanEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan endpoint: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (s *Store) List(ctx context.Context) ([]domain.Endpoint, error) {
	return s.list(ctx, `SELECT `+endpointCols+` FROM endpoints ORDER BY created_at DESC, id DESC`)
}

func (s *Store) ListActive(ctx context.Context) ([]domain.Endpoint, error) {
	return s.list(ctx, `SELECT `+endpointCols+` FROM endpoints WHERE active ORDER BY created_at DESC, id DESC`)
}

func (s *Store) Update(ctx context.Context, e *domain.Endpoint) error {
	e.UpdatedAt = time.Now().UTC()
	headers, err := json.Marshal(e.Headers)
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE endpoints
		    SET name=$2, url=$3, method=$4, interval_seconds=$5, timeout_seconds=$6,
		        expected_status=$7, headers=$8, body=$9, active=$10, updated_at=$11
		  WHERE id=$1`,
		string(e.ID), e.Name, e.URL, e.Method,
		int(e.Interval.Seconds()), int(e.Timeout.Seconds()),
		e.ExpectedStatus, headers, e.Body, e.Active, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update endpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id domain.EndpointID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM endpoints WHERE id=$1`, string(id))
	if err != nil {
		return fmt.Errorf("delete endpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// ---- ResultStore ----

func (s *Store) Append(ctx context.Context, r *domain.ProbeResult) error {
	var statusPtr *int
	if r.HTTPStatus != 0 {
		statusPtr = &r.HTTPStatus
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO results
		   (endpoint_id, success, http_status, latency_ms, category, message, checked_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		string(r.EndpointID), r.Success, statusPtr, r.LatencyMS,
		string(r.Category), r.Message, r.CheckedAt,
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

func (s *Store) ListSince(ctx context.Context, id domain.EndpointID, since time.Time) ([]domain.ProbeResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT endpoint_id, success, http_status, latency_ms, category, message, checked_at
		   FROM results
		  WHERE endpoint_id = $1 AND checked_at >= $2
		  ORDER BY checked_at ASC`,
		string(id), since,
	)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var out []domain.ProbeResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *Store) LastByEndpoint(ctx context.Context, id domain.EndpointID) (*domain.ProbeResult, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT endpoint_id, success, http_status, latency_ms, category, message, checked_at
		   FROM results
		  WHERE endpoint_id = $1
		  ORDER BY checked_at DESC
		  LIMIT 1`,
		string(id),
	)
	r, err := scanResult(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last result: %w", err)
	}
	return r, nil
}

func scanResult(row pgx.Row) (*domain.ProbeResult, error) {
	var (
		r        domain.ProbeResult
		id       string
		httpNull sql.NullInt32
		category string
	)
	err := row.Scan(&id, &r.Success, &httpNull, &r.LatencyMS, &category, &r.Message, &r.CheckedAt)
	if err != nil {
		return nil, err
	}
	r.EndpointID = domain.EndpointID(id)
	if httpNull.Valid {
		r.HTTPStatus = int(httpNull.Int32)
	}
	r.Category = domain.FailureCategory(category)
	return &r, nil
}

// ---- NotificationLogStore ----

func (s *Store) AppendNotification(ctx context.Context, rec *repo.NotificationRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO notification_log (endpoint_id, channel, status, message, error, sent_at)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		string(rec.EndpointID), rec.Channel, rec.Status, rec.Message, rec.Error, rec.SentAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification log: %w", err)
	}
	return nil
}

var (
	_ repo.EndpointStore        = (*Store)(nil)
	_ repo.ResultStore          = (*Store)(nil)
	_ repo.NotificationLogStore = (*Store)(nil)
)
