package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"sigverify/api/internal/backend"
)

var ErrNotFound = sql.ErrNoRows

// HistoryRepo: журнал выполненных проверок подписи.
type HistoryRepo struct {
	DB      *sql.DB
	Dialect Dialect
	now     func() time.Time
}

func NewHistoryRepo(db *sql.DB, d Dialect) *HistoryRepo {
	return &HistoryRepo{DB: db, Dialect: d, now: time.Now}
}

// Analysis is one completed upload.
type Analysis struct {
	ID         int64
	CreatedAt  time.Time
	ResultID   string
	SessionID  string
	ImageHash  string
	FileName   string
	Valid      bool
	Confidence float64
	Data       backend.DashboardData
}

var schema = map[Dialect][]string{
	Postgres: {
		`create table if not exists signature_analyses (
  id bigserial primary key,
  created_at timestamptz not null,
  result_id text not null default '',
  session_id text not null,
  image_hash text not null,
  file_name text not null default '',
  is_valid boolean not null,
  confidence double precision not null,
  dashboard_json text not null
)`,
		`create index if not exists signature_analyses_session_idx on signature_analyses (session_id, created_at)`,
		`create index if not exists signature_analyses_result_idx on signature_analyses (result_id)`,
	},
	MySQL: {
		`create table if not exists signature_analyses (
  id bigint auto_increment primary key,
  created_at datetime(6) not null,
  result_id varchar(128) not null default '',
  session_id varchar(128) not null,
  image_hash char(64) not null,
  file_name varchar(255) not null default '',
  is_valid boolean not null,
  confidence double not null,
  dashboard_json longtext not null,
  index signature_analyses_session_idx (session_id, created_at),
  index signature_analyses_result_idx (result_id)
) character set utf8mb4`,
	},
}

// EnsureSchema создаёт таблицу, если её ещё нет.
func (r *HistoryRepo) EnsureSchema(ctx context.Context) error {
	stmts, ok := schema[r.Dialect]
	if !ok {
		return errors.Errorf("unknown dialect %q", r.Dialect)
	}
	for _, q := range stmts {
		if _, err := r.DB.ExecContext(ctx, q); err != nil {
			return errors.Wrap(err, "ensure schema")
		}
	}
	return nil
}

// Insert сохраняет проверку и заполняет ID и CreatedAt.
func (r *HistoryRepo) Insert(ctx context.Context, a *Analysis) error {
	js, err := json.Marshal(a.Data)
	if err != nil {
		return errors.Wrap(err, "encode dashboard data")
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = r.now().UTC()
	}
	q := `insert into signature_analyses (
  created_at, result_id, session_id, image_hash, file_name, is_valid, confidence, dashboard_json
) values (?,?,?,?,?,?,?,?)`
	args := []any{a.CreatedAt, a.ResultID, a.SessionID, a.ImageHash, a.FileName, a.Valid, a.Confidence, string(js)}

	if r.Dialect == Postgres {
		err := r.DB.QueryRowContext(ctx, Rebind(r.Dialect, q+" returning id"), args...).Scan(&a.ID)
		return errors.Wrap(err, "insert analysis")
	}
	res, err := r.DB.ExecContext(ctx, q, args...)
	if err != nil {
		return errors.Wrap(err, "insert analysis")
	}
	a.ID, err = res.LastInsertId()
	return errors.Wrap(err, "insert analysis: last id")
}

const selectAnalysis = `select id, created_at, result_id, session_id, image_hash, file_name, is_valid, confidence, dashboard_json
from signature_analyses `

type scanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(s scanner) (*Analysis, error) {
	var (
		a  Analysis
		js string
	)
	if err := s.Scan(&a.ID, &a.CreatedAt, &a.ResultID, &a.SessionID, &a.ImageHash, &a.FileName, &a.Valid, &a.Confidence, &js); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(js), &a.Data); err != nil {
		return nil, errors.Wrapf(err, "analysis %d: bad dashboard json", a.ID)
	}
	return &a, nil
}

// Recent возвращает последние проверки сессии, новые первыми.
func (r *HistoryRepo) Recent(ctx context.Context, sessionID string, limit int) ([]Analysis, error) {
	if limit <= 0 {
		limit = 10
	}
	q := Rebind(r.Dialect, selectAnalysis+`where session_id = ? order by created_at desc, id desc limit ?`)
	rows, err := r.DB.QueryContext(ctx, q, sessionID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "recent analyses")
	}
	defer rows.Close()

	var out []Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, errors.Wrap(rows.Err(), "recent analyses")
}

// FindByResultID достаёт самую свежую запись по handle сервиса.
func (r *HistoryRepo) FindByResultID(ctx context.Context, resultID string) (*Analysis, error) {
	if resultID == "" {
		return nil, ErrNotFound
	}
	q := Rebind(r.Dialect, selectAnalysis+`where result_id = ? order by created_at desc, id desc limit 1`)
	a, err := scanAnalysis(r.DB.QueryRowContext(ctx, q, resultID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

// PurgeOlderThan удаляет старые записи, чтобы не раздувать БД.
func (r *HistoryRepo) PurgeOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, errors.New("olderThan must be > 0")
	}
	cutoff := r.now().UTC().Add(-olderThan)
	res, err := r.DB.ExecContext(ctx, Rebind(r.Dialect, `delete from signature_analyses where created_at < ?`), cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "purge analyses")
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "purge analyses: rows affected")
	}
	return aff, nil
}
