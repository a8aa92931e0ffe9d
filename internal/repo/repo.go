package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"workopilot/internal/domain"
	"workopilot/internal/events"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Repo struct {
	DB  DBTX
	Now func() time.Time
}

var ErrNotFound = errors.New("not found")

// WithTx returns a Repo that runs every statement inside tx.
func (r Repo) WithTx(tx *sql.Tx) Repo {
	return Repo{DB: tx, Now: r.Now}
}

func (r Repo) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// AppendLog writes one audit row.
func (r Repo) AppendLog(ctx context.Context, e events.Entry) error {
	return events.Writer{Now: r.now}.Append(ctx, r.DB, e)
}

func (r Repo) InsertProject(ctx context.Context, p domain.Project) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO projects(id,name,path,created_at) VALUES (?,?,?,?)`,
		p.ID, p.Name, nullable(p.Path), p.CreatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	var p domain.Project
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,COALESCE(path,''),created_at FROM projects WHERE id=?`, id).
		Scan(&p.ID, &p.Name, &p.Path, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,COALESCE(path,''),created_at FROM projects ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Path, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// marshalList stores empty lists as NULL.
func marshalList(in []string) (any, error) {
	if len(in) == 0 {
		return nil, nil
	}
	return marshalJSON(in)
}

func unmarshalList(ns sql.NullString) []string {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(ns.String), &out); err != nil {
		return []string{ns.String}
	}
	return out
}

// unmarshalText reads a JSON-encoded string column, falling back to the raw
// value for rows written as plain text.
func unmarshalText(raw string) string {
	var s string
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return raw
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
