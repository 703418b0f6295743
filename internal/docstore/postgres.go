package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/google/uuid"
)

// Postgres keeps every document in a single JSONB table keyed by
// (collection, id) with a bigint revision column. Equality filters use the
// ->> text operator; sorts use -> so JSONB ordering compares numbers
// numerically.
type Postgres struct {
	db *sql.DB
}

const pgUniqueViolation = "23505"

var fieldNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// OpenPostgres connects with the service's pool settings and verifies the
// connection.
func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Postgres{db: db}, nil
}

func (p *Postgres) Get(ctx context.Context, collection, id string, out any) (Revision, error) {
	var rev int64
	var raw []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT rev, doc FROM documents WHERE collection = $1 AND id = $2`,
		collection, id,
	).Scan(&rev, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return 0, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return Revision(rev), nil
}

func (p *Postgres) Find(ctx context.Context, collection string, filter Filter, sortBy []SortField, out any) error {
	var query strings.Builder
	query.WriteString(`SELECT doc FROM documents WHERE collection = $1`)
	args := []any{collection}

	keys := make([]string, 0, len(filter))
	for key := range filter {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if !fieldNameRe.MatchString(key) {
			return fmt.Errorf("find in %s: invalid filter field %q", collection, key)
		}
		args = append(args, fmt.Sprint(filter[key]))
		fmt.Fprintf(&query, ` AND doc->>'%s' = $%d`, key, len(args))
	}

	if len(sortBy) > 0 {
		query.WriteString(` ORDER BY `)
		for i, field := range sortBy {
			if !fieldNameRe.MatchString(field.Field) {
				return fmt.Errorf("find in %s: invalid sort field %q", collection, field.Field)
			}
			if i > 0 {
				query.WriteString(`, `)
			}
			direction := `ASC`
			if field.Desc {
				direction = `DESC`
			}
			fmt.Fprintf(&query, `doc->'%s' %s`, field.Field, direction)
		}
	}

	rows, err := p.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return fmt.Errorf("find in %s: %w", collection, err)
	}
	defer rows.Close()

	var raws []json.RawMessage
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return fmt.Errorf("scan row in %s: %w", collection, err)
		}
		raws = append(raws, json.RawMessage(raw))
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate %s: %w", collection, err)
	}
	return decodeSlice(raws, out)
}

func (p *Postgres) Insert(ctx context.Context, collection, id string, doc any) (string, Revision, error) {
	if id == "" {
		id = uuid.NewString()
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", 0, fmt.Errorf("encode document for %s: %w", collection, err)
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO documents(collection, id, rev, doc) VALUES($1, $2, 1, $3)`,
		collection, id, raw,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return "", 0, ErrDuplicateID
		}
		return "", 0, fmt.Errorf("insert %s/%s: %w", collection, id, err)
	}
	return id, 1, nil
}

func (p *Postgres) Update(ctx context.Context, collection, id string, rev Revision, doc any) (Revision, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return 0, fmt.Errorf("encode document %s/%s: %w", collection, id, err)
	}
	var newRev int64
	err = p.db.QueryRowContext(ctx,
		`UPDATE documents SET rev = rev + 1, doc = $4
		 WHERE collection = $1 AND id = $2 AND rev = $3
		 RETURNING rev`,
		collection, id, int64(rev), raw,
	).Scan(&newRev)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, p.missingOrStale(ctx, collection, id)
	}
	if err != nil {
		return 0, fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	return Revision(newRev), nil
}

func (p *Postgres) Delete(ctx context.Context, collection, id string, rev Revision) error {
	var result sql.Result
	var err error
	if rev == 0 {
		result, err = p.db.ExecContext(ctx,
			`DELETE FROM documents WHERE collection = $1 AND id = $2`,
			collection, id,
		)
	} else {
		result, err = p.db.ExecContext(ctx,
			`DELETE FROM documents WHERE collection = $1 AND id = $2 AND rev = $3`,
			collection, id, int64(rev),
		)
	}
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	if affected == 0 {
		if rev == 0 {
			return ErrNotFound
		}
		return p.missingOrStale(ctx, collection, id)
	}
	return nil
}

func (p *Postgres) missingOrStale(ctx context.Context, collection, id string) error {
	var exists bool
	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM documents WHERE collection = $1 AND id = $2)`,
		collection, id,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check %s/%s: %w", collection, id, err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}

func (p *Postgres) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return p.db.PingContext(pingCtx)
}

func (p *Postgres) Close(ctx context.Context) error {
	return p.db.Close()
}
