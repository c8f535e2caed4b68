package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// Postgres is the durable Store. Documents live in kv.documents as JSONB
// rows with a version column; CAS is a version-guarded UPDATE (or an INSERT
// with ON CONFLICT DO NOTHING for first writes). Conflicts retry with a
// short jittered backoff.
type Postgres struct {
	db          *sql.DB
	maxAttempts int

	OnConflict func(path string)
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, maxAttempts: DefaultMaxAttempts}
}

func (p *Postgres) Get(ctx context.Context, path string) ([]byte, bool, error) {
	data, _, found, err := p.read(ctx, path)
	return data, found, err
}

func (p *Postgres) read(ctx context.Context, path string) (data []byte, version int64, found bool, err error) {
	err = p.db.QueryRowContext(ctx,
		`SELECT doc, version FROM kv.documents WHERE path = $1`, path,
	).Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, fmt.Errorf("read %s: %w", path, err)
	}
	return data, version, true, nil
}

func (p *Postgres) CASUpdate(ctx context.Context, path string, fn Mutator) error {
	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if attempt > 0 {
			// Jitter keeps two hot writers from lockstepping.
			time.Sleep(time.Duration(1+rand.Intn(1<<min(attempt, 5))) * time.Millisecond)
		}

		data, version, found, err := p.read(ctx, path)
		if err != nil {
			return err
		}
		var current []byte
		if found {
			current = data
		}

		next, err := fn(current)
		if err != nil {
			if errors.Is(err, ErrNoChange) {
				return nil
			}
			return err
		}

		ok, err := p.write(ctx, path, next, version, found)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if p.OnConflict != nil {
			p.OnConflict(path)
		}
	}
	return ErrConflict
}

func (p *Postgres) write(ctx context.Context, path string, next []byte, version int64, found bool) (bool, error) {
	var res sql.Result
	var err error
	if found {
		res, err = p.db.ExecContext(ctx,
			`UPDATE kv.documents SET doc = $2, version = version + 1, updated_at = NOW()
			 WHERE path = $1 AND version = $3`,
			path, next, version,
		)
	} else {
		res, err = p.db.ExecContext(ctx,
			`INSERT INTO kv.documents (path, doc) VALUES ($1, $2)
			 ON CONFLICT (path) DO NOTHING`,
			path, next,
		)
	}
	if err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("write %s: rows affected: %w", path, err)
	}
	return n == 1, nil
}

func (p *Postgres) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT path FROM kv.documents WHERE path LIKE $1 || '%' ORDER BY path`, prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}
