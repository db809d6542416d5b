package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/sakif/community-library/internal/apperror"
	"github.com/sakif/community-library/internal/repository"
)

var _ repository.Tx = (*tx)(nil)

// tx adapts *sql.Tx to repository.Tx. All statements are parameterised; the
// collection name is a value, never spliced into SQL.
type tx struct {
	ctx   context.Context
	sqlTx *sql.Tx
}

func (t *tx) Get(collection, id string, dst any) (int64, error) {
	var (
		version int64
		body    string
	)
	err := t.sqlTx.QueryRowContext(t.ctx,
		`SELECT version, body FROM documents WHERE collection = ? AND id = ?`,
		collection, id,
	).Scan(&version, &body)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, apperror.NotFound(repository.Resource(collection), id)
		}
		return 0, fmt.Errorf("sqlite: getting %s/%s: %w", collection, id, err)
	}

	if err := json.Unmarshal([]byte(body), dst); err != nil {
		return 0, fmt.Errorf("sqlite: decoding %s/%s: %w", collection, id, err)
	}
	return version, nil
}

func (t *tx) Put(collection, id string, doc any) (int64, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return 0, fmt.Errorf("sqlite: encoding %s/%s: %w", collection, id, err)
	}

	prev, err := t.version(collection, id)
	if err != nil {
		return 0, err
	}
	version := repository.NextVersion(prev)

	// UPSERT: insert, or replace body and version when the key exists.
	_, err = t.sqlTx.ExecContext(t.ctx,
		`INSERT INTO documents (collection, id, version, body, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (collection, id) DO UPDATE SET
		   version    = excluded.version,
		   body       = excluded.body,
		   updated_at = excluded.updated_at`,
		collection, id, version, string(body), time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: putting %s/%s: %w", collection, id, err)
	}
	return version, nil
}

func (t *tx) Delete(collection, id string) (int64, error) {
	prev, err := t.version(collection, id)
	if err != nil {
		return 0, err
	}
	if prev == 0 {
		return 0, apperror.NotFound(repository.Resource(collection), id)
	}

	_, err = t.sqlTx.ExecContext(t.ctx,
		`DELETE FROM documents WHERE collection = ? AND id = ?`,
		collection, id,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: deleting %s/%s: %w", collection, id, err)
	}
	return prev, nil
}

// Scan reads the whole collection before calling fn, so fn may issue further
// statements on the same transaction (there is only one connection).
func (t *tx) Scan(collection string, fn func(id string, version int64, decode repository.DecodeFunc) error) error {
	rows, err := t.sqlTx.QueryContext(t.ctx,
		`SELECT id, version, body FROM documents WHERE collection = ? ORDER BY id`,
		collection,
	)
	if err != nil {
		return fmt.Errorf("sqlite: scanning %s: %w", collection, err)
	}

	type row struct {
		id      string
		version int64
		body    string
	}
	var all []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.version, &r.body); err != nil {
			rows.Close()
			return fmt.Errorf("sqlite: scanning %s row: %w", collection, err)
		}
		all = append(all, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("sqlite: iterating %s: %w", collection, err)
	}
	rows.Close()

	for _, r := range all {
		body := r.body
		decode := func(dst any) error {
			if err := json.Unmarshal([]byte(body), dst); err != nil {
				return fmt.Errorf("sqlite: decoding %s/%s: %w", collection, r.id, err)
			}
			return nil
		}
		if err := fn(r.id, r.version, decode); err != nil {
			return err
		}
	}
	return nil
}

// version returns the stored version, or 0 when the document does not exist.
func (t *tx) version(collection, id string) (int64, error) {
	var version int64
	err := t.sqlTx.QueryRowContext(t.ctx,
		`SELECT version FROM documents WHERE collection = ? AND id = ?`,
		collection, id,
	).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite: reading version of %s/%s: %w", collection, id, err)
	}
	return version, nil
}
