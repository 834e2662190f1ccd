package database

import (
	"context"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/ubuntu/decorate"
)

// StoredObject is a saved object row. Doc is the raw JSON document.
type StoredObject struct {
	ID        string
	Type      string
	Namespace string
	Doc       []byte
	UpdatedAt time.Time
	Version   int64
}

// ObjectKey identifies a saved object row. Objects of the default namespace have an empty namespace.
type ObjectKey struct {
	Type      string
	ID        string
	Namespace string
}

func (k ObjectKey) where() sq.Eq {
	return sq.Eq{"type": k.Type, "id": k.ID, "namespace": k.Namespace}
}

// GetObject returns the saved object with the given key.
func (db *Manager) GetObject(ctx context.Context, key ObjectKey) (StoredObject, error) {
	pool, ctx, cancel, err := db.pool(ctx)
	if err != nil {
		return StoredObject{}, err
	}
	defer cancel()

	query, args, err := psql.Select("doc", "updated_at", "version").
		From(savedObjectsTable).
		Where(key.where()).
		ToSql()
	if err != nil {
		return StoredObject{}, wrapErr("build query", err)
	}

	obj := StoredObject{ID: key.ID, Type: key.Type, Namespace: key.Namespace}
	err = pool.QueryRow(ctx, query, args...).Scan(&obj.Doc, &obj.UpdatedAt, &obj.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return StoredObject{}, ErrNotFound
	}
	if err != nil {
		return StoredObject{}, wrapErr("get saved object", err)
	}
	return obj, nil
}

// InsertObject stores a new saved object and returns its version.
//
// When overwrite is false, inserting an existing object fails with ErrConflict. Otherwise the
// existing document is replaced and its version incremented.
func (db *Manager) InsertObject(ctx context.Context, key ObjectKey, doc []byte, updatedAt time.Time, overwrite bool) (int64, error) {
	pool, ctx, cancel, err := db.pool(ctx)
	if err != nil {
		return 0, err
	}
	defer cancel()

	suffix := "RETURNING version"
	if overwrite {
		suffix = `ON CONFLICT (type, id, namespace) DO UPDATE SET
			doc = EXCLUDED.doc,
			updated_at = EXCLUDED.updated_at,
			version = ` + savedObjectsTable + `.version + 1
		RETURNING version`
	}

	query, args, err := psql.Insert(savedObjectsTable).
		Columns("id", "type", "namespace", "doc", "updated_at", "version").
		Values(key.ID, key.Type, key.Namespace, doc, updatedAt, 1).
		Suffix(suffix).
		ToSql()
	if err != nil {
		return 0, wrapErr("build query", err)
	}

	var version int64
	err = pool.QueryRow(ctx, query, args...).Scan(&version)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return 0, ErrConflict
	}
	if err != nil {
		return 0, wrapErr("insert saved object", err)
	}
	return version, nil
}

// UpdateObject replaces the document of an existing saved object and returns its new version.
// If version is not zero, the update only happens when the stored version matches it.
func (db *Manager) UpdateObject(ctx context.Context, key ObjectKey, doc []byte, updatedAt time.Time, version int64) (int64, error) {
	pool, ctx, cancel, err := db.pool(ctx)
	if err != nil {
		return 0, err
	}
	defer cancel()

	where := sq.And{key.where()}
	if version != 0 {
		where = append(where, sq.Eq{"version": version})
	}

	query, args, err := psql.Update(savedObjectsTable).
		Set("doc", doc).
		Set("updated_at", updatedAt).
		Set("version", sq.Expr("version + 1")).
		Where(where).
		Suffix("RETURNING version").
		ToSql()
	if err != nil {
		return 0, wrapErr("build query", err)
	}

	var newVersion int64
	err = pool.QueryRow(ctx, query, args...).Scan(&newVersion)
	if errors.Is(err, pgx.ErrNoRows) {
		if version != 0 {
			return 0, ErrConflict
		}
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, wrapErr("update saved object", err)
	}
	return newVersion, nil
}

// DeleteObject removes a saved object.
func (db *Manager) DeleteObject(ctx context.Context, key ObjectKey) error {
	pool, ctx, cancel, err := db.pool(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	query, args, err := psql.Delete(savedObjectsTable).Where(key.where()).ToSql()
	if err != nil {
		return wrapErr("build query", err)
	}

	tag, err := pool.Exec(ctx, query, args...)
	if err != nil {
		return wrapErr("delete saved object", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListObjects returns every saved object of the given types, in all namespaces, ordered by type and id.
func (db *Manager) ListObjects(ctx context.Context, types []string) (_ []StoredObject, err error) {
	defer decorate.OnError(&err, "could not list saved objects of types %v", types)

	pool, ctx, cancel, err := db.pool(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	query, args, err := psql.Select("id", "type", "namespace", "doc", "updated_at", "version").
		From(savedObjectsTable).
		Where(sq.Eq{"type": types}).
		OrderBy("type", "id", "namespace").
		ToSql()
	if err != nil {
		return nil, wrapErr("build query", err)
	}

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list saved objects", err)
	}
	objs, err := pgx.CollectRows(rows, pgx.RowToStructByPos[StoredObject])
	if err != nil {
		return nil, wrapErr("read saved objects", err)
	}
	return objs, nil
}
