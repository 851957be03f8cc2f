// Package postgres implements storage.Store against PostgreSQL via pgx,
// the primary relational backend for multi-node deployments.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"

	"github.com/calstack/davcore/internal/storage"
	"github.com/calstack/davcore/internal/storage/migrations"
)

type Store struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// New opens a pooled connection to pgURL and applies any pending schema
// migrations before returning. Migrations run over a throwaway database/sql
// handle (pgx's stdlib adapter) since golang-migrate drives plain
// database/sql, independent of the pgxpool used for request traffic.
func New(ctx context.Context, pgURL string, logger zerolog.Logger) (storage.Store, error) {
	pool, err := pgxpool.New(ctx, pgURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	migrationDB := stdlib.OpenDB(*pool.Config().ConnConfig)
	migErr := migrations.Postgres(migrationDB)
	_ = migrationDB.Close()
	if migErr != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", migErr)
	}

	return &Store{pool: pool, logger: logger}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func (s *Store) GetPrincipalByID(ctx context.Context, id string) (*storage.Principal, error) {
	row := s.pool.QueryRow(ctx, `
		select id, slug, type, display_name, deleted_at
		from principals where id = $1`, id)
	return scanPrincipal(row)
}

func (s *Store) GetPrincipalBySlug(ctx context.Context, slug string) (*storage.Principal, error) {
	row := s.pool.QueryRow(ctx, `
		select id, slug, type, display_name, deleted_at
		from principals where slug = $1`, slug)
	return scanPrincipal(row)
}

func scanPrincipal(row pgx.Row) (*storage.Principal, error) {
	var p storage.Principal
	if err := row.Scan(&p.ID, &p.Slug, &p.Type, &p.DisplayName, &p.DeletedAt); err != nil {
		if isNoRows(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreatePrincipal(ctx context.Context, p *storage.Principal) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx, `
		insert into principals(id, slug, type, display_name)
		values ($1, $2, $3, $4)
		on conflict (slug) do update set display_name = excluded.display_name
	`, p.ID, p.Slug, p.Type, p.DisplayName)
	return err
}

func (s *Store) GroupsForPrincipal(ctx context.Context, principalID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `select group_slug from principal_groups where principal_id = $1`, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

const collectionCols = `id, owner_id, slug, parent_id, type, display_name, description, color, sync_token, created_at, updated_at, deleted_at`

func scanCollection(row pgx.Row) (*storage.Collection, error) {
	var c storage.Collection
	if err := row.Scan(&c.ID, &c.OwnerID, &c.Slug, &c.ParentID, &c.Type, &c.DisplayName, &c.Description, &c.Color, &c.SyncToken, &c.CreatedAt, &c.UpdatedAt, &c.DeletedAt); err != nil {
		if isNoRows(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) GetCollectionByID(ctx context.Context, id string) (*storage.Collection, error) {
	row := s.pool.QueryRow(ctx, `select `+collectionCols+` from collections where id = $1 and deleted_at is null`, id)
	return scanCollection(row)
}

func (s *Store) GetCollectionBySlug(ctx context.Context, ownerID string, parentID *string, slug string) (*storage.Collection, error) {
	row := s.pool.QueryRow(ctx, `
		select `+collectionCols+` from collections
		where owner_id = $1 and parent_id is not distinct from $2 and slug = $3 and deleted_at is null`,
		ownerID, parentID, slug)
	return scanCollection(row)
}

func (s *Store) CreateCollection(ctx context.Context, c *storage.Collection) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx, `
		insert into collections(id, owner_id, slug, parent_id, type, display_name, description, color)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, c.ID, c.OwnerID, c.Slug, c.ParentID, c.Type, c.DisplayName, c.Description, c.Color)
	return err
}

func (s *Store) UpdateCollection(ctx context.Context, c *storage.Collection) error {
	_, err := s.pool.Exec(ctx, `
		update collections
		set display_name = $1, description = $2, color = $3, updated_at = now()
		where id = $4
	`, c.DisplayName, c.Description, c.Color, c.ID)
	return err
}

func (s *Store) DeleteCollection(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `update collections set deleted_at = now() where id = $1`, id)
	return err
}

func (s *Store) ListChildCollections(ctx context.Context, ownerID string, parentID *string) ([]*storage.Collection, error) {
	rows, err := s.pool.Query(ctx, `
		select `+collectionCols+` from collections
		where owner_id = $1 and parent_id is not distinct from $2 and deleted_at is null
		order by slug`, ownerID, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*storage.Collection
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) ListInstances(ctx context.Context, collectionID string) ([]*storage.Instance, error) {
	rows, err := s.pool.Query(ctx, `
		select id, collection_id, entity_id, slug, content_type, etag, sync_revision, created_at, updated_at, deleted_at
		from instances where collection_id = $1 and deleted_at is null`, collectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*storage.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// BumpSyncToken increments the collection's sync token without writing a
// change-log row; PutInstance/DeleteInstance already bump-and-log in one
// transaction, so this is the harmless secondary ctag-style invalidation
// bump callers issue after a mutation completes.
func (s *Store) BumpSyncToken(ctx context.Context, collectionID string) (int64, error) {
	var token int64
	err := s.pool.QueryRow(ctx, `
		update collections set sync_token = sync_token + 1, updated_at = now()
		where id = $1
		returning sync_token
	`, collectionID).Scan(&token)
	return token, err
}

func scanInstance(row pgx.Row) (*storage.Instance, error) {
	var inst storage.Instance
	if err := row.Scan(&inst.ID, &inst.CollectionID, &inst.EntityID, &inst.Slug, &inst.ContentType, &inst.ETag, &inst.SyncRevision, &inst.CreatedAt, &inst.UpdatedAt, &inst.DeletedAt); err != nil {
		if isNoRows(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &inst, nil
}

func (s *Store) GetInstanceByID(ctx context.Context, id string) (*storage.Instance, error) {
	row := s.pool.QueryRow(ctx, `
		select id, collection_id, entity_id, slug, content_type, etag, sync_revision, created_at, updated_at, deleted_at
		from instances where id = $1 and deleted_at is null`, id)
	return scanInstance(row)
}

func (s *Store) GetInstanceBySlug(ctx context.Context, collectionID, slug string) (*storage.Instance, error) {
	row := s.pool.QueryRow(ctx, `
		select id, collection_id, entity_id, slug, content_type, etag, sync_revision, created_at, updated_at, deleted_at
		from instances where collection_id = $1 and slug = $2 and deleted_at is null`, collectionID, slug)
	return scanInstance(row)
}

func (s *Store) GetEntity(ctx context.Context, entityID string) (*storage.Entity, error) {
	row := s.pool.QueryRow(ctx, `select id, type, uid, data from entities where id = $1`, entityID)
	var e storage.Entity
	if err := row.Scan(&e.ID, &e.Type, &e.UID, &e.Data); err != nil {
		if isNoRows(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

// PutInstance upserts the entity/instance pair and their derived index row
// (at most one of cal/card is non-nil), bumps the owning collection's sync
// token, and appends the corresponding change-log row, all in one
// transaction so sync-collection reporting can never observe a change
// without its log entry or vice versa.
func (s *Store) PutInstance(ctx context.Context, inst *storage.Instance, entity *storage.Entity, cal *storage.CalIndex, card *storage.CardIndex) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			insert into entities(id, type, uid, data) values ($1, $2, $3, $4)
			on conflict (id) do update set uid = excluded.uid, data = excluded.data
		`, entity.ID, entity.Type, entity.UID, entity.Data); err != nil {
			return fmt.Errorf("upsert entity: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			insert into instances(id, collection_id, entity_id, slug, content_type, etag)
			values ($1, $2, $3, $4, $5, $6)
			on conflict (collection_id, slug) do update set
				entity_id = excluded.entity_id, content_type = excluded.content_type,
				etag = excluded.etag, updated_at = now(), deleted_at = null
		`, inst.ID, inst.CollectionID, inst.EntityID, inst.Slug, inst.ContentType, inst.ETag); err != nil {
			return fmt.Errorf("upsert instance: %w", err)
		}

		if cal != nil {
			if err := upsertCalIndex(ctx, tx, cal); err != nil {
				return err
			}
		}
		if card != nil {
			if err := upsertCardIndex(ctx, tx, card); err != nil {
				return err
			}
		}

		return bumpAndLog(ctx, tx, inst.CollectionID, inst.ID, inst.Slug, false)
	})
}

func upsertCalIndex(ctx context.Context, tx pgx.Tx, cal *storage.CalIndex) error {
	_, err := tx.Exec(ctx, `
		insert into cal_index(entity_id, component_type, uid, dtstart_utc, dtend_utc, rrule_text, status, transp, summary, summary_ascii_fold, summary_unicode_fold)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		on conflict (entity_id) do update set
			component_type = excluded.component_type, uid = excluded.uid,
			dtstart_utc = excluded.dtstart_utc, dtend_utc = excluded.dtend_utc,
			rrule_text = excluded.rrule_text, status = excluded.status, transp = excluded.transp,
			summary = excluded.summary, summary_ascii_fold = excluded.summary_ascii_fold,
			summary_unicode_fold = excluded.summary_unicode_fold
	`, cal.EntityID, cal.ComponentType, cal.UID, cal.DTStartUTC, cal.DTEndUTC, cal.RRuleText, cal.Status, cal.Transp, cal.Summary, cal.SummaryAsciiFold, cal.SummaryUnicodeFold)
	if err != nil {
		return fmt.Errorf("upsert cal_index: %w", err)
	}
	return nil
}

func upsertCardIndex(ctx context.Context, tx pgx.Tx, card *storage.CardIndex) error {
	_, err := tx.Exec(ctx, `
		insert into card_index(entity_id, uid, fn, fn_ascii_fold, fn_unicode_fold, n, org, title)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		on conflict (entity_id) do update set
			uid = excluded.uid, fn = excluded.fn, fn_ascii_fold = excluded.fn_ascii_fold,
			fn_unicode_fold = excluded.fn_unicode_fold, n = excluded.n, org = excluded.org, title = excluded.title
	`, card.EntityID, card.UID, card.FN, card.FNAsciiFold, card.FNUnicodeFold, card.N, card.Org, card.Title)
	if err != nil {
		return fmt.Errorf("upsert card_index: %w", err)
	}
	if _, err := tx.Exec(ctx, `delete from card_index_emails where entity_id = $1`, card.EntityID); err != nil {
		return fmt.Errorf("clear card emails: %w", err)
	}
	for _, e := range card.Emails {
		if _, err := tx.Exec(ctx, `insert into card_index_emails(entity_id, email) values ($1, $2)`, card.EntityID, e); err != nil {
			return fmt.Errorf("insert card email: %w", err)
		}
	}
	if _, err := tx.Exec(ctx, `delete from card_index_phones where entity_id = $1`, card.EntityID); err != nil {
		return fmt.Errorf("clear card phones: %w", err)
	}
	for _, p := range card.Phones {
		if _, err := tx.Exec(ctx, `insert into card_index_phones(entity_id, phone) values ($1, $2)`, card.EntityID, p); err != nil {
			return fmt.Errorf("insert card phone: %w", err)
		}
	}
	return nil
}

func bumpAndLog(ctx context.Context, tx pgx.Tx, collectionID, instanceID, slug string, deleted bool) error {
	var seq int64
	if err := tx.QueryRow(ctx, `
		update collections set sync_token = sync_token + 1, updated_at = now()
		where id = $1
		returning sync_token
	`, collectionID).Scan(&seq); err != nil {
		return fmt.Errorf("bump sync token: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		insert into changes(collection_id, seq, instance_id, slug, deleted)
		values ($1, $2, $3, $4, $5)
	`, collectionID, seq, instanceID, slug, deleted); err != nil {
		return fmt.Errorf("insert change: %w", err)
	}
	return nil
}

func (s *Store) DeleteInstance(ctx context.Context, instanceID string) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		var collectionID, slug string
		if err := tx.QueryRow(ctx, `select collection_id, slug from instances where id = $1`, instanceID).Scan(&collectionID, &slug); err != nil {
			if isNoRows(err) {
				return storage.ErrNotFound
			}
			return err
		}
		if _, err := tx.Exec(ctx, `update instances set deleted_at = now() where id = $1`, instanceID); err != nil {
			return fmt.Errorf("soft-delete instance: %w", err)
		}
		return bumpAndLog(ctx, tx, collectionID, instanceID, slug, true)
	})
}

func (s *Store) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) ListChangesSince(ctx context.Context, collectionID string, sinceSeq int64, limit int) ([]storage.Change, error) {
	q := `
		select instance_id, slug, deleted, seq from changes
		where collection_id = $1 and seq > $2
		order by seq asc`
	args := []any{collectionID, sinceSeq}
	if limit > 0 {
		q += " limit $3"
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []storage.Change
	for rows.Next() {
		var c storage.Change
		if err := rows.Scan(&c.InstanceID, &c.Slug, &c.Deleted, &c.Seq); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const calIndexCols = `entity_id, component_type, uid, dtstart_utc, dtend_utc, rrule_text, status, transp, summary, summary_ascii_fold, summary_unicode_fold`

func scanCalIndex(row pgx.Row) (*storage.CalIndex, error) {
	var c storage.CalIndex
	if err := row.Scan(&c.EntityID, &c.ComponentType, &c.UID, &c.DTStartUTC, &c.DTEndUTC, &c.RRuleText, &c.Status, &c.Transp, &c.Summary, &c.SummaryAsciiFold, &c.SummaryUnicodeFold); err != nil {
		if isNoRows(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) CalIndexByComponent(ctx context.Context, collectionID string, components []string) ([]*storage.CalIndex, error) {
	q := `
		select ci.` + strings.ReplaceAll(calIndexCols, ", ", ", ci.") + `
		from cal_index ci
		join instances i on i.entity_id = ci.entity_id
		where i.collection_id = $1 and i.deleted_at is null`
	args := []any{collectionID}
	if len(components) > 0 {
		q += " and ci.component_type = any($2)"
		args = append(args, components)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*storage.CalIndex
	for rows.Next() {
		c, err := scanCalIndex(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) GetCalIndex(ctx context.Context, entityID string) (*storage.CalIndex, error) {
	row := s.pool.QueryRow(ctx, `select `+calIndexCols+` from cal_index where entity_id = $1`, entityID)
	return scanCalIndex(row)
}

func (s *Store) CardIndexAll(ctx context.Context, collectionID string) ([]*storage.CardIndex, error) {
	rows, err := s.pool.Query(ctx, `
		select ci.entity_id, ci.uid, ci.fn, ci.fn_ascii_fold, ci.fn_unicode_fold, ci.n, ci.org, ci.title
		from card_index ci
		join instances i on i.entity_id = ci.entity_id
		where i.collection_id = $1 and i.deleted_at is null`, collectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*storage.CardIndex
	for rows.Next() {
		var c storage.CardIndex
		if err := rows.Scan(&c.EntityID, &c.UID, &c.FN, &c.FNAsciiFold, &c.FNUnicodeFold, &c.N, &c.Org, &c.Title); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, c := range out {
		emails, err := s.pool.Query(ctx, `select email from card_index_emails where entity_id = $1`, c.EntityID)
		if err != nil {
			return nil, err
		}
		for emails.Next() {
			var e string
			if err := emails.Scan(&e); err != nil {
				emails.Close()
				return nil, err
			}
			c.Emails = append(c.Emails, e)
		}
		emails.Close()

		phones, err := s.pool.Query(ctx, `select phone from card_index_phones where entity_id = $1`, c.EntityID)
		if err != nil {
			return nil, err
		}
		for phones.Next() {
			var p string
			if err := phones.Scan(&p); err != nil {
				phones.Close()
				return nil, err
			}
			c.Phones = append(c.Phones, p)
		}
		phones.Close()
	}

	return out, nil
}

func (s *Store) PolicyLinesForSubjects(ctx context.Context, subjects []string) ([]storage.PolicyLine, error) {
	rows, err := s.pool.Query(ctx, `
		select id, subject, pattern, role from policy_lines
		where subject = any($1) or subject = 'public'`, subjects)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []storage.PolicyLine
	for rows.Next() {
		var p storage.PolicyLine
		if err := rows.Scan(&p.ID, &p.Subject, &p.Pattern, &p.Role); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
