// Package sqlite implements storage.Store against an embedded SQLite
// database via ncruces/go-sqlite3, for single-node deployments that don't
// want a separate PostgreSQL instance.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/rs/zerolog"

	"github.com/calstack/davcore/internal/storage"
	"github.com/calstack/davcore/internal/storage/migrations"
)

type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// New opens path as a single-writer SQLite database, applies PRAGMA tuning,
// and runs any pending schema migrations before returning.
func New(path string, logger zerolog.Logger) (storage.Store, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := configure(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: configure: %w", err)
	}

	if err := migrations.SQLite(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

func configure(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 30000",
		"PRAGMA cache_size = 10000",
		"PRAGMA temp_store = memory",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func isNoRows(err error) bool { return errors.Is(err, sql.ErrNoRows) }

func (s *Store) GetPrincipalByID(ctx context.Context, id string) (*storage.Principal, error) {
	row := s.db.QueryRowContext(ctx, `select id, slug, type, display_name, deleted_at from principals where id = ?`, id)
	return scanPrincipal(row)
}

func (s *Store) GetPrincipalBySlug(ctx context.Context, slug string) (*storage.Principal, error) {
	row := s.db.QueryRowContext(ctx, `select id, slug, type, display_name, deleted_at from principals where slug = ?`, slug)
	return scanPrincipal(row)
}

func scanPrincipal(row *sql.Row) (*storage.Principal, error) {
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
	_, err := s.db.ExecContext(ctx, `
		insert into principals(id, slug, type, display_name) values (?, ?, ?, ?)
		on conflict(slug) do update set display_name = excluded.display_name
	`, p.ID, p.Slug, p.Type, p.DisplayName)
	return err
}

func (s *Store) GroupsForPrincipal(ctx context.Context, principalID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `select group_slug from principal_groups where principal_id = ?`, principalID)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCollection(row rowScanner) (*storage.Collection, error) {
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
	row := s.db.QueryRowContext(ctx, `select `+collectionCols+` from collections where id = ? and deleted_at is null`, id)
	return scanCollection(row)
}

func (s *Store) GetCollectionBySlug(ctx context.Context, ownerID string, parentID *string, slug string) (*storage.Collection, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+collectionCols+` from collections
		where owner_id = ? and parent_id is ? and slug = ? and deleted_at is null`,
		ownerID, parentID, slug)
	return scanCollection(row)
}

func (s *Store) CreateCollection(ctx context.Context, c *storage.Collection) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into collections(id, owner_id, slug, parent_id, type, display_name, description, color)
		values (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.OwnerID, c.Slug, c.ParentID, c.Type, c.DisplayName, c.Description, c.Color)
	return err
}

func (s *Store) UpdateCollection(ctx context.Context, c *storage.Collection) error {
	_, err := s.db.ExecContext(ctx, `
		update collections set display_name = ?, description = ?, color = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		where id = ?
	`, c.DisplayName, c.Description, c.Color, c.ID)
	return err
}

func (s *Store) DeleteCollection(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `update collections set deleted_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now') where id = ?`, id)
	return err
}

func (s *Store) ListChildCollections(ctx context.Context, ownerID string, parentID *string) ([]*storage.Collection, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+collectionCols+` from collections
		where owner_id = ? and parent_id is ? and deleted_at is null
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
	rows, err := s.db.QueryContext(ctx, `
		select id, collection_id, entity_id, slug, content_type, etag, sync_revision, created_at, updated_at, deleted_at
		from instances where collection_id = ? and deleted_at is null`, collectionID)
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
// change-log row. See the postgres backend's doc comment on the same
// method: PutInstance/DeleteInstance already bump-and-log transactionally.
func (s *Store) BumpSyncToken(ctx context.Context, collectionID string) (int64, error) {
	if _, err := s.db.ExecContext(ctx, `
		update collections set sync_token = sync_token + 1, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		where id = ?
	`, collectionID); err != nil {
		return 0, err
	}
	var token int64
	err := s.db.QueryRowContext(ctx, `select sync_token from collections where id = ?`, collectionID).Scan(&token)
	return token, err
}

func scanInstance(row rowScanner) (*storage.Instance, error) {
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
	row := s.db.QueryRowContext(ctx, `
		select id, collection_id, entity_id, slug, content_type, etag, sync_revision, created_at, updated_at, deleted_at
		from instances where id = ? and deleted_at is null`, id)
	return scanInstance(row)
}

func (s *Store) GetInstanceBySlug(ctx context.Context, collectionID, slug string) (*storage.Instance, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, collection_id, entity_id, slug, content_type, etag, sync_revision, created_at, updated_at, deleted_at
		from instances where collection_id = ? and slug = ? and deleted_at is null`, collectionID, slug)
	return scanInstance(row)
}

func (s *Store) GetEntity(ctx context.Context, entityID string) (*storage.Entity, error) {
	row := s.db.QueryRowContext(ctx, `select id, type, uid, data from entities where id = ?`, entityID)
	var e storage.Entity
	if err := row.Scan(&e.ID, &e.Type, &e.UID, &e.Data); err != nil {
		if isNoRows(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

// PutInstance mirrors the postgres backend's transaction shape: upsert
// entity, upsert instance, upsert whichever derived index applies, then
// bump-and-log in the same transaction.
func (s *Store) PutInstance(ctx context.Context, inst *storage.Instance, entity *storage.Entity, cal *storage.CalIndex, card *storage.CardIndex) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			insert into entities(id, type, uid, data) values (?, ?, ?, ?)
			on conflict(id) do update set uid = excluded.uid, data = excluded.data
		`, entity.ID, entity.Type, entity.UID, entity.Data); err != nil {
			return fmt.Errorf("upsert entity: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			insert into instances(id, collection_id, entity_id, slug, content_type, etag)
			values (?, ?, ?, ?, ?, ?)
			on conflict(collection_id, slug) do update set
				entity_id = excluded.entity_id, content_type = excluded.content_type,
				etag = excluded.etag, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now'), deleted_at = null
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

func upsertCalIndex(ctx context.Context, tx *sql.Tx, cal *storage.CalIndex) error {
	_, err := tx.ExecContext(ctx, `
		insert into cal_index(entity_id, component_type, uid, dtstart_utc, dtend_utc, rrule_text, status, transp, summary, summary_ascii_fold, summary_unicode_fold)
		values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		on conflict(entity_id) do update set
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

func upsertCardIndex(ctx context.Context, tx *sql.Tx, card *storage.CardIndex) error {
	_, err := tx.ExecContext(ctx, `
		insert into card_index(entity_id, uid, fn, fn_ascii_fold, fn_unicode_fold, n, org, title)
		values (?, ?, ?, ?, ?, ?, ?, ?)
		on conflict(entity_id) do update set
			uid = excluded.uid, fn = excluded.fn, fn_ascii_fold = excluded.fn_ascii_fold,
			fn_unicode_fold = excluded.fn_unicode_fold, n = excluded.n, org = excluded.org, title = excluded.title
	`, card.EntityID, card.UID, card.FN, card.FNAsciiFold, card.FNUnicodeFold, card.N, card.Org, card.Title)
	if err != nil {
		return fmt.Errorf("upsert card_index: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `delete from card_index_emails where entity_id = ?`, card.EntityID); err != nil {
		return fmt.Errorf("clear card emails: %w", err)
	}
	for _, e := range card.Emails {
		if _, err := tx.ExecContext(ctx, `insert into card_index_emails(entity_id, email) values (?, ?)`, card.EntityID, e); err != nil {
			return fmt.Errorf("insert card email: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `delete from card_index_phones where entity_id = ?`, card.EntityID); err != nil {
		return fmt.Errorf("clear card phones: %w", err)
	}
	for _, p := range card.Phones {
		if _, err := tx.ExecContext(ctx, `insert into card_index_phones(entity_id, phone) values (?, ?)`, card.EntityID, p); err != nil {
			return fmt.Errorf("insert card phone: %w", err)
		}
	}
	return nil
}

func bumpAndLog(ctx context.Context, tx *sql.Tx, collectionID, instanceID, slug string, deleted bool) error {
	if _, err := tx.ExecContext(ctx, `
		update collections set sync_token = sync_token + 1, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		where id = ?
	`, collectionID); err != nil {
		return fmt.Errorf("bump sync token: %w", err)
	}
	var seq int64
	if err := tx.QueryRowContext(ctx, `select sync_token from collections where id = ?`, collectionID).Scan(&seq); err != nil {
		return fmt.Errorf("read bumped sync token: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		insert into changes(collection_id, seq, instance_id, slug, deleted) values (?, ?, ?, ?, ?)
	`, collectionID, seq, instanceID, slug, deleted); err != nil {
		return fmt.Errorf("insert change: %w", err)
	}
	return nil
}

func (s *Store) DeleteInstance(ctx context.Context, instanceID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var collectionID, slug string
		if err := tx.QueryRowContext(ctx, `select collection_id, slug from instances where id = ?`, instanceID).Scan(&collectionID, &slug); err != nil {
			if isNoRows(err) {
				return storage.ErrNotFound
			}
			return err
		}
		if _, err := tx.ExecContext(ctx, `update instances set deleted_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now') where id = ?`, instanceID); err != nil {
			return fmt.Errorf("soft-delete instance: %w", err)
		}
		return bumpAndLog(ctx, tx, collectionID, instanceID, slug, true)
	})
}

func (s *Store) ListChangesSince(ctx context.Context, collectionID string, sinceSeq int64, limit int) ([]storage.Change, error) {
	q := `
		select instance_id, slug, deleted, seq from changes
		where collection_id = ? and seq > ?
		order by seq asc`
	args := []any{collectionID, sinceSeq}
	if limit > 0 {
		q += " limit ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []storage.Change
	for rows.Next() {
		var c storage.Change
		var deleted int
		if err := rows.Scan(&c.InstanceID, &c.Slug, &deleted, &c.Seq); err != nil {
			return nil, err
		}
		c.Deleted = deleted != 0
		out = append(out, c)
	}
	return out, rows.Err()
}

const calIndexCols = `entity_id, component_type, uid, dtstart_utc, dtend_utc, rrule_text, status, transp, summary, summary_ascii_fold, summary_unicode_fold`

func scanCalIndex(row rowScanner) (*storage.CalIndex, error) {
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
	if len(components) == 0 {
		rows, err := s.db.QueryContext(ctx, `
			select ci.entity_id, ci.component_type, ci.uid, ci.dtstart_utc, ci.dtend_utc, ci.rrule_text, ci.status, ci.transp, ci.summary, ci.summary_ascii_fold, ci.summary_unicode_fold
			from cal_index ci join instances i on i.entity_id = ci.entity_id
			where i.collection_id = ? and i.deleted_at is null`, collectionID)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		return collectCalIndex(rows)
	}

	placeholders := make([]byte, 0, len(components)*2)
	args := []any{collectionID}
	for i, c := range components {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args = append(args, c)
	}
	rows, err := s.db.QueryContext(ctx, `
		select ci.entity_id, ci.component_type, ci.uid, ci.dtstart_utc, ci.dtend_utc, ci.rrule_text, ci.status, ci.transp, ci.summary, ci.summary_ascii_fold, ci.summary_unicode_fold
		from cal_index ci join instances i on i.entity_id = ci.entity_id
		where i.collection_id = ? and i.deleted_at is null and ci.component_type in (`+string(placeholders)+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCalIndex(rows)
}

func collectCalIndex(rows *sql.Rows) ([]*storage.CalIndex, error) {
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
	row := s.db.QueryRowContext(ctx, `select `+calIndexCols+` from cal_index where entity_id = ?`, entityID)
	return scanCalIndex(row)
}

func (s *Store) CardIndexAll(ctx context.Context, collectionID string) ([]*storage.CardIndex, error) {
	rows, err := s.db.QueryContext(ctx, `
		select ci.entity_id, ci.uid, ci.fn, ci.fn_ascii_fold, ci.fn_unicode_fold, ci.n, ci.org, ci.title
		from card_index ci join instances i on i.entity_id = ci.entity_id
		where i.collection_id = ? and i.deleted_at is null`, collectionID)
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
		if err := fillCardContacts(ctx, s.db, c); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func fillCardContacts(ctx context.Context, db *sql.DB, c *storage.CardIndex) error {
	emails, err := db.QueryContext(ctx, `select email from card_index_emails where entity_id = ?`, c.EntityID)
	if err != nil {
		return err
	}
	for emails.Next() {
		var e string
		if err := emails.Scan(&e); err != nil {
			emails.Close()
			return err
		}
		c.Emails = append(c.Emails, e)
	}
	emails.Close()

	phones, err := db.QueryContext(ctx, `select phone from card_index_phones where entity_id = ?`, c.EntityID)
	if err != nil {
		return err
	}
	for phones.Next() {
		var p string
		if err := phones.Scan(&p); err != nil {
			phones.Close()
			return err
		}
		c.Phones = append(c.Phones, p)
	}
	phones.Close()
	return nil
}

func (s *Store) PolicyLinesForSubjects(ctx context.Context, subjects []string) ([]storage.PolicyLine, error) {
	placeholders := make([]byte, 0, len(subjects)*2)
	args := make([]any, 0, len(subjects))
	for i, sub := range subjects {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args = append(args, sub)
	}
	q := `select id, subject, pattern, role from policy_lines where subject = 'public'`
	if len(subjects) > 0 {
		q = `select id, subject, pattern, role from policy_lines where subject = 'public' or subject in (` + string(placeholders) + `)`
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
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
