package metadata

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/ruteri/attachment-store/interfaces"
	"github.com/ruteri/attachment-store/metadata/migrations"
)

const attachmentColumns = `id, parent_id, representation_key, name, description, url, extra_info,
	storage_system_name, active, private, owner_kind, owner_id, relationship, position,
	filename, content_type, filesize, representations, created_at, updated_at`

// PostgresStore implements interfaces.MetadataStore over a DBTX (*sql.DB or *sql.Tx).
type PostgresStore struct {
	db DBTX
	// conn is nil for stores bound to a transaction.
	conn *sql.DB
}

// NewPostgresStore constructs a store bound to the given database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, conn: db}
}

// OpenPostgres opens a pgx-backed database/sql handle and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// RunMigrations applies the embedded schema migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, ".")
}

// Create inserts the record and assigns ID and timestamps from the database.
func (s *PostgresStore) Create(ctx context.Context, att *interfaces.Attachment) error {
	if att.Representations == nil {
		att.Representations = map[string]string{}
	}
	reps, err := json.Marshal(att.Representations)
	if err != nil {
		return fmt.Errorf("failed to encode representations: %w", err)
	}

	query := `
		INSERT INTO attachments (parent_id, representation_key, name, description, url, extra_info,
			storage_system_name, active, private, owner_kind, owner_id, relationship, position,
			filename, content_type, filesize, representations)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id, created_at, updated_at
	`
	err = s.db.QueryRowContext(ctx, query,
		nullInt64(att.ParentID), att.RepresentationKey, att.Name, att.Description, att.URL, att.ExtraInfo,
		att.StorageSystemName, att.Active, att.Private, string(att.Owner.Kind), att.Owner.ID, att.Relationship,
		nullInt(att.Position), att.Filename, att.ContentType, att.Filesize, string(reps),
	).Scan(&att.ID, &att.CreatedAt, &att.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert attachment: %w", err)
	}
	return nil
}

// Update writes every persisted field and refreshes updated_at.
func (s *PostgresStore) Update(ctx context.Context, att *interfaces.Attachment) error {
	reps, err := json.Marshal(att.Representations)
	if err != nil {
		return fmt.Errorf("failed to encode representations: %w", err)
	}
	if att.Representations == nil {
		reps = []byte("{}")
	}

	query := `
		UPDATE attachments SET
			parent_id = $2, representation_key = $3, name = $4, description = $5, url = $6,
			extra_info = $7, storage_system_name = $8, active = $9, private = $10, owner_kind = $11,
			owner_id = $12, relationship = $13, position = $14, filename = $15, content_type = $16,
			filesize = $17, representations = $18, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`
	err = s.db.QueryRowContext(ctx, query, att.ID,
		nullInt64(att.ParentID), att.RepresentationKey, att.Name, att.Description, att.URL, att.ExtraInfo,
		att.StorageSystemName, att.Active, att.Private, string(att.Owner.Kind), att.Owner.ID, att.Relationship,
		nullInt(att.Position), att.Filename, att.ContentType, att.Filesize, string(reps),
	).Scan(&att.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return interfaces.ErrAttachmentNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update attachment: %w", err)
	}
	return nil
}

// Delete removes the record. Exactly one row must be affected.
func (s *PostgresStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM attachments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete attachment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return interfaces.ErrAttachmentNotFound
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id int64) (*interfaces.Attachment, error) {
	query := `SELECT ` + attachmentColumns + ` FROM attachments WHERE id = $1`
	return scanOne(s.db.QueryRowContext(ctx, query, id))
}

func (s *PostgresStore) FindInRelationship(ctx context.Context, owner interfaces.Owner, relationship string, id int64) (*interfaces.Attachment, error) {
	query := `SELECT ` + attachmentColumns + ` FROM attachments
		WHERE id = $1 AND owner_kind = $2 AND owner_id = $3 AND relationship = $4`
	return scanOne(s.db.QueryRowContext(ctx, query, id, string(owner.Kind), owner.ID, relationship))
}

// MaxPosition reads the top position of the owner slot, ordered descending.
func (s *PostgresStore) MaxPosition(ctx context.Context, owner interfaces.Owner, relationship string) (int, bool, error) {
	query := `SELECT position FROM attachments
		WHERE owner_kind = $1 AND owner_id = $2 AND relationship = $3 AND position IS NOT NULL
		ORDER BY position DESC LIMIT 1`

	var pos int
	err := s.db.QueryRowContext(ctx, query, string(owner.Kind), owner.ID, relationship).Scan(&pos)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to select max position: %w", err)
	}
	return pos, true, nil
}

func (s *PostgresStore) ListByOwner(ctx context.Context, owner interfaces.Owner, relationship string) ([]*interfaces.Attachment, error) {
	query := `SELECT ` + attachmentColumns + ` FROM attachments
		WHERE owner_kind = $1 AND owner_id = $2 AND relationship = $3
		ORDER BY position ASC NULLS LAST, id ASC`
	return s.queryMany(ctx, query, string(owner.Kind), owner.ID, relationship)
}

func (s *PostgresStore) List(ctx context.Context, afterID int64, limit int) ([]*interfaces.Attachment, error) {
	query := `SELECT ` + attachmentColumns + ` FROM attachments
		WHERE id > $1 ORDER BY id ASC LIMIT $2`
	return s.queryMany(ctx, query, afterID, limit)
}

// WithLock runs fn in a transaction holding a row lock on the record. fn
// receives a store bound to that transaction. On a store that is already
// bound to a transaction the lock is taken within it.
func (s *PostgresStore) WithLock(ctx context.Context, id int64, fn func(ctx context.Context, tx interfaces.MetadataStore, current *interfaces.Attachment) error) error {
	locked := func(ctx context.Context, tx DBTX) error {
		txStore := &PostgresStore{db: tx}
		query := `SELECT ` + attachmentColumns + ` FROM attachments WHERE id = $1 FOR UPDATE`
		current, err := scanOne(tx.QueryRowContext(ctx, query, id))
		if err != nil {
			return err
		}
		return fn(ctx, txStore, current)
	}

	if s.conn == nil {
		return locked(ctx, s.db)
	}
	return WithTx(ctx, s.conn, nil, locked)
}

func (s *PostgresStore) queryMany(ctx context.Context, query string, args ...any) ([]*interfaces.Attachment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select attachments: %w", err)
	}
	defer rows.Close()

	var result []*interfaces.Attachment
	for rows.Next() {
		att, err := scanAttachment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, att)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOne(row *sql.Row) (*interfaces.Attachment, error) {
	att, err := scanAttachment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrAttachmentNotFound
	}
	return att, err
}

func scanAttachment(row scanner) (*interfaces.Attachment, error) {
	var (
		att       interfaces.Attachment
		parentID  sql.NullInt64
		position  sql.NullInt64
		ownerKind string
		reps      []byte
	)
	err := row.Scan(&att.ID, &parentID, &att.RepresentationKey, &att.Name, &att.Description, &att.URL,
		&att.ExtraInfo, &att.StorageSystemName, &att.Active, &att.Private, &ownerKind, &att.Owner.ID,
		&att.Relationship, &position, &att.Filename, &att.ContentType, &att.Filesize, &reps,
		&att.CreatedAt, &att.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan attachment: %w", err)
	}

	att.Owner.Kind = interfaces.OwnerKind(ownerKind)
	if parentID.Valid {
		att.ParentID = &parentID.Int64
	}
	if position.Valid {
		pos := int(position.Int64)
		att.Position = &pos
	}
	att.Representations = map[string]string{}
	if len(reps) > 0 {
		if err := json.Unmarshal(reps, &att.Representations); err != nil {
			return nil, fmt.Errorf("failed to decode representations: %w", err)
		}
		if att.Representations == nil {
			att.Representations = map[string]string{}
		}
	}
	return &att, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
