package interfaces

import "context"

// MetadataStore persists attachment records. It is the relational side of the
// system and is supplied by the host application.
type MetadataStore interface {
	// Create inserts a new record and assigns its ID and timestamps.
	Create(ctx context.Context, att *Attachment) error

	// Update writes every persisted field of an existing record.
	Update(ctx context.Context, att *Attachment) error

	// Delete removes the record with the given id.
	Delete(ctx context.Context, id int64) error

	// Get loads a record by id. Returns ErrAttachmentNotFound if absent.
	Get(ctx context.Context, id int64) (*Attachment, error)

	// FindInRelationship loads a record by id, scoped to an owner slot.
	FindInRelationship(ctx context.Context, owner Owner, relationship string, id int64) (*Attachment, error)

	// MaxPosition returns the highest position among records sharing
	// (owner, relationship). ok is false when no such record has a position.
	MaxPosition(ctx context.Context, owner Owner, relationship string) (pos int, ok bool, err error)

	// ListByOwner returns the records of an owner slot ordered by position, id.
	ListByOwner(ctx context.Context, owner Owner, relationship string) ([]*Attachment, error)

	// List pages through every record in id order, starting after afterID.
	List(ctx context.Context, afterID int64, limit int) ([]*Attachment, error)

	// WithLock acquires an exclusive lock scoped to the record with the given
	// id, reloads it and runs fn. Writes inside fn must go through tx. The lock
	// is released when fn returns, on every path.
	WithLock(ctx context.Context, id int64, fn func(ctx context.Context, tx MetadataStore, current *Attachment) error) error
}
