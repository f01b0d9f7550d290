package interfaces

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"strings"
	"time"
)

var (
	// ErrAttachmentNotFound is returned by metadata stores for unknown ids.
	ErrAttachmentNotFound = errors.New("attachment not found")

	// ErrNotPersisted is returned when an operation needs the attachment's
	// identity before the record has been created.
	ErrNotPersisted = errors.New("attachment has not been persisted")
)

// ValidationError reports malformed or missing attachment fields. It is
// returned before any storage I/O is attempted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid attachment %s: %s", e.Field, e.Reason)
}

// OwnerKind names the type of entity that owns attachments, e.g. "user" or "article".
type OwnerKind string

// Owner is a typed reference to the entity an attachment belongs to. The
// core never loads the owner; it only scopes queries by the pair.
type Owner struct {
	Kind OwnerKind `json:"kind"`
	ID   string    `json:"id"`
}

// IsZero reports whether the owner reference is unset.
func (o Owner) IsZero() bool {
	return o.Kind == "" && o.ID == ""
}

func (o Owner) String() string {
	return fmt.Sprintf("%s:%s", o.Kind, o.ID)
}

// Attachment is the metadata record of a stored file and its derived
// representations.
type Attachment struct {
	ID int64 `json:"id"`

	ParentID          *int64 `json:"parent_id,omitempty"`
	RepresentationKey string `json:"representation_key,omitempty"`

	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
	ExtraInfo   string `json:"extra_info,omitempty"`

	StorageSystemName string `json:"storage_system_name"`
	Active            bool   `json:"active"`
	Private           bool   `json:"private"`

	Owner        Owner  `json:"owner"`
	Relationship string `json:"relationship"`
	// Position is nil until assigned on creation.
	Position *int `json:"position,omitempty"`

	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Filesize    int64  `json:"filesize"`

	// Representations maps a joined representation key to its public URL.
	Representations map[string]string `json:"representations"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	pending io.Reader
}

// Persisted reports whether the record has been assigned an identity.
func (a *Attachment) Persisted() bool {
	return a.ID > 0
}

// Public is the logical negation of Private.
func (a *Attachment) Public() bool {
	return !a.Private
}

// PendingData returns the bytes queued to be written on the next save.
func (a *Attachment) PendingData() io.Reader {
	return a.pending
}

// SetPendingData queues r to be written to the attachment's backend on save.
func (a *Attachment) SetPendingData(r io.Reader) {
	a.pending = r
}

// ClearPendingData drops the pending-data handle.
func (a *Attachment) ClearPendingData() {
	a.pending = nil
}

// StorageKey returns the primary storage key. The record must be persisted.
func (a *Attachment) StorageKey() (StorageKey, error) {
	if !a.Persisted() {
		return nil, ErrNotPersisted
	}
	return KeyFor(a.ID, a.Filename), nil
}

// Extension returns the filename extension without the dot.
func (a *Attachment) Extension() string {
	idx := strings.LastIndex(a.Filename, ".")
	if idx < 0 {
		return ""
	}
	return a.Filename[idx+1:]
}

// FilenameNoExtension returns the filename up to its last dot.
func (a *Attachment) FilenameNoExtension() string {
	idx := strings.LastIndex(a.Filename, ".")
	if idx < 0 {
		return a.Filename
	}
	return a.Filename[:idx]
}

// ContentTypeMajor returns "image" for "image/jpeg".
func (a *Attachment) ContentTypeMajor() string {
	major, _, _ := strings.Cut(a.ContentType, "/")
	return major
}

// ContentTypeMinor returns "jpeg" for "image/jpeg".
func (a *Attachment) ContentTypeMinor() string {
	idx := strings.LastIndex(a.ContentType, "/")
	return a.ContentType[idx+1:]
}

// Clone returns a deep copy of the persisted fields. The pending-data handle
// is carried over as-is.
func (a *Attachment) Clone() *Attachment {
	c := *a
	if a.ParentID != nil {
		parent := *a.ParentID
		c.ParentID = &parent
	}
	if a.Position != nil {
		pos := *a.Position
		c.Position = &pos
	}
	if a.Representations != nil {
		c.Representations = maps.Clone(a.Representations)
	}
	return &c
}

// Upload is an uploaded-file-like object accepted as pending data.
type Upload interface {
	io.Reader
	ContentType() string
	OriginalFilename() string
}

// SizedUpload is implemented by uploads that know their length up front.
type SizedUpload interface {
	Upload
	Size() int64
}
