package attachment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/ruteri/attachment-store/interfaces"
	"github.com/ruteri/attachment-store/metrics"
	"github.com/ruteri/attachment-store/registry"
)

// Service runs attachment operations against a registry and a metadata store.
type Service struct {
	registry *registry.Registry
	store    interfaces.MetadataStore
	log      *slog.Logger
	metrics  *metrics.Recorder
}

// NewService creates a service. rec may be nil.
func NewService(reg *registry.Registry, store interfaces.MetadataStore, log *slog.Logger, rec *metrics.Recorder) *Service {
	return &Service{
		registry: reg,
		store:    store,
		log:      log,
		metrics:  rec,
	}
}

// Registry returns the registry the service was built with.
func (s *Service) Registry() *registry.Registry {
	return s.registry
}

// Save creates or updates att.
//
// On create, a missing position becomes one past the highest position in the
// owner slot (0 for the first attachment) and the representations map starts
// empty. A missing storage name is set to the registry default. The record is
// persisted first, then any pending data is stored at the attachment's
// storage key and the pending handle is cleared.
func (s *Service) Save(ctx context.Context, att *interfaces.Attachment) error {
	return s.save(ctx, s.store, att)
}

func (s *Service) save(ctx context.Context, store interfaces.MetadataStore, att *interfaces.Attachment) error {
	creating := !att.Persisted()

	if creating && att.Representations == nil {
		att.Representations = map[string]string{}
	}
	if att.StorageSystemName == "" {
		att.StorageSystemName = s.registry.DefaultStorageName()
	}

	backend, err := s.validate(att)
	if err != nil {
		return err
	}

	if creating {
		if att.Position == nil {
			maxPos, found, err := store.MaxPosition(ctx, att.Owner, att.Relationship)
			if err != nil {
				return fmt.Errorf("failed to look up position: %w", err)
			}
			next := 0
			if found {
				next = maxPos + 1
			}
			att.Position = &next
		}
		if err := store.Create(ctx, att); err != nil {
			return fmt.Errorf("failed to create attachment: %w", err)
		}
		s.log.Info("Created attachment",
			slog.Int64("attachmentID", att.ID),
			slog.String("owner", att.Owner.String()),
			slog.String("relationship", att.Relationship),
			slog.Int("position", *att.Position))
	} else {
		if err := store.Update(ctx, att); err != nil {
			return fmt.Errorf("failed to update attachment %d: %w", att.ID, err)
		}
	}

	data := att.PendingData()
	if data == nil {
		return nil
	}

	key, err := att.StorageKey()
	if err != nil {
		return err
	}
	opts := interfaces.StoreOptions{Public: att.Public(), ContentType: att.ContentType}
	if err := s.storeObject(ctx, att.StorageSystemName, backend, key, data, opts); err != nil {
		return err
	}
	att.ClearPendingData()
	return nil
}

// Destroy removes the primary file and then the record. If the backend
// cannot remove the file, the record is kept.
func (s *Service) Destroy(ctx context.Context, att *interfaces.Attachment) error {
	if !att.Persisted() {
		return interfaces.ErrNotPersisted
	}

	backend, err := s.backendFor(att)
	if err != nil {
		return err
	}
	key, err := att.StorageKey()
	if err != nil {
		return err
	}

	if err := s.destroyObject(ctx, att.StorageSystemName, backend, key); err != nil {
		return err
	}

	if err := s.store.Delete(ctx, att.ID); err != nil {
		return fmt.Errorf("failed to delete attachment %d: %w", att.ID, err)
	}

	s.log.Info("Destroyed attachment",
		slog.Int64("attachmentID", att.ID),
		slog.String("storage", att.StorageSystemName))
	return nil
}

// PublicURL returns the URL of the primary file.
func (s *Service) PublicURL(att *interfaces.Attachment) (string, error) {
	backend, err := s.backendFor(att)
	if err != nil {
		return "", err
	}
	key, err := att.StorageKey()
	if err != nil {
		return "", err
	}
	return backend.PublicURLFor(key, interfaces.URLOptions{Public: att.Public()}), nil
}

// Attach creates an attachment in an owner slot from an upload. Uploads that
// report a zero size are ignored and yield a nil attachment.
func (s *Service) Attach(ctx context.Context, owner interfaces.Owner, relationship string, upload interfaces.Upload, storageName string) (*interfaces.Attachment, error) {
	if sized, ok := upload.(interfaces.SizedUpload); ok && sized.Size() == 0 {
		return nil, nil
	}

	att := &interfaces.Attachment{
		Owner:             owner,
		Relationship:      relationship,
		StorageSystemName: storageName,
		Active:            true,
	}
	if err := SetUploadedData(att, upload); err != nil {
		return nil, err
	}
	if err := s.Save(ctx, att); err != nil {
		return nil, err
	}
	return att, nil
}

// ReplaceData swaps the file of an existing attachment in an owner slot. When
// the sanitized filename changes, the previous primary file is removed after
// the new one is stored.
func (s *Service) ReplaceData(ctx context.Context, owner interfaces.Owner, relationship string, id int64, upload interfaces.Upload) (*interfaces.Attachment, error) {
	att, err := s.store.FindInRelationship(ctx, owner, relationship, id)
	if err != nil {
		return nil, err
	}

	previousKey, err := att.StorageKey()
	if err != nil {
		return nil, err
	}
	previousStorage := att.StorageSystemName

	if err := SetUploadedData(att, upload); err != nil {
		return nil, err
	}
	if err := s.Save(ctx, att); err != nil {
		return nil, err
	}

	currentKey, _ := att.StorageKey()
	if currentKey.Join() != previousKey.Join() {
		if backend, ok := s.registry.StorageBackend(previousStorage); ok {
			if err := s.destroyObject(ctx, previousStorage, backend, previousKey); err != nil {
				s.log.Warn("Failed to remove replaced file",
					slog.Int64("attachmentID", att.ID),
					slog.String("key", previousKey.Join()),
					"err", err)
			}
		}
	}
	return att, nil
}

// Get loads an attachment by id.
func (s *Service) Get(ctx context.Context, id int64) (*interfaces.Attachment, error) {
	return s.store.Get(ctx, id)
}

// FindInRelationship loads an attachment by id within an owner slot.
func (s *Service) FindInRelationship(ctx context.Context, owner interfaces.Owner, relationship string, id int64) (*interfaces.Attachment, error) {
	return s.store.FindInRelationship(ctx, owner, relationship, id)
}

// ListByOwner returns the attachments of an owner slot in position order.
func (s *Service) ListByOwner(ctx context.Context, owner interfaces.Owner, relationship string) ([]*interfaces.Attachment, error) {
	return s.store.ListByOwner(ctx, owner, relationship)
}

// ActiveOnly keeps the attachments whose active flag is set.
func ActiveOnly(atts []*interfaces.Attachment) []*interfaces.Attachment {
	var active []*interfaces.Attachment
	for _, att := range atts {
		if att.Active {
			active = append(active, att)
		}
	}
	return active
}

func (s *Service) validate(att *interfaces.Attachment) (interfaces.StorageBackend, error) {
	switch {
	case att.Filename == "":
		return nil, &interfaces.ValidationError{Field: "filename", Reason: "is required"}
	case att.Filename == "." || att.Filename == ".." || strings.ContainsAny(att.Filename, `/\`):
		return nil, &interfaces.ValidationError{Field: "filename", Reason: fmt.Sprintf("%q is not a plain file name", att.Filename)}
	case att.StorageSystemName == "":
		return nil, &interfaces.ValidationError{Field: "storage_system_name", Reason: "no storage backend is registered"}
	}

	backend, ok := s.registry.StorageBackend(att.StorageSystemName)
	if !ok {
		return nil, &interfaces.ValidationError{
			Field:  "storage_system_name",
			Reason: fmt.Sprintf("unknown storage backend %q", att.StorageSystemName),
		}
	}
	return backend, nil
}

func (s *Service) backendFor(att *interfaces.Attachment) (interfaces.StorageBackend, error) {
	backend, ok := s.registry.StorageBackend(att.StorageSystemName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", interfaces.ErrUnknownStorageBackend, att.StorageSystemName)
	}
	return backend, nil
}

// The helpers below label metrics and errors with the registered storage
// name, not the backend's own Name.

func (s *Service) storeObject(ctx context.Context, storage string, backend interfaces.StorageBackend, key interfaces.StorageKey, data io.Reader, opts interfaces.StoreOptions) error {
	err := backend.Store(ctx, key, data, opts)
	s.metrics.StorageOperation(storage, "store", err)
	if err != nil {
		s.log.Error("Failed to store object",
			slog.String("storage", storage),
			slog.String("backend", backend.Name()),
			slog.String("key", key.Join()),
			"err", err)
		return &interfaces.StorageError{Backend: storage, Op: "store", Key: key, Err: err}
	}
	return nil
}

func (s *Service) destroyObject(ctx context.Context, storage string, backend interfaces.StorageBackend, key interfaces.StorageKey) error {
	err := backend.Destroy(ctx, key)
	s.metrics.StorageOperation(storage, "destroy", err)
	if err != nil {
		s.log.Error("Failed to destroy object",
			slog.String("storage", storage),
			slog.String("backend", backend.Name()),
			slog.String("key", key.Join()),
			"err", err)
		return &interfaces.StorageError{Backend: storage, Op: "destroy", Key: key, Err: err}
	}
	return nil
}

func (s *Service) fetchObject(ctx context.Context, storage string, backend interfaces.StorageBackend, key interfaces.StorageKey) (*os.File, error) {
	f, err := backend.FetchLocalCopy(ctx, key)
	s.metrics.StorageOperation(storage, "fetch", err)
	if err != nil {
		return nil, &interfaces.StorageError{Backend: storage, Op: "fetch", Key: key, Err: err}
	}
	return f, nil
}

// IsNotFound reports whether err means the attachment does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, interfaces.ErrAttachmentNotFound)
}
