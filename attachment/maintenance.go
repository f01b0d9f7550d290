package attachment

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/ruteri/attachment-store/interfaces"
)

const (
	DefaultClearPageSize = 100
	DefaultClearWorkers  = 4
)

// MigrateStorage moves the primary file of att to the backend registered as
// newStorage. The file is copied from the current backend and stored through
// the regular save path. Representations stay where they are.
func (s *Service) MigrateStorage(ctx context.Context, att *interfaces.Attachment, newStorage string) error {
	if !att.Persisted() {
		return interfaces.ErrNotPersisted
	}
	if _, ok := s.registry.StorageBackend(newStorage); !ok {
		return &interfaces.ValidationError{
			Field:  "storage_system_name",
			Reason: fmt.Sprintf("unknown storage backend %q", newStorage),
		}
	}

	current, err := s.backendFor(att)
	if err != nil {
		return err
	}
	key, err := att.StorageKey()
	if err != nil {
		return err
	}

	local, err := s.fetchObject(ctx, att.StorageSystemName, current, key)
	if err != nil {
		return err
	}
	defer interfaces.ReleaseLocalCopy(local)

	previous := att.StorageSystemName
	att.StorageSystemName = newStorage
	att.SetPendingData(local)
	if err := s.Save(ctx, att); err != nil {
		att.ClearPendingData()
		s.restoreStorageName(ctx, att, previous)
		return err
	}

	s.log.Info("Migrated attachment storage",
		slog.Int64("attachmentID", att.ID),
		slog.String("from", previous),
		slog.String("to", newStorage))
	return nil
}

// restoreStorageName points att back at the backend that still holds its
// file after a migration failed past the record update.
func (s *Service) restoreStorageName(ctx context.Context, att *interfaces.Attachment, previous string) {
	att.StorageSystemName = previous
	if err := s.store.Update(ctx, att); err != nil {
		s.log.Error("Failed to restore storage after migration error",
			slog.Int64("attachmentID", att.ID),
			slog.String("storage", previous),
			"err", err)
	}
}

// ClearRepresentations destroys every stored representation of att and
// persists an empty map. A failed destroy aborts before the map is reset.
func (s *Service) ClearRepresentations(ctx context.Context, att *interfaces.Attachment) error {
	if !att.Persisted() {
		return interfaces.ErrNotPersisted
	}

	if len(att.Representations) > 0 {
		backend, err := s.backendFor(att)
		if err != nil {
			return err
		}

		keys := make([]string, 0, len(att.Representations))
		for joined := range att.Representations {
			keys = append(keys, joined)
		}
		slices.Sort(keys)

		for _, joined := range keys {
			if err := s.destroyObject(ctx, att.StorageSystemName, backend, interfaces.ParseStorageKey(joined)); err != nil {
				return err
			}
		}
	}

	att.Representations = map[string]string{}
	if err := s.store.Update(ctx, att); err != nil {
		return fmt.Errorf("failed to update attachment %d: %w", att.ID, err)
	}
	return nil
}

// ClearAllRepresentations clears the representations of every attachment,
// paging through the store pageSize records at a time and clearing up to
// workers attachments concurrently. It returns the number of attachments
// that had representations.
func (s *Service) ClearAllRepresentations(ctx context.Context, pageSize, workers int) (int64, error) {
	if pageSize <= 0 {
		pageSize = DefaultClearPageSize
	}
	if workers <= 0 {
		workers = DefaultClearWorkers
	}

	var cleared atomic.Int64
	var afterID int64
	for {
		page, err := s.store.List(ctx, afterID, pageSize)
		if err != nil {
			return cleared.Load(), fmt.Errorf("failed to list attachments after %d: %w", afterID, err)
		}
		if len(page) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for _, att := range page {
			if len(att.Representations) == 0 {
				continue
			}
			g.Go(func() error {
				if err := s.ClearRepresentations(gctx, att); err != nil {
					return fmt.Errorf("attachment %d: %w", att.ID, err)
				}
				cleared.Inc()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return cleared.Load(), err
		}

		afterID = page[len(page)-1].ID
		if len(page) < pageSize {
			break
		}
	}

	s.log.Info("Cleared all representations", slog.Int64("attachments", cleared.Load()))
	return cleared.Load(), nil
}
