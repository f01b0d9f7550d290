package metadata

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/ruteri/attachment-store/interfaces"
)

// MemoryStore keeps attachment records in process memory. Records are copied
// on every read and write, so callers never share state with the store.
type MemoryStore struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64]*interfaces.Attachment

	locksMu sync.Mutex
	locks   map[int64]chan struct{}

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[int64]*interfaces.Attachment),
		locks:   make(map[int64]chan struct{}),
		now:     time.Now,
	}
}

// SeedNextID makes the next created record take id next. Ids below the
// highest one already issued are ignored.
func (s *MemoryStore) SeedNextID(next int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if next-1 > s.nextID {
		s.nextID = next - 1
	}
}

func (s *MemoryStore) Create(ctx context.Context, att *interfaces.Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	now := s.now()
	att.ID = s.nextID
	att.CreatedAt = now
	att.UpdatedAt = now
	if att.Representations == nil {
		att.Representations = map[string]string{}
	}
	s.records[att.ID] = detached(att)
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, att *interfaces.Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[att.ID]
	if !ok {
		return interfaces.ErrAttachmentNotFound
	}
	att.CreatedAt = existing.CreatedAt
	att.UpdatedAt = s.now()
	s.records[att.ID] = detached(att)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return interfaces.ErrAttachmentNotFound
	}
	delete(s.records, id)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id int64) (*interfaces.Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	att, ok := s.records[id]
	if !ok {
		return nil, interfaces.ErrAttachmentNotFound
	}
	return detached(att), nil
}

func (s *MemoryStore) FindInRelationship(ctx context.Context, owner interfaces.Owner, relationship string, id int64) (*interfaces.Attachment, error) {
	att, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if att.Owner != owner || att.Relationship != relationship {
		return nil, interfaces.ErrAttachmentNotFound
	}
	return att, nil
}

func (s *MemoryStore) MaxPosition(ctx context.Context, owner interfaces.Owner, relationship string) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	maxPos, found := 0, false
	for _, att := range s.records {
		if att.Owner != owner || att.Relationship != relationship || att.Position == nil {
			continue
		}
		if !found || *att.Position > maxPos {
			maxPos, found = *att.Position, true
		}
	}
	return maxPos, found, nil
}

func (s *MemoryStore) ListByOwner(ctx context.Context, owner interfaces.Owner, relationship string) ([]*interfaces.Attachment, error) {
	s.mu.Lock()
	var result []*interfaces.Attachment
	for _, att := range s.records {
		if att.Owner == owner && att.Relationship == relationship {
			result = append(result, detached(att))
		}
	}
	s.mu.Unlock()

	slices.SortFunc(result, func(a, b *interfaces.Attachment) int {
		if c := comparePositions(a.Position, b.Position); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return result, nil
}

func (s *MemoryStore) List(ctx context.Context, afterID int64, limit int) ([]*interfaces.Attachment, error) {
	s.mu.Lock()
	var result []*interfaces.Attachment
	for id, att := range s.records {
		if id > afterID {
			result = append(result, detached(att))
		}
	}
	s.mu.Unlock()

	slices.SortFunc(result, func(a, b *interfaces.Attachment) int {
		return cmp.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// WithLock serializes callers per record id. The lock is not reentrant.
func (s *MemoryStore) WithLock(ctx context.Context, id int64, fn func(ctx context.Context, tx interfaces.MetadataStore, current *interfaces.Attachment) error) error {
	lock := s.lockFor(id)
	select {
	case lock <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-lock }()

	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return fn(ctx, s, current)
}

func (s *MemoryStore) lockFor(id int64) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	lock, ok := s.locks[id]
	if !ok {
		lock = make(chan struct{}, 1)
		s.locks[id] = lock
	}
	return lock
}

// detached copies a stored record without any pending-data handle.
func detached(att *interfaces.Attachment) *interfaces.Attachment {
	c := att.Clone()
	c.ClearPendingData()
	return c
}

// comparePositions orders unset positions last.
func comparePositions(a, b *int) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	default:
		return cmp.Compare(*a, *b)
	}
}
