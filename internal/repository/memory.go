package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"capora-backend/internal/models"
)

// MemoryStore is an in-process store with the same semantics as
// PostgresStore. Reads return copies; a missing item yields pgx.ErrNoRows.
type MemoryStore struct {
	mu       sync.Mutex
	items    map[uuid.UUID]*models.ContentItem
	variants map[uuid.UUID]map[models.Platform]models.VideoVariant
	results  map[uuid.UUID][]models.PublishResult
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:    make(map[uuid.UUID]*models.ContentItem),
		variants: make(map[uuid.UUID]map[models.Platform]models.VideoVariant),
		results:  make(map[uuid.UUID][]models.PublishResult),
		now:      time.Now,
	}
}

func cloneItem(c *models.ContentItem) *models.ContentItem {
	out := *c
	out.Platforms = append([]models.Platform(nil), c.Platforms...)
	out.Hashtags = append([]string{}, c.Hashtags...)
	out.Variants = nil
	out.PublishResults = nil
	return &out
}

func (s *MemoryStore) CreateContent(_ context.Context, c *models.ContentItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Hashtags == nil {
		c.Hashtags = []string{}
	}
	now := s.now()
	c.CreatedAt = now
	c.UpdatedAt = now
	s.items[c.ID] = cloneItem(c)
	return nil
}

func (s *MemoryStore) GetContent(_ context.Context, id uuid.UUID) (*models.ContentItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.items[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return cloneItem(c), nil
}

func (s *MemoryStore) ListContent(_ context.Context, userID uuid.UUID, status *models.ContentStatus, limit, offset int) ([]*models.ContentItem, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*models.ContentItem
	for _, c := range s.items {
		if c.UserID != userID {
			continue
		}
		if status != nil && c.Status != *status {
			continue
		}
		matched = append(matched, cloneItem(c))
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID.String() < matched[j].ID.String()
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return matched[offset:end], total, nil
}

func (s *MemoryStore) CompareAndSetStatus(_ context.Context, id uuid.UUID, from, to models.ContentStatus, errMsg *string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.items[id]
	if !ok || c.Status != from {
		return false, nil
	}
	c.Status = to
	c.ErrorMessage = errMsg
	c.UpdatedAt = s.now()
	return true, nil
}

func (s *MemoryStore) BeginPublish(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.items[id]
	if !ok || c.Publishing || !models.IsPublishable(c.Status) {
		return false, nil
	}
	c.Publishing = true
	c.UpdatedAt = s.now()
	return true, nil
}

func (s *MemoryStore) EndPublish(_ context.Context, id uuid.UUID, status models.ContentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.items[id]
	if !ok {
		return pgx.ErrNoRows
	}
	c.Publishing = false
	c.Status = status
	c.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) ReleasePublish(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.items[id]; ok {
		c.Publishing = false
		c.UpdatedAt = s.now()
	}
	return nil
}

func (s *MemoryStore) UpdateCaption(_ context.Context, id uuid.UUID, caption string, hashtags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.items[id]
	if !ok {
		return pgx.ErrNoRows
	}
	c.Caption = &caption
	c.Hashtags = append([]string{}, hashtags...)
	c.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) UpsertVariant(_ context.Context, v *models.VideoVariant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[v.ContentID]; !ok {
		return pgx.ErrNoRows
	}
	byPlatform, ok := s.variants[v.ContentID]
	if !ok {
		byPlatform = make(map[models.Platform]models.VideoVariant)
		s.variants[v.ContentID] = byPlatform
	}

	now := s.now()
	if existing, ok := byPlatform[v.Platform]; ok {
		v.ID = existing.ID
		v.CreatedAt = existing.CreatedAt
	} else {
		if v.ID == uuid.Nil {
			v.ID = uuid.New()
		}
		v.CreatedAt = now
	}
	v.UpdatedAt = now
	if v.ValidationIssues == nil {
		v.ValidationIssues = []string{}
	}

	stored := *v
	stored.ValidationIssues = append([]string{}, v.ValidationIssues...)
	byPlatform[v.Platform] = stored
	return nil
}

func (s *MemoryStore) ListVariants(_ context.Context, contentID uuid.UUID) ([]models.VideoVariant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []models.VideoVariant{}
	for _, v := range s.variants[contentID] {
		v.ValidationIssues = append([]string{}, v.ValidationIssues...)
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Platform < out[j].Platform })
	return out, nil
}

func (s *MemoryStore) InsertPublishResult(_ context.Context, pr *models.PublishResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[pr.ContentID]; !ok {
		return pgx.ErrNoRows
	}
	if pr.ID == uuid.Nil {
		pr.ID = uuid.New()
	}
	pr.AttemptedAt = s.now()
	s.results[pr.ContentID] = append(s.results[pr.ContentID], *pr)
	return nil
}

func (s *MemoryStore) ListPublishResults(_ context.Context, contentID uuid.UUID) ([]models.PublishResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]models.PublishResult{}, s.results[contentID]...), nil
}
