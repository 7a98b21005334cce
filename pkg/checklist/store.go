package checklist

import (
	"context"
	"sort"
	"sync"
	"time"

	"coachcall-server/pkg/errors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Repository defines the persistence contract for checklist items
type Repository interface {
	InsertItem(ctx context.Context, item *Item) error
	UpdateItem(ctx context.Context, item *Item) error
	DeleteItem(ctx context.Context, id string) error
	ListItems(ctx context.Context) ([]*Item, error)

	// SaveOrder persists display orders for the given items atomically
	SaveOrder(ctx context.Context, orders map[string]int) error
}

// Store manages checklist item definitions. It keeps an in-memory cache of
// all items and writes through to the repository. Display orders within the
// active set are kept dense (0..n-1) across every mutation.
type Store struct {
	logger *logrus.Entry
	repo   Repository

	mutex sync.RWMutex
	items map[string]*Item
}

// NewStore creates a checklist store and loads existing items from the repository
func NewStore(repo Repository, logger *logrus.Logger) (*Store, error) {
	store := &Store{
		logger: logger.WithField("component", "checklist_store"),
		repo:   repo,
		items:  make(map[string]*Item),
	}

	if repo != nil {
		items, err := repo.ListItems(context.Background())
		if err != nil {
			return nil, errors.Wrap(err, "failed to load checklist items")
		}
		for _, item := range items {
			store.items[item.ID] = item
		}
		store.logger.WithField("count", len(items)).Info("Loaded checklist items")
	}

	return store, nil
}

// Create validates and adds a new checklist item, placing it at the end of
// the active ordering when active
func (s *Store) Create(ctx context.Context, item *Item) (*Item, error) {
	if err := item.Validate(); err != nil {
		return nil, err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if _, exists := s.items[item.ID]; exists {
		return nil, errors.Wrap(errors.ErrAlreadyExists, "checklist item already exists",
			map[string]interface{}{"item_id": item.ID})
	}

	now := time.Now()
	item.CreatedAt = now
	item.UpdatedAt = now
	if item.IsActive {
		item.DisplayOrder = s.activeCountLocked()
	}

	if s.repo != nil {
		if err := s.repo.InsertItem(ctx, item); err != nil {
			return nil, errors.Wrap(err, "failed to persist checklist item")
		}
	}

	s.items[item.ID] = item
	s.logger.WithFields(logrus.Fields{
		"item_id":  item.ID,
		"category": item.Category,
		"required": item.IsRequired,
	}).Info("Checklist item created")

	return item.Clone(), nil
}

// Update validates and replaces an existing item's editable fields. Active
// flag changes go through SetActive so the ordering stays dense.
func (s *Store) Update(ctx context.Context, item *Item) (*Item, error) {
	if err := item.Validate(); err != nil {
		return nil, err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	existing, ok := s.items[item.ID]
	if !ok {
		return nil, errors.NewItemNotFound(item.ID)
	}

	updated := existing.Clone()
	updated.Question = item.Question
	updated.Description = item.Description
	updated.Category = item.Category
	updated.Keywords = item.Keywords
	updated.SuggestedResponse = item.SuggestedResponse
	updated.IsRequired = item.IsRequired
	updated.UpdatedAt = time.Now()

	if s.repo != nil {
		if err := s.repo.UpdateItem(ctx, updated); err != nil {
			return nil, errors.Wrap(err, "failed to persist checklist item")
		}
	}

	s.items[item.ID] = updated
	return updated.Clone(), nil
}

// Delete removes an item and compacts the remaining active ordering
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.items[id]; !ok {
		return errors.NewItemNotFound(id)
	}

	if s.repo != nil {
		if err := s.repo.DeleteItem(ctx, id); err != nil {
			return errors.Wrap(err, "failed to delete checklist item")
		}
	}

	delete(s.items, id)
	if err := s.compactOrderLocked(ctx); err != nil {
		return err
	}

	s.logger.WithField("item_id", id).Info("Checklist item deleted")
	return nil
}

// SetActive toggles an item's active flag. Activating appends the item to
// the end of the active ordering; deactivating compacts the remainder.
func (s *Store) SetActive(ctx context.Context, id string, active bool) (*Item, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	item, ok := s.items[id]
	if !ok {
		return nil, errors.NewItemNotFound(id)
	}

	if item.IsActive == active {
		return item.Clone(), nil
	}

	updated := item.Clone()
	updated.IsActive = active
	updated.UpdatedAt = time.Now()
	if active {
		updated.DisplayOrder = s.activeCountLocked()
	}

	if s.repo != nil {
		if err := s.repo.UpdateItem(ctx, updated); err != nil {
			return nil, errors.Wrap(err, "failed to persist checklist item")
		}
	}

	s.items[id] = updated
	if !active {
		if err := s.compactOrderLocked(ctx); err != nil {
			return nil, err
		}
	}

	return updated.Clone(), nil
}

// SetRequired toggles an item's required flag
func (s *Store) SetRequired(ctx context.Context, id string, required bool) (*Item, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	item, ok := s.items[id]
	if !ok {
		return nil, errors.NewItemNotFound(id)
	}

	updated := item.Clone()
	updated.IsRequired = required
	updated.UpdatedAt = time.Now()

	if s.repo != nil {
		if err := s.repo.UpdateItem(ctx, updated); err != nil {
			return nil, errors.Wrap(err, "failed to persist checklist item")
		}
	}

	s.items[id] = updated
	return updated.Clone(), nil
}

// Reorder applies an explicit full ordering of active item ids. The id set
// must be exactly the current active set; anything else is rejected and the
// original order is preserved.
func (s *Store) Reorder(ctx context.Context, ids []string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	active := s.activeItemsLocked()
	if len(ids) != len(active) {
		return errors.NewInvalidReorder("id count does not match active set",
			map[string]interface{}{"submitted": len(ids), "active": len(active)})
	}

	activeByID := make(map[string]*Item, len(active))
	for _, item := range active {
		activeByID[item.ID] = item
	}

	orders := make(map[string]int, len(ids))
	for position, id := range ids {
		if _, ok := activeByID[id]; !ok {
			return errors.NewInvalidReorder("id is not in the active set",
				map[string]interface{}{"item_id": id})
		}
		if _, dup := orders[id]; dup {
			return errors.NewInvalidReorder("duplicate id",
				map[string]interface{}{"item_id": id})
		}
		orders[id] = position
	}

	if s.repo != nil {
		if err := s.repo.SaveOrder(ctx, orders); err != nil {
			return errors.Wrap(err, "failed to persist checklist order")
		}
	}

	now := time.Now()
	for id, position := range orders {
		updated := s.items[id].Clone()
		updated.DisplayOrder = position
		updated.UpdatedAt = now
		s.items[id] = updated
	}

	s.logger.WithField("count", len(ids)).Info("Checklist reordered")
	return nil
}

// Get returns a copy of an item by id
func (s *Store) Get(id string) (*Item, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil, errors.NewItemNotFound(id)
	}
	return item.Clone(), nil
}

// ActiveItems returns copies of all active items ordered by display order
func (s *Store) ActiveItems() []*Item {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	items := s.activeItemsLocked()
	result := make([]*Item, len(items))
	for i, item := range items {
		result[i] = item.Clone()
	}
	return result
}

// AllItems returns copies of every item, active first by display order, then
// inactive by question
func (s *Store) AllItems() []*Item {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	result := make([]*Item, 0, len(s.items))
	for _, item := range s.items {
		result = append(result, item.Clone())
	}
	sort.Slice(result, func(a, b int) bool {
		if result[a].IsActive != result[b].IsActive {
			return result[a].IsActive
		}
		if result[a].IsActive {
			return result[a].DisplayOrder < result[b].DisplayOrder
		}
		return result[a].Question < result[b].Question
	})
	return result
}

// activeItemsLocked returns active items sorted by display order.
// Caller must hold the mutex.
func (s *Store) activeItemsLocked() []*Item {
	active := make([]*Item, 0, len(s.items))
	for _, item := range s.items {
		if item.IsActive {
			active = append(active, item)
		}
	}
	sort.Slice(active, func(a, b int) bool {
		return active[a].DisplayOrder < active[b].DisplayOrder
	})
	return active
}

func (s *Store) activeCountLocked() int {
	count := 0
	for _, item := range s.items {
		if item.IsActive {
			count++
		}
	}
	return count
}

// compactOrderLocked reassigns dense display orders to the active set after
// a delete or deactivation. Caller must hold the mutex.
func (s *Store) compactOrderLocked(ctx context.Context) error {
	active := s.activeItemsLocked()

	orders := make(map[string]int, len(active))
	changed := false
	for position, item := range active {
		orders[item.ID] = position
		if item.DisplayOrder != position {
			changed = true
		}
	}
	if !changed {
		return nil
	}

	if s.repo != nil {
		if err := s.repo.SaveOrder(ctx, orders); err != nil {
			return errors.Wrap(err, "failed to persist checklist order")
		}
	}

	for id, position := range orders {
		updated := s.items[id].Clone()
		updated.DisplayOrder = position
		s.items[id] = updated
	}
	return nil
}
