// Package memory provides an in-memory execution store for tests and local
// development.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/conveyorhq/conveyor/pkg/models"
	"github.com/conveyorhq/conveyor/pkg/store"
)

// Store keeps executions in a map guarded by a mutex. Executions are deep
// copied on the way in and out so callers never share mutable state.
type Store struct {
	mu         sync.RWMutex
	executions map[string]*models.Execution
}

func NewStore() *Store {
	return &Store{executions: make(map[string]*models.Execution)}
}

func clone(execution *models.Execution) *models.Execution {
	raw, err := json.Marshal(execution)
	if err != nil {
		panic("execution not serializable: " + err.Error())
	}

	var copied models.Execution
	if err := json.Unmarshal(raw, &copied); err != nil {
		panic("execution not deserializable: " + err.Error())
	}

	return &copied
}

func (s *Store) Create(_ context.Context, execution *models.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.executions[execution.ID]; exists {
		return store.NewExecutionError("Create", execution.ID, store.ErrAlreadyExists)
	}

	s.executions[execution.ID] = clone(execution)

	return nil
}

func (s *Store) Load(_ context.Context, id string) (*models.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	execution, ok := s.executions[id]
	if !ok {
		return nil, store.NewExecutionError("Load", id, store.ErrNotFound)
	}

	return clone(execution), nil
}

func (s *Store) Save(_ context.Context, execution *models.Execution, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.executions[execution.ID]
	if !ok {
		return store.NewExecutionError("Save", execution.ID, store.ErrNotFound)
	}

	if stored.Version != expectedVersion {
		return store.NewExecutionError("Save", execution.ID, store.ErrVersionConflict)
	}

	saved := clone(execution)
	saved.Version = expectedVersion + 1
	s.executions[execution.ID] = saved
	execution.Version = saved.Version

	return nil
}

func (s *Store) ListByParent(_ context.Context, parentID string) ([]*models.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var branches []*models.Execution

	for _, execution := range s.executions {
		if execution.ParentID == parentID {
			branches = append(branches, clone(execution))
		}
	}

	sort.Slice(branches, func(i, j int) bool {
		return branches[i].BranchIndex < branches[j].BranchIndex
	})

	return branches, nil
}

func (s *Store) ListByStatus(_ context.Context, status models.ExecutionStatus) ([]*models.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.Execution

	for _, execution := range s.executions {
		if execution.Status == status {
			matched = append(matched, clone(execution))
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	return matched, nil
}

func (s *Store) HealthCheck(_ context.Context) error { return nil }

func (s *Store) Close(_ context.Context) error { return nil }
