// Package tasks is the typed façade over the task endpoints. It keeps a
// cached copy of the task list, reconciled against the server-returned
// entity after every mutation. The cache is never the source of truth and
// is left untouched when a call fails.
package tasks

import (
	"context"
	"fmt"
	"sync"

	"todo-client/internal/api"
	"todo-client/internal/models"
)

type listResponse struct {
	Tasks []models.Task `json:"tasks"`
	Total int           `json:"total"`
}

type taskResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Task models.Task `json:"task"`
	} `json:"data"`
	Message string `json:"message"`
}

// Service issues task requests through the shared client.
type Service struct {
	client *api.Client

	mu    sync.Mutex
	cache []models.Task
}

// NewService creates a task Service with an empty cache.
func NewService(client *api.Client) *Service {
	return &Service{client: client}
}

// List fetches all tasks for the authenticated user and replaces the cache
// wholesale.
func (s *Service) List(ctx context.Context) ([]models.Task, error) {
	var resp listResponse
	if err := s.client.Get(ctx, "/api/todos/tasks", &resp); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache = append([]models.Task(nil), resp.Tasks...)
	s.mu.Unlock()
	return append([]models.Task(nil), resp.Tasks...), nil
}

// Get fetches a single task by id. The cache is not touched; only
// mutations reconcile.
func (s *Service) Get(ctx context.Context, id int64) (*models.Task, error) {
	var resp taskResponse
	if err := s.client.Get(ctx, fmt.Sprintf("/api/todos/tasks/%d", id), &resp); err != nil {
		return nil, err
	}
	task := resp.Data.Task
	return &task, nil
}

// Create creates a task and appends the server-returned entity to the cache.
func (s *Service) Create(ctx context.Context, data models.CreateTask) (*models.Task, error) {
	var resp taskResponse
	if err := s.client.Post(ctx, "/api/todos/tasks", data, &resp); err != nil {
		return nil, err
	}

	task := resp.Data.Task
	s.mu.Lock()
	s.cache = append(s.cache, task)
	s.mu.Unlock()
	return &task, nil
}

// Update updates a task and replaces the matching cache entry with the
// server-returned entity. Entries with other ids are untouched.
func (s *Service) Update(ctx context.Context, id int64, data models.UpdateTask) (*models.Task, error) {
	var resp taskResponse
	if err := s.client.Put(ctx, fmt.Sprintf("/api/todos/tasks/%d", id), data, &resp); err != nil {
		return nil, err
	}

	task := resp.Data.Task
	s.replace(task)
	return &task, nil
}

// Toggle sets a task's completion flag and reconciles like Update.
func (s *Service) Toggle(ctx context.Context, id int64, completed bool) (*models.Task, error) {
	payload := struct {
		Completed bool `json:"completed"`
	}{Completed: completed}

	var resp taskResponse
	if err := s.client.Patch(ctx, fmt.Sprintf("/api/todos/tasks/%d/complete", id), payload, &resp); err != nil {
		return nil, err
	}

	task := resp.Data.Task
	s.replace(task)
	return &task, nil
}

// Delete removes a task and drops it from the cache.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.client.Delete(ctx, fmt.Sprintf("/api/todos/tasks/%d", id), nil); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.cache[:0]
	for _, t := range s.cache {
		if t.ID != id {
			kept = append(kept, t)
		}
	}
	s.cache = kept
	return nil
}

func (s *Service) replace(task models.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.cache {
		if t.ID == task.ID {
			s.cache[i] = task
			return
		}
	}
}

// Cached returns a copy of the cached task list.
func (s *Service) Cached() []models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Task(nil), s.cache...)
}
