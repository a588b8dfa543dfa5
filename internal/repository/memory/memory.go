// Package memory provides an in-process repository.Store. Writes are visible
// immediately but are not durable; it backs tests and local experiments.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jnoller/racer/internal/domain"
	"github.com/jnoller/racer/internal/repository"
)

// Store implements repository.Store in memory.
type Store struct {
	mu         sync.RWMutex
	projects   []domain.Project
	containers []domain.ContainerRecord
	groups     []domain.ScaleGroup
	nextRowID  int64
	now        func() time.Time
}

var _ repository.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{now: time.Now}
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error { return nil }

// UpsertProject returns the existing id or inserts a new project.
func (s *Store) UpsertProject(ctx context.Context, project *domain.Project) (string, error) {
	if project == nil || strings.TrimSpace(project.Name) == "" {
		return "", repository.ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if project.ID != "" {
		if idx := s.projectIndex(project.ID); idx >= 0 {
			return project.ID, nil
		}
	} else {
		project.ID = uuid.NewString()
	}
	if project.CreatedAt.IsZero() {
		project.CreatedAt = s.now().UTC()
	}
	s.projects = append(s.projects, *project)
	return project.ID, nil
}

// FindProjectByID returns the project, including soft-deleted ones.
func (s *Store) FindProjectByID(ctx context.Context, projectID string) (*domain.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.projectIndex(projectID)
	if idx < 0 {
		return nil, repository.ErrNotFound
	}
	p := s.projects[idx]
	return &p, nil
}

// FindProjectsByName returns live projects with the exact name in insertion order.
func (s *Store) FindProjectsByName(ctx context.Context, name string) ([]domain.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Project
	for _, p := range s.projects {
		if p.Name == name && !p.Deleted() {
			out = append(out, p)
		}
	}
	return out, nil
}

// ListProjects returns live projects in insertion order.
func (s *Store) ListProjects(ctx context.Context) ([]domain.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Project, 0, len(s.projects))
	for _, p := range s.projects {
		if !p.Deleted() {
			out = append(out, p)
		}
	}
	return out, nil
}

// SoftDeleteProject marks the project deleted.
func (s *Store) SoftDeleteProject(ctx context.Context, projectID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.projectIndex(projectID)
	if idx < 0 {
		return repository.ErrNotFound
	}
	if s.projects[idx].DeletedAt == nil {
		ts := at.UTC()
		s.projects[idx].DeletedAt = &ts
	}
	return nil
}

// RecordContainer inserts a container record.
func (s *Store) RecordContainer(ctx context.Context, record *domain.ContainerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertContainer(record)
}

// ReplaceContainer swaps a record atomically.
func (s *Store) ReplaceContainer(ctx context.Context, oldContainerID string, next *domain.ContainerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := append([]domain.ContainerRecord(nil), s.containers...)
	s.removeContainer(oldContainerID)
	if err := s.insertContainer(next); err != nil {
		s.containers = snapshot
		return err
	}
	return nil
}

func (s *Store) insertContainer(record *domain.ContainerRecord) error {
	if record == nil || strings.TrimSpace(record.ContainerID) == "" {
		return repository.ErrInvalidArgument
	}
	if s.projectIndex(record.ProjectID) < 0 {
		return repository.ErrNotFound
	}
	for _, c := range s.containers {
		if c.ContainerID == record.ContainerID {
			return repository.ErrConflict
		}
		if record.Active() && c.Active() && record.HostPort != 0 && c.HostPort == record.HostPort {
			return repository.ErrConflict
		}
	}
	s.nextRowID++
	record.ID = s.nextRowID
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.now().UTC()
	}
	stored := *record
	stored.Environment = domain.CloneEnv(record.Environment)
	s.containers = append(s.containers, stored)
	return nil
}

// FindContainer returns the record for a runtime container id.
func (s *Store) FindContainer(ctx context.Context, containerID string) (*domain.ContainerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.containers {
		if c.ContainerID == containerID {
			out := c
			out.Environment = domain.CloneEnv(c.Environment)
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

// ListProjectContainers returns the project's records in insertion order.
func (s *Store) ListProjectContainers(ctx context.Context, projectID string) ([]domain.ContainerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ContainerRecord
	for _, c := range s.containers {
		if c.ProjectID == projectID {
			c.Environment = domain.CloneEnv(c.Environment)
			out = append(out, c)
		}
	}
	return out, nil
}

// ListContainers returns every record in insertion order.
func (s *Store) ListContainers(ctx context.Context) ([]domain.ContainerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ContainerRecord, 0, len(s.containers))
	for _, c := range s.containers {
		c.Environment = domain.CloneEnv(c.Environment)
		out = append(out, c)
	}
	return out, nil
}

// UpdateContainerStatus sets the cached status and lifecycle timestamps.
func (s *Store) UpdateContainerStatus(ctx context.Context, containerID, status string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.containers {
		c := &s.containers[i]
		if c.ContainerID != containerID {
			continue
		}
		if domain.IsActiveStatus(status) && !c.Active() && c.HostPort != 0 {
			for _, other := range s.containers {
				if other.ContainerID != containerID && other.Active() && other.HostPort == c.HostPort {
					return repository.ErrConflict
				}
			}
		}
		c.Status = status
		ts := at.UTC()
		switch status {
		case domain.StatusRunning:
			if c.StartedAt == nil {
				c.StartedAt = &ts
			}
		case domain.StatusStopped, domain.StatusFailed:
			c.StoppedAt = &ts
		}
		return nil
	}
	return repository.ErrNotFound
}

// DeleteContainer removes a record; missing records are ignored.
func (s *Store) DeleteContainer(ctx context.Context, containerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeContainer(containerID)
	return nil
}

// DeleteStoppedContainers removes and returns every stopped or failed record.
func (s *Store) DeleteStoppedContainers(ctx context.Context) ([]domain.ContainerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []domain.ContainerRecord
	kept := s.containers[:0]
	for _, c := range s.containers {
		if c.Status == domain.StatusStopped || c.Status == domain.StatusFailed {
			removed = append(removed, c)
			continue
		}
		kept = append(kept, c)
	}
	s.containers = kept
	return removed, nil
}

// ActiveHostPorts lists ports held by active containers and groups, ascending.
func (s *Store) ActiveHostPorts(ctx context.Context) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ports []int
	for _, c := range s.containers {
		if c.Active() && c.HostPort != 0 {
			ports = append(ports, c.HostPort)
		}
	}
	for _, g := range s.groups {
		if g.Status == domain.GroupActive && g.HostPort != 0 {
			ports = append(ports, g.HostPort)
		}
	}
	sort.Ints(ports)
	return ports, nil
}

// SaveScaleGroup inserts or updates a group.
func (s *Store) SaveScaleGroup(ctx context.Context, group *domain.ScaleGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveGroup(group)
}

func (s *Store) saveGroup(group *domain.ScaleGroup) error {
	if group == nil || group.DesiredInstances < 1 || strings.TrimSpace(group.ServiceName) == "" {
		return repository.ErrInvalidArgument
	}
	if s.projectIndex(group.ProjectID) < 0 {
		return repository.ErrNotFound
	}
	if group.ID == "" {
		group.ID = uuid.NewString()
	}
	now := s.now().UTC()
	if group.CreatedAt.IsZero() {
		group.CreatedAt = now
	}
	group.UpdatedAt = now
	for _, g := range s.groups {
		if g.ID == group.ID || g.Status != domain.GroupActive || group.Status != domain.GroupActive {
			continue
		}
		if g.ProjectID == group.ProjectID || (group.HostPort != 0 && g.HostPort == group.HostPort) {
			return repository.ErrConflict
		}
	}
	stored := *group
	stored.Environment = domain.CloneEnv(group.Environment)
	for i := range s.groups {
		if s.groups[i].ID == group.ID {
			stored.CreatedAt = s.groups[i].CreatedAt
			s.groups[i] = stored
			return nil
		}
	}
	s.groups = append(s.groups, stored)
	return nil
}

// SupersedeContainers saves the group and deletes the given container rows together.
func (s *Store) SupersedeContainers(ctx context.Context, group *domain.ScaleGroup, containerIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	containers := append([]domain.ContainerRecord(nil), s.containers...)
	for _, id := range containerIDs {
		s.removeContainer(id)
	}
	if err := s.saveGroup(group); err != nil {
		s.containers = containers
		return err
	}
	return nil
}

// ActiveScaleGroup returns the project's active group.
func (s *Store) ActiveScaleGroup(ctx context.Context, projectID string) (*domain.ScaleGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, g := range s.groups {
		if g.ProjectID == projectID && g.Status == domain.GroupActive {
			out := g
			out.Environment = domain.CloneEnv(g.Environment)
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

// FindScaleGroupByService returns the newest group for a service name.
func (s *Store) FindScaleGroupByService(ctx context.Context, serviceName string) (*domain.ScaleGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.groups) - 1; i >= 0; i-- {
		if s.groups[i].ServiceName == serviceName {
			out := s.groups[i]
			out.Environment = domain.CloneEnv(out.Environment)
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

// ListScaleGroups returns every group in insertion order.
func (s *Store) ListScaleGroups(ctx context.Context) ([]domain.ScaleGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ScaleGroup, 0, len(s.groups))
	for _, g := range s.groups {
		g.Environment = domain.CloneEnv(g.Environment)
		out = append(out, g)
	}
	return out, nil
}

// UpdateScaleGroupStatus changes a group's status.
func (s *Store) UpdateScaleGroupStatus(ctx context.Context, groupID, status string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.groups {
		if s.groups[i].ID == groupID {
			s.groups[i].Status = status
			s.groups[i].UpdatedAt = at.UTC()
			return nil
		}
	}
	return repository.ErrNotFound
}

// DeleteScaleGroup removes a group; missing groups are ignored.
func (s *Store) DeleteScaleGroup(ctx context.Context, groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.groups {
		if s.groups[i].ID == groupID {
			s.groups = append(s.groups[:i], s.groups[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *Store) projectIndex(id string) int {
	for i, p := range s.projects {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) removeContainer(containerID string) {
	for i, c := range s.containers {
		if c.ContainerID == containerID {
			s.containers = append(s.containers[:i:i], s.containers[i+1:]...)
			return
		}
	}
}
