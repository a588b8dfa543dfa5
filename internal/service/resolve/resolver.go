// Package resolve maps user-supplied references onto persisted projects.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jnoller/racer/internal/apperr"
	"github.com/jnoller/racer/internal/domain"
	"github.com/jnoller/racer/internal/repository"
)

const minContainerPrefix = 4

// Reference identifies a project by id, by one of its containers or by name.
// When several fields are set the first non-empty one in that order wins.
type Reference struct {
	ProjectID   string `json:"project_id,omitempty"`
	ContainerID string `json:"container_id,omitempty"`
	Name        string `json:"project_name,omitempty"`
}

// Empty reports whether r selects list mode.
func (r Reference) Empty() bool {
	return strings.TrimSpace(r.ProjectID) == "" && strings.TrimSpace(r.ContainerID) == "" && strings.TrimSpace(r.Name) == ""
}

// String returns the effective reference value.
func (r Reference) String() string {
	switch {
	case strings.TrimSpace(r.ProjectID) != "":
		return strings.TrimSpace(r.ProjectID)
	case strings.TrimSpace(r.ContainerID) != "":
		return strings.TrimSpace(r.ContainerID)
	default:
		return strings.TrimSpace(r.Name)
	}
}

// ByName reports whether r resolves through the project name.
func (r Reference) ByName() bool {
	return strings.TrimSpace(r.ProjectID) == "" && strings.TrimSpace(r.ContainerID) == "" && strings.TrimSpace(r.Name) != ""
}

// Target is a resolved project, plus the container when resolved by container id.
type Target struct {
	Project   domain.Project
	Container *domain.ContainerRecord
}

// Store is the read side of the repository the resolver needs.
type Store interface {
	FindProjectByID(ctx context.Context, projectID string) (*domain.Project, error)
	FindProjectsByName(ctx context.Context, name string) ([]domain.Project, error)
	ListProjects(ctx context.Context) ([]domain.Project, error)
	FindContainer(ctx context.Context, containerID string) (*domain.ContainerRecord, error)
	ListContainers(ctx context.Context) ([]domain.ContainerRecord, error)
}

// Resolver looks up projects. It never writes.
type Resolver struct {
	store Store
}

// New constructs a Resolver.
func New(store Store) *Resolver {
	return &Resolver{store: store}
}

// ResolveAll returns every live project matching ref, or all live projects when ref is empty.
func (r *Resolver) ResolveAll(ctx context.Context, ref Reference) ([]Target, error) {
	const op = "resolve"
	switch {
	case ref.Empty():
		projects, err := r.store.ListProjects(ctx)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, op, "", err)
		}
		return targets(projects), nil
	case strings.TrimSpace(ref.ProjectID) != "":
		t, err := r.byProjectID(ctx, strings.TrimSpace(ref.ProjectID))
		if err != nil {
			return nil, err
		}
		return []Target{t}, nil
	case strings.TrimSpace(ref.ContainerID) != "":
		t, err := r.byContainer(ctx, strings.TrimSpace(ref.ContainerID))
		if err != nil {
			return nil, err
		}
		return []Target{t}, nil
	default:
		return r.byName(ctx, strings.TrimSpace(ref.Name))
	}
}

// ResolveOne returns the single project ref identifies. A name shared by
// several live projects yields an AmbiguousReferenceError.
func (r *Resolver) ResolveOne(ctx context.Context, ref Reference) (Target, error) {
	if ref.Empty() {
		return Target{}, apperr.New(apperr.KindValidation, "resolve", "", "one of project_id, container_id or project_name is required")
	}
	matches, err := r.ResolveAll(ctx, ref)
	if err != nil {
		return Target{}, err
	}
	if len(matches) > 1 {
		ids := make([]string, 0, len(matches))
		for _, m := range matches {
			ids = append(ids, m.Project.ID)
		}
		msg := fmt.Sprintf("%d projects match; use project_id (one of %s)", len(matches), strings.Join(ids, ", "))
		return Target{}, apperr.New(apperr.KindAmbiguous, "resolve", ref.String(), msg)
	}
	return matches[0], nil
}

func (r *Resolver) byProjectID(ctx context.Context, id string) (Target, error) {
	project, err := r.store.FindProjectByID(ctx, id)
	if err != nil {
		return Target{}, lookupError(id, err)
	}
	if project.Deleted() {
		return Target{}, apperr.New(apperr.KindNotFound, "resolve", id, "project was removed")
	}
	return Target{Project: *project}, nil
}

func (r *Resolver) byContainer(ctx context.Context, containerID string) (Target, error) {
	record, err := r.store.FindContainer(ctx, containerID)
	if errors.Is(err, repository.ErrNotFound) {
		record, err = r.byContainerPrefix(ctx, containerID)
	}
	if err != nil {
		return Target{}, lookupError(containerID, err)
	}
	project, err := r.store.FindProjectByID(ctx, record.ProjectID)
	if err != nil {
		return Target{}, lookupError(containerID, err)
	}
	if project.Deleted() {
		return Target{}, apperr.New(apperr.KindNotFound, "resolve", containerID, "project was removed")
	}
	return Target{Project: *project, Container: record}, nil
}

// byContainerPrefix matches short container ids and container names.
func (r *Resolver) byContainerPrefix(ctx context.Context, ref string) (*domain.ContainerRecord, error) {
	records, err := r.store.ListContainers(ctx)
	if err != nil {
		return nil, err
	}
	var match *domain.ContainerRecord
	for i := range records {
		rec := records[i]
		if rec.ContainerName != ref && (len(ref) < minContainerPrefix || !strings.HasPrefix(rec.ContainerID, ref)) {
			continue
		}
		if match != nil {
			return nil, apperr.New(apperr.KindAmbiguous, "resolve", ref, "container id prefix matches several containers")
		}
		match = &rec
	}
	if match == nil {
		return nil, repository.ErrNotFound
	}
	return match, nil
}

func (r *Resolver) byName(ctx context.Context, name string) ([]Target, error) {
	projects, err := r.store.FindProjectsByName(ctx, name)
	if err != nil {
		return nil, lookupError(name, err)
	}
	if len(projects) == 0 {
		if logical := ExtractName(name); logical != name {
			projects, err = r.store.FindProjectsByName(ctx, logical)
			if err != nil {
				return nil, lookupError(name, err)
			}
		}
	}
	if len(projects) == 0 {
		return nil, apperr.New(apperr.KindNotFound, "resolve", name, "no project with this name")
	}
	return targets(projects), nil
}

func targets(projects []domain.Project) []Target {
	out := make([]Target, 0, len(projects))
	for _, p := range projects {
		if p.Deleted() {
			continue
		}
		out = append(out, Target{Project: p})
	}
	return out
}

func lookupError(ref string, err error) error {
	var classified *apperr.Error
	if errors.As(err, &classified) {
		return err
	}
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.Wrap(apperr.KindNotFound, "resolve", ref, err)
	}
	return apperr.Wrap(apperr.KindInternal, "resolve", ref, err)
}
