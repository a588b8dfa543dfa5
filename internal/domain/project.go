package domain

import "time"

// Project is a logical, named deployable unit. Names may repeat across projects.
type Project struct {
	ID        string     `json:"project_id"`
	Name      string     `json:"project_name"`
	Source    string     `json:"source"`
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Deleted reports whether the project was soft-deleted.
func (p Project) Deleted() bool {
	return p.DeletedAt != nil
}
