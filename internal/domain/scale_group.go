package domain

import "time"

// Scale group states.
const (
	GroupActive  = "active"
	GroupStopped = "stopped"
)

// ScaleGroup tracks a multi-replica orchestrated deployment of a project.
// While active it supersedes the project's individual container records.
type ScaleGroup struct {
	ID               string            `json:"group_id"`
	ProjectID        string            `json:"project_id"`
	ServiceName      string            `json:"service_name"`
	ServiceID        string            `json:"service_id"`
	DesiredInstances int               `json:"desired_instances"`
	AppPort          int               `json:"app_port"`
	HostPort         int               `json:"host_port"`
	Image            string            `json:"image"`
	Environment      map[string]string `json:"environment"`
	Command          string            `json:"command,omitempty"`
	Status           string            `json:"status"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}
