package domain

import "time"

// Lifecycle event types published to streaming clients.
const (
	EventDeployed   = "deployed"
	EventScaled     = "scaled"
	EventRedeployed = "redeployed"
	EventStopped    = "stopped"
	EventRemoved    = "removed"
	EventFailed     = "failed"
)

// Event describes a completed lifecycle transition of a project.
type Event struct {
	Type        string    `json:"type"`
	ProjectID   string    `json:"project_id"`
	ProjectName string    `json:"project_name,omitempty"`
	ContainerID string    `json:"container_id,omitempty"`
	ServiceName string    `json:"service_name,omitempty"`
	Message     string    `json:"message"`
	At          time.Time `json:"at"`
}
